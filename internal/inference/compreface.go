package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/andresmejia3/facecam/internal/types"
)

// CompreFace delegates detection and descriptor extraction to a CompreFace detection service.
// The service must run a 128-d calculator model (FaceNet) so descriptors line up with dlib ones.
type CompreFace struct {
	BaseURL    string
	APIKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

type comprefaceBox struct {
	Probability float64 `json:"probability"`
	XMin        int     `json:"x_min"`
	YMin        int     `json:"y_min"`
	XMax        int     `json:"x_max"`
	YMax        int     `json:"y_max"`
}

type comprefaceFace struct {
	Box       comprefaceBox `json:"box"`
	Landmarks [][]int       `json:"landmarks"`
	Embedding []float64     `json:"embedding"`
}

type comprefaceResponse struct {
	Result []comprefaceFace `json:"result"`
}

type comprefaceError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// comprefaceNoFaceCode is the error code CompreFace answers with when an image has no face.
const comprefaceNoFaceCode = 28

// NewCompreFace creates a new CompreFace detection client.
func NewCompreFace(baseURL, apiKey string, logger *zap.Logger) *CompreFace {
	return &CompreFace{
		BaseURL: baseURL,
		APIKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Load checks that the service answers. Models live in the service so there is nothing to fetch.
func (c *CompreFace) Load(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/status", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("compreface unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("compreface unhealthy: status %d", resp.StatusCode)
	}
	c.logger.Info("compreface reachable", zap.String("url", c.BaseURL))
	return nil
}

// DetectAll detects faces in image bytes.
// POST /api/v1/detection/detect
func (c *CompreFace) DetectAll(ctx context.Context, img []byte, minConfidence float64) ([]types.Detection, error) {
	q := url.Values{}
	q.Set("det_prob_threshold", strconv.FormatFloat(minConfidence, 'f', -1, 64))
	q.Set("face_plugins", "landmarks,calculator")
	endpoint := fmt.Sprintf("%s/api/v1/detection/detect?%s", c.BaseURL, q.Encode())

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(img); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("x-api-key", c.APIKey)

	c.logger.Debug("compreface detect", zap.String("url", endpoint))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr comprefaceError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Code == comprefaceNoFaceCode {
			return nil, nil
		}
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed comprefaceResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	dets := make([]types.Detection, 0, len(parsed.Result))
	for _, f := range parsed.Result {
		desc, err := types.DescriptorFrom(f.Embedding)
		if err != nil {
			return nil, fmt.Errorf("compreface embedding of length %d: %w", len(f.Embedding), err)
		}
		det := types.Detection{
			Box:        image.Rect(f.Box.XMin, f.Box.YMin, f.Box.XMax, f.Box.YMax),
			Confidence: f.Box.Probability,
			Descriptor: desc,
		}
		for _, p := range f.Landmarks {
			if len(p) == 2 {
				det.Landmarks = append(det.Landmarks, image.Pt(p[0], p[1]))
			}
		}
		dets = append(dets, det)
	}
	return FilterConfidence(dets, minConfidence), nil
}

func (c *CompreFace) DetectSingle(ctx context.Context, img []byte, minConfidence float64) (*types.Detection, error) {
	dets, err := c.DetectAll(ctx, img, minConfidence)
	if err != nil {
		return nil, err
	}
	return Best(dets), nil
}

func (c *CompreFace) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
