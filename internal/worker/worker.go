package worker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andresmejia3/facecam/internal/types"
	"github.com/andresmejia3/facecam/internal/utils"
)

// ErrStalled is returned by every request after one went unanswered within ReadTimeout.
// The late reply would desynchronize the stream, so the worker has to be restarted.
var ErrStalled = errors.New("worker stalled")

// Request is the JSON header sent ahead of every image.
type Request struct {
	Mode          string  `json:"mode"` // "single" or "all"
	MinConfidence float64 `json:"min_confidence"`
}

// PipeWorker drives an external inference process.
// Requests go to the child's stdin, responses come back on a side-channel pipe (FD 3) so the
// child's stdout and stderr stay free for its own logging.
type PipeWorker struct {
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration

	stalled bool
}

// NewPipeWorker starts name with args and wires the protocol pipes.
func NewPipeWorker(ctx context.Context, name string, args ...string) (*PipeWorker, error) {
	proc := utils.NewSafeCommand(ctx, name, args...)

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	proc.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := proc.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := proc.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker failed to start: %w", err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PipeWorker{
		Cmd:         proc,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: 30 * time.Second,
	}, nil
}

func writeFrame(w io.Writer, data []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	body := make([]byte, binary.BigEndian.Uint32(header))
	_, err := io.ReadFull(r, body)
	return body, err
}

// Communicate sends one request and waits for its response.
// Protocol: [Length][Header JSON] [Length][Image] -> [Length][Result JSON]
// A timeout stalls the worker: the data pipe is closed, the process is killed and later calls
// fail with ErrStalled.
func (w *PipeWorker) Communicate(req Request, img []byte) ([]byte, error) {
	if w.stalled {
		return nil, ErrStalled
	}
	header, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := writeFrame(w.Stdin, header); err != nil {
		return nil, err
	}
	if err := writeFrame(w.Stdin, img); err != nil {
		return nil, err
	}

	if w.ReadTimeout <= 0 {
		return readFrame(w.DataPipe)
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := readFrame(w.DataPipe)
		done <- result{data, err}
	}()

	timer := time.NewTimer(w.ReadTimeout)
	defer timer.Stop()
	select {
	case res := <-done:
		return res.data, res.err
	case <-timer.C:
		w.stall()
		// Closing the pipe unblocks the reader so it never consumes a later reply.
		<-done
		return nil, fmt.Errorf("%w: no answer within %s", ErrStalled, w.ReadTimeout)
	}
}

func (w *PipeWorker) stall() {
	w.stalled = true
	w.DataPipe.Close()
	if w.Cmd != nil && w.Cmd.Process != nil {
		w.Cmd.Process.Kill()
	}
}

// Stalled reports whether a request timed out.
func (w *PipeWorker) Stalled() bool {
	return w.stalled
}

// Detect asks the worker for faces and decodes the result, surfacing worker side errors.
func (w *PipeWorker) Detect(img []byte, mode string, minConfidence float64) ([]types.WorkerFace, error) {
	resp, err := w.Communicate(Request{Mode: mode, MinConfidence: minConfidence}, img)
	if err != nil {
		return nil, err
	}

	var faces []types.WorkerFace
	if err := json.Unmarshal(resp, &faces); err != nil {
		var errorResult types.ErrorResult
		if json.Unmarshal(resp, &errorResult) == nil && errorResult.Error != "" {
			return nil, fmt.Errorf("worker error: %s", errorResult.Error)
		}
		return nil, fmt.Errorf("malformed worker response: %w", err)
	}
	return faces, nil
}

func (w *PipeWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		return w.Cmd.Wait()
	}
	return nil
}
