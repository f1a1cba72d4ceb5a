package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/andresmejia3/facecam/internal/types"
)

// Labeled is a box drawn on the overlay.
type Labeled struct {
	Box   image.Rectangle
	Label string
}

const strokeWidth = 2

// ImageCanvas is a transparent RGBA overlay stacked over the video, the in-memory counterpart of
// a browser canvas. When SnapshotPath is set every flush writes the composited frame there.
type ImageCanvas struct {
	SnapshotPath string

	mu      sync.Mutex
	overlay *image.RGBA
	boxes   []Labeled
}

// NewImageCanvas creates an overlay matching the display size.
func NewImageCanvas(display image.Point, snapshotPath string) *ImageCanvas {
	return &ImageCanvas{
		SnapshotPath: snapshotPath,
		overlay:      image.NewRGBA(image.Rectangle{Max: display}),
	}
}

// ImageFactory returns a Factory producing ImageCanvas overlays.
func ImageFactory(snapshotPath string) Factory {
	return func(display image.Point) (Canvas, error) {
		return NewImageCanvas(display, snapshotPath), nil
	}
}

func (c *ImageCanvas) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	draw.Draw(c.overlay, c.overlay.Bounds(), image.Transparent, image.Point{}, draw.Src)
	c.boxes = c.boxes[:0]
}

func (c *ImageCanvas) DrawBox(box image.Rectangle, label string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	col := image.NewUniform(ColorFor(label))
	b := box.Intersect(c.overlay.Bounds())
	if !b.Empty() {
		edges := []image.Rectangle{
			image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+strokeWidth),
			image.Rect(b.Min.X, b.Max.Y-strokeWidth, b.Max.X, b.Max.Y),
			image.Rect(b.Min.X, b.Min.Y, b.Min.X+strokeWidth, b.Max.Y),
			image.Rect(b.Max.X-strokeWidth, b.Min.Y, b.Max.X, b.Max.Y),
		}
		for _, e := range edges {
			draw.Draw(c.overlay, e.Intersect(b), col, image.Point{}, draw.Src)
		}
		c.drawLabel(b, label, col)
	}
	c.boxes = append(c.boxes, Labeled{Box: box, Label: label})
}

// drawLabel writes the label on a filled strip just above the box, or inside it at the top edge.
func (c *ImageCanvas) drawLabel(b image.Rectangle, label string, bg *image.Uniform) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, label).Ceil() + 4
	height := face.Metrics().Height.Ceil() + 2

	top := b.Min.Y - height
	if top < 0 {
		top = b.Min.Y
	}
	strip := image.Rect(b.Min.X, top, b.Min.X+width, top+height).Intersect(c.overlay.Bounds())
	draw.Draw(c.overlay, strip, bg, image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  c.overlay,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot:  fixed.P(strip.Min.X+2, strip.Min.Y+face.Metrics().Ascent.Ceil()+1),
	}
	d.DrawString(label)
}

// Boxes returns what has been drawn since the last Clear.
func (c *ImageCanvas) Boxes() []Labeled {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Labeled(nil), c.boxes...)
}

// Overlay returns a copy of the current overlay pixels.
func (c *ImageCanvas) Overlay() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := image.NewRGBA(c.overlay.Bounds())
	draw.Draw(out, out.Bounds(), c.overlay, image.Point{}, draw.Src)
	return out
}

func (c *ImageCanvas) Flush(frame types.Frame) error {
	if c.SnapshotPath == "" {
		return nil
	}

	img, err := imaging.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return fmt.Errorf("failed to decode frame %d: %w", frame.Seq, err)
	}

	c.mu.Lock()
	size := c.overlay.Bounds().Size()
	base := imaging.Resize(img, size.X, size.Y, imaging.Linear)
	draw.Draw(base, base.Bounds(), c.overlay, image.Point{}, draw.Over)
	c.mu.Unlock()

	// Write then rename so viewers never read a half written snapshot.
	tmp := filepath.Join(filepath.Dir(c.SnapshotPath), "."+filepath.Base(c.SnapshotPath)+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	if err := imaging.Encode(f, base, imaging.JPEG); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, c.SnapshotPath)
}

func (c *ImageCanvas) Close() error {
	return nil
}
