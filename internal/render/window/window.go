// Package window shows the labeled video in a native OpenCV window. Importing it registers the
// window canvas with render.
package window

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/andresmejia3/facecam/internal/render"
	"github.com/andresmejia3/facecam/internal/types"
)

func init() {
	render.RegisterWindow(Factory)
}

// Canvas draws the overlay onto each frame and shows it in a window.
type Canvas struct {
	window  *gocv.Window
	display image.Point
	boxes   []render.Labeled
}

// New opens a window titled name.
func New(name string, display image.Point) *Canvas {
	w := gocv.NewWindow(name)
	w.ResizeWindow(display.X, display.Y)
	return &Canvas{window: w, display: display}
}

// Factory returns a render.Factory producing window canvases.
func Factory(name string) render.Factory {
	return func(display image.Point) (render.Canvas, error) {
		return New(name, display), nil
	}
}

func (c *Canvas) Clear() {
	c.boxes = c.boxes[:0]
}

func (c *Canvas) DrawBox(box image.Rectangle, label string) {
	c.boxes = append(c.boxes, render.Labeled{Box: box, Label: label})
}

func (c *Canvas) Flush(frame types.Frame) error {
	img, err := gocv.IMDecode(frame.Data, gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("failed to decode frame %d: %w", frame.Seq, err)
	}
	defer img.Close()
	if img.Empty() {
		return fmt.Errorf("frame %d decoded to an empty image", frame.Seq)
	}

	if img.Cols() != c.display.X || img.Rows() != c.display.Y {
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(img, &resized, c.display, 0, 0, gocv.InterpolationLinear)
		img, resized = resized, img
	}

	for _, b := range c.boxes {
		col := render.ColorFor(b.Label)
		gocv.Rectangle(&img, b.Box, col, 2)
		gocv.PutText(&img, b.Label, image.Pt(b.Box.Min.X, b.Box.Min.Y-6), gocv.FontHersheyPlain, 1.2, col, 2)
	}

	c.window.IMShow(img)
	c.window.WaitKey(1)
	return nil
}

func (c *Canvas) Close() error {
	return c.window.Close()
}
