// Package render draws labeled face boxes over video frames.
package render

import (
	"errors"
	"image"
	"image/color"
	"strconv"
	"strings"

	"github.com/andresmejia3/facecam/internal/types"
)

// Canvas is an overlay that is cleared and redrawn every detection tick.
type Canvas interface {
	// Clear removes every box drawn since the last Clear.
	Clear()
	// DrawBox draws a box in display coordinates with a text label above it.
	DrawBox(box image.Rectangle, label string)
	// Flush presents the overlay composited over frame.
	Flush(frame types.Frame) error
	Close() error
}

// Factory creates the canvas once the display size is known.
type Factory func(display image.Point) (Canvas, error)

var windowFactory func(title string) Factory

// RegisterWindow installs the native window canvas. It is called by the window package.
func RegisterWindow(f func(title string) Factory) {
	windowFactory = f
}

// WindowFactory returns the native window canvas factory, if this build has one.
func WindowFactory(title string) (Factory, error) {
	if windowFactory == nil {
		return nil, errors.New("window display is not available in this build")
	}
	return windowFactory(title), nil
}

var (
	// BoxColor is used for recognized faces.
	BoxColor = color.RGBA{R: 0, G: 153, B: 255, A: 255}
	// UnknownColor is used for faces that matched no identity.
	UnknownColor = color.RGBA{R: 255, G: 64, B: 64, A: 255}
)

// ColorFor picks the box color of a label or of a caption built from it.
func ColorFor(label string) color.RGBA {
	if label == types.UnknownLabel || strings.HasPrefix(label, types.UnknownLabel+" (") {
		return UnknownColor
	}
	return BoxColor
}

// ResizeBox scales a box from the coordinate space of size from to that of size to.
// A zero-sized space leaves the box untouched.
func ResizeBox(box image.Rectangle, from, to image.Point) image.Rectangle {
	return image.Rectangle{Min: ResizePoint(box.Min, from, to), Max: ResizePoint(box.Max, from, to)}.Canon()
}

// ResizePoint scales a point the same way ResizeBox scales a corner.
func ResizePoint(p image.Point, from, to image.Point) image.Point {
	if from.X <= 0 || from.Y <= 0 || to.X <= 0 || to.Y <= 0 || from == to {
		return p
	}
	sx := float64(to.X) / float64(from.X)
	sy := float64(to.Y) / float64(from.Y)
	return image.Pt(int(float64(p.X)*sx+0.5), int(float64(p.Y)*sy+0.5))
}

// ResizeDetection moves a detection's box and landmarks into the to coordinate space.
func ResizeDetection(det types.Detection, from, to image.Point) types.Detection {
	det.Box = ResizeBox(det.Box, from, to)
	if len(det.Landmarks) > 0 {
		marks := make([]image.Point, len(det.Landmarks))
		for i, m := range det.Landmarks {
			marks[i] = ResizePoint(m, from, to)
		}
		det.Landmarks = marks
	}
	return det
}

// Caption formats the text drawn above a box, e.g. "Felipe (0.42)".
func Caption(r types.MatchResult) string {
	return r.Label + " (" + strconv.FormatFloat(r.Distance, 'f', 2, 64) + ")"
}
