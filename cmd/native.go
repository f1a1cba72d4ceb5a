//go:build !nonative

package cmd

// Native backends link against dlib and OpenCV. Build with -tags nonative for a binary that only
// offers the compreface and worker backends, ffmpeg capture and snapshot output.
import (
	_ "github.com/andresmejia3/facecam/internal/capture/webcam"
	_ "github.com/andresmejia3/facecam/internal/inference/dlib"
	_ "github.com/andresmejia3/facecam/internal/render/window"
)
