package utils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (worker logs)
// so a crash report can include what the child printed before dying.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe.
// It prepares the command for execution but does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// SplitCommandLine splits a configured command line on whitespace.
func SplitCommandLine(line string) (string, []string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("empty command line")
	}
	return fields[0], fields[1:], nil
}

// errWriter is where ShowError prints; tests swap it.
var errWriter io.Writer = os.Stderr

// ShowError prints a framed error report and dumps the worker logs if a SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(errWriter, "\n---------------------------------------------------------\n")
	fmt.Fprintf(errWriter, "🚨 FACECAM ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(errWriter, "DETAILS: %v\n", err)
	}

	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(errWriter, "\nWORKER LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(errWriter, "---------------------------------------------------------\n")
}

// --- 2. Frame Stream ---

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// SplitJpeg is the custom splitter for bufio.Scanner.
// It locates the Start Of Image (FFD8) and End Of Image (FFD9) markers to extract full JPEG frames.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// FFmpegArgs builds the argument list that turns any ffmpeg input into a stream of MJPEG frames
// on stdout. format selects the input demuxer (e.g. v4l2, avfoundation) and may be empty.
// A non-zero width and height request that capture size from the device.
func FFmpegArgs(input, format string, width, height int) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if format != "" {
		args = append(args, "-f", format)
		if width > 0 && height > 0 {
			args = append(args, "-video_size", strconv.Itoa(width)+"x"+strconv.Itoa(height))
		}
	}
	args = append(args, "-i", input, "-an", "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-")
	return args
}

// NewFFmpegCmd creates the decoder pipe used by the ffmpeg capture source.
func NewFFmpegCmd(ctx context.Context, input, format string, width, height int) *exec.Cmd {
	return exec.CommandContext(ctx, "ffmpeg", FFmpegArgs(input, format, width, height)...)
}
