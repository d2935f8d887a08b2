package frames

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrNoFrame is returned when ffmpeg exits cleanly but produces no image,
// typically because the timepoint is past the end of the video.
var ErrNoFrame = errors.New("no frame at timepoint")

// Source extracts a single still image from a video.
type Source interface {
	Frame(ctx context.Context, path string, at time.Duration) ([]byte, error)
}

// FFmpeg extracts JPEG frames by running the ffmpeg binary.
type FFmpeg struct {
	bin   string
	width int

	mu   sync.Mutex
	last cached
}

type cached struct {
	path string
	at   time.Duration
	data []byte
}

// NewFFmpeg creates a frame source. An empty bin means "ffmpeg" on PATH.
// A positive width scales frames to that width, keeping the aspect ratio.
func NewFFmpeg(bin string, width int) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpeg{bin: bin, width: width}
}

// Frame returns the JPEG frame of path at the given offset. The most recent
// frame is cached, since the review page requests it once per render.
func (f *FFmpeg) Frame(ctx context.Context, path string, at time.Duration) ([]byte, error) {
	if at < 0 {
		return nil, fmt.Errorf("negative timepoint %s", at)
	}

	f.mu.Lock()
	if f.last.data != nil && f.last.path == path && f.last.at == at {
		data := f.last.data
		f.mu.Unlock()
		return data, nil
	}
	f.mu.Unlock()

	if !isURL(path) {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("video not accessible: %w", err)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.bin, frameArgs(path, at, f.width)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg extract frame: %w\n%s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%w %s in %s", ErrNoFrame, fmtSeconds(at), path)
	}

	data := stdout.Bytes()
	f.mu.Lock()
	f.last = cached{path: path, at: at, data: data}
	f.mu.Unlock()
	return data, nil
}

func frameArgs(path string, at time.Duration, width int) []string {
	args := []string{
		"-v", "error",
		"-ss", fmtSeconds(at),
		"-i", path,
		"-frames:v", "1",
	}
	if width > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:-2", width))
	}
	return append(args,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-",
	)
}

func fmtSeconds(d time.Duration) string {
	sec := float64(d) / float64(time.Second)
	return strconv.FormatFloat(sec, 'f', 3, 64)
}

func isURL(p string) bool {
	return strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://")
}
