package frames

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
)

// EnsureReady checks that the ffmpeg binary can be found and run, and
// writes its version line to w.
func (f *FFmpeg) EnsureReady(ctx context.Context, w io.Writer) error {
	path, err := exec.LookPath(f.bin)
	if err != nil {
		return fmt.Errorf("ffmpeg not found (%s): %w", f.bin, err)
	}

	out, err := exec.CommandContext(ctx, path, "-version").CombinedOutput()
	if err != nil {
		return fmt.Errorf("running %s -version: %w\n%s", path, err, out)
	}

	line, _, _ := bufio.NewReader(bytes.NewReader(out)).ReadLine()
	if len(line) == 0 {
		line = []byte(path)
	}
	fmt.Fprintf(w, "frames: %s\n", line)
	return nil
}
