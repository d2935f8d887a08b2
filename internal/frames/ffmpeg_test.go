package frames

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"
)

// fakeBinary writes an executable shell script standing in for ffmpeg.
// Every invocation appends a line to the returned counter file.
func fakeBinary(t *testing.T, body string) (bin, calls string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a unix shell")
	}
	dir := t.TempDir()
	calls = filepath.Join(dir, "calls")
	bin = filepath.Join(dir, "ffmpeg")
	script := "#!/bin/sh\necho call >> " + calls + "\n" + body + "\n"
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return bin, calls
}

func countCalls(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0
	}
	if err != nil {
		t.Fatal(err)
	}
	return strings.Count(string(data), "call")
}

func touchVideo(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(p, []byte("not really a video"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestFrameArgs(t *testing.T) {
	got := frameArgs("/v/a.mp4", 1500*time.Millisecond, 0)
	want := []string{
		"-v", "error",
		"-ss", "1.500",
		"-i", "/v/a.mp4",
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("frameArgs = %q\nwant %q", got, want)
	}

	scaled := frameArgs("/v/a.mp4", 0, 640)
	if !strings.Contains(strings.Join(scaled, " "), "-vf scale=640:-2") {
		t.Errorf("scaled args missing filter: %q", scaled)
	}
}

func TestFrame_ReturnsStdoutAndCaches(t *testing.T) {
	bin, calls := fakeBinary(t, `printf 'JPEGDATA'`)
	src := NewFFmpeg(bin, 0)
	video := touchVideo(t)

	for i := 0; i < 2; i++ {
		data, err := src.Frame(context.Background(), video, 2*time.Second)
		if err != nil {
			t.Fatalf("Frame: %v", err)
		}
		if string(data) != "JPEGDATA" {
			t.Errorf("data = %q", data)
		}
	}
	if n := countCalls(t, calls); n != 1 {
		t.Errorf("ffmpeg ran %d times, want 1 (cached)", n)
	}

	if _, err := src.Frame(context.Background(), video, 3*time.Second); err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if n := countCalls(t, calls); n != 2 {
		t.Errorf("ffmpeg ran %d times, want 2 after new timepoint", n)
	}
}

func TestFrame_EmptyOutput(t *testing.T) {
	bin, _ := fakeBinary(t, "exit 0")
	_, err := NewFFmpeg(bin, 0).Frame(context.Background(), touchVideo(t), time.Hour)
	if !errors.Is(err, ErrNoFrame) {
		t.Fatalf("error = %v, want ErrNoFrame", err)
	}
}

func TestFrame_ProcessFailureIncludesStderr(t *testing.T) {
	bin, _ := fakeBinary(t, "echo 'moov atom not found' >&2\nexit 1")
	_, err := NewFFmpeg(bin, 0).Frame(context.Background(), touchVideo(t), 0)
	if err == nil || !strings.Contains(err.Error(), "moov atom not found") {
		t.Fatalf("error = %v, want stderr in message", err)
	}
}

func TestFrame_MissingVideo(t *testing.T) {
	bin, calls := fakeBinary(t, `printf 'JPEGDATA'`)
	_, err := NewFFmpeg(bin, 0).Frame(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"), 0)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("error = %v, want ErrNotExist", err)
	}
	if n := countCalls(t, calls); n != 0 {
		t.Errorf("ffmpeg ran %d times for a missing file", n)
	}
}

func TestFrame_NegativeTimepoint(t *testing.T) {
	if _, err := NewFFmpeg("ffmpeg", 0).Frame(context.Background(), "/v/a.mp4", -time.Second); err == nil {
		t.Fatal("expected error for negative timepoint")
	}
}

func TestEnsureReady(t *testing.T) {
	bin, _ := fakeBinary(t, `echo "ffmpeg version 6.1.1 Copyright (c) 2000-2023"`)
	var out strings.Builder
	if err := NewFFmpeg(bin, 0).EnsureReady(context.Background(), &out); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if !strings.Contains(out.String(), "ffmpeg version 6.1.1") {
		t.Errorf("output = %q", out.String())
	}
}

func TestEnsureReady_Missing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-ffmpeg")
	if err := NewFFmpeg(missing, 0).EnsureReady(context.Background(), io.Discard); err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestEnsureReady_Fails(t *testing.T) {
	bin, _ := fakeBinary(t, "echo 'libavcodec.so: cannot open shared object' >&2\nexit 127")
	err := NewFFmpeg(bin, 0).EnsureReady(context.Background(), io.Discard)
	if err == nil || !strings.Contains(err.Error(), "libavcodec") {
		t.Fatalf("error = %v", err)
	}
}
