package main

import (
	"bytes"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	passlog "terrainstream.ai/internal/persistence/log"
)

func testOptions(dataDir string) options {
	return options{
		tuningPath: filepath.Join("..", "..", "configs", "tuning.yaml"),
		frames:     5,
		dt:         1.0 / 60.0,
		yaw:        -90,
		altitude:   12,
		dataDir:    dataDir,
		debugNum:   true,
	}
}

func TestRunWritesCompletePassLog(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	if err := run(testOptions(dir), &out, log.New(io.Discard, "", 0)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := strings.Count(out.String(), "Drawing "); got != 5 {
		t.Fatalf("drawing lines=%d\n%s", got, out.String())
	}

	files, err := passlog.ListPassLogs(filepath.Join(dir, "passes"))
	if err != nil || len(files) == 0 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	var frames []uint64
	for _, f := range files {
		if err := passlog.ReadPassLog(f, func(e passlog.PassLogEntry) bool {
			frames = append(frames, e.Frame)
			return true
		}); err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
	}
	if len(frames) != 5 || frames[0] != 1 || frames[4] != 5 {
		t.Fatalf("frames=%v", frames)
	}
}

func TestRunReturnsPassLogError(t *testing.T) {
	// A regular file where the data directory should be makes every write fail.
	blocker := filepath.Join(t.TempDir(), "data")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	err := run(testOptions(blocker), io.Discard, log.New(io.Discard, "", 0))
	if err == nil || !strings.Contains(err.Error(), "write pass log") {
		t.Fatalf("err=%v", err)
	}
}

func TestRunMissingTuning(t *testing.T) {
	o := testOptions("")
	o.tuningPath = filepath.Join(t.TempDir(), "nope.yaml")
	if err := run(o, io.Discard, log.New(io.Discard, "", 0)); err == nil || !strings.Contains(err.Error(), "load tuning") {
		t.Fatalf("err=%v", err)
	}
}
