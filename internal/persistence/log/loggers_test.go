package log

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPassLoggerRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	l := NewPassLogger(dir)
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		if err := l.WritePass(PassLogEntry{SessionID: "s1", Frame: uint64(i), Candidates: 9}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	clock = clock.Add(2 * time.Minute)
	if err := l.WritePass(PassLogEntry{SessionID: "s1", Frame: 3, Loaded: 4}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := ListPassLogs(filepath.Join(dir, "passes"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files=%v want 2", files)
	}
	if filepath.Base(files[0]) != "passes-2026-03-01-10.jsonl.zst" || filepath.Base(files[1]) != "passes-2026-03-01-11.jsonl.zst" {
		t.Fatalf("files=%v", files)
	}

	var frames []uint64
	for _, f := range files {
		if err := ReadPassLog(f, func(e PassLogEntry) bool {
			frames = append(frames, e.Frame)
			return true
		}); err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
	}
	if len(frames) != 4 || frames[0] != 0 || frames[3] != 3 {
		t.Fatalf("frames=%v", frames)
	}
}

func TestPassLogAppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for run := 0; run < 2; run++ {
		l := NewPassLogger(dir)
		l.w.now = func() time.Time { return clock }
		if err := l.WritePass(PassLogEntry{Frame: uint64(run)}); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := l.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	files, err := ListPassLogs(filepath.Join(dir, "passes"))
	if err != nil || len(files) != 1 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	n := 0
	if err := ReadPassLog(files[0], func(PassLogEntry) bool { n++; return true }); err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 2 {
		t.Fatalf("entries=%d want 2", n)
	}
}

func TestReadPassLogStopsEarlyAndRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, passPrefix)
	for i := 0; i < 5; i++ {
		if err := w.Write(PassLogEntry{Frame: uint64(i)}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	_ = w.Close()
	files, _ := ListPassLogs(dir)
	n := 0
	if err := ReadPassLog(files[0], func(PassLogEntry) bool { n++; return n < 2 }); err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 2 {
		t.Fatalf("n=%d", n)
	}

	bad := filepath.Join(dir, "passes-bad.jsonl.zst")
	if err := os.WriteFile(bad, []byte("not zstd"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ReadPassLog(bad, func(PassLogEntry) bool { return true }); err == nil {
		t.Fatalf("expected error for garbage file")
	}
}
