package main

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"terrainstream.ai/internal/persistence/indexdb"
	passlog "terrainstream.ai/internal/persistence/log"
)

func seedIndex(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "passes.sqlite")
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	idx.RecordSessionStart("s1", "bot", 4)
	for f := uint64(1); f <= 3; f++ {
		_ = idx.WritePass(passlog.PassLogEntry{
			Time: time.Now().UTC(), SessionID: "s1", Frame: f, Center: [2]int{int(f), 0},
			Candidates: 81, Culled: 50, Retained: 31, Generated: 10, Loaded: 31, ElapsedUS: 100,
		})
	}
	idx.RecordSessionEnd("s1")
	if err := idx.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return path
}

func TestDBQueries(t *testing.T) {
	path := seedIndex(t)

	var buf bytes.Buffer
	if err := summaryQuery(&buf, path, "s1"); err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !strings.Contains(buf.String(), `"Passes":3`) || !strings.Contains(buf.String(), `"TotalGenerated":30`) {
		t.Fatalf("summary=%s", buf.String())
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	buf.Reset()
	if err := sessionsQuery(&buf, db, 0); err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if !strings.Contains(buf.String(), `"id":"s1"`) || !strings.Contains(buf.String(), `"ended_at"`) {
		t.Fatalf("sessions=%s", buf.String())
	}

	buf.Reset()
	if err := passesQuery(&buf, db, "s1", 2); err != nil {
		t.Fatalf("passes: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("passes=%q", buf.String())
	}
	buf.Reset()
	if err := passesQuery(&buf, db, "nope", 10); err != nil || buf.Len() != 0 {
		t.Fatalf("filtered passes=%q err=%v", buf.String(), err)
	}
}

func TestListLogs(t *testing.T) {
	dir := t.TempDir()
	pl := passlog.NewPassLogger(dir)
	for f := uint64(1); f <= 4; f++ {
		if err := pl.WritePass(passlog.PassLogEntry{Time: time.Now().UTC(), SessionID: "s", Frame: f}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := pl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	var buf bytes.Buffer
	if err := listLogs(&buf, filepath.Join(dir, "passes")); err != nil {
		t.Fatalf("list: %v", err)
	}
	total := 0
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		_, n, ok := strings.Cut(line, "\t")
		if !ok {
			t.Fatalf("line=%q", line)
		}
		c, err := strconv.Atoi(n)
		if err != nil {
			t.Fatalf("line=%q: %v", line, err)
		}
		total += c
	}
	if total != 4 {
		t.Fatalf("list=%q", buf.String())
	}
}
