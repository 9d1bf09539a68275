package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	passlog "terrainstream.ai/internal/persistence/log"
)

func main() {
	var (
		passesDir = flag.String("passes", "", "dir containing passes-*.jsonl.zst (default: <data>/passes)")
		dataDir   = flag.String("data", "./data", "runtime data directory")
		session   = flag.String("session", "", "only this session id (optional)")
		fromFrame = flag.Uint64("from_frame", 0, "start at frame (inclusive, optional)")
		toFrame   = flag.Uint64("to_frame", 0, "stop at frame (inclusive, optional)")
	)
	flag.Parse()

	dir := *passesDir
	if dir == "" {
		dir = filepath.Join(*dataDir, "passes")
	}
	files, err := passlog.ListPassLogs(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list passes:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no pass files found in", dir)
		os.Exit(1)
	}

	agg := newAggregator(filter{session: *session, from: *fromFrame, to: *toFrame})
	for _, path := range files {
		if err := passlog.ReadPassLog(path, agg.add); err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}
	agg.report(os.Stdout)
	if len(agg.violations) > 0 {
		for _, v := range agg.violations {
			fmt.Fprintln(os.Stderr, "violation:", v)
		}
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d passes in %d files\n", agg.checked, len(files))
}

type filter struct {
	session string
	from    uint64
	to      uint64
}

type sessionStats struct {
	passes     int
	firstFrame uint64
	lastFrame  uint64
	generated  int
	evicted    int
	culled     int
	candidates int
	maxLoaded  int
	elapsedUS  int64
	maxUS      int64
}

type aggregator struct {
	f          filter
	sessions   map[string]*sessionStats
	checked    int
	violations []string
}

func newAggregator(f filter) *aggregator {
	return &aggregator{f: f, sessions: map[string]*sessionStats{}}
}

func (a *aggregator) add(e passlog.PassLogEntry) bool {
	if a.f.session != "" && e.SessionID != a.f.session {
		return true
	}
	if e.Frame < a.f.from || (a.f.to != 0 && e.Frame > a.f.to) {
		return true
	}
	a.checked++
	a.verify(e)

	s := a.sessions[e.SessionID]
	if s == nil {
		s = &sessionStats{firstFrame: e.Frame}
		a.sessions[e.SessionID] = s
	}
	s.passes++
	if e.Frame < s.firstFrame {
		s.firstFrame = e.Frame
	}
	if e.Frame > s.lastFrame {
		s.lastFrame = e.Frame
	}
	s.generated += e.Generated
	s.evicted += e.Evicted
	s.culled += e.Culled
	s.candidates += e.Candidates
	if e.Loaded > s.maxLoaded {
		s.maxLoaded = e.Loaded
	}
	s.elapsedUS += e.ElapsedUS
	if e.ElapsedUS > s.maxUS {
		s.maxUS = e.ElapsedUS
	}
	return true
}

// verify checks the per-pass accounting identities.
func (a *aggregator) verify(e passlog.PassLogEntry) {
	side := 2*e.RenderDistance + 1
	switch {
	case e.Candidates != side*side:
		a.violations = append(a.violations, fmt.Sprintf("session %s frame %d: candidates=%d want %d", e.SessionID, e.Frame, e.Candidates, side*side))
	case e.Culled+e.Retained != e.Candidates:
		a.violations = append(a.violations, fmt.Sprintf("session %s frame %d: culled+retained=%d candidates=%d", e.SessionID, e.Frame, e.Culled+e.Retained, e.Candidates))
	case e.Loaded != e.Retained:
		a.violations = append(a.violations, fmt.Sprintf("session %s frame %d: loaded=%d retained=%d", e.SessionID, e.Frame, e.Loaded, e.Retained))
	}
}

func (a *aggregator) report(w io.Writer) {
	ids := make([]string, 0, len(a.sessions))
	for id := range a.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s := a.sessions[id]
		cullRate := 0.0
		if s.candidates > 0 {
			cullRate = float64(s.culled) / float64(s.candidates)
		}
		fmt.Fprintf(w, "session=%s passes=%d frames=%d..%d generated=%d evicted=%d max_loaded=%d cull_rate=%.3f avg_us=%d max_us=%d\n",
			id, s.passes, s.firstFrame, s.lastFrame, s.generated, s.evicted, s.maxLoaded, cullRate,
			s.elapsedUS/int64(s.passes), s.maxUS)
	}
}
