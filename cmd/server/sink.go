package main

import (
	"log"
	"sync"
	"time"

	passlog "terrainstream.ai/internal/persistence/log"
	"terrainstream.ai/internal/sim/terrain/stream"
	"terrainstream.ai/internal/transport/ws"
)

// passSink fans pass reports out to the pass log and the index, and keeps
// the aggregates served on /metrics.
type passSink struct {
	passes *passlog.PassLogger
	idx    runtimeIndex
	log    *log.Logger

	mu         sync.Mutex
	m          passMetrics
	logErrOnce sync.Once
}

type passMetrics struct {
	Passes      uint64
	Generated   uint64
	Evicted     uint64
	Culled      uint64
	Candidates  uint64
	LastLoaded  int
	LastPassMS  float64
	MaxPassMS   float64
	loadedBySID map[string]int
}

func newPassSink(passes *passlog.PassLogger, idx runtimeIndex, logger *log.Logger) *passSink {
	return &passSink{
		passes: passes,
		idx:    idx,
		log:    logger,
		m:      passMetrics{loadedBySID: map[string]int{}},
	}
}

func (p *passSink) SessionStart(id, clientName string, renderDistance int) {
	if p.idx != nil {
		p.idx.RecordSessionStart(id, clientName, renderDistance)
	}
	p.mu.Lock()
	p.m.loadedBySID[id] = 0
	p.mu.Unlock()
}

func (p *passSink) SessionEnd(id string) {
	if p.idx != nil {
		p.idx.RecordSessionEnd(id)
	}
	p.mu.Lock()
	delete(p.m.loadedBySID, id)
	p.mu.Unlock()
}

func (p *passSink) Pass(id string, frame uint64, v stream.View, res stream.PassResult) {
	e := passlog.PassLogEntry{
		Time:           time.Now().UTC(),
		SessionID:      id,
		Frame:          frame,
		Center:         [2]int{res.Center.CX, res.Center.CZ},
		Position:       v.Position,
		RenderDistance: res.RenderDistance,
		Candidates:     res.Candidates,
		Culled:         res.Culled,
		Retained:       res.Retained,
		Generated:      res.Generated,
		Evicted:        res.Evicted,
		Loaded:         res.Loaded,
		ElapsedUS:      res.Elapsed.Microseconds(),
	}
	if p.passes != nil {
		if err := p.passes.WritePass(e); err != nil {
			p.logErrOnce.Do(func() { p.log.Printf("pass log write failed (further errors suppressed): %v", err) })
		}
	}
	if p.idx != nil {
		_ = p.idx.WritePass(e)
	}

	ms := float64(res.Elapsed.Microseconds()) / 1000
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m.Passes++
	p.m.Generated += uint64(res.Generated)
	p.m.Evicted += uint64(res.Evicted)
	p.m.Culled += uint64(res.Culled)
	p.m.Candidates += uint64(res.Candidates)
	p.m.LastLoaded = res.Loaded
	p.m.LastPassMS = ms
	if ms > p.m.MaxPassMS {
		p.m.MaxPassMS = ms
	}
	p.m.loadedBySID[id] = res.Loaded
}

// Snapshot returns the aggregates and the total chunks loaded across live
// sessions.
func (p *passSink) Snapshot() (passMetrics, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.m
	out.loadedBySID = nil
	total := 0
	for _, n := range p.m.loadedBySID {
		total += n
	}
	return out, total
}

// multiSink forwards every report to each non-nil sink in order.
type multiSink []ws.Sink

func (m multiSink) SessionStart(id, clientName string, renderDistance int) {
	for _, s := range m {
		s.SessionStart(id, clientName, renderDistance)
	}
}

func (m multiSink) Pass(id string, frame uint64, v stream.View, res stream.PassResult) {
	for _, s := range m {
		s.Pass(id, frame, v, res)
	}
}

func (m multiSink) SessionEnd(id string) {
	for _, s := range m {
		s.SessionEnd(id)
	}
}
