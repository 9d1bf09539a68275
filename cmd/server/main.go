package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"terrainstream.ai/internal/persistence/indexdb"
	passlog "terrainstream.ai/internal/persistence/log"
	"terrainstream.ai/internal/sim/terrain"
	"terrainstream.ai/internal/sim/tuning"
	"terrainstream.ai/internal/transport/observer"
	"terrainstream.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite pass index")
		disableLog = flag.Bool("disable_pass_log", false, "disable the compressed pass log")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	// Table paths resolve against the directory holding the tuning file.
	synth, err := terrain.NewSynthesizer(tune, filepath.Dir(tp))
	if err != nil {
		logger.Fatalf("load terrain: %v", err)
	}
	logger.Printf("terrain: noise=%s seed=%d chunk=%d render_distance=%d",
		tune.Noise.Kind, tune.Noise.Seed, tune.Terrain.ChunkSize, tune.Terrain.RenderDistance)

	_ = os.MkdirAll(*dataDir, 0o755)

	idx, err := openRuntimeIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
	}

	var passes *passlog.PassLogger
	if !*disableLog {
		passes = passlog.NewPassLogger(*dataDir)
		defer passes.Close()
	}

	sink := newPassSink(passes, idx, logger)
	sinks := multiSink{sink}

	enableAdmin := envBool("TS_ENABLE_ADMIN_HTTP", true)
	var obs *observer.Server
	if enableAdmin {
		obs = observer.NewServer(ws.TerrainParams(terrain.StreamConfig(tune), tune.Terrain.SeaLevel), logger)
		sinks = append(sinks, obs)
	}

	wsSrv := ws.NewServer(ws.Config{
		Stream:      terrain.StreamConfig(tune),
		SeaLevel:    tune.Terrain.SeaLevel,
		MaxSessions: tune.Server.MaxSessions,
		FrameQueue:  tune.Server.FrameQueue,
	}, synth, sinks, logger)

	ctx, cancel := signalContext()
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", metricsHandler(wsSrv, sink, idx, obs))
	if envBool("TS_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (TS_ENABLE_PPROF_HTTP=false)")
	}
	if obs != nil {
		// Loopback-only (enforced in handlers).
		mux.HandleFunc("/admin/v1/observer/bootstrap", obs.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observer/ws", obs.WSHandler())
	} else {
		logger.Printf("admin endpoints disabled (TS_ENABLE_ADMIN_HTTP=false)")
	}
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Fatalf("listen: %v", err)
	}
	logger.Printf("listening on %s", ln.Addr())
	if err := serve(ctx, srv, ln, idx); err != nil {
		logger.Fatalf("Serve: %v", err)
	}
}

// serve runs srv until ctx is cancelled, then shuts it down and flushes the
// index. It returns only after the flush, so deferred closes in main run last.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, idx runtimeIndex) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
		if idx != nil {
			_ = idx.Flush(ctx2)
		}
	}()

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	<-done
	return nil
}

func metricsHandler(wsSrv *ws.Server, sink *passSink, idx runtimeIndex, obs *observer.Server) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		st := wsSrv.Stats()
		m, loaded := sink.Snapshot()
		var is indexdb.Stats
		if idx != nil {
			is = idx.Stats()
		}
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(rw, "# HELP terrainstream_sessions Current number of streaming sessions.\n")
		fmt.Fprintf(rw, "# TYPE terrainstream_sessions gauge\n")
		fmt.Fprintf(rw, "terrainstream_sessions %d\n", st.ActiveSessions)
		fmt.Fprintf(rw, "# HELP terrainstream_sessions_total Sessions accepted since start.\n")
		fmt.Fprintf(rw, "# TYPE terrainstream_sessions_total counter\n")
		fmt.Fprintf(rw, "terrainstream_sessions_total %d\n", st.SessionsTotal)
		fmt.Fprintf(rw, "terrainstream_sessions_rejected_total %d\n", st.RejectedTotal)
		fmt.Fprintf(rw, "# HELP terrainstream_frames_total FRAME messages produced.\n")
		fmt.Fprintf(rw, "# TYPE terrainstream_frames_total counter\n")
		fmt.Fprintf(rw, "terrainstream_frames_total %d\n", st.FramesTotal)
		fmt.Fprintf(rw, "terrainstream_errors_total %d\n", st.ErrorsTotal)
		fmt.Fprintf(rw, "# HELP terrainstream_loaded_chunks Chunks loaded across live sessions.\n")
		fmt.Fprintf(rw, "# TYPE terrainstream_loaded_chunks gauge\n")
		fmt.Fprintf(rw, "terrainstream_loaded_chunks %d\n", loaded)
		fmt.Fprintf(rw, "# HELP terrainstream_chunks_total Chunk lifecycle counters.\n")
		fmt.Fprintf(rw, "# TYPE terrainstream_chunks_total counter\n")
		fmt.Fprintf(rw, "terrainstream_chunks_total{event=%q} %d\n", "candidate", m.Candidates)
		fmt.Fprintf(rw, "terrainstream_chunks_total{event=%q} %d\n", "culled", m.Culled)
		fmt.Fprintf(rw, "terrainstream_chunks_total{event=%q} %d\n", "generated", m.Generated)
		fmt.Fprintf(rw, "terrainstream_chunks_total{event=%q} %d\n", "evicted", m.Evicted)
		fmt.Fprintf(rw, "# HELP terrainstream_pass_ms Pass duration in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE terrainstream_pass_ms gauge\n")
		fmt.Fprintf(rw, "terrainstream_pass_ms{stat=%q} %.3f\n", "last", m.LastPassMS)
		fmt.Fprintf(rw, "terrainstream_pass_ms{stat=%q} %.3f\n", "max", m.MaxPassMS)
		fmt.Fprintf(rw, "# HELP terrainstream_index_queue_depth Index writer backlog.\n")
		fmt.Fprintf(rw, "# TYPE terrainstream_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "terrainstream_index_queue_depth %d\n", is.QueueDepth)
		fmt.Fprintf(rw, "terrainstream_index_dropped_total{kind=%q} %d\n", "pass", is.DropPassTotal)
		fmt.Fprintf(rw, "terrainstream_index_dropped_total{kind=%q} %d\n", "session", is.DropSessionTotal)
		if obs != nil {
			fmt.Fprintf(rw, "terrainstream_observer_dropped_total %d\n", obs.Dropped())
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}
