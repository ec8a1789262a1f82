// Command diarist is the speaker-identity resolution server.
//
// It loads a YAML configuration, builds the enrollment registry (PostgreSQL
// with pgvector when a DSN is configured, in-memory otherwise), creates one
// clustering pipeline per configured channel, and serves metrics, health
// probes, the segment ingest endpoint, and the WebSocket decision feed.
//
// With -replay, it instead streams a recorded session file (JSON lines of
// segments) through a single channel and prints the decisions, then exits.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/wardlea/diarist/internal/cluster"
	"github.com/wardlea/diarist/internal/cluster/unknown"
	"github.com/wardlea/diarist/internal/config"
	"github.com/wardlea/diarist/internal/feed"
	"github.com/wardlea/diarist/internal/health"
	"github.com/wardlea/diarist/internal/observe"
	"github.com/wardlea/diarist/internal/registry"
	"github.com/wardlea/diarist/internal/session"
	"github.com/wardlea/diarist/pkg/types"
)

const version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	replayPath := flag.String("replay", "", "replay a recorded session file (JSON lines of segments) and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "diarist: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "diarist: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("diarist starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"channels", len(cfg.Channels),
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Enrollment registry ───────────────────────────────────────────────────
	store, closeStore, err := buildStore(ctx, cfg.Registry)
	if err != nil {
		slog.Error("failed to build enrollment registry", "err", err)
		return 1
	}
	defer closeStore()

	enrolled, err := store.Snapshot(ctx)
	if err != nil {
		slog.Error("failed to load enrollment snapshot", "err", err)
		return 1
	}
	auditEnrolledNames(enrolled)

	// ── Channel manager ───────────────────────────────────────────────────────
	manager := session.NewManager(session.ManagerConfig{
		Cluster: cluster.Config{
			NumSpeakers:                cfg.Clustering.NumSpeakers,
			SimilarityThreshold:        cfg.Clustering.SimilarityThreshold,
			MinimumSimilarityThreshold: cfg.Clustering.MinimumSimilarityThreshold,
			ConfidenceMargin:           cfg.Clustering.ConfidenceMargin,
			UpdateEnrolledCentroids:    cfg.Clustering.UpdateEnrolledCentroids,
		},
		Unknown: unknown.Config{
			MaxClusters:         cfg.Unknown.MaxUnknownSpeakers,
			MinSegments:         cfg.Unknown.MinSegmentsForCluster,
			SimilarityThreshold: cfg.Unknown.SimilarityThreshold,
		},
		Metrics: metrics,
	})
	manager.SetEnrolled(enrolled)
	for _, name := range cfg.Channels {
		manager.Channel(name)
	}

	// ── Replay mode ───────────────────────────────────────────────────────────
	if *replayPath != "" {
		if err := runReplay(ctx, manager, cfg.Channels[0], *replayPath); err != nil {
			slog.Error("replay failed", "err", err)
			return 1
		}
		return 0
	}

	if cfg.Server.ListenAddr == "" {
		slog.Error("nothing to do: server.listen_addr is empty and -replay was not given")
		return 1
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	// Log-level edits apply live; anything else is reported and waits for a
	// restart.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyConfigChange(logLevel, config.Compare(old, new))
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── HTTP server ───────────────────────────────────────────────────────────
	broadcaster := feed.NewBroadcaster()

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /v1/feed", broadcaster)
	mux.HandleFunc("POST /v1/segments", ingestHandler(manager, broadcaster, cfg.Channels[0]))
	newHealthHandler(store).Register(mux)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server ready — press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		slog.Info("shutdown signal received, stopping…")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Registry wiring ───────────────────────────────────────────────────────────

// buildStore selects the enrollment store implementation from config: Postgres
// with pgvector when a DSN is set, the in-memory store otherwise.
func buildStore(ctx context.Context, cfg config.RegistryConfig) (registry.Store, func(), error) {
	if cfg.PostgresDSN == "" {
		slog.Info("using in-memory enrollment registry")
		return registry.NewMemStore(), func() {}, nil
	}

	pg, err := registry.NewPostgresStore(ctx, cfg.PostgresDSN, cfg.EmbeddingDimensions)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("connected to postgres enrollment registry", "dimensions", cfg.EmbeddingDimensions)
	return pg, pg.Close, nil
}

// auditEnrolledNames logs a warning for every confusable pair of enrolled
// names, so ambiguity-prone rosters are visible at startup.
func auditEnrolledNames(enrolled []types.EnrolledSpeaker) {
	names := make([]string, len(enrolled))
	for i, sp := range enrolled {
		names[i] = sp.Name
	}
	for _, w := range registry.AuditNames(names) {
		slog.Warn("enrolled names are confusable",
			"a", w.A,
			"b", w.B,
			"phonetic", w.Phonetic,
			"similarity", fmt.Sprintf("%.2f", w.Similarity),
		)
	}
	slog.Info("enrollment snapshot loaded", "enrolled", len(enrolled))
}

// newHealthHandler wires readiness probes for the registry backend. The
// in-memory store has nothing to probe.
func newHealthHandler(store registry.Store) *health.Handler {
	if pg, ok := store.(*registry.PostgresStore); ok {
		return health.New(health.Probe{Name: "postgres", Check: pg.Ping})
	}
	return health.New()
}

// ── Segment ingest ────────────────────────────────────────────────────────────

// ingestResponse is the JSON reply to a processed segment.
type ingestResponse struct {
	Index      int          `json:"index"`
	SpeakerID  int          `json:"speaker_id"`
	Label      string       `json:"label"`
	Reason     types.Reason `json:"reason"`
	Similarity float64      `json:"similarity"`
	Margin     float64      `json:"margin"`
	Forced     bool         `json:"forced,omitempty"`
}

// ingestHandler processes one posted segment through the channel named by the
// ?channel query parameter (default: the first configured channel), publishes
// the decision to the feed, and returns it to the caller.
func ingestHandler(manager *session.Manager, broadcaster *feed.Broadcaster, defaultChannel string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("channel")
		if name == "" {
			name = defaultChannel
		}
		ch, err := manager.Lookup(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		var seg types.Segment
		if err := json.NewDecoder(r.Body).Decode(&seg); err != nil {
			http.Error(w, fmt.Sprintf("decode segment: %v", err), http.StatusBadRequest)
			return
		}

		d, idx := ch.Process(r.Context(), seg)
		broadcaster.Publish(decisionEvent(ch, name, idx, d))

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		json.NewEncoder(w).Encode(ingestResponse{
			Index:      idx,
			SpeakerID:  d.SpeakerID,
			Label:      ch.DisplayLabel(d.SpeakerID),
			Reason:     d.Reason,
			Similarity: d.Similarity,
			Margin:     d.Margin,
			Forced:     d.Forced,
		})
	}
}

// decisionEvent maps a decision to its feed wire shape.
func decisionEvent(ch *session.Channel, channel string, idx int, d types.Decision) feed.Event {
	ev := feed.Event{
		Channel:         channel,
		Index:           idx,
		SpeakerID:       d.SpeakerID,
		Label:           ch.DisplayLabel(d.SpeakerID),
		Reason:          d.Reason,
		Similarity:      d.Similarity,
		Margin:          d.Margin,
		Forced:          d.Forced,
		ClosestEnrolled: d.ClosestEnrolled,
	}
	if d.Reason == types.ReasonAmbiguousMatch && d.RunnerUpID != types.SpeakerNone {
		ev.RunnerUpLabel = ch.DisplayLabel(d.RunnerUpID)
	}
	return ev
}

// ── Replay mode ───────────────────────────────────────────────────────────────

// runReplay streams a recorded session file through channelName and prints one
// decision line per segment. Blank lines in the file are skipped.
func runReplay(ctx context.Context, manager *session.Manager, channelName, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()

	ch := manager.Channel(channelName)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}

		var seg types.Segment
		if err := json.Unmarshal(raw, &seg); err != nil {
			return fmt.Errorf("line %d: decode segment: %w", line, err)
		}

		d, idx := ch.Process(ctx, seg)
		fmt.Printf("%4d  %-14s  %-24s  sim=%.3f margin=%.3f", idx, ch.DisplayLabel(d.SpeakerID), d.Reason, d.Similarity, d.Margin)
		if d.Forced {
			fmt.Print("  forced")
		}
		fmt.Println()
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read session file: %w", err)
	}

	printReplaySummary(ch)
	return nil
}

// printReplaySummary lists the tracked speakers and reportable unknown
// clusters after a replay run.
func printReplaySummary(ch *session.Channel) {
	fmt.Println()
	for _, sp := range ch.Speakers() {
		kind := "discovered"
		if sp.Enrolled {
			kind = "enrolled"
		}
		fmt.Printf("%-14s  %-10s  %d segments\n", ch.DisplayLabel(sp.ID), kind, sp.SampleCount)
	}
	for _, uc := range ch.UnknownSpeakers() {
		fmt.Printf("%-14s  confidence=%.2f  %d segments", uc.Label, uc.Confidence, uc.Count)
		if uc.Aggregate != nil {
			fmt.Printf("  (closest enrolled: %s %.2f)", uc.Aggregate.Name, uc.Aggregate.Similarity)
		}
		fmt.Println()
	}
}

// ── Config reload ─────────────────────────────────────────────────────────────

// applyConfigChange applies the hot-reloadable part of a config diff and logs
// the rest.
func applyConfigChange(logLevel *slog.LevelVar, d config.Diff) {
	if d.LogLevelChanged {
		logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ClusteringChanged || d.UnknownChanged {
		slog.Warn("clustering settings changed; restart to apply (mid-session threshold changes would break replay determinism)")
	}
	if len(d.ChannelsAdded) > 0 || len(d.ChannelsRemoved) > 0 {
		slog.Warn("channel set changed; restart to apply", "added", d.ChannelsAdded, "removed", d.ChannelsRemoved)
	}
	if d.RestartRequired {
		slog.Warn("server or registry settings changed; restart to apply")
	}
}

// ── Logger ────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
