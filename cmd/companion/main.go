package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/you/bili-companion/internal/announce"
	"github.com/you/bili-companion/internal/config"
	"github.com/you/bili-companion/internal/core"
	"github.com/you/bili-companion/internal/guardapi"
	"github.com/you/bili-companion/internal/httpapi"
	"github.com/you/bili-companion/internal/parser"
	"github.com/you/bili-companion/internal/pipetrace"
	"github.com/you/bili-companion/internal/sink"
	"github.com/you/bili-companion/internal/state"
	"github.com/you/bili-companion/internal/tailer"
	"github.com/you/bili-companion/internal/tracker"
	"github.com/you/bili-companion/internal/tts"
	"github.com/you/bili-companion/internal/version"
	"github.com/you/bili-companion/internal/webhook"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		versionFlag     bool
		roomID          string
		roomUID         string
		fetchGuards     bool
		logDir          string
		trackerPath     string
		pollMS          int
		logWatch        bool
		dbPath          string
		goal            float64
		autoplay        bool
		ttsCommands     string
		traceDrops      bool
		httpAddr        string
		httpCorsOrigins string
		httpRateRPS     int
		httpRateBurst   int
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&roomID, "room", "", "Bilibili room id to monitor")
	flag.StringVar(&roomUID, "uid", "", "Streamer uid (enables initial guard count fetch)")
	flag.BoolVar(&fetchGuards, "fetch-guards", false, "Fetch the initial guard count from the live API")
	flag.StringVar(&logDir, "log-dir", "", "Directory containing per-day room chat logs")
	flag.StringVar(&trackerPath, "tracker", "", "Path to the processed-files ledger")
	flag.IntVar(&pollMS, "poll-ms", 0, "Log poll interval in milliseconds")
	flag.BoolVar(&logWatch, "log-watch", true, "Use filesystem notifications to wake the tailer")
	flag.StringVar(&dbPath, "sqlite", "", "Path to the SQLite event archive")
	flag.Float64Var(&goal, "goal", 0, "Milestone revenue goal in CNY")
	flag.BoolVar(&autoplay, "autoplay", false, "Start with announcement autoplay enabled")
	flag.StringVar(&ttsCommands, "tts-commands", "", "Path to the sound-command registry JSON file")
	flag.BoolVar(&traceDrops, "trace-drops", false, "Log a trace for every line the parser rejects")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP overlay/admin address (e.g., :8090)")
	flag.StringVar(&httpCorsOrigins, "http-cors-origins", "", "Comma-separated list of allowed CORS origins")
	flag.IntVar(&httpRateRPS, "http-rate-rps", 0, "Maximum HTTP requests per second per client")
	flag.IntVar(&httpRateBurst, "http-rate-burst", 0, "Burst size for HTTP rate limiter")
	flag.Parse()

	if versionFlag {
		fmt.Printf(
			"companion version: %s (commit %s, built %s)\n",
			version.Version,
			version.Commit,
			version.BuildTime,
		)
		os.Exit(0)
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("companion: .env: %v", err)
	}

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	cfg := config.Load()

	if overrides["room"] {
		cfg.Room.ID = strings.TrimSpace(roomID)
	}
	if overrides["uid"] {
		cfg.Room.UID = strings.TrimSpace(roomUID)
		cfg.Room.FetchInitial = cfg.Room.UID != ""
	}
	if overrides["fetch-guards"] {
		cfg.Room.FetchInitial = fetchGuards
	}
	if overrides["log-dir"] {
		cfg.Log.Dir = strings.TrimSpace(logDir)
	}
	if overrides["tracker"] {
		cfg.Log.TrackerPath = strings.TrimSpace(trackerPath)
	}
	if overrides["poll-ms"] && pollMS > 0 {
		cfg.Log.PollMS = pollMS
	}
	if overrides["log-watch"] {
		cfg.Log.Watch = logWatch
	}
	if overrides["sqlite"] {
		cfg.Archive.SQLitePath = strings.TrimSpace(dbPath)
	}
	if overrides["goal"] && goal > 0 {
		cfg.Milestone.Goal = goal
	}
	if overrides["autoplay"] {
		cfg.Autoplay = autoplay
	}
	if overrides["tts-commands"] {
		cfg.TTS.CommandsFile = strings.TrimSpace(ttsCommands)
	}
	if overrides["http-addr"] {
		cfg.HTTP.Addr = strings.TrimSpace(httpAddr)
	}
	if overrides["http-cors-origins"] {
		cfg.HTTP.CORSOrigins = nil
		for _, origin := range strings.Split(httpCorsOrigins, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				cfg.HTTP.CORSOrigins = append(cfg.HTTP.CORSOrigins, origin)
			}
		}
	}
	if overrides["http-rate-rps"] && httpRateRPS > 0 {
		cfg.HTTP.RateRPS = httpRateRPS
	}
	if overrides["http-rate-burst"] && httpRateBurst > 0 {
		cfg.HTTP.RateBurst = httpRateBurst
	}

	log.Printf("%s", cfg.RedactedJSON())

	if cfg.Room.ID == "" {
		log.Printf("companion: no room configured; tailer will idle until COMPANION_ROOM_ID is set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("companion: received %s, shutting down", sig)
		cancel()
	}()

	ledger, err := tracker.Open(cfg.Log.TrackerPath)
	if err != nil {
		log.Fatalf("companion: open tracker: %v", err)
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			log.Printf("companion: closing tracker: %v", err)
		}
	}()

	archive, err := sink.OpenSQLite(cfg.Archive.SQLitePath)
	if err != nil {
		log.Fatalf("companion: open sqlite: %v", err)
	}
	defer func() {
		if err := archive.Close(); err != nil {
			log.Printf("companion: closing archive: %v", err)
		}
	}()
	if err := archive.Ping(); err != nil {
		log.Fatalf("companion: ping sqlite: %v", err)
	}
	if err := migrateSQLite(ctx, archive.RawDB()); err != nil {
		log.Fatalf("companion: sqlite migrate: %v", err)
	}

	queue := announce.NewQueue()
	agg := state.NewAggregator(cfg.Milestone.Goal, queue)

	metrics := httpapi.NewMetrics()
	queue.SetDepthFunc(metrics.SetQueueDepth)

	build := httpapi.BuildInfo{Version: version.Version, Revision: version.Commit}
	if version.BuildTime != "" && version.BuildTime != "unknown" {
		if t, err := time.Parse(time.RFC3339, version.BuildTime); err == nil {
			build.BuiltAt = t
		}
	}

	api := httpapi.New(archive, agg, queue, metrics, httpapi.Options{
		Addr:        cfg.HTTP.Addr,
		Build:       build,
		RateRPS:     cfg.HTTP.RateRPS,
		RateBurst:   cfg.HTTP.RateBurst,
		CORSOrigins: cfg.HTTP.CORSOrigins,
	})

	var writer sink.Writer = sink.WithAPI(archive, api)
	var buffered *sink.BufferedWriter
	if cfg.Batch() > 1 || cfg.FlushInterval() > 0 {
		buffered = sink.NewBufferedWriter(writer, sink.BufferedOptions{
			BatchSize:     cfg.Batch(),
			FlushInterval: cfg.FlushInterval(),
		})
		writer = buffered
	}
	if buffered != nil {
		defer func() {
			if err := buffered.Close(); err != nil {
				log.Printf("companion: flush buffered archive: %v", err)
			}
		}()
	}

	commands, err := loadCommands(cfg.TTS.CommandsFile)
	if err != nil {
		log.Printf("companion: sound commands: %v", err)
		commands = tts.NewCommands(nil)
	}

	speaker := tts.NewSpeaker(nil, nil, tts.VoiceConfig{
		Voice:       cfg.TTS.Voice,
		SpeedNormal: cfg.TTS.SpeedNormal,
		SpeedName:   cfg.TTS.SpeedName,
	}, cfg.TTS.AudioDir)

	webhooks := webhook.New(map[string]webhook.Endpoint{
		core.TierCaptain:  {Enabled: cfg.Webhook.CaptainEnabled, URL: cfg.Webhook.CaptainURL},
		core.TierAdmiral:  {Enabled: cfg.Webhook.AdmiralEnabled, URL: cfg.Webhook.AdmiralURL},
		core.TierGovernor: {Enabled: cfg.Webhook.GovernorEnabled, URL: cfg.Webhook.GovernorURL},
	}, webhook.Options{
		Timeout:   cfg.WebhookTimeout(),
		PerMinute: cfg.Webhook.PerMinute,
	})

	agg.SetQueuedFunc(func(ev *core.ChatEvent) {
		api.Notify(announce.Notification{
			Type:     announce.NotifyQueued,
			EventID:  ev.ID,
			Username: ev.Username,
			Kind:     ev.Kind,
		})
	})

	proc := announce.NewProcessor(queue, agg, speaker, commands,
		meteredWebhooks{base: webhooks, metrics: metrics}, api, announce.Options{})

	if cfg.Room.FetchInitial && cfg.Room.ID != "" && cfg.Room.UID != "" {
		guards := guardapi.New(cfg.Room.APIBase, cfg.APITimeout())
		n := guards.FetchInitial(ctx, cfg.Room.ID, cfg.Room.UID)
		agg.SetInitialGuardCount(n)
		log.Printf("companion: initial guard count %d for room %s", n, cfg.Room.ID)
	}

	agg.SetAutoplay(cfg.Autoplay)

	handler := func(file, line string) {
		metrics.IncLinesSeen()
		ev, ok := parser.Parse(line)
		if !ok {
			metrics.IncParseDrops()
			if traceDrops {
				trace := pipetrace.NewTraceFromLine(cfg.Room.ID, filepath.Base(file), snippet(line))
				trace.IncCounter(pipetrace.StageDropped("parse"))
				trace.LogTrace(nil, "companion: dropped line")
			}
			return
		}
		agg.Record(ev)
		metrics.IncEventsRecorded(string(ev.Kind))
		if err := writer.Write(ev); err != nil {
			log.Printf("companion: archive event: %v", err)
			metrics.IncArchiveErrors()
		}
	}

	tail := tailer.New(tailer.Options{
		Dir:          cfg.Log.Dir,
		Room:         func() string { return cfg.Room.ID },
		Ext:          cfg.Log.Ext,
		PollInterval: cfg.PollInterval(),
	}, ledger, handler)
	if cfg.Log.Watch {
		if err := tail.WatchDir(ctx); err != nil {
			slog.Error("companion: watch log dir", "err", err)
		}
	}

	go func() {
		if err := api.Start(); err != nil {
			log.Fatalf("companion: http api: %v", err)
		}
	}()
	log.Printf("companion: http api ready on %s", cfg.HTTP.Addr)

	go func() {
		if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("companion: announcement processor exited: %v", err)
			cancel()
		}
	}()

	go func() {
		if err := tail.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("companion: tailer exited: %v", err)
			cancel()
		}
	}()
	log.Printf("companion: tailing %s for room %q", cfg.Log.Dir, cfg.Room.ID)

	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Printf("companion: http api shutdown: %v", err)
	}
	cancelShutdown()

	// allow pipeline goroutines to finish cleanly
	time.Sleep(100 * time.Millisecond)
	log.Printf("companion: shutdown complete")
}

// snippet truncates a line for trace logging.
func snippet(line string) string {
	const max = 80
	if len(line) <= max {
		return line
	}
	return line[:max]
}

// commandEntry is one row of the sound-command registry file.
type commandEntry struct {
	Filename string  `json:"filename"`
	Volume   float64 `json:"volume"`
}

// loadCommands reads the trigger registry from a JSON file mapping trigger
// text to its audio file. A blank path yields an empty registry.
func loadCommands(path string) (*tts.Commands, error) {
	if strings.TrimSpace(path) == "" {
		return tts.NewCommands(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries map[string]commandEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cmds := make(map[string]tts.Command, len(entries))
	for trigger, entry := range entries {
		cmds[trigger] = tts.Command{Filename: entry.Filename, Volume: entry.Volume}
	}
	log.Printf("companion: loaded %d sound commands from %s", len(cmds), path)
	return tts.NewCommands(cmds), nil
}

// meteredWebhooks counts failed triggers for endpoints that are actually
// configured; disabled tags pass through without touching the counter.
type meteredWebhooks struct {
	base    *webhook.Triggers
	metrics *httpapi.Metrics
}

func (m meteredWebhooks) Trigger(ctx context.Context, tag string) bool {
	ok := m.base.Trigger(ctx, tag)
	if !ok && m.base.Enabled(tag) {
		m.metrics.IncWebhookFailures()
	}
	return ok
}
