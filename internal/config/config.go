// Package config reads the companion's configuration from COMPANION_-prefixed
// environment variables. Flags in main may override individual fields after
// Load.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Room      RoomConfig
	Log       LogConfig
	Archive   ArchiveConfig
	Milestone MilestoneConfig
	TTS       TTSConfig
	Webhook   WebhookConfig
	HTTP      HTTPConfig
	Autoplay  bool
}

type RoomConfig struct {
	ID           string
	UID          string
	FetchInitial bool
	APIBase      string
	APITimeoutMS int
}

type LogConfig struct {
	Dir         string
	Ext         string
	PollMS      int
	TrackerPath string
	Watch       bool
}

type ArchiveConfig struct {
	SQLitePath string
	BatchSize  int
	FlushMaxMS int
}

type MilestoneConfig struct {
	Goal float64
}

type TTSConfig struct {
	Voice        string
	SpeedNormal  float64
	SpeedName    float64
	AudioDir     string
	CommandsFile string
}

type WebhookConfig struct {
	CaptainEnabled  bool
	CaptainURL      string
	AdmiralEnabled  bool
	AdmiralURL      string
	GovernorEnabled bool
	GovernorURL     string
	TimeoutMS       int
	PerMinute       int
}

type HTTPConfig struct {
	Addr        string
	RateRPS     int
	RateBurst   int
	CORSOrigins []string
}

const (
	defaultLogDir     = "log/messages"
	defaultLogExt     = ".txt"
	defaultPollMS     = 500
	defaultTracker    = "processed_files.log"
	defaultSQLitePath = "events.db"
	defaultBatchSize  = 1
	defaultFlushMS    = 0
	defaultGoal       = 500
	defaultAddr       = ":8090"
	defaultSpeedNorm  = 0.9
	defaultSpeedName  = 0.8
)

func Load() Config {
	cfg := Config{}

	cfg.Room.ID = strings.TrimSpace(os.Getenv("COMPANION_ROOM_ID"))
	cfg.Room.UID = strings.TrimSpace(os.Getenv("COMPANION_UID"))
	cfg.Room.FetchInitial = readBool("COMPANION_FETCH_INITIAL_GUARDS", cfg.Room.UID != "")
	cfg.Room.APIBase = strings.TrimSpace(os.Getenv("COMPANION_API_BASE"))
	cfg.Room.APITimeoutMS = readInt("COMPANION_API_TIMEOUT_MS", 10000)

	cfg.Log.Dir = strings.TrimSpace(os.Getenv("COMPANION_LOG_DIR"))
	if cfg.Log.Dir == "" {
		cfg.Log.Dir = defaultLogDir
	}
	cfg.Log.Ext = strings.TrimSpace(os.Getenv("COMPANION_LOG_EXT"))
	if cfg.Log.Ext == "" {
		cfg.Log.Ext = defaultLogExt
	}
	cfg.Log.PollMS = readInt("COMPANION_POLL_MS", defaultPollMS)
	cfg.Log.TrackerPath = strings.TrimSpace(os.Getenv("COMPANION_TRACKER_PATH"))
	if cfg.Log.TrackerPath == "" {
		cfg.Log.TrackerPath = defaultTracker
	}
	cfg.Log.Watch = readBool("COMPANION_LOG_WATCH", true)

	cfg.Archive.SQLitePath = strings.TrimSpace(os.Getenv("COMPANION_SQLITE_PATH"))
	if cfg.Archive.SQLitePath == "" {
		cfg.Archive.SQLitePath = defaultSQLitePath
	}
	cfg.Archive.BatchSize = readInt("COMPANION_ARCHIVE_BATCH_SIZE", defaultBatchSize)
	cfg.Archive.FlushMaxMS = readInt("COMPANION_ARCHIVE_FLUSH_MAX_MS", defaultFlushMS)

	cfg.Milestone.Goal = readFloat("COMPANION_MILESTONE_GOAL", defaultGoal)

	cfg.TTS.Voice = strings.TrimSpace(os.Getenv("COMPANION_TTS_VOICE"))
	cfg.TTS.SpeedNormal = readFloat("COMPANION_TTS_SPEED", defaultSpeedNorm)
	cfg.TTS.SpeedName = readFloat("COMPANION_TTS_NAME_SPEED", defaultSpeedName)
	cfg.TTS.AudioDir = strings.TrimSpace(os.Getenv("COMPANION_TTS_AUDIO_DIR"))
	cfg.TTS.CommandsFile = strings.TrimSpace(os.Getenv("COMPANION_TTS_COMMANDS_FILE"))

	cfg.Webhook.CaptainEnabled = readBool("COMPANION_WEBHOOK_CAPTAIN_ENABLED", false)
	cfg.Webhook.CaptainURL = strings.TrimSpace(os.Getenv("COMPANION_WEBHOOK_CAPTAIN_URL"))
	cfg.Webhook.AdmiralEnabled = readBool("COMPANION_WEBHOOK_ADMIRAL_ENABLED", false)
	cfg.Webhook.AdmiralURL = strings.TrimSpace(os.Getenv("COMPANION_WEBHOOK_ADMIRAL_URL"))
	cfg.Webhook.GovernorEnabled = readBool("COMPANION_WEBHOOK_GOVERNOR_ENABLED", false)
	cfg.Webhook.GovernorURL = strings.TrimSpace(os.Getenv("COMPANION_WEBHOOK_GOVERNOR_URL"))
	cfg.Webhook.TimeoutMS = readInt("COMPANION_WEBHOOK_TIMEOUT_MS", 5000)
	cfg.Webhook.PerMinute = readInt("COMPANION_WEBHOOK_PER_MINUTE", 30)

	cfg.HTTP.Addr = strings.TrimSpace(os.Getenv("COMPANION_HTTP_ADDR"))
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = defaultAddr
	}
	cfg.HTTP.RateRPS = readInt("COMPANION_HTTP_RATE_RPS", 0)
	cfg.HTTP.RateBurst = readInt("COMPANION_HTTP_RATE_BURST", 0)
	cfg.HTTP.CORSOrigins = splitList(os.Getenv("COMPANION_HTTP_CORS_ORIGINS"))

	cfg.Autoplay = readBool("COMPANION_AUTOPLAY", false)

	return cfg
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func readFloat(name string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func readBool(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// PollInterval returns the tailer tick duration.
func (c Config) PollInterval() time.Duration {
	if c.Log.PollMS <= 0 {
		return defaultPollMS * time.Millisecond
	}
	return time.Duration(c.Log.PollMS) * time.Millisecond
}

// FlushInterval returns the archive flush interval, zero meaning unbuffered.
func (c Config) FlushInterval() time.Duration {
	if c.Archive.FlushMaxMS <= 0 {
		return 0
	}
	return time.Duration(c.Archive.FlushMaxMS) * time.Millisecond
}

func (c Config) Batch() int {
	if c.Archive.BatchSize <= 0 {
		return defaultBatchSize
	}
	return c.Archive.BatchSize
}

func (c Config) WebhookTimeout() time.Duration {
	if c.Webhook.TimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Webhook.TimeoutMS) * time.Millisecond
}

func (c Config) APITimeout() time.Duration {
	if c.Room.APITimeoutMS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Room.APITimeoutMS) * time.Millisecond
}

// Redacted returns a loggable view of the config. Webhook URLs are the only
// secret-adjacent values and come back redacted.
func (c Config) Redacted() map[string]any {
	return map[string]any{
		"room": map[string]any{
			"id":            c.Room.ID,
			"uid":           c.Room.UID,
			"fetch_initial": c.Room.FetchInitial,
		},
		"log": map[string]any{
			"dir":     c.Log.Dir,
			"ext":     c.Log.Ext,
			"poll_ms": c.Log.PollMS,
			"tracker": c.Log.TrackerPath,
			"watch":   c.Log.Watch,
		},
		"archive": map[string]any{
			"sqlite_path": c.Archive.SQLitePath,
			"batch_size":  c.Archive.BatchSize,
			"flush_ms":    c.Archive.FlushMaxMS,
		},
		"milestone": map[string]any{
			"goal": c.Milestone.Goal,
		},
		"tts": map[string]any{
			"voice":         c.TTS.Voice,
			"speed":         c.TTS.SpeedNormal,
			"name_speed":    c.TTS.SpeedName,
			"audio_dir":     c.TTS.AudioDir,
			"commands_file": c.TTS.CommandsFile,
		},
		"webhook": map[string]any{
			"captain_enabled":  c.Webhook.CaptainEnabled,
			"captain_url":      redactString(c.Webhook.CaptainURL),
			"admiral_enabled":  c.Webhook.AdmiralEnabled,
			"admiral_url":      redactString(c.Webhook.AdmiralURL),
			"governor_enabled": c.Webhook.GovernorEnabled,
			"governor_url":     redactString(c.Webhook.GovernorURL),
			"timeout_ms":       c.Webhook.TimeoutMS,
			"per_minute":       c.Webhook.PerMinute,
		},
		"http": map[string]any{
			"addr":         c.HTTP.Addr,
			"rate_rps":     c.HTTP.RateRPS,
			"rate_burst":   c.HTTP.RateBurst,
			"cors_origins": append([]string(nil), c.HTTP.CORSOrigins...),
		},
		"autoplay": c.Autoplay,
	}
}

func (c Config) RedactedJSON() []byte {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return data
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}
