package config

import (
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"COMPANION_ROOM_ID", "COMPANION_UID", "COMPANION_FETCH_INITIAL_GUARDS",
		"COMPANION_LOG_DIR", "COMPANION_LOG_EXT", "COMPANION_POLL_MS",
		"COMPANION_TRACKER_PATH", "COMPANION_LOG_WATCH",
		"COMPANION_SQLITE_PATH", "COMPANION_ARCHIVE_BATCH_SIZE",
		"COMPANION_ARCHIVE_FLUSH_MAX_MS", "COMPANION_MILESTONE_GOAL",
		"COMPANION_TTS_VOICE", "COMPANION_TTS_SPEED", "COMPANION_TTS_NAME_SPEED",
		"COMPANION_WEBHOOK_CAPTAIN_ENABLED", "COMPANION_WEBHOOK_CAPTAIN_URL",
		"COMPANION_HTTP_ADDR", "COMPANION_HTTP_CORS_ORIGINS", "COMPANION_AUTOPLAY",
	} {
		t.Setenv(name, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()
	if cfg.Log.Dir != "log/messages" {
		t.Fatalf("log dir = %q", cfg.Log.Dir)
	}
	if cfg.Log.Ext != ".txt" {
		t.Fatalf("log ext = %q", cfg.Log.Ext)
	}
	if cfg.PollInterval() != 500*time.Millisecond {
		t.Fatalf("poll = %v", cfg.PollInterval())
	}
	if cfg.Archive.SQLitePath != "events.db" {
		t.Fatalf("sqlite path = %q", cfg.Archive.SQLitePath)
	}
	if cfg.Milestone.Goal != 500 {
		t.Fatalf("goal = %v", cfg.Milestone.Goal)
	}
	if cfg.HTTP.Addr != ":8090" {
		t.Fatalf("addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Autoplay {
		t.Fatal("autoplay should default off")
	}
	if cfg.Batch() != 1 || cfg.FlushInterval() != 0 {
		t.Fatalf("archive defaults = %d %v", cfg.Batch(), cfg.FlushInterval())
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("COMPANION_ROOM_ID", "1769174835")
	t.Setenv("COMPANION_UID", "42")
	t.Setenv("COMPANION_POLL_MS", "250")
	t.Setenv("COMPANION_MILESTONE_GOAL", "300.5")
	t.Setenv("COMPANION_AUTOPLAY", "true")
	t.Setenv("COMPANION_WEBHOOK_CAPTAIN_ENABLED", "1")
	t.Setenv("COMPANION_WEBHOOK_CAPTAIN_URL", "https://hooks.example/captain")
	t.Setenv("COMPANION_HTTP_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg := Load()
	if cfg.Room.ID != "1769174835" || cfg.Room.UID != "42" {
		t.Fatalf("room = %+v", cfg.Room)
	}
	if !cfg.Room.FetchInitial {
		t.Fatal("fetch initial should default on when uid set")
	}
	if cfg.PollInterval() != 250*time.Millisecond {
		t.Fatalf("poll = %v", cfg.PollInterval())
	}
	if cfg.Milestone.Goal != 300.5 {
		t.Fatalf("goal = %v", cfg.Milestone.Goal)
	}
	if !cfg.Autoplay {
		t.Fatal("autoplay not read")
	}
	if !cfg.Webhook.CaptainEnabled || cfg.Webhook.CaptainURL == "" {
		t.Fatalf("webhook = %+v", cfg.Webhook)
	}
	if len(cfg.HTTP.CORSOrigins) != 2 {
		t.Fatalf("cors = %v", cfg.HTTP.CORSOrigins)
	}
}

func TestInvalidNumbersFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("COMPANION_POLL_MS", "not-a-number")
	t.Setenv("COMPANION_MILESTONE_GOAL", "-5")

	cfg := Load()
	if cfg.Log.PollMS != 500 {
		t.Fatalf("poll ms = %d", cfg.Log.PollMS)
	}
	if cfg.Milestone.Goal != 500 {
		t.Fatalf("goal = %v", cfg.Milestone.Goal)
	}
}

func TestRedactedHidesWebhookURLs(t *testing.T) {
	clearEnv(t)
	t.Setenv("COMPANION_WEBHOOK_CAPTAIN_URL", "https://hooks.example/secret-path")

	out := string(Load().RedactedJSON())
	if strings.Contains(out, "secret-path") {
		t.Fatal("webhook url leaked into redacted output")
	}
	if !strings.Contains(out, "REDACTED") {
		t.Fatalf("redaction marker missing: %s", out)
	}
}
