// Package pipetrace tracks one log line's journey through the pipeline, for
// debugging lines that arrive but never play.
package pipetrace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
)

// Stage represents a pipeline stage used for tracking line processing.
type Stage string

const (
	StageSeenLine Stage = "seen_line"
	StageParsedOK Stage = "parsed_ok"
	StageRecorded Stage = "recorded"
	StageArchived Stage = "archived"
	StageEnqueued Stage = "enqueued"
	StagePlayed   Stage = "played"

	StageDroppedPrefix = "dropped_"
)

// StageDropped creates a Stage for a dropped line with the given reason.
func StageDropped(reason string) Stage {
	return Stage(fmt.Sprintf("%s%s", StageDroppedPrefix, reason))
}

// LineTrace captures trace metadata for a line throughout the pipeline.
type LineTrace struct {
	Room    string
	File    string
	Snippet string
	TraceID string

	mu       sync.Mutex
	counters map[Stage]int64
}

// NewTraceFromLine constructs a trace from tail metadata and seeds the
// seen_line counter.
func NewTraceFromLine(room, file, snippet string) *LineTrace {
	trace := &LineTrace{
		Room:     room,
		File:     file,
		Snippet:  snippet,
		TraceID:  computeTraceID(room, file, snippet),
		counters: make(map[Stage]int64),
	}

	trace.counters[StageSeenLine] = 1
	return trace
}

// IncCounter increments the counter for the provided stage and returns the updated value.
func (t *LineTrace) IncCounter(stage Stage) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counters[stage]++
	return t.counters[stage]
}

// LogTrace logs the trace metadata and counters using structured logging.
func (t *LineTrace) LogTrace(logger *slog.Logger, msg string) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info(msg,
		"trace_id", t.TraceID,
		"room", t.Room,
		"file", t.File,
		"snippet", t.Snippet,
		"counters", t.snapshotCounters(),
	)
}

func (t *LineTrace) snapshotCounters() map[Stage]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	copy := make(map[Stage]int64, len(t.counters))
	for stage, count := range t.counters {
		copy[stage] = count
	}

	return copy
}

func computeTraceID(room, file, snippet string) string {
	digest := sha256.Sum256([]byte(room + "\x1f" + file + "\x1f" + snippet))
	return hex.EncodeToString(digest[:])
}
