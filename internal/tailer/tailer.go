// Package tailer discovers per-day room chat logs, drains historical files to
// completion and incrementally tails the newest one, handing each line to the
// pipeline. One Tailer owns its cursor and file handle exclusively.
package tailer

import (
	"bufio"
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/you/bili-companion/internal/tracker"
)

// LineHandler receives raw log lines in file order, along with the path of
// the file they came from. Blank lines are filtered out before the handler
// is called.
type LineHandler func(file, line string)

// Options configure a Tailer. Room is a provider so the monitored room can be
// set after startup; the tailer idles until it returns a non-empty id.
type Options struct {
	Dir          string
	Room         func() string
	Ext          string
	PollInterval time.Duration
	IdleInterval time.Duration
	Now          func() time.Time
}

type Tailer struct {
	opts   Options
	ledger *tracker.Set
	handle LineHandler
	wake   chan struct{}
}

func New(opts Options, ledger *tracker.Set, handle LineHandler) *Tailer {
	if opts.Ext == "" {
		opts.Ext = ".txt"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.IdleInterval <= 0 {
		opts.IdleInterval = 2 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Room == nil {
		opts.Room = func() string { return "" }
	}
	return &Tailer{
		opts:   opts,
		ledger: ledger,
		handle: handle,
		wake:   make(chan struct{}, 1),
	}
}

// Wake pokes the tailer to re-scan before the next poll tick. Non-blocking.
func (t *Tailer) Wake() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

type cursor struct {
	path   string
	file   *os.File
	offset int64
}

func (c *cursor) close() {
	if c.file != nil {
		c.file.Close()
		c.file = nil
	}
}

// Run is the tailer's long-lived loop. Errors inside one iteration are logged
// and retried on the next tick; only ctx cancellation ends the loop, closing
// any open handle on the way out.
func (t *Tailer) Run(ctx context.Context) error {
	room, err := t.waitForRoom(ctx)
	if err != nil {
		return err
	}
	log.Printf("tailer: watching %s for room %s", t.opts.Dir, room)

	var cur *cursor
	defer func() {
		if cur != nil {
			cur.close()
		}
	}()

	for {
		room = t.opts.Room()
		cur = t.iterate(room, cur)

		if !t.sleep(ctx, t.opts.PollInterval) {
			return ctx.Err()
		}
	}
}

// iterate runs one scan/drain/tail pass and returns the (possibly replaced)
// active cursor.
func (t *Tailer) iterate(room string, cur *cursor) *cursor {
	files, err := t.scan(room)
	if err != nil {
		log.Printf("tailer: list %s: %v", t.opts.Dir, err)
		return cur
	}

	if len(files) == 0 {
		// Day rollover or a quiet start: keep tailing whatever we already
		// hold so trailing lines written after midnight are not lost.
		if cur != nil {
			cur = t.tailOnce(cur)
		}
		return cur
	}

	target := files[len(files)-1]
	for _, fp := range files[:len(files)-1] {
		if cur != nil && cur.path == fp {
			// A newer file appeared while tailing this one: finish it from
			// the current offset, don't re-read from zero.
			log.Printf("tailer: newer file detected, finishing %s", filepath.Base(fp))
			cur = t.finish(cur)
			continue
		}
		t.drain(fp)
	}

	if cur != nil && cur.path != target {
		cur = t.finish(cur)
	}
	if cur == nil {
		f, err := os.Open(target)
		if err != nil {
			log.Printf("tailer: open %s: %v", target, err)
			return nil
		}
		log.Printf("tailer: tailing %s", filepath.Base(target))
		cur = &cursor{path: target, file: f}
	}

	return t.tailOnce(cur)
}

// scan lists files named room_{id}-{today}_*{ext}, skipping names already in
// the ledger, sorted lexically (embedded timestamps sort chronologically).
func (t *Tailer) scan(room string) ([]string, error) {
	entries, err := os.ReadDir(t.opts.Dir)
	if err != nil {
		return nil, err
	}
	prefix := "room_" + room + "-" + t.opts.Now().Format("20060102") + "_"
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, t.opts.Ext) {
			continue
		}
		if t.ledger != nil && t.ledger.IsProcessed(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(t.opts.Dir, n)
	}
	return paths, nil
}

// drain reads a historical file start to finish and marks it processed.
func (t *Tailer) drain(path string) {
	log.Printf("tailer: draining %s", filepath.Base(path))
	f, err := os.Open(path)
	if err != nil {
		log.Printf("tailer: open %s: %v", path, err)
		return
	}
	defer f.Close()

	if _, err := t.readLines(path, f, true); err != nil {
		log.Printf("tailer: drain %s: %v", path, err)
		return
	}
	t.markProcessed(path)
}

// finish reads the remainder of the active file from its offset, marks it
// processed and closes it.
func (t *Tailer) finish(cur *cursor) *cursor {
	if _, err := cur.file.Seek(cur.offset, io.SeekStart); err != nil {
		log.Printf("tailer: seek %s: %v", cur.path, err)
		cur.close()
		return nil
	}
	if _, err := t.readLines(cur.path, cur.file, true); err != nil {
		log.Printf("tailer: finish %s: %v", cur.path, err)
		cur.close()
		return nil
	}
	cur.close()
	t.markProcessed(cur.path)
	return nil
}

// tailOnce reads newly appended complete lines and advances the offset.
// Truncation resets to zero. Errors drop the cursor; the next tick re-opens.
func (t *Tailer) tailOnce(cur *cursor) *cursor {
	fi, err := os.Stat(cur.path)
	if err != nil {
		log.Printf("tailer: stat %s: %v", cur.path, err)
		cur.close()
		return nil
	}
	if fi.Size() < cur.offset {
		log.Printf("tailer: %s truncated, rewinding", filepath.Base(cur.path))
		cur.offset = 0
	}
	if _, err := cur.file.Seek(cur.offset, io.SeekStart); err != nil {
		log.Printf("tailer: seek %s: %v", cur.path, err)
		cur.close()
		return nil
	}
	n, err := t.readLines(cur.path, cur.file, false)
	if err != nil {
		log.Printf("tailer: read %s: %v", cur.path, err)
		cur.close()
		return nil
	}
	cur.offset += n
	return cur
}

// readLines reads from r's current position, emitting complete lines. With
// final set, a trailing unterminated line is emitted too (file is done
// growing); otherwise it stays on disk for the next tick. Returns the byte
// count consumed by emitted lines.
func (t *Tailer) readLines(path string, r io.Reader, final bool) (int64, error) {
	br := bufio.NewReader(r)
	var consumed int64
	for {
		line, err := br.ReadString('\n')
		if err == nil {
			consumed += int64(len(line))
			t.emit(path, line)
			continue
		}
		if err == io.EOF {
			if final && line != "" {
				consumed += int64(len(line))
				t.emit(path, line)
			}
			return consumed, nil
		}
		return consumed, err
	}
}

func (t *Tailer) emit(path, line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}
	t.handle(path, line)
}

func (t *Tailer) markProcessed(path string) {
	if t.ledger == nil {
		return
	}
	if err := t.ledger.MarkProcessed(filepath.Base(path)); err != nil {
		log.Printf("tailer: mark processed %s: %v", filepath.Base(path), err)
	}
}

func (t *Tailer) waitForRoom(ctx context.Context) (string, error) {
	for {
		if room := t.opts.Room(); room != "" {
			return room, nil
		}
		log.Printf("tailer: room id not configured, waiting")
		if !t.sleep(ctx, t.opts.IdleInterval) {
			return "", ctx.Err()
		}
	}
}

// sleep waits for d, an external wake or cancellation. Returns false only on
// cancellation.
func (t *Tailer) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.wake:
		return true
	case <-timer.C:
		return true
	}
}
