package tailer

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchDir layers fsnotify wakeups over the poll tick: writes and creates in
// the log directory poke the tailer immediately instead of waiting out the
// interval. The poll tick stays in place as the correctness backstop, so a
// broken watch only costs latency. The watcher shuts down when ctx is
// cancelled.
func (t *Tailer) WatchDir(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(t.opts.Dir); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		defer debounce.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(100 * time.Millisecond)
				}
			case <-debounce.C:
				t.Wake()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Error("tailer watch error", "err", err)
			}
		}
	}()
	return nil
}
