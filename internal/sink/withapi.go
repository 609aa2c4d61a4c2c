package sink

import "github.com/you/bili-companion/internal/core"

type broadcaster interface {
	BroadcastEvent(*core.ChatEvent)
}

// WithBroadcast archives the event first, then pushes it to connected
// overlay clients. A failed insert suppresses the push so clients never see
// events the archive does not have.
type WithBroadcast struct {
	*SQLiteSink
	api broadcaster
}

func WithAPI(base *SQLiteSink, api broadcaster) *WithBroadcast {
	return &WithBroadcast{SQLiteSink: base, api: api}
}

func (w *WithBroadcast) Write(ev *core.ChatEvent) error {
	if err := w.SQLiteSink.Write(ev); err != nil {
		return err
	}
	if w.api != nil {
		w.api.BroadcastEvent(ev)
	}
	return nil
}
