package announce

import "github.com/you/bili-companion/internal/core"

// NotificationType labels a playback lifecycle notification.
type NotificationType string

const (
	NotifyNowPlaying       NotificationType = "tts:now_playing"
	NotifyPlaybackComplete NotificationType = "tts:playback_complete"
	NotifyQueued           NotificationType = "tts:queued"
	NotifyQueueCleared     NotificationType = "tts:queue_cleared"
	NotifyReadChanged      NotificationType = "tts:read_changed"
)

// Notification is one discrete lifecycle update keyed by event id. The
// transport (SSE, WebSocket) is chosen by whoever implements Notifier.
type Notification struct {
	Type      NotificationType `json:"type"`
	EventID   string           `json:"event_id,omitempty"`
	Username  string           `json:"username,omitempty"`
	Text      string           `json:"text,omitempty"`
	Kind      core.EventKind   `json:"kind,omitempty"`
	IsCommand bool             `json:"is_command,omitempty"`
	Read      bool             `json:"read,omitempty"`
	Count     int              `json:"count,omitempty"`
}

// Notifier receives lifecycle notifications. Implementations must not block.
type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }
