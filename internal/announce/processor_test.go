package announce

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/you/bili-companion/internal/core"
	"github.com/you/bili-companion/internal/tts"
)

type memStore struct {
	mu         sync.Mutex
	events     map[string]*core.ChatEvent
	read       map[string]bool
	nowPlaying string
	wasPlaying []string
}

func newMemStore(events ...*core.ChatEvent) *memStore {
	s := &memStore{events: make(map[string]*core.ChatEvent), read: make(map[string]bool)}
	for _, ev := range events {
		s.events[ev.ID] = ev
	}
	return s
}

func (s *memStore) EventByID(id string) (*core.ChatEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	return ev, ok
}

func (s *memStore) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.read[id] {
		return false
	}
	s.read[id] = true
	return true
}

func (s *memStore) SetNowPlaying(id string) {
	s.mu.Lock()
	s.nowPlaying = id
	s.wasPlaying = append(s.wasPlaying, id)
	s.mu.Unlock()
}

func (s *memStore) ClearNowPlaying() {
	s.mu.Lock()
	s.nowPlaying = ""
	s.mu.Unlock()
}

type fakeEngine struct {
	mu       sync.Mutex
	rendered []string
}

func (e *fakeEngine) Render(ctx context.Context, text, voice string, speed float64) ([]byte, error) {
	e.mu.Lock()
	e.rendered = append(e.rendered, text)
	e.mu.Unlock()
	return []byte("audio"), nil
}

type fakeOutput struct {
	mu    sync.Mutex
	plays int
}

func (o *fakeOutput) Play(ctx context.Context, audio []byte) error {
	o.mu.Lock()
	o.plays++
	o.mu.Unlock()
	return nil
}

type fakeWebhook struct {
	mu   sync.Mutex
	tags []string
}

func (w *fakeWebhook) Trigger(ctx context.Context, tag string) bool {
	w.mu.Lock()
	w.tags = append(w.tags, tag)
	w.mu.Unlock()
	return true
}

type recordingNotifier struct {
	mu    sync.Mutex
	got   []Notification
	seen  chan NotificationType
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{seen: make(chan NotificationType, 64)}
}

func (r *recordingNotifier) Notify(n Notification) {
	r.mu.Lock()
	r.got = append(r.got, n)
	r.mu.Unlock()
	r.seen <- n.Type
}

func (r *recordingNotifier) waitFor(t *testing.T, want NotificationType) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case typ := <-r.seen:
			if typ == want {
				return
			}
		case <-deadline:
			t.Fatalf("never saw notification %s", want)
		}
	}
}

func fastOpts() Options {
	return Options{
		WebhookCooldown:   time.Millisecond,
		InterMessageDelay: time.Millisecond,
		ErrorBackoff:      time.Millisecond,
	}
}

func superchatEvent(id, text string) *core.ChatEvent {
	return &core.ChatEvent{
		ID:               id,
		Kind:             core.KindSuperchat,
		Username:         "fan",
		Superchat:        &core.SuperchatPayload{Amount: 30, Text: text, Currency: "元"},
		AnnounceEligible: true,
		AnnounceText:     "fan 发送了醒目留言：" + text,
	}
}

func TestProcessorPlaysAndMarksRead(t *testing.T) {
	ev := superchatEvent("s1", "hello")
	store := newMemStore(ev)
	engine := &fakeEngine{}
	out := &fakeOutput{}
	speaker := tts.NewSpeaker(engine, out, tts.VoiceConfig{}, t.TempDir())
	notifier := newRecordingNotifier()

	q := NewQueue()
	p := NewProcessor(q, store, speaker, tts.NewCommands(nil), nil, notifier, fastOpts())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	q.Enqueue("s1", true)
	notifier.waitFor(t, NotifyPlaybackComplete)
	cancel()
	<-done

	if !store.read["s1"] {
		t.Fatal("event not marked read after playback")
	}
	if store.nowPlaying != "" {
		t.Fatalf("now playing = %q after shutdown, want empty", store.nowPlaying)
	}
	engine.mu.Lock()
	defer engine.mu.Unlock()
	if len(engine.rendered) != 1 || engine.rendered[0] != ev.AnnounceText {
		t.Fatalf("rendered = %v", engine.rendered)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	var sawNowPlaying, sawReadChanged bool
	for _, n := range notifier.got {
		switch n.Type {
		case NotifyNowPlaying:
			sawNowPlaying = true
		case NotifyReadChanged:
			sawReadChanged = true
			if n.EventID != "s1" || !n.Read {
				t.Fatalf("read_changed = %+v", n)
			}
		}
	}
	if !sawNowPlaying || !sawReadChanged {
		t.Fatalf("missing lifecycle notifications: %+v", notifier.got)
	}
}

func TestProcessorManualReplayKeepsReadFlag(t *testing.T) {
	ev := superchatEvent("s1", "again")
	store := newMemStore(ev)
	store.read["s1"] = true
	speaker := tts.NewSpeaker(&fakeEngine{}, &fakeOutput{}, tts.VoiceConfig{}, t.TempDir())
	notifier := newRecordingNotifier()

	q := NewQueue()
	p := NewProcessor(q, store, speaker, tts.NewCommands(nil), nil, notifier, fastOpts())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	// Manual replay of an already-read message.
	q.Enqueue("s1", true)
	notifier.waitFor(t, NotifyPlaybackComplete)
	cancel()
	<-done

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	for _, n := range notifier.got {
		if n.Type == NotifyReadChanged {
			t.Fatal("replay of a read message must not emit read_changed")
		}
	}
}

func TestProcessorSkipsUnknownEvent(t *testing.T) {
	store := newMemStore(superchatEvent("known", "hi"))
	speaker := tts.NewSpeaker(&fakeEngine{}, &fakeOutput{}, tts.VoiceConfig{}, t.TempDir())
	notifier := newRecordingNotifier()

	q := NewQueue()
	p := NewProcessor(q, store, speaker, tts.NewCommands(nil), nil, notifier, fastOpts())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	q.Enqueue("ghost", true)
	q.Enqueue("known", true)
	notifier.waitFor(t, NotifyPlaybackComplete)
	cancel()
	<-done

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	for _, n := range notifier.got {
		if n.EventID == "ghost" {
			t.Fatalf("unknown entry produced notification %+v", n)
		}
	}
}

func TestProcessorTriggersWebhookForTaggedEvent(t *testing.T) {
	ev := superchatEvent("m1", "")
	ev.Kind = core.KindMembership
	ev.RoutingTag = core.TierCaptain
	ev.AnnounceText = "fan 购买了舰长"
	store := newMemStore(ev)
	wh := &fakeWebhook{}
	speaker := tts.NewSpeaker(&fakeEngine{}, &fakeOutput{}, tts.VoiceConfig{}, t.TempDir())
	notifier := newRecordingNotifier()

	q := NewQueue()
	p := NewProcessor(q, store, speaker, tts.NewCommands(nil), wh, notifier, fastOpts())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	q.Enqueue("m1", true)
	notifier.waitFor(t, NotifyPlaybackComplete)
	cancel()
	<-done

	wh.mu.Lock()
	defer wh.mu.Unlock()
	if len(wh.tags) != 1 || wh.tags[0] != core.TierCaptain {
		t.Fatalf("webhook tags = %v", wh.tags)
	}
}

func TestProcessorDegradesWithoutEngine(t *testing.T) {
	ev := superchatEvent("s1", "quiet")
	store := newMemStore(ev)
	speaker := tts.NewSpeaker(nil, nil, tts.VoiceConfig{}, t.TempDir())
	notifier := newRecordingNotifier()

	q := NewQueue()
	p := NewProcessor(q, store, speaker, tts.NewCommands(nil), nil, notifier, fastOpts())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	q.Enqueue("s1", true)
	// Render failures degrade to logs; the lifecycle still completes and the
	// event is still marked read.
	notifier.waitFor(t, NotifyPlaybackComplete)
	cancel()
	<-done

	if !store.read["s1"] {
		t.Fatal("degraded playback should still mark the event read")
	}
}
