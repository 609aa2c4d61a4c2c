package announce

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/you/bili-companion/internal/core"
	"github.com/you/bili-companion/internal/tts"
)

// Store is the read/unread bookkeeping the processor needs from the
// aggregate state.
type Store interface {
	EventByID(id string) (*core.ChatEvent, bool)
	MarkRead(id string) bool
	SetNowPlaying(id string)
	ClearNowPlaying()
}

// Webhook triggers a routing-tag-specific outbound call. Implementations
// return false when the tag is disabled, unconfigured or the call failed.
type Webhook interface {
	Trigger(ctx context.Context, tag string) bool
}

// Options tune the processor's pacing.
type Options struct {
	// WebhookCooldown is how long to wait after triggering a webhook before
	// playback starts, rate-limiting outbound calls.
	WebhookCooldown time.Duration
	// InterMessageDelay separates consecutive playbacks.
	InterMessageDelay time.Duration
	// ErrorBackoff is the pause after an unexpected per-entry failure.
	ErrorBackoff time.Duration
}

// Processor is the single queue consumer: it plays exactly one entry at a
// time, marking events read and emitting lifecycle notifications.
type Processor struct {
	queue    *Queue
	store    Store
	speaker  *tts.Speaker
	commands *tts.Commands
	webhook  Webhook
	notifier Notifier
	opts     Options
}

func NewProcessor(queue *Queue, store Store, speaker *tts.Speaker, commands *tts.Commands, webhook Webhook, notifier Notifier, opts Options) *Processor {
	if opts.WebhookCooldown <= 0 {
		opts.WebhookCooldown = time.Second
	}
	if opts.InterMessageDelay <= 0 {
		opts.InterMessageDelay = 500 * time.Millisecond
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = time.Second
	}
	return &Processor{
		queue:    queue,
		store:    store,
		speaker:  speaker,
		commands: commands,
		webhook:  webhook,
		notifier: notifier,
		opts:     opts,
	}
}

// Run consumes the queue until ctx is cancelled. Failures inside one entry
// never terminate the loop; the processor logs, backs off briefly and keeps
// going. No event is left marked now-playing on shutdown.
func (p *Processor) Run(ctx context.Context) error {
	log.Printf("announce: processor started")
	for {
		entry, err := p.queue.Dequeue(ctx)
		if err != nil {
			log.Printf("announce: processor stopped")
			return err
		}

		if err := p.playOne(ctx, entry); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Printf("announce: processor stopped")
				return ctx.Err()
			}
			log.Printf("announce: playback %s: %v", entry.EventID, err)
			if !sleepContext(ctx, p.opts.ErrorBackoff) {
				return ctx.Err()
			}
			continue
		}

		if !sleepContext(ctx, p.opts.InterMessageDelay) {
			return ctx.Err()
		}
	}
}

func (p *Processor) playOne(ctx context.Context, entry Entry) error {
	ev, ok := p.store.EventByID(entry.EventID)
	if !ok {
		log.Printf("announce: unknown event %s dequeued; skipping", entry.EventID)
		return nil
	}

	p.store.SetNowPlaying(ev.ID)
	defer p.store.ClearNowPlaying()

	if ev.RoutingTag != "" && p.webhook != nil {
		p.webhook.Trigger(ctx, ev.RoutingTag)
		if !sleepContext(ctx, p.opts.WebhookCooldown) {
			return ctx.Err()
		}
	}

	for _, seg := range p.commands.Split(ev.AnnounceText) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.notify(Notification{
			Type:      NotifyNowPlaying,
			EventID:   ev.ID,
			Username:  ev.Username,
			Text:      seg.Text,
			Kind:      ev.Kind,
			IsCommand: seg.IsCommand,
		})
		if seg.IsCommand {
			cmd, ok := p.commands.Lookup(seg.Text)
			if !ok {
				continue
			}
			if err := p.speaker.PlayCommand(ctx, cmd.Filename); err != nil {
				// Degraded playback: a missing sound never blocks the rest
				// of the announcement.
				log.Printf("announce: command %q: %v", seg.Text, err)
			}
			continue
		}
		if err := p.speaker.Say(ctx, seg.Text, false); err != nil {
			log.Printf("announce: render %s: %v", ev.ID, err)
		}
	}

	if entry.MarkRead {
		if p.store.MarkRead(ev.ID) {
			p.notify(Notification{Type: NotifyReadChanged, EventID: ev.ID, Read: true})
		}
	}

	p.notify(Notification{Type: NotifyPlaybackComplete, EventID: ev.ID})
	return nil
}

func (p *Processor) notify(n Notification) {
	if p.notifier != nil {
		p.notifier.Notify(n)
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
