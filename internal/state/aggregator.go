// Package state holds the shared aggregate for one monitored room: revenue
// totals, milestone progress, guard counts and the announcement read/unread
// history. All access goes through atomic operations on the Aggregator; no
// raw fields are exposed and nothing blocks while the lock is held.
package state

import (
	"log"
	"sync"

	"github.com/you/bili-companion/internal/core"
)

// Playlist is the announcement queue surface the aggregator drives: enqueue
// on record when autoplay is on, drain when autoplay turns off. Both calls
// are non-blocking.
type Playlist interface {
	Enqueue(eventID string, markRead bool)
	Drain() int
}

// Snapshot is the read-only view handed to request handlers and push-update
// senders.
type Snapshot struct {
	PaidGiftTotalValue   float64        `json:"paid_gift_total_value"`
	PaidGiftCount        int            `json:"paid_gift_count"`
	MembershipTotalValue float64        `json:"membership_total_value"`
	SuperchatTotalValue  float64        `json:"superchat_total_value"`
	GuardCounts          map[string]int `json:"guard_counts"`
	MilestoneGoal        float64        `json:"milestone_goal"`
	MilestoneProgress    float64        `json:"milestone_progress"`
	MilestoneCount       int            `json:"milestone_count"`
	TotalGuardCount      int            `json:"total_guard_count"`
	Autoplay             bool           `json:"autoplay"`
	NowPlaying           string         `json:"now_playing,omitempty"`
	QueueEligible        int            `json:"announce_history_size"`
}

type announcement struct {
	ev   *core.ChatEvent
	read bool
}

// Aggregator is the single shared instance of AggregateState. One exclusive
// lock guards every operation; Record is the sole writer of the cumulative
// counters.
type Aggregator struct {
	mu sync.Mutex

	goal float64

	paidGiftValue   float64
	paidGiftCount   int
	membershipValue float64
	superchatValue  float64

	guardCounts       map[string]int
	totalGuardCount   int
	initialGuardCount int

	milestoneProgress float64
	milestoneCount    int

	autoplay   bool
	nowPlaying string

	// announcements retains every announce-eligible event seen this run,
	// keyed by id, in arrival order. Id collisions are last-write-wins.
	announcements map[string]*announcement
	order         []string

	queue Playlist

	// onQueued observes autoplay enqueues so the overlay surface can emit
	// a queued notification; invoked outside the lock.
	onQueued func(*core.ChatEvent)
}

func NewAggregator(goal float64, queue Playlist) *Aggregator {
	if goal <= 0 {
		goal = 500
	}
	return &Aggregator{
		goal:          goal,
		guardCounts:   make(map[string]int),
		announcements: make(map[string]*announcement),
		queue:         queue,
	}
}

// SetQueuedFunc installs the autoplay-enqueue observer. Install before the
// pipeline starts feeding Record.
func (a *Aggregator) SetQueuedFunc(fn func(*core.ChatEvent)) {
	a.mu.Lock()
	a.onQueued = fn
	a.mu.Unlock()
}

// Record folds one parsed event into the aggregate. Qualifying revenue moves
// milestone progress with a wrap loop (not a modulo): a single large event
// may cross the goal several times. Announce-eligible events enter the
// history map and, when autoplay is on, the playback queue.
func (a *Aggregator) Record(ev *core.ChatEvent) {
	if ev == nil {
		return
	}

	a.mu.Lock()

	switch ev.Kind {
	case core.KindPaidGift:
		if ev.Gift != nil {
			a.paidGiftValue += ev.Gift.Value
			a.paidGiftCount += ev.Gift.Quantity
			a.advanceMilestoneLocked(ev.Gift.Value)
		}
	case core.KindMembership:
		if ev.Membership != nil {
			a.guardCounts[ev.Membership.Tier] += ev.Membership.Duration
			a.totalGuardCount += ev.Membership.Duration
			a.membershipValue += ev.Membership.Value
			a.advanceMilestoneLocked(ev.Membership.Value)
		}
	case core.KindSuperchat:
		if ev.Superchat != nil {
			a.superchatValue += ev.Superchat.Amount
			a.advanceMilestoneLocked(ev.Superchat.Amount)
		}
	}

	queued := false
	if ev.AnnounceEligible && ev.ID != "" {
		if _, exists := a.announcements[ev.ID]; !exists {
			a.order = append(a.order, ev.ID)
		}
		a.announcements[ev.ID] = &announcement{ev: ev}
		if a.autoplay && a.queue != nil {
			a.queue.Enqueue(ev.ID, true)
			queued = true
		}
	}
	onQueued := a.onQueued
	a.mu.Unlock()

	if queued && onQueued != nil {
		onQueued(ev)
	}
}

func (a *Aggregator) advanceMilestoneLocked(value float64) {
	a.milestoneProgress += value
	for a.goal > 0 && a.milestoneProgress >= a.goal {
		a.milestoneProgress -= a.goal
		a.milestoneCount++
	}
}

// Recompute derives milestone count and progress from scratch against a new
// goal, avoiding drift from the sequential wrap logic.
func (a *Aggregator) Recompute(goal float64) {
	if goal <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	total := a.paidGiftValue + a.membershipValue + a.superchatValue
	a.goal = goal
	a.milestoneCount = int(total / goal)
	a.milestoneProgress = total - float64(a.milestoneCount)*goal
	log.Printf("state: recomputed milestones total=%.2f goal=%.2f count=%d progress=%.2f",
		total, goal, a.milestoneCount, a.milestoneProgress)
}

// SetInitialGuardCount seeds the running guard total from the external fetch.
func (a *Aggregator) SetInitialGuardCount(n int) {
	if n < 0 {
		n = 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	delta := n - a.initialGuardCount
	a.initialGuardCount = n
	a.totalGuardCount += delta
}

// Snapshot returns a consistent copy of the aggregate.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	counts := make(map[string]int, len(a.guardCounts))
	for tier, n := range a.guardCounts {
		counts[tier] = n
	}
	return Snapshot{
		PaidGiftTotalValue:   a.paidGiftValue,
		PaidGiftCount:        a.paidGiftCount,
		MembershipTotalValue: a.membershipValue,
		SuperchatTotalValue:  a.superchatValue,
		GuardCounts:          counts,
		MilestoneGoal:        a.goal,
		MilestoneProgress:    a.milestoneProgress,
		MilestoneCount:       a.milestoneCount,
		TotalGuardCount:      a.totalGuardCount,
		Autoplay:             a.autoplay,
		NowPlaying:           a.nowPlaying,
		QueueEligible:        len(a.announcements),
	}
}

// SetAutoplay flips the autoplay gate. Turning it off drains the queue
// without touching read flags; turning it on re-arms playback with exactly
// the oldest unread eligible event, not the full backlog.
func (a *Aggregator) SetAutoplay(on bool) {
	a.mu.Lock()
	if a.autoplay == on {
		a.mu.Unlock()
		return
	}
	a.autoplay = on

	var seed *core.ChatEvent
	if on {
		for _, id := range a.order {
			if ann := a.announcements[id]; ann != nil && !ann.read {
				seed = ann.ev
				break
			}
		}
	}
	onQueued := a.onQueued
	a.mu.Unlock()

	if !on {
		if a.queue != nil {
			if n := a.queue.Drain(); n > 0 {
				log.Printf("state: autoplay off, drained %d queued entries", n)
			}
		}
		return
	}
	if seed != nil && a.queue != nil {
		a.queue.Enqueue(seed.ID, true)
		if onQueued != nil {
			onQueued(seed)
		}
	}
}

// Autoplay reports the current autoplay state.
func (a *Aggregator) Autoplay() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.autoplay
}

// EventByID looks up an announce-eligible event from this run's history.
func (a *Aggregator) EventByID(id string) (*core.ChatEvent, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ann, ok := a.announcements[id]
	if !ok {
		return nil, false
	}
	return ann.ev, true
}

// IsRead reports the read flag for an event id.
func (a *Aggregator) IsRead(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	ann, ok := a.announcements[id]
	return ok && ann.read
}

// MarkRead sets the read flag. It returns true only when the flag flipped
// from unread to read.
func (a *Aggregator) MarkRead(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	ann, ok := a.announcements[id]
	if !ok || ann.read {
		return false
	}
	ann.read = true
	return true
}

// ToggleRead inverts the read flag and returns the new value. The second
// return reports whether the id was known.
func (a *Aggregator) ToggleRead(id string) (bool, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ann, ok := a.announcements[id]
	if !ok {
		return false, false
	}
	ann.read = !ann.read
	return ann.read, true
}

// Unread returns the unread announce-eligible events in arrival order.
func (a *Aggregator) Unread() []*core.ChatEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*core.ChatEvent
	for _, id := range a.order {
		if ann := a.announcements[id]; ann != nil && !ann.read {
			out = append(out, ann.ev)
		}
	}
	return out
}

// SetNowPlaying records the event currently being played, for status queries.
func (a *Aggregator) SetNowPlaying(id string) {
	a.mu.Lock()
	a.nowPlaying = id
	a.mu.Unlock()
}

// ClearNowPlaying clears the currently-playing marker.
func (a *Aggregator) ClearNowPlaying() {
	a.mu.Lock()
	a.nowPlaying = ""
	a.mu.Unlock()
}

// NowPlaying returns the id of the event being played, if any.
func (a *Aggregator) NowPlaying() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nowPlaying
}
