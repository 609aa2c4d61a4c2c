package core

import "time"

// EventKind identifies the chat event variant. Values match the kind tags
// embedded in the room log lines.
type EventKind string

const (
	KindMessage    EventKind = "dm"
	KindFreeGift   EventKind = "free_gift"
	KindPaidGift   EventKind = "paid_gift"
	KindMembership EventKind = "guard"
	KindSuperchat  EventKind = "superchat"
)

// ParseKind maps a raw kind tag to an EventKind.
func ParseKind(tag string) (EventKind, bool) {
	switch EventKind(tag) {
	case KindMessage, KindFreeGift, KindPaidGift, KindMembership, KindSuperchat:
		return EventKind(tag), true
	}
	return "", false
}

// Membership tier routing tags used for webhook dispatch.
const (
	TierCaptain  = "captain"
	TierAdmiral  = "admiral"
	TierGovernor = "governor"
)

type MessagePayload struct {
	Text string `json:"text"`
}

type GiftPayload struct {
	GiftName string  `json:"gift_name"`
	Quantity int     `json:"quantity"`
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
}

type MembershipPayload struct {
	Duration int     `json:"duration"` // months purchased
	Tier     string  `json:"tier"`     // raw tier name from the log line
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
}

type SuperchatPayload struct {
	Amount   float64 `json:"amount"`
	Text     string  `json:"text"`
	Currency string  `json:"currency"`
}

// ChatEvent is the unified event structure produced by the parser. Exactly one
// payload pointer is set, matching Kind. Events are immutable once parsed;
// read/unread bookkeeping lives in the aggregator, not here.
type ChatEvent struct {
	ID       string    `json:"id"`
	Ts       time.Time `json:"ts"`
	Kind     EventKind `json:"kind"`
	Username string    `json:"username"`

	Message    *MessagePayload    `json:"message,omitempty"`
	Gift       *GiftPayload       `json:"gift,omitempty"`
	Membership *MembershipPayload `json:"membership,omitempty"`
	Superchat  *SuperchatPayload  `json:"superchat,omitempty"`

	AnnounceEligible bool   `json:"announce_eligible"`
	AnnounceText     string `json:"announce_text,omitempty"`
	RoutingTag       string `json:"routing_tag,omitempty"`
}

// QualifyingValue returns the revenue that counts toward the milestone goal:
// paid gifts, memberships and superchats. Free gifts and plain messages are 0.
func (e *ChatEvent) QualifyingValue() float64 {
	switch e.Kind {
	case KindPaidGift:
		if e.Gift != nil {
			return e.Gift.Value
		}
	case KindMembership:
		if e.Membership != nil {
			return e.Membership.Value
		}
	case KindSuperchat:
		if e.Superchat != nil {
			return e.Superchat.Amount
		}
	}
	return 0
}
