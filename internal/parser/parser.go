// Package parser turns raw room-log lines into typed chat events.
//
// The line grammar is fixed: "<YYYY-MM-DD HH:MM:SS> [<kind-tag>] <free text>".
// Sub-parsers locate delimiter tokens positionally rather than tokenizing;
// the delimiters mirror the log writer exactly, so a format drift yields a
// dropped line, not a wrong event.
package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/you/bili-companion/internal/core"
)

const tsLayout = "2006-01-02 15:04:05"

const (
	sepGave       = " 赠送了 "
	sepQty        = " x "
	sepComma      = "，"
	sepTotal      = "总价 "
	sepBought     = " 购买了 "
	sepSent       = " 发送了 "
	sepSuperchat  = " 元的醒目留言："
	sepColon      = "："
	currencyCoin  = "银瓜子"
	currencyYuan  = "元"
	tierUnknown   = "未知舰队等级"
	thanksSuffix  = "。\t 非常感谢您的支持！"
	superchatSays = "说: "
)

// tierRouting maps the raw tier token from the log line to a webhook routing tag.
var tierRouting = map[string]string{
	"舰长": core.TierCaptain,
	"提督": core.TierAdmiral,
	"总督": core.TierGovernor,
}

// tierTokens is the fallback scan order, highest-frequency tier first.
var tierTokens = []string{"舰长", "提督", "总督"}

var membershipRe = regexp.MustCompile(`^(.+?) 购买了 (\d+)([^\s]+) (舰长|提督|总督)，总价 ([\d.]+) 元$`)

// Parse converts one log line into a ChatEvent. Malformed lines, unknown kind
// tags and missing delimiters all yield ok=false; Parse never panics and has
// no side effects.
func Parse(line string) (*core.ChatEvent, bool) {
	line = strings.TrimRight(line, "\r\n")

	tsEnd := strings.Index(line, " [")
	if tsEnd == -1 {
		return nil, false
	}
	tsStr := strings.TrimPrefix(line[:tsEnd], "\uFEFF")
	ts, err := time.Parse(tsLayout, tsStr)
	if err != nil {
		return nil, false
	}

	tagStart := tsEnd + 2
	tagEnd := strings.Index(line[tagStart:], "]")
	if tagEnd == -1 {
		return nil, false
	}
	tagEnd += tagStart
	kind, ok := core.ParseKind(line[tagStart:tagEnd])
	if !ok {
		return nil, false
	}
	if tagEnd+2 > len(line) {
		return nil, false
	}
	content := strings.TrimSpace(line[tagEnd+2:])

	switch kind {
	case core.KindMessage:
		return parseMessage(ts, content)
	case core.KindFreeGift:
		return parseGift(ts, content, core.KindFreeGift, currencyCoin)
	case core.KindPaidGift:
		return parseGift(ts, content, core.KindPaidGift, currencyYuan)
	case core.KindMembership:
		return parseMembership(ts, content)
	case core.KindSuperchat:
		return parseSuperchat(ts, content)
	}
	return nil, false
}

func parseMessage(ts time.Time, content string) (*core.ChatEvent, bool) {
	username, text, _ := strings.Cut(content, sepColon)
	return &core.ChatEvent{
		ID:       EventID(ts, username, "dm"),
		Ts:       ts,
		Kind:     core.KindMessage,
		Username: username,
		Message:  &core.MessagePayload{Text: text},
	}, true
}

func parseGift(ts time.Time, content string, kind core.EventKind, currency string) (*core.ChatEvent, bool) {
	nameEnd := strings.Index(content, sepGave)
	if nameEnd == -1 {
		return nil, false
	}
	username := content[:nameEnd]
	rest := content[nameEnd+len(sepGave):]

	giftEnd := strings.Index(rest, sepQty)
	if giftEnd == -1 {
		return nil, false
	}
	giftName := rest[:giftEnd]
	rest = rest[giftEnd+len(sepQty):]

	qtyEnd := strings.Index(rest, sepComma)
	if qtyEnd == -1 {
		return nil, false
	}
	qty, err := strconv.Atoi(rest[:qtyEnd])
	if err != nil {
		return nil, false
	}

	value, ok := scanTotal(content, currency)
	if !ok {
		return nil, false
	}

	return &core.ChatEvent{
		ID:       EventID(ts, username, string(kind)),
		Ts:       ts,
		Kind:     kind,
		Username: username,
		Gift: &core.GiftPayload{
			GiftName: giftName,
			Quantity: qty,
			Value:    value,
			Currency: currency,
		},
	}, true
}

func parseMembership(ts time.Time, content string) (*core.ChatEvent, bool) {
	var (
		username string
		duration int
		tier     string
		value    float64
	)

	if m := membershipRe.FindStringSubmatch(content); m != nil {
		username = m[1]
		d, err := strconv.Atoi(m[2])
		if err != nil {
			return nil, false
		}
		duration = d
		tier = m[4]
		v, err := strconv.ParseFloat(m[5], 64)
		if err != nil {
			return nil, false
		}
		value = v
	} else {
		// Fallback scan tolerating minor format drift around the tier token.
		nameEnd := strings.Index(content, sepBought)
		if nameEnd == -1 {
			return nil, false
		}
		username = content[:nameEnd]
		rest := content[nameEnd+len(sepBought):]

		digits := 0
		for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
			digits++
		}
		if digits == 0 {
			return nil, false
		}
		d, err := strconv.Atoi(rest[:digits])
		if err != nil {
			return nil, false
		}
		duration = d

		tier = tierUnknown
		for _, token := range tierTokens {
			if strings.Contains(content, token) {
				tier = token
				break
			}
		}

		v, ok := scanTotal(content, currencyYuan)
		if !ok {
			return nil, false
		}
		value = v
	}

	idTag := tierRouting[tier]
	if idTag == "" {
		idTag = "unknown"
	}
	return &core.ChatEvent{
		ID:       EventID(ts, username, "guard_"+idTag),
		Ts:       ts,
		Kind:     core.KindMembership,
		Username: username,
		Membership: &core.MembershipPayload{
			Duration: duration,
			Tier:     tier,
			Value:    value,
			Currency: currencyYuan,
		},
		AnnounceEligible: true,
		AnnounceText:     username + thanksSuffix,
		RoutingTag:       tierRouting[tier],
	}, true
}

func parseSuperchat(ts time.Time, content string) (*core.ChatEvent, bool) {
	nameEnd := strings.Index(content, sepSent)
	if nameEnd == -1 {
		return nil, false
	}
	username := content[:nameEnd]
	rest := content[nameEnd+len(sepSent):]

	amountEnd := strings.Index(rest, sepSuperchat)
	if amountEnd == -1 {
		return nil, false
	}
	amount, err := strconv.ParseFloat(rest[:amountEnd], 64)
	if err != nil {
		return nil, false
	}
	text := rest[amountEnd+len(sepSuperchat):]

	return &core.ChatEvent{
		ID:       EventID(ts, username, "sc"),
		Ts:       ts,
		Kind:     core.KindSuperchat,
		Username: username,
		Superchat: &core.SuperchatPayload{
			Amount:   amount,
			Text:     text,
			Currency: currencyYuan,
		},
		AnnounceEligible: true,
		AnnounceText:     username + superchatSays + text,
	}, true
}

// scanTotal extracts the "总价 <n> <currency>" value from the tail of a line.
func scanTotal(content, currency string) (float64, bool) {
	start := strings.Index(content, sepTotal)
	if start == -1 {
		return 0, false
	}
	rest := content[start+len(sepTotal):]
	end := strings.Index(rest, " "+currency)
	if end == -1 {
		return 0, false
	}
	v, err := strconv.ParseFloat(rest[:end], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// EventID derives a deterministic event identifier from timestamp, username
// and kind suffix. Two lines with identical components collide by design;
// downstream maps treat that as last-write-wins.
func EventID(ts time.Time, username, suffix string) string {
	digest := sha256.Sum256([]byte(ts.Format(time.RFC3339) + "\x1f" + username + "\x1f" + suffix))
	return hex.EncodeToString(digest[:16])
}
