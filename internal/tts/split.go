package tts

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// maxInlineCommands caps how many sound commands a single announcement may
// interleave; beyond this the text plays unsplit to avoid command spam.
const maxInlineCommands = 3

// Command is one registered sound trigger.
type Command struct {
	Filename string
	Volume   float64
}

// Segment is one playable piece of an announcement: either spoken text or a
// sound-command trigger, in source order.
type Segment struct {
	Text      string
	IsCommand bool
}

// Commands is the registry of sound-command triggers available to chat.
type Commands struct {
	mu       sync.RWMutex
	commands map[string]Command
	pattern  *regexp.Regexp
}

func NewCommands(commands map[string]Command) *Commands {
	c := &Commands{commands: make(map[string]Command)}
	for trigger, cmd := range commands {
		if trigger == "" {
			continue
		}
		if cmd.Volume <= 0 {
			cmd.Volume = 1.0
		}
		c.commands[trigger] = cmd
	}
	c.rebuildLocked()
	return c
}

// rebuildLocked recompiles the trigger alternation, longest trigger first so
// overlapping triggers match greedily.
func (c *Commands) rebuildLocked() {
	if len(c.commands) == 0 {
		c.pattern = nil
		return
	}
	triggers := make([]string, 0, len(c.commands))
	for trigger := range c.commands {
		triggers = append(triggers, trigger)
	}
	sort.Slice(triggers, func(i, j int) bool {
		if len(triggers[i]) != len(triggers[j]) {
			return len(triggers[i]) > len(triggers[j])
		}
		return triggers[i] < triggers[j]
	})
	for i, trigger := range triggers {
		triggers[i] = regexp.QuoteMeta(trigger)
	}
	c.pattern = regexp.MustCompile(strings.Join(triggers, "|"))
}

// Lookup returns the registered command for a trigger.
func (c *Commands) Lookup(trigger string) (Command, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cmd, ok := c.commands[trigger]
	return cmd, ok
}

// Set registers or updates a trigger.
func (c *Commands) Set(trigger string, cmd Command) {
	if trigger == "" {
		return
	}
	if cmd.Volume <= 0 {
		cmd.Volume = 1.0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands[trigger] = cmd
	c.rebuildLocked()
}

// Delete removes a trigger.
func (c *Commands) Delete(trigger string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.commands, trigger)
	c.rebuildLocked()
}

// Split separates text into spoken and command segments in source order. When
// the text embeds more than maxInlineCommands triggers, the whole text is
// returned as a single spoken segment instead.
func (c *Commands) Split(text string) []Segment {
	if c == nil {
		return []Segment{{Text: text}}
	}
	c.mu.RLock()
	pattern := c.pattern
	c.mu.RUnlock()
	if pattern == nil {
		return []Segment{{Text: text}}
	}

	var (
		segments []Segment
		pos      int
		count    int
	)
	for _, loc := range pattern.FindAllStringIndex(text, -1) {
		if pre := strings.TrimSpace(text[pos:loc[0]]); pre != "" {
			segments = append(segments, Segment{Text: pre})
		}
		segments = append(segments, Segment{Text: text[loc[0]:loc[1]], IsCommand: true})
		count++
		pos = loc[1]
	}
	if tail := strings.TrimSpace(text[pos:]); tail != "" {
		segments = append(segments, Segment{Text: tail})
	}

	if count == 0 {
		return []Segment{{Text: text}}
	}
	if count > maxInlineCommands {
		return []Segment{{Text: text}}
	}
	return segments
}
