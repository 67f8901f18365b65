// Package parser turns the engine's raw stdout stream into typed events.
//
// The engine writes human-oriented lines: phase banners, assistant prompts,
// a completion banner, and decorative output. The parser splits the byte
// stream into lines regardless of how it was chunked, then classifies each
// line against an ordered rule table. The first matching rule wins; lines
// matching no rule are dropped.
package parser

import (
	"bytes"
	"strings"

	v1 "github.com/PeterSaffarian/replit-propertyrecommender/pkg/relay/v1"
)

// EventKind classifies a parsed engine event.
type EventKind string

const (
	// KindNarration carries engine text addressed to the user.
	KindNarration EventKind = "narration"
	// KindPhaseChange marks the engine entering a pipeline phase.
	KindPhaseChange EventKind = "phase_change"
	// KindCompleted marks the engine announcing pipeline completion.
	KindCompleted EventKind = "completed"
)

// Event is one classified engine output line.
type Event struct {
	Kind  EventKind
	Phase v1.Phase // set for KindPhaseChange
	Text  string   // set for KindNarration
}

// narrationPrefix marks lines the engine addresses to the user.
const narrationPrefix = "Assistant:"

// rule maps a line predicate to an event constructor. A nil build drops
// the line without producing an event.
type rule struct {
	match func(line string) bool
	build func(line string) (Event, bool)
}

// rules is evaluated in order; the first match wins. Phase banners are
// checked before the narration prefix so a hypothetical
// "Assistant: Phase 1..." line still classifies as narration only if no
// banner rule claimed it first.
var rules = []rule{
	{
		match: contains("Phase 1"),
		build: phaseEvent(v1.PhaseProfile),
	},
	{
		match: contains("Phase 2"),
		build: phaseEvent(v1.PhaseGathering),
	},
	{
		match: contains("Phase 3"),
		build: phaseEvent(v1.PhaseMatching),
	},
	{
		match: contains("Pipeline complete"),
		build: func(string) (Event, bool) {
			return Event{Kind: KindCompleted}, true
		},
	},
	{
		match: func(line string) bool {
			return strings.HasPrefix(line, narrationPrefix)
		},
		build: func(line string) (Event, bool) {
			text := strings.TrimSpace(strings.TrimPrefix(line, narrationPrefix))
			if text == "" {
				return Event{}, false
			}
			return Event{Kind: KindNarration, Text: text}, true
		},
	},
}

func contains(marker string) func(string) bool {
	return func(line string) bool {
		return strings.Contains(line, marker)
	}
}

func phaseEvent(phase v1.Phase) func(string) (Event, bool) {
	return func(string) (Event, bool) {
		return Event{Kind: KindPhaseChange, Phase: phase}, true
	}
}

// Parser is an incremental line splitter and classifier. It is not safe
// for concurrent use; the process adapter delivers chunks sequentially.
type Parser struct {
	carry []byte
}

// New creates an empty parser.
func New() *Parser {
	return &Parser{}
}

// Feed consumes one chunk of engine stdout and returns the events for every
// complete line it closed. Partial trailing lines are carried over to the
// next call, so the event stream is identical for any chunking of the same
// byte stream.
func (p *Parser) Feed(chunk []byte) []Event {
	if len(chunk) == 0 {
		return nil
	}

	p.carry = append(p.carry, chunk...)

	var events []Event
	for {
		idx := bytes.IndexByte(p.carry, '\n')
		if idx < 0 {
			break
		}
		line := p.carry[:idx]
		p.carry = p.carry[idx+1:]

		if event, ok := classify(string(line)); ok {
			events = append(events, event)
		}
	}
	return events
}

// Flush classifies any unterminated trailing line. Call once at EOF.
func (p *Parser) Flush() []Event {
	if len(p.carry) == 0 {
		return nil
	}
	line := string(p.carry)
	p.carry = nil

	if event, ok := classify(line); ok {
		return []Event{event}
	}
	return nil
}

// classify runs one line through the rule table.
func classify(line string) (Event, bool) {
	line = strings.TrimSuffix(line, "\r")
	for _, r := range rules {
		if r.match(line) {
			return r.build(line)
		}
	}
	return Event{}, false
}
