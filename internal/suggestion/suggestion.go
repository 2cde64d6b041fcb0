// Package suggestion defines coaching suggestions and the single-slot queue
// that decides which one is on screen.
package suggestion

import "time"

// Type is the speech dimension a suggestion addresses.
type Type string

const (
	TypeEnergy  Type = "energy"
	TypePace    Type = "pace"
	TypePause   Type = "pause"
	TypeClarity Type = "clarity"
	TypeFiller  Type = "filler"
)

// Types lists every suggestion type in trigger-evaluation order.
var Types = []Type{TypeEnergy, TypePace, TypePause, TypeClarity, TypeFiller}

// Priority orders suggestions in the queue.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// rank returns the sort key of p; lower ranks are shown first.
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// Suggestion is a single coaching nudge. Suggestions are immutable once
// created.
type Suggestion struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	Message     string    `json:"message"`
	DetailedTip string    `json:"detailedTip,omitempty"`
	Priority    Priority  `json:"priority"`
	Timestamp   time.Time `json:"timestamp"`
}
