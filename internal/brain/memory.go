package brain

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Turn is one complete conversational turn recorded in Memory.
type Turn struct {
	Speaker   string // "user" or "assistant"
	Text      string
	Timestamp time.Time
	Intent    string // "conversation" or "action"; empty for assistant turns
}

// Memory accumulates the turns of one call for context and summary
// purposes. Safe for concurrent use.
type Memory struct {
	CallID string

	mu    sync.Mutex
	turns []Turn
}

// NewMemory creates empty memory for a call.
func NewMemory(callID string) *Memory {
	return &Memory{CallID: callID}
}

// AddTurn records a turn and returns it.
func (m *Memory) AddTurn(speaker, text, intent string) Turn {
	turn := Turn{Speaker: speaker, Text: text, Timestamp: time.Now(), Intent: intent}
	m.mu.Lock()
	m.turns = append(m.turns, turn)
	m.mu.Unlock()
	return turn
}

// RecentContext formats up to maxTurns most-recent turns as "Speaker:
// text" lines, oldest first.
func (m *Memory) RecentContext(maxTurns int) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	turns := m.turns
	if len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		speaker := "User"
		if t.Speaker == "assistant" {
			speaker = "Assistant"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", speaker, t.Text))
	}
	return strings.Join(lines, "\n")
}

// Summary renders a short human-readable summary of the call so far.
func (m *Memory) Summary() string {
	m.mu.Lock()
	total := len(m.turns)
	m.mu.Unlock()

	if total == 0 {
		return "No conversation yet."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Call ID: %s\n", m.CallID)
	fmt.Fprintf(&b, "Total turns: %d\n\n", total)
	b.WriteString("Recent conversation:\n")
	b.WriteString(m.RecentContext(5))
	return b.String()
}

// Turns returns a copy of all recorded turns.
func (m *Memory) Turns() []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Turn, len(m.turns))
	copy(out, m.turns)
	return out
}
