package types

import "fmt"

// Priority is the single canonical integer ordering for tasks. The source
// system mixed string and integer priorities; this type fixes that to one
// representation per spec §9.
type Priority int

const (
	PriorityBackground Priority = 1
	PriorityLow        Priority = 2
	PriorityNormal     Priority = 3
	PriorityHigh       Priority = 4
	PriorityCritical   Priority = 5
)

var priorityNames = map[Priority]string{
	PriorityBackground: "background",
	PriorityLow:        "low",
	PriorityNormal:     "normal",
	PriorityHigh:       "high",
	PriorityCritical:   "critical",
}

var priorityValues = map[string]Priority{
	"background": PriorityBackground,
	"low":        PriorityLow,
	"normal":     PriorityNormal,
	"high":       PriorityHigh,
	"critical":   PriorityCritical,
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority accepts either a known name ("high") or falls back to Normal.
func ParsePriority(s string) Priority {
	if p, ok := priorityValues[s]; ok {
		return p
	}
	return PriorityNormal
}

func (p Priority) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		*p = ParsePriority(s[1 : len(s)-1])
		return nil
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil {
		*p = Priority(n)
		return nil
	}
	*p = PriorityNormal
	return nil
}
