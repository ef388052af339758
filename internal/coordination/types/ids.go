package types

import "github.com/google/uuid"

// NewID returns an opaque unique identifier, prefixed so log lines stay
// greppable by entity kind (task_..., agent_..., wf_...).
func NewID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
