package xid

import "github.com/google/uuid"

// New returns a prefixed random identifier such as "lead-3f1c9a0e-...".
func New(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
