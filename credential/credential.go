// Package credential stores device login credentials and their tag bindings
// and resolves the ordered candidate list for a connection target.
package credential

import (
	"time"
)

// Credential is a username/secret pair used to log in to devices.
// SuccessCount and FailureCount only ever grow.
type Credential struct {
	ID           string
	Name         string
	Username     string
	Secret       string // plaintext in memory, sealed at rest when a Sealer is configured
	SuccessCount int64
	FailureCount int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Binding attaches a credential to a device group tag with a priority.
// Higher priority is attempted first.
type Binding struct {
	CredentialID  string
	TagID         string
	Priority      int
	SuccessCount  int64
	FailureCount  int64
	LastUsedAt    *time.Time
	LastSuccessAt *time.Time
	LastFailureAt *time.Time
	CreatedAt     time.Time
}

// BoundCredential is a binding joined with its credential
type BoundCredential struct {
	Binding    Binding
	Credential Credential
}

// Target names what a connection authenticates with: one credential, or
// every credential bound to a tag. CredentialID wins when both are set.
type Target struct {
	CredentialID string
	TagID        string
}

// Empty reports whether the target names nothing
func (t Target) Empty() bool {
	return t.CredentialID == "" && t.TagID == ""
}

// Candidate is one credential considered for a connection attempt.
// Binding is nil when the target named a single credential.
type Candidate struct {
	Credential *Credential
	Binding    *Binding
}

// CredentialID returns the id of the candidate credential
func (c Candidate) CredentialID() string {
	if c.Credential == nil {
		return ""
	}
	return c.Credential.ID
}

// TagID returns the tag the candidate was resolved through, if any
func (c Candidate) TagID() string {
	if c.Binding == nil {
		return ""
	}
	return c.Binding.TagID
}

// Priority returns the binding priority, 0 for single-credential targets
func (c Candidate) Priority() int {
	if c.Binding == nil {
		return 0
	}
	return c.Binding.Priority
}

// Attempt is the outcome of using one candidate, fed back to the store
type Attempt struct {
	CredentialID string
	TagID        string // empty for single-credential targets
	Success      bool
	At           time.Time
}
