package task

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Target holds the parameters shared by every item of a run.
type Target struct {
	Descriptor string `json:"descriptor"`
}

// WorkItem is one independent unit of work: an identity plus the shared target.
// It is never modified after NewWorkItems returns it.
type WorkItem struct {
	ID       uuid.UUID
	Seq      int // 1-based submission position
	Identity string
	Target   Target
}

// Ref returns a stable, non-reversible reference to the item's identity that is
// safe to log and persist.
func (w WorkItem) Ref() string {
	return IdentityRef(w.Identity)
}

// IdentityRef returns the first 12 hex characters of the SHA-256 of identity.
func IdentityRef(identity string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(identity)))
	return hex.EncodeToString(sum[:])[:12]
}

// NewWorkItems builds one WorkItem per identity, in order.
func NewWorkItems(identities []string, target Target) []WorkItem {
	items := make([]WorkItem, 0, len(identities))
	for i, identity := range identities {
		items = append(items, WorkItem{
			ID:       uuid.New(),
			Seq:      i + 1,
			Identity: strings.TrimSpace(identity),
			Target:   target,
		})
	}
	return items
}

// IdentityValidator checks identities before any work is attempted.
type IdentityValidator struct {
	pattern *regexp.Regexp
}

// NewIdentityValidator compiles the optional pattern every identity must match.
func NewIdentityValidator(pattern string) (*IdentityValidator, error) {
	v := &IdentityValidator{}
	if pattern == "" {
		return v, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid identity pattern: %w", err)
	}
	v.pattern = re
	return v, nil
}

// Validate returns an InvalidIdentity error if identity is malformed.
func (v *IdentityValidator) Validate(identity string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return NewError(CategoryInvalidIdentity, "identity is empty")
	}
	if len(identity) > MaxIdentityLength {
		return NewError(CategoryInvalidIdentity, fmt.Sprintf("identity exceeds %d bytes", MaxIdentityLength))
	}
	for _, r := range identity {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return NewError(CategoryInvalidIdentity, "identity contains whitespace or control characters")
		}
	}
	if v != nil && v.pattern != nil && !v.pattern.MatchString(identity) {
		return NewError(CategoryInvalidIdentity, "identity does not match the configured pattern")
	}
	return nil
}
