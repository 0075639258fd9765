package models

import (
	"time"

	dErrors "visitorid/pkg/domain-errors"
)

// Identity is a stored visitor identity.
//
// Invariants:
//   - ID is assigned by the store on creation and never changes
//   - PrimaryID (exact fingerprint) and WeakID are non-empty
//   - Many identities may share a WeakID; PrimaryID uniqueness is not enforced
//   - Records are never updated after creation except for the DeletedAt marker
type Identity struct {
	ID        int64      `json:"id"`
	PrimaryID string     `json:"fingerprint_id"`
	WeakID    string     `json:"weak_fingerprint_id"`
	ScorerKey string     `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

func (i *Identity) IsDeleted() bool {
	return i.DeletedAt != nil
}

// NewIdentity validates a not-yet-persisted identity. The store assigns ID.
func NewIdentity(primaryID, weakID, scorerKey string, now time.Time) (*Identity, error) {
	if primaryID == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "fingerprint id cannot be empty")
	}
	if weakID == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "weak fingerprint id cannot be empty")
	}
	return &Identity{
		PrimaryID: primaryID,
		WeakID:    weakID,
		ScorerKey: scorerKey,
		CreatedAt: now,
	}, nil
}

// MatchKind tags the result of an exact-identifier lookup.
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchUnique
	// MatchAmbiguous means more than one live identity carries the identifier.
	// Callers treat it as no match.
	MatchAmbiguous
)

func (k MatchKind) String() string {
	switch k {
	case MatchUnique:
		return "unique"
	case MatchAmbiguous:
		return "ambiguous"
	default:
		return "none"
	}
}

// ExactMatch is the three-way result of FindExact. Identity is set only for MatchUnique.
type ExactMatch struct {
	Kind     MatchKind
	Identity *Identity
}

// Found returns the identity when the match is unique.
func (m ExactMatch) Found() (*Identity, bool) {
	if m.Kind == MatchUnique && m.Identity != nil {
		return m.Identity, true
	}
	return nil, false
}

// ExactMatchOf collapses a lookup result set into an ExactMatch.
func ExactMatchOf(found []*Identity) ExactMatch {
	switch len(found) {
	case 0:
		return ExactMatch{Kind: MatchNone}
	case 1:
		return ExactMatch{Kind: MatchUnique, Identity: found[0]}
	default:
		return ExactMatch{Kind: MatchAmbiguous}
	}
}
