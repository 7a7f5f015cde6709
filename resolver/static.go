// Package resolver provides mailboxer.Directory implementations.
package resolver

import (
	"context"
	"maps"

	"github.com/rbaliyan/mailboxer"
)

// Static is a map-based Directory for testing and simple deployments.
// It is read-only after creation and safe for concurrent use.
type Static struct {
	profiles map[string]*mailboxer.Profile
}

var _ mailboxer.Directory = (*Static)(nil)

// NewStatic creates a Static directory from a map of user ID to Profile.
// The map is copied to prevent external mutation.
func NewStatic(profiles map[string]*mailboxer.Profile) *Static {
	return &Static{profiles: maps.Clone(profiles)}
}

// FromProfiles builds a Static directory keyed by each profile's UserID.
func FromProfiles(profiles ...*mailboxer.Profile) *Static {
	m := make(map[string]*mailboxer.Profile, len(profiles))
	for _, p := range profiles {
		if p != nil {
			m[p.UserID] = p
		}
	}
	return &Static{profiles: m}
}

// Lookup returns the stored profile for each ID.
// Unknown IDs resolve to a bare Profile carrying only the ID.
func (s *Static) Lookup(_ context.Context, ids []string) ([]mailboxer.Participant, error) {
	out := make([]mailboxer.Participant, len(ids))
	for i, id := range ids {
		if p, ok := s.profiles[id]; ok {
			out[i] = p
			continue
		}
		out[i] = &mailboxer.Profile{UserID: id}
	}
	return out, nil
}
