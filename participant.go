package mailboxer

import (
	"context"
	"fmt"

	"github.com/rbaliyan/mailboxer/store"
)

// Participant is any entity that can send and receive messages.
// Identity and authentication stay with the embedding application;
// the library only needs a stable ID and email preferences.
type Participant interface {
	// ID returns the stable participant identifier stored on receipts.
	ID() string
	// DisplayName returns the name used in rendered emails.
	DisplayName() string
	// EmailAddress returns the address email side effects go to.
	// An empty address disables email for the participant.
	EmailAddress() string
	// WantsEmail reports whether the participant wants an email copy of d.
	WantsEmail(d store.Deliverable) bool
}

// EmailPolicy decides per deliverable whether a participant receives an email copy.
type EmailPolicy func(d store.Deliverable) bool

// Profile is a plain Participant record.
// A nil EmailPolicy means the participant wants email for everything.
type Profile struct {
	UserID      string
	Name        string
	Email       string
	EmailPolicy EmailPolicy
}

var _ Participant = (*Profile)(nil)

// ID returns the participant identifier.
func (p *Profile) ID() string { return p.UserID }

// DisplayName returns Name, falling back to the ID.
func (p *Profile) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.UserID
}

// EmailAddress returns the configured address.
func (p *Profile) EmailAddress() string { return p.Email }

// WantsEmail applies the EmailPolicy, defaulting to true.
func (p *Profile) WantsEmail(d store.Deliverable) bool {
	if p.EmailPolicy == nil {
		return true
	}
	return p.EmailPolicy(d)
}

// String implements fmt.Stringer.
func (p *Profile) String() string {
	return fmt.Sprintf("%s <%s>", p.DisplayName(), p.Email)
}

// NeverEmail is an EmailPolicy that opts out of every email.
func NeverEmail(store.Deliverable) bool { return false }

// OnlyMessages is an EmailPolicy that emails messages but not notifications.
func OnlyMessages(d store.Deliverable) bool { return d.GetKind() == store.KindMessage }

// Directory resolves stored participant IDs back to Participants.
// Reply recipients are read from storage as IDs, so replies go through the
// configured Directory to regain names and email preferences.
// Implementations should be safe for concurrent use.
type Directory interface {
	// Lookup returns a Participant for every ID in the same order.
	// Unknown IDs must still yield a Participant (at minimum a bare Profile).
	Lookup(ctx context.Context, ids []string) ([]Participant, error)
}

// DirectoryFunc adapts a function to the Directory interface.
type DirectoryFunc func(ctx context.Context, ids []string) ([]Participant, error)

// Lookup calls f.
func (f DirectoryFunc) Lookup(ctx context.Context, ids []string) ([]Participant, error) {
	return f(ctx, ids)
}

// bareDirectory resolves every ID to a Profile with no name or address.
type bareDirectory struct{}

func (bareDirectory) Lookup(_ context.Context, ids []string) ([]Participant, error) {
	out := make([]Participant, len(ids))
	for i, id := range ids {
		out[i] = &Profile{UserID: id}
	}
	return out, nil
}

// Recipients collects participants into a recipient list.
// It accepts a single participant or several and skips nils.
func Recipients(p ...Participant) []Participant {
	out := make([]Participant, 0, len(p))
	for _, r := range p {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}
