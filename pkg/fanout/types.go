package fanout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pepolabs/hookpipe/pkg/core"
)

// Notification is the recipient-independent part of a notification, built
// once per event and shared by every record of a publish.
type Notification struct {
	ActorIDs      []uint64
	SubjectUserID uint64
	Payload       map[string]any
	// Timestamp is the time of the triggering action. Zero means now.
	Timestamp time.Time
}

// Resolver streams recipient ids to yield one page at a time. An error from
// yield stops the resolver and is returned unchanged.
type Resolver func(ctx context.Context, yield func(userIDs []uint64) error) error

// MemberSource pages through channel memberships ordered by internal id.
type MemberSource interface {
	ChannelMembers(ctx context.Context, channelID, afterID uint64, limit int) ([]core.ChannelMember, error)
}

// FollowerSource lists the users following a reply thread.
type FollowerSource interface {
	ThreadFollowers(ctx context.Context, parentKind string, parentID uint64) ([]uint64, error)
}

// Deps are the collaborators a Source may use to resolve its recipients.
type Deps struct {
	Members   MemberSource
	Followers FollowerSource
	PageSize  int
}

// Source is one domain event that produces notifications of a single kind.
type Source interface {
	Kind() core.NotificationKind
	// Validate rejects events whose identifiers are not strictly positive.
	Validate() error
	Build() Notification
	Recipients(d Deps) Resolver
}

// Result summarises one publish.
type Result struct {
	Recipients int
	Records    int
	Hooks      int
}

// ValidationError lists the fields of an event that failed validation.
type ValidationError struct {
	Kind   core.NotificationKind
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("fanout: invalid %s event: %s must be positive", e.Kind, strings.Join(e.Fields, ", "))
}

// positive collects the names of zero-valued ids.
type positive struct {
	kind   core.NotificationKind
	fields []string
}

func (p *positive) check(name string, v uint64) *positive {
	if v == 0 {
		p.fields = append(p.fields, name)
	}
	return p
}

func (p *positive) err() error {
	if len(p.fields) == 0 {
		return nil
	}
	return &ValidationError{Kind: p.kind, Fields: p.fields}
}
