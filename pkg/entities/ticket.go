package entities

import (
	"fmt"

	"github.com/Jacobbrewer1/sprout/pkg/custom"
)

// Ticket is a single support conversation bound to one channel and one owner.
type Ticket struct {
	// ID is the number of the ticket. IDs are sequential within a guild and
	// are combined with the owners username to name the ticket channel. For
	// example, ticket 1 opened by "sprout" gets the channel "1-sprout".
	ID int `json:"id" bson:"id"`

	// GuildID is the ID of the guild that the ticket is in.
	GuildID string `json:"guild_id" bson:"guild_id"`

	// ChannelID is the ID of the channel that the ticket is in. This is a
	// lookup reference only; the channel may be deleted externally without
	// the ticket going away.
	ChannelID string `json:"channel_id" bson:"channel_id"`

	// UserID is the ID of the user that opened the ticket.
	UserID string `json:"user_id" bson:"user_id"`

	// Username is the username of the user that opened the ticket.
	Username string `json:"username" bson:"username"`

	// ControlMessageID is the ID of the pinned control message in the ticket
	// channel.
	ControlMessageID string `json:"control_message_id" bson:"control_message_id"`

	// State is the lifecycle state of the ticket.
	State TicketState `json:"state" bson:"state"`

	// ClaimedBy is the ID of the staff member that claimed the ticket. Empty
	// when unclaimed.
	ClaimedBy string `json:"claimed_by" bson:"claimed_by"`

	// ClosedBy is the ID of the user that closed the ticket.
	ClosedBy string `json:"closed_by" bson:"closed_by"`

	// Priority is the priority label assigned to the ticket. Empty when no
	// priority has been set.
	Priority string `json:"priority" bson:"priority"`

	// Degraded marks a ticket that needs manual reconciliation, for example
	// after a failed rollback or a missing transcript. Degraded tickets do
	// not count towards the owners open ticket quota.
	Degraded bool `json:"degraded" bson:"degraded"`

	// Version is the optimistic concurrency version of the persisted ticket.
	// It is incremented on every committed write.
	Version int64 `json:"version" bson:"version"`

	// CreatedAt is the time that the ticket was created.
	CreatedAt custom.Datetime `json:"created_at" bson:"created_at"`

	// ClosedAt is the time that the ticket was closed.
	ClosedAt *custom.Datetime `json:"closed_at,omitempty" bson:"closed_at,omitempty"`
}

// Name returns the channel name for the ticket.
func (t *Ticket) Name() string {
	return fmt.Sprintf("%d-%s", t.ID, t.Username)
}

// Key returns the registry key for the ticket, unique across guilds.
func (t *Ticket) Key() string {
	return fmt.Sprintf("%s:%d", t.GuildID, t.ID)
}

// CountsTowardsQuota reports whether the ticket occupies one of its owners
// open ticket slots.
func (t *Ticket) CountsTowardsQuota() bool {
	return !t.Degraded && !t.State.Terminal()
}

// Clone returns a deep copy of the ticket.
func (t *Ticket) Clone() *Ticket {
	c := *t
	if t.ClosedAt != nil {
		at := *t.ClosedAt
		c.ClosedAt = &at
	}
	return &c
}
