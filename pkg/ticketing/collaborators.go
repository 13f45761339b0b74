package ticketing

import (
	"context"

	"github.com/Jacobbrewer1/sprout/pkg/entities"
)

// ChannelService provisions and tears down ticket channels. Implementations
// are expected to retry transient failures with backoff and to honour the
// context deadline; the state machine never holds a ticket lock across these
// calls.
type ChannelService interface {
	// CreateTicketChannel creates a private text channel for the ticket under
	// the guilds ticket category. Only the owner and the staff roles can see
	// it. Returns the channel ID.
	CreateTicketChannel(ctx context.Context, guildID, categoryID, name, topic, ownerID string, staffRoleIDs []string) (string, error)

	// DeleteChannel deletes a channel. Deleting an already deleted channel is
	// not an error.
	DeleteChannel(ctx context.Context, channelID string) error

	// SetChannelTopic updates a channels topic.
	SetChannelTopic(ctx context.Context, channelID, topic string) error
}

// Notifier posts messages on behalf of the ticket subsystem.
type Notifier interface {
	// Post posts a plain message to a channel and returns the message ID.
	Post(ctx context.Context, channelID, content string) (string, error)

	// PostDM sends a direct message to a user and returns the message ID.
	// Fails when the user has DMs disabled.
	PostDM(ctx context.Context, userID, content string) (string, error)

	// PostTicketControls posts the pinned control message (claim and close
	// buttons plus the priority select) into a fresh ticket channel and
	// returns the message ID.
	PostTicketControls(ctx context.Context, channelID string, ticket *entities.Ticket, priorities []string) (string, error)

	// PostCloseConfirm posts the close confirmation prompt into the ticket
	// channel.
	PostCloseConfirm(ctx context.Context, channelID string, ticket *entities.Ticket) (string, error)
}

// TranscriptService builds the durable transcript for a ticket at close.
// Collection and persistence are separate steps so the caller can abandon a
// collected transcript when the close it belongs to does not commit; a record
// must never be persisted for a ticket that is not closed.
type TranscriptService interface {
	// Collect fetches the tickets message history and builds an unsaved
	// transcript record. Returns ErrTranscriptUnavailable when no history
	// could be fetched at all.
	Collect(ctx context.Context, ticket *entities.Ticket) (*entities.TranscriptRecord, error)

	// Persist writes a collected record. Records are immutable once written.
	Persist(ctx context.Context, record *entities.TranscriptRecord) error
}
