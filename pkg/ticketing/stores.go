package ticketing

import (
	"context"
	"time"

	"github.com/Jacobbrewer1/sprout/pkg/entities"
)

// GuildStore is the persistence contract for guild configuration.
type GuildStore interface {
	// GetGuildByID gets a guild by ID. Returns ErrNotFound when the guild has
	// never been set up.
	GetGuildByID(ctx context.Context, id string) (*entities.Guild, error)

	// SaveGuild saves a guild.
	SaveGuild(ctx context.Context, guild *entities.Guild) error
}

// TicketStore is the persistence contract for tickets. Writes are guarded by
// optimistic versioning so a lost update can never go unnoticed.
type TicketStore interface {
	// InsertTicket inserts a new ticket at version 1.
	InsertTicket(ctx context.Context, ticket *entities.Ticket) error

	// GetTicket gets a ticket by guild and ticket ID. Returns ErrNotFound
	// for unknown IDs.
	GetTicket(ctx context.Context, guildID string, id int) (*entities.Ticket, error)

	// GetTicketByChannel gets a ticket by the channel it lives in.
	GetTicketByChannel(ctx context.Context, guildID, channelID string) (*entities.Ticket, error)

	// PutTicketIfVersion writes the ticket if the stored version still equals
	// version, bumping the stored version by one. Returns ErrVersionConflict
	// when a concurrent writer got there first.
	PutTicketIfVersion(ctx context.Context, ticket *entities.Ticket, version int64) error

	// ListOpenByGuild lists all non-terminal tickets in a guild.
	ListOpenByGuild(ctx context.Context, guildID string) ([]*entities.Ticket, error)

	// ListOpenByUser lists all non-terminal tickets owned by a user in a guild.
	ListOpenByUser(ctx context.Context, guildID, userID string) ([]*entities.Ticket, error)

	// ListClosedBefore lists closed tickets whose close time is before the
	// cutoff. Used by the archive sweep.
	ListClosedBefore(ctx context.Context, cutoff time.Time) ([]*entities.Ticket, error)

	// NextTicketID allocates the next sequential ticket ID for a guild. IDs
	// are never reused, even when a create is later rolled back.
	NextTicketID(ctx context.Context, guildID string) (int, error)

	// RemoveTicket deletes a ticket. Only used for post-archival garbage
	// collection.
	RemoveTicket(ctx context.Context, guildID string, id int) error
}

// TranscriptStore is the persistence contract for transcript records.
type TranscriptStore interface {
	// InsertTranscript inserts a transcript record. Records are immutable
	// once written.
	InsertTranscript(ctx context.Context, record *entities.TranscriptRecord) error

	// GetTranscript gets the transcript record for a ticket.
	GetTranscript(ctx context.Context, guildID string, ticketID int) (*entities.TranscriptRecord, error)
}
