package entities

import (
	"github.com/Jacobbrewer1/sprout/pkg/custom"
)

// TranscriptLine is a single entry in a transcript. A line is either a
// message or a gap marker recording that part of the history could not be
// retrieved.
type TranscriptLine struct {
	// AuthorID is the ID of the message author. Empty for gap markers.
	AuthorID string `json:"author_id" bson:"author_id"`

	// Author is the username of the message author. Empty for gap markers.
	Author string `json:"author" bson:"author"`

	// Timestamp is the time the message was sent.
	Timestamp custom.Datetime `json:"timestamp" bson:"timestamp"`

	// Content is the message content.
	Content string `json:"content" bson:"content"`

	// Gap marks a point where history was lost to deletion or truncation.
	Gap bool `json:"gap,omitempty" bson:"gap,omitempty"`
}

// TranscriptRecord is the durable serialized record of a tickets message
// history. Created once at closure and immutable thereafter.
type TranscriptRecord struct {
	// ID is the unique ID of the record.
	ID string `json:"id" bson:"id"`

	// TicketID is the ID of the ticket the transcript belongs to.
	TicketID int `json:"ticket_id" bson:"ticket_id"`

	// GuildID is the ID of the guild the ticket was in.
	GuildID string `json:"guild_id" bson:"guild_id"`

	// ChannelID is the ID of the channel the history was pulled from.
	ChannelID string `json:"channel_id" bson:"channel_id"`

	// Lines is the message history in chronological order.
	Lines []TranscriptLine `json:"lines" bson:"lines"`

	// Partial is whether any part of the history is recorded as a gap.
	Partial bool `json:"partial" bson:"partial"`

	// GeneratedAt is the time the transcript was generated.
	GeneratedAt custom.Datetime `json:"generated_at" bson:"generated_at"`
}
