// Package transcript serializes a tickets message history into a durable
// record at closure.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"

	"github.com/Jacobbrewer1/sprout/pkg/custom"
	"github.com/Jacobbrewer1/sprout/pkg/entities"
	"github.com/Jacobbrewer1/sprout/pkg/logging"
	"github.com/Jacobbrewer1/sprout/pkg/ticketing"
)

const (
	// defaultPageSize is the number of messages fetched per history page.
	defaultPageSize = 100
)

// Message is a single message pulled from a channels history.
type Message struct {
	// ID is the message ID, used as the pagination cursor.
	ID string

	// AuthorID is the ID of the author.
	AuthorID string

	// Author is the username of the author.
	Author string

	// Timestamp is when the message was sent.
	Timestamp time.Time

	// Content is the message content.
	Content string
}

// HistoryService pulls a channels message history. Pages are returned newest
// first; fetching is restartable from the cursor of the last message seen.
type HistoryService interface {
	// FetchHistory returns up to limit messages strictly older than beforeID.
	// An empty beforeID starts from the newest message. An empty result means
	// the history is exhausted.
	FetchHistory(ctx context.Context, channelID, beforeID string, limit int) ([]Message, error)
}

// Generator generates transcript records. It tolerates partial history:
// pages that cannot be fetched are recorded as gaps rather than failing the
// transcript.
type Generator struct {
	// l is the logger.
	l *slog.Logger

	// history is the channel history source.
	history HistoryService

	// store is where finished records are written.
	store ticketing.TranscriptStore

	// pageSize is the number of messages per history page.
	pageSize int
}

// NewGenerator creates a new transcript generator.
func NewGenerator(l *slog.Logger, history HistoryService, store ticketing.TranscriptStore) *Generator {
	return &Generator{
		l:        l.With(slog.String("component", "transcript_generator")),
		history:  history,
		store:    store,
		pageSize: defaultPageSize,
	}
}

// Collect fetches the full history of the tickets channel and builds an
// unsaved transcript record. When the very first page cannot be fetched, for
// example because the channel was already deleted, the transcript is
// unavailable; a failure part way through records a gap and keeps whatever
// was collected. Nothing is written until Persist is called.
func (g *Generator) Collect(ctx context.Context, ticket *entities.Ticket) (*entities.TranscriptRecord, error) {
	lines, partial, err := g.collect(ctx, ticket.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ticketing.ErrTranscriptUnavailable, err)
	}

	return &entities.TranscriptRecord{
		ID:          uuid.NewString(),
		TicketID:    ticket.ID,
		GuildID:     ticket.GuildID,
		ChannelID:   ticket.ChannelID,
		Lines:       lines,
		Partial:     partial,
		GeneratedAt: custom.Now(),
	}, nil
}

// Persist writes a collected record.
func (g *Generator) Persist(ctx context.Context, record *entities.TranscriptRecord) error {
	if err := g.store.InsertTranscript(ctx, record); err != nil {
		return fmt.Errorf("error saving transcript: %w", err)
	}

	g.l.Info("Transcript saved",
		slog.String(logging.KeyGuild, record.GuildID),
		slog.Int(logging.KeyTicket, record.TicketID),
		slog.Int("lines", len(record.Lines)),
		slog.Bool("partial", record.Partial),
	)
	return nil
}

// collect pulls the channel history page by page, newest first, and returns
// it in chronological order. The boolean result is whether any gap was
// recorded.
func (g *Generator) collect(ctx context.Context, channelID string) ([]entities.TranscriptLine, bool, error) {
	var pages [][]Message
	partial := false
	cursor := ""

	for {
		page, err := g.fetchPage(ctx, channelID, cursor)
		if err != nil {
			if len(pages) == 0 {
				// Nothing fetched at all; the channel is gone or unreadable.
				return nil, false, err
			}

			// The history is truncated from here; record a gap and keep what
			// was collected.
			g.l.Warn("History fetch truncated, recording gap",
				slog.String(logging.KeyChannel, channelID),
				slog.String(logging.KeyError, err.Error()),
			)
			partial = true
			break
		}
		if len(page) == 0 {
			break
		}

		pages = append(pages, page)
		cursor = page[len(page)-1].ID

		if len(page) < g.pageSize {
			break
		}
	}

	// Pages arrive newest first; flatten back to chronological order.
	var lines []entities.TranscriptLine
	for i := len(pages) - 1; i >= 0; i-- {
		page := pages[i]
		for j := len(page) - 1; j >= 0; j-- {
			msg := page[j]
			lines = append(lines, entities.TranscriptLine{
				AuthorID:  msg.AuthorID,
				Author:    msg.Author,
				Timestamp: custom.Datetime(msg.Timestamp),
				Content:   msg.Content,
			})
		}
	}

	if partial {
		// The gap marker sits where the missing older history would start.
		lines = append([]entities.TranscriptLine{{
			Content: "[history truncated]",
			Gap:     true,
		}}, lines...)
	}
	return lines, partial, nil
}

// fetchPage fetches one history page with backoff on transient failure.
func (g *Generator) fetchPage(ctx context.Context, channelID, beforeID string) ([]Message, error) {
	var page []Message
	err := retry.Do(
		func() error {
			var err error
			page, err = g.history.FetchHistory(ctx, channelID, beforeID, g.pageSize)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(250*time.Millisecond),
		retry.MaxDelay(2*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("error fetching history page: %w", err)
	}
	return page, nil
}
