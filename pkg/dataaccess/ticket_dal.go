package dataaccess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Jacobbrewer1/sprout/pkg/dataaccess/monitoring"
	"github.com/Jacobbrewer1/sprout/pkg/entities"
	"github.com/Jacobbrewer1/sprout/pkg/logging"
	"github.com/Jacobbrewer1/sprout/pkg/ticketing"
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	ticketDalName      = "ticket_dal"
	ticketsCollection  = "tickets"
	countersCollection = "ticket_counters"
)

// openStates matches every non-terminal ticket state.
var openStates = bson.M{"$in": []entities.TicketState{
	entities.StateOpen,
	entities.StateClaimed,
	entities.StatePendingClose,
}}

// TicketDal is the data access layer for tickets. It satisfies
// ticketing.TicketStore; writes are guarded by optimistic versioning.
type TicketDal interface {
	ticketing.TicketStore
}

type ticketDalImpl struct {
	// l is the logger.
	l *slog.Logger

	// client is the database.
	client *mongo.Client
}

// NewTicketDal creates a new ticket data access layer.
func NewTicketDal(l *slog.Logger) TicketDal {
	l = l.With(slog.String(logging.KeyDal, ticketDalName))

	if MongoDB == nil {
		l.Warn("MongoDB is nil, this can cause a panic. Proceeding...")
	}

	return &ticketDalImpl{
		l:      l,
		client: MongoDB,
	}
}

func (d *ticketDalImpl) collection() *mongo.Collection {
	return d.client.Database(mongoDatabase).Collection(ticketsCollection)
}

// observe starts the prometheus metrics for a query and returns the timer.
func observe(dal, query string) *prometheus.Timer {
	monitoring.MongoTotalRequests.WithLabelValues(dal, query, mongoDatabase, ticketsCollection).Inc()
	return prometheus.NewTimer(monitoring.MongoLatency.WithLabelValues(dal, query, mongoDatabase, ticketsCollection))
}

func (d *ticketDalImpl) InsertTicket(ctx context.Context, ticket *entities.Ticket) error {
	t := observe(ticketDalName, "insert_ticket")
	defer t.ObserveDuration()

	if _, err := d.collection().InsertOne(ctx, ticket); err != nil {
		return fmt.Errorf("error inserting ticket: %w", err)
	}
	return nil
}

func (d *ticketDalImpl) GetTicket(ctx context.Context, guildID string, id int) (*entities.Ticket, error) {
	t := observe(ticketDalName, "get_ticket")
	defer t.ObserveDuration()

	ticket := new(entities.Ticket)
	err := d.collection().FindOne(ctx, bson.M{
		"guild_id": guildID,
		"id":       id,
	}).Decode(ticket)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: ticket %d in guild %s", ticketing.ErrNotFound, id, guildID)
		}
		return nil, fmt.Errorf("error getting ticket: %w", err)
	}
	return ticket, nil
}

func (d *ticketDalImpl) GetTicketByChannel(ctx context.Context, guildID, channelID string) (*entities.Ticket, error) {
	t := observe(ticketDalName, "get_ticket_by_channel")
	defer t.ObserveDuration()

	ticket := new(entities.Ticket)
	err := d.collection().FindOne(ctx, bson.M{
		"guild_id":   guildID,
		"channel_id": channelID,
	}).Decode(ticket)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: no ticket for channel %s", ticketing.ErrNotFound, channelID)
		}
		return nil, fmt.Errorf("error getting ticket by channel: %w", err)
	}
	return ticket, nil
}

// PutTicketIfVersion writes the ticket only when the stored version still
// matches, bumping the version by one. A matched count of zero means either
// the ticket is gone or a concurrent writer has already moved the version on.
func (d *ticketDalImpl) PutTicketIfVersion(ctx context.Context, ticket *entities.Ticket, version int64) error {
	t := observe(ticketDalName, "put_ticket_if_version")
	defer t.ObserveDuration()

	next := ticket.Clone()
	next.Version = version + 1

	res, err := d.collection().UpdateOne(ctx, bson.M{
		"guild_id": ticket.GuildID,
		"id":       ticket.ID,
		"version":  version,
	}, bson.M{"$set": next})
	if err != nil {
		return fmt.Errorf("error updating ticket: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := d.GetTicket(ctx, ticket.GuildID, ticket.ID); err != nil {
			return err
		}
		monitoring.MongoVersionConflicts.WithLabelValues(ticketDalName, "put_ticket_if_version").Inc()
		return fmt.Errorf("%w: ticket %d in guild %s at version %d", ticketing.ErrVersionConflict, ticket.ID, ticket.GuildID, version)
	}
	return nil
}

func (d *ticketDalImpl) ListOpenByGuild(ctx context.Context, guildID string) ([]*entities.Ticket, error) {
	t := observe(ticketDalName, "list_open_by_guild")
	defer t.ObserveDuration()

	return d.list(ctx, bson.M{
		"guild_id": guildID,
		"state":    openStates,
	})
}

func (d *ticketDalImpl) ListOpenByUser(ctx context.Context, guildID, userID string) ([]*entities.Ticket, error) {
	t := observe(ticketDalName, "list_open_by_user")
	defer t.ObserveDuration()

	return d.list(ctx, bson.M{
		"guild_id": guildID,
		"user_id":  userID,
		"state":    openStates,
	})
}

func (d *ticketDalImpl) ListClosedBefore(ctx context.Context, cutoff time.Time) ([]*entities.Ticket, error) {
	t := observe(ticketDalName, "list_closed_before")
	defer t.ObserveDuration()

	// ClosedAt is stored as RFC3339 text, which compares correctly as a
	// string.
	return d.list(ctx, bson.M{
		"state":     entities.StateClosed,
		"closed_at": bson.M{"$lt": cutoff.UTC().Format(time.RFC3339)},
	})
}

func (d *ticketDalImpl) list(ctx context.Context, filter bson.M) ([]*entities.Ticket, error) {
	cur, err := d.collection().Find(ctx, filter, options.Find().SetSort(bson.M{"id": 1}))
	if err != nil {
		return nil, fmt.Errorf("error listing tickets: %w", err)
	}

	var tickets []*entities.Ticket
	if err := cur.All(ctx, &tickets); err != nil {
		return nil, fmt.Errorf("error decoding tickets: %w", err)
	}
	return tickets, nil
}

// NextTicketID allocates the next sequential ticket ID for a guild via an
// atomic counter document, so concurrent creates can never collide.
func (d *ticketDalImpl) NextTicketID(ctx context.Context, guildID string) (int, error) {
	t := observe(ticketDalName, "next_ticket_id")
	defer t.ObserveDuration()

	counters := d.client.Database(mongoDatabase).Collection(countersCollection)

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var counter struct {
		GuildID string `bson:"guild_id"`
		Seq     int    `bson:"seq"`
	}
	err := counters.FindOneAndUpdate(ctx,
		bson.M{"guild_id": guildID},
		bson.M{"$inc": bson.M{"seq": 1}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("error allocating ticket id: %w", err)
	}
	return counter.Seq, nil
}

func (d *ticketDalImpl) RemoveTicket(ctx context.Context, guildID string, id int) error {
	t := observe(ticketDalName, "remove_ticket")
	defer t.ObserveDuration()

	res, err := d.collection().DeleteOne(ctx, bson.M{
		"guild_id": guildID,
		"id":       id,
	})
	if err != nil {
		return fmt.Errorf("error removing ticket: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: ticket %d in guild %s", ticketing.ErrNotFound, id, guildID)
	}
	return nil
}
