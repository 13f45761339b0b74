package dataaccess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Jacobbrewer1/sprout/pkg/dataaccess/monitoring"
	"github.com/Jacobbrewer1/sprout/pkg/entities"
	"github.com/Jacobbrewer1/sprout/pkg/logging"
	"github.com/Jacobbrewer1/sprout/pkg/ticketing"
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	transcriptDalName     = "transcript_dal"
	transcriptsCollection = "transcripts"
)

// TranscriptDal is the data access layer for transcript records. It
// satisfies ticketing.TranscriptStore. Records are written once and never
// updated.
type TranscriptDal interface {
	ticketing.TranscriptStore
}

type transcriptDalImpl struct {
	// l is the logger.
	l *slog.Logger

	// client is the database.
	client *mongo.Client
}

// NewTranscriptDal creates a new transcript data access layer.
func NewTranscriptDal(l *slog.Logger) TranscriptDal {
	l = l.With(slog.String(logging.KeyDal, transcriptDalName))

	if MongoDB == nil {
		l.Warn("MongoDB is nil, this can cause a panic. Proceeding...")
	}

	return &transcriptDalImpl{
		l:      l,
		client: MongoDB,
	}
}

func (d *transcriptDalImpl) InsertTranscript(ctx context.Context, record *entities.TranscriptRecord) error {
	collection := d.client.Database(mongoDatabase).Collection(transcriptsCollection)

	// Start the prometheus metrics.
	monitoring.MongoTotalRequests.WithLabelValues(transcriptDalName, "insert_transcript", mongoDatabase, transcriptsCollection).Inc()
	t := prometheus.NewTimer(monitoring.MongoLatency.WithLabelValues(transcriptDalName, "insert_transcript", mongoDatabase, transcriptsCollection))
	defer t.ObserveDuration()

	if _, err := collection.InsertOne(ctx, record); err != nil {
		return fmt.Errorf("error inserting transcript: %w", err)
	}
	return nil
}

func (d *transcriptDalImpl) GetTranscript(ctx context.Context, guildID string, ticketID int) (*entities.TranscriptRecord, error) {
	collection := d.client.Database(mongoDatabase).Collection(transcriptsCollection)

	// Start the prometheus metrics.
	monitoring.MongoTotalRequests.WithLabelValues(transcriptDalName, "get_transcript", mongoDatabase, transcriptsCollection).Inc()
	t := prometheus.NewTimer(monitoring.MongoLatency.WithLabelValues(transcriptDalName, "get_transcript", mongoDatabase, transcriptsCollection))
	defer t.ObserveDuration()

	record := new(entities.TranscriptRecord)
	err := collection.FindOne(ctx, bson.M{
		"guild_id":  guildID,
		"ticket_id": ticketID,
	}).Decode(record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: transcript for ticket %d in guild %s", ticketing.ErrNotFound, ticketID, guildID)
		}
		return nil, fmt.Errorf("error getting transcript: %w", err)
	}
	return record, nil
}
