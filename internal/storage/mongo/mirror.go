package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"intel_fetcher/internal/config"
	"intel_fetcher/internal/domain"
)

// Mirror is the secondary document sink. Writes are best-effort: the
// relational store is the source of truth and the controller tolerates any
// mirror failure.
type Mirror struct {
	client  *mongo.Client
	records *mongo.Collection
	logger  *slog.Logger
}

type recordDoc struct {
	SourceID         string     `bson:"source_id"`
	NaturalID        string     `bson:"natural_id"`
	Description      string     `bson:"description"`
	SourceIdentifier *string    `bson:"source_identifier,omitempty"`
	PublishedAt      *time.Time `bson:"published_at,omitempty"`
	ModifiedAt       *time.Time `bson:"modified_at,omitempty"`
	SeverityScore    *float64   `bson:"severity_score,omitempty"`
	SeverityLabel    *string    `bson:"severity_label,omitempty"`
	Vector           *string    `bson:"vector,omitempty"`
	WeaknessClass    *string    `bson:"weakness_class,omitempty"`
	ReferenceURLs    []string   `bson:"reference_urls,omitempty"`
	IngestedAt       time.Time  `bson:"ingested_at"`
}

func NewMirror(ctx context.Context, cfg config.MongoConfig, logger *slog.Logger) (*Mirror, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	m := &Mirror{
		client:  client,
		records: client.Database(cfg.Database).Collection(cfg.Collection),
		logger:  logger,
	}

	if err := m.createIndexes(connectCtx); err != nil {
		return nil, fmt.Errorf("create indexes: %w", err)
	}

	return m, nil
}

func (m *Mirror) createIndexes(ctx context.Context) error {
	_, err := m.records.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "natural_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// UpsertBatch mirrors canonical records by natural_id. It stops at the
// first error; the caller treats any failure as non-fatal.
func (m *Mirror) UpsertBatch(ctx context.Context, records []domain.IntelRecord) error {
	opts := options.Update().SetUpsert(true)

	for i := range records {
		rec := &records[i]
		doc := recordDoc{
			SourceID:         rec.SourceID,
			NaturalID:        rec.NaturalID,
			Description:      rec.Description,
			SourceIdentifier: rec.SourceIdentifier,
			PublishedAt:      rec.PublishedAt,
			ModifiedAt:       rec.ModifiedAt,
			SeverityScore:    rec.SeverityScore,
			SeverityLabel:    rec.SeverityLabel,
			Vector:           rec.Vector,
			WeaknessClass:    rec.WeaknessClass,
			ReferenceURLs:    rec.ReferenceURLs,
			IngestedAt:       rec.IngestedAt,
		}

		filter := bson.M{"natural_id": rec.NaturalID}
		update := bson.M{"$set": doc}

		if _, err := m.records.UpdateOne(ctx, filter, update, opts); err != nil {
			return fmt.Errorf("mirror %s: %w", rec.NaturalID, err)
		}
	}

	m.logger.Debug("mirrored records", "count", len(records))
	return nil
}

func (m *Mirror) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
