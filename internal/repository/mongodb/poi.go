// Package mongodb is the MongoDB implementation of the POI store.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ignite/poi-importer/internal/domain"
	"github.com/ignite/poi-importer/internal/service/poi"
)

// PoiRepo implements the POI store against a MongoDB collection.
// Documents use the uuid string as _id and are unique on externalId.
type PoiRepo struct {
	collection *mongo.Collection
}

// NewPoiRepo creates a Mongo-backed POI repository.
func NewPoiRepo(collection *mongo.Collection) *PoiRepo {
	return &PoiRepo{collection: collection}
}

// EnsureIndexes creates the unique externalId index.
func (r *PoiRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "externalId", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("externalId_unique"),
	})
	if err != nil {
		return fmt.Errorf("create externalId index: %w", err)
	}
	return nil
}

// Upsert creates or overwrites the record keyed by p.ExternalID in a single
// UpdateOne. MongoDB reports a modification only when a canonical field
// changed, and updatedAt moves in that same write, so identical re-imports
// stay at no_change and no half-written state is ever visible.
func (r *PoiRepo) Upsert(ctx context.Context, p *domain.Poi) (domain.UpsertResult, error) {
	if err := domain.ValidatePoi(p); err != nil {
		return domain.UpsertResult{}, err
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	res, err := r.upsertOnce(ctx, p, now)
	// Two concurrent first inserts race on the unique index; the loser
	// becomes an ordinary update on retry.
	if mongo.IsDuplicateKeyError(err) {
		res, err = r.upsertOnce(ctx, p, now)
	}
	if err != nil {
		return domain.UpsertResult{}, &domain.StoreError{Op: "upsert", Err: err}
	}

	switch {
	case res.UpsertedCount > 0:
		if id, ok := res.UpsertedID.(string); ok {
			p.ID = id
		}
		p.CreatedAt, p.UpdatedAt = now, now
		return domain.UpsertResult{Created: true}, nil
	case res.ModifiedCount > 0:
		p.UpdatedAt = now
		return domain.UpsertResult{Modified: true}, nil
	default:
		return domain.UpsertResult{}, nil
	}
}

func (r *PoiRepo) upsertOnce(ctx context.Context, p *domain.Poi, now time.Time) (*mongo.UpdateResult, error) {
	return r.collection.UpdateOne(ctx,
		bson.M{"externalId": p.ExternalID},
		upsertPipeline(p, uuid.New().String(), now),
		options.Update().SetUpsert(true),
	)
}

// upsertPipeline builds a one-stage update pipeline. Every expression in a
// $set stage reads the document as it was before the stage, so updatedAt is
// compared against the stored fields, not the new ones. On insert the stored
// fields are missing, which never equals a literal, and _id, createdAt and
// updatedAt take their new values.
func upsertPipeline(p *domain.Poi, id string, now time.Time) mongo.Pipeline {
	canonical := bson.D{
		{Key: "status", Value: p.Status},
		{Key: "dateLastStatusUpdate", Value: p.DateLastStatusUpdate},
		{Key: "address", Value: p.Address},
		{Key: "connections", Value: p.Connections},
	}

	set := make(bson.D, 0, len(canonical)+3)
	same := make(bson.A, 0, len(canonical))
	for _, f := range canonical {
		// $literal keeps strings that start with "$" from being read as paths.
		lit := bson.M{"$literal": f.Value}
		set = append(set, bson.E{Key: f.Key, Value: lit})
		same = append(same, bson.M{"$eq": bson.A{"$" + f.Key, lit}})
	}
	set = append(set,
		bson.E{Key: "_id", Value: bson.M{"$ifNull": bson.A{"$_id", id}}},
		bson.E{Key: "createdAt", Value: bson.M{"$ifNull": bson.A{"$createdAt", now}}},
		bson.E{Key: "updatedAt", Value: bson.M{"$ifNull": bson.A{
			bson.M{"$cond": bson.A{bson.M{"$and": same}, "$updatedAt", now}},
			now,
		}}},
	)
	return mongo.Pipeline{{{Key: "$set", Value: set}}}
}

func (r *PoiRepo) GetByID(ctx context.Context, id string) (*domain.Poi, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *PoiRepo) GetByExternalID(ctx context.Context, externalID int64) (*domain.Poi, error) {
	return r.findOne(ctx, bson.M{"externalId": externalID})
}

func (r *PoiRepo) findOne(ctx context.Context, filter bson.M) (*domain.Poi, error) {
	var p domain.Poi
	err := r.collection.FindOne(ctx, filter).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, &domain.StoreError{Op: "get", Err: err}
	}
	if p.Connections == nil {
		p.Connections = []domain.Connection{}
	}
	return &p, nil
}

// summaryDoc mirrors the List projection.
type summaryDoc struct {
	ID         string  `bson:"_id"`
	ExternalID int64   `bson:"externalId"`
	Status     *string `bson:"status"`
	Address    struct {
		Title           *string `bson:"title"`
		Town            *string `bson:"town"`
		StateOrProvince *string `bson:"stateOrProvince"`
		Country         *string `bson:"country"`
	} `bson:"address"`
}

func (r *PoiRepo) List(ctx context.Context, f poi.ListFilter) ([]domain.PoiSummary, int64, error) {
	total, err := r.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, &domain.StoreError{Op: "count", Err: err}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "externalId", Value: 1}}).
		SetSkip(int64(f.Skip)).
		SetLimit(int64(f.Limit)).
		SetProjection(bson.M{
			"externalId":              1,
			"status":                  1,
			"address.title":           1,
			"address.town":            1,
			"address.stateOrProvince": 1,
			"address.country":         1,
		})

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, 0, &domain.StoreError{Op: "list", Err: err}
	}
	defer cursor.Close(ctx)

	var docs []summaryDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, &domain.StoreError{Op: "list", Err: err}
	}

	out := make([]domain.PoiSummary, 0, len(docs))
	for _, d := range docs {
		out = append(out, domain.PoiSummary{
			ID:              d.ID,
			ExternalID:      d.ExternalID,
			Status:          d.Status,
			Title:           d.Address.Title,
			Town:            d.Address.Town,
			StateOrProvince: d.Address.StateOrProvince,
			Country:         d.Address.Country,
		})
	}
	return out, total, nil
}

// Ping checks the server connection.
func (r *PoiRepo) Ping(ctx context.Context) error {
	return r.collection.Database().Client().Ping(ctx, nil)
}
