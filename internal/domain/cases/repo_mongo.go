package cases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const mongoCollection = "cases"

type mongoRepo struct{ coll *mongo.Collection }

type caseDoc struct {
	ID          string    `bson:"_id"`
	Payload     bson.Raw  `bson:"payload"`
	SavedAt     time.Time `bson:"savedAt"`
	SearchTerms []string  `bson:"searchTerms"`
}

// NewMongoRepo stores cases in the cases collection of database and ensures
// its indexes.
func NewMongoRepo(ctx context.Context, database *mongo.Database) (Repository, error) {
	coll := database.Collection(mongoCollection)
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "savedAt", Value: -1}}},
		{Keys: bson.D{{Key: "searchTerms", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("create case indexes: %w", err)
	}
	return &mongoRepo{coll: coll}, nil
}

func (r *mongoRepo) Insert(ctx context.Context, rec *Record) error {
	var payload bson.D
	if err := bson.UnmarshalExtJSON(rec.Document, false, &payload); err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	id := uuid.New().String()
	// BSON datetimes hold milliseconds
	savedAt := time.Now().UTC().Truncate(time.Millisecond)
	terms := rec.SearchTerms
	if terms == nil {
		terms = []string{}
	}

	_, err := r.coll.InsertOne(ctx, bson.D{
		{Key: "_id", Value: id},
		{Key: "payload", Value: payload},
		{Key: "savedAt", Value: savedAt},
		{Key: "searchTerms", Value: terms},
	})
	if err != nil {
		return err
	}
	rec.ID = id
	rec.SavedAt = savedAt
	return nil
}

func (d *caseDoc) record() (*Record, error) {
	doc, err := bson.MarshalExtJSON(d.Payload, false, false)
	if err != nil {
		return nil, fmt.Errorf("decode payload of case %s: %w", d.ID, err)
	}
	return &Record{ID: d.ID, Document: doc, SavedAt: d.SavedAt.UTC(), SearchTerms: d.SearchTerms}, nil
}

func (r *mongoRepo) find(ctx context.Context, opts *options.FindOptionsBuilder) ([]*Record, error) {
	cur, err := r.coll.Find(ctx, bson.D{}, opts.SetSort(bson.D{{Key: "savedAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	items := []*Record{}
	for cur.Next(ctx) {
		var d caseDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		rec, err := d.record()
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	return items, cur.Err()
}

func (r *mongoRepo) ListRecent(ctx context.Context, limit int) ([]*Record, error) {
	return r.find(ctx, options.Find().SetLimit(int64(limit)))
}

func (r *mongoRepo) ListAll(ctx context.Context) ([]*Record, error) {
	return r.find(ctx, options.Find())
}

func (r *mongoRepo) GetByID(ctx context.Context, id string) (*Record, error) {
	var d caseDoc
	err := r.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d.record()
}
