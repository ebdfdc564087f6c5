package implementation

import (
	"context"
	"errors"
	"time"

	mqtmodels "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Repository/Interfaces"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Index names created by EnsureIndexes
const (
	MongoIndexDevice         = "deviceId_1"
	MongoIndexTimestamp      = "timestamp_-1"
	MongoIndexDeviceLatest   = "deviceId_1_timestamp_-1__id_-1"
	mongoIndexCreateDeadline = 30 * time.Second
)

// latestSort walks the composite index newest first; _id breaks timestamp ties
// in favour of the most recently inserted document.
var latestSort = bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}

type readingDocument struct {
	ID          primitive.ObjectID `bson:"_id"`
	DeviceID    string             `bson:"deviceId"`
	Temperature float64            `bson:"temperature"`
	Timestamp   int64              `bson:"timestamp"`
	RecordedAt  time.Time          `bson:"recordedAt"`
}

func (d readingDocument) toModel() mqtmodels.Reading {
	return mqtmodels.Reading{
		ID:          d.ID.Hex(),
		DeviceID:    d.DeviceID,
		Temperature: d.Temperature,
		Timestamp:   d.Timestamp,
		RecordedAt:  d.RecordedAt.UTC(),
	}
}

type MongoReadingRepository struct {
	coll  *mongo.Collection
	clock *recordClock
}

func NewMongoReadingRepository(coll *mongo.Collection) *MongoReadingRepository {
	return &MongoReadingRepository{coll: coll, clock: newRecordClock(time.Now)}
}

// EnsureIndexes creates the per-device, per-timestamp and composite latest-lookup indexes
func (r *MongoReadingRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, mongoIndexCreateDeadline)
	defer cancel()

	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "deviceId", Value: 1}},
			Options: options.Index().SetName(MongoIndexDevice),
		},
		{
			Keys:    bson.D{{Key: "timestamp", Value: -1}},
			Options: options.Index().SetName(MongoIndexTimestamp),
		},
		{
			Keys: bson.D{
				{Key: "deviceId", Value: 1},
				{Key: "timestamp", Value: -1},
				{Key: "_id", Value: -1},
			},
			Options: options.Index().SetName(MongoIndexDeviceLatest),
		},
	}

	if _, err := r.coll.Indexes().CreateMany(ctx, models); err != nil {
		return interfaces.NewStorageError("create indexes", err)
	}
	return nil
}

func (r *MongoReadingRepository) Insert(ctx context.Context, nr mqtmodels.NewReading) (mqtmodels.Reading, error) {
	doc := readingDocument{
		ID:          primitive.NewObjectID(),
		DeviceID:    nr.DeviceID,
		Temperature: nr.Temperature,
		Timestamp:   nr.Timestamp,
		RecordedAt:  r.clock.Next(),
	}

	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return mqtmodels.Reading{}, interfaces.NewStorageError("insert", err)
	}
	return doc.toModel(), nil
}

func (r *MongoReadingRepository) FetchLatest(ctx context.Context, deviceID string) (mqtmodels.Reading, error) {
	opts := options.FindOne().SetSort(latestSort)

	var doc readingDocument
	err := r.coll.FindOne(ctx, bson.D{{Key: "deviceId", Value: deviceID}}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return mqtmodels.Reading{}, interfaces.ErrReadingNotFound
		}
		return mqtmodels.Reading{}, interfaces.NewStorageError("fetch latest", err)
	}
	return doc.toModel(), nil
}

func (r *MongoReadingRepository) Ping(ctx context.Context) error {
	if err := r.coll.Database().Client().Ping(ctx, readpref.Primary()); err != nil {
		return interfaces.NewStorageError("ping", err)
	}
	return nil
}
