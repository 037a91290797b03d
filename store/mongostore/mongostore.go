// Package mongostore adapts the store surface over the MongoDB driver.
// Each dialed Conn is a dedicated driver client with an internal pool size
// of one: connection pooling and lease accounting are the pipeline's
// concern, not the driver's.
package mongostore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/solstream-io/mongosink/store"
)

// Dialer opens connections to a MongoDB deployment.
type Dialer struct {
	// URI is the deployment connection string.
	URI string
	// Database holding the pipeline's collections.
	Database string
	// ConnectTimeout bounds dialing and the initial liveness ping.
	ConnectTimeout time.Duration
}

// Dial implements store.Dialer.
func (d Dialer) Dial(ctx context.Context) (store.Conn, error) {
	var opts = options.Client().
		ApplyURI(d.URI).
		SetMaxPoolSize(1).
		SetConnectTimeout(d.ConnectTimeout)

	var client, err = mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to store")
	}

	var pingCtx, cancel = ctx, context.CancelFunc(func() {})
	if d.ConnectTimeout != 0 {
		pingCtx, cancel = context.WithTimeout(ctx, d.ConnectTimeout)
	}
	defer cancel()

	if err = client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "pinging store")
	}
	return &conn{db: client.Database(d.Database)}, nil
}

type conn struct {
	db *mongo.Database
}

func (c *conn) Ping(ctx context.Context) error {
	return c.db.Client().Ping(ctx, readpref.Primary())
}

func (c *conn) WriteBulk(ctx context.Context, collection string, mode store.Mode, writes []store.Write) error {
	if len(writes) == 0 {
		return nil
	}
	var models = make([]mongo.WriteModel, 0, len(writes))
	for _, w := range writes {
		switch mode {
		case store.Upsert:
			models = append(models, mongo.NewReplaceOneModel().
				SetFilter(bson.M{"_id": w.ID}).
				SetReplacement(w.Doc).
				SetUpsert(true))
		case store.InsertUnique:
			models = append(models, mongo.NewInsertOneModel().
				SetDocument(withID(w)))
		case store.Append:
			models = append(models, mongo.NewInsertOneModel().
				SetDocument(w.Doc))
		}
	}
	// Upserts of the same key must apply in order. Inserts carry no
	// ordering requirement and run unordered so that a duplicate key
	// doesn't abort the remainder of the batch.
	var opts = options.BulkWrite().SetOrdered(mode == store.Upsert)

	var _, err = c.db.Collection(collection).BulkWrite(ctx, models, opts)
	return classify(err, mode)
}

func (c *conn) DeleteSlots(ctx context.Context, collection string, slotNums []uint64) (int64, error) {
	if len(slotNums) == 0 {
		return 0, nil
	}
	var nums = make([]int64, len(slotNums))
	for i, s := range slotNums {
		nums[i] = int64(s)
	}
	var res, err = c.db.Collection(collection).
		DeleteMany(ctx, bson.M{"slot": bson.M{"$in": nums}})
	if err != nil {
		return 0, classify(err, store.Append)
	}
	return res.DeletedCount, nil
}

func (c *conn) Close(ctx context.Context) error {
	return c.db.Client().Disconnect(ctx)
}

// withID extends an InsertUnique document with its _id so that the
// collection's unique index enforces insert-if-absent semantics.
func withID(w store.Write) bson.D {
	var raw, err = bson.Marshal(w.Doc)
	if err != nil {
		// Surfaced as a permanent write error by the server path; marshal
		// here only fails for types bson cannot encode at all.
		return bson.D{{Key: "_id", Value: w.ID}}
	}
	var doc bson.D
	_ = bson.Unmarshal(raw, &doc)
	return append(bson.D{{Key: "_id", Value: w.ID}}, doc...)
}

// classify maps a driver error to the pipeline's transient/permanent
// taxonomy. Duplicate-key errors of insert-if-absent writes are success.
func classify(err error, mode store.Mode) error {
	if err == nil {
		return nil
	}
	if bwe, ok := err.(mongo.BulkWriteException); ok {
		var permanent = false
		for _, we := range bwe.WriteErrors {
			if isDuplicateKeyCode(we.Code) && mode == store.InsertUnique {
				continue // Document already present.
			}
			permanent = true
		}
		if !permanent && bwe.WriteConcernError == nil {
			return nil
		}
		if bwe.WriteConcernError != nil {
			return err // Replication lag or quorum loss; retryable.
		}
		return store.Permanentf(err)
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return err
	}
	if we, ok := err.(mongo.WriteException); ok && we.WriteConcernError == nil {
		return store.Permanentf(err)
	}
	return err
}

func isDuplicateKeyCode(code int) bool {
	return code == 11000 || code == 11001
}
