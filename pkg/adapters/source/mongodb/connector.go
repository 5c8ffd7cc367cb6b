// Package mongodb implements the source connector for MongoDB. Collections
// map onto tables; field schemas are inferred by sampling documents since
// MongoDB has no catalog to introspect.
package mongodb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/relaydata/relay-engine/pkg/adapters/source"
	"github.com/relaydata/relay-engine/pkg/crypto"
)

// schemaSampleSize bounds the documents examined per collection when
// inferring field schemas.
const schemaSampleSize = 100

// Connector speaks to one MongoDB database.
type Connector struct {
	client *mongo.Client
	dbName string
	opts   source.Options
}

// buildURI renders credentials into a mongodb:// URI with proper escaping.
func buildURI(creds *crypto.Credentials) string {
	auth := ""
	if creds.Username != "" {
		auth = fmt.Sprintf("%s:%s@", url.QueryEscape(creds.Username), url.QueryEscape(creds.Password))
	}

	query := ""
	if src := creds.Params["authSource"]; src != "" {
		query = "?authSource=" + url.QueryEscape(src)
	}
	return fmt.Sprintf("mongodb://%s%s:%d/%s%s", auth, creds.Host, creds.Port, url.QueryEscape(creds.Database), query)
}

// New connects using decrypted credentials.
func New(ctx context.Context, creds *crypto.Credentials, opts source.Options) (*Connector, error) {
	clientOpts := options.Client().
		ApplyURI(buildURI(creds)).
		SetConnectTimeout(opts.ConnectTimeout).
		SetServerSelectionTimeout(opts.ConnectTimeout)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	return &Connector{client: client, dbName: creds.Database, opts: opts}, nil
}

// TestConnection verifies the server answers a ping with these credentials.
func (c *Connector) TestConnection(ctx context.Context) error {
	if err := c.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// ListTables enumerates collections with estimated document counts and a
// sampled field schema. The _id field is reported as the primary key.
func (c *Connector) ListTables(ctx context.Context) ([]source.TableInfo, error) {
	db := c.client.Database(c.dbName)

	names, err := db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	sort.Strings(names)

	var tables []source.TableInfo
	for _, name := range names {
		coll := db.Collection(name)

		count, err := coll.EstimatedDocumentCount(ctx)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", name, err)
		}

		cols, err := c.sampleSchema(ctx, coll)
		if err != nil {
			return nil, err
		}
		tables = append(tables, source.TableInfo{Name: name, ApproxRows: count, Columns: cols})
	}
	return tables, nil
}

// sampleSchema infers a column list from a bounded sample. A field seen in
// some documents but not others is reported as nullable.
func (c *Connector) sampleSchema(ctx context.Context, coll *mongo.Collection) ([]source.ColumnInfo, error) {
	cursor, err := coll.Find(ctx, bson.D{}, options.Find().SetLimit(schemaSampleSize))
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", coll.Name(), err)
	}
	defer cursor.Close(ctx)

	seen := make(map[string]string)
	counts := make(map[string]int)
	total := 0
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		total++
		for field, val := range doc {
			counts[field]++
			if _, ok := seen[field]; !ok {
				seen[field] = bsonTypeName(val)
			}
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("sample %s: %w", coll.Name(), err)
	}

	fields := make([]string, 0, len(seen))
	for f := range seen {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	cols := make([]source.ColumnInfo, 0, len(fields))
	for _, f := range fields {
		cols = append(cols, source.ColumnInfo{
			Name:       f,
			DataType:   seen[f],
			IsNullable: f != "_id" && counts[f] < total,
			IsPrimary:  f == "_id",
		})
	}
	return cols, nil
}

func bsonTypeName(v any) string {
	switch v.(type) {
	case primitive.ObjectID:
		return "objectId"
	case string:
		return "string"
	case int32, int64:
		return "int"
	case float64:
		return "double"
	case bool:
		return "bool"
	case primitive.DateTime, time.Time:
		return "date"
	case bson.M, bson.D:
		return "object"
	case bson.A:
		return "array"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// StreamRows opens a batched cursor over one collection.
func (c *Connector) StreamRows(ctx context.Context, table string) (source.RowIterator, error) {
	coll := c.client.Database(c.dbName).Collection(table)

	cursor, err := coll.Find(ctx, bson.D{}, options.Find().SetBatchSize(int32(c.opts.BatchSize())))
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", table, err)
	}
	return &docIterator{cursor: cursor, batchSize: c.opts.BatchSize()}, nil
}

// Close disconnects the client.
func (c *Connector) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.client.Disconnect(ctx)
}

// docIterator adapts a mongo cursor to the source.RowIterator contract.
type docIterator struct {
	cursor    *mongo.Cursor
	batchSize int
	done      bool
}

func (it *docIterator) Next(ctx context.Context) (source.RowBatch, error) {
	if it.done {
		return source.RowBatch{}, io.EOF
	}

	batch := source.RowBatch{Rows: make([]source.Row, 0, it.batchSize)}
	for len(batch.Rows) < it.batchSize {
		if !it.cursor.Next(ctx) {
			it.done = true
			if err := it.cursor.Err(); err != nil {
				return source.RowBatch{}, err
			}
			break
		}

		var doc bson.M
		if err := it.cursor.Decode(&doc); err != nil {
			batch.Skipped++
			continue
		}
		row := make(source.Row, len(doc))
		for field, val := range doc {
			row[field] = normalizeValue(val)
		}
		batch.Rows = append(batch.Rows, row)
	}

	if len(batch.Rows) == 0 && batch.Skipped == 0 {
		return source.RowBatch{}, io.EOF
	}
	return batch, nil
}

func (it *docIterator) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return it.cursor.Close(ctx)
}

// normalizeValue maps BSON values onto loader-friendly types. Nested
// documents and arrays land as JSON text since the analytics store keeps
// them in text columns.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.Decimal128:
		return val.String()
	case primitive.Binary:
		return fmt.Sprintf("%x", val.Data)
	case bson.M, bson.D, bson.A:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	case time.Time:
		return val.UTC()
	default:
		return v
	}
}

var _ source.Connector = (*Connector)(nil)
var _ source.RowIterator = (*docIterator)(nil)
