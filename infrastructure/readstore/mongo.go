package readstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"library/pkg/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const (
	booksCollection     = "books"
	authorsCollection   = "authors"
	processedCollection = "processed_events"
)

// MongoConfig 读库连接配置
type MongoConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// MongoStore stores one collection per aggregate type plus the processed-event markers.
type MongoStore struct {
	client    *mongo.Client
	books     *mongo.Collection
	authors   *mongo.Collection
	processed *mongo.Collection
	timeout   time.Duration
}

// ConnectMongo dials, pings and creates indexes.
func ConnectMongo(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI).SetTimeout(cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	s := newMongoStore(client, client.Database(cfg.Database), cfg.Timeout)
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	logger.Info("Read store connected",
		zap.String("driver", "mongo"),
		zap.String("database", cfg.Database),
	)
	return s, nil
}

func newMongoStore(client *mongo.Client, db *mongo.Database, timeout time.Duration) *MongoStore {
	return &MongoStore{
		client:    client,
		books:     db.Collection(booksCollection),
		authors:   db.Collection(authorsCollection),
		processed: db.Collection(processedCollection),
		timeout:   timeout,
	}
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.books.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "author_id", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create book indexes: %w", err)
	}
	_, err = s.authors.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "name", Value: 1}}})
	if err != nil {
		return fmt.Errorf("failed to create author indexes: %w", err)
	}
	return nil
}

// live excludes tombstones.
var live = bson.E{Key: "deleted", Value: bson.D{{Key: "$ne", Value: true}}}

// guarded adds the ordering guard: the document must sit at version v-1 or v.
func guarded(filter bson.D, s Stamp) bson.D {
	filter = append(filter, live)
	if s.Version > 0 {
		filter = append(filter, bson.E{Key: "version", Value: bson.D{
			{Key: "$gte", Value: s.Version - 1},
			{Key: "$lte", Value: s.Version},
		}})
	}
	return filter
}

// stamped returns the $set fields every guarded update writes.
func stamped(set bson.D, s Stamp) bson.D {
	if s.Version > 0 {
		set = append(set, bson.E{Key: "version", Value: s.Version})
	}
	return append(set, bson.E{Key: "updated_at", Value: s.At})
}

// apply runs one guarded update. When the filter matches nothing, settle works
// out whether the event is early, late, or in line with a no-op child change.
func (s *MongoStore) apply(ctx context.Context, coll *mongo.Collection, kind, op, id string, st Stamp, filter, update bson.D) error {
	res, err := coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("%s %s: %w", kind, op, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	return s.settle(ctx, coll, kind, op, id, st)
}

func (s *MongoStore) settle(ctx context.Context, coll *mongo.Collection, kind, op, id string, st Stamp) error {
	var cur struct {
		Version int  `bson:"version"`
		Deleted bool `bson:"deleted"`
	}
	err := coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}},
		options.FindOne().SetProjection(bson.D{{Key: "version", Value: 1}, {Key: "deleted", Value: 1}}),
	).Decode(&cur)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return missing(kind, id)
	}
	if err != nil {
		return fmt.Errorf("%s %s lookup: %w", kind, op, err)
	}
	if cur.Deleted {
		return nil
	}
	switch st.against(cur.Version) {
	case orderSkip:
		logger.Debug("Read model already past event",
			zap.String("op", op), zap.String("id", id), zap.Int("version", cur.Version))
		return nil
	case orderGap:
		return st.gap(kind, id, cur.Version)
	}
	if st.Version == 0 {
		return nil
	}

	// in line, but the child guard made it a no-op (duplicate push, pull of a
	// missing child): the version still has to move so the next event applies
	_, err = coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$max", Value: bson.D{{Key: "version", Value: st.Version}}}},
	)
	if err != nil {
		return fmt.Errorf("%s %s version: %w", kind, op, err)
	}
	return nil
}

func (s *MongoStore) updateBook(ctx context.Context, op, id string, st Stamp, filter, update bson.D) error {
	return s.apply(ctx, s.books, "book", op, id, st, filter, update)
}

func (s *MongoStore) InsertBook(ctx context.Context, doc BookDocument) error {
	if doc.Quotes == nil {
		doc.Quotes = []QuoteDocument{}
	}
	if doc.Notes == nil {
		doc.Notes = []NoteDocument{}
	}
	fields := bson.D{
		{Key: "author_id", Value: doc.AuthorID},
		{Key: "author_name", Value: doc.AuthorName},
		{Key: "title", Value: doc.Title},
		{Key: "isbn", Value: doc.ISBN},
		{Key: "page_count", Value: doc.PageCount},
		{Key: "status", Value: doc.Status},
		{Key: "year_read", Value: doc.YearRead},
		{Key: "rating", Value: doc.Rating},
		{Key: "quotes", Value: doc.Quotes},
		{Key: "quote_count", Value: len(doc.Quotes)},
		{Key: "notes", Value: doc.Notes},
		{Key: "note_count", Value: len(doc.Notes)},
		{Key: "version", Value: doc.Version},
		{Key: "created_at", Value: doc.CreatedAt},
		{Key: "updated_at", Value: doc.UpdatedAt},
	}
	_, err := s.books.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: doc.ID}},
		bson.D{{Key: "$setOnInsert", Value: fields}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("books insert: %w", err)
	}
	return nil
}

func (s *MongoStore) UpdateBook(ctx context.Context, id string, st Stamp, ch BookChange) error {
	var set bson.D
	add := func(key string, v any) { set = append(set, bson.E{Key: key, Value: v}) }
	if ch.Title != nil {
		add("title", *ch.Title)
	}
	if ch.AuthorID != nil {
		add("author_id", *ch.AuthorID)
	}
	if ch.AuthorName != nil {
		add("author_name", *ch.AuthorName)
	}
	if ch.ISBN != nil {
		add("isbn", *ch.ISBN)
	}
	if ch.PageCount != nil {
		add("page_count", *ch.PageCount)
	}
	if ch.Status != nil {
		add("status", *ch.Status)
	}
	if ch.YearRead != nil {
		add("year_read", *ch.YearRead)
	}
	if ch.Rating != nil {
		add("rating", *ch.Rating)
	}
	return s.updateBook(ctx, "update", id, st,
		guarded(bson.D{{Key: "_id", Value: id}}, st),
		bson.D{{Key: "$set", Value: stamped(set, st)}},
	)
}

// PushQuote appends the quote and bumps the counter in one update. The filter
// skips books that already hold a quote with this id.
func (s *MongoStore) PushQuote(ctx context.Context, bookID string, st Stamp, q QuoteDocument) error {
	filter := guarded(bson.D{
		{Key: "_id", Value: bookID},
		{Key: "quotes.id", Value: bson.D{{Key: "$ne", Value: q.ID}}},
	}, st)
	update := bson.D{
		{Key: "$push", Value: bson.D{{Key: "quotes", Value: q}}},
		{Key: "$inc", Value: bson.D{{Key: "quote_count", Value: 1}}},
		{Key: "$set", Value: stamped(nil, st)},
	}
	return s.updateBook(ctx, "push quote", bookID, st, filter, update)
}

func (s *MongoStore) UpdateQuote(ctx context.Context, bookID, quoteID string, st Stamp, ch QuoteChange) error {
	var set bson.D
	if ch.Text != nil {
		set = append(set, bson.E{Key: "quotes.$.text", Value: *ch.Text})
	}
	if ch.Page != nil {
		set = append(set, bson.E{Key: "quotes.$.page", Value: *ch.Page})
	}
	filter := guarded(bson.D{{Key: "_id", Value: bookID}, {Key: "quotes.id", Value: quoteID}}, st)
	return s.updateBook(ctx, "update quote", bookID, st, filter, bson.D{{Key: "$set", Value: stamped(set, st)}})
}

func (s *MongoStore) PullQuote(ctx context.Context, bookID, quoteID string, st Stamp) error {
	filter := guarded(bson.D{{Key: "_id", Value: bookID}, {Key: "quotes.id", Value: quoteID}}, st)
	update := bson.D{
		{Key: "$pull", Value: bson.D{{Key: "quotes", Value: bson.D{{Key: "id", Value: quoteID}}}}},
		{Key: "$inc", Value: bson.D{{Key: "quote_count", Value: -1}}},
		{Key: "$set", Value: stamped(nil, st)},
	}
	return s.updateBook(ctx, "pull quote", bookID, st, filter, update)
}

func (s *MongoStore) PushNote(ctx context.Context, bookID string, st Stamp, n NoteDocument) error {
	filter := guarded(bson.D{
		{Key: "_id", Value: bookID},
		{Key: "notes.id", Value: bson.D{{Key: "$ne", Value: n.ID}}},
	}, st)
	update := bson.D{
		{Key: "$push", Value: bson.D{{Key: "notes", Value: n}}},
		{Key: "$inc", Value: bson.D{{Key: "note_count", Value: 1}}},
		{Key: "$set", Value: stamped(nil, st)},
	}
	return s.updateBook(ctx, "push note", bookID, st, filter, update)
}

func (s *MongoStore) PullNote(ctx context.Context, bookID, noteID string, st Stamp) error {
	filter := guarded(bson.D{{Key: "_id", Value: bookID}, {Key: "notes.id", Value: noteID}}, st)
	update := bson.D{
		{Key: "$pull", Value: bson.D{{Key: "notes", Value: bson.D{{Key: "id", Value: noteID}}}}},
		{Key: "$inc", Value: bson.D{{Key: "note_count", Value: -1}}},
		{Key: "$set", Value: stamped(nil, st)},
	}
	return s.updateBook(ctx, "pull note", bookID, st, filter, update)
}

// DeleteBook turns the document into a tombstone. Keeping the _id makes a
// redelivered Created a no-op for $setOnInsert.
func (s *MongoStore) DeleteBook(ctx context.Context, id string, st Stamp) error {
	update := bson.D{{Key: "$set", Value: stamped(bson.D{{Key: "deleted", Value: true}}, st)}}
	return s.updateBook(ctx, "delete", id, st, guarded(bson.D{{Key: "_id", Value: id}}, st), update)
}

func (s *MongoStore) RenameAuthorOnBooks(ctx context.Context, authorID, name string) error {
	_, err := s.books.UpdateMany(ctx,
		bson.D{{Key: "author_id", Value: authorID}, live},
		bson.D{{Key: "$set", Value: bson.D{{Key: "author_name", Value: name}}}},
	)
	if err != nil {
		return fmt.Errorf("books backfill author name: %w", err)
	}
	return nil
}

func (s *MongoStore) GetBook(ctx context.Context, id string) (*BookDocument, error) {
	var doc BookDocument
	if err := s.books.FindOne(ctx, bson.D{{Key: "_id", Value: id}, live}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("books find: %w", err)
	}
	return &doc, nil
}

func (s *MongoStore) ListBooks(ctx context.Context, f BookFilter) ([]BookDocument, error) {
	filter := bson.D{live}
	if f.Status != "" {
		filter = append(filter, bson.E{Key: "status", Value: f.Status})
	}
	if f.AuthorID != "" {
		filter = append(filter, bson.E{Key: "author_id", Value: f.AuthorID})
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	if f.Offset > 0 {
		opts.SetSkip(int64(f.Offset))
	}

	cur, err := s.books.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("books list: %w", err)
	}
	out := []BookDocument{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("books list decode: %w", err)
	}
	return out, nil
}

func (s *MongoStore) InsertAuthor(ctx context.Context, doc AuthorDocument) error {
	_, err := s.authors.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: doc.ID}},
		bson.D{{Key: "$setOnInsert", Value: bson.D{
			{Key: "name", Value: doc.Name},
			{Key: "version", Value: doc.Version},
			{Key: "created_at", Value: doc.CreatedAt},
			{Key: "updated_at", Value: doc.UpdatedAt},
		}}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("authors insert: %w", err)
	}
	return nil
}

func (s *MongoStore) RenameAuthor(ctx context.Context, id string, st Stamp, name string) error {
	return s.apply(ctx, s.authors, "author", "rename", id, st,
		guarded(bson.D{{Key: "_id", Value: id}}, st),
		bson.D{{Key: "$set", Value: stamped(bson.D{{Key: "name", Value: name}}, st)}},
	)
}

func (s *MongoStore) DeleteAuthor(ctx context.Context, id string, st Stamp) error {
	return s.apply(ctx, s.authors, "author", "delete", id, st,
		guarded(bson.D{{Key: "_id", Value: id}}, st),
		bson.D{{Key: "$set", Value: stamped(bson.D{{Key: "deleted", Value: true}}, st)}},
	)
}

func (s *MongoStore) GetAuthor(ctx context.Context, id string) (*AuthorDocument, error) {
	var doc AuthorDocument
	if err := s.authors.FindOne(ctx, bson.D{{Key: "_id", Value: id}, live}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("authors find: %w", err)
	}
	return &doc, nil
}

func (s *MongoStore) ListAuthors(ctx context.Context, limit, offset int) ([]AuthorDocument, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	if offset > 0 {
		opts.SetSkip(int64(offset))
	}
	cur, err := s.authors.Find(ctx, bson.D{live}, opts)
	if err != nil {
		return nil, fmt.Errorf("authors list: %w", err)
	}
	out := []AuthorDocument{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("authors list decode: %w", err)
	}
	return out, nil
}

func (s *MongoStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	n, err := s.processed.CountDocuments(ctx, bson.D{{Key: "_id", Value: eventID}}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("processed_events lookup: %w", err)
	}
	return n > 0, nil
}

func (s *MongoStore) MarkProcessed(ctx context.Context, eventID, eventName string, at time.Time) error {
	_, err := s.processed.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: eventID}},
		bson.D{{Key: "$setOnInsert", Value: bson.D{
			{Key: "event_name", Value: eventName},
			{Key: "processed_at", Value: at},
		}}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("processed_events mark: %w", err)
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

var _ Store = (*MongoStore)(nil)
