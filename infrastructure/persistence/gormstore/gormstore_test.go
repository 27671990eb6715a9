package gormstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"library/domain/book"
	"library/domain/shared"
	"library/infrastructure/messaging"
	"library/infrastructure/persistence"
	"library/infrastructure/persistence/gormstore/po"
	"library/infrastructure/persistence/retry"

	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := &Config{
		Driver:   DriverSQLite,
		Path:     filepath.Join(t.TempDir(), "library.db"),
		LogLevel: "silent",
	}
	db, err := cfg.Connect()
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate() error = %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func noRetry() retry.Config {
	cfg := retry.DefaultConfig
	cfg.Enabled = false
	return cfg
}

func saveBook(t *testing.T, db *gorm.DB, b *book.Book) error {
	t.Helper()
	repo := NewBookRepository(db)
	uow := NewUnitOfWorkFactory(db, noRetry(), true).New()
	return uow.Execute(context.Background(), func(ctx context.Context) error {
		if err := repo.Save(ctx, b); err != nil {
			return err
		}
		uow.RegisterDirty(b)
		return nil
	})
}

func newBook(t *testing.T) *book.Book {
	t.Helper()
	b, err := book.NewBook(book.NewBookParams{
		AuthorID:  "author-1",
		Title:     "The Left Hand of Darkness",
		PageCount: 304,
		Status:    book.StatusReading,
	})
	if err != nil {
		t.Fatalf("NewBook() error = %v", err)
	}
	return b
}

func TestSaveThenFindIncrementsVersion(t *testing.T) {
	db := newTestDB(t)
	repo := NewBookRepository(db)

	b := newBook(t)
	page := 12
	if _, err := b.AddQuote("Light is the left hand of darkness", &page); err != nil {
		t.Fatalf("AddQuote() error = %v", err)
	}
	if _, err := b.AddNote("re-read chapter 7"); err != nil {
		t.Fatalf("AddNote() error = %v", err)
	}

	if err := saveBook(t, db, b); err != nil {
		t.Fatalf("save error = %v", err)
	}
	if b.Version() != 1 {
		t.Errorf("in-memory version = %d, want 1", b.Version())
	}

	loaded, err := repo.FindByID(context.Background(), b.ID())
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if loaded.Version() != 1 {
		t.Errorf("loaded version = %d, want 1", loaded.Version())
	}
	if loaded.Title() != b.Title() || loaded.Status() != book.StatusReading || loaded.PageCount() != 304 {
		t.Errorf("loaded = %s/%s/%d", loaded.Title(), loaded.Status(), loaded.PageCount())
	}
	if len(loaded.Quotes()) != 1 || *loaded.Quotes()[0].Page() != 12 {
		t.Errorf("quotes = %+v", loaded.Quotes())
	}
	if len(loaded.Notes()) != 1 || loaded.Notes()[0].Content() != "re-read chapter 7" {
		t.Errorf("notes = %+v", loaded.Notes())
	}
	if len(loaded.UncommittedEvents()) != 0 {
		t.Error("reconstruction must not record events")
	}

	var rows []po.OutboxEventPO
	if err := db.Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		t.Fatalf("load outbox: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("outbox rows = %d, want 3", len(rows))
	}
	events := b.UncommittedEvents()
	for i, row := range rows {
		if row.ID != events[i].EventID() {
			t.Errorf("row %d id = %s, want %s", i, row.ID, events[i].EventID())
		}
		if row.AggregateVersion != 1 || row.Status != string(po.EventStatusPending) {
			t.Errorf("row %d = v%d %s", i, row.AggregateVersion, row.Status)
		}
	}
}

func TestStaleSaveIsConcurrencyConflict(t *testing.T) {
	db := newTestDB(t)
	repo := NewBookRepository(db)
	ctx := context.Background()

	b := newBook(t)
	if err := saveBook(t, db, b); err != nil {
		t.Fatalf("initial save error = %v", err)
	}

	first, _ := repo.FindByID(ctx, b.ID())
	second, _ := repo.FindByID(ctx, b.ID())

	titleA, titleB := "Winner", "Loser"
	if err := first.UpdateDetails(book.DetailsPatch{Title: &titleA}); err != nil {
		t.Fatal(err)
	}
	if err := second.UpdateDetails(book.DetailsPatch{Title: &titleB}); err != nil {
		t.Fatal(err)
	}

	if err := saveBook(t, db, first); err != nil {
		t.Fatalf("first save error = %v", err)
	}
	err := saveBook(t, db, second)
	if !errors.Is(err, shared.ErrConflict) {
		t.Fatalf("second save error = %v, want ErrConflict", err)
	}
	if second.Version() != 1 {
		t.Errorf("loser version = %d, want unchanged 1", second.Version())
	}

	loaded, _ := repo.FindByID(ctx, b.ID())
	if loaded.Title() != "Winner" || loaded.Version() != 2 {
		t.Errorf("persisted = %s v%d, want Winner v2", loaded.Title(), loaded.Version())
	}

	var rows int64
	db.Model(&po.OutboxEventPO{}).Where("aggregate_id = ?", b.ID()).Count(&rows)
	if rows != 2 {
		t.Errorf("outbox rows = %d, want 2 (created + winner update)", rows)
	}
}

func TestConcurrentSavesExactlyOneWins(t *testing.T) {
	db := newTestDB(t)
	repo := NewBookRepository(db)
	ctx := context.Background()

	b := newBook(t)
	if err := saveBook(t, db, b); err != nil {
		t.Fatalf("initial save error = %v", err)
	}

	const writers = 4
	copies := make([]*book.Book, writers)
	for i := range copies {
		c, err := repo.FindByID(ctx, b.ID())
		if err != nil {
			t.Fatal(err)
		}
		pages := 400 + i
		if err := c.UpdateDetails(book.DetailsPatch{PageCount: &pages}); err != nil {
			t.Fatal(err)
		}
		copies[i] = c
	}

	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := range copies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = saveBook(t, db, copies[i])
		}(i)
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		switch {
		case err == nil:
			if winner >= 0 {
				t.Fatalf("writers %d and %d both succeeded", winner, i)
			}
			winner = i
		case !errors.Is(err, shared.ErrConflict):
			t.Fatalf("writer %d error = %v, want ErrConflict", i, err)
		}
	}
	if winner < 0 {
		t.Fatal("no writer succeeded")
	}

	loaded, _ := repo.FindByID(ctx, b.ID())
	if loaded.PageCount() != 400+winner || loaded.Version() != 2 {
		t.Errorf("persisted pageCount=%d v%d, want %d v2", loaded.PageCount(), loaded.Version(), 400+winner)
	}
}

func TestChildReconciliationKeepsUnchangedRows(t *testing.T) {
	db := newTestDB(t)
	repo := NewBookRepository(db)
	ctx := context.Background()

	b := newBook(t)
	keepID, _ := b.AddQuote("first", nil)
	dropID, _ := b.AddQuote("second", nil)
	editID, _ := b.AddQuote("third", nil)
	if err := saveBook(t, db, b); err != nil {
		t.Fatal(err)
	}

	before, _ := repo.FindByID(ctx, b.ID())
	text := "third, revised"
	if err := before.UpdateQuote(editID, book.QuotePatch{Text: &text}); err != nil {
		t.Fatal(err)
	}
	if err := before.RemoveQuote(dropID); err != nil {
		t.Fatal(err)
	}
	if err := saveBook(t, db, before); err != nil {
		t.Fatal(err)
	}

	after, _ := repo.FindByID(ctx, b.ID())
	quotes := after.Quotes()
	if len(quotes) != 2 {
		t.Fatalf("quotes = %d, want 2", len(quotes))
	}
	if quotes[0].ID() != keepID || quotes[1].ID() != editID {
		t.Errorf("quote order = %s, %s", quotes[0].ID(), quotes[1].ID())
	}
	if quotes[1].Text() != text {
		t.Errorf("edited text = %q", quotes[1].Text())
	}
	if !quotes[0].UpdatedAt().Equal(before.Quotes()[0].UpdatedAt()) {
		t.Error("unchanged quote was rewritten")
	}
}

func TestDeleteRemovesChildren(t *testing.T) {
	db := newTestDB(t)
	repo := NewBookRepository(db)
	ctx := context.Background()

	b := newBook(t)
	b.AddQuote("gone soon", nil)
	b.AddNote("also gone")
	if err := saveBook(t, db, b); err != nil {
		t.Fatal(err)
	}

	loaded, _ := repo.FindByID(ctx, b.ID())
	if err := loaded.Delete(); err != nil {
		t.Fatal(err)
	}
	uow := NewUnitOfWork(db)
	err := uow.Execute(ctx, func(ctx context.Context) error {
		if err := repo.Delete(ctx, loaded); err != nil {
			return err
		}
		uow.RegisterRemoved(loaded)
		return nil
	})
	if err != nil {
		t.Fatalf("delete error = %v", err)
	}

	if _, err := repo.FindByID(ctx, b.ID()); !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("FindByID after delete error = %v, want ErrNotFound", err)
	}
	var quotes, notes int64
	db.Model(&po.QuotePO{}).Where("book_id = ?", b.ID()).Count(&quotes)
	db.Model(&po.NotePO{}).Where("book_id = ?", b.ID()).Count(&notes)
	if quotes != 0 || notes != 0 {
		t.Errorf("children left behind: %d quotes, %d notes", quotes, notes)
	}
	if n, _ := repo.CountByAuthor(ctx, "author-1"); n != 0 {
		t.Errorf("CountByAuthor = %d, want 0", n)
	}
}

// 绕过仓储直接删 books 行，子表靠外键级联
func TestBookRowDeleteCascadesToChildren(t *testing.T) {
	db := newTestDB(t)
	b := newBook(t)
	b.AddQuote("gone soon", nil)
	b.AddNote("also gone")
	if err := saveBook(t, db, b); err != nil {
		t.Fatal(err)
	}

	if err := db.Where("id = ?", b.ID()).Delete(&po.BookPO{}).Error; err != nil {
		t.Fatalf("delete book row error = %v", err)
	}

	tests := []struct {
		name  string
		model interface{}
	}{
		{"book_quotes", &po.QuotePO{}},
		{"book_notes", &po.NotePO{}},
	}
	for _, tt := range tests {
		var n int64
		db.Model(tt.model).Where("book_id = ?", b.ID()).Count(&n)
		if n != 0 {
			t.Errorf("%s rows left for deleted book = %d", tt.name, n)
		}
	}
}

func TestChildRowNeedsItsBook(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()
	err := db.Create(&po.NotePO{ID: "n-1", BookID: "no-such-book", Content: "orphan", CreatedAt: now}).Error
	if err == nil {
		t.Error("note without a book row was accepted")
	}
}

func TestReconcile(t *testing.T) {
	type row struct{ id, v string }
	stored := []row{{"a", "1"}, {"b", "1"}, {"c", "1"}}
	desired := []row{{"a", "1"}, {"c", "2"}, {"d", "1"}}

	diff := Reconcile(stored, desired,
		func(r row) string { return r.id },
		func(x, y row) bool { return x.v == y.v })

	if len(diff.Added) != 1 || diff.Added[0].id != "d" {
		t.Errorf("added = %v", diff.Added)
	}
	if len(diff.Changed) != 1 || diff.Changed[0].id != "c" {
		t.Errorf("changed = %v", diff.Changed)
	}
	if len(diff.Removed) != 1 || diff.Removed[0] != "b" {
		t.Errorf("removed = %v", diff.Removed)
	}
	if Reconcile(stored, stored, func(r row) string { return r.id }, func(x, y row) bool { return x == y }).Empty() != true {
		t.Error("identical sets should produce an empty diff")
	}
}

type flakyPublisher struct {
	mu       sync.Mutex
	failures int
	bodies   map[string][]byte
}

func (p *flakyPublisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unreachable")
	}
	if p.bodies == nil {
		p.bodies = make(map[string][]byte)
	}
	p.bodies[routingKey] = body
	return nil
}

func relayConfig(maxRetries int) RelayConfig {
	backoff := retry.DefaultConfig
	backoff.InitialDelay = 0
	backoff.JitterEnabled = false
	return RelayConfig{
		PollInterval: 10 * time.Millisecond,
		BatchSize:    10,
		MaxRetries:   maxRetries,
		GracePeriod:  0,
		Backoff:      backoff,
	}
}

func TestRelayRepublishesAfterFailure(t *testing.T) {
	db := newTestDB(t)
	ctx := persistence.ContextWithRequestID(context.Background(), "req-9")

	b := newBook(t)
	repo := NewBookRepository(db)
	uow := NewUnitOfWork(db)
	if err := uow.Execute(ctx, func(ctx context.Context) error {
		if err := repo.Save(ctx, b); err != nil {
			return err
		}
		uow.RegisterNew(b)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	outbox := NewOutboxRepository(db)
	publisher := &flakyPublisher{failures: 1}
	relay, err := NewOutboxRelay(outbox, publisher, relayConfig(5))
	if err != nil {
		t.Fatal(err)
	}

	n, err := relay.ProcessBatch(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("first batch = %d, %v; want 0 published", n, err)
	}
	var row po.OutboxEventPO
	db.First(&row, "aggregate_id = ?", b.ID())
	if row.Status != string(po.EventStatusPending) || row.RetryCount != 1 || row.LastError == "" {
		t.Fatalf("after failure row = %s retry=%d err=%q", row.Status, row.RetryCount, row.LastError)
	}

	n, err = relay.ProcessBatch(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("second batch = %d, %v; want 1 published", n, err)
	}
	db.First(&row, "aggregate_id = ?", b.ID())
	if row.Status != string(po.EventStatusPublished) || row.PublishedAt == nil {
		t.Errorf("after publish row = %s", row.Status)
	}

	evt, err := messaging.Decode(publisher.bodies[book.EventCreated])
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if evt.EventID() != row.ID || evt.Metadata().CorrelationID != "req-9" || evt.Metadata().AggregateVersion != 1 {
		t.Errorf("relayed event = %s corr=%q v%d", evt.EventID(), evt.Metadata().CorrelationID, evt.Metadata().AggregateVersion)
	}

	if n, _ := relay.ProcessBatch(context.Background()); n != 0 {
		t.Errorf("published rows were relayed again: %d", n)
	}
}

func TestRelayGivesUpAfterMaxRetries(t *testing.T) {
	db := newTestDB(t)
	b := newBook(t)
	if err := saveBook(t, db, b); err != nil {
		t.Fatal(err)
	}

	outbox := NewOutboxRepository(db)
	relay, _ := NewOutboxRelay(outbox, &flakyPublisher{failures: 100}, relayConfig(2))
	relay.ProcessBatch(context.Background())
	relay.ProcessBatch(context.Background())

	failed, _ := outbox.CountByStatus(context.Background(), po.EventStatusFailed)
	if failed != 1 {
		t.Errorf("failed rows = %d, want 1", failed)
	}
	if n, _ := relay.ProcessBatch(context.Background()); n != 0 {
		t.Errorf("FAILED rows must not be retried, published %d", n)
	}
}

func TestMarkEventProcessingClaimsOnce(t *testing.T) {
	db := newTestDB(t)
	b := newBook(t)
	if err := saveBook(t, db, b); err != nil {
		t.Fatal(err)
	}
	outbox := NewOutboxRepository(db)
	id := b.UncommittedEvents()[0].EventID()

	if err := outbox.MarkEventProcessing(context.Background(), id); err != nil {
		t.Fatalf("first claim error = %v", err)
	}
	if err := outbox.MarkEventProcessing(context.Background(), id); !errors.Is(err, ErrEventClaimed) {
		t.Errorf("second claim error = %v, want ErrEventClaimed", err)
	}
}

func TestPendingRowsWaitForOlderRowsOfTheirAggregate(t *testing.T) {
	tests := []struct {
		name    string
		first   map[string]interface{} // applied to the v1 row
		want    []int                  // versions handed out
		backlog bool                   // HasUnpublishedBefore for v2
	}{
		{name: "older row due", first: map[string]interface{}{}, want: []int{1, 2}, backlog: true},
		{name: "older row backing off", first: map[string]interface{}{"next_attempt_at": time.Now().UTC().Add(time.Hour)}, backlog: true},
		{name: "older row in flight", first: map[string]interface{}{"status": string(po.EventStatusProcessing)}, backlog: true},
		{name: "older row failed", first: map[string]interface{}{"status": string(po.EventStatusFailed)}, backlog: true},
		{name: "older row published", first: map[string]interface{}{"status": string(po.EventStatusPublished)}, want: []int{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			ctx := context.Background()
			b := newBook(t)
			if err := saveBook(t, db, b); err != nil {
				t.Fatal(err)
			}
			firstID := b.UncommittedEvents()[0].EventID()

			loaded, _ := NewBookRepository(db).FindByID(ctx, b.ID())
			if _, err := loaded.AddNote("gethenian winter"); err != nil {
				t.Fatal(err)
			}
			if err := saveBook(t, db, loaded); err != nil {
				t.Fatal(err)
			}
			if len(tt.first) > 0 {
				db.Model(&po.OutboxEventPO{}).Where("id = ?", firstID).Updates(tt.first)
			}

			outbox := NewOutboxRepository(db)
			rows, err := outbox.GetPendingEvents(ctx, 10, time.Now().UTC())
			if err != nil {
				t.Fatalf("GetPendingEvents() error = %v", err)
			}
			var got []int
			for _, row := range rows {
				got = append(got, row.AggregateVersion)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("versions handed out = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("versions handed out = %v, want %v", got, tt.want)
				}
			}

			backlog, err := outbox.HasUnpublishedBefore(ctx, b.ID(), 2)
			if err != nil || backlog != tt.backlog {
				t.Errorf("HasUnpublishedBefore(v2) = %v, %v; want %v", backlog, err, tt.backlog)
			}
		})
	}
}

func TestRelayHoldsLaterRowsAfterAFailure(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	b := newBook(t)
	if err := saveBook(t, db, b); err != nil {
		t.Fatal(err)
	}
	loaded, _ := NewBookRepository(db).FindByID(ctx, b.ID())
	if _, err := loaded.AddNote("gethenian winter"); err != nil {
		t.Fatal(err)
	}
	if err := saveBook(t, db, loaded); err != nil {
		t.Fatal(err)
	}

	outbox := NewOutboxRepository(db)
	publisher := &flakyPublisher{failures: 1}
	relay, err := NewOutboxRelay(outbox, publisher, relayConfig(5))
	if err != nil {
		t.Fatal(err)
	}

	if n, err := relay.ProcessBatch(ctx); err != nil || n != 0 {
		t.Fatalf("first batch = %d, %v; v2 must wait for the failed v1", n, err)
	}
	if len(publisher.bodies) != 0 {
		t.Fatalf("published %d bodies", len(publisher.bodies))
	}
	if n, err := relay.ProcessBatch(ctx); err != nil || n != 2 {
		t.Fatalf("second batch = %d, %v; want both rows", n, err)
	}
}
