package projection

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"library/domain/author"
	"library/domain/book"
	"library/domain/shared"
	"library/infrastructure/messaging"
	"library/infrastructure/readstore"
)

func newTestDispatcher(t *testing.T, store *readstore.MemoryStore, markers readstore.Markers) *Dispatcher {
	t.Helper()
	d := NewDispatcher(markers)
	if err := NewBookProjector(store, store).Register(d); err != nil {
		t.Fatalf("register book projector: %v", err)
	}
	if err := NewAuthorProjector(store, store).Register(d); err != nil {
		t.Fatalf("register author projector: %v", err)
	}
	return d
}

func deliver(t *testing.T, d *Dispatcher, evt shared.DomainEvent) messaging.Disposition {
	t.Helper()
	body, err := messaging.Encode(evt)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return d.Handle(context.Background(), messaging.Delivery{
		ID:         evt.EventID(),
		RoutingKey: evt.EventName(),
		Body:       body,
		Attempt:    1,
	})
}

// persisted simulates a successful save: bumps the version, stamps and drains the outbox.
func persisted(agg shared.AggregateRoot) []shared.DomainEvent {
	agg.MarkPersisted()
	events := agg.UncommittedEvents()
	agg.ClearEvents()
	return events
}

func deliverAll(t *testing.T, d *Dispatcher, events []shared.DomainEvent) {
	t.Helper()
	for _, evt := range events {
		if got := deliver(t, d, evt); got != messaging.Ack {
			t.Fatalf("%s disposition = %v, want ack", evt.EventName(), got)
		}
	}
}

func newAuthorAndBook(t *testing.T) (*author.Author, *book.Book) {
	t.Helper()
	a, err := author.NewAuthor("Ursula K. Le Guin")
	if err != nil {
		t.Fatal(err)
	}
	b, err := book.NewBook(book.NewBookParams{AuthorID: a.ID(), Title: "The Dispossessed", PageCount: 560, Status: book.StatusReading})
	if err != nil {
		t.Fatal(err)
	}
	return a, b
}

func TestCreatedEventsBuildDocuments(t *testing.T) {
	store := readstore.NewMemoryStore()
	d := newTestDispatcher(t, store, store)
	a, b := newAuthorAndBook(t)

	deliverAll(t, d, persisted(a))
	deliverAll(t, d, persisted(b))

	doc, err := store.GetBook(context.Background(), b.ID())
	if err != nil {
		t.Fatalf("GetBook() error = %v", err)
	}
	if doc.Title != "The Dispossessed" || doc.AuthorName != "Ursula K. Le Guin" || doc.Status != "READING" {
		t.Errorf("doc = %+v", doc)
	}
	if doc.Version != 1 || doc.QuoteCount != 0 || doc.YearRead != nil {
		t.Errorf("defaults: version=%d quoteCount=%d yearRead=%v", doc.Version, doc.QuoteCount, doc.YearRead)
	}
}

func TestMarkAsFinishedIsProjected(t *testing.T) {
	store := readstore.NewMemoryStore()
	d := newTestDispatcher(t, store, store)
	a, b := newAuthorAndBook(t)
	deliverAll(t, d, persisted(a))
	deliverAll(t, d, persisted(b))

	if err := b.MarkAsFinished(2024, 5); err != nil {
		t.Fatal(err)
	}
	deliverAll(t, d, persisted(b))

	doc, _ := store.GetBook(context.Background(), b.ID())
	if doc.Status != "FINISHED" || doc.YearRead == nil || *doc.YearRead != 2024 || doc.Rating == nil || *doc.Rating != 5 {
		t.Errorf("doc = %+v", doc)
	}
	if doc.Version != 2 {
		t.Errorf("version = %d, want 2", doc.Version)
	}
}

func TestSameEventTwiceGivesSameDocument(t *testing.T) {
	store := readstore.NewMemoryStore()
	d := newTestDispatcher(t, store, store)
	a, b := newAuthorAndBook(t)
	deliverAll(t, d, persisted(a))
	deliverAll(t, d, persisted(b))

	page := 42
	if _, err := b.AddQuote("True journey is return.", &page); err != nil {
		t.Fatal(err)
	}
	if _, err := b.AddNote("reread chapter 3"); err != nil {
		t.Fatal(err)
	}
	events := persisted(b)
	deliverAll(t, d, events)
	once, _ := store.GetBook(context.Background(), b.ID())

	// redelivery with the marker present
	deliverAll(t, d, events)
	twice, _ := store.GetBook(context.Background(), b.ID())
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("redelivery changed the document:\nonce  %+v\ntwice %+v", once, twice)
	}

	// redelivery after the marker was lost
	forgetful := newTestDispatcher(t, store, readstore.NewMemoryStore())
	deliverAll(t, forgetful, events)
	again, _ := store.GetBook(context.Background(), b.ID())
	if !reflect.DeepEqual(once, again) {
		t.Errorf("replay without marker changed the document:\nonce  %+v\nagain %+v", once, again)
	}
	if again.QuoteCount != 1 || again.NoteCount != 1 {
		t.Errorf("counters = %d quotes, %d notes; want 1, 1", again.QuoteCount, again.NoteCount)
	}
}

func TestDeletedEventRemovesDocument(t *testing.T) {
	store := readstore.NewMemoryStore()
	d := newTestDispatcher(t, store, store)
	a, b := newAuthorAndBook(t)
	deliverAll(t, d, persisted(a))
	deliverAll(t, d, persisted(b))

	if err := b.Delete(); err != nil {
		t.Fatal(err)
	}
	deliverAll(t, d, persisted(b))

	if _, err := store.GetBook(context.Background(), b.ID()); !errors.Is(err, readstore.ErrNotFound) {
		t.Errorf("GetBook() error = %v, want ErrNotFound", err)
	}
}

func TestAuthorRenameBackfillsBookDocuments(t *testing.T) {
	store := readstore.NewMemoryStore()
	d := newTestDispatcher(t, store, store)
	a, b := newAuthorAndBook(t)
	// book first: the author name is filled in when the author arrives
	deliverAll(t, d, persisted(b))
	deliverAll(t, d, persisted(a))

	doc, _ := store.GetBook(context.Background(), b.ID())
	if doc.AuthorName != "Ursula K. Le Guin" {
		t.Errorf("author name after late author = %q", doc.AuthorName)
	}

	if err := a.Rename("U. K. Le Guin"); err != nil {
		t.Fatal(err)
	}
	deliverAll(t, d, persisted(a))

	doc, _ = store.GetBook(context.Background(), b.ID())
	if doc.AuthorName != "U. K. Le Guin" {
		t.Errorf("author name after rename = %q", doc.AuthorName)
	}
}

func TestMalformedMessageIsRejected(t *testing.T) {
	store := readstore.NewMemoryStore()
	d := newTestDispatcher(t, store, store)

	got := d.Handle(context.Background(), messaging.Delivery{ID: "1", RoutingKey: book.EventCreated, Body: []byte("{not json")})
	if got != messaging.Reject {
		t.Errorf("disposition = %v, want reject", got)
	}
}

func TestPayloadWithoutChildIDIsRejected(t *testing.T) {
	store := readstore.NewMemoryStore()
	d := newTestDispatcher(t, store, store)

	evt := shared.NewEvent("b1", book.QuoteAdded{BookID: "b1", Text: "orphan"})
	if got := deliver(t, d, evt); got != messaging.Reject {
		t.Errorf("disposition = %v, want reject", got)
	}
	if done, _ := store.IsProcessed(context.Background(), evt.EventID()); done {
		t.Error("rejected event was marked processed")
	}
}

type unknownEvent struct{}

func (unknownEvent) EventName() string { return "library.shelf.created" }

func TestUnknownEventIsAcked(t *testing.T) {
	store := readstore.NewMemoryStore()
	d := newTestDispatcher(t, store, store)
	if got := deliver(t, d, shared.NewEvent("s1", unknownEvent{})); got != messaging.Ack {
		t.Errorf("disposition = %v, want ack", got)
	}
}

type failingMarkers struct{ err error }

func (f failingMarkers) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	return false, f.err
}

func (f failingMarkers) MarkProcessed(ctx context.Context, eventID, eventName string, at time.Time) error {
	return f.err
}

func TestStoreFailureIsRequeued(t *testing.T) {
	store := readstore.NewMemoryStore()
	d := newTestDispatcher(t, store, failingMarkers{err: errors.New("connection reset")})
	a, _ := newAuthorAndBook(t)

	for _, evt := range persisted(a) {
		if got := deliver(t, d, evt); got != messaging.Requeue {
			t.Errorf("disposition = %v, want requeue", got)
		}
	}
}

func TestRegisterTwiceFails(t *testing.T) {
	d := NewDispatcher(readstore.NewMemoryStore())
	noop := func(ctx context.Context, evt shared.DomainEvent) error { return nil }
	if err := d.Register(book.EventCreated, noop); err != nil {
		t.Fatal(err)
	}
	if err := d.Register(book.EventCreated, noop); !errors.Is(err, ErrDuplicateHandler) {
		t.Errorf("Register() error = %v, want ErrDuplicateHandler", err)
	}
}

func TestEventAheadOfReadModelIsRequeued(t *testing.T) {
	tests := []struct {
		name string
		// held arrives before missing has been applied
		build func(t *testing.T, b *book.Book) (applied, missing, held []shared.DomainEvent)
		want  func(doc *readstore.BookDocument) bool
	}{
		{
			name: "note before status change",
			build: func(t *testing.T, b *book.Book) (applied, missing, held []shared.DomainEvent) {
				applied = persisted(b)
				if err := b.MarkAsFinished(2024, 4); err != nil {
					t.Fatal(err)
				}
				missing = persisted(b)
				if _, err := b.AddNote("Odonian ethics"); err != nil {
					t.Fatal(err)
				}
				return applied, missing, persisted(b)
			},
			want: func(doc *readstore.BookDocument) bool {
				return doc.Status == "FINISHED" && doc.NoteCount == 1 && doc.Version == 3
			},
		},
		{
			name: "note before creation",
			build: func(t *testing.T, b *book.Book) (applied, missing, held []shared.DomainEvent) {
				missing = persisted(b)
				if _, err := b.AddNote("Odonian ethics"); err != nil {
					t.Fatal(err)
				}
				return nil, missing, persisted(b)
			},
			want: func(doc *readstore.BookDocument) bool {
				return doc.Title == "The Dispossessed" && doc.NoteCount == 1 && doc.Version == 2
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := readstore.NewMemoryStore()
			d := newTestDispatcher(t, store, store)
			a, b := newAuthorAndBook(t)
			deliverAll(t, d, persisted(a))
			applied, missing, held := tt.build(t, b)
			deliverAll(t, d, applied)

			for _, evt := range held {
				if got := deliver(t, d, evt); got != messaging.Requeue {
					t.Fatalf("%s ahead of read model: disposition = %v, want requeue", evt.EventName(), got)
				}
				if done, _ := store.IsProcessed(context.Background(), evt.EventID()); done {
					t.Fatalf("%s marked processed without being applied", evt.EventName())
				}
			}

			deliverAll(t, d, missing)
			deliverAll(t, d, held)

			doc, err := store.GetBook(context.Background(), b.ID())
			if err != nil {
				t.Fatalf("GetBook() error = %v", err)
			}
			if !tt.want(doc) {
				t.Errorf("doc = %+v", doc)
			}
		})
	}
}

func TestCreationReplayedAfterDeleteStaysDeleted(t *testing.T) {
	store := readstore.NewMemoryStore()
	d := newTestDispatcher(t, store, store)
	a, b := newAuthorAndBook(t)
	deliverAll(t, d, persisted(a))
	created := persisted(b)
	deliverAll(t, d, created)

	if err := b.Delete(); err != nil {
		t.Fatal(err)
	}
	deliverAll(t, d, persisted(b))

	// the relay may send the creation again after the consumer lost its marker
	forgetful := newTestDispatcher(t, store, readstore.NewMemoryStore())
	deliverAll(t, forgetful, created)

	if _, err := store.GetBook(context.Background(), b.ID()); !errors.Is(err, readstore.ErrNotFound) {
		t.Errorf("GetBook() error = %v, want ErrNotFound", err)
	}
}
