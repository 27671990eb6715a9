package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"library/api/author"
	"library/api/book"
	"library/api/health"
	appauthor "library/application/author"
	appbook "library/application/book"
	"library/application/command"
	"library/application/pipeline"
	"library/application/query"
	"library/config"
	"library/infrastructure/messaging"
	"library/infrastructure/messaging/membroker"
	"library/infrastructure/persistence/gormstore"
	"library/infrastructure/persistence/retry"
	"library/infrastructure/readstore"
	"library/projection"
)

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	Field     string          `json:"field"`
	Code      int             `json:"code"`
	RequestID string          `json:"request_id"`
}

type testServer struct {
	handler http.Handler
	broker  *membroker.Broker
	sub     *membroker.Subscription
	proj    *projection.Dispatcher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dbCfg := &gormstore.Config{
		Driver:   gormstore.DriverSQLite,
		Path:     filepath.Join(t.TempDir(), "api.db"),
		LogLevel: "silent",
	}
	db, err := dbCfg.Connect()
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := gormstore.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate() error = %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	retryCfg := retry.DefaultConfig
	retryCfg.Enabled = false

	broker := membroker.New()
	sub := broker.Subscribe("read-model", []string{"library.#"}, membroker.SubscribeOptions{})
	store := readstore.NewMemoryStore()

	books := gormstore.NewBookRepository(db)
	authors := gormstore.NewAuthorRepository(db)
	committer := pipeline.NewCommitter(
		gormstore.NewUnitOfWorkFactory(db, retryCfg, true),
		messaging.NewEventPublisher(broker, time.Second),
		gormstore.NewOutboxRepository(db),
	)
	bus := command.NewBus(5 * time.Second)
	if err := appbook.NewService(books, authors, committer).Register(bus); err != nil {
		t.Fatal(err)
	}
	if err := appauthor.NewService(authors, books, committer).Register(bus); err != nil {
		t.Fatal(err)
	}

	proj := projection.NewDispatcher(store)
	projection.NewBookProjector(store, store).Register(proj)
	projection.NewAuthorProjector(store, store).Register(proj)

	cfg := &config.Config{
		App: config.AppConfig{Name: "library", Version: "test", Env: "test"},
		CORS: config.CORSConfig{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{"GET", "POST"},
			AllowHeaders: []string{"Content-Type", "If-Match"},
			MaxAge:       600,
		},
	}
	queries := query.NewService(store, store)
	router := NewRouter(cfg,
		health.NewController(cfg,
			health.Dependency{Name: "read_store", Check: store.Ping},
			health.Dependency{Name: "broker", Check: broker.Ping},
		),
		book.NewController(bus, queries),
		author.NewController(bus, queries),
	)
	router.SetupRoutes()

	return &testServer{handler: router.GetEngine(), broker: broker, sub: sub, proj: proj}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: invalid JSON %q", method, path, w.Body.String())
		}
	}
	return w, env
}

func (s *testServer) project() {
	s.sub.Drain(context.Background(), s.proj)
}

func (s *testServer) createBook(t *testing.T) string {
	t.Helper()
	w, env := s.do(t, http.MethodPost, "/api/v1/authors", map[string]any{"name": "Octavia Butler"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create author status = %d body = %s", w.Code, w.Body.String())
	}
	var a command.Result
	json.Unmarshal(env.Data, &a)

	w, env = s.do(t, http.MethodPost, "/api/v1/books", map[string]any{
		"authorId":  a.ID,
		"title":     "Kindred",
		"pageCount": 264,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create book status = %d body = %s", w.Code, w.Body.String())
	}
	var b command.Result
	json.Unmarshal(env.Data, &b)
	return b.ID
}

func TestCreateBookThenReadIt(t *testing.T) {
	s := newTestServer(t)
	id := s.createBook(t)
	s.project()

	w, env := s.do(t, http.MethodGet, "/api/v1/books/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("ETag"); got != `"1"` {
		t.Errorf("ETag = %q, want \"1\"", got)
	}
	var doc readstore.BookDocument
	if err := json.Unmarshal(env.Data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Title != "Kindred" || doc.AuthorName != "Octavia Butler" || doc.Status != "TO_READ" {
		t.Errorf("doc = %+v", doc)
	}

	w, _ = s.do(t, http.MethodGet, "/api/v1/books?status=to_read", nil)
	if w.Code != http.StatusOK {
		t.Errorf("list status = %d", w.Code)
	}
}

func TestWriteErrorsMapToStatus(t *testing.T) {
	s := newTestServer(t)
	id := s.createBook(t)

	tests := []struct {
		name    string
		method  string
		path    string
		body    any
		headers []string
		status  int
		code    string
	}{
		{"missing title", http.MethodPost, "/api/v1/books", map[string]any{"authorId": "a"}, nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"unknown author", http.MethodPost, "/api/v1/books", map[string]any{"authorId": "nobody", "title": "X"}, nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"stale version", http.MethodPatch, "/api/v1/books/" + id, map[string]any{"title": "Other"}, []string{"If-Match", `"7"`}, http.StatusConflict, "CONCURRENCY_CONFLICT"},
		{"bad If-Match", http.MethodPatch, "/api/v1/books/" + id, map[string]any{"title": "Other"}, []string{"If-Match", "abc"}, http.StatusBadRequest, "BAD_REQUEST"},
		{"illegal transition", http.MethodPost, "/api/v1/books/" + id + "/finish", map[string]any{"yearRead": 2024, "rating": 4}, nil, http.StatusUnprocessableEntity, "BUSINESS_RULE_VIOLATION"},
		{"unknown book", http.MethodDelete, "/api/v1/books/missing", nil, nil, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := s.do(t, tt.method, tt.path, tt.body, tt.headers...)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d, body = %s", w.Code, tt.status, w.Body.String())
			}
			if env.Success || env.Error != tt.code {
				t.Errorf("error code = %q, want %q", env.Error, tt.code)
			}
		})
	}
}

func TestMatchingIfMatchIsApplied(t *testing.T) {
	s := newTestServer(t)
	id := s.createBook(t)

	w, env := s.do(t, http.MethodPut, "/api/v1/books/"+id+"/status", map[string]any{"status": "READING"}, "If-Match", `W/"1"`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var res command.Result
	json.Unmarshal(env.Data, &res)
	if res.Version != 2 || w.Header().Get("ETag") != `"2"` {
		t.Errorf("result = %+v, ETag = %q", res, w.Header().Get("ETag"))
	}
}

func TestPublishFailureReturnsAccepted(t *testing.T) {
	s := newTestServer(t)
	id := s.createBook(t)

	s.broker.FailWith(errors.New("broker down"))
	w, env := s.do(t, http.MethodPost, "/api/v1/books/"+id+"/notes", map[string]any{"content": "Dana"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var res command.Result
	json.Unmarshal(env.Data, &res)
	if env.Error != "PUBLISH_PENDING" || res.ChildID == "" || res.Version != 2 {
		t.Errorf("envelope = %+v result = %+v", env, res)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := newTestServer(t)
	w, env := s.do(t, http.MethodGet, "/api/v1/books/missing", nil, "X-Request-ID", "req-42")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") != "req-42" || env.RequestID != "req-42" {
		t.Errorf("request id header = %q body = %q", w.Header().Get("X-Request-ID"), env.RequestID)
	}
}

func TestHealthReportsChecks(t *testing.T) {
	s := newTestServer(t)
	w, _ := s.do(t, http.MethodGet, "/api/v1/health/ready", nil)
	if w.Code != http.StatusOK {
		t.Errorf("ready status = %d body = %s", w.Code, w.Body.String())
	}

	var body health.HealthResponse
	w, _ = s.do(t, http.MethodGet, "/api/v1/health", nil)
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Status != "healthy" || len(body.Checks) != 2 {
		t.Errorf("health = %+v", body)
	}
}

func TestUnknownRoutesUseEnvelope(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(t, http.MethodGet, "/api/v1/shelves", nil)
	if w.Code != http.StatusNotFound || env.Error != "NOT_FOUND" || env.RequestID == "" {
		t.Errorf("unknown route = %d %+v", w.Code, env)
	}

	w, env = s.do(t, http.MethodPut, "/api/v1/books", nil)
	if w.Code != http.StatusMethodNotAllowed || env.Error != "METHOD_NOT_ALLOWED" {
		t.Errorf("wrong method = %d %+v", w.Code, env)
	}
}
