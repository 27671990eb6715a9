package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"library/config"

	"github.com/gin-gonic/gin"
)

func ok(context.Context) error { return nil }
func broken(context.Context) error { return errors.New("connection refused") }

func serve(t *testing.T, c *Controller, path string) (*httptest.ResponseRecorder, HealthResponse) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	e := gin.New()
	c.RegisterRoutes(e.Group(""))

	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var body HealthResponse
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestHealthStatus(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Version: "1.0.0", Env: "production"}}

	tests := []struct {
		name       string
		broker     CheckFunc
		database   CheckFunc
		wantStatus string
		wantCode   int
		wantReady  int
	}{
		{"all up", ok, ok, StatusHealthy, http.StatusOK, http.StatusOK},
		{"broker down keeps writes", broken, ok, StatusDegraded, http.StatusOK, http.StatusOK},
		{"database down", ok, broken, StatusUnhealthy, http.StatusServiceUnavailable, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController(cfg,
				Dependency{Name: "broker", Check: tt.broker},
				Dependency{Name: "database", Check: tt.database, Critical: true},
			)

			w, body := serve(t, c, "/health")
			if w.Code != tt.wantCode || body.Status != tt.wantStatus {
				t.Errorf("health = %d %s, want %d %s", w.Code, body.Status, tt.wantCode, tt.wantStatus)
			}
			if len(body.Checks) != 2 || !body.Checks["database"].Critical {
				t.Errorf("checks = %+v", body.Checks)
			}
			if body.System != nil {
				t.Error("system info exposed outside development")
			}

			if w, _ := serve(t, c, "/health/ready"); w.Code != tt.wantReady {
				t.Errorf("ready = %d, want %d", w.Code, tt.wantReady)
			}
		})
	}
}

func TestFailedCheckReportsMessage(t *testing.T) {
	c := NewController(&config.Config{}, Dependency{Name: "read_store", Check: broken})

	_, body := serve(t, c, "/health")
	check := body.Checks["read_store"]
	if check.Status != StatusUnhealthy || check.Message != "connection refused" {
		t.Errorf("read_store = %+v", check)
	}
}

func TestLiveness(t *testing.T) {
	c := NewController(&config.Config{}, Dependency{Name: "database", Check: broken, Critical: true})
	if w, _ := serve(t, c, "/health/live"); w.Code != http.StatusOK {
		t.Errorf("live = %d", w.Code)
	}
}
