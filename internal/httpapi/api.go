package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"wallo.org/internal/moderation"
	"wallo.org/internal/obs"
	"wallo.org/internal/stream"
)

// ReadyProbe is a simple readiness check (e.g. database ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// SubjectReader fetches the platform's live view of a subject for case pages.
type SubjectReader interface {
	RetrieveSubjectData(ctx context.Context, endpoint, secret string, kind moderation.Kind, relevantID string) (moderation.SubjectSnapshot, error)
}

// API is the HTTP layer: the inbound platform protocol plus the dashboard API.
type API struct {
	mux         *http.ServeMux
	readyProbe  ReadyProbe
	version     string
	store       moderation.Store
	coordinator *moderation.Coordinator
	subjects    SubjectReader
	events      *stream.Stream

	rateBurst  int
	ratePerSec int
}

// New assembles the API. events may be nil to disable the live case feed.
func New(rp ReadyProbe, version string, store moderation.Store, coordinator *moderation.Coordinator, subjects SubjectReader, events *stream.Stream) *API {
	a := &API{
		mux:         http.NewServeMux(),
		readyProbe:  rp,
		version:     version,
		store:       store,
		coordinator: coordinator,
		subjects:    subjects,
		events:      events,
		rateBurst:   20,
		ratePerSec:  10,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// Inbound platform protocol (bearer platform secret, not a session token).
	a.mux.HandleFunc("/api/v0/requestPublication", a.handleRequestPublication)

	// Dashboard API (session token).
	a.mux.HandleFunc("/v1/auth/login", a.handleAuthLogin)
	a.mux.HandleFunc("/v1/platforms", a.handlePlatformsCollection)
	a.mux.HandleFunc("/v1/platforms/", a.handlePlatformResource)
	a.mux.HandleFunc("/v1/stream/cases", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "wallo-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "wallo-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
