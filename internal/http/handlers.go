package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/fleet-availability/internal/agenda"
	"github.com/example/fleet-availability/internal/extraschedule"
	"github.com/example/fleet-availability/internal/models"
	"github.com/example/fleet-availability/internal/notify"
)

type AvailabilityChecker interface {
	Check(ctx context.Context, req models.AvailabilityRequest) (*models.AvailabilityResult, error)
}

type ZoneResolver interface {
	Location(ctx context.Context, address string) *time.Location
}

// Deps are the engine services the adapter exposes.
type Deps struct {
	Availability AvailabilityChecker
	Agendas      *agenda.Service
	Extras       *extraschedule.Manager
	Resolver     ZoneResolver
	WS           *notify.WSRegistry
	Logger       *slog.Logger
	// Ready reports backing store health for /healthz. Optional.
	Ready func(ctx context.Context) error
}

type Server struct {
	deps   Deps
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	s := &Server{deps: d, logger: d.Logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/availability/check", s.handleCheck).Methods(http.MethodPost)
	api.HandleFunc("/drivers/{driver_id}/slots", s.handleDailySlots).Methods(http.MethodGet)
	api.HandleFunc("/drivers/{driver_id}/agenda", s.handleGetAgenda).Methods(http.MethodGet)
	api.HandleFunc("/drivers/{driver_id}/agenda", s.handlePutAgenda).Methods(http.MethodPut)
	api.HandleFunc("/drivers/{driver_id}/extra-schedules", s.handleListExtras).Methods(http.MethodGet)
	api.HandleFunc("/extra-schedules", s.handleCreateExtra).Methods(http.MethodPost)
	api.HandleFunc("/extra-schedules/check", s.handleCheckExtra).Methods(http.MethodPost)
	api.HandleFunc("/extra-schedules/{id}", s.handleCancelExtra).Methods(http.MethodDelete)

	s.mux.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/admin/{admin_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			s.logger.Warn("health check failed", "err", err)
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type checkRequest struct {
	Address     string        `json:"address"`
	Coordinates *models.Coord `json:"coordinates"`
	PickupDate  string        `json:"pickup_date"`
	Duration    int           `json:"estimated_duration"`
}

var wallLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// parsePickup reads the requested pickup as a wall-clock time at address.
// A value with an explicit offset is moved into the address's zone first.
func (s *Server) parsePickup(ctx context.Context, raw, address string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, models.Invalid("pickup_date", "required")
	}
	for _, layout := range wallLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, models.Invalid("pickup_date", "not an ISO-8601 datetime: %q", raw)
	}
	if s.deps.Resolver != nil {
		t = t.In(s.deps.Resolver.Location(ctx, address))
	}
	return t, nil
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var in checkRequest
	if !decode(w, r, &in) {
		return
	}
	pickup, err := s.parsePickup(r.Context(), in.PickupDate, in.Address)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Availability.Check(r.Context(), models.AvailabilityRequest{
		Address:         in.Address,
		Coordinates:     in.Coordinates,
		PickupLocal:     pickup,
		DurationMinutes: in.Duration,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDailySlots(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	q := r.URL.Query()
	day, err := agenda.ParseDate(q.Get("date"))
	if err != nil {
		s.writeError(w, r, models.Invalid("date", "%v", err))
		return
	}
	if _, err := s.deps.Agendas.Get(r.Context(), driverID); err != nil {
		s.writeError(w, r, err)
		return
	}
	slots, err := s.deps.Agendas.DailySlots(r.Context(), driverID, day, q.Get("address"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"driver_id": driverID,
		"date":      day.Format(time.DateOnly),
		"slots":     slots,
	})
}

func (s *Server) handleGetAgenda(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Agendas.Get(r.Context(), mux.Vars(r)["driver_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handlePutAgenda(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Availability []agenda.SlotInput `json:"availability"`
	}
	if !decode(w, r, &in) {
		return
	}
	a, err := s.deps.Agendas.Upsert(r.Context(), mux.Vars(r)["driver_id"], in.Availability)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleCreateExtra(w http.ResponseWriter, r *http.Request) {
	var in extraschedule.CreateRequest
	if !decode(w, r, &in) {
		return
	}
	e, err := s.deps.Extras.Create(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleCheckExtra(w http.ResponseWriter, r *http.Request) {
	var in extraschedule.CreateRequest
	if !decode(w, r, &in) {
		return
	}
	err := s.deps.Extras.CheckConflicts(r.Context(), in)
	var ce *models.ConflictError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"available": true})
	case errors.As(err, &ce):
		writeJSON(w, http.StatusOK, map[string]any{
			"available": false,
			"conflict":  map[string]string{"kind": ce.Kind, "id": ce.ID},
		})
	default:
		s.writeError(w, r, err)
	}
}

func (s *Server) handleListExtras(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var from, to time.Time
	if v := q.Get("from"); v != "" {
		d, err := agenda.ParseDate(v)
		if err != nil {
			s.writeError(w, r, models.Invalid("from", "%v", err))
			return
		}
		from = d
	}
	if v := q.Get("to"); v != "" {
		d, err := agenda.ParseDate(v)
		if err != nil {
			s.writeError(w, r, models.Invalid("to", "%v", err))
			return
		}
		to = d.AddDate(0, 0, 1)
	}
	list, err := s.deps.Extras.List(r.Context(), mux.Vars(r)["driver_id"], from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"extra_schedules": list, "count": len(list)})
}

func (s *Server) handleCancelExtra(w http.ResponseWriter, r *http.Request) {
	var in struct {
		CancelledBy string `json:"cancelled_by"`
		Reason      string `json:"reason"`
	}
	if r.ContentLength != 0 && !decode(w, r, &in) {
		return
	}
	e, err := s.deps.Extras.Cancel(r.Context(), mux.Vars(r)["id"], in.CancelledBy, in.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.deps.WS == nil {
		http.Error(w, "admin feed disabled", http.StatusNotFound)
		return
	}
	id := mux.Vars(r)["admin_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "admin_id", id, "err", err)
		return
	}
	s.deps.WS.Add(id, conn)
	s.logger.Info("admin feed connected", "admin_id", id)
	go func() {
		// drain control frames; a read error means the client left
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.deps.WS.Remove(id, conn)
				return
			}
		}
	}()
}
