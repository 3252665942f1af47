package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/example/fleet-availability/internal/agenda"
	"github.com/example/fleet-availability/internal/availability"
	"github.com/example/fleet-availability/internal/config"
	"github.com/example/fleet-availability/internal/conflict"
	"github.com/example/fleet-availability/internal/extraschedule"
	"github.com/example/fleet-availability/internal/geo"
	httpapi "github.com/example/fleet-availability/internal/http"
	"github.com/example/fleet-availability/internal/locator"
	"github.com/example/fleet-availability/internal/models"
	"github.com/example/fleet-availability/internal/notify"
	"github.com/example/fleet-availability/internal/storage"
	"github.com/example/fleet-availability/internal/tz"
)

// app owns every long-lived collaborator of the server process.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   storage.Store
	locator *locator.Locator
	handler http.Handler
	closers []func() error
	pings   []func(context.Context) error
}

// newApp wires the process. On error everything opened so far is closed.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.openStore(ctx); err != nil {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("close after failed start", "err", cerr)
		}
		return nil, err
	}
	index := a.openIndex()

	var lookup tz.Lookup
	var geocoder tz.Geocoder
	if cfg.Geocoder.APIKey != "" {
		g := tz.NewGoogleLookup(cfg.Geocoder.Endpoint, cfg.Geocoder.APIKey, cfg.Timezone.LookupTimeout)
		lookup, geocoder = g, g
	}
	resolver := tz.NewResolver(tz.Options{
		Table:    tz.NewTable(tz.DefaultKeywords, cfg.Timezone.Keywords),
		Lookup:   lookup,
		CacheTTL: cfg.Timezone.CacheTTL,
		Logger:   logger,
	})

	a.locator = locator.New(locator.Options{
		Store:              a.store,
		Index:              index,
		ZoneSearchRadiusKm: cfg.Search.ZoneSearchRadiusKm,
		IndexLimit:         cfg.Search.IndexLimit,
		Logger:             logger,
	})
	if index != nil {
		if err := a.locator.Sync(ctx); err != nil {
			// the locator scans the store until a resync succeeds
			logger.Warn("geo index sync failed", "err", err)
		}
	}

	checker := conflict.NewChecker(a.store)
	agendas := agenda.NewService(agenda.Options{
		Store:    a.store,
		Resolver: resolver,
		Windows:  cfg.Windows.WindowPolicy(),
		Logger:   logger,
	})
	ws := notify.NewWSRegistry(logger)
	extras := extraschedule.NewManager(extraschedule.Options{
		Store:     a.store,
		Conflicts: checker,
		Resolver:  resolver,
		Publisher: a.publisher(ws),
		Logger:    logger,
	})
	avail := availability.NewService(availability.Options{
		Finder:           a.locator,
		Agendas:          a.store,
		Conflicts:        checker,
		Resolver:         resolver,
		Windows:          agendas,
		Geocoder:         geocoder,
		FlexibleRadiusKm: cfg.Search.FlexibleRadiusKm,
		Logger:           logger,
	})

	a.handler = httpapi.NewServer(httpapi.Deps{
		Availability: avail,
		Agendas:      agendas,
		Extras:       extras,
		Resolver:     resolver,
		WS:           ws,
		Logger:       logger,
		Ready:        a.ready,
	})
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	if a.cfg.Postgres.DSN == "" {
		a.logger.Info("using in-memory store")
		a.store = storage.NewMemoryStore()
		return nil
	}
	pg, err := storage.NewPostgresStore(a.cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	a.store = pg
	a.closers = append(a.closers, pg.Close)
	a.pings = append(a.pings, pg.Ping)
	if a.cfg.Postgres.Migrate {
		applied, err := pg.Migrate(ctx)
		if err != nil {
			return err
		}
		a.logger.Info("migrations applied", "files", applied)
	}
	return nil
}

// openIndex returns nil when Redis is not configured; the locator then
// scans the store.
func (a *app) openIndex() geo.Index {
	if a.cfg.Redis.Addr == "" {
		return nil
	}
	rc := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	a.closers = append(a.closers, rc.Close)
	a.pings = append(a.pings, func(ctx context.Context) error { return rc.Ping(ctx).Err() })
	return geo.NewRedisIndex(rc, a.cfg.Redis.GeoPrefix)
}

func (a *app) publisher(ws *notify.WSRegistry) notify.Publisher {
	pubs := notify.Multi{ws}
	if len(a.cfg.Kafka.Brokers) > 0 {
		kp := notify.NewKafkaPublisher(a.cfg.Kafka.Brokers, a.cfg.Kafka.EventsTopic)
		a.closers = append(a.closers, kp.Close)
		pubs = append(pubs, kp)
	}
	if a.cfg.Notify.WebhookURL != "" {
		pubs = append(pubs, notify.NewWebhookPublisher(a.cfg.Notify.WebhookURL, a.cfg.Notify.WebhookToken))
	}
	return pubs
}

func (a *app) ready(ctx context.Context) error {
	var errs []error
	for _, ping := range a.pings {
		errs = append(errs, ping(ctx))
	}
	return errors.Join(errs...)
}

func (a *app) run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      a.handler,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	go a.locator.RunSync(ctx, a.cfg.Search.IndexSyncInterval)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("fleet-availability listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

type fixtures struct {
	Zones        []models.FixedZone    `json:"zones"`
	Vehicles     []models.Vehicle      `json:"vehicles"`
	Agendas      []models.DriverAgenda `json:"agendas"`
	Reservations []models.Reservation  `json:"reservations"`
}

// loadFixtures seeds the store from a JSON file, mostly for local runs on
// the in-memory store. Existing agendas are left untouched.
func (a *app) loadFixtures(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f fixtures
	if err := json.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	for i := range f.Zones {
		if err := a.store.SaveZone(ctx, &f.Zones[i]); err != nil {
			return err
		}
	}
	for i := range f.Vehicles {
		if err := a.store.SaveVehicle(ctx, &f.Vehicles[i]); err != nil {
			return err
		}
	}
	for i := range f.Reservations {
		if err := a.store.SaveReservation(ctx, &f.Reservations[i]); err != nil {
			return err
		}
	}
	for i := range f.Agendas {
		err := a.store.SaveAgenda(ctx, &f.Agendas[i], 0)
		if err != nil && !errors.Is(err, storage.ErrVersionConflict) {
			return err
		}
	}
	a.logger.Info("fixtures loaded",
		"zones", len(f.Zones), "vehicles", len(f.Vehicles),
		"agendas", len(f.Agendas), "reservations", len(f.Reservations))
	return a.locator.Sync(ctx)
}
