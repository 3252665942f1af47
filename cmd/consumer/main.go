package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/fleet-availability/internal/config"
	"github.com/example/fleet-availability/internal/geo"
	"github.com/example/fleet-availability/internal/logging"
	"github.com/example/fleet-availability/internal/models"
	"github.com/example/fleet-availability/internal/storage"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fleet_consumer",
		Name:      "messages_consumed_total",
		Help:      "Vehicle position messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fleet_consumer",
		Name:      "messages_invalid_total",
		Help:      "Vehicle position messages that failed to decode or validate",
	})
	positionUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fleet_consumer",
		Name:      "position_updates_total",
		Help:      "Positions written to the geo index",
	})
	positionErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleet_consumer",
		Name:      "position_errors_total",
		Help:      "Position writes that failed after retries",
	}, []string{"target"})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, positionUpdates, positionErrors)
}

func main() {
	var cfgPath, metricsAddr string
	flag.StringVar(&cfgPath, "config", "", "configuration file (yaml or json)")
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.Log.Level, "fleet-consumer")

	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{"localhost:9092"}
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	rc := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	index := geo.NewRedisIndex(rc, cfg.Redis.GeoPrefix)

	var locations locationStore
	if cfg.Postgres.DSN != "" {
		pg, err := storage.NewPostgresStore(cfg.Postgres.DSN)
		if err != nil {
			logger.Error("connect postgres", "err", err)
			os.Exit(1)
		}
		defer pg.Close()
		locations = pg
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.PositionsTopic,
		GroupID:  cfg.Kafka.GroupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.Kafka.PositionsTopic, "brokers", cfg.Kafka.Brokers, "group", cfg.Kafka.GroupID)
	consume(ctx, r, index, locations, logger)
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

func consume(ctx context.Context, r messageReader, index indexUpdater, locations locationStore, logger *slog.Logger) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "err", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()
		handleMessage(ctx, m.Value, index, locations, logger)
	}
}

func handleMessage(ctx context.Context, raw []byte, index indexUpdater, locations locationStore, logger *slog.Logger) {
	p, err := decodePosition(raw)
	if err != nil {
		msgsInvalid.Inc()
		logger.Warn("invalid message", "err", err)
		return
	}
	if err := updateIndexWithRetry(ctx, index, p, 3, 200*time.Millisecond); err != nil {
		positionErrors.WithLabelValues("geo_index").Inc()
		logger.Error("geo index update failed", "vehicle_id", p.VehicleID, "err", err)
		return
	}
	positionUpdates.Inc()
	if locations == nil {
		return
	}
	if err := locations.UpdateVehicleLocation(ctx, p.VehicleID, p.Loc); err != nil {
		positionErrors.WithLabelValues("store").Inc()
		if errors.Is(err, storage.ErrNotFound) {
			logger.Warn("position for unknown vehicle", "vehicle_id", p.VehicleID)
			return
		}
		logger.Error("store location update failed", "vehicle_id", p.VehicleID, "err", err)
	}
}

func decodePosition(raw []byte) (*models.VehiclePosition, error) {
	var p models.VehiclePosition
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if p.VehicleID == "" {
		return nil, errors.New("vehicle_id is required")
	}
	if !p.Loc.Valid() {
		return nil, fmt.Errorf("vehicle %s: coordinates out of range", p.VehicleID)
	}
	return &p, nil
}

type indexUpdater interface {
	Upsert(ctx context.Context, kind geo.Kind, id string, loc models.Coord) error
}

type locationStore interface {
	UpdateVehicleLocation(ctx context.Context, id string, loc models.Coord) error
}

// updateIndexWithRetry writes the vehicle position with exponential backoff.
func updateIndexWithRetry(ctx context.Context, idx indexUpdater, p *models.VehiclePosition, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = idx.Upsert(ctx, geo.KindVehicle, p.VehicleID, p.Loc); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}
