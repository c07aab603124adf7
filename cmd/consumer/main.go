// The consumer drains the partner-locations topic and folds the sampled
// updates back into the Redis availability pool, so replicas that never
// saw the websocket still converge on recent positions.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/partner-dispatch/internal/config"
	"github.com/example/partner-dispatch/internal/geo"
	"github.com/example/partner-dispatch/internal/ingest"
	"github.com/example/partner-dispatch/internal/logging"
)

var (
	msgsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total partner location messages consumed",
	})
	msgsInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	poolUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consumer_pool_updates_total",
		Help: "Total successful pool updates",
	})
	poolErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consumer_pool_errors_total",
		Help: "Total pool update errors",
	})
)

func main() {
	_ = godotenv.Load()

	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	updater := &redisUpdater{c: rc, geoKey: cfg.RedisGeoKey, staleness: cfg.StalenessThreshold}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroup,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		var u ingest.LocationUpdate
		if err := json.Unmarshal(m.Value, &u); err != nil || u.PartnerID == "" || !geo.ValidCoord(u.Loc.Lat, u.Loc.Lon) {
			msgsInvalid.Inc()
			logger.Warn("invalid location message", "error", err)
			continue
		}

		if err := applyWithRetry(ctx, updater, &u, 3, 200*time.Millisecond); err != nil {
			poolErrors.Inc()
			logger.Warn("pool update failed", "partner_id", u.PartnerID, "error", err)
			continue
		}
		poolUpdates.Inc()
	}
}

// PoolUpdater is the subset of pool writes the consumer needs, faked in
// tests. TouchMeta runs first so a late message for an offlined partner
// never reaches GeoAdd.
type PoolUpdater interface {
	// TouchMeta refreshes position and heartbeat, reporting false when
	// the partner is no longer registered.
	TouchMeta(ctx context.Context, partnerID string, lat, lon float64) (bool, error)
	GeoAdd(ctx context.Context, name string, lat, lon float64) error
}

type redisUpdater struct {
	c         *redis.Client
	geoKey    string
	staleness time.Duration
}

func (r *redisUpdater) GeoAdd(ctx context.Context, name string, lat, lon float64) error {
	return r.c.GeoAdd(ctx, r.geoKey, &redis.GeoLocation{Name: name, Latitude: lat, Longitude: lon}).Err()
}

// TouchMeta refreshes position and heartbeat only when the partner is
// still registered; the consumer must not resurrect an offlined record.
func (r *redisUpdater) TouchMeta(ctx context.Context, partnerID string, lat, lon float64) (bool, error) {
	key := "partner:meta:" + partnerID
	exists, err := r.c.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}
	pipe := r.c.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"lat":       lat,
		"lon":       lon,
		"heartbeat": time.Now().UTC().Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, key, r.staleness)
	_, err = pipe.Exec(ctx)
	return true, err
}

// applyWithRetry writes one update through the PoolUpdater with bounded
// retry and backoff per step.
func applyWithRetry(ctx context.Context, pu PoolUpdater, u *ingest.LocationUpdate, attempts int, delay time.Duration) error {
	for i := 0; i < attempts; i++ {
		registered, err := pu.TouchMeta(ctx, u.PartnerID, u.Loc.Lat, u.Loc.Lon)
		if err != nil {
			if i == attempts-1 {
				return err
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		if !registered {
			return nil
		}
		if err := pu.GeoAdd(ctx, u.PartnerID, u.Loc.Lat, u.Loc.Lon); err != nil {
			if i == attempts-1 {
				return err
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		return nil
	}
	return nil
}
