// The consumer drains the driver-location topic into Redis GEO so the hub
// (and anything else) can query positions without holding the websocket fan-in.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/delivery-events/internal/ingest"
	"github.com/example/delivery-events/internal/logging"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total driver location messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	redisUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_updates_total",
		Help: "Total successful redis updates",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_errors_total",
		Help: "Total redis errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, redisUpdates, redisErrors)
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	logger := logging.NewLogger(os.Getenv("LOG_LEVEL"))

	brokers := []string{"localhost:9092"}
	if env := os.Getenv("KAFKA_BROKERS"); env != "" {
		brokers = brokers[:0]
		for _, b := range strings.Split(env, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	}
	topic := getenv("KAFKA_TOPIC", "driver-locations")
	group := getenv("KAFKA_GROUP", "delivery-events-consumer")
	geoKey := getenv("REDIS_GEO_KEY", "drivers_geo")
	redisAddr := getenv("REDIS_ADDR", "localhost:6379")

	rc := redis.NewClient(&redis.Options{Addr: redisAddr, Password: os.Getenv("REDIS_PASSWORD")})
	radapter := &redisAdapter{c: rc}

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
		logger.Info("metrics/health listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", topic, "brokers", brokers, "group", group)

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

		var loc ingest.LocationMessage
		if err := json.Unmarshal(m.Value, &loc); err != nil || loc.DriverID == "" {
			msgsInvalid.Inc()
			logger.Warn("invalid location message", "error", err)
			continue
		}

		if err := updateRedisWithRetry(ctx, radapter, geoKey, loc, 3, 200*time.Millisecond); err != nil {
			redisErrors.Inc()
			logger.Warn("redis update failed", "driver_id", loc.DriverID, "error", err)
			continue
		}
		redisUpdates.Inc()
	}
}

// RedisUpdater is the subset of redis operations the consumer needs; small
// enough to fake in tests.
type RedisUpdater interface {
	GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error
	HSet(ctx context.Context, key string, values map[string]interface{}) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	_, err := r.c.GeoAdd(ctx, key, loc).Result()
	return err
}

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	_, err := r.c.HSet(ctx, key, values).Result()
	return err
}

// updateRedisWithRetry writes the position and the freshness marker with
// retry/backoff; either write failing counts as a failed attempt.
func updateRedisWithRetry(ctx context.Context, rc RedisUpdater, geoKey string, loc ingest.LocationMessage, attempts int, delay time.Duration) error {
	for i := 0; i < attempts; i++ {
		if err := rc.GeoAdd(ctx, geoKey, &redis.GeoLocation{Longitude: loc.Lng, Latitude: loc.Lat, Name: loc.DriverID}); err != nil {
			if i == attempts-1 {
				return err
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		if err := rc.HSet(ctx, "driver:meta:"+loc.DriverID, map[string]interface{}{"updated": time.UnixMilli(loc.Timestamp).Format(time.RFC3339)}); err != nil {
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

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
