package main // Entry point package

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-seat-hold/internal/config"
	"github.com/iliyamo/cinema-seat-hold/internal/database"
	"github.com/iliyamo/cinema-seat-hold/internal/handler"
	"github.com/iliyamo/cinema-seat-hold/internal/lock"
	"github.com/iliyamo/cinema-seat-hold/internal/middleware"
	"github.com/iliyamo/cinema-seat-hold/internal/obs"
	"github.com/iliyamo/cinema-seat-hold/internal/queue"
	"github.com/iliyamo/cinema-seat-hold/internal/repository"
	"github.com/iliyamo/cinema-seat-hold/internal/router"
	"github.com/iliyamo/cinema-seat-hold/internal/service"
	"github.com/iliyamo/cinema-seat-hold/internal/worker"
)

const serviceName = "cinema-seat-hold"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, cfg.OTLPEndpoint, serviceName, cfg.Env)
	if err != nil {
		log.WithError(err).Fatal("init tracer")
	}

	db, err := database.Open(database.Options{
		User: cfg.DBUser,
		Pass: cfg.DBPass,
		Host: cfg.DBHost,
		Port: cfg.DBPort,
		Name: cfg.DBName,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	if cfg.DBAutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			log.WithError(err).Fatal("migrate database")
		}
	}

	rdb, err := config.NewRedisClient(cfg.Redis)
	if err != nil {
		log.WithError(err).Fatal("connect redis")
	}

	bus, err := openBus(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("connect event bus")
	}

	store := repository.NewStore(db)
	locker := lock.NewRedisLocker(rdb, log)
	reservations := service.NewReservationService(store, locker, bus,
		service.WithHoldWindow(cfg.HoldWindow),
		service.WithLockOptions(lock.Options{
			TTL:        cfg.LockTTL,
			RetryDelay: cfg.LockRetryDelay,
			MaxRetries: cfg.LockMaxRetries,
		}),
		service.WithLogger(log),
	)
	sessions := service.NewSessionService(store, service.WithLogger(log))

	cache := middleware.NewResponseCache(cfg.Cache, rdb, log)
	sweeper := worker.NewExpirationSweeper(reservations, cfg.SweepInterval, cfg.SweepBatch, log)
	dedup := queue.NewDeduper(rdb, 24*time.Hour)

	// background work: periodic sweep plus the two event consumers
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()
	consumers := map[string]queue.Handler{
		queue.TopicReservationCreated: worker.ReservationCreatedHandler(sweeper, reservations.HoldWindow(), log),
		queue.TopicSeatReleased:       worker.SeatReleasedHandler(cache, log),
	}
	for topic, h := range consumers {
		wg.Add(1)
		go func(topic string, h queue.Handler) {
			defer wg.Done()
			if err := bus.Consume(ctx, topic, dedup.Once(h)); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).WithField("topic", topic).Error("consumer stopped")
			}
		}(topic, h)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	router.Register(e, router.Deps{
		Reservations: handler.NewReservationHandler(reservations, cache, log),
		Sessions:     handler.NewSessionHandler(sessions, log),
		Health: handler.Health(map[string]handler.Check{
			"mysql": store.Ping,
			"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}),
		Cache:     cache,
		RateLimit: middleware.NewTokenBucket(cfg.RateLimit, rdb, log),
		JWTSecret: cfg.JWTSecret,
	})

	addr := ":" + cfg.Port
	go func() {
		log.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env, "bus": cfg.EventBusDriver}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	sweeper.Stop()
	wg.Wait()
	closeAll(shutdownCtx, log, bus, rdb, db, shutdownTracer)
}

func newLogger(cfg config.Config) *logrus.Logger {
	log := logrus.New()
	if cfg.LogJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Warn("unknown LOG_LEVEL, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

// openBus connects to the configured broker.  RabbitMQ is dialled eagerly
// so a missing broker aborts startup; kafka-go connects lazily.
func openBus(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (queue.Bus, error) {
	switch strings.ToLower(cfg.EventBusDriver) {
	case "kafka":
		return queue.NewKafkaBus(cfg.KafkaBrokers, cfg.KafkaGroupID, log), nil
	default:
		return queue.DialRabbit(ctx, cfg.RabbitMQURL, queue.DialOptions{Attempts: cfg.BusDialRetries}, log)
	}
}

func closeAll(ctx context.Context, log logrus.FieldLogger, bus queue.Bus, rdb *redis.Client, db *sql.DB, shutdownTracer obs.ShutdownFunc) {
	if err := bus.Close(); err != nil {
		log.WithError(err).Warn("close event bus")
	}
	if err := rdb.Close(); err != nil {
		log.WithError(err).Warn("close redis")
	}
	if err := db.Close(); err != nil {
		log.WithError(err).Warn("close database")
	}
	if err := shutdownTracer(ctx); err != nil {
		log.WithError(err).Warn("flush tracer")
	}
}
