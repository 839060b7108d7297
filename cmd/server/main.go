package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/cinema-booking/internal/config"
	"github.com/iliyamo/cinema-booking/internal/database"
	"github.com/iliyamo/cinema-booking/internal/handler"
	"github.com/iliyamo/cinema-booking/internal/logging"
	"github.com/iliyamo/cinema-booking/internal/middleware"
	"github.com/iliyamo/cinema-booking/internal/notify"
	"github.com/iliyamo/cinema-booking/internal/payment"
	"github.com/iliyamo/cinema-booking/internal/queue"
	"github.com/iliyamo/cinema-booking/internal/repository"
	"github.com/iliyamo/cinema-booking/internal/router"
	"github.com/iliyamo/cinema-booking/internal/service"
)

func main() {
	cfg := config.Load()
	log := logging.Init(cfg.LogLevel, cfg.LogFormat, cfg.Env)
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func run(cfg config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if cfg.DBMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn("redis unavailable: cache, rate limiting and sweeper lock disabled")
	} else {
		defer rdb.Close()
	}

	notifiers := notify.Multi{notify.Log{Logger: log.WithField("component", "notify")}}
	if cfg.RabbitMQURL != "" {
		pub := queue.NewPublisher(cfg.RabbitMQURL, log)
		defer pub.Close()
		notifiers = append(notifiers, pub)
	}

	bc := cfg.Booking
	gateways := payment.Registry{
		payment.MethodCreditCard: payment.NewBreaker(payment.MethodCreditCard,
			payment.NewCreditCard(bc.GatewayLatency, log), uint32(bc.BreakerMaxFailures), bc.BreakerOpenFor, log),
		payment.MethodPayPal: payment.NewBreaker(payment.MethodPayPal,
			payment.NewPayPal(bc.GatewayLatency, log), uint32(bc.BreakerMaxFailures), bc.BreakerOpenFor, log),
	}
	log.WithField("methods", gateways.Methods()).Info("payment gateways registered")

	cat := repository.NewCatalog(db)
	led := repository.NewSeatReservationRepo(db)
	users := repository.NewUserRepo(db)
	bookings := service.NewBookingService(cat, led, repository.NewBookingRepo(db), gateways,
		service.WithHoldTTL(bc.HoldTTL),
		service.WithCancelCutoff(bc.CancelCutoff),
		service.WithPaymentTimeout(bc.PaymentTimeout),
		service.WithCurrency(bc.Currency),
		service.WithNotifier(notifiers),
		service.WithContacts(users),
		service.WithLogger(log.WithField("component", "booking")),
	)
	showtimes := service.NewShowtimeService(cat, led, log.WithField("component", "showtime"))

	sweeper := &service.Sweeper{
		Ledger:   led,
		Bookings: bookings,
		Interval: bc.SweepInterval,
		Log:      log.WithField("component", "sweeper"),
	}
	if rdb != nil {
		sweeper.Locker = repository.NewRedisLocker(rdb)
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewValidator()
	e.Use(echomw.Recover(), echomw.RequestID(), middleware.RequestLogger(log))
	e.Use(middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log))

	router.RegisterRoutes(e, handler.Health(db))
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users, repository.NewTokenRepo(db), log), cfg.JWTSecret)
	sh := handler.NewShowtimeHandler(showtimes, log)
	router.RegisterPublic(e, sh, middleware.NewRedisCache(config.LoadCacheConfig(), rdb, log))
	router.RegisterAdmin(e, sh, cfg.JWTSecret)
	router.RegisterCustomer(e, handler.NewBookingHandler(bookings, log), cfg.JWTSecret)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		log.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return sweeper.Run(gctx) })
	if cfg.RabbitMQURL != "" {
		consumer := &queue.Consumer{URL: cfg.RabbitMQURL, Dir: cfg.BookingLogDir, Log: log.WithField("component", "consumer")}
		g.Go(func() error { return consumer.Run(gctx) })
	}
	return g.Wait()
}
