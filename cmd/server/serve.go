package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/cinema-seat-hold/internal/auth"
	"github.com/iliyamo/cinema-seat-hold/internal/config"
	"github.com/iliyamo/cinema-seat-hold/internal/database"
	"github.com/iliyamo/cinema-seat-hold/internal/fanout"
	"github.com/iliyamo/cinema-seat-hold/internal/gateway"
	"github.com/iliyamo/cinema-seat-hold/internal/handler"
	"github.com/iliyamo/cinema-seat-hold/internal/payment"
	"github.com/iliyamo/cinema-seat-hold/internal/repository"
	"github.com/iliyamo/cinema-seat-hold/internal/router"
	"github.com/iliyamo/cinema-seat-hold/internal/service"
	"github.com/iliyamo/cinema-seat-hold/internal/sweeper"
)

const shutdownTimeout = 10 * time.Second

// infra is the set of connections every long-running command opens.
type infra struct {
	db    *sql.DB
	rdb   *redis.Client
	bus   fanout.Bus
	repos service.Repositories
}

func openInfra(ctx context.Context, a *app, migrate bool) (*infra, error) {
	db, err := database.Open(a.cfg.DB)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := database.Migrate(ctx, db, a.cfg.DB.Driver); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	rdb := config.NewRedisClient(a.cfg.Redis)
	if rdb == nil {
		a.logger.Warn("redis unavailable; rate limiting and caching disabled", zap.String("addr", a.cfg.Redis.Addr))
	}
	bus, err := fanout.New(a.cfg.Fanout, rdb, a.logger)
	if err != nil {
		_ = db.Close()
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, err
	}
	return &infra{
		db:    db,
		rdb:   rdb,
		bus:   bus,
		repos: service.NewRepositories(db, repository.WithTTL(a.cfg.HoldTTL)),
	}, nil
}

func (in *infra) Close() {
	_ = in.bus.Close()
	if in.rdb != nil {
		_ = in.rdb.Close()
	}
	_ = in.db.Close()
}

func (a *app) topics() service.Topics {
	return service.Topics{Released: a.cfg.Fanout.Topic, Booked: a.cfg.Fanout.BookedTopic}
}

func (a *app) expiryScheduler(in *infra) *sweeper.Scheduler {
	s := sweeper.NewScheduler(a.logger)
	s.Every(a.cfg.SweepInterval, sweeper.NewExpiryJob(in.repos.Holds, in.bus, a.cfg.Fanout.Topic))
	return s
}

func newServeCommand(a *app) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, websocket gateway and (optionally) the expiry sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			return runServe(ctx, a, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the schema before serving")
	return cmd
}

func runServe(ctx context.Context, a *app, migrate bool) error {
	in, err := openInfra(ctx, a, migrate)
	if err != nil {
		return err
	}
	defer in.Close()

	opts := []service.Option{service.WithLogger(a.logger), service.WithBus(in.bus, a.topics())}
	screenings := service.NewScreeningService(in.repos, opts...)
	reservations := service.NewReservationService(in.repos, payment.NewCardValidator(), opts...)

	seatTopics := gateway.Topics{
		Held:     a.cfg.Fanout.HeldTopic,
		Released: a.cfg.Fanout.Topic,
		Booked:   a.cfg.Fanout.BookedTopic,
	}
	gw := gateway.New(gateway.NewHub(a.logger), in.repos.Holds, screenings, a.logger, gateway.WithBus(in.bus, seatTopics))
	relay := gateway.NewRelay(in.bus, gw, seatTopics, a.logger)
	verifier := auth.NewVerifier(a.cfg.JWTSecret)
	ws := gateway.NewServer(gw, verifier, a.cfg.WSPingInterval, a.logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	router.RegisterRoutes(e, router.Deps{
		Screenings:   handler.NewScreeningHandler(screenings, a.logger),
		Reservations: handler.NewReservationHandler(reservations, a.logger),
		WS:           ws,
		Verifier:     verifier,
		DB:           in.db,
		Redis:        in.rdb,
		RateLimit:    a.cfg.RateLimit,
		Cache:        a.cfg.Cache,
		Logger:       a.logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	// Subscribe before accepting connections so no release is missed.
	if err := relay.Start(gctx); err != nil {
		return err
	}
	if a.cfg.SweeperEnabled {
		sched := a.expiryScheduler(in)
		g.Go(func() error { return sched.Run(gctx) })
	}
	g.Go(func() error {
		addr := ":" + a.cfg.Port
		a.logger.Info("listening", zap.String("addr", addr), zap.String("env", a.cfg.Env),
			zap.String("fanout", a.cfg.Fanout.Driver), zap.Bool("sweeper", a.cfg.SweeperEnabled))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down")
		err := e.Shutdown(sctx)
		// Hijacked websocket connections outlive e.Shutdown; their holds
		// must be released before the database closes.
		if werr := ws.Shutdown(sctx); werr != nil {
			a.logger.Warn("websocket sessions still open", zap.Error(werr))
		}
		return err
	})
	return g.Wait()
}

func newSweepCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run only the expiry sweeper, publishing to the configured fanout",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			if a.cfg.Fanout.Driver == config.FanoutMemory {
				a.logger.Warn("FANOUT_DRIVER=memory: released seats will not reach any server")
			}
			in, err := openInfra(ctx, a, false)
			if err != nil {
				return err
			}
			defer in.Close()
			sched := a.expiryScheduler(in)
			sched.RunOnce(ctx)
			return sched.Run(ctx)
		},
	}
}
