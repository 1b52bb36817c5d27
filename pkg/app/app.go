package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/tomb.v2"

	"hardwarestore/pkg/config"
	"hardwarestore/pkg/events"
	"hardwarestore/pkg/httpapi"
	"hardwarestore/pkg/ledger"
	"hardwarestore/pkg/logging"
	"hardwarestore/pkg/metrics"
	"hardwarestore/pkg/session"
	"hardwarestore/pkg/storage/memory"
	"hardwarestore/pkg/storage/postgres"
	"hardwarestore/pkg/version"
)

const shutdownTimeout = 5 * time.Second

// flags captures the CLI so Run can be called from multiple entry points.
// Non-zero values override the loaded configuration.
type flags struct {
	showVersion bool
	configPath  string
	domain      string
	port        int
	dbType      string
}

func parseFlags(args []string) (flags, error) {
	set := flag.NewFlagSet("hardwarestore", flag.ContinueOnError)
	set.SetOutput(io.Discard)

	var f flags
	set.BoolVar(&f.showVersion, "version", false, "Show the application version")
	set.StringVar(&f.configPath, "config", ".", "Directory holding an optional app.env file.")
	set.StringVar(&f.domain, "domain", "", "Serve HTTPS on 443 with an HTTP redirect on 80 for this domain.")
	set.IntVar(&f.port, "port", 0, "Port for the HTTP server when not using -domain (default from PORT).")
	set.StringVar(&f.dbType, "db-type", "", "Ledger store: memory or postgres (default from DB_TYPE).")

	if err := set.Parse(args); err != nil {
		return flags{}, err
	}
	return f, nil
}

func (f flags) apply(cfg *config.Config) {
	if f.port != 0 {
		cfg.Port = f.port
	}
	if f.domain != "" {
		cfg.Domain = f.domain
	}
	if f.dbType != "" {
		cfg.DBType = f.dbType
	}
}

// Run composes storage, the ledger, sessions and the HTTP server, and blocks
// until ctx is cancelled or a server fails.
func Run(ctx context.Context, args []string, logger zerolog.Logger) error {
	f, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if f.showVersion {
		logger.Info().Str("version", version.String()).Msg("hardwarestore")
		return nil
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return fmt.Errorf("unable to load configuration: %w", err)
	}
	f.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger = logger.Level(logging.SetLevel(cfg.LogLevel))

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher, err := events.Open(events.Config{
		Driver:           cfg.EventsDriver,
		KafkaBrokers:     cfg.Brokers(),
		KafkaTopic:       cfg.KafkaTopic,
		RabbitMQURL:      cfg.RabbitMQURL,
		RabbitMQExchange: cfg.RabbitMQExchange,
	})
	if err != nil {
		return fmt.Errorf("unable to open event publisher: %w", err)
	}
	defer publisher.Close()

	m := metrics.New()
	l := ledger.New(store, ledger.Options{
		StrictStatus: cfg.StrictStatus,
		Publisher:    publisher,
		Recorder:     m,
		Logger:       logger,
	})

	sessions, err := session.Open(cfg.SessionPath, cfg.SessionTTL)
	if err != nil {
		return fmt.Errorf("unable to open session store: %w", err)
	}
	defer sessions.Close()

	if cfg.AdminToken == "" {
		logger.Warn().Msg("ADMIN_TOKEN is not set, the admin API is disabled")
	}
	api, err := httpapi.New(l, sessions, httpapi.Options{
		AdminToken: cfg.AdminToken,
		Ready:      readiness(store),
		Metrics:    m,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("unable to build http server: %w", err)
	}

	servers, err := buildServers(cfg, api.Handler())
	if err != nil {
		return err
	}

	t, tctx := tomb.WithContext(ctx)
	for _, srv := range servers {
		t.Go(func() error { return serve(srv, logger) })
	}
	t.Go(func() error {
		return sweepSessions(tctx, sessions, cfg.SessionSweepInterval, m, logger)
	})
	t.Go(func() error {
		<-t.Dying()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Str("addr", srv.Addr).Msg("server shutdown")
			}
		}
		return nil
	})

	logger.Info().
		Str("version", version.String()).
		Str("db_type", cfg.DBType).
		Str("events", cfg.EventsDriver).
		Bool("strict_status", cfg.StrictStatus).
		Msg("hardwarestore started")

	err = t.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info().Err(err).Msg("hardwarestore stopped")
	return err
}

// openStore returns the ledger store selected by DB_TYPE and its closer.
func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (ledger.Store, func(), error) {
	switch cfg.DBType {
	case config.DBTypePostgres:
		pg, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.Options{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnLifetime,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("unable to ensure schema: %w", err)
		}
		if err := claimSchema(ctx, pg); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		return pg, func() { _ = pg.Close() }, nil
	default:
		mem, err := memory.Open(cfg.DBPath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to open memory store: %w", err)
		}
		return mem, func() {
			if err := mem.Close(); err != nil {
				logger.Error().Err(err).Msg("final snapshot failed")
			}
		}, nil
	}
}

// versionedSchema is implemented by stores that record which build migrated them.
type versionedSchema interface {
	SchemaVersion(ctx context.Context) (string, error)
	RecordVersion(ctx context.Context, v string) error
}

// claimSchema refuses to run against a schema written by a newer build, then
// records this build as the schema owner.
func claimSchema(ctx context.Context, s versionedSchema) error {
	recorded, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if err := checkSchemaVersion(recorded); err != nil {
		return err
	}
	return s.RecordVersion(ctx, version.Version().String())
}

func checkSchemaVersion(recorded string) error {
	if recorded == "" {
		return nil
	}
	ok, err := version.Satisfies(">= " + recorded)
	if err != nil {
		return fmt.Errorf("invalid schema version %q: %w", recorded, err)
	}
	if !ok {
		return fmt.Errorf("schema was migrated by v%s, this build is %s", recorded, version.String())
	}
	return nil
}

// readiness returns the store's health check when it has one.
func readiness(store ledger.Store) func(context.Context) error {
	if p, ok := store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping
	}
	return nil
}

func serve(srv *http.Server, logger zerolog.Logger) error {
	var err error
	if srv.TLSConfig != nil {
		logger.Info().Str("addr", srv.Addr).Msg("HTTPS server listening")
		err = srv.ListenAndServeTLS("", "")
	} else {
		logger.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server on %s stopped unexpectedly: %w", srv.Addr, err)
	}
	return nil
}

// sweepSessions drops expired sessions until ctx ends.
func sweepSessions(ctx context.Context, sessions *session.Store, every time.Duration, m *metrics.Metrics, logger zerolog.Logger) error {
	if every <= 0 {
		return nil
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := sessions.Sweep()
			if err != nil {
				logger.Warn().Err(err).Msg("session sweep failed")
				continue
			}
			m.Sessions.Add(float64(n))
			if n > 0 {
				logger.Debug().Int("removed", n).Msg("expired sessions swept")
			}
		}
	}
}
