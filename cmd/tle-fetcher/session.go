package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/signalsfoundry/tle-fetcher/cache"
	"github.com/signalsfoundry/tle-fetcher/core"
	"github.com/signalsfoundry/tle-fetcher/internal/acquire"
	"github.com/signalsfoundry/tle-fetcher/internal/config"
	"github.com/signalsfoundry/tle-fetcher/internal/logging"
	"github.com/signalsfoundry/tle-fetcher/internal/observability"
	"github.com/signalsfoundry/tle-fetcher/internal/repository"
	"github.com/signalsfoundry/tle-fetcher/internal/source"
)

// commonFlags are shared by every command and override the environment.
type commonFlags struct {
	stateDir    string
	offline     bool
	sourceOrder string
	validator   string
	repository  string
	logLevel    string
	metricsAddr string
}

func (c *commonFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&c.stateDir, "state-dir", "", "state directory for cache, repository and databases (env TLE_FETCHER_STATE_DIR)")
	fs.BoolVar(&c.offline, "offline", false, "never touch the network; serve stored data only")
	fs.StringVar(&c.sourceOrder, "source-order", "", "comma separated source priority (env TLE_FETCHER_SOURCE_ORDER)")
	fs.StringVar(&c.validator, "validator", "", "validator backend: pure or sgp4")
	fs.StringVar(&c.repository, "repository", "", "repository backend: file, sqlite or postgres")
	fs.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn or error")
	fs.StringVar(&c.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
}

func (c *commonFlags) apply(cfg *config.Config) error {
	if c.stateDir != "" {
		cfg.StateDir = c.stateDir
	}
	if c.offline {
		cfg.Offline = true
	}
	if c.sourceOrder != "" {
		cfg.SourceOrder = source.ParseSourceOrder(c.sourceOrder)
	}
	if c.validator != "" {
		cfg.Validator = c.validator
	}
	if c.repository != "" {
		cfg.Repository = c.repository
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	if c.metricsAddr != "" {
		cfg.MetricsAddr = c.metricsAddr
	}
	return cfg.Validate()
}

// session holds what every command shares once flags are parsed.
type session struct {
	cfg       config.Config
	log       logging.Logger
	registry  *prometheus.Registry
	fetch     *observability.FetchCollector
	discovery *observability.DiscoveryCollector
	closers   []func()
}

func (a *app) setup(ctx context.Context, flags *commonFlags) (*session, error) {
	cfg, err := config.Load(a.getenv)
	if err != nil {
		return nil, err
	}
	if err := flags.apply(&cfg); err != nil {
		return nil, err
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: a.stderr})
	sess := &session{cfg: cfg, log: log, registry: prometheus.NewRegistry()}

	if sess.fetch, err = observability.NewFetchCollector(sess.registry); err != nil {
		return nil, err
	}
	if sess.discovery, err = observability.NewDiscoveryCollector(sess.registry); err != nil {
		return nil, err
	}

	shutdown, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return nil, err
	}
	sess.closers = append(sess.closers, func() {
		observability.ShutdownWithTimeout(context.Background(), shutdown, log)
	})

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, sess.registry, log)
		sess.closers = append(sess.closers, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	log.Debug(ctx, "configuration loaded", cfg.LogFields()...)
	return sess, nil
}

func (sess *session) close() {
	for i := len(sess.closers) - 1; i >= 0; i-- {
		sess.closers[i]()
	}
}

func (a *app) httpTransport() (source.Transport, error) {
	if a.transport != nil {
		return a.transport, nil
	}
	return source.NewHTTPTransport()
}

func (sess *session) clientOptions() []source.Option {
	return append(sess.cfg.ClientOptions(),
		source.WithObserver(sess.fetch),
		source.WithLogger(sess.log),
	)
}

// openRepository opens the configured durable tier.
func (sess *session) openRepository(ctx context.Context) (acquire.Repository, error) {
	switch sess.cfg.Repository {
	case config.RepositorySQLite:
		repo, err := repository.OpenSQLite(ctx, sess.cfg.SQLitePath(), sess.log)
		if err != nil {
			return nil, err
		}
		sess.closers = append(sess.closers, func() { repo.Close() })
		return repo, nil
	case config.RepositoryPostgres:
		repo, pool, err := repository.OpenPostgres(ctx, sess.cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		sess.closers = append(sess.closers, pool.Close)
		return repo, nil
	default:
		return repository.NewFile(sess.cfg.RepositoryDir())
	}
}

// acquirer wires cache, repository and source clients into an
// orchestrator.
func (a *app) acquirer(ctx context.Context, sess *session) (*acquire.Service, error) {
	validator, err := core.SelectValidator(sess.cfg.Validator)
	if err != nil {
		return nil, err
	}
	c, err := cache.New(cache.DefaultSize, nil)
	if err != nil {
		return nil, err
	}
	repo, err := sess.openRepository(ctx)
	if err != nil {
		return nil, err
	}

	var fetchers []acquire.Fetcher
	if !sess.cfg.Offline {
		transport, err := a.httpTransport()
		if err != nil {
			return nil, err
		}
		reg, err := sess.cfg.Registry()
		if err != nil {
			return nil, err
		}
		for _, cl := range reg.BuildClients(sess.cfg.SourceOrder, transport, sess.clientOptions()...) {
			fetchers = append(fetchers, cl)
		}
		if len(fetchers) == 0 {
			return nil, fmt.Errorf("no known sources in order %v", sess.cfg.SourceOrder)
		}
	}

	return acquire.NewService(c, fetchers,
		acquire.WithRepository(repo),
		acquire.WithValidator(validator),
		acquire.WithObserver(sess.fetch),
		acquire.WithLogger(sess.log),
	), nil
}

func serveMetrics(addr string, gatherer prometheus.Gatherer, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.HandlerFor(gatherer))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
