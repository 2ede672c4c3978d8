package main

import (
	"github.com/matsen/ontoscope/internal/backend"
	"github.com/matsen/ontoscope/internal/backend/local"
	"github.com/matsen/ontoscope/internal/explorer"
	"github.com/matsen/ontoscope/internal/layout"
	"github.com/matsen/ontoscope/internal/notify"
)

// session bundles an explorer with the backend it runs on.
type session struct {
	*explorer.Explorer
	offline *local.Backend
	closers []func()
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openBackend picks the offline backend when a data dir is configured and the
// HTTP client otherwise.
func openBackend() (backend.Backend, *local.Backend, error) {
	if cfg.DataDir != "" {
		b, err := local.Open(cfg.DataDir, local.WithLogger(logger.Named("local")))
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	}

	opts := []backend.ClientOption{
		backend.WithBaseURL(cfg.BackendURL),
		backend.WithTimeout(cfg.RequestTimeout),
		backend.WithRateLimit(cfg.RateLimit),
		backend.WithBreaker(backend.DefaultBreakerConfig()),
		backend.WithLogger(logger.Named("client")),
	}
	if cfg.APIToken != "" {
		opts = append(opts, backend.WithToken(cfg.APIToken))
	}
	return backend.NewClient(opts...), nil, nil
}

// openSession builds an explorer from the loaded config. Notifications are
// printed to stderr as they happen.
func openSession() (*session, error) {
	b, offline, err := openBackend()
	if err != nil {
		return nil, exitWithError(ExitConfigError, "opening backend: %v", err)
	}

	center := notify.NewCenter(logger.Named("notify"))
	if humanOutput {
		center.Subscribe(printNotification)
	}

	ex := explorer.New(b, explorer.Options{
		Hops:     cfg.DefaultHops,
		Debounce: cfg.Layout.Debounce,
		Layout: []layout.Option{
			layout.WithIterations(cfg.Layout.Iterations),
			layout.WithSeed(cfg.Layout.Seed),
		},
		Notifier: center,
		Logger:   logger,
	})

	s := &session{Explorer: ex, offline: offline}
	if offline != nil {
		s.closers = append(s.closers, func() { _ = offline.Close() })
	}
	s.closers = append(s.closers, ex.Close)
	return s, nil
}
