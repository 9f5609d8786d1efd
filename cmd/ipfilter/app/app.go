// Package app wires EffectiveConfig into the running process: it builds
// the profile fetcher, the refresher, the authorisation engine, and the
// proxy, and owns their service lifecycles.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/grafana/dskit/services"
	"github.com/grafana/dskit/signals"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uktrade/ip-filter/modules/authengine"
	"github.com/uktrade/ip-filter/modules/pathclassifier"
	"github.com/uktrade/ip-filter/modules/profilefetcher"
	"github.com/uktrade/ip-filter/modules/proxy"
	"github.com/uktrade/ip-filter/modules/refresher"
	"github.com/uktrade/ip-filter/pkg/util/log"
)

// App is the root datastructure: everything the running process owns.
type App struct {
	cfg *EffectiveConfig

	refresher *refresher.Refresher
	store     *refresher.Store

	server *http.Server
}

// New builds the App from an already-validated EffectiveConfig. It does
// not start anything: call Run to perform the initial refresh and begin
// serving.
func New(cfg *EffectiveConfig) *App {
	fetcher := profilefetcher.New(cfg.AgentURL, cfg.ProfileFetchTimeout)
	store := refresher.NewStore()
	ref := refresher.New(fetcher, store, cfg.Profiles, cfg.RefreshInterval, cfg.ProfileFetchTimeout)

	classifier := pathclassifier.New(cfg.FilterEnabled, cfg.PublicPaths, cfg.ProtectedPaths)
	engine := authengine.New(cfg.XFFIndex)
	denial := proxy.NewDenialRenderer(cfg.ContactEmail, cfg.ContactName)

	p := proxy.New(proxy.Config{
		OriginScheme:          cfg.OriginScheme,
		OriginHost:            cfg.OriginHost,
		ConnectTimeout:        cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
	}, classifier, engine, store, denial)

	router := mux.NewRouter()
	router.Path("/__ipfilter/healthz").Methods(http.MethodGet).HandlerFunc(healthzHandler(store))
	router.Path(cfg.MetricsPath).Methods(http.MethodGet).Handler(promhttp.Handler())
	router.PathPrefix("/").Handler(boundConcurrency(p, cfg.MaxConcurrentRequests))

	return &App{
		cfg:       cfg,
		refresher: ref,
		store:     store,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.ListenPort),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       5 * time.Minute,
		},
	}
}

// boundConcurrency caps the number of requests handled at once so an
// origin slowdown cannot let unbounded goroutines and their buffers pile
// up; everything past the cap waits for a slot rather than being rejected,
// since the origin timeout already bounds how long that wait can last.
func boundConcurrency(next http.Handler, limit int) http.Handler {
	if limit <= 0 {
		return next
	}
	sem := make(chan struct{}, limit)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sem <- struct{}{}
		defer func() { <-sem }()
		next.ServeHTTP(w, r)
	})
}

// healthzHandler always bypasses authorisation and reports whether a
// Snapshot newer than the empty bootstrap one has ever been published.
func healthzHandler(store *refresher.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if store.Load().Version == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("no snapshot published yet\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}
}

// Run performs the mandatory synchronous initial refresh, then starts the
// periodic refresher and the HTTP server, blocking until a termination
// signal arrives or the server exits.
func (a *App) Run() error {
	if err := a.refresher.RefreshOnce(context.Background()); err != nil {
		return fmt.Errorf("initial refresh yielded no usable profiles: %w", err)
	}
	level.Info(log.Logger).Log("msg", "initial refresh complete", "version", a.store.Load().Version)

	sm, err := services.NewManager(a.refresher)
	if err != nil {
		return fmt.Errorf("failed to start service manager: %w", err)
	}

	healthy := func() { level.Info(log.Logger).Log("msg", "ipfilter started") }
	stopped := func() { level.Info(log.Logger).Log("msg", "ipfilter stopped") }
	serviceFailed := func(s services.Service) {
		level.Error(log.Logger).Log("msg", "refresher service failed", "err", s.FailureCase())
		sm.StopAsync()
	}
	sm.AddListener(services.NewManagerListener(healthy, stopped, serviceFailed))

	if err := sm.StartAsync(context.Background()); err != nil {
		return fmt.Errorf("failed to start service manager: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		level.Info(log.Logger).Log("msg", "listening", "addr", a.server.Addr)
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serverErr <- err
	}()

	handler := signals.NewHandler(log.Logger)
	sigDone := make(chan struct{})
	go func() {
		handler.Loop()
		close(sigDone)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			sm.StopAsync()
			return fmt.Errorf("server failed: %w", err)
		}
	case <-sigDone:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.server.Shutdown(ctx)
	}

	sm.StopAsync()
	sm.AwaitStopped(context.Background())
	return nil
}
