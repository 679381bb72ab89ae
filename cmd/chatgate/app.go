package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"git.sr.ht/~jakintosh/chatgate/internal/config"
	"git.sr.ht/~jakintosh/chatgate/pkg/chat"
	"git.sr.ht/~jakintosh/chatgate/pkg/credentials"
	"git.sr.ht/~jakintosh/chatgate/pkg/gateway"
	"github.com/prometheus/client_golang/prometheus"
)

// app is one configured connection to a gateway.
type app struct {
	opts     options
	cfg      *config.Config
	db       *credentials.SQLiteStore
	gw       *gateway.Client
	chat     *chat.Client
	registry *prometheus.Registry
	metrics  *gateway.Metrics
	stdin    io.Reader
	stdout   io.Writer
}

func newApp(opts options, stdin io.Reader, stdout io.Writer) (*app, error) {
	registry := prometheus.NewRegistry()
	a := &app{
		opts:     opts,
		registry: registry,
		metrics:  gateway.NewMetrics(registry),
		stdin:    stdin,
		stdout:   stdout,
	}
	if err := a.connect(); err != nil {
		return nil, err
	}
	return a, nil
}

// connect loads the profile and opens the store and gateway client it
// names. It replaces any previous connection.
func (a *app) connect() error {
	cfg, err := loadConfig(a.opts)
	if err != nil {
		return err
	}
	gateway.SetLogLevel(cfg.Level())

	if err := os.MkdirAll(filepath.Dir(cfg.Store), 0700); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	db, err := credentials.NewSQLiteStore(cfg.Store)
	if err != nil {
		return err
	}
	store, err := db.For(cfg.Gateway)
	if err != nil {
		db.Close()
		return err
	}
	jar, err := db.Jar(cfg.Gateway)
	if err != nil {
		db.Close()
		return err
	}

	gw, err := gateway.New(gateway.Config{
		GatewayURL: cfg.Gateway,
		Store:      store,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		CookieJar:  jar,
		Metrics:    a.metrics,
	})
	if err != nil {
		db.Close()
		return err
	}

	if a.db != nil {
		a.db.Close()
	}
	a.cfg = cfg
	a.db = db
	a.gw = gw
	a.chat = chat.New(gw)
	return nil
}

func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Gateway != "" {
		cfg.Gateway = opts.Gateway
	}
	if opts.Store != "" {
		cfg.Store = opts.Store
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.Username != "" {
		cfg.Username = opts.Username
	}
	if opts.UserID != "" {
		cfg.UserID = opts.UserID
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// context bounds one command by the profile's timeout.
func (a *app) context() (context.Context, context.CancelFunc) {
	if a.cfg.Timeout > 0 {
		return context.WithTimeout(context.Background(), a.cfg.Timeout)
	}
	return context.WithCancel(context.Background())
}

func (a *app) printf(format string, v ...any) {
	fmt.Fprintf(a.stdout, format, v...)
}

func (a *app) close() {
	if a.opts.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(a.opts.MetricsFile, a.registry); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write metrics: %v\n", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}
