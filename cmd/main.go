// Command swcached is a small offline gateway: it fronts an origin server,
// precaches the build manifest on startup, serves repeat requests from the
// cache, and logs an update notice whenever a changed document is detected.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	goswcache "github.com/offlinekit/go-sw-cache"
	"github.com/offlinekit/go-sw-cache/caches/fs"
	"github.com/offlinekit/go-sw-cache/caches/leveldb"
	"github.com/offlinekit/go-sw-cache/caches/local"
	"github.com/offlinekit/go-sw-cache/caches/postgres"
)

type daemonConfig struct {
	Listen   string `yaml:"listen"`
	Manifest string `yaml:"manifest"`

	Storage struct {
		Backend     string `yaml:"backend"` // local | leveldb | fs | postgres
		Path        string `yaml:"path"`
		PostgresDSN string `yaml:"postgres_dsn"`
	} `yaml:"storage"`

	Worker goswcache.Config `yaml:"worker"`
}

func loadDaemonConfig(path string) (daemonConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return daemonConfig{}, err
	}
	var cfg daemonConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return daemonConfig{}, err
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.Worker.Origin == "" {
		return daemonConfig{}, fmt.Errorf("worker.origin is required")
	}
	cfg.Worker.Origin = strings.TrimRight(cfg.Worker.Origin, "/")
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "local"
	}
	return cfg, nil
}

func buildStorage(ctx context.Context, cfg daemonConfig) (goswcache.Storage, func(), error) {
	noop := func() {}

	switch cfg.Storage.Backend {
	case "local":
		return local.NewBasicStorage(), noop, nil
	case "leveldb":
		st, err := leveldb.New(cfg.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	case "fs":
		st, err := fs.New(cfg.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		return st, noop, nil
	case "postgres":
		db, err := sql.Open("postgres", cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		st, err := postgres.New(ctx, db, &postgres.Config{DeleteExpiredItems: true})
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return st, func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", getenvDefault("SWCACHE_CONFIG", "/swcache.yaml"), "path to swcache.yaml")
	flag.Parse()

	cfg, err := loadDaemonConfig(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, closeStorage, err := buildStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("init storage: %v", err)
	}
	defer closeStorage()

	channel := goswcache.NewChannel("swcache")
	worker := goswcache.New(storage, channel, &cfg.Worker, nil, logger)(http.DefaultTransport)

	if cfg.Manifest != "" {
		manifest, err := goswcache.LoadManifest(cfg.Manifest)
		if err != nil {
			log.Fatalf("load manifest: %v", err)
		}
		if err := worker.Install(ctx, manifest); err != nil {
			log.Fatalf("install: %v", err)
		}
	}
	if err := worker.Activate(ctx); err != nil {
		log.Fatalf("activate: %v", err)
	}

	msgs, unsubscribe := channel.Subscribe()
	defer unsubscribe()
	go func() {
		for msg := range msgs {
			logger.Info("broadcast received", "channel", channel.Name(), "msg", msg)
		}
	}()

	client := &http.Client{Transport: worker}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		serveThroughCache(w, r, client, cfg.Worker.Origin)
	})

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("swcached listening", "addr", cfg.Listen, "origin", cfg.Worker.Origin, "cache", cfg.Worker.CacheName)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	worker.Flush()
}

func serveThroughCache(w http.ResponseWriter, r *http.Request, client *http.Client, origin string) {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, origin+r.URL.RequestURI(), r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	copyHeaders(req.Header, r.Header)

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, goswcache.ErrNetworkUnavailable) {
			http.Error(w, "offline and not cached", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Host") {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
