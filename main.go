package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cfg "github.com/example/countryauth/internal/config"
	"github.com/gorilla/mux"
	_ "modernc.org/sqlite"
)

type App struct {
	DB          DB
	Auth        *AuthService
	logger      *slog.Logger
	rateLimiter *RateLimiter
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json", "error", err)
	}
}

func newApp(c *cfg.Config, db DB, logger *slog.Logger) *App {
	purposes := map[TokenPurpose]PurposeConfig{
		PurposeAccess: {
			Secret: []byte(c.JWT.AccessSecret),
			TTL:    time.Duration(c.JWT.AccessExpirySec) * time.Second,
		},
	}
	if c.DualTokenMode() {
		purposes[PurposeRefresh] = PurposeConfig{
			Secret: []byte(c.JWT.RefreshSecret),
			TTL:    time.Duration(c.JWT.RefreshExpirySec) * time.Second,
		}
	}

	tokens := NewTokenService(c.JWT.Issuer, purposes, db, logger)
	auth := NewAuthService(db, tokens, c.DualTokenMode(), logger)

	return &App{
		DB:          db,
		Auth:        auth,
		logger:      logger,
		rateLimiter: NewRateLimiter(c.RateLimitPerMinute),
	}
}

func newRouter(app *App) *mux.Router {
	r := mux.NewRouter()
	r.Use(SecurityHeaders)
	r.Use(app.Logging)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")
	r.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if p, ok := app.DB.(interface{ ping() bool }); ok {
			if !p.ping() {
				w.WriteHeader(503)
				w.Write([]byte(`{"ready":false}`))
				return
			}
		}
		w.WriteHeader(200)
		w.Write([]byte(`{"ready":true}`))
	}).Methods("GET")

	oauth := r.PathPrefix("/oauth").Subrouter()
	oauth.Use(app.RateLimit)
	oauth.HandleFunc("/signup", app.HandleSignup).Methods("POST")
	oauth.HandleFunc("/login", app.HandleLogin).Methods("POST")
	oauth.HandleFunc("/refresh", app.HandleRefresh).Methods("POST")
	oauth.HandleFunc("/logout", app.HandleLogout).Methods("POST")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(app.Authenticate)
	api.HandleFunc("/countries", app.HandleListCountries).Methods("GET")
	api.HandleFunc("/countries/{name}", app.HandleGetCountry).Methods("GET")

	return r
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	c, err := cfg.New()
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	var db DB
	switch c.DBAdapter {
	case "sqlite":
		s, err := NewSQLiteDB(c.SQLiteFile)
		if err != nil {
			logger.Error("sqlite init", "error", err)
			os.Exit(1)
		}
		db = s
		logger.Info("connected to sqlite database", "file", c.SQLiteFile)
	case "postgres":
		logger.Info("applying database migrations")
		if err := ApplyMigrations("./migrations", c.Postgres.DSN); err != nil {
			logger.Error("migrations", "error", err)
			os.Exit(1)
		}
		p, err := NewPostgresDB(c.Postgres.DSN)
		if err != nil {
			logger.Error("postgres init", "error", err)
			os.Exit(1)
		}
		db = p
		logger.Info("connected to postgres database")
	case "memory":
		logger.Warn("using in-memory database (not recommended for production)")
		db = NewMemoryDB()
	}

	app := newApp(c, db, logger)
	r := newRouter(app)

	srv := &http.Server{Handler: r, Addr: ":" + c.Port, ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second}

	go func() {
		mode := "single-token"
		if c.DualTokenMode() {
			mode = "dual-token"
		}
		logger.Info("starting server", "port", c.Port, "mode", mode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if closer, ok := app.DB.(interface{ close() error }); ok {
		_ = closer.close()
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited properly")
}
