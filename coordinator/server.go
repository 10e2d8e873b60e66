package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/alexedwards/scs/v2"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog"

	"github.com/rimeworks/rime/coordinator/frosted"
	"github.com/rimeworks/rime/coordinator/internal"
)

type server struct {
	coord    *internal.Coordinator
	sessions *scs.SessionManager
	log      zerolog.Logger
}

// The Coordinator starts here
func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	serverConfig, err := internal.LoadServerConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("could not load config")
	}

	// Open database (creates file if it doesn't exist)
	db, err := sql.Open("sqlite3", serverConfig.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("could not open database")
	}
	defer db.Close()

	if err := internal.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("could not create schema")
	}

	store, err := buildStore(db, serverConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("could not build store")
	}

	engine, err := buildEngine(serverConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("could not build engine")
	}

	machine := internal.NewMachine(store, engine, log)
	coord := internal.NewCoordinator(machine, log)

	// The janitor needs to enumerate ceremonies, which every shipped store
	// supports.
	lister := store.(internal.Lister)
	janitor := internal.NewJanitor(coord, lister, internal.JanitorConfig{
		KeygenMaxAge:  time.Duration(serverConfig.KeygenMaxAgeMinutes) * time.Minute,
		SigningMaxAge: time.Duration(serverConfig.SigningMaxAgeMinutes) * time.Minute,
		Interval:      time.Duration(serverConfig.SweepIntervalSeconds) * time.Second,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go janitor.Run(ctx)

	// Session storage
	sessionManager := scs.New()
	sessionManager.Lifetime = 12 * time.Hour

	srv := &server{
		coord:    coord,
		sessions: sessionManager,
		log:      log.With().Str("component", "http").Logger(),
	}

	log.Info().Str("hostname", serverConfig.Hostname).Msg("coordinator listening")
	err = http.ListenAndServe(serverConfig.Hostname, srv.routes())
	if err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func (s *server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.indexPage).Methods(http.MethodGet)
	r.HandleFunc("/v1/session", s.newSession).Methods(http.MethodPost)
	r.HandleFunc("/v1/keygen", s.initKeygen).Methods(http.MethodPost)
	r.HandleFunc("/v1/signing", s.initSigning).Methods(http.MethodPost)
	r.HandleFunc("/v1/ceremony/{id}/join", s.joinCeremony).Methods(http.MethodPost)
	r.HandleFunc("/v1/ceremony/{id}/round/{round}", s.submitRound).Methods(http.MethodPost)
	r.HandleFunc("/v1/ceremony/{id}", s.ceremonyStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/ceremony/{id}/expire", s.expireCeremony).Methods(http.MethodPost)
	r.Use(s.requestLog)
	return s.sessions.LoadAndSave(r)
}

// requestLog tags every request with an id, carried on the context so
// audit log lines downstream can be correlated with the request line.
func (s *server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		r = r.WithContext(internal.WithRequestID(r.Context(), requestID))
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func buildStore(db *sql.DB, cfg internal.CoordinatorConfig) (internal.Store, error) {
	base := internal.NewSQLiteStore(db)
	if cfg.SealIdentityFile == "" {
		return base, nil
	}
	raw, err := os.ReadFile(cfg.SealIdentityFile)
	if err != nil {
		return nil, fmt.Errorf("could not read seal identity: %w", err)
	}
	identity, err := age.ParseX25519Identity(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("could not parse seal identity: %w", err)
	}
	return internal.NewSealedStore(base, identity), nil
}

func buildEngine(cfg internal.CoordinatorConfig) (internal.Engine, error) {
	switch cfg.Engine {
	case "", "frosted":
		return frosted.New(), nil
	case "echo":
		return internal.EchoEngine{}, nil
	}
	return nil, fmt.Errorf("unknown engine %q", cfg.Engine)
}
