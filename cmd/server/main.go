// cmd/server is the HTTP API entry point. It selects a backend, wires
// the service and handler layers, and serves the chi router until
// SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harvardpoops/app/internal/auth"
	"github.com/harvardpoops/app/internal/backend"
	"github.com/harvardpoops/app/internal/backend/memory"
	"github.com/harvardpoops/app/internal/backend/postgres"
	"github.com/harvardpoops/app/internal/database"
	"github.com/harvardpoops/app/internal/handler"
	"github.com/harvardpoops/app/internal/service"
)

// appBackend is what the server needs beyond the core contract: token
// verification for the auth middleware.
type appBackend interface {
	backend.Backend
	handler.TokenVerifier
}

func main() {
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := buildBackend(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("backend init failed")
	}

	// ── Wire up layers ───────────────────────────────────────────────────
	mgr := auth.NewManager(b, b)
	events := service.NewEventService(b, b)
	rsvps := service.NewRSVPService(b, b)
	chat := service.NewChatService(b, b)
	voting := service.NewVotingService(b, b)
	images := service.NewImageService(b)

	authHandler := handler.NewAuthHandler(mgr)
	eventHandler := handler.NewEventHandler(events, images, mgr)
	rsvpHandler := handler.NewRSVPHandler(rsvps, mgr)
	chatHandler := handler.NewChatHandler(chat, mgr)
	voteHandler := handler.NewVoteHandler(voting)
	wsHandler := handler.NewWSHandler(b)

	// ── Build the router ─────────────────────────────────────────────────
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(handler.Logger)
	r.Use(handler.CORS)

	r.Get("/health", handler.HealthCheck)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", authHandler.SignUp)
		r.Post("/login", authHandler.SignIn)
		r.Group(func(r chi.Router) {
			r.Use(handler.RequireAuth(b))
			r.Post("/logout", authHandler.SignOut)
			r.Get("/me", authHandler.Me)
			r.Post("/referral-codes", authHandler.GenerateReferralCode)
		})
	})

	r.Route("/events", func(r chi.Router) {
		r.Use(handler.RequireAuth(b))
		r.Post("/", eventHandler.Create)
		r.Get("/", eventHandler.ListUpcoming)
		r.Get("/mine", eventHandler.ListMine)
		r.Post("/images", eventHandler.UploadImage)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", eventHandler.Get)
			r.Patch("/", eventHandler.Update)
			r.Delete("/", eventHandler.Delete)
			r.Post("/rsvp", rsvpHandler.Create)
			r.Delete("/rsvp", rsvpHandler.Delete)
			r.Get("/rsvp", rsvpHandler.Status)
			r.Get("/messages", chatHandler.List)
			r.Post("/messages", chatHandler.Send)
			r.Get("/votes", voteHandler.Tally)
			r.Post("/votes", voteHandler.Cast)
			r.Get("/votes/mine", voteHandler.Mine)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(handler.RequireAuth(b))
		r.Get("/me/rsvps", rsvpHandler.ListMine)
		r.Get("/ws", wsHandler.Stream)
	})

	// Uploaded event images are served straight off the blob directory.
	blobDir := getEnv("BLOB_DIR", "./storage")
	r.Handle("/storage/*", http.StripPrefix("/storage/", http.FileServer(http.Dir(blobDir))))

	// ── Start server with graceful shutdown ──────────────────────────────
	port := getEnv("PORT", "8080")
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("server stopped")
}

// buildBackend selects the backend from BACKEND=memory|postgres.
func buildBackend(ctx context.Context) (appBackend, error) {
	switch kind := getEnv("BACKEND", "postgres"); kind {
	case "postgres":
		pool, err := database.NewPool(ctx)
		if err != nil {
			return nil, err
		}
		secret := os.Getenv("JWT_SECRET")
		if secret == "" {
			return nil, fmt.Errorf("JWT_SECRET is required for the postgres backend")
		}
		b := postgres.New(pool, postgres.Config{
			JWTSecret:   []byte(secret),
			BlobDir:     getEnv("BLOB_DIR", "./storage"),
			BlobBaseURL: getEnv("BLOB_BASE_URL", "http://localhost:8080/storage"),
		})
		go func() {
			if err := b.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("change feed stopped")
			}
		}()
		log.Info().Msg("connected to postgres")
		return b, nil

	case "memory":
		b := memory.New()
		// Seed one referral code so the first account can sign up.
		code := getEnv("SEED_REFERRAL_CODE", "HP-FOUNDER")
		if _, err := b.CreateRecord(ctx, backend.TableReferralCodes, backend.Record{
			"code": code, "created_by": "system", "is_used": false,
		}); err != nil {
			return nil, err
		}
		log.Info().Str("referral_code", code).Msg("using in-memory backend")
		return b, nil

	default:
		return nil, fmt.Errorf("unknown BACKEND %q", kind)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
