package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gcra-gateway/middleware/ratelimit"

	"github.com/go-chi/chi/v5"
)

func main() {
	// Exemplo: injetando o middleware diretamente no seu webserver (sem proxy),
	// com um limiter independente por grupo de rotas.
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// leitura: 5 req/s por IP do peer, rajada de 10 (sem proxy na frente)
	readCfg, err := ratelimit.NewBuilder().
		PerSecond(5).
		Burst(10).
		KeyExtractor(ratelimit.DefaultKeyExtractor("", nil)).
		Methods(http.MethodGet, http.MethodHead).
		UseHeaders().
		Logger(logger).
		Build()
	if err != nil {
		logger.Error("read limiter config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// escrita: 1 req a cada 2s por token, rajada de 3
	writeCfg, err := ratelimit.NewBuilder().
		Period(2 * time.Second).
		Burst(3).
		KeyExtractor(ratelimit.BearerTokenExtractor{}).
		UseHeaders().
		Logger(logger).
		Build()
	if err != nil {
		logger.Error("write limiter config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	readLim := ratelimit.New(readCfg)
	writeLim := ratelimit.New(writeCfg)
	readLim.StartJanitor(ctx)
	writeLim.StartJanitor(ctx)

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Group(func(r chi.Router) {
		r.Use(readLim.Middleware())
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok\n"))
		})
	})
	r.Group(func(r chi.Router) {
		r.Use(writeLim.Middleware())
		r.Post("/items", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
		})
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
