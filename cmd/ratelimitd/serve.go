package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/replyhub/ratelimit"
	zapadapter "github.com/replyhub/ratelimit/adapters/zap"
	"github.com/replyhub/ratelimit/middleware/nethttp"
	"github.com/replyhub/ratelimit/store"
)

func newServeCmd() *cobra.Command {
	var (
		addr         string
		policiesFile string
		redisAddr    string
		debug        bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the demo gateway",
		Long: `Starts an HTTP gateway whose routes are guarded by the standard policy set.

Routes and their policies:
  POST /auth/login           auth:login (fail-closed)
  POST /auth/signup          auth:signup (fail-closed)
  POST /auth/otp             auth:otp (fail-closed)
  POST /auth/password-reset  auth:password-reset (fail-closed)
  POST /api/messages         api
  POST /api/broadcasts       broadcast
  POST /webhooks/inbound     webhook
  POST /forms/submit         form
  GET  /storefront           storefront`,
		Example: `  ratelimitd serve
  ratelimitd serve --addr :9090 --redis localhost:6379
  ratelimitd serve --policies policies.json --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Optional .env for local development; REDIS_ADDR overrides nothing
			// set explicitly via flags.
			_ = godotenv.Load()
			if redisAddr == "" {
				redisAddr = os.Getenv("REDIS_ADDR")
			}
			return serve(addr, policiesFile, redisAddr, debug)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&policiesFile, "policies", "", "JSON policy file (default: built-in policy set)")
	cmd.Flags().StringVar(&redisAddr, "redis", "", "redis address for the distributed store (default: in-memory store)")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}

func serve(addr, policiesFile, redisAddr string, debug bool) error {
	zlog, err := newZap(debug)
	if err != nil {
		return err
	}
	defer func() { _ = zlog.Sync() }()
	logger := zapadapter.New(zlog)

	registry, err := loadRegistry(policiesFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st ratelimit.Store
	if redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer func() { _ = client.Close() }()
		st = store.NewRedis(client)
		zlog.Info("using redis store", zap.String("addr", redisAddr))
	} else {
		// The janitor goroutine stops when the signal context is canceled.
		st = store.NewMemory(ctx, 10*time.Minute)
		zlog.Info("using in-memory store")
	}

	checker := ratelimit.NewChecker(st, registry, ratelimit.WithCheckerLogger(logger))

	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(checker, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("gateway listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zlog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newZap(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func loadRegistry(path string) (*ratelimit.Registry, error) {
	if path == "" {
		return ratelimit.NewRegistry(ratelimit.DefaultPolicies()...)
	}
	return ratelimit.LoadPolicies(path)
}

func newRouter(checker *ratelimit.Checker, logger ratelimit.Logger) http.Handler {
	guard := func(policy string) func(http.Handler) http.Handler {
		return nethttp.Middleware(checker, policy, ratelimit.WithLogger(logger))
	}

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	r.Route("/auth", func(r chi.Router) {
		r.With(guard("auth:login")).Post("/login", stub("login accepted"))
		r.With(guard("auth:signup")).Post("/signup", stub("signup accepted"))
		r.With(guard("auth:otp")).Post("/otp", stub("code sent"))
		r.With(guard("auth:password-reset")).Post("/password-reset", stub("reset mail sent"))
	})
	r.With(guard("api")).Post("/api/messages", stub("message queued"))
	r.With(guard("broadcast")).Post("/api/broadcasts", stub("broadcast queued"))
	r.With(guard("webhook")).Post("/webhooks/inbound", stub("webhook received"))
	r.With(guard("form")).Post("/forms/submit", stub("form received"))
	r.With(guard("storefront")).Get("/storefront", stub("catalog"))

	return r
}

func stub(message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"message": message})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
