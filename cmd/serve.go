package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sensitivity-cli/internal/model"
	"github.com/sells-group/sensitivity-cli/internal/retrieval"
	"github.com/sells-group/sensitivity-cli/internal/store"
	"github.com/sells-group/sensitivity-cli/internal/workflow"
)

// maxRequestBytes bounds a classify request body.
const maxRequestBytes = 4 << 20

const shutdownTimeout = 10 * time.Second

var (
	servePort  int
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the classification HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initClassifyEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if serveWatch {
			go func() {
				if err := env.Index.Watch(ctx, cfg.Taxonomy.Path, 0); err != nil {
					zap.L().Error("taxonomy watcher stopped", zap.Error(err))
				}
			}()
		}

		srv := &server{
			runner: &runner{classifier: env.Classifier, store: env.Store},
			runs:   env.Store,
			index:  env.Index,
		}
		return startServer(ctx, srv.routes(cfg.Server.CORSOrigins), resolvePort(servePort, cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "reload the taxonomy file when it changes")
	rootCmd.AddCommand(serveCmd)
}

// runReader loads recorded runs.
type runReader interface {
	GetRun(ctx context.Context, runID string) (*model.Run, error)
}

// server holds the HTTP handlers' dependencies.
type server struct {
	runner *runner
	runs   runReader
	index  retrieval.IndexSource
}

// routes builds the API router.
func (s *server) routes(origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"X-Run-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/sec/workflow/classify", s.handleClassify)
	r.Get("/runs/{id}", s.handleGetRun)
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.index != nil {
		resp["taxonomy_records"] = s.index.Current().Stats().Records
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req workflow.Input
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if req.Query == nil {
		respondError(w, http.StatusBadRequest, "query is required", nil)
		return
	}

	out, err := s.runner.run(r.Context(), req)
	if out.RunID != "" {
		w.Header().Set("X-Run-ID", out.RunID)
	}
	if err != nil {
		var state workflow.State
		if out.Result != nil {
			state = out.Result.State
		}
		respondError(w, classifyStatus(err), err.Error(), state)
		return
	}
	respondJSON(w, http.StatusOK, out.Result.State)
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.runs.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", id), nil)
		return
	}
	if err != nil {
		zap.L().Error("get run failed", zap.String("run_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load run", nil)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// classifyStatus maps a workflow failure to an HTTP status.
func classifyStatus(err error) int {
	switch {
	case errors.Is(err, workflow.ErrValidationExhausted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, workflow.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, workflow.ErrNodeTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string         `json:"error"`
	State workflow.State `json:"state,omitempty"`
}

func respondError(w http.ResponseWriter, status int, msg string, state workflow.State) {
	respondJSON(w, status, errorResponse{Error: msg, State: state})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := writeJSON(w, v, false); err != nil {
		zap.L().Warn("write response failed", zap.Error(err))
	}
}

// requestLogger logs one line per request with zap.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// resolvePort prefers the flag over the configured port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves handler on port until ctx is done, then shuts down
// gracefully.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		zap.L().Info("shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}
	<-shutdownDone
	return nil
}
