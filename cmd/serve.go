package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/terrawatch/eo-analyzer/internal/model"
	"github.com/terrawatch/eo-analyzer/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the analysis REST API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/runs", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Query      string `json:"query"`
				Keywords   string `json:"keywords"`
				Period     string `json:"period"`
				MaxResults int    `json:"max_results"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
				return
			}

			query := model.RunQuery{
				Keywords:   body.Keywords,
				Period:     body.Period,
				MaxResults: body.MaxResults,
			}
			// A free-text request is parsed into search parameters;
			// explicit fields win.
			if body.Query != "" && body.Keywords == "" {
				parsed, err := env.Pipeline.ParseQuery(req.Context(), body.Query)
				if err != nil {
					zap.L().Error("serve: failed to parse query", zap.Error(err))
					writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to parse query"})
					return
				}
				query.Keywords = parsed.Keywords
				if query.Period == "" {
					query.Period = parsed.Period
				}
				if query.MaxResults == 0 {
					query.MaxResults = parsed.MaxResults
				}
				query.Since, query.Until = parsed.Since, parsed.Until
			}

			run, err := env.Pipeline.Start(req.Context(), query)
			if err != nil {
				zap.L().Error("serve: failed to start run", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create run"})
				return
			}

			// Execute detached from the request context; the run
			// continues after the client disconnects.
			go func() {
				if _, err := env.Pipeline.Execute(context.WithoutCancel(ctx), run); err != nil {
					zap.L().Error("serve: run failed",
						zap.String("run_id", run.ID),
						zap.Error(err),
					)
				}
			}()

			writeJSON(w, http.StatusAccepted, run)
		})

		r.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
			limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
			runs, err := env.Store.ListRuns(req.Context(), limit)
			if err != nil {
				zap.L().Error("serve: list runs failed", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list runs"})
				return
			}
			writeJSON(w, http.StatusOK, runs)
		})

		r.Get("/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
			run, err := env.Store.GetRun(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				if eris.Is(err, store.ErrRunNotFound) {
					writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
					return
				}
				zap.L().Error("serve: get run failed", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get run"})
				return
			}
			writeJSON(w, http.StatusOK, run)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
