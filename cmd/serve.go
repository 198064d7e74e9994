package main

import (
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

	"github.com/gavelhound/sourcing-cli/internal/ledger"
	"github.com/gavelhound/sourcing-cli/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read API for dashboards",
	Long:  "Serves matches and alerts over HTTP. Read-only except for alert acknowledgement.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(st),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func newRouter(st ledger.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/matches", func(w http.ResponseWriter, req *http.Request) {
		matches, err := st.ListMatches(req.Context(), ledger.MatchFilter{
			FingerprintID: req.URL.Query().Get("fingerprint"),
			Decision:      model.DecisionTier(req.URL.Query().Get("decision")),
			Limit:         queryLimit(req),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		if matches == nil {
			matches = []model.Match{}
		}
		writeJSON(w, http.StatusOK, matches)
	})

	r.Get("/alerts", func(w http.ResponseWriter, req *http.Request) {
		alerts, err := st.ListAlerts(req.Context(), ledger.AlertFilter{
			Unacknowledged: req.URL.Query().Get("unacked") == "true",
			Type:           model.AlertType(req.URL.Query().Get("type")),
			Limit:          queryLimit(req),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		if alerts == nil {
			alerts = []model.Alert{}
		}
		writeJSON(w, http.StatusOK, alerts)
	})

	r.Post("/alerts/{id}/ack", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		if err := st.AcknowledgeAlert(req.Context(), id, time.Now().UTC()); err != nil {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged", "id": id})
	})

	return r
}

func queryLimit(req *http.Request) int {
	limit, err := strconv.Atoi(req.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return 100
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	zap.L().Error("serve: request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
