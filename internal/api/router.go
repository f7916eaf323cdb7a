package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/mikey/mail-trust/internal/classifier"
	"github.com/mikey/mail-trust/internal/classlog"
	"github.com/mikey/mail-trust/internal/feedback"
	"github.com/mikey/mail-trust/internal/reputation"
	"github.com/mikey/mail-trust/internal/rules"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	// UserHeader carries the authenticated user id set by the fronting gateway
	UserHeader = "X-User-ID"

	maxBodyBytes = 4 << 20
)

type contextKey string

const userKey contextKey = "user_id"

// Deps holds the services the API exposes
type Deps struct {
	Classifier *classifier.Service
	Feedback   *feedback.Service
	Senders    *reputation.SenderStore
	Domains    *reputation.DomainTracker
	Rules      *rules.Engine
	Stats      *classlog.Logger
	Logger     *zap.Logger
}

// Server serves the JSON API
type Server struct {
	classifier *classifier.Service
	feedback   *feedback.Service
	senders    *reputation.SenderStore
	domains    *reputation.DomainTracker
	rules      *rules.Engine
	stats      *classlog.Logger
	logger     *zap.Logger
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	return &Server{
		classifier: deps.Classifier,
		feedback:   deps.Feedback,
		senders:    deps.Senders,
		domains:    deps.Domains,
		rules:      deps.Rules,
		stats:      deps.Stats,
		logger:     deps.Logger,
	}
}

// Router wires all routes into a chi router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Operator endpoints
		r.Post("/admin/aggregate", s.handleAggregate)

		r.Group(func(r chi.Router) {
			r.Use(requireUser)

			r.Post("/classify", s.handleClassify)

			r.Post("/messages/{messageID}/feedback", s.handleFeedback)
			r.Post("/messages/{messageID}/spam", s.handleReportSpam)
			r.Post("/messages/{messageID}/phishing", s.handleReportPhishing)
			r.Post("/messages/{messageID}/not-spam", s.handleMarkNotSpam)
			r.Post("/messages/{messageID}/safe", s.handleMarkSafe)
			r.Post("/messages/{messageID}/rescan", s.handleRescan)

			r.Get("/senders/{sender}", s.handleSender)

			r.Post("/domains/actions", s.handleDomainAction)
			r.Get("/domains", s.handleListDomains)
			r.Get("/domains/{domain}", s.handleGetDomain)
			r.Put("/domains/{domain}/whitelist", s.handleWhitelist(true))
			r.Delete("/domains/{domain}/whitelist", s.handleWhitelist(false))
			r.Put("/domains/{domain}/blacklist", s.handleBlacklist(true))
			r.Delete("/domains/{domain}/blacklist", s.handleBlacklist(false))

			r.Get("/stats", s.handleStats)
			r.Get("/stats/daily/{day}", s.handleDailySummary)

			r.Get("/rules", s.handleListRules)
			r.Post("/rules", s.handleCreateRule)
			r.Post("/rules/defaults", s.handleEnsureDefaults)
			r.Post("/rules/run", s.handleRunAll)
			r.Get("/rules/{ruleID}", s.handleGetRule)
			r.Post("/rules/{ruleID}/toggle", s.handleToggleRule)
			r.Post("/rules/{ruleID}/run", s.handleRunRule)
			r.Get("/rules/{ruleID}/runs", s.handleRunLogs)
		})
	})

	return r
}

// requireUser rejects requests without a user id header
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserHeader)
		if userID == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"missing ` + UserHeader + ` header"}` + "\n"))
			return
		}
		ctx := context.WithValue(r.Context(), userKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(r *http.Request) string {
	userID, _ := r.Context().Value(userKey).(string)
	return userID
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", chiMiddleware.GetReqID(r.Context())))
	})
}
