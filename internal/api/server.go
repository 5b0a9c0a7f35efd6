package api

import (
	"net/http"
	"strings"
	"time"

	billingapi "crm-automation-api/internal/api/billing"
	"crm-automation-api/internal/api/common"
	"crm-automation-api/internal/api/health"
	logapi "crm-automation-api/internal/api/log"
	relayapi "crm-automation-api/internal/api/relay"
	ruleapi "crm-automation-api/internal/api/rule"
	subscriptionapi "crm-automation-api/internal/api/subscription"
	"crm-automation-api/internal/auth"
	"crm-automation-api/internal/automation"
	"crm-automation-api/internal/billing"
	"crm-automation-api/internal/dispatch"
	"crm-automation-api/internal/relay"
	"crm-automation-api/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Dependencies bundelt alles wat de routes nodig hebben.
type Dependencies struct {
	Store          store.Storer
	DB             health.Pinger
	Automations    *automation.Service
	Relay          *relay.Service
	Billing        *billing.Receiver
	Issuer         *auth.Issuer
	Gatherer       prometheus.Gatherer
	PublicBaseURL  string
	AllowedOrigins []string
}

type Server struct {
	Router *chi.Mux
	Logger *zap.Logger
	deps   Dependencies
}

func NewServer(deps Dependencies, log *zap.Logger) *Server {
	server := &Server{
		Router: chi.NewRouter(),
		Logger: log,
		deps:   deps,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

func (s *Server) setupMiddleware() {
	s.Router.Use(middleware.RequestID)
	s.Router.Use(middleware.RealIP)
	s.Router.Use(s.requestLogger)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.deps.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", billing.SignatureHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	baseURL := s.deps.PublicBaseURL

	if s.deps.Gatherer != nil {
		s.Router.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	s.Router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", health.HandleHealth(s.deps.DB, s.Logger))

		// Provider webhooks authenticeren zich met hun handtekening, niet met een JWT.
		webhook := billingapi.HandleBillingWebhook(s.deps.Billing, s.Logger)
		r.Post("/billing/webhook", webhook)
		r.Options("/billing/webhook", webhook)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.With(s.requireRoles(auth.RelayCallers)).
				Post("/relay", relayapi.HandleRelay(s.deps.Relay, s.Logger))
			r.Get("/subscription", subscriptionapi.HandleGetSubscription(s.deps.Store, s.Logger))

			// Automations: alleen owner en admin
			r.Group(func(r chi.Router) {
				r.Use(s.requireRoles(auth.AutomationManagers))

				r.Get("/automations", ruleapi.HandleGetRules(s.deps.Automations, baseURL, s.Logger))
				r.Post("/automations", ruleapi.HandleCreateRule(s.deps.Automations, baseURL, s.Logger))
				r.Get("/automations/{id}", ruleapi.HandleGetRule(s.deps.Automations, baseURL, s.Logger))
				r.Patch("/automations/{id}", ruleapi.HandleUpdateRule(s.deps.Automations, baseURL, s.Logger))
				r.Delete("/automations/{id}", ruleapi.HandleDeleteRule(s.deps.Automations, s.Logger))
				r.Put("/automations/{id}/active", ruleapi.HandleToggleRule(s.deps.Automations, baseURL, s.Logger))
				r.Post("/automations/{id}/test", ruleapi.HandleTestRule(s.deps.Automations, baseURL, s.Logger))
				r.Get("/automations/{id}/logs", logapi.HandleGetAutomationLogs(s.deps.Automations, s.deps.Store, s.Logger))

				r.Post("/events", ruleapi.HandleTriggerEvent(s.deps.Automations, s.Logger))
			})
		})
	})
}

// authMiddleware valideert JWT en zet het lid en de sessie in de context
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			common.WriteJSONError(w, http.StatusUnauthorized, "Geen authenticatie header", s.Logger)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := s.deps.Issuer.Parse(tokenString)
		if err != nil {
			common.WriteJSONError(w, http.StatusUnauthorized, "Ongeldige token", s.Logger)
			return
		}

		member := claims.Principal()
		if !member.Role.Valid() {
			common.WriteJSONError(w, http.StatusUnauthorized, "Ongeldige claims", s.Logger)
			return
		}

		ctx := common.WithMember(r.Context(), member)
		ctx = dispatch.WithSession(ctx, tokenString)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRoles laat alleen leden met een van de rollen door.
func (s *Server) requireRoles(roles []auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			member, err := common.GetMemberFromContext(r.Context())
			if err != nil {
				common.WriteJSONError(w, http.StatusUnauthorized, err.Error(), s.Logger)
				return
			}
			if auth.Guard(roles, member) != auth.Allow {
				s.Logger.Info("role check denied",
					zap.String("role", string(member.Role)),
					zap.String("tenant_id", member.TenantID.String()),
					zap.String("path", r.URL.Path))
				common.WriteJSONError(w, http.StatusForbidden, "Onvoldoende rechten", s.Logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger logt elke request met status en duur.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.Logger.Debug("request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("component", "api"))
	})
}
