package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/dental-frontdesk/internal/compliance"
	"github.com/wolfman30/dental-frontdesk/internal/conversation"
	httpmiddleware "github.com/wolfman30/dental-frontdesk/internal/http/middleware"
	"github.com/wolfman30/dental-frontdesk/internal/tasks"
	"github.com/wolfman30/dental-frontdesk/internal/webchat"
	"github.com/wolfman30/dental-frontdesk/pkg/logging"
)

const (
	roleStaff = "staff"
	roleAdmin = "admin"
)

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	WebchatHandler      *webchat.Handler
	ConversationHandler *conversation.Handler
	TasksHandler        *tasks.Handler
	AuditHandler        *compliance.Handler // optional, needs DATABASE_URL
	MetricsHandler      http.Handler
	RateLimiter         *httpmiddleware.RateLimiter
	StaffJWTSecret      string
	CORSAllowedOrigins  []string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}

	r.Get("/health", healthCheck)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Patient-facing endpoints
	r.Group(func(patient chi.Router) {
		if cfg.RateLimiter != nil {
			patient.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
		}
		patient.Route("/webchat", func(r chi.Router) {
			r.Post("/message", cfg.WebchatHandler.HandleMessage)
			r.Get("/ws", cfg.WebchatHandler.HandleWebSocket)
			r.Get("/history", cfg.WebchatHandler.HandleHistory)
		})
		patient.Route("/conversations/{conversationID}", func(r chi.Router) {
			r.Post("/end", cfg.ConversationHandler.EndSession)
			r.Post("/escalate", cfg.ConversationHandler.RetryEscalation)
		})
	})

	r.Route("/staff", func(staff chi.Router) {
		staff.Use(httpmiddleware.StaffJWT(cfg.StaffJWTSecret, roleStaff, roleAdmin))
		staff.Get("/tasks", cfg.TasksHandler.ListTasks)
		staff.Get("/tasks/{taskID}", cfg.TasksHandler.GetTask)
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(httpmiddleware.StaffJWT(cfg.StaffJWTSecret, roleAdmin))
		admin.Get("/conversations/{conversationID}", cfg.ConversationHandler.GetConversation)
		if cfg.AuditHandler != nil {
			admin.Get("/audit", cfg.AuditHandler.ListEvents)
		}
	})

	return r
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
