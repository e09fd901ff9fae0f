package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/cymtrack/internal/config"
	"github.com/dukerupert/cymtrack/internal/handler"
	"github.com/dukerupert/cymtrack/internal/middleware"
	"github.com/dukerupert/cymtrack/internal/model"
	"github.com/dukerupert/cymtrack/internal/reminder"
	"github.com/dukerupert/cymtrack/internal/report"
	"github.com/dukerupert/cymtrack/internal/store"
	ws "github.com/dukerupert/cymtrack/internal/websocket"
)

const (
	loginRateLimit  = 10
	loginRateWindow = time.Minute
	cleanupInterval = time.Hour
)

type Server struct {
	db           *sql.DB
	hub          *ws.Hub
	memberH      *handler.MemberHandler
	adminH       *handler.AdminHandler
	pushH        *handler.PushHandler
	sessionStore *store.AdminSessionStore
	rateLimiter  *middleware.RateLimiter
	archiver     *report.Archiver
	scheduler    *reminder.Scheduler
	wsOrigins    []string
	logger       *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func New(db *sql.DB, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	hub := ws.NewHub(logger.With("component", "websocket"))

	submissionStore := store.NewSubmissionStore(db)
	sessionStore := store.NewAdminSessionStore(db)
	pushStore := store.NewPushStore(db)
	reportStore := store.NewReportStore(db)

	archiver := report.NewArchiver(report.Config{
		S3: report.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		},
		Passphrase:  cfg.ReportPassphrase,
		AutoPublish: cfg.ReportAutoPublish,
		Location:    cfg.Location,
	}, submissionStore, reportStore, func(action string, r model.ReportUpload) {
		hub.Broadcast(ws.ReportMessage(action, r))
	}, logger.With("component", "report"))

	var scheduler *reminder.Scheduler
	if cfg.PushEnabled() {
		svc := reminder.NewService(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubscriber)
		scheduler = reminder.NewScheduler(svc, pushStore, submissionStore, cfg.ReminderInterval, cfg.Location, logger.With("component", "reminder"))
	}

	adminH, err := handler.NewAdminHandler(submissionStore, sessionStore, hub, archiver,
		cfg.AdminPassword, cfg.AdminPasswordHash, cfg.Location, logger.With("component", "admin"))
	if err != nil {
		return nil, fmt.Errorf("admin handler: %w", err)
	}

	return &Server{
		db:           db,
		hub:          hub,
		memberH:      handler.NewMemberHandler(submissionStore, hub, logger.With("component", "member")),
		adminH:       adminH,
		pushH:        handler.NewPushHandler(pushStore, cfg.VAPIDPublicKey, logger.With("component", "push")),
		sessionStore: sessionStore,
		rateLimiter:  middleware.NewRateLimiter(),
		archiver:     archiver,
		scheduler:    scheduler,
		wsOrigins:    cfg.WSOriginPatterns,
		logger:       logger,
	}, nil
}

// SessionStore returns the admin session store for cleanup tasks.
func (s *Server) SessionStore() *store.AdminSessionStore {
	return s.sessionStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Start launches background work: reminders, report auto-publish and
// expired-session cleanup.
func (s *Server) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	if s.scheduler != nil {
		s.scheduler.Start(ctx)
	}
	s.archiver.Start(ctx, cleanupInterval)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Server) cleanup() {
	if n, err := s.sessionStore.DeleteExpired(); err != nil {
		s.logger.Error("cleanup expired sessions", "error", err)
	} else if n > 0 {
		s.logger.Info("cleaned up expired sessions", "count", n)
	}
	s.rateLimiter.Cleanup()
}

// Stop halts background work started by Start.
func (s *Server) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	s.archiver.Stop()
	<-s.done
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.HandleFunc("POST /api/join", s.memberH.Join)
	outerMux.HandleFunc("POST /api/leave", s.memberH.Leave)
	outerMux.HandleFunc("POST /api/admin/login", s.rateLimitedHandler(s.adminH.Login))
	outerMux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)

	// Member routes: name from header or cookie
	memberMux := http.NewServeMux()
	s.registerMemberRoutes(memberMux)
	outerMux.Handle("/api/me", middleware.RequireMember(memberMux))
	outerMux.Handle("/api/me/", middleware.RequireMember(memberMux))

	// Admin routes: server-side session
	adminMux := http.NewServeMux()
	s.registerAdminRoutes(adminMux)
	requireAdmin := middleware.RequireAdmin(s.sessionStore)
	outerMux.Handle("/api/admin/", requireAdmin(adminMux))
	outerMux.Handle("GET /ws", requireAdmin(ws.HandleWebSocket(s.hub, s.wsOrigins, s.logger.With("component", "websocket"))))

	var h http.Handler = outerMux
	h = middleware.RequestLogger(s.logger.With("component", "http"))(h)
	h = middleware.RequestID(h)
	return middleware.Recover(s.logger)(h)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{"status": status, "ws_clients": s.hub.ClientCount()})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.ByIP, loginRateLimit, loginRateWindow)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) registerMemberRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/me", s.memberH.Me)
	mux.HandleFunc("GET /api/me/periods/{year}/{month}", s.memberH.GetPeriod)
	mux.HandleFunc("POST /api/me/periods/{year}/{month}/submit", s.memberH.Submit)

	mux.HandleFunc("GET /api/me/push", s.pushH.ListSubscriptions)
	mux.HandleFunc("POST /api/me/push", s.pushH.Subscribe)
	mux.HandleFunc("DELETE /api/me/push", s.pushH.Unsubscribe)
}

func (s *Server) registerAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/admin/session", s.adminH.Session)
	mux.HandleFunc("POST /api/admin/logout", s.adminH.Logout)

	mux.HandleFunc("GET /api/admin/submissions", s.adminH.ListSubmissions)
	mux.HandleFunc("GET /api/admin/submissions/{id}", s.adminH.GetSubmission)
	mux.HandleFunc("POST /api/admin/submissions/{id}/archive", s.adminH.Archive)
	mux.HandleFunc("POST /api/admin/submissions/{id}/restore", s.adminH.Restore)
	mux.HandleFunc("DELETE /api/admin/submissions/{id}", s.adminH.Delete)
	mux.HandleFunc("GET /api/admin/export.csv", s.adminH.Export)

	mux.HandleFunc("GET /api/admin/reports", s.adminH.ListReports)
	mux.HandleFunc("POST /api/admin/reports", s.adminH.PublishReport)
	mux.HandleFunc("GET /api/admin/reports/{id}/download", s.adminH.DownloadReport)
}
