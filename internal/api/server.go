package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/agenticai/healthguard/internal/auth"
	"github.com/agenticai/healthguard/internal/config"
	"github.com/agenticai/healthguard/internal/health"
	"github.com/agenticai/healthguard/internal/logging"
	"github.com/agenticai/healthguard/internal/notify"
	"github.com/agenticai/healthguard/internal/patients"
	"github.com/agenticai/healthguard/internal/workflow"
	"github.com/agenticai/healthguard/pkg/metrics"
)

type Server struct {
	config        *config.Config
	workflowMgr   *workflow.Manager
	patientRepo   patients.Repository
	hub           *notify.Hub
	authenticator *auth.Authenticator
	monitor       *health.Monitor
}

type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func NewServer(cfg *config.Config, workflowMgr *workflow.Manager, patientRepo patients.Repository, hub *notify.Hub, authenticator *auth.Authenticator) *Server {
	return &Server{
		config:        cfg,
		workflowMgr:   workflowMgr,
		patientRepo:   patientRepo,
		hub:           hub,
		authenticator: authenticator,
	}
}

// AttachMonitor makes the readiness endpoint report dependency probe
// results instead of a static ok.
func (s *Server) AttachMonitor(monitor *health.Monitor) {
	s.monitor = monitor
}

// Router builds the HTTP handler; split out from Start so tests can
// drive it through httptest.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.Use(s.loggingMiddleware)

	// Public endpoints (no auth required)
	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")
	r.HandleFunc("/auth/login", s.loginHandler).Methods("POST")
	r.HandleFunc("/ws/workflows/{id}", s.workflowEventsHandler).Methods("GET")

	// Protected API endpoints
	api := r.PathPrefix("/").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/workflows", s.createWorkflowHandler).Methods("POST")
	api.HandleFunc("/workflows", s.listWorkflowsHandler).Methods("GET")
	api.HandleFunc("/workflows/{id}/status", s.getStatusHandler).Methods("GET")
	api.HandleFunc("/workflows/{id}/results", s.getResultsHandler).Methods("GET")
	api.HandleFunc("/workflows/{id}", s.cancelWorkflowHandler).Methods("DELETE")

	api.HandleFunc("/patients", s.createPatientHandler).Methods("POST")
	api.HandleFunc("/patients", s.listPatientsHandler).Methods("GET")
	api.HandleFunc("/patients/{id}", s.getPatientHandler).Methods("GET")
	api.HandleFunc("/patients/{id}", s.updatePatientHandler).Methods("PUT")

	c := cors.New(cors.Options{
		AllowedOrigins: s.config.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(r)
}

func (s *Server) Start() error {
	addr := s.config.ServerAddr()
	fmt.Printf("HealthGuard API listening on %s\n", addr)
	return http.ListenAndServe(addr, s.Router())
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		s.sendResponse(w, http.StatusOK, Response{
			Success: true,
			Message: "Service is healthy",
			Data:    map[string]string{"status": "ok"},
		})
		return
	}

	statusCode := http.StatusOK
	message := "Service is healthy"
	if !s.monitor.Healthy() {
		statusCode = http.StatusServiceUnavailable
		message = "One or more dependencies are unhealthy"
	}
	s.sendResponse(w, statusCode, Response{
		Success: statusCode == http.StatusOK,
		Message: message,
		Data:    s.monitor.Snapshot(),
	})
}

// loginHandler exchanges configured operator credentials for a bearer
// token
func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &creds); err != nil || creds.Username == "" {
		s.sendError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	hash, ok := s.config.Security.Users[creds.Username]
	if !ok || !auth.CheckPassword(hash, creds.Password) {
		logging.Warn("api", "Login rejected", map[string]interface{}{
			"username": creds.Username,
			"ip":       s.getClientIP(r),
		})
		s.sendError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := s.authenticator.IssueToken(creds.Username, "operator")
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	logging.AuditLog(logging.AuditEntry{
		UserID:    creds.Username,
		Action:    "login",
		Resource:  "token",
		Result:    "success",
		IP:        s.getClientIP(r),
		UserAgent: r.UserAgent(),
	})

	s.sendResponse(w, http.StatusOK, Response{
		Success: true,
		Message: "Login successful",
		Data:    map[string]string{"token": token},
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if strings.HasPrefix(token, "Bearer ") {
			token = token[7:]
		}

		if token == "" {
			s.sendError(w, http.StatusUnauthorized, "Missing authorization token")
			return
		}

		claims, err := s.authenticator.VerifyToken(token)
		if err != nil {
			s.sendError(w, http.StatusUnauthorized, "Invalid authorization token")
			return
		}

		ctx := auth.WithClaims(r.Context(), claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		fmt.Printf("[%s] %s %s %d\n", r.Method, r.URL.Path, r.RemoteAddr, rec.status)
		metrics.HTTPRequest(r.Method, routePattern(r), strconv.Itoa(rec.status))
	})
}

// statusRecorder captures the response code for the access log and
// request counter
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// routePattern returns the mux route template so metrics are not
// exploded by per-workflow path values.
func routePattern(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

func (s *Server) sendResponse(w http.ResponseWriter, statusCode int, response Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

func (s *Server) sendError(w http.ResponseWriter, statusCode int, message string) {
	s.sendResponse(w, statusCode, Response{
		Success: false,
		Message: message,
	})
}

// sendWorkflowError translates the error taxonomy into HTTP codes
func (s *Server) sendWorkflowError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch workflow.KindOf(err) {
	case workflow.KindInvalidRequest:
		status = http.StatusBadRequest
	case workflow.KindNotFound:
		status = http.StatusNotFound
	case workflow.KindNotReady, workflow.KindConflict:
		status = http.StatusConflict
	}
	s.sendError(w, status, err.Error())
}

func (s *Server) getUserID(r *http.Request) string {
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		return claims.Subject
	}
	return "anonymous"
}

func (s *Server) getClientIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		ips := strings.Split(forwarded, ",")
		return strings.TrimSpace(ips[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

var errInvalidBody = errors.New("invalid request body")

func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errInvalidBody
	}
	return nil
}
