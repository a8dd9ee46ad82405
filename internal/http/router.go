package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ethaniconic/Swalambh-mvp/internal/repository"
	"github.com/Ethaniconic/Swalambh-mvp/internal/service/analyze"
	"github.com/Ethaniconic/Swalambh-mvp/internal/service/auth"
	"github.com/Ethaniconic/Swalambh-mvp/internal/service/triage"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux     *http.ServeMux
	logger  *slog.Logger
	auth    auth.Service
	triage  triage.Service
	analyze analyze.Service
	limiter RateLimiter

	dbHealth func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateLimitSignup    = 5
	rateLimitLogin     = 12
	rateLimitForgot    = 5
	rateLimitUserWrite = 60
	rateLimitUserRead  = 120
	rateLimitAnalyze   = 30
	healthCheckTimeout = 2 * time.Second

	// Multipart envelope slack on top of the upload cap. The real byte
	// budget is enforced by the triage service; this only stops runaway
	// request bodies before they hit the multipart parser.
	uploadBodySlack = 1 << 20
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, triageSvc triage.Service, analyzeSvc analyze.Service, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		auth:     authSvc,
		triage:   triageSvc,
		analyze:  analyzeSvc,
		limiter:  limiter,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/health", r.audit("/health", r.handleHealth))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/auth/signup", r.audit("/auth/signup", r.withRateLimit("/auth/signup", rateLimitSignup, rateWindowDefault, rateLimitKeyIP, r.handleSignup)))
	r.mux.HandleFunc("/auth/login", r.audit("/auth/login", r.withRateLimit("/auth/login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/auth/forgot", r.audit("/auth/forgot", r.withRateLimit("/auth/forgot", rateLimitForgot, rateWindowDefault, rateLimitKeyIP, r.handleForgot)))
	r.mux.HandleFunc("/triage/upload", r.audit("/triage/upload", r.handlerAuthRate("/triage/upload", rateLimitUserWrite, rateWindowDefault, r.handleUpload)))
	r.mux.HandleFunc("/triage/cases", r.audit("/triage/cases", r.handlerAuthRate("/triage/cases", rateLimitUserRead, rateWindowDefault, r.handleListCases)))
	r.mux.HandleFunc("/triage/cases/", r.audit("/triage/cases/{id}", r.handlerAuthRate("/triage/cases/{id}", rateLimitUserRead, rateWindowDefault, r.handleGetCase)))
	r.mux.HandleFunc("/predict", r.audit("/predict", r.handlerAuthRate("/predict", rateLimitAnalyze, rateWindowDefault, r.handlePredict)))
	r.mux.HandleFunc("/explain", r.audit("/explain", r.handlerAuthRate("/explain", rateLimitAnalyze, rateWindowDefault, r.handleExplain)))
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string  `json:"email"`
		Password string  `json:"password"`
		FullName *string `json:"full_name"`
		Role     *string `json:"role"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	user, err := r.auth.Signup(req.Context(), payload.Email, payload.Password, payload.FullName, payload.Role)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidEmail):
			writeError(w, http.StatusUnprocessableEntity, "Invalid email format")
		case errors.Is(err, auth.ErrPasswordTooShort):
			writeError(w, http.StatusUnprocessableEntity, "Password must be at least 8 characters")
		case errors.Is(err, auth.ErrEmailTaken):
			writeError(w, http.StatusConflict, "Email already registered")
		default:
			r.internalError(w, req, err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, user.Public())
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if payload.Email == "" || payload.Password == "" {
		writeError(w, http.StatusUnprocessableEntity, "Email and password are required")
		return
	}
	user, token, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		r.internalError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"user":         user.Public(),
	})
}

func (r *Router) handleForgot(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(payload.Email) == "" {
		writeError(w, http.StatusUnprocessableEntity, "Email is required")
		return
	}
	// The response is constant whether or not the email is registered, and
	// even when the store write fails. Existence must not be observable here.
	if err := r.auth.Forgot(req.Context(), payload.Email); err != nil {
		r.logger.Error("forgot password failed", "error", err)
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "If the account exists, a reset link will be sent.",
	})
}

func (r *Router) handleUpload(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	req.Body = http.MaxBytesReader(w, req.Body, triage.MaxUploadBytes+uploadBodySlack)
	file, header, err := req.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	var note *string
	if value := req.FormValue("note"); value != "" {
		note = &value
	}
	contentType := header.Header.Get("Content-Type")
	record, err := r.triage.Upload(req.Context(), file, contentType, header.Size, header.Filename, note)
	if err != nil {
		switch {
		case errors.Is(err, triage.ErrUnsupportedMedia):
			writeError(w, http.StatusUnsupportedMediaType, "Only image uploads are supported")
		case errors.Is(err, triage.ErrTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "File exceeds 10MB limit")
		case errors.Is(err, triage.ErrEmptyUpload):
			writeError(w, http.StatusBadRequest, "No file uploaded")
		default:
			r.internalError(w, req, err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, record.Public())
}

func (r *Router) handleListCases(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	// Non-numeric values fall back to defaults; the service clamps ranges.
	skip, err := strconv.Atoi(req.URL.Query().Get("skip"))
	if err != nil {
		skip = 0
	}
	limit, err := strconv.Atoi(req.URL.Query().Get("limit"))
	if err != nil {
		limit = triage.DefaultListLimit
	}
	cases, err := r.triage.List(req.Context(), skip, limit)
	if err != nil {
		r.internalError(w, req, err)
		return
	}
	views := make([]any, 0, len(cases))
	for i := range cases {
		views = append(views, cases[i].Public())
	}
	writeJSON(w, http.StatusOK, views)
}

func (r *Router) handleGetCase(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(req.URL.Path, "/triage/cases/")
	if id == "" || strings.Contains(id, "/") {
		r.notFound(w)
		return
	}
	record, err := r.triage.Get(req.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, triage.ErrInvalidID):
			writeError(w, http.StatusBadRequest, "Invalid case id")
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "Case not found")
		default:
			r.internalError(w, req, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, record.Public())
}

func (r *Router) handlePredict(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	req.Body = http.MaxBytesReader(w, req.Body, triage.MaxUploadBytes+uploadBodySlack)
	file, header, err := req.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	payload, err := r.analyze.Predict(req.Context(), file, contentType, header.Filename, req.FormValue("symptoms"))
	if err != nil {
		switch {
		case errors.Is(err, analyze.ErrInvalidType):
			writeError(w, http.StatusBadRequest, "Invalid file type: "+contentType)
		case errors.Is(err, analyze.ErrTooLarge):
			writeError(w, http.StatusBadRequest, "File too large (max 10MB)")
		case errors.Is(err, analyze.ErrEngine):
			writeError(w, http.StatusBadGateway, "Analysis engine unavailable")
		default:
			r.internalError(w, req, err)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (r *Router) handleExplain(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var report json.RawMessage
	if err := json.NewDecoder(req.Body).Decode(&report); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	explanation, err := r.analyze.Explain(req.Context(), report)
	if err != nil {
		switch {
		case errors.Is(err, analyze.ErrDisabled):
			writeError(w, http.StatusServiceUnavailable, "Explanation service not configured")
		case errors.Is(err, analyze.ErrEngine):
			writeError(w, http.StatusBadGateway, "Explanation service unavailable")
		default:
			r.internalError(w, req, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"explanation": explanation})
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// audit wraps a handler with access logging and request metrics.
func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

// internalError hides internal failure detail from clients.
func (r *Router) internalError(w http.ResponseWriter, req *http.Request, err error) {
	r.logger.Error("request failed", "path", req.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "Not found")
}
