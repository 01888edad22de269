package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"ledgersync/internal/config"
	"ledgersync/internal/database"
	"ledgersync/internal/events"
	"ledgersync/internal/export"
	"ledgersync/internal/models"
	"ledgersync/internal/queue"
	"ledgersync/internal/token"
)

// HTTPServer exposes the operator API: entity intake, queue management,
// audit inspection and the ledger connect flow.
type HTTPServer struct {
	cfg     config.APIConfig
	db      *database.DB
	queue   *queue.Queue
	tokens  *token.Manager
	exports *export.Service
	bus     *events.EventBus
	logger  *zerolog.Logger
	server  *http.Server
	auth    *HTTPAuth
}

func NewHTTPServer(
	cfg config.APIConfig,
	db *database.DB,
	q *queue.Queue,
	tokens *token.Manager,
	exports *export.Service,
	bus *events.EventBus,
	logger *zerolog.Logger,
) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{
		cfg:     cfg,
		db:      db,
		queue:   q,
		tokens:  tokens,
		exports: exports,
		bus:     bus,
		logger:  logger,
	}
	srv.auth = NewHTTPAuth(cfg)

	mux.HandleFunc("/api/v1/clients", srv.handleClients)
	mux.HandleFunc("/api/v1/invoices", srv.handleInvoices)
	mux.HandleFunc("/api/v1/purchase-orders", srv.handlePurchaseOrders)
	mux.HandleFunc("/api/v1/sync/enqueue", srv.handleEnqueue)
	mux.HandleFunc("/api/v1/sync/jobs/failed", srv.handleFailedJobs)
	mux.HandleFunc("/api/v1/sync/jobs/", srv.handleJob)
	mux.HandleFunc("/api/v1/audit/", srv.handleAudit)
	mux.HandleFunc("/api/v1/export/failed", srv.handleExportFailed)
	mux.HandleFunc("/api/v1/ledger/connect", srv.handleConnect)
	mux.HandleFunc("/healthz", srv.handleHealthz)
	mux.HandleFunc("/readyz", srv.handleReadyz)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleClients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	type request struct {
		Name            string  `json:"name"`
		Email           string  `json:"email"`
		LedgerContactID *string `json:"ledger_contact_id"`
	}

	var body request
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	client := &models.Client{
		Name:            strings.TrimSpace(body.Name),
		Email:           strings.TrimSpace(body.Email),
		LedgerContactID: body.LedgerContactID,
	}
	if err := s.db.CreateClient(r.Context(), client); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create client")
		return
	}

	writeJSON(w, http.StatusCreated, client)
}

func (s *HTTPServer) handleInvoices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	type request struct {
		ClientID   int64  `json:"client_id"`
		Number     string `json:"number"`
		TotalCents int64  `json:"total_cents"`
		Currency   string `json:"currency"`
		IssueDate  string `json:"issue_date"`
		DueDate    string `json:"due_date"`
	}

	var body request
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.ClientID <= 0 {
		writeError(w, http.StatusBadRequest, "client_id is required")
		return
	}
	if strings.TrimSpace(body.Number) == "" {
		writeError(w, http.StatusBadRequest, "number is required")
		return
	}

	issueDate, err := parseDate(body.IssueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid issue_date; expected YYYY-MM-DD")
		return
	}
	dueDate, err := parseDate(body.DueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid due_date; expected YYYY-MM-DD")
		return
	}

	if _, err := s.db.GetClient(r.Context(), body.ClientID); err != nil {
		if errors.Is(err, database.ErrEntityNotFound) {
			writeError(w, http.StatusBadRequest, "client not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load client")
		return
	}

	inv := &models.Invoice{
		ClientID:   body.ClientID,
		Number:     strings.TrimSpace(body.Number),
		TotalCents: body.TotalCents,
		Currency:   strings.ToUpper(strings.TrimSpace(body.Currency)),
		IssueDate:  issueDate,
		DueDate:    dueDate,
		SyncStatus: models.SyncStatusUnsynced,
	}
	if err := s.db.CreateInvoice(r.Context(), inv); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create invoice")
		return
	}

	if err := s.bus.PublishJSON(events.EventInvoiceCreated, events.EntityEventPayload{
		EntityType: models.EntityInvoice,
		EntityID:   inv.ID,
		ClientID:   inv.ClientID,
		Number:     inv.Number,
	}); err != nil {
		s.logger.Warn().Err(err).Int64("invoice_id", inv.ID).Msg("failed to publish invoice event")
	}

	writeJSON(w, http.StatusCreated, inv)
}

func (s *HTTPServer) handlePurchaseOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	type request struct {
		SupplierID   int64  `json:"supplier_id"`
		Number       string `json:"number"`
		TotalCents   int64  `json:"total_cents"`
		Currency     string `json:"currency"`
		DeliveryDate string `json:"delivery_date"`
	}

	var body request
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.SupplierID <= 0 {
		writeError(w, http.StatusBadRequest, "supplier_id is required")
		return
	}
	if strings.TrimSpace(body.Number) == "" {
		writeError(w, http.StatusBadRequest, "number is required")
		return
	}

	deliveryDate, err := parseDate(body.DeliveryDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery_date; expected YYYY-MM-DD")
		return
	}

	if _, err := s.db.GetClient(r.Context(), body.SupplierID); err != nil {
		if errors.Is(err, database.ErrEntityNotFound) {
			writeError(w, http.StatusBadRequest, "supplier not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load supplier")
		return
	}

	po := &models.PurchaseOrder{
		SupplierID:   body.SupplierID,
		Number:       strings.TrimSpace(body.Number),
		TotalCents:   body.TotalCents,
		Currency:     strings.ToUpper(strings.TrimSpace(body.Currency)),
		DeliveryDate: deliveryDate,
		SyncStatus:   models.SyncStatusUnsynced,
	}
	if err := s.db.CreatePurchaseOrder(r.Context(), po); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create purchase order")
		return
	}

	if err := s.bus.PublishJSON(events.EventPurchaseOrderCreated, events.EntityEventPayload{
		EntityType: models.EntityPurchaseOrder,
		EntityID:   po.ID,
		ClientID:   po.SupplierID,
		Number:     po.Number,
	}); err != nil {
		s.logger.Warn().Err(err).Int64("purchase_order_id", po.ID).Msg("failed to publish purchase order event")
	}

	writeJSON(w, http.StatusCreated, po)
}

func (s *HTTPServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	type request struct {
		JobType    string `json:"job_type"`
		EntityType string `json:"entity_type"`
		EntityID   int64  `json:"entity_id"`
	}

	var body request
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.EntityID <= 0 {
		writeError(w, http.StatusBadRequest, "entity_id is required")
		return
	}

	jobType := strings.TrimSpace(body.JobType)
	entityType := strings.TrimSpace(body.EntityType)
	if jobType == "" {
		switch entityType {
		case models.EntityInvoice:
			jobType = models.JobPushInvoice
		case models.EntityPurchaseOrder:
			jobType = models.JobPushPurchaseOrder
		default:
			writeError(w, http.StatusBadRequest, "job_type or entity_type is required")
			return
		}
	}

	jobID, err := s.queue.Enqueue(r.Context(), jobType, entityType, body.EntityID, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": jobID})
}

func (s *HTTPServer) handleFailedJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	jobs, err := s.db.GetFailedJobs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// handleJob routes /api/v1/sync/jobs/{id} and /api/v1/sync/jobs/{id}/retry.
func (s *HTTPServer) handleJob(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/sync/jobs/"
	rest := strings.TrimPrefix(r.URL.Path, prefix)

	if idStr, ok := strings.CutSuffix(rest, "/retry"); ok {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		jobID, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
		if err != nil || jobID <= 0 {
			writeError(w, http.StatusBadRequest, "invalid job id")
			return
		}
		if err := s.queue.ResetFailed(r.Context(), jobID); err != nil {
			if errors.Is(err, database.ErrJobNotFound) {
				writeError(w, http.StatusNotFound, "job not found or not failed")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to reset job")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "status": models.JobStatusPending})
		return
	}

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jobID, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	if err != nil || jobID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := s.db.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, database.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleAudit serves /api/v1/audit/{entityType}/{entityID}, newest first.
func (s *HTTPServer) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	const prefix = "/api/v1/audit/"
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if len(parts) != 2 {
		writeError(w, http.StatusBadRequest, "expected /api/v1/audit/{entity_type}/{entity_id}")
		return
	}

	entityType := strings.TrimSpace(parts[0])
	if entityType != models.EntityInvoice && entityType != models.EntityPurchaseOrder {
		writeError(w, http.StatusBadRequest, "unknown entity type")
		return
	}
	entityID, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil || entityID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid entity id")
		return
	}

	entries, err := s.db.ListAuditEntries(r.Context(), entityType, entityID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *HTTPServer) handleExportFailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	path, err := s.exports.FailedJobs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build export")
		return
	}
	defer os.Remove(path)

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

// handleConnect serves the OAuth connect flow: GET returns the consent URL,
// POST exchanges an authorization code for the tenant's first token pair.
func (s *HTTPServer) handleConnect(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		state := uuid.NewString()
		writeJSON(w, http.StatusOK, map[string]string{
			"url":   s.tokens.AuthCodeURL(state),
			"state": state,
		})
	case http.MethodPost:
		type request struct {
			TenantID   string `json:"tenant_id"`
			TenantName string `json:"tenant_name"`
			Code       string `json:"code"`
		}
		var body request
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(body.TenantID) == "" || strings.TrimSpace(body.Code) == "" {
			writeError(w, http.StatusBadRequest, "tenant_id and code are required")
			return
		}
		if err := s.tokens.ConnectTenant(r.Context(), body.TenantID, body.TenantName, body.Code); err != nil {
			writeError(w, http.StatusBadGateway, "token exchange failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"tenant_id": body.TenantID, "status": "connected"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	health := s.queue.Health(r.Context())
	status := http.StatusOK
	if !health.DatabaseOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	cfg      config.APIConfig
	limiters sync.Map // map[string]*rate.Limiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	return &HTTPAuth{cfg: cfg}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isProbe(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			if err := a.checkAuth(r); err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
		}

		if err := a.checkRateLimit(r); err != nil {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isProbe(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

func (a *HTTPAuth) checkAuth(r *http.Request) error {
	apiKey := strings.TrimSpace(r.Header.Get(a.headerName()))
	if apiKey == "" {
		return fmt.Errorf("missing api key header")
	}

	for _, k := range a.cfg.Auth.APIKeys {
		if subtle.ConstantTimeCompare([]byte(k.Key), []byte(apiKey)) == 1 {
			return nil
		}
	}
	return fmt.Errorf("invalid api key")
}

func (a *HTTPAuth) headerName() string {
	h := strings.TrimSpace(strings.ToLower(a.cfg.Auth.HeaderAPIKey))
	if h == "" {
		h = "x-api-key"
	}
	return h
}

func (a *HTTPAuth) checkRateLimit(r *http.Request) error {
	if a.cfg.RateLimit.RPS <= 0 {
		return nil
	}

	lim := a.getLimiter(a.clientKey(r))
	if !lim.Allow() {
		return fmt.Errorf("rate limit exceeded")
	}
	return nil
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.headerName())); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return "unknown"
}

func (a *HTTPAuth) getLimiter(key string) *rate.Limiter {
	if v, ok := a.limiters.Load(key); ok {
		return v.(*rate.Limiter)
	}

	burst := a.cfg.RateLimit.Burst
	if burst <= 0 {
		burst = 5
	}

	lim := rate.NewLimiter(rate.Limit(a.cfg.RateLimit.RPS), burst)
	actual, loaded := a.limiters.LoadOrStore(key, lim)
	if loaded {
		return actual.(*rate.Limiter)
	}
	return lim
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func parseDate(raw string) (time.Time, error) {
	return time.Parse("2006-01-02", strings.TrimSpace(raw))
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
