package rpc

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"tiersale/core"
	"tiersale/observability"
	"tiersale/observability/logging"
)

const (
	jsonRPCVersion      = "2.0"
	defaultMaxBodyBytes = 1 << 20 // 1 MiB
	requestIDHeader     = "X-Request-ID"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// ServerConfig carries the transport limits of the JSON-RPC server.
type ServerConfig struct {
	// AuthToken is the bearer token required by state-changing methods. An
	// empty token rejects them all.
	AuthToken          string
	RateLimitPerSecond float64
	RateBurst          int
	TrustedProxies     []string
	MaxBodyBytes       int64
	ReadHeaderTimeout  time.Duration
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	EnableFaucet       bool
	// TracerProvider overrides the global provider for request spans.
	TracerProvider     trace.TracerProvider
}

type Server struct {
	node    *core.Node
	cfg     ServerConfig
	logger  *slog.Logger
	limiter *sourceLimiter
	trusted map[string]struct{}
	router  chi.Router
	handler http.Handler

	serverMu   sync.Mutex
	httpServer *http.Server
}

func NewServer(node *core.Node, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	cfg.AuthToken = strings.TrimSpace(cfg.AuthToken)
	trusted := make(map[string]struct{}, len(cfg.TrustedProxies))
	for _, proxy := range cfg.TrustedProxies {
		if trimmed := strings.TrimSpace(proxy); trimmed != "" {
			trusted[trimmed] = struct{}{}
		}
	}
	s := &Server{
		node:    node,
		cfg:     cfg,
		logger:  logger,
		limiter: newSourceLimiter(cfg.RateLimitPerSecond, cfg.RateBurst),
		trusted: trusted,
	}
	s.router = s.routes()
	opts := []otelhttp.Option{
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	}
	if cfg.TracerProvider != nil {
		opts = append(opts, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}
	s.handler = otelhttp.NewHandler(s.router, "saled", opts...)
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(withRequestID)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	r.Post("/rpc", s.handle)
	return r
}

// Handler returns the traced router.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens on addr and serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.logger.Info("starting JSON-RPC server", slog.String("addr", listener.Addr().String()))
	return s.Serve(listener)
}

// Serve accepts connections on listener.
func (s *Server) Serve(listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}
	s.serverMu.Lock()
	s.httpServer = srv
	s.serverMu.Unlock()
	return srv.Serve(listener)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	srv := s.httpServer
	s.serverMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

type requestIDKey struct{}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`

	status int
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func responseID(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	reader := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", s.cfg.MaxBodyBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	id := responseID(req.ID)
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, id, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, id, codeInvalidRequest, "method required", nil)
		return
	}

	module := moduleOf(req.Method)
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.method", req.Method),
		attribute.String("rpc.request_id", requestID(r.Context())),
	)
	source := s.clientSource(r)
	if !s.limiter.Allow(source) {
		observability.ModuleMetrics().RecordThrottle(module, "rate_limit")
		writeError(w, http.StatusTooManyRequests, id, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	result, rpcErr := s.dispatch(r, req)
	code := 0
	if rpcErr != nil {
		code = rpcErr.Code
		span.SetAttributes(attribute.Int("rpc.jsonrpc.error_code", code))
		writeError(w, rpcErr.status, id, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	} else {
		writeResult(w, id, result)
	}
	observability.ModuleMetrics().Observe(module, req.Method, code, time.Since(started))
	s.logger.Debug("rpc request",
		slog.String("request_id", requestID(r.Context())),
		slog.String("method", req.Method),
		logging.MaskField("client", source),
		slog.Int("code", code),
		slog.Duration("duration", time.Since(started)))
}

type methodHandler func(s *Server, r *http.Request, req *RPCRequest) (interface{}, *RPCError)

type method struct {
	handler methodHandler
	auth    bool
	faucet  bool
}

var methods = map[string]method{
	"sale_start":             {handler: (*Server).handleSaleStart, auth: true},
	"sale_buy":               {handler: (*Server).handleSaleBuy, auth: true},
	"sale_claim":             {handler: (*Server).handleSaleClaim, auth: true},
	"sale_withdraw":          {handler: (*Server).handleSaleWithdraw, auth: true},
	"sale_whitelistAdd":      {handler: (*Server).handleSaleWhitelistAdd, auth: true},
	"sale_whitelistRemove":   {handler: (*Server).handleSaleWhitelistRemove, auth: true},
	"sale_changeOwner":       {handler: (*Server).handleSaleChangeOwner, auth: true},
	"sale_setPaused":         {handler: (*Server).handleSaleSetPaused, auth: true},
	"sale_config":            {handler: (*Server).handleSaleConfig},
	"sale_count":             {handler: (*Server).handleSaleCount},
	"sale_get":               {handler: (*Server).handleSaleGet},
	"sale_list":              {handler: (*Server).handleSaleList},
	"sale_inWhitelist":       {handler: (*Server).handleSaleInWhitelist},
	"sale_whitelist":         {handler: (*Server).handleSaleWhitelist},
	"sale_ownedBy":           {handler: (*Server).handleSaleOwnedBy},
	"sale_userInfo":          {handler: (*Server).handleSaleUserInfo},
	"sale_purchases":         {handler: (*Server).handleSalePurchases},
	"sale_archivedPurchases": {handler: (*Server).handleSaleArchivedPurchases},
	"sale_activeSales":       {handler: (*Server).handleSaleActiveSales},
	"token_balance":          {handler: (*Server).handleTokenBalance},
	"token_holders":          {handler: (*Server).handleTokenHolders},
	"token_approve":          {handler: (*Server).handleTokenApprove, auth: true},
	"token_transfer":         {handler: (*Server).handleTokenTransfer, auth: true},
	"faucet_mint":            {handler: (*Server).handleFaucetMint, auth: true, faucet: true},
	"faucet_setTier":         {handler: (*Server).handleFaucetSetTier, auth: true, faucet: true},
}

func (s *Server) dispatch(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	m, ok := methods[req.Method]
	if !ok || (m.faucet && !s.cfg.EnableFaucet) {
		return nil, &RPCError{status: http.StatusNotFound, Code: codeMethodNotFound, Message: fmt.Sprintf("method %s not found", req.Method)}
	}
	if m.auth {
		if authErr := s.requireAuth(r); authErr != nil {
			return nil, authErr
		}
	}
	if s.node == nil {
		return nil, &RPCError{status: http.StatusServiceUnavailable, Code: codeServerError, Message: "node unavailable"}
	}
	return m.handler(s, r, req)
}

func moduleOf(method string) string {
	if idx := strings.IndexByte(method, '_'); idx > 0 {
		return method[:idx]
	}
	return method
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	unauthorized := func(message string) *RPCError {
		return &RPCError{status: http.StatusUnauthorized, Code: codeUnauthorized, Message: message}
	}
	if s.cfg.AuthToken == "" {
		return unauthorized("RPC authentication token not configured")
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return unauthorized("missing Authorization header")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return unauthorized("Authorization header must use Bearer scheme")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return unauthorized("missing bearer token")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
		return unauthorized("invalid RPC credentials")
	}
	return nil
}

// clientSource identifies the caller for rate limiting. X-Forwarded-For is
// only honoured when the direct peer is a trusted proxy.
func (s *Server) clientSource(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if _, ok := s.trusted[host]; !ok {
		return host
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		candidate := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if parsed := net.ParseIP(candidate); parsed != nil {
			return parsed.String()
		}
	}
	return host
}
