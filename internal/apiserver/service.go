package apiserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coldbell/perps/backend/internal/config"
	"github.com/coldbell/perps/backend/internal/perps"
)

type Service struct {
	cfg              config.APIServerConfig
	logger           *slog.Logger
	engine           *perps.Engine
	funder           perps.Funder
	allowAllOrigins  bool
	allowedOriginSet map[string]struct{}
}

// NewWithEngine wires the HTTP surface to engine. funder may be nil, which
// disables the admin fund route.
func NewWithEngine(cfg config.APIServerConfig, engine *perps.Engine, funder perps.Funder, logger *slog.Logger) (*Service, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}

	allowAllOrigins := false
	allowedOriginSet := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAllOrigins = true
			continue
		}
		allowedOriginSet[trimmed] = struct{}{}
	}
	if len(allowedOriginSet) == 0 && !allowAllOrigins {
		allowAllOrigins = true
	}

	return &Service{
		cfg:              cfg,
		logger:           logger,
		engine:           engine,
		funder:           funder,
		allowAllOrigins:  allowAllOrigins,
		allowedOriginSet: allowedOriginSet,
	}, nil
}

func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/perpetuals", s.handlePerpetuals)
	mux.HandleFunc("/v1/pools", s.handlePoolsRoot)
	mux.HandleFunc("/v1/pools/", s.handlePoolsSubroutes)
	mux.HandleFunc("/v1/admin/test-oracle-price", s.handleSetTestOraclePrice)
	mux.HandleFunc("/v1/admin/fund", s.handleFund)
	mux.HandleFunc("/ws", s.handleWebsocket)
	return s.withCORS(mux)
}

func (s *Service) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	s.logger.Info("api-server started",
		"listen_addr", s.cfg.ListenAddr,
		"program_id", s.engine.ProgramID(),
		"oracle_source", s.cfg.OracleSource,
		"allowed_origins", strings.Join(s.cfg.AllowedOrigins, ","),
	)

	select {
	case <-ctx.Done():
		s.logger.Info("api-server stopping")
		if err := server.Shutdown(context.Background()); err != nil {
			return fmt.Errorf("shutdown api-server: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen and serve: %w", err)
		}
		return nil
	}
}

type healthResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	s.respondJSON(w, http.StatusOK, healthResponse{OK: true})
}

func (s *Service) handlePerpetuals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	perpetuals, err := s.engine.Perpetuals()
	if err != nil {
		s.respondEngineError(w, "get perpetuals", err)
		return
	}
	s.respondJSON(w, http.StatusOK, perpetuals)
}

func (s *Service) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" {
			allowed := s.allowAllOrigins
			if !allowed {
				_, allowed = s.allowedOriginSet[origin]
			}

			if allowed {
				if s.allowAllOrigins {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "300")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Service) isOriginAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	if s.allowAllOrigins {
		return true
	}
	_, ok := s.allowedOriginSet[origin]
	return ok
}

// requestContext bounds engine work, oracle fetches included.
func (s *Service) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.cfg.RequestTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
}

// requireAdmin checks the bearer token against the configured admin token. An
// empty admin token disables admin routes.
func (s *Service) requireAdmin(r *http.Request) (int, error) {
	if s.cfg.AdminToken == "" {
		return http.StatusForbidden, fmt.Errorf("admin routes are disabled")
	}
	token, err := bearerTokenFromRequest(r)
	if err != nil {
		return http.StatusUnauthorized, err
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
		return http.StatusUnauthorized, fmt.Errorf("invalid admin token")
	}
	return 0, nil
}

func bearerTokenFromRequest(r *http.Request) (string, error) {
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if authorization == "" {
		return "", fmt.Errorf("authorization header is required")
	}
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authorization, bearerPrefix) {
		return "", fmt.Errorf("authorization header must use bearer token")
	}
	token := strings.TrimSpace(strings.TrimPrefix(authorization, bearerPrefix))
	if token == "" {
		return "", fmt.Errorf("authorization token is empty")
	}
	return token, nil
}

func decodeJSONBody(r *http.Request, destination any) error {
	if r.Body == nil {
		return fmt.Errorf("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(destination); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != io.EOF {
		return fmt.Errorf("invalid request body: multiple JSON values")
	}
	return nil
}

// statusForCode maps engine error codes onto HTTP statuses.
func statusForCode(code string) int {
	switch code {
	case "PoolNotFound", "CustodyNotFound", "AccountNotFound":
		return http.StatusNotFound
	case "Unauthorized", "OwnerMismatch":
		return http.StatusForbidden
	case "AccountNotInitialized":
		return http.StatusServiceUnavailable
	case "StaleOraclePrice", "InvalidOraclePrice", "InvalidOracleState", "InvalidOracleAccount", "UnsupportedOracle":
		return http.StatusServiceUnavailable
	case "InsufficientAmountReturned", "InsufficientFunds", "MathOverflow", "MaxLeverage":
		return http.StatusUnprocessableEntity
	case "AccountAlreadyInUse", "AccountAlreadyInitialized":
		return http.StatusConflict
	case "Internal":
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func (s *Service) respondEngineError(w http.ResponseWriter, action string, err error) {
	code := perps.ErrorCode(err)
	status := statusForCode(code)
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error(action+" failed", "code", code, "err", err)
	} else {
		s.logger.Debug(action+" rejected", "code", code, "err", err)
	}
	s.respondJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

func (s *Service) respondMethodNotAllowed(w http.ResponseWriter) {
	s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (s *Service) respondError(w http.ResponseWriter, code int, message string) {
	s.respondJSON(w, code, errorResponse{Error: message})
}

func (s *Service) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to write JSON response", "err", err)
	}
}

func nowUnix() int64 {
	return time.Now().Unix()
}
