package inspector

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/fluxorio/taskpool/pkg/core"
	"github.com/fluxorio/taskpool/pkg/core/failfast"
	"github.com/fluxorio/taskpool/pkg/observability/prometheus"
	"github.com/fluxorio/taskpool/pkg/pool"
)

const defaultWatchInterval = time.Second

// Config configures the inspector server.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:8091". Use port 0 to
	// pick a free port.
	Addr string

	// Pool is the pool to expose. Required.
	Pool pool.Pool

	// WatchInterval is the push period for /watch. Zero means 1s.
	WatchInterval time.Duration

	// JWTSecret enables HS256 bearer-token auth when non-empty.
	JWTSecret string

	// APIKeyHash is a bcrypt hash; when non-empty, requests may
	// authenticate with a matching X-API-Key header instead.
	APIKeyHash string

	// MetricsHandler serves /metrics. Nil means the default registry.
	MetricsHandler http.Handler

	// Logger for server and connection errors. Nil means the default
	// logger.
	Logger core.Logger
}

// Inspector exposes pool state over HTTP: a JSON snapshot, a health
// probe, Prometheus metrics and a websocket status stream.
type Inspector struct {
	cfg      Config
	interval time.Duration
	logger   core.Logger
	upgrader websocket.Upgrader

	server   *http.Server
	listener net.Listener

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// New creates an Inspector for the given pool.
func New(cfg Config) *Inspector {
	// Fail-fast: pool cannot be nil
	failfast.NotNil(cfg.Pool, "cfg.Pool")

	interval := cfg.WatchInterval
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = core.NewDefaultLogger()
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = prometheus.Handler()
	}

	return &Inspector{
		cfg:      cfg,
		interval: interval,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Start binds the listen address and serves in the background.
func (i *Inspector) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", i.handleHealth)
	mux.Handle("/status", i.requireAuth(http.HandlerFunc(i.handleStatus)))
	mux.Handle("/metrics", i.requireAuth(i.cfg.MetricsHandler))
	mux.Handle("/watch", i.requireAuth(http.HandlerFunc(i.handleWatch)))

	ln, err := net.Listen("tcp", i.cfg.Addr)
	if err != nil {
		return fmt.Errorf("inspector listen on %s: %w", i.cfg.Addr, err)
	}
	i.listener = ln
	i.server = &http.Server{Handler: mux}

	go func() {
		if err := i.server.Serve(ln); err != http.ErrServerClosed {
			i.logger.Errorf("inspector server error: %v", err)
		}
	}()

	i.logger.Infof("inspector listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address after Start.
func (i *Inspector) Addr() string {
	if i.listener != nil {
		return i.listener.Addr().String()
	}
	return i.cfg.Addr
}

// Stop gracefully shuts down the server and closes watch connections.
func (i *Inspector) Stop(ctx context.Context) error {
	if i.server == nil {
		return nil
	}
	err := i.server.Shutdown(ctx)

	// Shutdown does not wait for hijacked connections; close the watch
	// streams explicitly.
	i.mu.Lock()
	for conn := range i.conns {
		conn.Close()
		delete(i.conns, conn)
	}
	i.mu.Unlock()

	return err
}

func (i *Inspector) authEnabled() bool {
	return i.cfg.JWTSecret != "" || i.cfg.APIKeyHash != ""
}

func (i *Inspector) requireAuth(next http.Handler) http.Handler {
	if !i.authEnabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if i.authorized(r) {
			next.ServeHTTP(w, r)
			return
		}
		i.unauthorized(w)
	})
}

func (i *Inspector) authorized(r *http.Request) bool {
	if i.cfg.APIKeyHash != "" {
		if key := r.Header.Get("X-API-Key"); key != "" {
			return bcrypt.CompareHashAndPassword([]byte(i.cfg.APIKeyHash), []byte(key)) == nil
		}
	}

	if i.cfg.JWTSecret != "" {
		authHeader := r.Header.Get("Authorization")
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return false
		}
		token, err := jwt.Parse(parts[1], i.jwtKeyFunc, jwt.WithValidMethods([]string{"HS256"}))
		return err == nil && token.Valid
	}

	return false
}

func (i *Inspector) jwtKeyFunc(token *jwt.Token) (interface{}, error) {
	// Validate signing method family for HMAC secrets.
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method")
	}
	return []byte(i.cfg.JWTSecret), nil
}

func (i *Inspector) unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="taskpool", error="invalid_token"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	// Do not reflect internal errors to the caller.
	fmt.Fprint(w, `{"error":"unauthorized","message":"invalid or missing credentials"}`)
}

// handleStatus returns the pool's status as JSON.
func (i *Inspector) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := i.cfg.Pool.Status()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (i *Inspector) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"up"}`)
}

// handleWatch upgrades to a websocket and pushes status snapshots on
// the configured interval until the client goes away.
func (i *Inspector) handleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := i.upgrader.Upgrade(w, r, nil)
	if err != nil {
		i.logger.Errorf("websocket upgrade failed: %v", err)
		return
	}

	i.mu.Lock()
	i.conns[conn] = struct{}{}
	i.mu.Unlock()

	defer func() {
		i.mu.Lock()
		delete(i.conns, conn)
		i.mu.Unlock()
		conn.Close()
	}()

	// Reader detects the client closing the stream.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					i.logger.Errorf("websocket read error: %v", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(i.cfg.Pool.Status()); err != nil {
			return
		}
		select {
		case <-done:
			return
		case <-ticker.C:
		}
	}
}
