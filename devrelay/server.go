/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package devrelay is an in-memory signaling relay for development and tests.
// It speaks the same frame protocol as the relay package's client.
package devrelay

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tejzpr/meshcall-go-sdk/iceservers"
	"github.com/tejzpr/meshcall-go-sdk/relay"
	"golang.org/x/sync/errgroup"
)

// Config holds the configuration for the development relay
type Config struct {
	// Addr is the listen address used by ListenAndServe
	Addr string

	// Secret signs and validates HS256 bearer tokens
	Secret []byte

	// Issuer is set on issued tokens
	Issuer string

	// TokenTTL is the lifetime of issued tokens; zero means no expiry
	TokenTTL time.Duration

	// ICEServers is served at GET /calls/ice-servers
	ICEServers []iceservers.Server

	// ICETTL is reported alongside ICEServers, in seconds
	ICETTL int

	// SendBuffer is the outbound frame queue per connection
	SendBuffer int

	// WriteTimeout bounds a single frame write
	WriteTimeout time.Duration

	// PingInterval is the interval between server pings
	PingInterval time.Duration

	// ShutdownTimeout bounds graceful shutdown in ListenAndServe
	ShutdownTimeout time.Duration

	Logger *zerolog.Logger
}

// DefaultConfig returns the default configuration for the development relay
func DefaultConfig() *Config {
	return &Config{
		Addr:   ":8080",
		Issuer: "meshcall-devrelay",
		ICEServers: []iceservers.Server{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
			{URLs: []string{"stun:stun1.l.google.com:19302"}},
		},
		SendBuffer:      256,
		WriteTimeout:    10 * time.Second,
		PingInterval:    30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the development relay.
type Server struct {
	config *Config
	logger zerolog.Logger
	router chi.Router

	mu    sync.Mutex
	conns map[string]*conn
	chats map[string]map[string]bool
	rooms map[string]*room
}

// New creates a development relay. Secret must be set.
func New(config *Config) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if len(config.Secret) == 0 {
		return nil, errors.New("devrelay: secret is required")
	}
	defaults := DefaultConfig()
	if config.SendBuffer <= 0 {
		config.SendBuffer = defaults.SendBuffer
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}

	s := &Server{
		config: config,
		logger: logger.With().Str("component", "devrelay").Logger(),
		conns:  make(map[string]*conn),
		chats:  make(map[string]map[string]bool),
		rooms:  make(map[string]*room),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/calls/ice-servers", s.handleICEServers)
	r.Get("/ws", s.ServeWS)
	return r
}

// Handler returns the HTTP handler serving /ws, /healthz and /calls/ice-servers.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on config.Addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled, then drains.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("relay listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		s.CloseConnections()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// CloseConnections drops every websocket connection.
func (s *Server) CloseConnections() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

// AddChat registers the members of a chat. Calls in chats that were never
// registered ring every other connected user.
func (s *Server) AddChat(chatID string, members ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.chats[chatID]
	if !ok {
		set = make(map[string]bool)
		s.chats[chatID] = set
	}
	for _, m := range members {
		set[m] = true
	}
}

// Online returns the ids of connected users, sorted.
func (s *Server) Online() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.conns))
	for id := range s.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RoomMembers returns the ids in a call room in join order.
func (s *Server) RoomMembers(chatID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm, ok := s.rooms[chatID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(rm.members))
	for _, m := range rm.members {
		ids = append(ids, m.userID)
	}
	return ids
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"online": len(s.Online()),
	})
}

func (s *Server) handleICEServers(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticate(r); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, iceservers.ListResponse{
		ICEServers: s.config.ICEServers,
		TTL:        s.config.ICETTL,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ServeWS upgrades an authenticated request and runs the connection.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authenticate(r)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("rejected websocket upgrade")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": err.Error()})
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("error while upgrading websocket")
		return
	}

	username := claims.Name
	if username == "" {
		username = claims.UserID
	}
	c := &conn{
		id:       uuid.NewString(),
		userID:   claims.UserID,
		username: username,
		ws:       ws,
		send:     make(chan *relay.Frame, s.config.SendBuffer),
		done:     make(chan struct{}),
		server:   s,
	}
	c.logger = s.logger.With().Str("conn_id", c.id).Str("user_id", c.userID).Logger()

	s.register(c)
	c.push(eventWelcome, relay.Welcome{UserID: c.userID, Username: c.username})

	go c.writePump()
	c.readPump()
}

func (s *Server) register(c *conn) {
	s.mu.Lock()
	prev := s.conns[c.userID]
	s.conns[c.userID] = c
	s.mu.Unlock()

	if prev != nil {
		prev.logger.Info().Msg("replaced by a newer connection")
		prev.close()
	}
	c.logger.Info().Str("username", c.username).Msg("client connected")
}

// unregister removes c and takes it out of every call room it joined.
func (s *Server) unregister(c *conn) {
	s.mu.Lock()
	if s.conns[c.userID] == c {
		delete(s.conns, c.userID)
	}
	var left []string
	for chatID, rm := range s.rooms {
		if rm.owner(c.userID) == c {
			left = append(left, chatID)
		}
	}
	s.mu.Unlock()

	for _, chatID := range left {
		s.leaveRoom(c, chatID)
	}
	c.logger.Info().Msg("client disconnected")
}

func (s *Server) lookup(userID string) *conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[userID]
}
