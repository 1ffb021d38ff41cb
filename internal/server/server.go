// Package server is the thin HTTP and WebSocket front end over the turn
// pipeline. It owns no domain logic: every request becomes one HandleTurn
// call.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"projectos/internal/config"
	"projectos/internal/pipeline"
	"projectos/internal/store"
	"projectos/internal/types"
)

// DefaultMaxWorkers caps concurrent turns when the config leaves it unset.
const DefaultMaxWorkers = 16

// TurnRequest is one chat turn over HTTP or WebSocket.
type TurnRequest struct {
	User    string `json:"user"`
	Project string `json:"project"`
	Message string `json:"message"`
}

// TurnResponse carries the reply for one turn.
type TurnResponse struct {
	Reply string `json:"reply"`
	Turn  int    `json:"turn"`
}

// Server exposes /healthz, /turn, /projects, and /ws.
type Server struct {
	cfg      config.ServerConfig
	pipe     *pipeline.Orchestrator
	disk     *store.Store
	maxPairs int
	sem      chan struct{}
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// New creates the front end over an assembled pipeline.
func New(cfg config.Config, pipe *pipeline.Orchestrator, disk *store.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Server.MaxWorkers
	if workers <= 0 {
		workers = DefaultMaxWorkers
	}
	return &Server{
		cfg:      cfg.Server,
		pipe:     pipe,
		disk:     disk,
		maxPairs: cfg.Memory.MaxHistoryPairs,
		sem:      make(chan struct{}, workers),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logger,
	}
}

// Handler returns the HTTP mux for the front end.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/turn", s.handleTurn)
	mux.HandleFunc("/projects", s.handleProjects)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  config.ParseDuration(s.cfg.ReadTimeout, 30*time.Second),
		WriteTimeout: config.ParseDuration(s.cfg.WriteTimeout, 120*time.Second),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", zap.String("addr", addr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleProjects lists a user's projects.
func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user := r.URL.Query().Get("user")
	if user == "" {
		http.Error(w, "user query param is required", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]string{"projects": s.disk.ListProjects(user)})
}

// handleTurn runs one stateless turn. History is the caller's problem over
// plain HTTP; the WebSocket path keeps it per connection.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.User == "" || req.Project == "" || req.Message == "" {
		http.Error(w, "user, project, and message are required", http.StatusBadRequest)
		return
	}

	reply := s.runTurn(r.Context(), pipeline.Turn{
		User: req.User, Project: req.Project, Message: req.Message,
	})
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(TurnResponse{Reply: reply})
}

// handleWS upgrades and runs the per-connection chat loop with bounded
// in-memory history.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	project := r.URL.Query().Get("project")
	if user == "" || project == "" {
		http.Error(w, "user and project query params are required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Uploads land from outside the process; watch them for the session so
	// new files drop stale focus.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.pipe.WatchUploads(ctx, user, project)

	var history []types.Message
	turn := 0
	for {
		var req TurnRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket closed", zap.Error(err))
			}
			return
		}
		if req.Message == "" {
			continue
		}

		reply := s.runTurn(r.Context(), pipeline.Turn{
			User: user, Project: project, Message: req.Message, History: history,
		})
		turn++

		history = append(history,
			types.Message{Role: types.RoleUser, Content: req.Message},
			types.Message{Role: types.RoleAssistant, Content: reply},
		)
		history = boundHistory(history, s.maxPairs)

		if err := conn.WriteJSON(TurnResponse{Reply: reply, Turn: turn}); err != nil {
			s.logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

// runTurn executes one turn under the global worker cap.
func (s *Server) runTurn(ctx context.Context, t pipeline.Turn) string {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()
	return s.pipe.HandleTurn(ctx, t)
}

// boundHistory keeps at most maxPairs user/assistant pairs, newest last.
func boundHistory(history []types.Message, maxPairs int) []types.Message {
	if maxPairs <= 0 {
		return history
	}
	max := maxPairs * 2
	if len(history) <= max {
		return history
	}
	return history[len(history)-max:]
}
