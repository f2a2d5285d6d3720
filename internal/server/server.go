package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/PauloHMoreti/PI-Unimax-2-Semestre/internal/ingest"
	"github.com/PauloHMoreti/PI-Unimax-2-Semestre/internal/telemetry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxClientFrame = 4096
	clientBuffer   = 16
)

// Core is the part of ingest.Core the server needs.
type Core interface {
	State() ingest.State
	Subscribe() (<-chan ingest.State, func())
	SetMode(m ingest.Mode) error
	Toggle() (ingest.Mode, error)
}

// Server pushes the ingestion state to WebSocket clients and serves the
// dashboard page, a small JSON API and the metrics endpoint.
type Server struct {
	cfg     *Config
	core    Core
	metrics http.Handler
	webFS   fs.FS
	log     *zap.Logger

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader
}

type wsClient struct {
	conn *websocket.Conn
	send chan outFrame

	// Owned by writePump.
	sent    bool
	lastSeq uint64
}

type outFrame struct {
	seq  uint64
	data []byte
}

// admit reports whether a frame is newer than the last one written. The
// initial frame and the fan-out race, so an older state may arrive second.
func (c *wsClient) admit(seq uint64) bool {
	if c.sent && seq <= c.lastSeq {
		return false
	}
	c.sent = true
	c.lastSeq = seq
	return true
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Mode        ingest.Mode      `json:"mode"`
	Status      telemetry.Status `json:"status"`
	StatusLabel string           `json:"statusLabel"`
	StatusClass string           `json:"statusClass"`
	Snapshot    ingest.Snapshot  `json:"snapshot"`
	Display     ingest.Display   `json:"display"`
	Seq         uint64           `json:"seq"`
	Stamp       int64            `json:"stamp"` // Unix ms
}

// clientMessage is what the page sends back; tapping the status badge sends
// {"type":"toggle"}.
type clientMessage struct {
	Type string `json:"type"`
	Mode string `json:"mode,omitempty"`
}

func frameOf(st ingest.State) Frame {
	return Frame{
		Mode:        st.Mode,
		Status:      st.Status,
		StatusLabel: st.Status.Label(),
		StatusClass: st.Status.Class(),
		Snapshot:    st.Snapshot,
		Display:     st.Snapshot.Display(),
		Seq:         st.Seq,
		Stamp:       time.Now().UnixMilli(),
	}
}

// New creates a new Server. metrics and webFS may be nil.
func New(cfg *Config, core Core, metrics http.Handler, webFS fs.FS, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		core:    core,
		metrics: metrics,
		webFS:   webFS,
		log:     log,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/mode", s.handleMode)
	mux.HandleFunc("/api/mode/toggle", s.handleToggle)
	mux.HandleFunc("/api/config", s.handleConfig)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// Run starts the HTTP server and the state fan-out; it returns when ctx ends.
func (s *Server) Run(ctx context.Context) error {
	go s.fanOut(ctx)

	srv := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	s.log.Info("listening", zap.String("addr", s.cfg.Server.ListenAddr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// fanOut forwards every state change from the core to all clients.
func (s *Server) fanOut(ctx context.Context) {
	states, cancel := s.core.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			s.broadcast(frameOf(st))
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan outFrame, clientBuffer),
	}

	// Queue the current state before registering so it is the first frame.
	st := s.core.State()
	if data, err := json.Marshal(frameOf(st)); err == nil {
		client.send <- outFrame{seq: st.Seq, data: data}
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()
	s.log.Info("client connected", zap.String("remote", r.RemoteAddr), zap.Int("clients", n))

	go s.writePump(client)
	go s.readPump(client)
}

func (s *Server) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.admit(msg.seq) {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles client commands and keep-alive until the connection drops.
func (s *Server) readPump(c *wsClient) {
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, c)
		close(c.send)
		n := len(s.clients)
		s.clientsMu.Unlock()
		s.log.Info("client disconnected", zap.Int("clients", n))
	}()

	c.conn.SetReadLimit(maxClientFrame)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Debug("ignoring client message", zap.Error(err))
			continue
		}
		switch msg.Type {
		case "toggle":
			if m, err := s.core.Toggle(); err != nil {
				s.log.Warn("toggle failed", zap.Error(err))
			} else {
				s.log.Info("mode toggled by client", zap.Stringer("mode", m))
			}
		case "mode":
			m, err := ingest.ParseMode(msg.Mode)
			if err != nil {
				s.log.Debug("ignoring client message", zap.Error(err))
				continue
			}
			if err := s.core.SetMode(m); err != nil {
				s.log.Warn("set mode failed", zap.Error(err))
			}
		}
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, frameOf(s.core.State()))
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, map[string]ingest.Mode{"mode": s.core.State().Mode})

	case http.MethodPost:
		var req struct {
			Mode string `json:"mode"`
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxClientFrame))
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		m, err := ingest.ParseMode(req.Mode)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.core.SetMode(m); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, frameOf(s.core.State()))

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.core.Toggle(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, frameOf(s.core.State()))
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.cfg.Save(); err != nil {
			s.log.Warn("config save failed", zap.Error(err))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	out := outFrame{seq: frame.Seq, data: data}
	for client := range s.clients {
		select {
		case client.send <- out:
		default:
			// Client too slow: replace its oldest queued frame so it still
			// ends on the latest state.
			select {
			case <-client.send:
			default:
			}
			select {
			case client.send <- out:
			default:
			}
		}
	}
}
