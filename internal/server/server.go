// Package server exposes the connection manager to external UIs: core
// events fan out to WebSocket clients, commands come back in over the
// same socket, and a small HTTP API serves config, status, and port
// discovery.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dperry713/simulator/internal/config"
	"github.com/dperry713/simulator/internal/dtc"
	"github.com/dperry713/simulator/internal/logger"
	"github.com/dperry713/simulator/internal/obd"
	"github.com/dperry713/simulator/internal/pid"
	"github.com/dperry713/simulator/internal/protocol"
	"github.com/dperry713/simulator/internal/transport"
)

// Command is one UI request received over the WebSocket.
type Command struct {
	Cmd string `json:"cmd"`

	// connect overrides; zero values fall back to the loaded config.
	Carrier  string `json:"carrier,omitempty"`
	Port     string `json:"port,omitempty"`
	Baud     int    `json:"baud,omitempty"`
	Protocol string `json:"protocol,omitempty"`

	// Watch names parameters by key for start_monitoring and
	// update_watch_list.
	Watch []string `json:"watch,omitempty"`
}

// Server bridges the manager's event hub to WebSocket clients.
type Server struct {
	cfg   *config.Config
	mgr   *obd.Manager
	csv   *logger.Logger
	store *dtc.Store // nil disables occurrence history

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
}

// New creates a Server. The store may be nil.
func New(cfg *config.Config, mgr *obd.Manager, csv *logger.Logger, store *dtc.Store) *Server {
	return &Server{
		cfg:     cfg,
		mgr:     mgr,
		csv:     csv,
		store:   store,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		s.handleWS(ctx, w, r)
	})
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/ports", s.handlePorts)
	mux.HandleFunc("/api/parameters", s.handleParameters)
	mux.HandleFunc("/api/dtc/history", s.handleDTCHistory)

	go s.eventLoop(ctx)

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// eventLoop relays manager events to every client, records samples to
// the session log, and books trouble-code sightings into the history
// store.
func (s *Server) eventLoop(ctx context.Context) {
	events := s.mgr.Subscribe(256)
	defer s.mgr.Unsubscribe(events)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind == obd.EventValueUpdated && ev.Value != nil && s.csv != nil {
				s.csv.Record(*ev.Value)
			}
			if ev.Kind == obd.EventDTCsUpdated && len(ev.DTCs) > 0 && s.store != nil {
				if err := s.store.Observe(ev.DTCs, ev.Timestamp); err != nil {
					log.Printf("[server] dtc history: %v", err)
				}
			}
			s.broadcast(ev)
		}
	}
}

func (s *Server) handleWS(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	total := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", total)

	// Catch the new client up: current state, then the latest sample per
	// watched PID.
	st := s.mgr.Status()
	client.enqueue(obd.Event{
		Kind:      obd.EventStateChanged,
		Timestamp: time.Now(),
		State:     st.State,
		Reason:    st.Reason,
	})
	for _, v := range s.mgr.Series().Snapshot() {
		val := v
		client.enqueue(obd.Event{Kind: obd.EventValueUpdated, Timestamp: v.Timestamp, Value: &val})
	}

	// Writer goroutine.
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine: commands in, until the socket drops.
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			total := len(s.clients)
			s.clientsMu.Unlock()
			client.closeOnce.Do(func() { close(client.send) })
			log.Printf("[ws] client disconnected (%d total)", total)
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd Command
			if err := json.Unmarshal(data, &cmd); err != nil {
				client.sendError(fmt.Errorf("bad command: %w", err))
				continue
			}
			if err := s.dispatch(ctx, cmd); err != nil {
				client.sendError(err)
			}
		}
	}()
}

// dispatch runs one UI command against the manager. Long-running calls
// answer through the event stream, not the return value.
func (s *Server) dispatch(ctx context.Context, cmd Command) error {
	switch cmd.Cmd {
	case "connect":
		cfg, err := ConnectionConfig(s.cfg)
		if err != nil {
			return err
		}
		if cmd.Carrier != "" {
			if cfg.Carrier, err = transport.ParseKind(cmd.Carrier); err != nil {
				return err
			}
		}
		if cmd.Port != "" {
			cfg.Port = cmd.Port
		}
		if cmd.Baud > 0 {
			cfg.Baud = cmd.Baud
		}
		if cmd.Protocol != "" {
			if cfg.Protocol, err = protocol.ParseProtocol(cmd.Protocol); err != nil {
				return err
			}
		}
		return s.mgr.Connect(cfg)
	case "disconnect":
		return s.mgr.Disconnect()
	case "start_monitoring":
		watch, err := s.watchOrDefault(cmd.Watch)
		if err != nil {
			return err
		}
		return s.mgr.Start(watch)
	case "stop_monitoring":
		return s.mgr.Stop()
	case "update_watch_list":
		watch, err := WatchPids(cmd.Watch)
		if err != nil {
			return err
		}
		return s.mgr.SetWatchList(watch)
	case "read_dtcs":
		go func() {
			if _, err := s.mgr.ReadDTCs(ctx); err != nil {
				log.Printf("[server] read dtcs: %v", err)
			}
		}()
		return nil
	case "clear_dtcs":
		go func() {
			if err := s.mgr.ClearDTCs(ctx); err != nil {
				log.Printf("[server] clear dtcs: %v", err)
			}
		}()
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd.Cmd)
	}
}

func (s *Server) watchOrDefault(keys []string) ([]byte, error) {
	if len(keys) == 0 {
		keys = s.cfg.Monitoring.WatchList
	}
	return WatchPids(keys)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))

	default:
		http.Error(w, "method not allowed", 405)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.mgr.Status())
}

func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	ports, err := transport.ListPorts()
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, ports)
}

func (s *Server) handleParameters(w http.ResponseWriter, r *http.Request) {
	type param struct {
		Pid  string  `json:"pid"`
		Key  string  `json:"key"`
		Name string  `json:"name"`
		Unit string  `json:"unit"`
		Min  float64 `json:"min"`
		Max  float64 `json:"max"`
	}
	out := make([]param, 0, len(pid.Parameters))
	for _, p := range pid.List() {
		out = append(out, param{
			Pid:  fmt.Sprintf("%02X", p.Pid),
			Key:  p.Key,
			Name: p.Name,
			Unit: p.Unit,
			Min:  p.Min,
			Max:  p.Max,
		})
	}
	writeJSON(w, out)
}

func (s *Server) handleDTCHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "history disabled", 404)
		return
	}
	records, err := s.store.History()
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, records)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) broadcast(ev obd.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip.
		}
	}
}

func (c *wsClient) enqueue(ev obd.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *wsClient) sendError(err error) {
	c.enqueue(obd.Event{
		Kind:      obd.EventError,
		Timestamp: time.Now(),
		Error:     &obd.ErrorInfo{Class: "command", Message: err.Error()},
	})
}
