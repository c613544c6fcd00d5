package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/curbz/vfrnav/internal/model"
	"github.com/curbz/vfrnav/internal/navlog"
	"github.com/curbz/vfrnav/internal/presets"
	"github.com/curbz/vfrnav/internal/records"
	"github.com/curbz/vfrnav/internal/route"
	"github.com/curbz/vfrnav/pkg/util"
)

type Config struct {
	Listen      string `yaml:"listen"`
	RecordsFile string `yaml:"records_file"`

	// Recorder limits, zero keeps the recorder defaults.
	RecordInterval    time.Duration `yaml:"record_interval"`
	RecordMinDuration time.Duration `yaml:"record_min_duration"`
	MaxRecords        int           `yaml:"max_records"`
}

type config struct {
	Server Config `yaml:"server"`
}

// LoadConfig reads the server section of the configuration file.
func LoadConfig(cfgPath string) (Config, error) {
	cfg, err := util.LoadConfig[config](cfgPath)
	if err != nil {
		return Config{}, fmt.Errorf("error reading configuration file: %w", err)
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	return cfg.Server, nil
}

// Server is the EFB WebSocket endpoint. It answers requests from the EFB
// pages and broadcasts what the simulator feed reports.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader

	planner  *route.Planner
	recorder *records.Recorder
	devs     *presets.Store[navlog.DeviationCurve]
	fuels    *presets.Store[navlog.FuelCurve]

	mu         sync.Mutex
	clients    map[string]*client
	fuel       *model.Fuel
	conditions *model.Conditions
}

type client struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) send(msg Reply) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return util.SendJSON(c.conn, msg)
}

func New(cfg Config, planner *route.Planner, recorder *records.Recorder,
	devs *presets.Store[navlog.DeviationCurve], fuels *presets.Store[navlog.FuelCurve]) *Server {
	s := &Server{
		cfg:      cfg,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		planner:  planner,
		recorder: recorder,
		devs:     devs,
		fuels:    fuels,
		clients:  map[string]*client{},
	}
	recorder.SetLimits(cfg.RecordInterval, cfg.RecordMinDuration, cfg.MaxRecords)
	recorder.OnRecord = s.onRecord
	return s
}

// Handler serves the EFB socket on /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.wsHandler)
	return mux
}

// Run serves until ctx is cancelled, then closes every client.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Listen, Handler: s.Handler()}

	errc := make(chan error, 1)
	go func() {
		log.Infof("server: listening on %s", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.closeClients()
	if e := <-errc; !errors.Is(e, http.ErrServerClosed) {
		log.Warnf("server: %v", e)
	}
	return err
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.clients {
		c.conn.Close()
		delete(s.clients, id)
	}
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("server: websocket upgrade error: %v", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn}
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	log.Infof("server: client %s connected from %s", c.id, r.RemoteAddr)

	defer func() {
		s.mu.Lock()
		delete(s.clients, c.id)
		s.mu.Unlock()
		conn.Close()
		log.Infof("server: client %s disconnected", c.id)
	}()

	if err := c.send(Reply{Type: TypeHello, Data: hello{Session: c.id}}); err != nil {
		return
	}
	// a page opened mid-flight gets the last simulator state right away
	for _, m := range s.simState() {
		if err := c.send(m); err != nil {
			return
		}
	}

	for {
		mt, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugf("server: client %s read error: %v", c.id, err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Warnf("server: client %s sent invalid JSON: %v", c.id, err)
			c.send(Reply{Type: TypeError, Error: "invalid JSON"})
			continue
		}

		reply, notices := s.dispatch(msg)
		if err := c.send(reply); err != nil {
			log.Debugf("server: client %s write error: %v", c.id, err)
			return
		}
		for _, n := range notices {
			s.broadcast(n, c.id)
		}
	}
}

// broadcast sends msg to every client but the one excluded.
func (s *Server) broadcast(msg Reply, exclude string) {
	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for id, c := range s.clients {
		if id != exclude {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		if err := c.send(msg); err != nil {
			log.Debugf("server: broadcast to %s failed: %v", c.id, err)
		}
	}
}

// Clients returns how many EFB pages are connected.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Simulator feed.

func (s *Server) simState() []Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Reply
	if s.conditions != nil {
		out = append(out, Reply{Type: TypeConditions, Data: *s.conditions})
	}
	if s.fuel != nil {
		out = append(out, Reply{Type: TypeFuel, Data: *s.fuel})
	}
	return out
}

func (s *Server) OnPlanePos(pos model.PlanePos) {
	s.recorder.OnPlanePos(pos)
	s.broadcast(Reply{Type: TypePlanePos, Data: pos}, "")
}

func (s *Server) OnConditions(c model.Conditions) {
	s.mu.Lock()
	s.conditions = &c
	s.mu.Unlock()
	s.broadcast(Reply{Type: TypeConditions, Data: c}, "")
}

func (s *Server) OnFuel(f model.Fuel) {
	s.mu.Lock()
	s.fuel = &f
	s.mu.Unlock()
	s.broadcast(Reply{Type: TypeFuel, Data: f}, "")
}

func (s *Server) OnAircraft(ac model.Aircraft) {
	log.Infof("server: aircraft %s %s", ac.ICAO, ac.Tail)
	s.recorder.OnAircraft(ac)
}

func (s *Server) onRecord(records.Summary) {
	if s.cfg.RecordsFile != "" {
		if err := s.recorder.SaveFile(s.cfg.RecordsFile); err != nil {
			log.Errorf("server: saving records: %v", err)
		}
	}
	s.broadcast(Reply{Type: TypeRecords, Data: s.recorder.List()}, "")
}
