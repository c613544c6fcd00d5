package mockserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/curbz/vfrnav/internal/xplaneapi/xpapimodel"
)

// Server mimics the X-Plane web API: dataref lookup and values over REST,
// subscriptions over a WebSocket. Values are JSON ready: float64,
// []any of float64, or a base64 string for byte datarefs.
type Server struct {
	mu       sync.Mutex
	upgrader websocket.Upgrader
	ids      map[string]int
	names    map[int]string
	values   map[string]any
	nextID   int

	// Updates is how many value updates follow a subscription.
	Updates int
	// Interval separates the updates.
	Interval time.Duration
	// Missing names are left out of lookups.
	Missing map[string]bool
}

func New(values map[string]any) *Server {
	return &Server{
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		ids:      map[string]int{},
		names:    map[int]string{},
		values:   values,
		nextID:   1000,
		Updates:  3,
		Interval: 50 * time.Millisecond,
		Missing:  map[string]bool{},
	}
}

// Handler serves the API under /api/v2.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/datarefs", s.datarefsHandler)
	mux.HandleFunc("/api/v2/datarefs/", s.valueHandler)
	mux.HandleFunc("/api/v2", s.wsHandler)
	return mux
}

// Start serves on the given port (e.g. "8086") until the returned server is
// shut down.
func (s *Server) Start(port string) *http.Server {
	srv := &http.Server{Addr: ":" + port, Handler: s.Handler()}
	go func() {
		log.Infof("mockserver: listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("mockserver: ListenAndServe error: %v", err)
		}
	}()
	return srv
}

// Set changes a value, picked up by the next update.
func (s *Server) Set(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
}

func (s *Server) idFor(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.ids[name]; ok {
		return id
	}
	id := s.nextID
	s.nextID++
	s.ids[name] = id
	s.names[id] = name
	return id
}

func (s *Server) datarefsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()["filter[name]"]

	data := make([]xpapimodel.DatarefInfo, 0, len(q))
	for _, name := range q {
		if s.Missing[name] {
			continue
		}
		vt := "float"
		switch s.value(name).(type) {
		case []any:
			vt = "float_array"
		case string:
			vt = "data"
		}
		data = append(data, xpapimodel.DatarefInfo{ID: s.idFor(name), Name: name, ValueType: vt})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(xpapimodel.APIResponseDatarefs{Data: data})
}

// valueHandler answers /api/v2/datarefs/{id}/value.
func (s *Server) valueHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v2/datarefs/")
	idStr, ok := strings.CutSuffix(rest, "/value")
	id, err := strconv.Atoi(idStr)
	if !ok || err != nil {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	name, known := s.names[id]
	s.mu.Unlock()
	if !known {
		http.Error(w, `{"error_code":"dataref_not_found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(xpapimodel.APIResponseDatarefValue{Data: s.value(name)})
}

func (s *Server) value(name string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[name]
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("mockserver: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Debugf("mockserver: read error: %v", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		var req xpapimodel.DatarefSubscriptionRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			log.Warnf("mockserver: invalid JSON: %v", err)
			continue
		}

		switch req.Type {
		case xpapimodel.TypeSubscribe:
			conn.WriteJSON(xpapimodel.SubscriptionResponse{RequestID: req.RequestID, Type: xpapimodel.TypeResult, Success: true})

			// updates go out from this goroutine, gorilla allows one writer
			for i := 0; i < s.Updates; i++ {
				time.Sleep(s.Interval)
				payload := make(map[string]any, len(req.Params.Datarefs))
				for _, d := range req.Params.Datarefs {
					s.mu.Lock()
					name := s.names[d.Id]
					s.mu.Unlock()
					payload[strconv.Itoa(d.Id)] = s.value(name)
				}
				if err := conn.WriteJSON(xpapimodel.SubscriptionResponse{Type: xpapimodel.TypeUpdate, Data: payload}); err != nil {
					return
				}
			}

		default:
			log.Debugf("mockserver: received unknown ws type=%q msg=%s", req.Type, string(msg))
		}
	}
}
