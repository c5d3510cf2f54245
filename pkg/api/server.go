// Package api pkg/api/server.go exposes the single caller-facing boundary of
// the BFD monitor: read access to events, devices, metrics, and health, plus
// the narrow write paths into the device inventory and process lifecycle.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/bfdwatch/bfdmon/pkg/db"
	httpx "github.com/bfdwatch/bfdmon/pkg/http"
	"github.com/bfdwatch/bfdmon/pkg/inventory"
	"github.com/bfdwatch/bfdmon/pkg/metrics"
)

const defaultEventLimit = 100

// PollerStatus reports whether the polling loop is active.
type PollerStatus interface {
	IsRunning() bool
}

// Config holds the API server's own settings. The webhook secret doubles as
// the shutdown token when no dedicated token is configured (see pkg/config).
type Config struct {
	WebhookSecret string
	AdminToken    string
	DevicesFile   string
}

// Server is the HTTP API for operators and dashboards.
type Server struct {
	store       db.Service
	registry    *inventory.Registry
	counters    *metrics.Registry
	poller      PollerStatus
	shutdown    func()
	config      Config
	router      *mux.Router
	broadcaster *Broadcaster

	// webhookLimiter bounds the signed-report endpoint; signature checks
	// are cheap but each accepted report costs a store write.
	webhookLimiter *rate.Limiter
}

// NewServer creates the API server. shutdown triggers the same teardown path
// as an OS termination signal.
func NewServer(store db.Service, registry *inventory.Registry, counters *metrics.Registry, poller PollerStatus, shutdown func(), config Config) *Server {
	s := &Server{
		store:          store,
		registry:       registry,
		counters:       counters,
		poller:         poller,
		shutdown:       shutdown,
		config:         config,
		router:         mux.NewRouter(),
		broadcaster:    NewBroadcaster(64),
		webhookLimiter: rate.NewLimiter(rate.Limit(10), 20),
	}
	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(httpx.CommonMiddleware)

	s.router.HandleFunc("/events", s.getEvents).Methods("GET")
	s.router.HandleFunc("/events/stream", s.streamEvents).Methods("GET")
	s.router.HandleFunc("/health", s.getHealth).Methods("GET")
	s.router.HandleFunc("/ready", s.getReady).Methods("GET")
	s.router.HandleFunc("/metrics", s.getMetrics).Methods("GET")
	s.router.HandleFunc("/devices", s.getDevices).Methods("GET")
	s.router.HandleFunc("/devices", s.addDevice).Methods("POST")
	s.router.HandleFunc("/devices/{name}", s.removeDevice).Methods("DELETE")
	s.router.HandleFunc("/webhook/failure", s.handleWebhook).Methods("POST")
	s.router.HandleFunc("/shutdown", s.handleShutdown).Methods("POST")
}

// Router returns the handler for the lifecycle layer to serve.
func (s *Server) Router() http.Handler {
	return s.router
}

// EventListener returns the store listener feeding the websocket stream.
func (s *Server) EventListener() func(db.Event) {
	return s.broadcaster.Publish
}

func (s *Server) encodeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

// audit records an event and bumps the audit counter; a store failure here
// is logged, never fatal.
func (s *Server) audit(device, eventType string, details map[string]interface{}) {
	if _, err := s.store.Insert(device, eventType, details); err != nil {
		log.Printf("Failed to write audit record for %s: %v", device, err)
		return
	}

	s.counters.Inc(metrics.AuditEvents)
}

func (s *Server) getEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}

		limit = parsed
	}

	events, err := s.store.FetchRecent(limit)
	if err != nil {
		log.Printf("Error fetching events: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	s.encodeJSON(w, http.StatusOK, events)
}

func (s *Server) getHealth(w http.ResponseWriter, _ *http.Request) {
	status := "stopped"
	if s.poller.IsRunning() {
		status = "running"
	}

	s.encodeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) getReady(w http.ResponseWriter, _ *http.Request) {
	_, dbErr := s.store.Count()
	ready := s.poller.IsRunning() && dbErr == nil

	s.encodeJSON(w, http.StatusOK, map[string]bool{
		"ready": ready,
		"db":    dbErr == nil,
	})
}

func (s *Server) getMetrics(w http.ResponseWriter, _ *http.Request) {
	s.encodeJSON(w, http.StatusOK, s.counters.Snapshot())
}

// deviceResponse is the read representation of a device. The community
// credential is deliberately absent.
type deviceResponse struct {
	Name string `json:"name"`
	Host string `json:"host"`
	Port uint16 `json:"port,omitempty"`
	OID  string `json:"oid,omitempty"`
}

func redactDevice(d inventory.Device) deviceResponse {
	return deviceResponse{
		Name: d.Name,
		Host: d.Host,
		Port: d.Port,
		OID:  d.OID,
	}
}

func (s *Server) getDevices(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.registry.Snapshot()

	devices := make([]deviceResponse, 0, len(snapshot))
	for _, d := range snapshot {
		devices = append(devices, redactDevice(d))
	}

	s.encodeJSON(w, http.StatusOK, devices)
}

func (s *Server) addDevice(w http.ResponseWriter, r *http.Request) {
	var device inventory.Device
	if err := json.NewDecoder(r.Body).Decode(&device); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	if err := s.registry.Add(device); err != nil {
		if errors.Is(err, inventory.ErrDuplicateDevice) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}

		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	s.counters.Inc(metrics.DevicesAdded)
	s.audit(device.Name, db.EventDeviceAdded, map[string]interface{}{
		"host": device.Host,
	})
	s.persistDevices()

	s.encodeJSON(w, http.StatusCreated, redactDevice(device))
}

func (s *Server) removeDevice(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	removed, err := s.registry.Remove(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	s.counters.Inc(metrics.DevicesRemoved)
	s.audit(removed.Name, db.EventDeviceRemoved, map[string]interface{}{
		"host": removed.Host,
	})
	s.persistDevices()

	s.encodeJSON(w, http.StatusOK, map[string]interface{}{
		"removed": redactDevice(removed),
	})
}

func (s *Server) persistDevices() {
	if s.config.DevicesFile == "" {
		return
	}

	if err := s.registry.SaveFile(s.config.DevicesFile); err != nil {
		log.Printf("Failed to persist device inventory: %v", err)
	}
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if !s.shutdownAllowed(r) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	log.Printf("Shutdown requested via HTTP from %s", r.RemoteAddr)
	s.audit("monitor", db.EventShutdown, map[string]interface{}{
		"remote_addr": r.RemoteAddr,
	})

	s.encodeJSON(w, http.StatusOK, map[string]bool{"shutting_down": true})

	// Let the response flush before teardown begins.
	go s.shutdown()
}

// shutdownAllowed gates the privileged endpoint: loopback callers are
// trusted, anyone else must present the admin token.
func (s *Server) shutdownAllowed(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
			return true
		}
	}

	token := r.Header.Get("Authorization")
	const prefix = "Bearer "

	if len(token) > len(prefix) && token[:len(prefix)] == prefix {
		token = token[len(prefix):]
	}

	if token == "" || s.config.AdminToken == "" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(token), []byte(s.config.AdminToken)) == 1
}
