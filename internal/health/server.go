// Package health exposes a JSON snapshot of the daemon over HTTP so
// probes and the automation side can watch it.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
)

// WSStatus is the event-bus side of the snapshot.
type WSStatus interface {
	Connected() bool
	LastActivity() string
}

// BLEStatus is the HID side of the snapshot.
type BLEStatus interface {
	Available() bool
}

// ReaderStatus is the input side of the snapshot.
type ReaderStatus interface {
	Running() bool
	DevicePath() string
}

// QueueStatus exposes the edge-queue drop counter.
type QueueStatus interface {
	Dropped() uint64
}

// Config wires a Server.
type Config struct {
	Addr   string
	WS     WSStatus
	BLE    BLEStatus
	Reader ReaderStatus
	Queue  QueueStatus
	Logger *slog.Logger
}

type Server struct {
	cfg     Config
	log     *slog.Logger
	srv     *http.Server
	started time.Time
}

type snapshot struct {
	Status       string `json:"status"`
	WSConnected  bool   `json:"ws_connected"`
	LastActivity string `json:"last_activity"`
	BLEAvailable bool   `json:"ble_available"`
	USBReader    string `json:"usb_reader"`
	USBDevice    string `json:"usb_device"`
	DroppedEdges uint64 `json:"dropped_edges"`
	Started      string `json:"started"`
	Addr         string `json:"addr"`
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, log: logger.With("component", "health")}
}

// Start begins serving in the background. The listener error, if any,
// is logged rather than returned; a dead health endpoint should not
// take the daemon down.
func (s *Server) Start() {
	s.started = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		err := s.srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("listener stopped", "error", err)
		}
	}()
	s.log.Info("listening", "addr", s.cfg.Addr)
}

// Stop shuts the listener down, waiting for in-flight requests.
func (s *Server) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	_ = s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.snapshot()
	code := http.StatusOK
	if snap.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(snap)
}

// snapshot degrades when the event bus or the reader is down; a
// missing BLE link is reported but does not degrade, the daemon is
// still useful without it.
func (s *Server) snapshot() snapshot {
	wsUp := s.cfg.WS.Connected()
	readerUp := s.cfg.Reader.Running()

	status := "ok"
	if !wsUp || !readerUp {
		status = "degraded"
	}
	usb := "stopped"
	if readerUp {
		usb = "running"
	}
	return snapshot{
		Status:       status,
		WSConnected:  wsUp,
		LastActivity: s.cfg.WS.LastActivity(),
		BLEAvailable: s.cfg.BLE.Available(),
		USBReader:    usb,
		USBDevice:    s.cfg.Reader.DevicePath(),
		DroppedEdges: s.cfg.Queue.Dropped(),
		Started:      humanize.Time(s.started),
		Addr:         s.cfg.Addr,
	}
}
