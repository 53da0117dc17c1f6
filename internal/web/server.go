// Package web provides an HTTP status and control server for the treadmill
// daemon.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/treadmill/internal/status"
	"github.com/sweeney/treadmill/internal/treadmill"
)

// Sender delivers commands to the treadmill. *treadmill.Bus satisfies it.
type Sender interface {
	Send(ctx context.Context, cmd treadmill.Command) error
}

// sendTimeout bounds how long a request waits for the command queue.
const sendTimeout = 2 * time.Second

// Server serves the status page over HTTP and accepts control requests.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	sender     Sender
}

// New creates a Server that reads state from the given tracker and forwards
// control requests to sender. A nil sender makes the server read-only.
func New(addr string, tracker *status.Tracker, sender Sender) *Server {
	s := &Server{tracker: tracker, sender: sender}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/api/v1/desiredspeed", s.handleSpeed)
	mux.HandleFunc("/api/v1/incline/raise", s.handleCommand(treadmill.RaiseIncline()))
	mux.HandleFunc("/api/v1/incline/lower", s.handleCommand(treadmill.LowerIncline()))
	mux.HandleFunc("/api/v1/stop", s.handleCommand(treadmill.SetSpeed(0)))
	mux.HandleFunc("/api/v1/shutdown", s.handleCommand(treadmill.Shutdown()))

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the server's request router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// speedRequest is the JSON body accepted by /api/v1/desiredspeed.
type speedRequest struct {
	Speed *float64 `json:"speed"`
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	kph, err := parseSpeed(r)
	if err == nil && (math.IsNaN(kph) || math.IsInf(kph, 0)) {
		err = errors.New("invalid speed")
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.send(w, r, treadmill.SetSpeed(kph))
}

func (s *Server) handleCommand(cmd treadmill.Command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.send(w, r, cmd)
	}
}

func (s *Server) send(w http.ResponseWriter, r *http.Request, cmd treadmill.Command) {
	if s.sender == nil {
		http.Error(w, "control disabled", http.StatusForbidden)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), sendTimeout)
	defer cancel()

	if err := s.sender.Send(ctx, cmd); err != nil {
		log.Printf("web: %s: %v", cmd, err)
		if errors.Is(err, treadmill.ErrChannelClosed) {
			http.Error(w, "treadmill shut down", http.StatusGone)
			return
		}
		http.Error(w, "command not accepted", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// parseSpeed reads the desired speed from a JSON body or a "speed" form value.
func parseSpeed(r *http.Request) (float64, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req speedRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1024)).Decode(&req); err != nil {
			return 0, errors.New("invalid JSON body")
		}
		if req.Speed == nil {
			return 0, errors.New("missing speed")
		}
		return *req.Speed, nil
	}
	v := r.FormValue("speed")
	if v == "" {
		return 0, errors.New("missing speed")
	}
	kph, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.New("invalid speed")
	}
	return kph, nil
}
