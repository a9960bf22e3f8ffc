package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/sidelights/internal/logging"
	"github.com/muurk/sidelights/internal/ota"
	"github.com/muurk/sidelights/internal/supervisor"
	"github.com/muurk/sidelights/internal/version"
)

// Status is the body of GET /status
type Status struct {
	Version version.Info     `json:"version"`
	Network supervisor.State `json:"network"`
	OTA     ota.Status       `json:"ota"`
	Lights  map[string]bool  `json:"lights,omitempty"`
}

const indexPage = `<!DOCTYPE html>
<html>
<head>
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Sidelights</title>
</head>
<body>
<h1>Sidelights WiFi Setup</h1>
<form action="/save" method="post">
<label for="ssid">SSID</label><br>
<input type="text" id="ssid" name="ssid" maxlength="32" required><br>
<label for="password">Password</label><br>
<input type="password" id="password" name="password" maxlength="64"><br><br>
<input type="submit" value="Save">
</form>
</body>
</html>
`

// Handler returns the routed handler with request logging
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /save", s.handleSave)
	mux.HandleFunc("POST /ota", s.handleOTA)
	mux.HandleFunc("GET /ota/ws", s.handleOTAWebSocket)
	mux.HandleFunc("GET /status", s.handleStatus)
	if s.deps.Lights != nil {
		mux.HandleFunc("POST /control", s.handleControl)
	}
	return logRequests(mux)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, indexPage)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	body := s.deadlineBody(w, r)
	res := s.deps.Provisioning.HandleSave(r.Context(), body)
	writeText(w, res.Status, res.Message)
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	body := s.deadlineBody(w, r)
	res := s.deps.Lights.HandleControl(r.Context(), body)
	writeText(w, res.Status, res.Message)
}

func (s *Server) handleOTA(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	src := &ota.ReaderSource{
		R:          r.Body,
		BeforeRead: func() error { return s.armReadDeadline(rc) },
	}
	res := s.deps.OTA.HandleStream(r.Context(), src)
	if res.Err != nil {
		logging.Warn("OTA upload failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int64("bytes_written", res.BytesWritten),
			zap.Error(res.Err),
		)
	}
	writeText(w, res.Status, res.Message)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := Status{
		Version: version.Current(),
		Network: s.deps.Supervisor.State(),
		OTA:     s.deps.OTA.Status(),
	}
	if s.deps.Lights != nil {
		st.Lights = s.deps.Lights.State()
	}
	writeJSON(w, http.StatusOK, st)
}

// armReadDeadline sets the deadline for the next body read. Writers that
// cannot carry deadlines, such as test recorders, are read without one.
func (s *Server) armReadDeadline(rc *http.ResponseController) error {
	err := rc.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	if errors.Is(err, http.ErrNotSupported) {
		return nil
	}
	return err
}

// deadlineBody wraps the request body so every read gets a fresh deadline
func (s *Server) deadlineBody(w http.ResponseWriter, r *http.Request) io.Reader {
	return &deadlineReader{r: r.Body, arm: func() error {
		return s.armReadDeadline(http.NewResponseController(w))
	}}
}

type deadlineReader struct {
	r   io.Reader
	arm func() error
}

func (d *deadlineReader) Read(p []byte) (int, error) {
	if err := d.arm(); err != nil {
		return 0, err
	}
	return d.r.Read(p)
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("Failed to encode response", zap.Error(err))
	}
}

// statusRecorder captures the response code for logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(p)
}

// Unwrap lets http.ResponseController reach the connection
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack supports the WebSocket upgrade
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer %T cannot be hijacked", r.ResponseWriter)
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logging.LogHTTPRequest(r.RemoteAddr, r.Method, r.URL.Path, r.ContentLength)
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		logging.LogHTTPResponse(r.RemoteAddr, r.URL.Path, rec.status)
	})
}
