package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"ledstrip-bridge/internal/automation"
	"ledstrip-bridge/internal/device"
	"ledstrip-bridge/internal/hub"
	"ledstrip-bridge/internal/light"
	"ledstrip-bridge/internal/store"
)

const maxBody = 1 << 20

func (s *Server) handleAPIListStrips(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.hub.States())
}

type addStripRequest struct {
	Host string `json:"host"`
	Name string `json:"name"`
}

func (s *Server) handleAPIAddStrip(w http.ResponseWriter, r *http.Request) {
	var req addStripRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	if req.Host == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "host is required"})
		return
	}

	st, err := s.hub.Add(req.Host, req.Name)
	if err != nil {
		s.writeError(w, "add strip", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleAPIGetStrip(w http.ResponseWriter, r *http.Request) {
	st, err := s.hub.State(r.PathValue("host"))
	if err != nil {
		s.writeError(w, "get strip", err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

type renameStripRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleAPIRenameStrip(w http.ResponseWriter, r *http.Request) {
	var req renameStripRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	host := r.PathValue("host")
	if req.Name == "" {
		req.Name = host
	}

	st, err := s.hub.Rename(host, req.Name)
	if err != nil {
		s.writeError(w, "rename strip", err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleAPIDeleteStrip(w http.ResponseWriter, r *http.Request) {
	if err := s.hub.Remove(r.PathValue("host")); err != nil {
		s.writeError(w, "delete strip", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// turnOnRequest mirrors light.Intent with the transition given in seconds.
type turnOnRequest struct {
	White      *int          `json:"white"`
	Brightness *int          `json:"brightness"`
	HS         *light.HueSat `json:"hs_color"`
	Effect     string        `json:"effect"`
	Transition *float64      `json:"transition"`
}

func (req turnOnRequest) intent() light.Intent {
	in := light.Intent{
		White:      req.White,
		Brightness: req.Brightness,
		HS:         req.HS,
		Effect:     req.Effect,
	}
	if req.Transition != nil {
		d := time.Duration(*req.Transition * float64(time.Second))
		in.Transition = &d
	}
	return in
}

func (s *Server) handleAPITurnOn(w http.ResponseWriter, r *http.Request) {
	var req turnOnRequest
	if !s.decode(w, r, &req, true) {
		return
	}
	if req.Effect != "" && req.Effect != light.EffectPlaceholder {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown effect"})
		return
	}

	st, err := s.hub.TurnOn(r.Context(), r.PathValue("host"), req.intent())
	if err != nil {
		s.writeError(w, "turn on", err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleAPITurnOff(w http.ResponseWriter, r *http.Request) {
	st, err := s.hub.TurnOff(r.Context(), r.PathValue("host"))
	if err != nil {
		s.writeError(w, "turn off", err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleAPIPoll(w http.ResponseWriter, r *http.Request) {
	st, err := s.hub.Poll(r.Context(), r.PathValue("host"))
	if err != nil {
		s.writeError(w, "poll", err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleAPIInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.hub.Info(r.Context(), r.PathValue("host"))
	if err != nil {
		s.writeError(w, "info", err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

// decode reads a JSON request body. An empty body is accepted when
// allowEmpty is set.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}
	s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	return false
}

// writeError maps an operation error to an HTTP status.
func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, hub.ErrUnknownStrip),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, automation.ErrScriptNotFound):
		status = http.StatusNotFound
	case errors.Is(err, hub.ErrExists):
		status = http.StatusConflict
	case device.IsConnectionError(err):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error(op, "err", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
