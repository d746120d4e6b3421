package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/openrig/rigcore/internal/handle"
)

// statePayload is the body broadcast to WebSocket subscribers for every
// property-change batch.
type statePayload struct {
	UID   string         `json:"uid"`
	Props map[string]any `json:"props"`
}

// commandRequest is the body of a command invocation.
type commandRequest struct {
	Args   []any          `json:"args,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

// deviceHandle resolves the {uid} path parameter to a handle. Writes a
// 404 and returns nil when the device is not exposed by this rig.
func (s *Server) deviceHandle(w http.ResponseWriter, r *http.Request) *handle.Handle {
	uid := chi.URLParam(r, "uid")
	h, ok := s.handles.Handles()[uid]
	if !ok {
		writeNotFound(w, "unknown device: "+uid)
		return nil
	}
	return h
}

// writeDeviceError maps a handle error to an HTTP response. Failures the
// device itself reported become 422s carrying the device's message;
// anything else is a transport fault.
func writeDeviceError(w http.ResponseWriter, err error) {
	if errors.Is(err, handle.ErrOperationFailed) {
		writeError(w, http.StatusUnprocessableEntity, ErrCodeDevice, err.Error())
		return
	}
	writeInternalError(w, err.Error())
}

// handleListDevices returns the uids of all exposed devices, sorted.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	handles := s.handles.Handles()
	uids := make([]string, 0, len(handles))
	for uid := range handles {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	writeJSON(w, http.StatusOK, map[string]any{"devices": uids})
}

// handleInterface returns the device's declared interface snapshot.
func (s *Server) handleInterface(w http.ResponseWriter, r *http.Request) {
	h := s.deviceHandle(w, r)
	if h == nil {
		return
	}

	iface, err := h.Interface()
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, iface)
}

// handleGetProps reads device properties. An optional names query
// parameter (comma-separated) selects a subset; the default is all.
func (s *Server) handleGetProps(w http.ResponseWriter, r *http.Request) {
	h := s.deviceHandle(w, r)
	if h == nil {
		return
	}

	var names []string
	if raw := r.URL.Query().Get("names"); raw != "" {
		names = strings.Split(raw, ",")
	}

	props, err := h.Props(names...)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"props": props})
}

// handleSetProps writes a batch of device properties. The whole batch is
// validated before any value is applied, so a response is all-or-nothing.
func (s *Server) handleSetProps(w http.ResponseWriter, r *http.Request) {
	h := s.deviceHandle(w, r)
	if h == nil {
		return
	}

	var kv map[string]any
	if err := json.NewDecoder(r.Body).Decode(&kv); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if len(kv) == 0 {
		writeBadRequest(w, "empty property batch")
		return
	}

	if err := h.SetProps(kv); err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleCommand invokes a named device command with positional and
// keyword arguments.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	h := s.deviceHandle(w, r)
	if h == nil {
		return
	}
	name := chi.URLParam(r, "name")

	var req commandRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid JSON body: "+err.Error())
			return
		}
	}

	value, err := h.CallKw(name, req.Args, req.Kwargs)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"value": value})
}
