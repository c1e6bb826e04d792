// Package api provides the HTTP API of the PvD daemon.
// It exposes REST endpoints for PvD management and address events,
// Prometheus metrics, and SSE streams of registry changes and log lines.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/pvdd/internal/log"
	"github.com/zjrosen/pvdd/internal/provisioning"
	"github.com/zjrosen/pvdd/internal/pvd"
	"github.com/zjrosen/pvdd/internal/tracing"
)

const heartbeatInterval = 30 * time.Second

// Handler provides HTTP endpoints for provisioning operations.
type Handler struct {
	svc       *provisioning.Service
	addresses pvd.AddressChangeHandler
	gatherer  prometheus.Gatherer
	tracer    trace.Tracer
}

// HandlerConfig configures the API handler.
type HandlerConfig struct {
	// Service mediates every registry change (required).
	Service *provisioning.Service
	// Addresses receives injected address events (optional).
	// If nil, events are applied to Service directly and the response
	// lists the evicted PvDs.
	Addresses pvd.AddressChangeHandler
	// Gatherer backs /metrics. Defaults to the Prometheus default gatherer.
	Gatherer prometheus.Gatherer
	// Tracer wraps each request in a server span (optional).
	Tracer trace.Tracer
}

// NewHandler creates a new API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		svc:       cfg.Service,
		addresses: cfg.Addresses,
		gatherer:  gatherer,
		tracer:    cfg.Tracer,
	}
}

// Routes returns an http.Handler with all API routes registered.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(tracing.HTTPMiddleware(h.tracer))

	// PvD CRUD
	r.Get("/pvds", h.List)
	r.Get("/pvds/{id}", h.Get)
	r.Put("/pvds/{id}", h.Put)
	r.Patch("/pvds/{id}", h.Patch)
	r.Delete("/pvds/{id}", h.Delete)
	r.Put("/pvds/{id}/attributes/{key}", h.SetAttribute)
	r.Delete("/pvds/{id}/attributes/{key}", h.RemoveAttribute)
	r.Put("/pvds/{id}/addresses/{addr}", h.Associate)
	r.Delete("/pvds/{id}/addresses/{addr}", h.Dissociate)

	// Address liveness
	r.Get("/addresses", h.ListAddresses)
	r.Get("/addresses/{addr}", h.GetAddress)
	r.Post("/address-events", h.AddressEvent)

	// Streaming
	r.Get("/events", h.StreamEvents)
	r.Get("/logs", h.StreamLogs)

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	return r
}

// === Request/Response Types ===

// PutPvDRequest is the request body for declaring a PvD.
type PutPvDRequest struct {
	// Attributes replace the current attributes, in order.
	Attributes []pvd.Attribute `json:"attributes"`
	// Addresses replace the current address associations.
	Addresses []netip.Addr `json:"addresses,omitempty"`
}

// PatchPvDRequest is the request body for changing several attributes at once.
type PatchPvDRequest struct {
	Set    []pvd.Attribute `json:"set,omitempty"`
	Remove []string        `json:"remove,omitempty"`
}

// SetAttributeRequest is the request body for setting one attribute.
type SetAttributeRequest struct {
	Value string `json:"value"`
}

// ListPvDsResponse is the response body for listing PvDs.
type ListPvDsResponse struct {
	PvDs  []provisioning.Snapshot `json:"pvds"`
	Total int                     `json:"total"`
}

// AddressEventRequest is the request body for injecting an address event.
// Zero lifetimes are infinite.
type AddressEventRequest struct {
	Address           string `json:"address"`
	InterfaceIndex    int    `json:"interface_index"`
	Added             bool   `json:"added"`
	PreferredLifetime int64  `json:"preferred_lifetime_seconds,omitempty"`
	ValidLifetime     int64  `json:"valid_lifetime_seconds,omitempty"`
}

// AddressEventResponse lists the PvDs an address event evicted.
type AddressEventResponse struct {
	Evicted []pvd.Identity `json:"evicted"`
}

// AddressResponse is the liveness state of one address. Zero lifetimes are
// infinite.
type AddressResponse struct {
	Address           netip.Addr `json:"address"`
	InterfaceIndex    int        `json:"interface_index"`
	PreferredLifetime int64      `json:"preferred_lifetime_seconds"`
	ValidLifetime     int64      `json:"valid_lifetime_seconds"`
}

// ListAddressesResponse is the response body for listing addresses.
type ListAddressesResponse struct {
	Addresses []AddressResponse `json:"addresses"`
	Total     int               `json:"total"`
}

func toAddressResponse(st pvd.AddressState) AddressResponse {
	return AddressResponse{
		Address:           st.Address,
		InterfaceIndex:    st.InterfaceIndex,
		PreferredLifetime: int64(st.PreferredLifetime / time.Second),
		ValidLifetime:     int64(st.ValidLifetime / time.Second),
	}
}

// HealthResponse is the response body for the health check.
type HealthResponse struct {
	Status string `json:"status"`
	PvDs   int    `json:"pvds"`
}

// ErrorResponse is the response body for errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// === Handlers ===

// List returns every PvD in creation order.
// GET /pvds
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	pvds := h.svc.List()
	h.writeJSON(w, http.StatusOK, ListPvDsResponse{PvDs: pvds, Total: len(pvds)})
}

// Get returns one PvD.
// GET /pvds/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	snap, ok, err := h.svc.Find(pathParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "PvD not found", "")
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// Put creates or replaces a PvD.
// PUT /pvds/{id}
func (h *Handler) Put(w http.ResponseWriter, r *http.Request) {
	var req PutPvDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON request body", err.Error())
		return
	}

	snap, created, err := h.svc.Apply(r.Context(), provisioning.Declaration{
		Identity:   pathParam(r, "id"),
		Attributes: req.Attributes,
		Addresses:  req.Addresses,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, snap)
}

// Patch sets and removes attributes of an existing PvD atomically.
// PATCH /pvds/{id}
func (h *Handler) Patch(w http.ResponseWriter, r *http.Request) {
	var req PatchPvDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON request body", err.Error())
		return
	}

	snap, err := h.svc.Patch(r.Context(), pathParam(r, "id"), req.Set, req.Remove)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// Delete removes a PvD.
// DELETE /pvds/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	removed, err := h.svc.Remove(r.Context(), pathParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if !removed {
		h.writeError(w, http.StatusNotFound, "not_found", "PvD not found", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetAttribute sets one attribute on an existing PvD.
// PUT /pvds/{id}/attributes/{key}
func (h *Handler) SetAttribute(w http.ResponseWriter, r *http.Request) {
	var req SetAttributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON request body", err.Error())
		return
	}

	snap, err := h.svc.SetAttribute(r.Context(), pathParam(r, "id"), pathParam(r, "key"), req.Value)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// RemoveAttribute deletes one attribute from an existing PvD.
// DELETE /pvds/{id}/attributes/{key}
func (h *Handler) RemoveAttribute(w http.ResponseWriter, r *http.Request) {
	removed, err := h.svc.RemoveAttribute(r.Context(), pathParam(r, "id"), pathParam(r, "key"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if !removed {
		h.writeError(w, http.StatusNotFound, "attribute_not_found", "Attribute not found", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Associate binds an address to an existing PvD.
// PUT /pvds/{id}/addresses/{addr}
func (h *Handler) Associate(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.addrParam(w, r)
	if !ok {
		return
	}
	snap, err := h.svc.Associate(r.Context(), pathParam(r, "id"), addr)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// Dissociate unbinds an address from an existing PvD.
// DELETE /pvds/{id}/addresses/{addr}
func (h *Handler) Dissociate(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.addrParam(w, r)
	if !ok {
		return
	}
	removed, err := h.svc.Dissociate(r.Context(), pathParam(r, "id"), addr)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if !removed {
		h.writeError(w, http.StatusNotFound, "address_not_found", "Address not associated", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAddresses returns the address liveness table.
// GET /addresses
func (h *Handler) ListAddresses(w http.ResponseWriter, r *http.Request) {
	states := h.svc.Addresses()
	out := make([]AddressResponse, 0, len(states))
	for _, st := range states {
		out = append(out, toAddressResponse(st))
	}
	h.writeJSON(w, http.StatusOK, ListAddressesResponse{Addresses: out, Total: len(out)})
}

// GetAddress returns the liveness state of one address.
// GET /addresses/{addr}
func (h *Handler) GetAddress(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.addrParam(w, r)
	if !ok {
		return
	}
	st, ok := h.svc.Address(addr)
	if !ok {
		h.writeError(w, http.StatusNotFound, "address_not_found", "Address not live", "")
		return
	}
	h.writeJSON(w, http.StatusOK, toAddressResponse(st))
}

// AddressEvent injects an address-change event.
// POST /address-events
func (h *Handler) AddressEvent(w http.ResponseWriter, r *http.Request) {
	var req AddressEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON request body", err.Error())
		return
	}

	addr, err := netip.ParseAddr(req.Address)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_address", "Invalid address", err.Error())
		return
	}
	if req.PreferredLifetime < 0 || req.ValidLifetime < 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_lifetime", "Lifetimes must not be negative", "")
		return
	}

	ev := pvd.AddressEvent{
		Address:           addr,
		InterfaceIndex:    req.InterfaceIndex,
		Added:             req.Added,
		PreferredLifetime: time.Duration(req.PreferredLifetime) * time.Second,
		ValidLifetime:     time.Duration(req.ValidLifetime) * time.Second,
	}

	if h.addresses != nil {
		h.addresses.OnAddressChange(ev)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	evicted := h.svc.HandleAddressEvent(r.Context(), ev)
	if evicted == nil {
		evicted = []pvd.Identity{}
	}
	h.writeJSON(w, http.StatusOK, AddressEventResponse{Evicted: evicted})
}

// StreamEvents streams registry changes as server-sent events.
// GET /events
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := h.startStream(w)
	if !ok {
		return
	}

	ctx := r.Context()
	events := h.svc.Subscribe(ctx)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}

			data, err := json.Marshal(event.Payload)
			if err != nil {
				log.Error(log.CatAPI, "Failed to marshal event", "error", err)
				continue
			}

			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// StreamLogs streams daemon log lines as server-sent events. Only lines
// written while debug logging is enabled are available.
// GET /logs
func (h *Handler) StreamLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	listener := log.NewListener(ctx)
	if listener == nil {
		h.writeError(w, http.StatusServiceUnavailable, "logging_disabled", "Logging is not enabled", "start the daemon with --debug")
		return
	}

	flusher, ok := h.startStream(w)
	if !ok {
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case event, ok := <-listener.C():
			if !ok {
				return
			}
			data, _ := json.Marshal(strings.TrimSuffix(event.Payload, "\n"))
			_, _ = fmt.Fprintf(w, "event: log\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// startStream writes the SSE headers and the connected event.
func (h *Handler) startStream(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming_unsupported", "Streaming not supported", "")
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	_, _ = fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()
	return flusher, true
}

// Health reports daemon liveness.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", PvDs: len(h.svc.List())})
}

// === Helpers ===

// pathParam returns the decoded URL parameter name.
func pathParam(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return v
	}
	if unescaped, err := url.PathUnescape(v); err == nil {
		return unescaped
	}
	return v
}

// addrParam parses the addr URL parameter, writing a 400 if it is invalid.
func (h *Handler) addrParam(w http.ResponseWriter, r *http.Request) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(pathParam(r, "addr"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_address", "Invalid address", err.Error())
		return netip.Addr{}, false
	}
	return addr, true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, provisioning.ErrInvalidIdentity):
		h.writeError(w, http.StatusBadRequest, "invalid_identity", "Invalid PvD identity", err.Error())
	case errors.Is(err, pvd.ErrInvalidKey),
		errors.Is(err, provisioning.ErrDuplicateAttribute),
		errors.Is(err, provisioning.ErrInvalidAddress):
		h.writeError(w, http.StatusBadRequest, "invalid_declaration", "Invalid PvD declaration", err.Error())
	case errors.Is(err, pvd.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "PvD not found", "")
	default:
		log.ErrorErr(log.CatAPI, "Request failed", err)
		h.writeError(w, http.StatusInternalServerError, "internal", "Internal error", err.Error())
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error(log.CatAPI, "Failed to encode JSON response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message, details string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}
