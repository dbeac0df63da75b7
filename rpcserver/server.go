// Package rpcserver exposes the store's command surface as JSON over HTTP.
// Commands are posted to /rpc as {"method": ..., "params": {...}} and map
// one-to-one onto store calls.
package rpcserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"trustmesh/core"
)

// Server serves the RPC command surface for one store.
type Server struct {
	store *core.Store
	log   *logrus.Logger
	mux   *chi.Mux
}

// New wires a Server around the store.
func New(store *core.Store, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{store: store, log: log}
	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Post("/rpc", s.handleRPC)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.mux = r
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe blocks serving on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.log.Infof("rpc server listening on %s", addr)
	return http.ListenAndServe(addr, s.mux)
}

type rpcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcResponse struct {
	Result any    `json:"result"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, rpcResponse{Error: "malformed request"})
		return
	}
	handler, ok := commands[req.Method]
	if !ok {
		writeJSON(w, http.StatusNotFound, rpcResponse{Error: "unknown method " + req.Method})
		return
	}
	result, err := handler(s, req.Params)
	if err != nil {
		writeJSON(w, statusFor(err), rpcResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rpcResponse{Result: result})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidFormat),
		errors.Is(err, core.ErrInvalidSignature),
		errors.Is(err, core.ErrUnknownKey):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotEnoughSpace):
		return http.StatusInsufficientStorage
	case errors.Is(err, core.ErrShutdown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
