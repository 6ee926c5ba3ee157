package server

import "net/http"

// Pre-allocated response bodies and header value slice for the health
// endpoints; saves the per-call allocations Header.Set and []byte("ok")
// would cost.
var (
	okBody       = []byte("ok")
	notReadyBody = []byte("not ready")
	plainCT      = []string{"text/plain"}
)

func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header()["Content-Type"] = plainCT
	w.WriteHeader(http.StatusOK)
	w.Write(okBody)
}

// handleReadyz reports ready only when the gateway is initialized and the
// store answers a ping.
func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ready := s.deps.Gateway.Ready()
	if ready && s.deps.Store != nil {
		ready = s.deps.Store.Ping(r.Context()) == nil
	}
	w.Header()["Content-Type"] = plainCT
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write(notReadyBody)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(okBody)
}
