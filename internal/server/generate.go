package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	gateway "github.com/fitstack/llmgate/internal"
)

// maxGenerateBody bounds the request body size (1 MB).
const maxGenerateBody = 1 << 20

// generateRequest is the wire form of a generation request. The tier travels
// as a string and is parsed into the internal type.
type generateRequest struct {
	gateway.Request
	Tier string `json:"user_tier,omitempty"`
}

func (s *server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var gr generateRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxGenerateBody)
	if err := json.NewDecoder(r.Body).Decode(&gr); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("INVALID_REQUEST", "invalid request body: "+err.Error()))
		return
	}

	req := gr.Request
	req.UserTier = gateway.ParseTier(gr.Tier)

	if req.Stream {
		s.handleGenerateStream(w, r, &req)
		return
	}

	resp, err := s.deps.Gateway.Process(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGenerateStream serves the response as an SSE stream. The pipeline
// produces the complete response; it is framed as a single data event
// followed by the termination sentinel.
func (s *server) handleGenerateStream(w http.ResponseWriter, r *http.Request, req *gateway.Request) {
	resp, err := s.deps.Gateway.Process(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSSEHeaders(w)
	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("ResponseWriter does not implement http.Flusher")
		return
	}

	data, err := json.Marshal(resp)
	if err != nil {
		slog.LogAttrs(r.Context(), slog.LevelError, "stream encode failed",
			slog.String("error", err.Error()),
		)
		writeSSEDone(w)
		flusher.Flush()
		return
	}
	writeSSEData(w, data)
	writeSSEDone(w)
	flusher.Flush()
}

// apiError is the JSON error envelope. Kind carries the stable error
// taxonomy; dimensions names the failing limits on budget rejections.
type apiError struct {
	Error struct {
		Kind       string   `json:"kind"`
		Message    string   `json:"message"`
		Dimensions []string `json:"dimensions,omitempty"`
	} `json:"error"`
}

func errorResponse(kind, msg string) apiError {
	var e apiError
	e.Error.Kind = kind
	e.Error.Message = msg
	return e
}

// writeError maps a pipeline error to its HTTP status and envelope.
func writeError(w http.ResponseWriter, err error) {
	var ge *gateway.Error
	if !errors.As(err, &ge) {
		writeJSON(w, http.StatusInternalServerError, errorResponse(string(gateway.KindInternal), "internal error"))
		return
	}
	resp := errorResponse(string(ge.Kind), ge.Message)
	resp.Error.Dimensions = ge.Dimensions
	writeJSON(w, errorStatus(ge.Kind), resp)
}

func errorStatus(kind gateway.ErrorKind) int {
	switch kind {
	case gateway.KindInvalidRequest:
		return http.StatusBadRequest
	case gateway.KindRateLimited:
		return http.StatusTooManyRequests
	case gateway.KindBudgetExceeded:
		return http.StatusPaymentRequired
	case gateway.KindNotReady, gateway.KindNoModel:
		return http.StatusServiceUnavailable
	case gateway.KindTimeout:
		return http.StatusGatewayTimeout
	case gateway.KindUpstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// jsonCT is a pre-allocated header value slice. Direct map assignment avoids
// the []string{v} alloc that Header.Set creates on every call.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
