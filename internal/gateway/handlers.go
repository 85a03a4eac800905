package gateway

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealth is the unauthenticated liveness check. Details are only
// available through the health method.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthReply{Status: "ok"})
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found", "path": r.URL.Path})
}

// MethodFunc serves one RPC method.
type MethodFunc func(c *Call)

// Call is one RPC request in flight. Exactly one of Respond, RespondError
// or fail answers it.
type Call struct {
	Client *Client
	Frame  Frame
	Server *Server
}

// Bind decodes the request params into target. Absent params leave target
// at its zero value. On malformed params the call is answered with
// invalid_params and Bind returns false.
func (c *Call) Bind(target any) bool {
	if len(c.Frame.Params) == 0 {
		return true
	}
	if err := json.Unmarshal(c.Frame.Params, target); err != nil {
		c.RespondError("invalid_params", err.Error())
		return false
	}
	return true
}

func (c *Call) Respond(payload any) {
	c.Server.metrics.RecordRPC(c.Frame.Method, "ok")
	if err := c.Client.Respond(c.Frame.ID, payload); err != nil {
		c.Server.log.Warn().Err(err).Str("method", c.Frame.Method).Msg("failed to send response")
	}
}

func (c *Call) RespondError(code, message string) {
	c.Server.metrics.RecordRPC(c.Frame.Method, code)
	if err := c.Client.RespondError(c.Frame.ID, ErrorShape{Code: code, Message: message}); err != nil {
		c.Server.log.Warn().Err(err).Str("method", c.Frame.Method).Msg("failed to send error response")
	}
}

// fail answers with the protocol code of a session error.
func (c *Call) fail(err error) {
	c.RespondError(errorCode(err), err.Error())
}
