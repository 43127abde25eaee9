package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/telekom/copilot-gateway/pkg/copilot"
	"github.com/telekom/copilot-gateway/pkg/retry"
	"github.com/telekom/copilot-gateway/pkg/system"
)

// Error types of the OpenAI error envelope.
const (
	errTypeInvalidRequest = "invalid_request_error"
	errTypeAuthentication = "authentication_error"
	errTypeNotFound       = "not_found_error"
	errTypeUpstream       = "upstream_error"
	errTypeTimeout        = "timeout_error"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func abortWithError(c *gin.Context, status int, typ, message string) {
	c.AbortWithStatusJSON(status, errorBody{Error: errorDetail{Message: message, Type: typ}})
}

// writeUpstreamError maps a failed upstream call onto the response. HTTP
// failures are relayed with the upstream status and body; transport
// failures become 502 (504 on deadline).
func (s *Server) writeUpstreamError(c *gin.Context, err error) {
	log := system.GetReqLogger(c, s.log)

	var execErr *retry.ExecutionError
	var httpErr *copilot.HTTPError
	switch {
	case errors.Is(err, copilot.ErrNoToken):
		abortWithError(c, http.StatusUnauthorized, errTypeAuthentication,
			"no GitHub token available; run 'copilotctl auth login' or POST /auth/device")
	case errors.As(err, &execErr) && !execErr.Transport() && execErr.StatusCode != 0:
		log.Infow("Upstream request failed", "status", execErr.StatusCode, "attempts", execErr.Attempts)
		c.Header(UpstreamAttemptsHeader, strconv.Itoa(execErr.Attempts))
		if json.Valid(execErr.Body) {
			c.Data(execErr.StatusCode, "application/json", execErr.Body)
			c.Abort()
			return
		}
		msg := strings.TrimSpace(string(execErr.Body))
		if msg == "" {
			msg = http.StatusText(execErr.StatusCode)
		}
		abortWithError(c, execErr.StatusCode, errTypeUpstream, msg)
	case errors.As(err, &httpErr):
		abortWithError(c, httpErr.StatusCode, errTypeUpstream, httpErr.Message)
	case errors.Is(err, context.DeadlineExceeded):
		log.Warnw("Upstream request timed out", "error", err)
		abortWithError(c, http.StatusGatewayTimeout, errTypeTimeout, err.Error())
	default:
		log.Warnw("Upstream request failed", "error", err)
		if execErr != nil {
			c.Header(UpstreamAttemptsHeader, strconv.Itoa(execErr.Attempts))
		}
		abortWithError(c, http.StatusBadGateway, errTypeUpstream, err.Error())
	}
}
