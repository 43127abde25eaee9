package proxy

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/telekom/copilot-gateway/pkg/system"
)

// MaxRequestBytes caps the size of a proxied completion request.
const MaxRequestBytes = 8 << 20

const modelOwner = "github-copilot"

// completionProbe is the part of a completion request the proxy checks
// before forwarding the body unchanged.
type completionProbe struct {
	Stream   bool              `json:"stream"`
	Messages []json.RawMessage `json:"messages"`
}

func (s *Server) chatCompletions(c *gin.Context) {
	log := system.GetReqLogger(c, s.log)

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abortWithError(c, http.StatusRequestEntityTooLarge, errTypeInvalidRequest, "request body too large")
			return
		}
		abortWithError(c, http.StatusBadRequest, errTypeInvalidRequest, "failed to read request body")
		return
	}
	var probe completionProbe
	if err := json.Unmarshal(body, &probe); err != nil {
		abortWithError(c, http.StatusBadRequest, errTypeInvalidRequest, "request body is not valid JSON")
		return
	}
	if probe.Stream {
		abortWithError(c, http.StatusBadRequest, errTypeInvalidRequest, "streaming responses are not supported")
		return
	}
	if len(probe.Messages) == 0 {
		abortWithError(c, http.StatusBadRequest, errTypeInvalidRequest, "messages must not be empty")
		return
	}

	resp, err := s.deps.Client.ChatRaw(c.Request.Context(), body)
	if err != nil {
		s.writeUpstreamError(c, err)
		return
	}
	log.Debugw("Completion proxied", "attempts", resp.Attempts, "upstreamRequestID", resp.RequestID)
	c.Header(UpstreamRequestIDHeader, resp.RequestID)
	c.Header(UpstreamAttemptsHeader, strconv.Itoa(resp.Attempts))
	c.Data(resp.StatusCode, "application/json", resp.Body)
}

type modelObject struct {
	ID       string `json:"id"`
	Object   string `json:"object"`
	Created  int64  `json:"created"`
	OwnedBy  string `json:"owned_by"`
	Name     string `json:"name,omitempty"`
	Category string `json:"category,omitempty"`
	Preview  bool   `json:"preview,omitempty"`
}

type modelList struct {
	Object string        `json:"object"`
	Data   []modelObject `json:"data"`
}

func (s *Server) listModels(c *gin.Context) {
	models, err := s.deps.Client.ListModels(c.Request.Context())
	if err != nil {
		s.writeUpstreamError(c, err)
		return
	}
	out := modelList{Object: "list", Data: make([]modelObject, 0, len(models))}
	for _, m := range models {
		if m.Embedding() {
			continue
		}
		owner := m.Vendor
		if owner == "" {
			owner = modelOwner
		}
		out.Data = append(out.Data, modelObject{
			ID:       m.ID,
			Object:   "model",
			OwnedBy:  owner,
			Name:     m.Name,
			Category: m.ModelPickerCategory,
			Preview:  m.Preview,
		})
	}
	c.JSON(http.StatusOK, out)
}

// statsResponse is the counter snapshot plus the active retry policy.
type statsResponse struct {
	Total       uint64    `json:"total"`
	Success     uint64    `json:"success"`
	Fail        uint64    `json:"fail"`
	Retries     uint64    `json:"retries"`
	SuccessRate float64   `json:"successRate"`
	Retry       retryInfo `json:"retry"`
}

type retryInfo struct {
	Enabled           bool    `json:"enabled"`
	MaxAttempts       int     `json:"maxAttempts"`
	DelaySeconds      float64 `json:"delaySeconds"`
	RetryOn400        bool    `json:"retryOn400"`
	RetryOn429        bool    `json:"retryOn429"`
	RetryOn5xx        bool    `json:"retryOn5xx"`
	RetryOnModelError bool    `json:"retryOnModelError"`
}

func (s *Server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.statsResponse())
}

func (s *Server) resetStats(c *gin.Context) {
	s.deps.Client.Stats().Reset()
	system.GetReqLogger(c, s.log).Infow("Statistics reset")
	c.JSON(http.StatusOK, s.statsResponse())
}

func (s *Server) statsResponse() statsResponse {
	snap := s.deps.Client.Stats().Snapshot()
	resp := statsResponse{
		Total:   snap.Total,
		Success: snap.Success,
		Fail:    snap.Fail,
		Retries: snap.Retries,
	}
	p := s.deps.Client.Policy()
	resp.Retry = retryInfo{
		Enabled:           p.Enabled,
		MaxAttempts:       p.MaxAttempts,
		DelaySeconds:      p.Delay.Seconds(),
		RetryOn400:        p.RetryOn400,
		RetryOn429:        p.RetryOn429,
		RetryOn5xx:        p.RetryOn5xx,
		RetryOnModelError: p.RetryOnModelError,
	}
	if snap.Total > 0 {
		resp.SuccessRate = float64(snap.Success) / float64(snap.Total) * 100
	}
	return resp
}
