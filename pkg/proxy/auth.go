package proxy

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/telekom/copilot-gateway/pkg/credentials"
	"github.com/telekom/copilot-gateway/pkg/deviceauth"
	"github.com/telekom/copilot-gateway/pkg/system"
)

// deviceAuthResponse reports a device login. Durations are in seconds.
type deviceAuthResponse struct {
	State                   string     `json:"state"`
	UserCode                string     `json:"user_code,omitempty"`
	VerificationURI         string     `json:"verification_uri,omitempty"`
	VerificationURIComplete string     `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int        `json:"expires_in,omitempty"`
	ExpiresAt               *time.Time `json:"expires_at,omitempty"`
	Interval                int        `json:"interval,omitempty"`
	Polls                   int        `json:"polls"`
	Error                   string     `json:"error,omitempty"`
}

func describeSession(session *deviceauth.Session) deviceAuthResponse {
	resp := deviceAuthResponse{
		State:    session.State().String(),
		Interval: int(session.PollInterval() / time.Second),
		Polls:    session.Polls(),
	}
	if code, ok := session.Code(); ok {
		resp.UserCode = code.UserCode
		resp.VerificationURI = code.VerificationURI
		resp.VerificationURIComplete = code.VerificationURIComplete
		resp.ExpiresIn = int(code.ExpiresIn / time.Second)
		if at := code.ExpiresAt(); !at.IsZero() {
			resp.ExpiresAt = &at
		}
	}
	if _, err := session.Result(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// startDeviceAuth cancels any pending login and starts a new one. The
// credential is stored for the proxy's profile once the user approves.
func (s *Server) startDeviceAuth(c *gin.Context) {
	log := system.GetReqLogger(c, s.log)

	session, _, err := s.flow.Start(c.Request.Context())
	if err != nil {
		var startErr *deviceauth.AuthStartError
		if errors.As(err, &startErr) {
			log.Warnw("Device authorization could not be started", "error", err)
			abortWithError(c, http.StatusBadGateway, errTypeUpstream, err.Error())
			return
		}
		abortWithError(c, http.StatusConflict, errTypeInvalidRequest, err.Error())
		return
	}
	go s.storeOnSuccess(session)

	log.Infow("Device authorization started", "profile", s.deps.Profile)
	c.JSON(http.StatusCreated, describeSession(session))
}

func (s *Server) getDeviceAuth(c *gin.Context) {
	session := s.flow.Current()
	if session == nil {
		abortWithError(c, http.StatusNotFound, errTypeNotFound, "no device authorization has been started")
		return
	}
	c.JSON(http.StatusOK, describeSession(session))
}

func (s *Server) cancelDeviceAuth(c *gin.Context) {
	session := s.flow.Current()
	if session == nil {
		abortWithError(c, http.StatusNotFound, errTypeNotFound, "no device authorization has been started")
		return
	}
	session.Cancel()
	c.JSON(http.StatusOK, describeSession(session))
}

func (s *Server) storeOnSuccess(session *deviceauth.Session) {
	<-session.Done()
	cred, err := session.Result()
	if err != nil {
		return
	}
	token := credentials.FromCredential(*cred, s.deps.Now())
	if err := s.deps.Tokens.SaveToken(s.deps.Profile, token); err != nil {
		s.log.Errorw("Failed to store device authorization token", "profile", s.deps.Profile, "error", err)
		return
	}
	s.log.Infow("Device authorization token stored", "profile", s.deps.Profile, "backend", s.deps.Tokens.Backend())
}
