/*
SPDX-FileCopyrightText: 2025 Deutsche Telekom AG

SPDX-License-Identifier: Apache-2.0
*/

package cmd

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"github.com/telekom/copilot-gateway/pkg/deviceauth"
	"github.com/telekom/copilot-gateway/pkg/settings"
)

func init() {
	color.NoColor = true
}

// fastScheduler fires every login poll after a millisecond.
type fastScheduler struct{}

func (fastScheduler) AfterFunc(_ time.Duration, f func()) deviceauth.Timer {
	return time.AfterFunc(time.Millisecond, f)
}

// fakeGitHub serves the Copilot API, the GitHub internal usage endpoints
// and the device flow endpoints.
type fakeGitHub struct {
	srv *httptest.Server

	mu          sync.Mutex
	chatStatus  int
	chatBody    string
	tokenReply  string
	lastAuth    string
	lastChat    string
	openedPages []string
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	t.Helper()
	g := &fakeGitHub{
		chatStatus: http.StatusOK,
		chatBody:   `{"id":"c1","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"hello there"}}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`,
		tokenReply: `{"access_token":"gho_device","token_type":"bearer","scope":"read:user,user:email,copilot"}`,
	}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		g.mu.Lock()
		defer g.mu.Unlock()
		if auth := r.Header.Get("Authorization"); auth != "" {
			g.lastAuth = auth
		}
		switch r.URL.Path {
		case "/chat/completions":
			body, _ := io.ReadAll(r.Body)
			g.lastChat = string(body)
			w.WriteHeader(g.chatStatus)
			_, _ = io.WriteString(w, g.chatBody)
		case "/models":
			_, _ = io.WriteString(w, `{"data":[
				{"id":"gpt-4o","name":"GPT-4o","model_picker_category":"versatile","capabilities":{"limits":{"max_context_window_tokens":128000,"max_output_tokens":4096}}},
				{"id":"o3","name":"o3","model_picker_category":"powerful","preview":true}]}`)
		case "/gh/copilot_internal/v2/token":
			_, _ = io.WriteString(w, `{"sku":"copilot_for_individuals","chat_enabled":true,"expires_at":1735689600}`)
		case "/gh/copilot_internal/user":
			_, _ = io.WriteString(w, `{"copilot_plan":"individual_pro","quota_reset_date":"2025-02-01",
				"quota_snapshots":{"premium_interactions":{"entitlement":300,"remaining":120,"percent_remaining":40}}}`)
		case "/login/device/code":
			_, _ = io.WriteString(w, `{"device_code":"D1","user_code":"ABCD-1234","verification_uri":"https://example/verify","expires_in":900,"interval":5}`)
		case "/login/oauth/access_token":
			_, _ = io.WriteString(w, g.tokenReply)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGitHub) set(f func(g *fakeGitHub)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f(g)
}

func (g *fakeGitHub) get() (auth, chat string, pages []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastAuth, g.lastChat, append([]string(nil), g.openedPages...)
}

type testEnv struct {
	t          *testing.T
	gh         *fakeGitHub
	configPath string
}

// newTestEnv writes a config pointing every endpoint at a fake GitHub and
// storing tokens in a file next to it.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	for _, key := range []string{"OUTPUT", "TOKEN", "TOKEN_STORAGE", "PROFILE", "API_BASE", "VERBOSE", "NO_COLOR"} {
		// registers restoration, then unset for the duration of the test
		t.Setenv("COPILOTCTL_"+key, "")
		require.NoError(t, os.Unsetenv("COPILOTCTL_"+key))
	}
	gh := newFakeGitHub(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := settings.DefaultConfig()
	cfg.Settings.TokenStorage = "file"
	cfg.API.BaseURL = gh.srv.URL
	cfg.API.GitHubAPIURL = gh.srv.URL + "/gh"
	cfg.OAuth.DeviceAuthURL = gh.srv.URL + "/login/device/code"
	cfg.OAuth.TokenURL = gh.srv.URL + "/login/oauth/access_token"
	cfg.Retry.DelaySeconds = 0
	require.NoError(t, settings.Save(path, &cfg))

	return &testEnv{t: t, gh: gh, configPath: path}
}

func (e *testEnv) run(stdin string, args ...string) (string, error) {
	e.t.Helper()
	out := &bytes.Buffer{}
	root := NewRootCommand(Config{
		ConfigPath:   e.configPath,
		OutputWriter: out,
		ErrWriter:    io.Discard,
		InputReader:  strings.NewReader(stdin),
		OpenBrowser: func(url string) error {
			e.gh.set(func(g *fakeGitHub) { g.openedPages = append(g.openedPages, url) })
			return nil
		},
		Scheduler: fastScheduler{},
		Now:       func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func (e *testEnv) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run("", args...)
	require.NoError(e.t, err, out)
	return out
}
