// Package deviceauth implements the OAuth2 device authorization grant as an
// explicit state machine. A Session requests a device code, then polls the
// token endpoint on an injected Scheduler until the user approves, the
// provider rejects the code, or the caller cancels. Flow keeps at most one
// Session live at a time.
package deviceauth
