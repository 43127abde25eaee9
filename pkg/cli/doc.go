// Package cli defines the flag configuration and parsing for the
// copilot-proxy binary, with environment variable fallbacks for every flag.
package cli
