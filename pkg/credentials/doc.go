// Package credentials stores GitHub access tokens per profile, either in the
// OS keychain or in a 0600 JSON file next to the CLI config.
package credentials
