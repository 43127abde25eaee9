// Package settings loads and persists the copilotctl YAML configuration,
// including retry behaviour and the persisted request statistics.
package settings
