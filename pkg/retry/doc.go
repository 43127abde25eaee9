// Package retry decides which failed downstream calls are retried and runs
// calls through a bounded, fixed-delay attempt loop that feeds the shared
// request counters.
package retry
