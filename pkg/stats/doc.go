// Package stats keeps the process-wide request counters (total, success,
// fail, retries) shared by every executor in a process.
package stats
