// Package dedupe remembers recently dispatched messages per conversation so
// callers can ask whether the same text was already sent within a window.
//
// Records are appended after a confirmed send and removed by a periodic
// sweep once they reach the retention horizon (five minutes by default).
// Queries apply their own window regardless of sweep timing.
package dedupe
