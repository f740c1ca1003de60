// Package executor runs queued pipeline runs on a pool of workers.
//
// Each worker claims one run at a time and executes its steps strictly
// in order: guard evaluation, subprocess spawn, timeout enforcement,
// output capture, and step result recording. The first failing step
// halts the run; remaining steps are recorded as skipped. Runs never
// share state, so matrix siblings proceed regardless of each other's
// outcome.
package executor
