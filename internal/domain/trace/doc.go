// Package trace implements the trace aggregation core.
//
// A trace is the set of log events sharing one traceId. The package folds
// each trace down to a one-line summary and decides, by idleness, when a
// trace is finished:
//   - Summary: pure accumulator over a single trace's events
//   - Registry: traceId -> summary bookkeeping with idle credits and a
//     permanent finished set (no trace is ever reopened)
//   - Sweeper: periodic timer driving Registry.Sweep
//
// Completion is heuristic. There is no end-of-trace marker on the wire, so
// a trace is finalized after K consecutive sweep ticks pass with no new
// events; any event for a live trace resets its countdown.
//
// Example Usage:
//
//	reg := trace.NewRegistry(trace.RegistryConfig{Sink: sink, Logger: log})
//	sw := trace.NewSweeper(reg, 2*time.Second)
//	sw.Start()
//	reg.Add(event)
//	...
//	sw.Stop()
//	reg.Stop()
package trace
