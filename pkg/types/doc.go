// Package types defines the rule record, the backend and collaborator
// interfaces, configuration and the standard error types for smartnotifier.
//
// A Rule binds a notification channel, an evaluation position, a keyword and
// a sound designator. Backends persist rules grouped by channel; the
// dispatcher consumes inbound Events and talks to the outside world only
// through EventSource, SinkProvider and CapabilityGate.
package types
