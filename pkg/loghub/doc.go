// Package loghub is the core of the structured-logging pipeline. A Hub owns
// the runtime configuration and a name-keyed transport registry; module
// scoped Loggers feed it leveled calls which pass through level filtering,
// sampling, context merging, normalization and redaction before fanning out
// to every registered transport.
//
// The pipeline never raises back to a logging caller: transport failures are
// isolated per sink and reported through an out-of-band error handler, so at
// worst a reduced set of destinations receives an entry.
//
//	hub, _ := loghub.New(loghub.DefaultConfig())
//	log := hub.Logger("workflow")
//	log.Info("step finished", map[string]interface{}{"step": "plan"})
//
// Heavier sinks (the persistent store, the remote shipper and the trace
// bridges) live in pkg/transports.
package loghub
