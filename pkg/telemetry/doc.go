// Package telemetry bundles the observability surface of the orchestrator:
// structured logging (zerolog), Prometheus metrics, and OpenTelemetry
// tracing, behind one Config.
//
// The scheduler itself only emits engine.Events and log lines; Recorder
// subscribes to those events and keeps the metrics in sync, so the engine
// stays free of any metrics dependency.
package telemetry
