// Package api implements the HTTP REST API and WebSocket server of the fleet
// daemon.
//
// This package provides:
//   - REST endpoints to register devices, start actions and poll their status
//   - An outcome endpoint for agents that report over HTTP instead of MQTT
//   - WebSocket hub streaming device and action status changes
//   - Middleware stack (request ID, tracing, logging, recovery, CORS)
//   - TLS support for production deployments
//
// # Architecture
//
// Writes go through the orchestrator, which owns device status and the
// action lifecycle. Reads go through the query service. Orchestrator events
// reach WebSocket clients through the Hub, which the daemon creates first
// and hands to both.
//
// # Error Mapping
//
// Domain errors become HTTP statuses in one place (writeDomainError):
// not found 404, conflicts (already exists, device busy or offline, invalid
// transition) 409, invalid arguments 400.
//
// # Graceful Degradation
//
// The server runs without MQTT or InfluxDB. Health reports them as
// degraded.
package api
