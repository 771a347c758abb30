// Package server implements the real-time core of Tether: the connection
// registry, per-connection liveness probing, presence broadcasting, and
// message routing, plus the HTTP surface that surrounds them.
//
// The implementation is organized into specialized files for configuration,
// hub management, clients, the heartbeat state machine, routing, and HTTP
// handlers to keep the codebase maintainable and testable as the project
// grows.
package server
