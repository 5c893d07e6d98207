// Package websocket provides real-time event streaming via WebSocket.
//
// Clients can connect to /api/v1/runs/:id/ws to receive run and phase
// lifecycle events as they happen.
package websocket
