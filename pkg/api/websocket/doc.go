// Package websocket provides real-time event streaming via WebSocket.
//
// Clients can connect to /api/v1/processes/:id/ws to receive the lifecycle
// events of a process as JSON text messages. The connection is closed after
// the process reaches a terminal state.
package websocket
