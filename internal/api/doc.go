// Package api implements the HTTP control surface: stream lifecycle
// endpoints, media-server viewer hooks, telemetry queries, and the WebSocket
// event feed.
package api
