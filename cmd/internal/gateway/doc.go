// Package gateway owns the websocket surface: connection lifecycle,
// request batching, control-name interception and the broadcast hub
// that pushes events to subscribed connections.
package gateway
