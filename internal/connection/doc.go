// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns one WebSocket connection to the token stream
//   - Runs a single loop that owns all state; callers enqueue commands and never block
//   - Keeps subscriptions in registration order and replays them on every connect
//   - Reconnects with capped exponential backoff until Disconnect or Stop
//   - Treats silence longer than the heartbeat timeout like a closed socket
//   - Decodes frames once and hands non-ping frames to the Channel Router
package connection
