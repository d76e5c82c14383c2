// Package router implements the Channel Router.
//
// The Router drains decoded frames from the connection Manager, looks up the
// consumers registered for each frame's channel, applies the relevance
// filter and delivers the frame to every consumer in registration order.
// Frames for channels without consumers are dropped; this is the normal
// outcome of frames racing a consumer's teardown.
//
// Registration also drives the subscription lifecycle: the first consumer on
// a channel subscribes it, the last one to leave unsubscribes it.
package router
