// Package rpc is the rich-presence protocol engine.
//
// A Client discovers the companion app socket, performs the versioned
// handshake, subscribes to the social events and then runs two goroutines per
// connection: a receive loop that polls for frames and dispatches events, and a
// presence scheduler that flushes the latest pending activity at a fixed
// cadence. Reconnection is left to the caller.
package rpc
