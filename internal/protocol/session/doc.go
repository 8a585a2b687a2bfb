// Package session owns the JSON layer carried inside frames.
//
// Ownership boundary:
// - handshake and outbound command encoders (SUBSCRIBE, SET_ACTIVITY, join replies)
// - inbound event and CLOSE decoders with fail-soft validation
// - request nonces
// - pending presence mailbox
// - engine cadence/timeouts config and retry backoff
package session
