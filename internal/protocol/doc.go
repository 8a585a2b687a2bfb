// Package protocol owns the IPC wire contract.
//
// Ownership boundary:
// - frame: fixed 8-byte header + JSON payload primitives
// - session: handshake/command encoders, inbound event decoders, presence mailbox, engine config
package protocol
