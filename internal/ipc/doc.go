// Package ipc owns the local domain socket to the companion app.
//
// A Transport carries whole frames written in one call and exposes a
// non-blocking poll read so the receive loop never parks on a quiet socket.
// Endpoint discovery helpers resolve the ten candidate socket paths.
package ipc
