// Package daemon runs one presence engine as a long-lived process: startup
// registration, the reconnect supervisor and the local control API.
package daemon
