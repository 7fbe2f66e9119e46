// Package vbus attaches the bridge to the host-side virtual LIN interface.
//
// The host interface is a SocketCAN network device (vcan) whose 16-byte
// frames carry LIN traffic: a little-endian 32-bit identifier, a length
// byte, and up to eight payload bytes with CAN padding. An empty payload is
// a header request — the host asking the master to poll that identifier.
//
// Pipe provides an in-memory implementation of the same contract for tests
// and for environments without a CAN stack.
package vbus
