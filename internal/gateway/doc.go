// Package gateway is the command boundary of the LIN bridge.
//
// It decodes JSON start/stop commands, validates them into the internal
// command model, routes them to the session registry, and publishes a
// reply per command. Session lifecycle and health updates are published
// as they happen.
//
// The gateway owns no sessions itself; all session state lives in the
// registry. Transport is MQTT via the infrastructure client, but the
// decoding and routing logic is transport-agnostic and tested without
// a broker.
package gateway
