// Package session implements the bridge core: the per-device session state
// machine, the process-wide session registry, the schedule execution engine
// that drives LIN master timing, and the frame bridge relaying traffic
// between the host virtual interface and the hardware channel.
//
// The registry is the only cross-session shared mutable state. Everything
// else — channel, schedule table, engine, bridge queues — is owned by
// exactly one session and torn down with it.
package session
