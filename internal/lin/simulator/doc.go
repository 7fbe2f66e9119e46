// Package simulator provides the in-process software channel variant.
//
// The simulator stands in for a physical LIN bus: in slave host mode it
// replays a schedule table as if a master node were driving the wire, and in
// master host mode it answers headers the way slave nodes would. A bus tap
// exposes the traffic an observer on the simulated wire would see, which is
// what integration tests assert against.
package simulator
