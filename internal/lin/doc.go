// Package lin defines the core domain types shared by every part of the
// bridge: LIN frames, device identifiers, schedule tables, the hardware
// channel capability interface, and the error taxonomy.
//
// The package is deliberately free of I/O. Concrete channel variants live in
// the lin/kvaser and lin/simulator subpackages; session orchestration lives
// in internal/session.
package lin
