// Package kvaser provides the physical channel variant for Kvaser CAN-LIN
// adapters.
//
// The native LIN library is reached through the Driver boundary interface so
// the rest of the service never links against it directly. A concrete driver
// is installed once at startup with Register; without one every open fails
// with a hardware error, which keeps simulator-only deployments free of the
// native dependency.
package kvaser
