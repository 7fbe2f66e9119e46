// Package ldf reads LIN Description Files far enough to resolve schedule
// tables by name. It is not a general LDF parser: it extracts the bus speed,
// the master node and its time base, the frame declarations, and the
// Schedule_tables section — everything the schedule engine and the simulator
// need, nothing more.
package ldf
