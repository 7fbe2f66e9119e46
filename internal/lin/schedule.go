package lin

import "fmt"

// Responder states which node publishes the payload for a schedule slot.
type Responder int

const (
	// RespondsMaster means the session itself carries the payload.
	RespondsMaster Responder = iota
	// RespondsSlave means a slave node on the bus publishes the payload in
	// response to the header.
	RespondsSlave
)

// ScheduleEntry is a single slot of a schedule table: which frame to
// dispatch, how large its payload is, how many base ticks to wait before the
// next slot, and who answers.
type ScheduleEntry struct {
	Name      string
	FrameID   uint32
	Length    uint8
	DelayTick int
	Responder Responder
}

// ScheduleTable is the immutable, named, ordered description of periodic LIN
// master activity. It is loaded once per session start and shared read-only
// with the schedule engine; entries are traversed in fixed cyclic order.
type ScheduleTable struct {
	Name    string
	Entries []ScheduleEntry
}

// Validate checks that the table can actually be driven: at least one entry,
// every delay positive, every length within the LIN payload limit.
func (t *ScheduleTable) Validate() error {
	if len(t.Entries) == 0 {
		return fmt.Errorf("%w: table %q has no entries", ErrScheduleLoad, t.Name)
	}
	for i, e := range t.Entries {
		if e.FrameID > MaxFrameID {
			return fmt.Errorf("%w: table %q entry %d (%s) identifier %#x exceeds %#x", ErrScheduleLoad, t.Name, i, e.Name, e.FrameID, MaxFrameID)
		}
		if e.DelayTick < 1 {
			return fmt.Errorf("%w: table %q entry %d (%s) has non-positive delay", ErrScheduleLoad, t.Name, i, e.Name)
		}
		if e.Length > MaxDataLen {
			return fmt.Errorf("%w: table %q entry %d (%s) exceeds %d byte payload", ErrScheduleLoad, t.Name, i, e.Name, MaxDataLen)
		}
	}
	return nil
}
