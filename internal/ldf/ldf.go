package ldf

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/openlin/linbridge/internal/lin"
)

// Frame is one frame declaration from the Frames section.
type Frame struct {
	Name  string
	ID    uint32
	Owner string
	Size  uint8
}

// TableItem is one slot of a Schedule_tables entry. Delay is the raw
// millisecond value from the file; conversion to base-tick units happens in
// ResolveSchedule.
type TableItem struct {
	Name    string
	DelayMS float64
}

// Table is a named schedule table as declared in the file.
type Table struct {
	Name  string
	Items []TableItem
}

// Database holds the parsed subset of an LDF file.
type Database struct {
	// Baudrate is the LIN_speed header value in bits per second.
	Baudrate uint32

	// Master is the master node's name from the Nodes section.
	Master string

	// BaseTick is the master's time base.
	BaseTick time.Duration

	frames map[string]Frame
	tables map[string]Table
}

// Section and value patterns. The format is line-oriented enough that a
// regex pass per section is sufficient; nested brace tracking is not needed
// for the subset read here.
var (
	speedRe  = regexp.MustCompile(`^LIN_speed = ([0-9]+\.[0-9]+) kbps;`)
	masterRe = regexp.MustCompile(`^\s*Master: ([A-Za-z0-9_]+), ([0-9]+\.[0-9]+) ms`)
	frameRe  = regexp.MustCompile(`^\s*([A-Za-z0-9_]+):\s+0x([0-9A-Fa-f]+),\s+(\w+),\s+(\d+)\s*\{`)
	tableRe  = regexp.MustCompile(`^\s*([A-Za-z0-9_]+)\s\{`)
	entryRe  = regexp.MustCompile(`^\s*([A-Za-z0-9_]+)\sdelay\s([0-9]+\.[0-9]+) ms;`)
)

// ParseFile reads and parses an LDF file from disk.
func ParseFile(path string) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening LDF %s: %w", path, err)
	}
	defer f.Close()

	db, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing LDF %s: %w", path, err)
	}
	return db, nil
}

// Parse reads an LDF document from r.
func Parse(r io.Reader) (*Database, error) {
	db := &Database{
		frames: make(map[string]Frame),
		tables: make(map[string]Table),
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()

		switch {
		case line == "Nodes {":
			if err := db.parseNodes(sc); err != nil {
				return nil, err
			}
		case line == "Frames {":
			if err := db.parseFrames(sc); err != nil {
				return nil, err
			}
		case line == "Schedule_tables {":
			if err := db.parseTables(sc); err != nil {
				return nil, err
			}
		default:
			if m := speedRe.FindStringSubmatch(line); m != nil {
				kbps, err := strconv.ParseFloat(m[1], 64)
				if err != nil {
					return nil, fmt.Errorf("invalid LIN_speed %q: %w", m[1], err)
				}
				db.Baudrate = uint32(kbps * 1000)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading LDF: %w", err)
	}

	return db, nil
}

func (db *Database) parseNodes(sc *bufio.Scanner) error {
	for sc.Scan() {
		line := sc.Text()
		if line == "}" {
			return nil
		}
		if m := masterRe.FindStringSubmatch(line); m != nil {
			tickMS, err := strconv.ParseFloat(m[2], 64)
			if err != nil {
				return fmt.Errorf("invalid master time base %q: %w", m[2], err)
			}
			db.Master = m[1]
			db.BaseTick = time.Duration(tickMS * float64(time.Millisecond))
		}
	}
	return fmt.Errorf("nodes section never ended")
}

func (db *Database) parseFrames(sc *bufio.Scanner) error {
	for sc.Scan() {
		line := sc.Text()
		if line == "}" {
			return nil
		}
		if m := frameRe.FindStringSubmatch(line); m != nil {
			id, err := strconv.ParseUint(m[2], 16, 32)
			if err != nil {
				return fmt.Errorf("invalid frame id %q: %w", m[2], err)
			}
			size, err := strconv.ParseUint(m[4], 10, 8)
			if err != nil {
				return fmt.Errorf("invalid frame size %q: %w", m[4], err)
			}
			db.frames[m[1]] = Frame{
				Name:  m[1],
				ID:    uint32(id),
				Owner: m[3],
				Size:  uint8(size),
			}
		}
	}
	return fmt.Errorf("frames section never ended")
}

func (db *Database) parseTables(sc *bufio.Scanner) error {
	for sc.Scan() {
		line := sc.Text()
		if line == "}" {
			return nil
		}
		if strings.HasSuffix(line, "{") {
			table, err := parseTable(sc, line)
			if err != nil {
				return err
			}
			db.tables[table.Name] = table
		}
	}
	return fmt.Errorf("schedule_tables section never ended")
}

func parseTable(sc *bufio.Scanner, header string) (Table, error) {
	m := tableRe.FindStringSubmatch(header)
	if m == nil {
		return Table{}, fmt.Errorf("schedule table name missing in %q", header)
	}

	table := Table{Name: m[1]}
	for sc.Scan() {
		line := sc.Text()
		if strings.HasSuffix(line, "}") {
			return table, nil
		}
		if e := entryRe.FindStringSubmatch(line); e != nil {
			delay, err := strconv.ParseFloat(e[2], 64)
			if err != nil {
				return Table{}, fmt.Errorf("invalid delay %q in table %s: %w", e[2], table.Name, err)
			}
			table.Items = append(table.Items, TableItem{Name: e[1], DelayMS: delay})
		}
	}
	return Table{}, fmt.Errorf("schedule table %s never ended", table.Name)
}

// Frame looks up a frame declaration by name.
func (db *Database) Frame(name string) (Frame, bool) {
	f, ok := db.frames[name]
	return f, ok
}

// Frames returns all frame declarations. The returned map is shared; callers
// must not mutate it.
func (db *Database) Frames() map[string]Frame {
	return db.frames
}

// TableNames returns the names of all declared schedule tables.
func (db *Database) TableNames() []string {
	names := make([]string, 0, len(db.tables))
	for name := range db.tables {
		names = append(names, name)
	}
	return names
}

// ResolveSchedule builds the immutable schedule table the engine runs.
// Delays in the file are milliseconds; they are converted to whole base-tick
// units, rounding up so a slot is never shorter than declared. A slot whose
// frame is owned by the master node responds from the session itself; all
// other slots expect a slave response.
//
// An unknown table name, an entry referencing an undeclared frame, or a
// table that fails validation are all reported as lin.ErrScheduleLoad.
func (db *Database) ResolveSchedule(name string, baseTick time.Duration) (*lin.ScheduleTable, error) {
	table, ok := db.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown table %q", lin.ErrScheduleLoad, name)
	}
	if baseTick <= 0 {
		return nil, fmt.Errorf("%w: non-positive base tick %v", lin.ErrScheduleLoad, baseTick)
	}

	resolved := &lin.ScheduleTable{Name: name}
	for _, item := range table.Items {
		frame, ok := db.frames[item.Name]
		if !ok {
			return nil, fmt.Errorf("%w: table %q references undeclared frame %q", lin.ErrScheduleLoad, name, item.Name)
		}

		delay := time.Duration(item.DelayMS * float64(time.Millisecond))
		ticks := int((delay + baseTick - 1) / baseTick)
		if ticks < 1 {
			ticks = 1
		}

		responder := lin.RespondsSlave
		if frame.Owner == db.Master {
			responder = lin.RespondsMaster
		}

		resolved.Entries = append(resolved.Entries, lin.ScheduleEntry{
			Name:      frame.Name,
			FrameID:   frame.ID,
			Length:    frame.Size,
			DelayTick: ticks,
			Responder: responder,
		})
	}

	if err := resolved.Validate(); err != nil {
		return nil, err
	}
	return resolved, nil
}
