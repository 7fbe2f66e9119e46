package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openlin/linbridge/internal/lin"
	"github.com/openlin/linbridge/internal/session"
)

// Command actions accepted on the command topic.
const (
	ActionStart = "start"
	ActionStop  = "stop"
)

// Command surface defaults.
const (
	// busType is the only virtual bus kind the bridge can host.
	busType = "vcan"

	// defaultBaudrate is used when the command omits bus.baudrate.
	defaultBaudrate = 19200

	// defaultBaseTickMS is used when the command omits plugin.base_tick_ms.
	defaultBaseTickMS = 5

	// defaultSimulatorName is used when a simulator plugin omits its name.
	defaultSimulatorName = "simulator"
)

// Message is the wire form of a start/stop command.
//
// The optional id correlates the reply with the request; replies to
// commands without one are published on the broadcast reply topic.
type Message struct {
	ID     string    `json:"id,omitempty"`
	Action string    `json:"action"`
	Bus    BusConfig `json:"bus"`
}

// BusConfig describes the host side of the bridge.
type BusConfig struct {
	// Type of the host interface. Only "vcan" is supported; an empty
	// value means "vcan".
	Type string `json:"type,omitempty"`

	// HostDevice is the host interface name, e.g. "vcan0".
	HostDevice string `json:"host_device"`

	// Baudrate in bits per second. Defaults to 19200 if not specified.
	Baudrate uint32 `json:"baudrate,omitempty"`

	// Plugin selects and configures the hardware side. Its concrete
	// shape depends on the embedded "type" tag.
	Plugin json.RawMessage `json:"plugin"`
}

// LinPlugin configures a physical LIN adapter channel.
type LinPlugin struct {
	// Driver name. Only "kvaser" is supported.
	Driver string `json:"driver"`

	// Name is an optional display name. Defaults to the host device name.
	Name string `json:"name,omitempty"`

	// HostMode is "master" or "slave".
	HostMode string `json:"host_mode"`

	// DeviceID identifies the adapter channel, e.g. "011121:1".
	DeviceID string `json:"device_id"`

	// BaseTickMS is the schedule base tick in milliseconds. Defaults to 5.
	BaseTickMS uint32 `json:"base_tick_ms,omitempty"`

	// ScheduleTable names the schedule table to drive (master sessions).
	ScheduleTable string `json:"schedule_table_name,omitempty"`

	// Database is the LDF file path backing the schedule table.
	Database string `json:"database,omitempty"`
}

// SimulatorPlugin configures an in-process simulated LIN bus.
type SimulatorPlugin struct {
	// Driver name. Accepts "simulator" or empty.
	Driver string `json:"driver,omitempty"`

	// Name is an optional display name. Defaults to "simulator".
	Name string `json:"name,omitempty"`

	// HostMode is "master" or "slave".
	HostMode string `json:"host_mode"`

	// DeviceID keys the session, e.g. "sim:1".
	DeviceID string `json:"device_id"`

	// BaseTickMS is the schedule base tick in milliseconds. Defaults to 5.
	BaseTickMS uint32 `json:"base_tick_ms,omitempty"`

	// ScheduleTable names the schedule table replayed by the simulator.
	ScheduleTable string `json:"schedule_table_name"`

	// Database is the LDF file path backing the schedule table.
	Database string `json:"database"`
}

// pluginHeader peeks at the tag that selects the plugin variant.
type pluginHeader struct {
	Type string `json:"type"`
}

// ParseMessage decodes and validates a command payload.
// All validation failures are wrapped in lin.ErrInvalidConfig.
func ParseMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: malformed command: %w", lin.ErrInvalidConfig, err)
	}

	switch msg.Action {
	case ActionStart, ActionStop:
	case "":
		return Message{}, fmt.Errorf("%w: missing action", lin.ErrInvalidConfig)
	default:
		return Message{}, fmt.Errorf("%w: unknown action %q", lin.ErrInvalidConfig, msg.Action)
	}

	if msg.Bus.Type != "" && msg.Bus.Type != busType {
		return Message{}, fmt.Errorf("%w: unsupported bus type %q", lin.ErrInvalidConfig, msg.Bus.Type)
	}
	if len(msg.Bus.Plugin) == 0 {
		return Message{}, fmt.Errorf("%w: missing plugin configuration", lin.ErrInvalidConfig)
	}

	return msg, nil
}

// Defaults fill in command fields the payload omits. The zero value
// falls back to the standard LIN defaults (19200 baud, 5 ms base tick);
// deployments override them from the lin section of config.yaml.
type Defaults struct {
	Baudrate uint32
	BaseTick time.Duration
}

// Command converts a parsed message into the internal command model.
//
// Start commands require a host device; stop commands only need the
// plugin's device_id to locate the session.
func (m Message) Command(d Defaults) (session.Command, error) {
	var hdr pluginHeader
	if err := json.Unmarshal(m.Bus.Plugin, &hdr); err != nil {
		return session.Command{}, fmt.Errorf("%w: malformed plugin: %w", lin.ErrInvalidConfig, err)
	}

	switch hdr.Type {
	case "", "lin":
		return m.linCommand(d)
	case "simulator":
		return m.simulatorCommand(d)
	default:
		return session.Command{}, fmt.Errorf("%w: unknown plugin type %q", lin.ErrInvalidConfig, hdr.Type)
	}
}

// linCommand builds the command for a physical adapter session.
func (m Message) linCommand(d Defaults) (session.Command, error) {
	var p LinPlugin
	if err := json.Unmarshal(m.Bus.Plugin, &p); err != nil {
		return session.Command{}, fmt.Errorf("%w: malformed lin plugin: %w", lin.ErrInvalidConfig, err)
	}

	if p.Driver != "kvaser" {
		return session.Command{}, fmt.Errorf("%w: unsupported lin driver %q", lin.ErrInvalidConfig, p.Driver)
	}

	cmd, err := m.baseCommand(d, p.DeviceID, p.HostMode, p.BaseTickMS)
	if err != nil {
		return session.Command{}, err
	}

	cmd.RunType = lin.RunLin
	cmd.Name = p.Name
	if cmd.Name == "" {
		cmd.Name = m.Bus.HostDevice
	}
	cmd.ScheduleTable = p.ScheduleTable
	cmd.Database = p.Database

	if m.Action == ActionStart && cmd.Mode == lin.Master && cmd.ScheduleTable == "" {
		return session.Command{}, fmt.Errorf("%w: master session requires schedule_table_name", lin.ErrInvalidConfig)
	}

	return cmd, nil
}

// simulatorCommand builds the command for a simulated bus session.
func (m Message) simulatorCommand(d Defaults) (session.Command, error) {
	var p SimulatorPlugin
	if err := json.Unmarshal(m.Bus.Plugin, &p); err != nil {
		return session.Command{}, fmt.Errorf("%w: malformed simulator plugin: %w", lin.ErrInvalidConfig, err)
	}

	if p.Driver != "" && p.Driver != "simulator" {
		return session.Command{}, fmt.Errorf("%w: unsupported simulator driver %q", lin.ErrInvalidConfig, p.Driver)
	}

	cmd, err := m.baseCommand(d, p.DeviceID, p.HostMode, p.BaseTickMS)
	if err != nil {
		return session.Command{}, err
	}

	cmd.RunType = lin.RunSimulator
	cmd.Name = p.Name
	if cmd.Name == "" {
		cmd.Name = defaultSimulatorName
	}
	cmd.ScheduleTable = p.ScheduleTable
	cmd.Database = p.Database

	if m.Action == ActionStart {
		if cmd.ScheduleTable == "" {
			return session.Command{}, fmt.Errorf("%w: simulator requires schedule_table_name", lin.ErrInvalidConfig)
		}
		if cmd.Database == "" {
			return session.Command{}, fmt.Errorf("%w: simulator requires database", lin.ErrInvalidConfig)
		}
	}

	return cmd, nil
}

// baseCommand validates the fields shared by both plugin variants.
func (m Message) baseCommand(d Defaults, deviceID, hostMode string, baseTickMS uint32) (session.Command, error) {
	if deviceID == "" {
		return session.Command{}, fmt.Errorf("%w: missing device_id", lin.ErrInvalidConfig)
	}
	device, err := lin.ParseDeviceID(deviceID)
	if err != nil {
		return session.Command{}, err
	}

	if d.Baudrate == 0 {
		d.Baudrate = defaultBaudrate
	}
	if d.BaseTick == 0 {
		d.BaseTick = defaultBaseTickMS * time.Millisecond
	}

	cmd := session.Command{
		Device:     device,
		HostDevice: m.Bus.HostDevice,
		Baudrate:   m.Bus.Baudrate,
		BaseTick:   d.BaseTick,
	}
	if cmd.Baudrate == 0 {
		cmd.Baudrate = d.Baudrate
	}
	if baseTickMS != 0 {
		cmd.BaseTick = time.Duration(baseTickMS) * time.Millisecond
	}

	// Stop only needs the device identifier; everything else is ignored.
	if m.Action == ActionStop {
		return cmd, nil
	}

	if cmd.HostDevice == "" {
		return session.Command{}, fmt.Errorf("%w: missing host_device", lin.ErrInvalidConfig)
	}

	cmd.Mode = lin.HostMode(hostMode)
	if !cmd.Mode.Valid() {
		return session.Command{}, fmt.Errorf("%w: invalid host_mode %q", lin.ErrInvalidConfig, hostMode)
	}

	return cmd, nil
}

// Error codes carried in replies.
const (
	CodeInvalidConfig     = "invalid_config"
	CodeAlreadyRunning    = "already_running"
	CodeNotFound          = "not_found"
	CodeScheduleLoadError = "schedule_load_error"
	CodeHardwareOpenError = "hardware_open_error"
	CodeInternalError     = "internal_error"
)

// Reply is the wire form of a command outcome.
type Reply struct {
	ID     string      `json:"id"`
	Action string      `json:"action,omitempty"`
	Device string      `json:"device_id,omitempty"`
	OK     bool        `json:"ok"`
	Error  *ReplyError `json:"error,omitempty"`
}

// ReplyError carries the failure taxonomy to the caller.
type ReplyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// codeForError maps internal errors onto the reply taxonomy.
func codeForError(err error) string {
	switch {
	case errors.Is(err, lin.ErrInvalidConfig):
		return CodeInvalidConfig
	case errors.Is(err, lin.ErrAlreadyRunning):
		return CodeAlreadyRunning
	case errors.Is(err, lin.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, lin.ErrScheduleLoad):
		return CodeScheduleLoadError
	case errors.Is(err, lin.ErrHardwareOpen):
		return CodeHardwareOpenError
	default:
		return CodeInternalError
	}
}
