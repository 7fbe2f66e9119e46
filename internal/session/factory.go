package session

import (
	"context"
	"fmt"
	"time"

	"github.com/openlin/linbridge/internal/ldf"
	"github.com/openlin/linbridge/internal/lin"
	"github.com/openlin/linbridge/internal/lin/kvaser"
	"github.com/openlin/linbridge/internal/lin/simulator"
	"github.com/openlin/linbridge/internal/vbus"
)

// HostOpener attaches to the named host virtual interface. Production wiring
// uses the SocketCAN implementation; tests substitute an in-memory pipe.
type HostOpener func(name string) (vbus.Bus, error)

// DefaultFactory builds sessions from validated commands: the hardware
// channel for the command's run type and role, the host bus, and the
// schedule table loader.
type DefaultFactory struct {
	// OpenHost is required.
	OpenHost HostOpener

	// QueueSize and Policy configure each session's frame bridge.
	QueueSize int
	Policy    DropPolicy

	// OnHealthWarning propagates engine health warnings. May be nil.
	OnHealthWarning func(device lin.DeviceID, entry string, faults int)

	Logger Logger
}

// New builds an unstarted session. Channel construction is validation only;
// nothing is opened until the session starts.
func (f *DefaultFactory) New(ctx context.Context, cmd Command) (*Session, error) {
	if f.OpenHost == nil {
		return nil, fmt.Errorf("%w: factory has no host opener", lin.ErrInvalidConfig)
	}

	channel, err := f.buildChannel(cmd)
	if err != nil {
		return nil, err
	}

	host, err := f.OpenHost(cmd.HostDevice)
	if err != nil {
		channel.Close()
		return nil, fmt.Errorf("%w: host device %q: %v", lin.ErrHardwareOpen, cmd.HostDevice, err)
	}

	cfg := Config{
		Device:          cmd.Device,
		Name:            cmd.Name,
		Mode:            cmd.Mode,
		RunType:         cmd.RunType,
		BaseTick:        cmd.BaseTick,
		Channel:         channel,
		Host:            host,
		QueueSize:       f.QueueSize,
		Policy:          f.Policy,
		OnHealthWarning: f.OnHealthWarning,
		Logger:          f.Logger,
	}
	if cmd.Mode == lin.Master {
		cfg.LoadTable = func() (*lin.ScheduleTable, error) {
			return loadTable(cmd.Database, cmd.ScheduleTable, cmd.BaseTick)
		}
	}

	sess, err := newSession(cfg)
	if err != nil {
		channel.Close()
		host.Close()
		return nil, err
	}
	return sess, nil
}

func (f *DefaultFactory) buildChannel(cmd Command) (lin.Channel, error) {
	switch cmd.RunType {
	case lin.RunSimulator:
		simCfg := simulator.Config{Name: cmd.Name, Mode: cmd.Mode}
		if cmd.Mode == lin.Slave {
			// The simulated master needs the schedule up front to drive
			// its replay.
			table, err := loadTable(cmd.Database, cmd.ScheduleTable, cmd.BaseTick)
			if err != nil {
				return nil, err
			}
			simCfg.Table = table
			simCfg.BaseTick = cmd.BaseTick
		}
		return simulator.New(simCfg)

	case lin.RunLin:
		ch, err := kvaser.New(kvaser.Config{
			Name:     cmd.Name,
			Device:   cmd.Device,
			Mode:     cmd.Mode,
			Baudrate: cmd.Baudrate,
		})
		if err != nil {
			return nil, err
		}
		if cmd.Mode == lin.Slave {
			return lin.NewNoEcho(ch), nil
		}
		return ch, nil

	default:
		return nil, fmt.Errorf("%w: run type %q", lin.ErrInvalidConfig, cmd.RunType)
	}
}

// loadTable resolves a named schedule table from an LDF database. All
// failures are schedule load errors.
func loadTable(database, tableName string, baseTick time.Duration) (*lin.ScheduleTable, error) {
	if database == "" {
		return nil, fmt.Errorf("%w: no database configured", lin.ErrScheduleLoad)
	}
	if tableName == "" {
		return nil, fmt.Errorf("%w: no schedule table named", lin.ErrScheduleLoad)
	}
	db, err := ldf.ParseFile(database)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lin.ErrScheduleLoad, err)
	}
	return db.ResolveSchedule(tableName, baseTick)
}
