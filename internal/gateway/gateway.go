package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/openlin/linbridge/internal/audit"
	"github.com/openlin/linbridge/internal/infrastructure/mqtt"
	"github.com/openlin/linbridge/internal/lin"
	"github.com/openlin/linbridge/internal/session"
)

// Publisher is the outbound message surface the gateway needs.
// Satisfied by *mqtt.Client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Subscriber registers a handler for inbound messages.
// Satisfied by *mqtt.Client.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Controller is the session registry surface the gateway routes to.
type Controller interface {
	Start(ctx context.Context, cmd session.Command) (*session.Session, error)
	Stop(ctx context.Context, device lin.DeviceID) error
}

// Logger is the minimal logging interface this package needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config assembles a Gateway.
type Config struct {
	// Registry routes validated commands. Required.
	Registry Controller

	// Publisher sends replies and state updates. Required.
	Publisher Publisher

	// Recorder persists the session audit trail. Defaults to NopRecorder.
	Recorder audit.Recorder

	// Defaults fill in command fields the payload omits.
	Defaults Defaults

	// QoS for all published messages. Defaults to 1.
	QoS byte

	Logger Logger
}

// Gateway is the command boundary: it decodes inbound JSON commands,
// routes them to the registry, and publishes replies and session state.
type Gateway struct {
	registry Controller
	pub      Publisher
	recorder audit.Recorder
	topics   mqtt.Topics
	defaults Defaults
	qos      byte
	logger   Logger

	// auditIDs maps live devices to their audit session record.
	mu       sync.Mutex
	auditIDs map[lin.DeviceID]string
}

// New assembles a gateway. The returned gateway is inert until Run
// subscribes it to the command topic, but HandleCommand may be called
// directly (it is what the subscription dispatches to).
func New(cfg Config) *Gateway {
	g := &Gateway{
		registry: cfg.Registry,
		pub:      cfg.Publisher,
		recorder: cfg.Recorder,
		defaults: cfg.Defaults,
		qos:      cfg.QoS,
		logger:   cfg.Logger,
		auditIDs: make(map[lin.DeviceID]string),
	}
	if g.recorder == nil {
		g.recorder = audit.NopRecorder{}
	}
	if g.qos == 0 {
		g.qos = 1
	}
	if g.logger == nil {
		g.logger = noopLogger{}
	}
	return g
}

// Run subscribes the gateway to the command topic. Commands are handled
// on the subscriber's dispatch goroutines; ctx bounds the work done per
// command, not the subscription itself.
func (g *Gateway) Run(ctx context.Context, sub Subscriber) error {
	return sub.Subscribe(g.topics.Command(), g.qos, func(_ string, payload []byte) error {
		g.HandleCommand(ctx, payload)
		return nil
	})
}

// OnSessionTerminated reports a session that failed at runtime. Wire it
// to the registry via SetOnTerminate.
func (g *Gateway) OnSessionTerminated(device lin.DeviceID, cause error) {
	g.publishState(device, "failed", cause)
	g.endAudit(device, audit.OutcomeFailed, cause)
}

// OnHealthWarning publishes an engine bus-health warning and records it.
// Wire it to the session factory.
func (g *Gateway) OnHealthWarning(device lin.DeviceID, entry string, faults int) {
	g.logger.Warn("schedule health degraded",
		"device", device.String(), "entry", entry, "consecutive_faults", faults)

	payload, err := json.Marshal(map[string]any{
		"device_id":          device.String(),
		"entry":              entry,
		"consecutive_faults": faults,
	})
	if err == nil {
		g.publish(g.topics.SessionHealth(device.String()), payload, false)
	}

	g.mu.Lock()
	id := g.auditIDs[device]
	g.mu.Unlock()
	if id != "" {
		ev := &audit.SessionEvent{
			SessionID: id,
			Kind:      audit.KindHealthWarning,
			Detail:    entry,
		}
		if err := g.recorder.RecordEvent(context.Background(), ev); err != nil {
			g.logger.Warn("recording health warning failed", "error", err)
		}
	}
}

// HandleCommand processes one raw command payload end to end: decode,
// validate, route, reply. It never returns an error; all failures are
// reported through the reply topic.
func (g *Gateway) HandleCommand(ctx context.Context, payload []byte) {
	msg, err := ParseMessage(payload)
	if err != nil {
		g.logger.Warn("rejected command", "error", err)
		g.reply(Reply{
			ID: msg.ID,
			OK: false,
			Error: &ReplyError{
				Code:    codeForError(err),
				Message: err.Error(),
			},
		})
		return
	}

	cmd, err := msg.Command(g.defaults)
	if err != nil {
		g.logger.Warn("rejected command",
			"action", msg.Action, "error", err)
		g.reply(Reply{
			ID:     msg.ID,
			Action: msg.Action,
			OK:     false,
			Error: &ReplyError{
				Code:    codeForError(err),
				Message: err.Error(),
			},
		})
		return
	}

	switch msg.Action {
	case ActionStart:
		err = g.start(ctx, cmd)
	case ActionStop:
		err = g.stop(ctx, cmd.Device)
	}

	reply := Reply{
		ID:     msg.ID,
		Action: msg.Action,
		Device: cmd.Device.String(),
		OK:     err == nil,
	}
	if err != nil {
		g.logger.Warn("command failed",
			"action", msg.Action, "device", cmd.Device.String(), "error", err)
		reply.Error = &ReplyError{
			Code:    codeForError(err),
			Message: err.Error(),
		}
	}
	g.reply(reply)
}

// start routes a start command and records the new session.
func (g *Gateway) start(ctx context.Context, cmd session.Command) error {
	sess, err := g.registry.Start(ctx, cmd)
	if err != nil {
		return err
	}

	g.logger.Info("session started",
		"device", cmd.Device.String(), "mode", string(cmd.Mode), "run_type", string(cmd.RunType))
	g.publishState(cmd.Device, sess.State().String(), nil)

	rec := &audit.SessionRecord{
		Device:  cmd.Device.String(),
		Name:    cmd.Name,
		Mode:    string(cmd.Mode),
		RunType: string(cmd.RunType),
	}
	if err := g.recorder.SessionStarted(ctx, rec); err != nil {
		g.logger.Warn("recording session start failed",
			"device", cmd.Device.String(), "error", err)
		return nil
	}
	g.mu.Lock()
	g.auditIDs[cmd.Device] = rec.ID
	g.mu.Unlock()
	return nil
}

// stop routes a stop command and closes out the audit record.
func (g *Gateway) stop(ctx context.Context, device lin.DeviceID) error {
	err := g.registry.Stop(ctx, device)
	if err != nil {
		return err
	}

	g.logger.Info("session stopped", "device", device.String())
	g.publishState(device, session.StateStopped.String(), nil)
	g.endAudit(device, audit.OutcomeStopped, nil)
	return nil
}

// publishState publishes a session lifecycle update, retained so late
// subscribers see the last known state.
func (g *Gateway) publishState(device lin.DeviceID, state string, cause error) {
	body := map[string]any{
		"device_id": device.String(),
		"state":     state,
	}
	if cause != nil {
		body["error"] = cause.Error()
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return
	}
	g.publish(g.topics.SessionState(device.String()), payload, true)
}

// endAudit finishes the audit record for a device, if one is open.
func (g *Gateway) endAudit(device lin.DeviceID, outcome string, cause error) {
	g.mu.Lock()
	id := g.auditIDs[device]
	delete(g.auditIDs, device)
	g.mu.Unlock()
	if id == "" {
		return
	}

	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}
	if err := g.recorder.SessionEnded(context.Background(), id, outcome, errMsg); err != nil {
		g.logger.Warn("recording session end failed",
			"device", device.String(), "error", err)
	}
}

// reply publishes a command reply. Replies with a request ID go to that
// request's reply topic; the rest go to the broadcast reply topic.
func (g *Gateway) reply(r Reply) {
	if r.ID == "" {
		r.ID = "rep-" + uuid.NewString()[:8]
		payload, err := json.Marshal(r)
		if err != nil {
			return
		}
		g.publish(g.topics.ReplyBroadcast(), payload, false)
		return
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return
	}
	g.publish(g.topics.Reply(r.ID), payload, false)
}

// publish sends one message, logging failures instead of surfacing them;
// command handling must not stall on a slow broker.
func (g *Gateway) publish(topic string, payload []byte, retained bool) {
	if err := g.pub.Publish(topic, payload, g.qos, retained); err != nil {
		g.logger.Warn("publish failed", "topic", topic, "error", err)
	}
}
