package mqtt

import "fmt"

// Topic prefixes for the LIN bridge MQTT surface.
//
// All topics use the flat scheme: linbridge/{category}/{identifier}
// This matches the gateway's messages.go and all runtime subscribers.
const (
	// TopicPrefix is the base for all LIN bridge topics.
	TopicPrefix = "linbridge"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "linbridge/system"
)

// Topics provides builders for LIN bridge MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	replyTopic := topics.Reply("req-abc123")
//	// Returns: "linbridge/reply/req-abc123"
type Topics struct{}

// =============================================================================
// Gateway Topics
// =============================================================================

// Command returns the topic on which the gateway accepts start/stop commands.
//
// Example: linbridge/command
func (Topics) Command() string {
	return fmt.Sprintf("%s/command", TopicPrefix)
}

// Reply returns the topic for a reply to a specific command.
//
// Example: linbridge/reply/req-abc123
func (Topics) Reply(requestID string) string {
	return fmt.Sprintf("%s/reply/%s", TopicPrefix, requestID)
}

// ReplyBroadcast returns the topic for replies to commands that carried
// no request identifier.
//
// Example: linbridge/reply
func (Topics) ReplyBroadcast() string {
	return fmt.Sprintf("%s/reply", TopicPrefix)
}

// =============================================================================
// Session Topics
// =============================================================================

// SessionState returns the topic for session lifecycle updates.
//
// Example: linbridge/session/011121:1/state
func (Topics) SessionState(device string) string {
	return fmt.Sprintf("%s/session/%s/state", TopicPrefix, device)
}

// SessionHealth returns the topic for session health warnings.
//
// Example: linbridge/session/011121:1/health
func (Topics) SessionHealth(device string) string {
	return fmt.Sprintf("%s/session/%s/health", TopicPrefix, device)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the service status topic. The last-will message is
// published here when the service disconnects ungracefully.
//
// Example: linbridge/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// SystemShutdown returns the shutdown signal topic.
//
// Example: linbridge/system/shutdown
func (Topics) SystemShutdown() string {
	return fmt.Sprintf("%s/shutdown", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllSessionStates returns a pattern matching all session state updates.
//
// Pattern: linbridge/session/+/state
func (Topics) AllSessionStates() string {
	return fmt.Sprintf("%s/session/+/state", TopicPrefix)
}

// AllSessionHealth returns a pattern matching all session health warnings.
//
// Pattern: linbridge/session/+/health
func (Topics) AllSessionHealth() string {
	return fmt.Sprintf("%s/session/+/health", TopicPrefix)
}

// AllReplies returns a pattern matching all command replies.
//
// Pattern: linbridge/reply/#
func (Topics) AllReplies() string {
	return fmt.Sprintf("%s/reply/#", TopicPrefix)
}

// AllTopics returns a pattern matching all LIN bridge topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: linbridge/#
func (Topics) AllTopics() string {
	return "linbridge/#"
}
