package redis

import "fmt"

// Channel name taxonomy. Every cross-instance message travels on one of
// these channels; stream-state keys share the stream: prefix.
const (
	SystemBroadcasts = "system:broadcasts"
	SystemMetrics    = "system:metrics"
)

// UserChannel carries events addressed to every connection of one user.
func UserChannel(userID string) string {
	return fmt.Sprintf("user:%s", userID)
}

// PresenceChannel carries connect/disconnect notices for one user.
func PresenceChannel(userID string) string {
	return fmt.Sprintf("presence:%s", userID)
}

// ConversationChannel carries typing and lifecycle events for a conversation.
func ConversationChannel(conversationID string) string {
	return fmt.Sprintf("conv:%s", conversationID)
}

// StreamChannel carries live AI chunks for a conversation's active stream.
func StreamChannel(conversationID string) string {
	return fmt.Sprintf("stream:%s", conversationID)
}

func streamStateKey(conversationID string) string {
	return fmt.Sprintf("stream:state:%s", conversationID)
}
