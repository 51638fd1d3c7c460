package network

import (
	"context"

	"github.com/bartektricks/noob-skater-sub000/logging"
)

const (
	// EventConnectionRejected is emitted when a host turns away a link because it is full.
	EventConnectionRejected logging.EventType = "network.connection_rejected"
	// EventMessageRejected is emitted when an inbound frame fails to decode or route.
	EventMessageRejected logging.EventType = "network.message_rejected"
	// EventPeerUnreachable is emitted when a host identifier could not be reached.
	EventPeerUnreachable logging.EventType = "network.peer_unreachable"
)

// RejectionPayload captures why a connection was refused.
type RejectionPayload struct {
	Connections    int `json:"connections"`
	MaxConnections int `json:"maxConnections"`
}

// MessagePayload captures a refused frame.
type MessagePayload struct {
	MessageType string `json:"messageType,omitempty"`
	Reason      string `json:"reason"`
}

// UnreachablePayload captures a failed dial.
type UnreachablePayload struct {
	Error string `json:"error"`
}

// ConnectionRejected publishes a warning when capacity is exhausted.
func ConnectionRejected(ctx context.Context, pub logging.Publisher, actor logging.PeerRef, payload RejectionPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventConnectionRejected,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}

// MessageRejected publishes a warning for a frame that was dropped.
func MessageRejected(ctx context.Context, pub logging.Publisher, actor logging.PeerRef, payload MessagePayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventMessageRejected,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}

// PeerUnreachable publishes a debug event for a failed dial.
func PeerUnreachable(ctx context.Context, pub logging.Publisher, actor logging.PeerRef, payload UnreachablePayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPeerUnreachable,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}
