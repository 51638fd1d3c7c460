package lifecycle

import (
	"context"

	"github.com/bartektricks/noob-skater-sub000/logging"
)

const (
	// EventPeerJoined is emitted when a peer enters the session roster.
	EventPeerJoined logging.EventType = "lifecycle.peer_joined"
	// EventPeerLeft is emitted when a peer leaves the session roster.
	EventPeerLeft logging.EventType = "lifecycle.peer_left"
	// EventHostMigrated is emitted when a client takes over the host identifier.
	EventHostMigrated logging.EventType = "lifecycle.host_migrated"
	// EventMigrationFailed is emitted when a takeover could not be completed.
	EventMigrationFailed logging.EventType = "lifecycle.migration_failed"
)

// PeerPayload captures the roster row of the peer.
type PeerPayload struct {
	Nickname string `json:"nickname,omitempty"`
}

// MigrationPayload describes a host takeover attempt.
type MigrationPayload struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PeerJoined publishes a peer join event.
func PeerJoined(ctx context.Context, pub logging.Publisher, actor logging.PeerRef, payload PeerPayload, extra map[string]any) {
	publish(ctx, pub, EventPeerJoined, logging.SeverityInfo, actor, payload, extra)
}

// PeerLeft publishes a peer departure event.
func PeerLeft(ctx context.Context, pub logging.Publisher, actor logging.PeerRef, payload PeerPayload, extra map[string]any) {
	publish(ctx, pub, EventPeerLeft, logging.SeverityInfo, actor, payload, extra)
}

// HostMigrated publishes a successful takeover.
func HostMigrated(ctx context.Context, pub logging.Publisher, actor logging.PeerRef, payload MigrationPayload, extra map[string]any) {
	publish(ctx, pub, EventHostMigrated, logging.SeverityWarn, actor, payload, extra)
}

// MigrationFailed publishes a terminal takeover failure.
func MigrationFailed(ctx context.Context, pub logging.Publisher, actor logging.PeerRef, payload MigrationPayload, extra map[string]any) {
	publish(ctx, pub, EventMigrationFailed, logging.SeverityError, actor, payload, extra)
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, severity logging.Severity, actor logging.PeerRef, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Actor:    actor,
		Severity: severity,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}
