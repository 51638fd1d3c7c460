// Package netplay is the peer-to-peer multiplayer layer of noob-skater. One
// peer hosts a session and relays state for up to MaxConnections clients in a
// star; when the host disappears a surviving client takes over its
// identifier. Remote skaters are reconciled into smooth render states.
package netplay

import (
	"github.com/bartektricks/noob-skater-sub000/internal/geom"
	"github.com/bartektricks/noob-skater-sub000/internal/net/proto"
	"github.com/bartektricks/noob-skater-sub000/internal/reconcile"
)

type (
	Vec3           = geom.Vec3
	Euler          = geom.Euler
	EntitySnapshot = proto.EntitySnapshot
	TrickState     = proto.TrickState
	Chat           = proto.Chat
	RenderState    = reconcile.RenderState
	RailGeometry   = reconcile.RailGeometry
	Role           = proto.Role
)

const (
	RoleHost   = proto.RoleHost
	RoleClient = proto.RoleClient
)

// Status is the connection state shown to the player.
type Status string

const (
	StatusLocal        Status = "local"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Player is one roster row.
type Player struct {
	PeerID   string
	Nickname string
}
