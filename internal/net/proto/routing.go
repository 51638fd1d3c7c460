package proto

import (
	"errors"
	"fmt"
)

// Role identifies which side of the star topology a peer is on.
type Role string

const (
	RoleHost   Role = "host"
	RoleClient Role = "client"
)

var ErrIllegalRoute = errors.New("proto: illegal route")

type route struct {
	from Role
	to   Role
}

var routes = map[string][]route{
	TypeGameState:    {{from: RoleHost, to: RoleClient}},
	TypePlayerInput:  {{from: RoleClient, to: RoleHost}},
	TypePlayerJoined: {{from: RoleHost, to: RoleClient}},
	TypePlayerLeft:   {{from: RoleHost, to: RoleClient}},
	TypePlayerList:   {{from: RoleHost, to: RoleClient}},
	TypeChatMessage:  {{from: RoleClient, to: RoleHost}, {from: RoleHost, to: RoleClient}},
}

// CheckRoute reports whether a message of msgType may travel from a peer in
// the sender role to a peer in the receiver role.
func CheckRoute(msgType string, sender, receiver Role) error {
	allowed, ok := routes[msgType]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownType, msgType)
	}
	for _, r := range allowed {
		if r.from == sender && r.to == receiver {
			return nil
		}
	}
	return fmt.Errorf("%w: %s from %s to %s", ErrIllegalRoute, msgType, sender, receiver)
}

// Relayed reports whether the host forwards an inbound message of msgType to
// its other clients as is. Player input is not relayed; the host folds it
// into the next game state instead.
func Relayed(msgType string) bool {
	return msgType == TypeChatMessage
}
