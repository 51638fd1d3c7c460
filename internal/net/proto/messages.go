package proto

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bartektricks/noob-skater-sub000/internal/geom"
)

const (
	// Version tracks the wire-protocol revision exchanged between peers.
	Version = 1
)

// Message type identifiers.
const (
	TypeGameState    = "gameState"
	TypePlayerInput  = "playerInput"
	TypePlayerJoined = "playerJoined"
	TypePlayerLeft   = "playerLeft"
	TypePlayerList   = "playerList"
	TypeChatMessage  = "chatMessage"
)

var (
	ErrUnknownType        = errors.New("proto: unknown message type")
	ErrUnsupportedVersion = errors.New("proto: unsupported protocol version")
	ErrMissingPayload     = errors.New("proto: missing payload")
)

// TrickState is the discrete trick overlay carried next to continuous motion.
// Timestamps are unix milliseconds on the sender's clock.
type TrickState struct {
	IsFlipping        bool    `json:"isFlipping"`
	FlipStartedAt     int64   `json:"flipStartedAt,omitempty"`
	FlipProgress      float64 `json:"flipProgress"`
	IsGrinding        bool    `json:"isGrinding"`
	GrindProgress     float64 `json:"grindProgress"`
	IsReorienting     bool    `json:"isReorienting"`
	ReorientStartedAt int64   `json:"reorientStartedAt,omitempty"`
	StanceFlipped     bool    `json:"stanceFlipped"`
}

// Active reports whether any part of the trick overlay is currently playing.
func (t TrickState) Active() bool {
	return t.IsFlipping || t.IsGrinding || t.IsReorienting
}

// EntitySnapshot is one timestamped sample of a skater.
type EntitySnapshot struct {
	Position  geom.Vec3   `json:"position"`
	Rotation  geom.Euler  `json:"rotation"`
	Velocity  *geom.Vec3  `json:"velocity,omitempty"`
	Trick     *TrickState `json:"trickState,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// PeerSnapshot pairs a snapshot with the peer it describes.
type PeerSnapshot struct {
	PeerID   string         `json:"peerId"`
	Snapshot EntitySnapshot `json:"snapshot"`
}

// Player is one roster row.
type Player struct {
	PeerID   string `json:"peerId"`
	Nickname string `json:"nickname"`
}

// Chat is a single fire-and-forget chat line.
type Chat struct {
	SenderID       string `json:"senderId"`
	SenderNickname string `json:"senderNickname"`
	Text           string `json:"text"`
	Timestamp      int64  `json:"timestamp"`
}

// Message is the closed set of payloads exchanged between peers.
type Message interface {
	MessageType() string
	protoMessage()
}

// GameState is the host's aggregated world view.
type GameState struct {
	Host     EntitySnapshot `json:"host"`
	Entities []PeerSnapshot `json:"entities,omitempty"`
}

// PlayerInput carries a client's own snapshot to the host.
type PlayerInput struct {
	Snapshot EntitySnapshot `json:"snapshot"`
	ClientID string         `json:"clientId,omitempty"`
}

// PlayerJoined is an advisory roster delta.
type PlayerJoined struct {
	PeerID   string `json:"peerId"`
	Nickname string `json:"nickname,omitempty"`
}

// PlayerLeft is an advisory roster delta.
type PlayerLeft struct {
	PeerID   string `json:"peerId"`
	Nickname string `json:"nickname,omitempty"`
}

// PlayerList is the authoritative roster snapshot.
type PlayerList struct {
	Players []Player `json:"players"`
}

// ChatMessage wraps a chat line for transport.
type ChatMessage struct {
	Chat
}

func (GameState) MessageType() string    { return TypeGameState }
func (PlayerInput) MessageType() string  { return TypePlayerInput }
func (PlayerJoined) MessageType() string { return TypePlayerJoined }
func (PlayerLeft) MessageType() string   { return TypePlayerLeft }
func (PlayerList) MessageType() string   { return TypePlayerList }
func (ChatMessage) MessageType() string  { return TypeChatMessage }

func (GameState) protoMessage()    {}
func (PlayerInput) protoMessage()  {}
func (PlayerJoined) protoMessage() {}
func (PlayerLeft) protoMessage()   {}
func (PlayerList) protoMessage()   {}
func (ChatMessage) protoMessage()  {}

// Envelope is the framing shared by every message on a link.
type Envelope struct {
	Ver     int             `json:"ver"`
	Type    string          `json:"type"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Encode renders msg inside a versioned envelope.
func Encode(from string, msg Message) ([]byte, error) {
	if msg == nil {
		return nil, ErrMissingPayload
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("proto: marshal %s: %w", msg.MessageType(), err)
	}
	return json.Marshal(Envelope{
		Ver:     Version,
		Type:    msg.MessageType(),
		From:    from,
		Payload: payload,
	})
}

// Decode parses a raw frame into its envelope and typed payload. Unknown
// types are rejected rather than ignored.
func Decode(data []byte) (Envelope, Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, nil, fmt.Errorf("proto: decode envelope: %w", err)
	}
	if env.Ver == 0 {
		env.Ver = Version
	}
	if env.Ver != Version {
		return env, nil, fmt.Errorf("%w %d", ErrUnsupportedVersion, env.Ver)
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return env, nil, fmt.Errorf("%w for %q", ErrMissingPayload, env.Type)
	}

	var (
		msg Message
		err error
	)
	switch env.Type {
	case TypeGameState:
		msg, err = decodeAs[GameState](env.Payload)
	case TypePlayerInput:
		msg, err = decodeAs[PlayerInput](env.Payload)
	case TypePlayerJoined:
		msg, err = decodeAs[PlayerJoined](env.Payload)
	case TypePlayerLeft:
		msg, err = decodeAs[PlayerLeft](env.Payload)
	case TypePlayerList:
		msg, err = decodeAs[PlayerList](env.Payload)
	case TypeChatMessage:
		msg, err = decodeAs[ChatMessage](env.Payload)
	default:
		return env, nil, fmt.Errorf("%w %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return env, nil, fmt.Errorf("proto: decode %s: %w", env.Type, err)
	}
	return env, msg, nil
}

func decodeAs[T Message](payload json.RawMessage) (Message, error) {
	var msg T
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, err
	}
	return msg, nil
}
