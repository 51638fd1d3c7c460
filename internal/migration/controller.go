// Package migration decides what a peer does when its host goes away. The
// Controller is a pure state machine: callers report transport outcomes and
// carry out the Decision it returns.
package migration

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// State is the migration-relevant connection state of a peer.
type State int

const (
	Idle State = iota
	ClientConnecting
	ClientConnected
	HostTakeoverInProgress
	Host
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ClientConnecting:
		return "client_connecting"
	case ClientConnected:
		return "client_connected"
	case HostTakeoverInProgress:
		return "host_takeover_in_progress"
	case Host:
		return "host"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Action is what the caller must do next.
type Action int

const (
	// ActionNone means the event needs no follow-up.
	ActionNone Action = iota
	// ActionTakeover means claim HostID and start hosting.
	ActionTakeover
	// ActionReconnect means connect to HostID again after Delay.
	ActionReconnect
	// ActionFail means give up; Err explains why.
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionTakeover:
		return "takeover"
	case ActionReconnect:
		return "reconnect"
	case ActionFail:
		return "fail"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Decision is the Controller's answer to a reported event.
type Decision struct {
	Action Action
	HostID string
	Delay  time.Duration
	Err    error
}

var (
	ErrMigrationFailed = errors.New("migration: host takeover failed")
	ErrInvalidState    = errors.New("migration: invalid state transition")
)

// Config tunes the Controller.
type Config struct {
	// Stagger separates the reconnect attempts of surviving clients by rank.
	Stagger time.Duration
	// Unreachable reports whether a connect error means the host is gone,
	// as opposed to the host refusing the link. Nil treats every error as
	// unreachable.
	Unreachable func(error) bool
}

// Controller tracks one peer's host relationship.
type Controller struct {
	cfg      Config
	state    State
	hostID   string
	tieBreak bool
}

func NewController(cfg Config) *Controller {
	if cfg.Unreachable == nil {
		cfg.Unreachable = func(err error) bool { return err != nil }
	}
	return &Controller{cfg: cfg}
}

func (c *Controller) State() State   { return c.state }
func (c *Controller) HostID() string { return c.hostID }

// BeginConnect records an attempt to join hostID.
func (c *Controller) BeginConnect(hostID string) error {
	switch c.state {
	case Host, HostTakeoverInProgress:
		return fmt.Errorf("%w: connect from %s", ErrInvalidState, c.state)
	}
	c.state = ClientConnecting
	c.hostID = hostID
	return nil
}

// BeginHosting records that this peer started a session as its host.
func (c *Controller) BeginHosting(id string) {
	c.state = Host
	c.hostID = id
	c.tieBreak = false
}

// Connected records a successful link to the host.
func (c *Controller) Connected() {
	if c.state == ClientConnecting {
		c.state = ClientConnected
		c.tieBreak = false
	}
}

// ConnectFailed reports that the link to the host could not be opened.
// An unreachable host is taken over under the same identifier. A failure
// while resolving a lost takeover race is terminal.
func (c *Controller) ConnectFailed(err error) Decision {
	if c.state != ClientConnecting {
		return Decision{}
	}
	if c.tieBreak {
		c.state = Failed
		return Decision{Action: ActionFail, HostID: c.hostID, Err: fmt.Errorf("%w: %v", ErrMigrationFailed, err)}
	}
	if !c.cfg.Unreachable(err) {
		c.state = Failed
		return Decision{Action: ActionFail, HostID: c.hostID, Err: err}
	}
	c.state = HostTakeoverInProgress
	return Decision{Action: ActionTakeover, HostID: c.hostID}
}

// TakeoverSucceeded records that this peer now hosts HostID.
func (c *Controller) TakeoverSucceeded() {
	if c.state == HostTakeoverInProgress {
		c.state = Host
		c.tieBreak = false
	}
}

// TakeoverFailed reports that the identifier could not be claimed, most
// likely because another survivor claimed it first. The peer gets exactly
// one reconnect attempt to that winner.
func (c *Controller) TakeoverFailed(err error) Decision {
	if c.state != HostTakeoverInProgress {
		return Decision{}
	}
	if c.tieBreak {
		c.state = Failed
		return Decision{Action: ActionFail, HostID: c.hostID, Err: fmt.Errorf("%w: %v", ErrMigrationFailed, err)}
	}
	c.tieBreak = true
	c.state = ClientConnecting
	return Decision{Action: ActionReconnect, HostID: c.hostID}
}

// HostLost reports that an established link to the host closed without the
// local peer asking for it. roster is the last known set of peer ids.
func (c *Controller) HostLost(self string, roster []string) Decision {
	if c.state != ClientConnected {
		return Decision{}
	}
	rank := Rank(self, roster, c.hostID)
	if rank == 0 {
		c.state = HostTakeoverInProgress
		return Decision{Action: ActionTakeover, HostID: c.hostID}
	}
	c.state = ClientConnecting
	return Decision{
		Action: ActionReconnect,
		HostID: c.hostID,
		Delay:  time.Duration(rank) * c.cfg.Stagger,
	}
}

// Reset returns the Controller to Idle, as after a deliberate disconnect.
func (c *Controller) Reset() {
	c.state = Idle
	c.hostID = ""
	c.tieBreak = false
}

// Rank orders the survivors of lostHost by id and returns self's position.
// Rank 0 is the designated successor. self is always counted even when the
// roster has not caught up with it yet.
func Rank(self string, roster []string, lostHost string) int {
	seen := map[string]struct{}{self: {}}
	survivors := []string{self}
	for _, id := range roster {
		if id == lostHost || id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		survivors = append(survivors, id)
	}
	sort.Strings(survivors)
	return sort.SearchStrings(survivors, self)
}
