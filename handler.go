package netplay

// Handler receives hub notifications. Callbacks run outside the hub's lock,
// so they may call back into the Hub. A panicking callback is recovered and
// logged.
type Handler interface {
	OnStatus(status Status)
	OnPlayerJoined(player Player)
	OnPlayerLeft(player Player)
	OnRoster(players []Player)
	OnChat(chat Chat)
	OnError(err error)
}

// NopHandler ignores every notification. Embed it to implement only the
// callbacks you need.
type NopHandler struct{}

func (NopHandler) OnStatus(Status)       {}
func (NopHandler) OnPlayerJoined(Player) {}
func (NopHandler) OnPlayerLeft(Player)   {}
func (NopHandler) OnRoster([]Player)     {}
func (NopHandler) OnChat(Chat)           {}
func (NopHandler) OnError(error)         {}
