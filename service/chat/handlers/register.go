package handlers

import "PRelay/service/chat"

// RegisterDefaults installs the handlers for every control frame the relay
// understands after authentication.
func RegisterDefaults(d *chat.Dispatcher) {
	d.Register(NewPingHandler())
	d.Register(NewRefreshHandler())
}
