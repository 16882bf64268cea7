package httpactor

import "net"

// newListener binds addr, isolated in its own function so Start's error
// path reads as a single bind-or-fail step, matching the spec's "bind
// failure -> Startup" contract.
func newListener(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
