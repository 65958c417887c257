// Package wifi defines the Wi-Fi station-association collaborator. Out of
// scope per the purpose statement; this is just enough
// surface for core.Core to hold a concrete field for it.
package wifi

// Station models station (client) association only; it has no AP bring-up
// or mDNS announcement methods.
type Station interface {
	Connect(ssid, psk string) error
	Disconnect() error
	Connected() bool
	IPAddress() string
}

// Noop is a Station that never actually associates, for dev builds and
// tests that don't need real Wi-Fi.
type Noop struct{}

func (Noop) Connect(ssid, psk string) error { return nil }
func (Noop) Disconnect() error              { return nil }
func (Noop) Connected() bool                { return false }
func (Noop) IPAddress() string              { return "" }
