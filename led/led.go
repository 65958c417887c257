// Package led defines the status-indication collaborator. Out of scope:
// the original firmware drives a single GPIO; this interface exists so the
// arbiter can report mode transitions to something without depending on
// GPIO directly.
package led

// Indicator shows the current access mode to the user.
type Indicator interface {
	ShowUsbExposed()
	ShowAppMounted()
	ShowTransition()
	ShowError()
}

// Noop discards every indication, for dev builds and tests.
type Noop struct{}

func (Noop) ShowUsbExposed()  {}
func (Noop) ShowAppMounted()  {}
func (Noop) ShowTransition()  {}
func (Noop) ShowError()       {}
