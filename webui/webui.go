// Package webui defines the web configuration form / UI asset collaborator.
// Out of scope: serving these assets is a static-file concern the vendor
// HTTP server handles directly; this interface exists so core.Core can
// register it as a handler without the core itself knowing what the assets
// are.
package webui

import "net/http"

// Assets serves the configuration form's static assets.
type Assets interface {
	Handler() http.Handler
}

// None serves 404 for every asset request, for builds with no embedded UI.
type None struct{}

func (None) Handler() http.Handler {
	return http.NotFoundHandler()
}
