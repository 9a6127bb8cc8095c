// Package text builds the JSON text components used for kick reasons and
// the server list description.
package text

import jsoniter "github.com/json-iterator/go"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Component is a minimal chat component: either a literal or a key the
// client resolves against its own translations.
type Component struct {
	Text      string      `json:"text,omitempty"`
	Translate string      `json:"translate,omitempty"`
	With      []Component `json:"with,omitempty"`
}

// Literal builds a plain text component.
func Literal(s string) Component {
	return Component{Text: s}
}

// Translate builds a client-translated component, e.g.
// "multiplayer.disconnect.server_full".
func Translate(key string, with ...Component) Component {
	return Component{Translate: key, With: with}
}

// JSON renders the component for the wire. Marshal failures cannot occur
// for this shape, so the fallback is an empty object.
func (c Component) JSON() string {
	out, err := json.MarshalToString(c)
	if err != nil {
		return "{}"
	}
	return out
}

// Plain renders the component for contexts that take a bare string, such as
// the Config-phase disconnect packet and server logs.
func (c Component) Plain() string {
	if c.Text != "" {
		return c.Text
	}
	return c.Translate
}
