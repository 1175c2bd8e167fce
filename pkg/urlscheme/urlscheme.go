// Package urlscheme rewrites endpoint schemes between the HTTP and WebSocket families.
package urlscheme

import "strings"

// Mapping maps a source scheme to a target scheme, e.g. "http" -> "ws".
type Mapping map[string]string

var (
	HTTPToWS = Mapping{"http": "ws", "https": "wss"}
	WSToHTTP = Mapping{"ws": "http", "wss": "https"}
)

var separators = []string{`://`, `:\`}

// Translate replaces the leading scheme of u according to m. Both the "scheme://" and the
// "scheme:\" separator forms are recognised. Inputs without a matching scheme are returned
// unchanged.
func Translate(u string, m Mapping) string {
	for from, to := range m {
		for _, sep := range separators {
			prefix := from + sep
			if strings.HasPrefix(u, prefix) {
				return to + sep + u[len(prefix):]
			}
		}
	}
	return u
}

// ToWebSocket turns http(s) endpoints into ws(s) endpoints.
func ToWebSocket(u string) string {
	return Translate(u, HTTPToWS)
}

// ToHTTP turns ws(s) endpoints into http(s) endpoints.
func ToHTTP(u string) string {
	return Translate(u, WSToHTTP)
}
