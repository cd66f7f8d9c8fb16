package pgshare

import "net/textproto"

// hopByHopHeaders are stripped from both legs of the tunnel: the public
// request before it becomes a RequestMessage (C4), and the origin's reply
// before it becomes a ResponseMessage (C6).
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// isHopByHop reports whether name is a hop-by-hop header or the Host header,
// both of which must never be forwarded across the tunnel.
func isHopByHop(name string) bool {
	canon := textproto.CanonicalMIMEHeaderKey(name)
	return hopByHopHeaders[canon] || canon == "Host"
}

// filterHopByHop returns a copy of pairs with hop-by-hop headers (and Host)
// removed, preserving the order and case of the remaining pairs.
func filterHopByHop(pairs []HeaderPair) []HeaderPair {
	out := make([]HeaderPair, 0, len(pairs))
	for _, p := range pairs {
		if isHopByHop(p[0]) {
			continue
		}
		out = append(out, p)
	}
	return out
}
