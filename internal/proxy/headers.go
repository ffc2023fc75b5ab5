package proxy

// skipRequestHeaders and skipResponseHeaders mirror SKIP_REQUEST_HEADERS /
// SKIP_RESPONSE_HEADERS in proxy/client.py exactly: hop-by-hop headers plus
// whichever framing headers get recomputed by the transport on each side.
var skipRequestHeaders = map[string]struct{}{
	"host":              {},
	"connection":        {},
	"keep-alive":        {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                {},
	"trailers":          {},
	"transfer-encoding":  {},
	"upgrade":           {},
	"content-length":    {},
}

var skipResponseHeaders = map[string]struct{}{
	"host":              {},
	"connection":        {},
	"keep-alive":        {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                {},
	"trailers":          {},
	"transfer-encoding":  {},
	"upgrade":           {},
	"content-encoding":  {},
	"content-length":    {},
}

func filterHeaders(src map[string][]string, skip map[string]struct{}, lower func(string) string) map[string][]string {
	out := make(map[string][]string, len(src))
	for k, v := range src {
		if _, ok := skip[lower(k)]; ok {
			continue
		}
		out[k] = v
	}
	return out
}
