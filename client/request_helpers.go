package client

import "net/http"

// mergeHeaders returns a new header holding every set in order; later
// values replace earlier ones for the same key.
func mergeHeaders(sets ...http.Header) http.Header {
	out := make(http.Header)
	for _, h := range sets {
		for k, vals := range h {
			out[http.CanonicalHeaderKey(k)] = append([]string(nil), vals...)
		}
	}
	return out
}
