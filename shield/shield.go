// Package shield provides the HTTP middleware every liseuse route goes
// through.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.Stack(64 * 1024) {
//	    r.Use(mw)
//	}
package shield

import "net/http"

// Stack returns the default middleware, outermost first:
// HeadToGet, SecurityHeaders, MaxBody, RequestID.
func Stack(maxBody int64) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(maxBody),
		RequestID,
	}
}
