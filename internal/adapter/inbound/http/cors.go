package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Sentinel-Gate/rpcgate/internal/domain/gate"
)

// ResolveOrigin decides the Access-Control-Allow-Origin value for a request.
//
// An empty allow-list denies every cross-origin request. A request without
// an Origin gets the first allowed origin. Otherwise the origin is returned
// only when it is an exact member of allowList. The result is never "*".
func ResolveOrigin(origin string, allowList []string) string {
	if len(allowList) == 0 {
		return ""
	}
	if origin == "" {
		if allowList[0] == "*" {
			return ""
		}
		return allowList[0]
	}
	for _, allowed := range allowList {
		if allowed != "*" && origin == allowed {
			return origin
		}
	}
	return ""
}

// isPreflight reports whether r is a CORS preflight request.
func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}

// CORSMiddleware applies the CORS decision from the request's settings
// snapshot. Preflight requests are answered here and never reach the gates.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cors := settingsFromContext(r.Context()).CORS
		origin := r.Header.Get("Origin")
		allowed := ResolveOrigin(origin, cors.AllowedOrigins)

		h := w.Header()
		h.Add("Vary", "Origin")
		if allowed != "" {
			h.Set("Access-Control-Allow-Origin", allowed)
		}

		if !isPreflight(r) {
			next.ServeHTTP(w, r)
			return
		}

		// A preflight from an unlisted origin is refused outright.
		if allowed == "" || (origin != "" && allowed != origin) {
			writeRejection(w, r, gate.OriginNotAllowed())
			return
		}

		h.Set("Access-Control-Allow-Methods", strings.Join(cors.AllowedMethods, ", "))
		h.Set("Access-Control-Allow-Headers", strings.Join(cors.AllowedHeaders, ", "))
		if secs := int(cors.MaxAge.Seconds()); secs > 0 {
			h.Set("Access-Control-Max-Age", strconv.Itoa(secs))
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
