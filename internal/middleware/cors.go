package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/cors"
)

// baseAllowedHeaders are always allowed in the preflight response,
// regardless of what the client requested (original_source/src/handlers/
// cors.rs's hardcoded base_headers list, kept for backward compatibility).
var baseAllowedHeaders = []string{
	"Authorization", "Content-Type", "User-Agent", "Accept", "Origin",
	"X-Requested-With", "Access-Control-Request-Method",
	"Access-Control-Request-Headers", "Accept-Encoding", "Accept-Language",
	"Cache-Control", "Connection", "Referer", "Sec-Fetch-Dest",
	"Sec-Fetch-Mode", "Sec-Fetch-Site", "Pragma", "X-Api-Key",
}

// knownSafeHeaders are standard headers allowed beyond the base list when a
// client requests them explicitly (original_source's is_safe_header
// whitelist, minus the "x-" prefix rule handled separately).
var knownSafeHeaders = map[string]bool{
	"accept": true, "accept-encoding": true, "accept-language": true,
	"authorization": true, "cache-control": true, "connection": true,
	"content-type": true, "user-agent": true, "referer": true,
	"origin": true, "pragma": true, "sec-fetch-dest": true,
	"sec-fetch-mode": true, "sec-fetch-site": true,
}

// isSafeHeader reports whether a client-requested header is allowed to be
// reflected back in Access-Control-Allow-Headers: any "X-"-prefixed custom
// header (e.g. X-Stainless-*, X-Custom-Trace-Id) or a known standard header,
// but never Cookie/Set-Cookie. Mirrors original_source/src/handlers/cors.rs's
// is_safe_header.
func isSafeHeader(h string) bool {
	h = strings.ToLower(strings.TrimSpace(h))
	if h == "" {
		return false
	}
	if h == "cookie" || h == "set-cookie" {
		return false
	}
	return strings.HasPrefix(h, "x-") || knownSafeHeaders[h]
}

// allowedHeadersForRequest merges baseAllowedHeaders with whatever
// additional headers the client listed in Access-Control-Request-Headers
// that pass isSafeHeader, deduplicating case-insensitively. Mirrors
// original_source's parse_requested_headers + base/dynamic header merge,
// since rs/cors's AllowedHeaders option is a static list and can't express
// this per-request filter on its own.
func allowedHeadersForRequest(r *http.Request) []string {
	headers := append([]string{}, baseAllowedHeaders...)

	requested := r.Header.Get("Access-Control-Request-Headers")
	if requested == "" {
		return headers
	}

	seen := make(map[string]bool, len(headers))
	for _, h := range headers {
		seen[strings.ToLower(h)] = true
	}

	for _, h := range strings.Split(requested, ",") {
		h = strings.TrimSpace(h)
		if h == "" || !isSafeHeader(h) {
			continue
		}
		key := strings.ToLower(h)
		if seen[key] {
			continue
		}
		seen[key] = true
		headers = append(headers, h)
	}

	return headers
}

// NewCORSMiddleware reflects the request's Origin (with credentials
// allowed) and answers OPTIONS preflights, per spec.md §6 "CORS". Built on
// rs/cors rather than a hand-rolled preflight responder: AllowOriginFunc
// gives the Origin-echo behavior original_source/src/handlers/cors.rs
// implements by hand. Since rs/cors's AllowedHeaders is a fixed list, a
// fresh cors.Handler is constructed per request with allowedHeadersForRequest's
// dynamic safe-list result, so novel X-* headers (and other safe headers)
// the client actually asked for are reflected back instead of rejected.
func NewCORSMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := cors.New(cors.Options{
				AllowOriginFunc: func(origin string) bool {
					return true
				},
				AllowedHeaders: allowedHeadersForRequest(r),
				AllowedMethods: []string{
					http.MethodGet, http.MethodPost, http.MethodPut,
					http.MethodDelete, http.MethodPatch, http.MethodHead,
					http.MethodOptions,
				},
				AllowCredentials:   true,
				MaxAge:             3600,
				OptionsPassthrough: false,
			})
			c.Handler(next).ServeHTTP(w, r)
		})
	}
}
