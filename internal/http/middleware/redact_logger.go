// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// RedactingLogger writes one structured access log line per request with
// obvious PII scrubbed. Bodies are never logged. Credentials travel in the
// Authorization header or, for websocket handshakes, in the token query
// parameter; both are masked.
package middleware

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// RedactOptions extends the built-in masks.
type RedactOptions struct {
	// MaskHeaders are replaced with "[REDACTED]" (case-insensitive), in
	// addition to Authorization, Cookie and Set-Cookie.
	MaskHeaders []string
	// MaskQuery are query parameters whose values are replaced, in addition
	// to token.
	MaskQuery []string
}

var (
	// UUIDs go first so the phone pattern cannot eat their digit groups.
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-7][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

func redact(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

func lowerSet(base []string, extra []string) map[string]struct{} {
	set := make(map[string]struct{}, len(base)+len(extra))
	for _, v := range append(base, extra...) {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// RedactingLogger logs method, route, scrubbed query and headers, status,
// size and latency through the request-scoped logger. Level follows the
// status: error for 5xx, warn for 4xx, info otherwise.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	maskHeaders := lowerSet([]string{"authorization", "cookie", "set-cookie"}, opts.MaskHeaders)
	maskQuery := lowerSet([]string{"token"}, opts.MaskQuery)

	scrubQuery := func(raw string) string {
		if raw == "" {
			return ""
		}
		q, err := url.ParseQuery(raw)
		if err != nil {
			return redact(raw)
		}
		for k, vv := range q {
			if _, ok := maskQuery[strings.ToLower(k)]; ok {
				q[k] = []string{"[REDACTED]"}
				continue
			}
			for i := range vv {
				vv[i] = redact(vv[i])
			}
		}
		return q.Encode()
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		query := scrubQuery(c.Request.URL.RawQuery)
		headers := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := maskHeaders[strings.ToLower(k)]; ok {
				headers[k] = "[REDACTED]"
				continue
			}
			headers[k] = redact(strings.Join(vv, ", "))
		}

		c.Next()

		status := c.Writer.Status()
		lg := LoggerFrom(c)
		ev := lg.Info()
		switch {
		case status >= 500:
			ev = lg.Error()
		case status >= 400:
			ev = lg.Warn()
		}
		if p, ok := PrincipalFrom(c); ok {
			ev = ev.Str("principal", p.Key())
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.
			Str("request_id", c.Writer.Header().Get(requestIDHeader)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", headers).
			Msg("http_request")
	}
}
