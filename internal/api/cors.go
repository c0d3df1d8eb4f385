package api

import (
	"net/http"
	"strings"

	"github.com/liks79/langbridge-liveloop-app/internal/protocol"
)

// corsPolicy allows any origin when the list is empty or contains "*";
// otherwise only exact matches pass.
type corsPolicy struct {
	anyOrigin bool
	allowed   map[string]struct{}
}

func newCORSPolicy(origins []string) *corsPolicy {
	p := &corsPolicy{allowed: make(map[string]struct{})}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o == "*" {
			p.anyOrigin = true
		}
		p.allowed[o] = struct{}{}
	}
	if len(p.allowed) == 0 {
		p.anyOrigin = true
	}
	return p
}

// activeOrigin returns the origin to echo back, or "" when origin is not allowed.
func (p *corsPolicy) activeOrigin(origin string) string {
	if p.anyOrigin {
		if origin == "" {
			return "*"
		}
		return origin
	}
	if _, ok := p.allowed[origin]; ok && origin != "" {
		return origin
	}
	return ""
}

func (p *corsPolicy) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		active := p.activeOrigin(r.Header.Get("Origin"))
		if active == "" && r.Method != http.MethodOptions {
			writeError(w, http.StatusForbidden, protocol.ErrorBody{Error: "Origin not allowed"})
			return
		}
		if active == "" {
			active = "*"
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", active)
		h.Set("Vary", "Origin")
		h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}
