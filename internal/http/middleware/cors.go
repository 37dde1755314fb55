package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig lists what browsers may send. An origin entry is either exact,
// "*" for any origin, or a subdomain pattern such as
// "https://*.fleet.example.com". Empty methods and headers fall back to what
// the API serves.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAgeSeconds  int
}

// Dashboards poll route jobs, so they need to read the pacing and tracing
// headers from 202 responses.
const corsExposedHeaders = "Retry-After, X-Request-Id"

type corsPolicy struct {
	anyOrigin bool
	exact     map[string]struct{}
	suffixes  []originSuffix

	methods      map[string]struct{}
	methodsValue string
	headersValue string
	maxAgeValue  string
}

type originSuffix struct {
	scheme string
	domain string
}

func newCORSPolicy(cfg CORSConfig) *corsPolicy {
	policy := &corsPolicy{exact: map[string]struct{}{}, methods: map[string]struct{}{}}
	for _, origin := range cfg.AllowedOrigins {
		origin = strings.ToLower(strings.TrimSpace(origin))
		switch {
		case origin == "":
		case origin == "*":
			policy.anyOrigin = true
		case strings.Contains(origin, "://*."):
			scheme, host, _ := strings.Cut(origin, "://*")
			policy.suffixes = append(policy.suffixes, originSuffix{scheme: scheme + "://", domain: host})
		default:
			policy.exact[origin] = struct{}{}
		}
	}

	methods := trimmed(cfg.AllowedMethods)
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}
	}
	for _, method := range methods {
		policy.methods[strings.ToUpper(method)] = struct{}{}
	}
	policy.methodsValue = strings.Join(methods, ", ")

	headers := trimmed(cfg.AllowedHeaders)
	if len(headers) == 0 {
		headers = []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Auth-Token", "X-Request-Id"}
	}
	policy.headersValue = strings.Join(headers, ", ")

	maxAge := cfg.MaxAgeSeconds
	if maxAge <= 0 {
		maxAge = 600
	}
	policy.maxAgeValue = strconv.Itoa(maxAge)
	return policy
}

func (p *corsPolicy) allows(origin string) bool {
	if p.anyOrigin {
		return true
	}
	origin = strings.ToLower(origin)
	if _, ok := p.exact[origin]; ok {
		return true
	}
	for _, suffix := range p.suffixes {
		host, ok := strings.CutPrefix(origin, suffix.scheme)
		if ok && len(host) > len(suffix.domain) && strings.HasSuffix(host, suffix.domain) {
			return true
		}
	}
	return false
}

func (p *corsPolicy) allowOrigin(header http.Header, origin string) {
	header.Add("Vary", "Origin")
	if p.anyOrigin {
		header.Set("Access-Control-Allow-Origin", "*")
		return
	}
	header.Set("Access-Control-Allow-Origin", origin)
}

func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	policy := newCORSPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" || !policy.allows(origin) {
				next.ServeHTTP(w, r)
				return
			}

			requested := r.Header.Get("Access-Control-Request-Method")
			if r.Method != http.MethodOptions || requested == "" {
				policy.allowOrigin(w.Header(), origin)
				w.Header().Set("Access-Control-Expose-Headers", corsExposedHeaders)
				next.ServeHTTP(w, r)
				return
			}

			// Preflight. A method the API does not serve gets no allow headers,
			// which the browser reports as a CORS failure.
			w.Header().Add("Vary", "Access-Control-Request-Method")
			w.Header().Add("Vary", "Access-Control-Request-Headers")
			if _, ok := policy.methods[strings.ToUpper(requested)]; !ok {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			policy.allowOrigin(w.Header(), origin)
			w.Header().Set("Access-Control-Allow-Methods", policy.methodsValue)
			w.Header().Set("Access-Control-Allow-Headers", policy.headersValue)
			w.Header().Set("Access-Control-Max-Age", policy.maxAgeValue)
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

func trimmed(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}
