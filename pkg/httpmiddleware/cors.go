package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures the CORS middleware behaviour.
type CORSConfig struct {
	// AllowOrigins lists origins allowed to make cross-origin requests. An
	// empty list or the single entry "*" allows all origins.
	AllowOrigins []string

	// AllowHeaders lists the request headers clients may use. When empty,
	// the preflight's Access-Control-Request-Headers is echoed back.
	AllowHeaders []string

	// AllowCredentials exposes the response when the credentials flag is
	// set. With credentials the wildcard origin is forbidden, so the
	// specific origin is echoed instead.
	AllowCredentials bool

	// MaxAge is how long (in seconds) preflight results may be cached.
	// Zero omits the header.
	MaxAge int
}

// CORS returns a middleware handling Cross-Origin Resource Sharing,
// including preflight requests. The one-time link is opened from mail
// clients and embedded browsers, so the allow list defaults to permissive.
func CORS(cfg CORSConfig) Middleware {
	allowAll := len(cfg.AllowOrigins) == 0
	allowed := make(map[string]string, len(cfg.AllowOrigins)) // lowercase -> original
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			allowAll = true
			break
		}
		allowed[strings.ToLower(o)] = o
	}
	if cfg.AllowCredentials {
		allowAll = false
	}
	allowHeaders := strings.Join(cfg.AllowHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Add("Vary", "Origin")

			switch {
			case allowAll:
				h.Set("Access-Control-Allow-Origin", "*")
			default:
				echo, ok := allowed[strings.ToLower(origin)]
				if !ok && len(allowed) > 0 {
					next.ServeHTTP(w, r)
					return
				}
				if !ok {
					echo = origin
				}
				h.Set("Access-Control-Allow-Origin", echo)
			}
			if cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}

			// Preflight.
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				if allowHeaders != "" {
					h.Set("Access-Control-Allow-Headers", allowHeaders)
				} else if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
					h.Set("Access-Control-Allow-Headers", reqHeaders)
				}
				if cfg.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
