// Package httpx provides HTTP utilities shared by the raw storefront endpoints
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"tourmaline.app/pkg/errs"
)

// Trusted proxy networks (RFC 1918 private ranges, loopback and link-local)
var trustedProxyNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("httpx: bad cidr %q: %v", cidr, err))
		}
		out = append(out, network)
	}
	return out
}

func inNetworks(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, network := range trustedProxyNetworks {
		if network.Contains(parsed) {
			return true
		}
	}
	return false
}

// isTrustedProxy checks if the given IP is from a trusted proxy network
func isTrustedProxy(ip string) bool { return inNetworks(ip) }

// isPrivateIP checks if the IP address is private/internal
func isPrivateIP(ip string) bool { return inNetworks(ip) }

// isValidIP checks if the provided string is a valid IP address
func isValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}

// GetClientIP extracts the real client IP address from an HTTP request.
// Proxy headers are only honoured when the connection comes from a trusted network.
func GetClientIP(r *http.Request) string {
	remoteAddr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		remoteAddr = host
	}

	if !isTrustedProxy(remoteAddr) {
		return remoteAddr
	}

	// X-Forwarded-For: "client, proxy1, proxy2"
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		clientIP := strings.TrimSpace(strings.Split(xff, ",")[0])
		if clientIP != "" && isValidIP(clientIP) && !isPrivateIP(clientIP) {
			return clientIP
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" && isValidIP(xri) {
		return xri
	}

	if cfIP := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); cfIP != "" && isValidIP(cfIP) {
		return cfIP
	}

	return remoteAddr
}

// GetUserAgent extracts the User-Agent header, truncated to 500 bytes
func GetUserAgent(r *http.Request) string {
	ua := r.Header.Get("User-Agent")
	if len(ua) > 500 {
		ua = ua[:500]
	}
	return ua
}

// GetOrigin safely extracts the Origin header
func GetOrigin(r *http.Request) string {
	origin := strings.TrimSuffix(r.Header.Get("Origin"), "/")
	if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
		return ""
	}
	return origin
}

// RequestOrigin returns the Origin header when present, otherwise the
// scheme and host the request was addressed to.
func RequestOrigin(r *http.Request) string {
	if origin := GetOrigin(r); origin != "" {
		return origin
	}
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd == "http" || fwd == "https" {
		scheme = fwd
	}
	if r.Host == "" {
		return ""
	}
	return scheme + "://" + r.Host
}

// IsOriginAllowed checks if the origin is in the allowed list.
// Supports wildcards like *.example.com (but NOT the root domain).
func IsOriginAllowed(origin string, allowedOrigins []string) bool {
	if origin == "" {
		return false
	}

	for _, allowed := range allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}

		if !strings.HasPrefix(allowed, "*.") {
			continue
		}
		domain := allowed[2:]
		originHost := ExtractHost(origin)
		if originHost == "" || originHost == domain {
			continue
		}
		if strings.HasSuffix(originHost, "."+domain) {
			prefix := strings.TrimSuffix(originHost, "."+domain)
			// at most three subdomain levels
			if prefix != "" && strings.Count(prefix, ".") < 3 {
				return true
			}
		}
	}

	return false
}

// ExtractHost extracts the hostname from a URL or origin
func ExtractHost(urlOrOrigin string) string {
	urlOrOrigin = strings.TrimPrefix(urlOrOrigin, "https://")
	urlOrOrigin = strings.TrimPrefix(urlOrOrigin, "http://")

	if idx := strings.Index(urlOrOrigin, "/"); idx >= 0 {
		urlOrOrigin = urlOrOrigin[:idx]
	}

	if host, _, err := net.SplitHostPort(urlOrOrigin); err == nil {
		return host
	}
	return urlOrOrigin
}

// WriteJSON writes v as a JSON response with the given status
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorBody is the JSON shape of every error response
type ErrorBody struct {
	Error         string `json:"error"`
	Code          string `json:"code,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// WriteError renders err as {"error": message, "code": code} using the
// status mapped from its code.
func WriteError(w http.ResponseWriter, err error) {
	e := errs.As(err)
	if e.CorrelationID != "" {
		w.Header().Set("X-Correlation-ID", e.CorrelationID)
	}
	WriteJSON(w, e.HTTPStatus(), ErrorBody{Error: e.Message, Code: e.Code, CorrelationID: e.CorrelationID})
}

// ErrBodyTooLarge is returned by ReadBody when the limit is exceeded
var ErrBodyTooLarge = errors.New("request body too large")

// ReadBody reads at most limit bytes of the request body.
func ReadBody(r *http.Request, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = 1 << 20
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}

// DecodeJSON reads a bounded body and unmarshals it into v.
func DecodeJSON(r *http.Request, limit int64, v interface{}) error {
	body, err := ReadBody(r, limit)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return errors.New("empty body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}
