// Package origin normalizes browser Origin headers and evaluates the relay's
// origin allowlist.
//
// The relay is a standalone daemon, so the policy is allowlist-only: with an
// empty allowlist every origin is admitted, and native clients that send no
// Origin header at all are always admitted.
package origin

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates an Origin header and returns it in canonical
// scheme://host[:port] form. Default ports are stripped so that
// "https://a.example:443" and "https://a.example" compare equal.
//
// The special value "null" (sandboxed iframes, some file:// contexts) is
// returned as-is; it only ever matches an explicit "null" allowlist entry.
func Normalize(header string) (string, bool) {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return "", false
	}
	if trimmed == "null" {
		return "null", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}

	hostname, rawPort, ok := splitHostPort(u.Host)
	if !ok {
		return "", false
	}
	hostname = strings.ToLower(hostname)
	if hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		// IPv6 literal.
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return scheme + "://" + host, true
}

// NormalizeList canonicalizes a configured allowlist, rejecting entries that
// are not valid origins. "*" is preserved and admits everything.
func NormalizeList(entries []string) ([]string, error) {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e) == "*" {
			out = append(out, "*")
			continue
		}
		n, ok := Normalize(e)
		if !ok {
			return nil, fmt.Errorf("invalid allowed origin %q", e)
		}
		out = append(out, n)
	}
	return out, nil
}

// Allowed reports whether a connection with the given Origin header may
// proceed. The allowlist entries must already be normalized.
func Allowed(allowlist []string, header string) bool {
	if len(allowlist) == 0 || strings.TrimSpace(header) == "" {
		return true
	}
	normalized, ok := Normalize(header)
	if !ok {
		return false
	}
	for _, a := range allowlist {
		if a == "*" || a == normalized {
			return true
		}
	}
	return false
}

// splitHostPort splits an authority host[:port]. IPv6 literals are returned
// without brackets; the port is returned unvalidated.
func splitHostPort(rawHost string) (hostname, port string, ok bool) {
	if rawHost == "" {
		return "", "", false
	}

	if strings.HasPrefix(rawHost, "[") {
		end := strings.IndexByte(rawHost, ']')
		if end < 0 {
			return "", "", false
		}
		hostname = rawHost[1:end]
		rest := rawHost[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		if !strings.HasPrefix(rest, ":") || len(rest) == 1 {
			return "", "", false
		}
		return hostname, rest[1:], true
	}

	switch strings.Count(rawHost, ":") {
	case 0:
		return rawHost, "", true
	case 1:
		i := strings.IndexByte(rawHost, ':')
		if i == 0 || i == len(rawHost)-1 {
			return "", "", false
		}
		return rawHost[:i], rawHost[i+1:], true
	default:
		// An unbracketed IPv6 literal is not a valid authority.
		return "", "", false
	}
}
