package extractor

import (
	"errors"
	"net/url"
	"strings"
)

// ErrUnsupportedURL is returned for input that does not look like a link to
// one of the supported platforms.
var ErrUnsupportedURL = errors.New("unsupported source url")

// ValidateURL checks that raw is a URL whose host contains one of hosts and
// that it points at something (non-empty path or query). It returns the URL
// with a scheme, defaulting to https.
func ValidateURL(raw string, hosts []string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrUnsupportedURL
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", ErrUnsupportedURL
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", ErrUnsupportedURL
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" || !hostAllowed(host, hosts) {
		return "", ErrUnsupportedURL
	}
	if strings.Trim(parsed.Path, "/") == "" && parsed.RawQuery == "" {
		return "", ErrUnsupportedURL
	}
	return parsed.String(), nil
}

func hostAllowed(host string, hosts []string) bool {
	for _, h := range hosts {
		if h != "" && strings.Contains(host, strings.ToLower(h)) {
			return true
		}
	}
	return false
}

// PlaylistID returns the value of the list= query parameter, if any.
func PlaylistID(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return parsed.Query().Get("list")
}
