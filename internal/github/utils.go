package github

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var loginPattern = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]{0,38})$`)

// ParseProfileURL extracts the login from a GitHub profile URL such as
// https://github.com/octocat. A bare login is accepted as well.
func ParseProfileURL(profileURL string) (string, error) {
	raw := strings.TrimSpace(profileURL)
	if raw == "" {
		return "", fmt.Errorf("empty GitHub profile URL")
	}
	if !strings.Contains(raw, "/") {
		if !loginPattern.MatchString(raw) {
			return "", fmt.Errorf("invalid GitHub login %q", raw)
		}
		return raw, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %v", err)
	}
	host := strings.TrimPrefix(strings.ToLower(parsedURL.Host), "www.")
	if host != "github.com" {
		return "", fmt.Errorf("not a GitHub URL")
	}
	path := strings.Trim(parsedURL.Path, "/")
	if path == "" || strings.Contains(path, "/") {
		return "", fmt.Errorf("invalid GitHub profile URL format")
	}
	if !loginPattern.MatchString(path) {
		return "", fmt.Errorf("invalid GitHub login %q", path)
	}
	return path, nil
}
