package apiclient

import (
	"fmt"
	"net/url"
	"strings"
)

// DevAPIURL is the backend address used while the site runs on localhost
const DevAPIURL = "http://localhost:8080/api"

// ResolveBaseURL picks the API base URL: an explicit apiURL wins, a site on
// localhost talks to the local backend, anything else uses <origin>/api
func ResolveBaseURL(siteURL, apiURL string) (string, error) {
	if apiURL = strings.TrimSpace(apiURL); apiURL != "" {
		return strings.TrimRight(apiURL, "/"), nil
	}

	u, err := url.Parse(strings.TrimSpace(siteURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid site URL %q", siteURL)
	}

	switch u.Hostname() {
	case "localhost", "127.0.0.1":
		return DevAPIURL, nil
	}

	return fmt.Sprintf("%s://%s/api", u.Scheme, u.Host), nil
}
