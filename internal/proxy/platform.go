package proxy

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/mapsight/places-crawler/internal/scrape"
)

// PlatformIssuer builds rotating egress URLs against the hosting platform's
// shared proxy fleet. The session username encodes the requested groups and
// country, which the fleet uses to pick an exit pool.
type PlatformIssuer struct {
	host     string
	port     int
	password string
}

// NewPlatformIssuer constructs an issuer for the given fleet endpoint.
func NewPlatformIssuer(host string, port int, password string) (*PlatformIssuer, error) {
	if host == "" {
		return nil, fmt.Errorf("proxy host is required")
	}
	if port <= 0 {
		return nil, fmt.Errorf("proxy port must be > 0")
	}
	if password == "" {
		return nil, fmt.Errorf("proxy password is required")
	}
	return &PlatformIssuer{host: host, port: port, password: password}, nil
}

// Issue returns a handle whose URL routes through the requested groups and
// country. The handle is shared read-only across pool contexts.
func (i *PlatformIssuer) Issue(_ context.Context, groups []string, country string) (scrape.ProxyHandle, error) {
	parts := make([]string, 0, 2)
	if len(groups) > 0 {
		parts = append(parts, "groups-"+strings.Join(groups, "+"))
	}
	if country != "" {
		parts = append(parts, "country-"+country)
	}
	username := "auto"
	if len(parts) > 0 {
		username = strings.Join(parts, ",")
	}

	u := url.URL{
		Scheme: "http",
		User:   url.UserPassword(username, i.password),
		Host:   fmt.Sprintf("%s:%d", i.host, i.port),
	}
	return scrape.ProxyHandle{
		URL:     u.String(),
		Groups:  append([]string(nil), groups...),
		Country: country,
	}, nil
}
