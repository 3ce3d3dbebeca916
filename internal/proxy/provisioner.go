// Package proxy validates proxy configuration and requests rotating egress
// handles from the hosting platform's issuer.
package proxy

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mapsight/places-crawler/internal/scrape"
)

// Config is the proxy section of the run input. CountryCode, if present,
// must be a valid ISO-3166-1 alpha-2 code; validation happens before any
// network activity.
type Config struct {
	UseProxy    bool     `mapstructure:"use_proxy"`
	Groups      []string `mapstructure:"groups"`
	CountryCode string   `mapstructure:"country"`
}

// Provisioner normalizes configuration and issues a shared proxy handle.
type Provisioner struct {
	issuer scrape.ProxyIssuer
	logger *zap.Logger
}

// NewProvisioner constructs a Provisioner.
func NewProvisioner(issuer scrape.ProxyIssuer, logger *zap.Logger) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{issuer: issuer, logger: logger}
}

// Normalize validates the configuration and upper-cases the country code.
// An unrecognized country yields *scrape.InvalidProxyCountryError without
// touching the issuer.
func Normalize(cfg Config) (Config, error) {
	if cfg.CountryCode == "" {
		return cfg, nil
	}
	code := strings.ToUpper(strings.TrimSpace(cfg.CountryCode))
	if !validAlpha2(code) {
		return Config{}, &scrape.InvalidProxyCountryError{Code: cfg.CountryCode}
	}
	cfg.CountryCode = code
	return cfg, nil
}

// Provision validates cfg and, when proxying is enabled, requests a rotating
// egress handle. With proxying disabled it returns a zero handle and no
// error.
func (p *Provisioner) Provision(ctx context.Context, cfg Config) (scrape.ProxyHandle, error) {
	cfg, err := Normalize(cfg)
	if err != nil {
		return scrape.ProxyHandle{}, err
	}
	if !cfg.UseProxy {
		return scrape.ProxyHandle{}, nil
	}
	if p.issuer == nil {
		return scrape.ProxyHandle{}, fmt.Errorf("proxy enabled but no issuer configured")
	}

	handle, err := p.issuer.Issue(ctx, cfg.Groups, cfg.CountryCode)
	if err != nil {
		return scrape.ProxyHandle{}, fmt.Errorf("issue proxy handle: %w", err)
	}
	p.logger.Info("proxy handle issued",
		zap.Strings("groups", handle.Groups),
		zap.String("country", handle.Country),
	)
	return handle, nil
}
