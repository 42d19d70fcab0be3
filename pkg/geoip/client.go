// Package geoip resolves caller IPs against an external geolocation HTTP API.
// Lookups are best effort: a downed provider degrades risk-scoring
// granularity, it must never block a login.
package geoip

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// lookupTimeout bounds the only external call in the risk-scoring path.
const lookupTimeout = 5 * time.Second

// Location is the subset of provider fields the risk scorers consume.
type Location struct {
	IP          string  `json:"ip"`
	Country     string  `json:"country"`
	CountryCode string  `json:"country_code"`
	City        string  `json:"city"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	ISP         string  `json:"isp"`
	IsVPN       bool    `json:"is_vpn"`
}

// Client queries an ip-api style JSON endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the given provider base URL
// (e.g. http://ip-api.com/json).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: lookupTimeout},
	}
}

type providerResponse struct {
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	City        string  `json:"city"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	ISP         string  `json:"isp"`
	Proxy       bool    `json:"proxy"`
	Hosting     bool    `json:"hosting"`
}

// Lookup resolves one IP. The request is aborted after 5 seconds regardless
// of the parent context.
func (c *Client) Lookup(ctx context.Context, ip string) (*Location, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	u := fmt.Sprintf("%s/%s?fields=status,message,country,countryCode,city,lat,lon,isp,proxy,hosting",
		c.baseURL, url.PathEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build geolocation request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geolocation lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geolocation provider returned status %d", resp.StatusCode)
	}

	var pr providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("decode geolocation response: %w", err)
	}
	if pr.Status != "success" {
		return nil, fmt.Errorf("geolocation provider: %s", pr.Message)
	}

	return &Location{
		IP:          ip,
		Country:     pr.Country,
		CountryCode: pr.CountryCode,
		City:        pr.City,
		Latitude:    pr.Lat,
		Longitude:   pr.Lon,
		ISP:         pr.ISP,
		IsVPN:       pr.Proxy || pr.Hosting,
	}, nil
}
