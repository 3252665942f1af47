package tz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/example/fleet-availability/internal/models"
)

var ErrNoAPIKey = errors.New("geocoder api key not configured")

// Lookup resolves an address to an IANA zone name using an external service.
type Lookup interface {
	LookupZone(ctx context.Context, address string) (string, error)
}

// CoordLookup resolves the zone of a known coordinate.
type CoordLookup interface {
	ZoneAt(ctx context.Context, c models.Coord) (string, error)
}

// Geocoder turns an address into coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (models.Coord, error)
}

// NoopLookup never resolves; it keeps tests and offline runs deterministic.
type NoopLookup struct{}

func (NoopLookup) LookupZone(context.Context, string) (string, error) {
	return "", errors.New("no timezone lookup configured")
}

// GoogleLookup performs geocode and timezone lookups against the Google
// Maps HTTP APIs.
type GoogleLookup struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
	now      func() time.Time
}

func NewGoogleLookup(endpoint, apiKey string, timeout time.Duration) *GoogleLookup {
	if endpoint == "" {
		endpoint = "https://maps.googleapis.com"
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &GoogleLookup{Endpoint: endpoint, APIKey: apiKey, Client: &http.Client{Timeout: timeout}, now: time.Now}
}

func (g *GoogleLookup) Geocode(ctx context.Context, address string) (models.Coord, error) {
	if g.APIKey == "" {
		return models.Coord{}, ErrNoAPIKey
	}
	q := url.Values{"address": {address}, "key": {g.APIKey}}
	var out struct {
		Status  string `json:"status"`
		Results []struct {
			Geometry struct {
				Location struct {
					Lat float64 `json:"lat"`
					Lng float64 `json:"lng"`
				} `json:"location"`
			} `json:"geometry"`
		} `json:"results"`
	}
	if err := g.get(ctx, "/maps/api/geocode/json", q, &out); err != nil {
		return models.Coord{}, err
	}
	if out.Status != "OK" || len(out.Results) == 0 {
		return models.Coord{}, fmt.Errorf("geocode %q: status %s", address, out.Status)
	}
	loc := out.Results[0].Geometry.Location
	return models.Coord{Lat: loc.Lat, Lon: loc.Lng}, nil
}

// ZoneAt returns the IANA zone id for a coordinate.
func (g *GoogleLookup) ZoneAt(ctx context.Context, c models.Coord) (string, error) {
	if g.APIKey == "" {
		return "", ErrNoAPIKey
	}
	q := url.Values{
		"location":  {fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)},
		"timestamp": {strconv.FormatInt(g.now().Unix(), 10)},
		"key":       {g.APIKey},
	}
	var out struct {
		Status     string `json:"status"`
		TimeZoneID string `json:"timeZoneId"`
	}
	if err := g.get(ctx, "/maps/api/timezone/json", q, &out); err != nil {
		return "", err
	}
	if out.Status != "OK" || out.TimeZoneID == "" {
		return "", fmt.Errorf("timezone lookup: status %s", out.Status)
	}
	return out.TimeZoneID, nil
}

func (g *GoogleLookup) LookupZone(ctx context.Context, address string) (string, error) {
	c, err := g.Geocode(ctx, address)
	if err != nil {
		return "", err
	}
	return g.ZoneAt(ctx, c)
}

func (g *GoogleLookup) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.Endpoint+path+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return err
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: http %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
