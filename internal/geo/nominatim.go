package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"taskpulse/internal/domain"
)

// Nominatim queries a Nominatim-compatible /search endpoint.
type Nominatim struct {
	base      string
	userAgent string
	client    *http.Client
}

func NewNominatim(baseURL string, timeout time.Duration) *Nominatim {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Nominatim{
		base:      strings.TrimRight(baseURL, "/"),
		userAgent: "taskpulse/1.0",
		client:    &http.Client{Timeout: timeout},
	}
}

type place struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

func (n *Nominatim) Geocode(ctx context.Context, address string) (domain.Coordinates, bool, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("limit", "1")
	q.Set("q", address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.base+"/search?"+q.Encode(), nil)
	if err != nil {
		return domain.Coordinates{}, false, err
	}
	req.Header.Set("User-Agent", n.userAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		return domain.Coordinates{}, false, fmt.Errorf("geocode request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return domain.Coordinates{}, false, fmt.Errorf("geocoder HTTP %d", resp.StatusCode)
	}

	var places []place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return domain.Coordinates{}, false, fmt.Errorf("decode geocode response: %w", err)
	}
	if len(places) == 0 {
		return domain.Coordinates{}, false, nil
	}
	lat, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return domain.Coordinates{}, false, fmt.Errorf("bad latitude %q: %w", places[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return domain.Coordinates{}, false, fmt.Errorf("bad longitude %q: %w", places[0].Lon, err)
	}
	return domain.Coordinates{Latitude: lat, Longitude: lon}, true, nil
}
