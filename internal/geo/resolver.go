// Package geo turns free-text addresses into map coordinates. When no
// geocoder is configured, or it fails, a deterministic fallback keeps every
// address on the map: known city names map to fixed points and anything else
// is hashed to a point near a fixed base.
package geo

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"taskpulse/internal/domain"
)

type Geocoder interface {
	Geocode(ctx context.Context, address string) (domain.Coordinates, bool, error)
}

type city struct {
	names  []string
	coords domain.Coordinates
}

// Checked in order; the first name found in the address wins. A name must
// stand as a whole word, so "Parish Road" is not Paris. Cyrillic names also
// match as a word prefix to allow case endings ("Минской", "Берлинская").
var knownCities = []city{
	{[]string{"минск", "minsk"}, domain.Coordinates{Latitude: 53.9045, Longitude: 27.5615}},
	{[]string{"москва", "moscow"}, domain.Coordinates{Latitude: 55.7558, Longitude: 37.6173}},
	{[]string{"киев", "kyiv", "kiev"}, domain.Coordinates{Latitude: 50.4501, Longitude: 30.5234}},
	{[]string{"варшава", "warsaw"}, domain.Coordinates{Latitude: 52.2297, Longitude: 21.0122}},
	{[]string{"берлин", "berlin"}, domain.Coordinates{Latitude: 52.5200, Longitude: 13.4050}},
	{[]string{"париж", "paris"}, domain.Coordinates{Latitude: 48.8566, Longitude: 2.3522}},
	{[]string{"лондон", "london"}, domain.Coordinates{Latitude: 51.5074, Longitude: -0.1278}},
	{[]string{"нью-йорк", "new york"}, domain.Coordinates{Latitude: 40.7128, Longitude: -74.0060}},
	{[]string{"токио", "tokyo"}, domain.Coordinates{Latitude: 35.6762, Longitude: 139.6503}},
	{[]string{"пекин", "beijing"}, domain.Coordinates{Latitude: 39.9042, Longitude: 116.4074}},
}

var base = domain.Coordinates{Latitude: 50.4501, Longitude: 30.5234}

type Resolver struct {
	primary Geocoder
	sf      singleflight.Group
}

// NewResolver returns a Resolver; primary may be nil.
func NewResolver(primary Geocoder) *Resolver {
	return &Resolver{primary: primary}
}

// Resolve returns coordinates for address. Only a blank address is absent.
func (r *Resolver) Resolve(ctx context.Context, address string) (domain.Coordinates, bool) {
	if strings.TrimSpace(address) == "" {
		return domain.Coordinates{}, false
	}
	v, _, _ := r.sf.Do(address, func() (interface{}, error) {
		if r.primary != nil {
			c, ok, err := r.primary.Geocode(ctx, address)
			switch {
			case err != nil:
				log.Debug().Err(err).Str("address", address).Msg("geocoder failed, using fallback")
			case ok:
				return c, nil
			default:
				log.Debug().Str("address", address).Msg("address not found, using fallback")
			}
		}
		return Fallback(address), nil
	})
	return v.(domain.Coordinates), true
}

// Locate resolves every task with a location into a map pin.
func (r *Resolver) Locate(ctx context.Context, tasks []domain.Task) []domain.Pin {
	pins := []domain.Pin{}
	for _, t := range tasks {
		c, ok := r.Resolve(ctx, t.Location)
		if !ok {
			continue
		}
		pins = append(pins, domain.Pin{Task: t, Coordinates: c})
	}
	return pins
}

// Fallback is the offline lookup. It is for map continuity only and makes no
// claim of geographic accuracy.
func Fallback(address string) domain.Coordinates {
	lower := strings.ToLower(address)
	for _, c := range knownCities {
		for _, name := range c.names {
			if containsName(lower, name) {
				return c.coords
			}
		}
	}

	h := int64(hash(address))
	return domain.Coordinates{
		Latitude:  base.Latitude + float64(h%100-50)/50,
		Longitude: base.Longitude + float64((h*123)%100-50)/30,
	}
}

// containsName reports whether name occurs in s with no letter directly
// before it and, for Latin names, no letter directly after it.
func containsName(s, name string) bool {
	latin := isASCII(name)
	for off := 0; off <= len(s)-len(name); {
		i := strings.Index(s[off:], name)
		if i < 0 {
			return false
		}
		start, end := off+i, off+i+len(name)
		before, _ := utf8.DecodeLastRuneInString(s[:start])
		after, _ := utf8.DecodeRuneInString(s[end:])
		if !unicode.IsLetter(before) && (!latin || !unicode.IsLetter(after)) {
			return true
		}
		_, size := utf8.DecodeRuneInString(s[start:])
		off = start + size
	}
	return false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// hash is h = h*31 + c over UTF-16 code units with 32-bit wraparound.
func hash(s string) int32 {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + int32(c)
	}
	return h
}

// FormatCoordinates renders c the way an unresolvable reverse lookup is shown.
func FormatCoordinates(c domain.Coordinates) string {
	return fmt.Sprintf("%.4f, %.4f", c.Latitude, c.Longitude)
}
