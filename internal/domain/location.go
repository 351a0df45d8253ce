package domain

import (
	"errors"
	"strings"
	"time"
	"unicode"
)

// NormalizeLocation turns a place name into the key used for storage, caching,
// and subscriber matching: trimmed, lower-cased, spaces replaced by underscores.
// "  New Delhi " -> "new_delhi".
func NormalizeLocation(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// DisplayLocation renders a normalized key for people: "new_delhi" -> "New Delhi".
func DisplayLocation(key string) string {
	words := strings.Fields(strings.ReplaceAll(key, "_", " "))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

var (
	// ErrPlaceNotFound is returned when no snapshot is stored for a location.
	ErrPlaceNotFound = errors.New("place not found")

	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrSubscriberExists   = errors.New("subscriber email already registered")
)

// Coordinates is a WGS-84 latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Snapshot is the latest known state of a location.
type Snapshot struct {
	Location    string       `json:"location"`
	DisplayName string       `json:"display_name,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	Weather     Observation  `json:"weather"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Subscriber is a person registered for alerts about their home location.
type Subscriber struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	HomeLocation string    `json:"home_location"`
	CreatedAt    time.Time `json:"created_at"`
}
