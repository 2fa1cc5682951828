// Package model holds the value types shared by the sampler, the crawler and the sinks.
package model

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/tidwall/gjson"
)

// SamplePoint is the center of one radius search. Coordinates are rounded to
// six decimal places so the same region and step produce the same points on
// every run.
type SamplePoint struct {
	Lon     float64 `json:"lon" yaml:"lon"`
	Lat     float64 `json:"lat" yaml:"lat"`
	Geohash string  `json:"geohash" yaml:"geohash"`
}

// Key returns a stable identifier for the point, used in logs and sink rows.
func (p SamplePoint) Key() string {
	if p.Geohash != "" {
		return p.Geohash
	}
	return strconv.FormatFloat(p.Lon, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lat, 'f', 6, 64)
}

// Record is a validated search result. Raw holds the item exactly as the
// remote service returned it.
type Record struct {
	ID  string          `json:"id"`
	Lon float64         `json:"lon"`
	Lat float64         `json:"lat"`
	Raw json.RawMessage `json:"raw"`
}

// MarshalJSON writes the original remote item so a persisted list keeps the
// upstream shape. Records without a raw payload fall back to id/lon/lat.
func (r Record) MarshalJSON() ([]byte, error) {
	if len(r.Raw) > 0 {
		return r.Raw, nil
	}
	return json.Marshal(struct {
		ID        string  `json:"id"`
		Longitude float64 `json:"longitude"`
		Latitude  float64 `json:"latitude"`
	}{r.ID, r.Lon, r.Lat})
}

// Detail is the per-identifier payload fetched after the list phase.
type Detail struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Empty reports whether the payload is absent or a falsy JSON value: null,
// false, zero, "", {} or []. Surrounding whitespace is ignored.
func (d Detail) Empty() bool {
	r := gjson.ParseBytes(bytes.TrimSpace(d.Payload))
	switch r.Type {
	case gjson.Null:
		return true
	case gjson.False:
		return true
	case gjson.Number:
		return r.Num == 0
	case gjson.String:
		return r.Str == ""
	}
	if r.IsObject() || r.IsArray() {
		empty := true
		r.ForEach(func(_, _ gjson.Result) bool {
			empty = false
			return false
		})
		return empty
	}
	return false
}
