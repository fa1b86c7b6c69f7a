package models

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// OverallTotalArea is the AreaName of the synthetic grand-total row.
const OverallTotalArea = "OVERALL_TOTAL"

// City is the static per-city request configuration. It is loaded once at
// start-up and never mutated.
type City struct {
	Name          string `koanf:"name" validate:"required"`
	RegionCode    string `koanf:"region_code" validate:"required"`
	SubRegionCode string `koanf:"sub_region_code" validate:"required"`
	RegionSlug    string `koanf:"region_slug"`
	Latitude      string `koanf:"latitude" validate:"required,latitude"`
	Longitude     string `koanf:"longitude" validate:"required,longitude"`
}

// Key identifies the city for caching.
func (c City) Key() string {
	return strings.Join([]string{c.RegionCode, c.SubRegionCode, c.RegionSlug, c.Latitude, c.Longitude}, "|")
}

// ShowtimePayload is the raw showtimes-by-event response. Only ShowDetails is
// consumed; everything else in the body is ignored.
type ShowtimePayload struct {
	ShowDetails []ShowDetail `json:"ShowDetails"`
}

type ShowDetail struct {
	Date   string  `json:"Date,omitempty"`
	Venues []Venue `json:"Venues"`
}

type Venue struct {
	VenueCode string     `json:"VenueCode,omitempty"`
	VenueName string     `json:"VenueName,omitempty"`
	ShowTimes []ShowTime `json:"ShowTimes"`
}

// ShowTime is one screening at one venue.
type ShowTime struct {
	SessionID  string     `json:"SessionId,omitempty"`
	ShowTime   string     `json:"ShowTime,omitempty"`
	Categories []Category `json:"Categories"`
}

// Category is a seating tier within a showtime.
type Category struct {
	PriceDesc  string `json:"PriceDesc,omitempty"`
	MaxSeats   Flex   `json:"MaxSeats"`
	SeatsAvail Flex   `json:"SeatsAvail"`
	CurPrice   Flex   `json:"CurPrice"`
}

// Flex holds the textual form of a JSON scalar that upstream sends either as a
// number or as a string. null, absent and non-scalar values decode to "".
// Decoding never fails; numeric interpretation is left to the caller.
type Flex string

func (f *Flex) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		if s, err := strconv.Unquote(string(data)); err == nil {
			*f = Flex(strings.TrimSpace(s))
			return nil
		}
		*f = Flex(strings.Trim(string(data), `"`))
		return nil
	}
	if data[0] == '-' || (data[0] >= '0' && data[0] <= '9') {
		*f = Flex(data)
		return nil
	}
	// objects, arrays and booleans carry no usable number
	*f = ""
	return nil
}

func (f Flex) MarshalJSON() ([]byte, error) {
	if f == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(f))
}

// CitySummary is the aggregated view of one city. Field names double as the
// CSV header and the JSON keys served to the dashboard.
type CitySummary struct {
	AreaName           string  `json:"AreaName"`
	ShowCount          int     `json:"ShowCount"`
	FastFillingShows   int     `json:"FastFillingShows"`
	SoldOutShows       int     `json:"SoldOutShows"`
	Occupancy          string  `json:"Occupancy"`
	BookedGross        float64 `json:"BookedGross"`
	MaxCapacityGross   float64 `json:"MaxCapacityGross"`
	BookedTicketsCount int     `json:"BookedTicketsCount"`
	TotalTicketsCount  int     `json:"TotalTicketsCount"`
}

// IsTotal reports whether the row is the synthetic OVERALL_TOTAL row.
func (s CitySummary) IsTotal() bool {
	return s.AreaName == OverallTotalArea
}

// OccupancyValue parses the "%"-suffixed occupancy back into a number.
// Unparseable values yield 0.
func (s CitySummary) OccupancyValue() float64 {
	v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s.Occupancy), "%"), 64)
	if err != nil {
		return 0
	}
	return v
}

// FormatOccupancy renders booked/total as a two-decimal percentage.
func FormatOccupancy(booked, total int) string {
	if total <= 0 {
		return "0.00%"
	}
	return strconv.FormatFloat(float64(booked)/float64(total)*100, 'f', 2, 64) + "%"
}

// ResultSet is one dashboard refresh: city rows sorted by occupancy with the
// OVERALL_TOTAL row last. It is built once and not mutated afterwards.
type ResultSet struct {
	Rows      []CitySummary `json:"rows"`
	Source    string        `json:"source"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Cities returns the rows without the OVERALL_TOTAL row.
func (r *ResultSet) Cities() []CitySummary {
	out := make([]CitySummary, 0, len(r.Rows))
	for _, row := range r.Rows {
		if !row.IsTotal() {
			out = append(out, row)
		}
	}
	return out
}

// Total returns the OVERALL_TOTAL row, if present.
func (r *ResultSet) Total() (CitySummary, bool) {
	if len(r.Rows) == 0 {
		return CitySummary{}, false
	}
	last := r.Rows[len(r.Rows)-1]
	return last, last.IsTotal()
}
