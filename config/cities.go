package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gosimple/slug"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"showtime-analytics/models"
	"showtime-analytics/utils"
)

// DefaultCities is the built-in city table used when no CITIES_FILE is set.
func DefaultCities() []models.City {
	return []models.City{
		{Name: "Hyderabad", RegionCode: "HYD", SubRegionCode: "HYD", RegionSlug: "hyderabad", Latitude: "17.385044", Longitude: "78.486671"},
		{Name: "Bengaluru", RegionCode: "BANG", SubRegionCode: "BANG", RegionSlug: "bengaluru", Latitude: "12.971599", Longitude: "77.594563"},
		{Name: "Chennai", RegionCode: "CHEN", SubRegionCode: "CHEN", RegionSlug: "chennai", Latitude: "13.082680", Longitude: "80.270718"},
		{Name: "Vijayawada", RegionCode: "VIJA", SubRegionCode: "VIJA", RegionSlug: "vijayawada", Latitude: "16.506174", Longitude: "80.648015"},
		{Name: "Visakhapatnam", RegionCode: "VIZA", SubRegionCode: "VIZA", RegionSlug: "vizag", Latitude: "17.686816", Longitude: "83.218482"},
		{Name: "Mumbai", RegionCode: "MUMBAI", SubRegionCode: "MUMBAI", RegionSlug: "mumbai", Latitude: "19.076090", Longitude: "72.877426"},
		{Name: "National Capital Region", RegionCode: "NCR", SubRegionCode: "NCR", RegionSlug: "national-capital-region-ncr", Latitude: "28.613939", Longitude: "77.209023"},
	}
}

// LoadCities returns the cities from the YAML file at path, or the default
// table when path is empty. The file holds a top-level "cities" list.
func LoadCities(path string) ([]models.City, error) {
	if path == "" {
		return ValidateCities(DefaultCities())
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("config: load cities file %q: %w", path, err)
	}

	var cities []models.City
	if err := k.Unmarshal("cities", &cities); err != nil {
		return nil, fmt.Errorf("config: decode cities: %w", err)
	}
	return ValidateCities(cities)
}

// ValidateCities checks every city, fills in a missing RegionSlug from the
// city name and rejects duplicate names.
func ValidateCities(cities []models.City) ([]models.City, error) {
	if len(cities) == 0 {
		return nil, errors.New("config: no cities configured")
	}

	v := validator.New()
	names := utils.NewKeySet()
	out := make([]models.City, 0, len(cities))

	for i, c := range cities {
		c.Name = strings.TrimSpace(c.Name)
		if err := v.Struct(c); err != nil {
			return nil, fmt.Errorf("config: city #%d (%s): %w", i+1, c.Name, err)
		}
		if !names.Add(strings.ToLower(c.Name)) {
			return nil, fmt.Errorf("config: duplicate city %q", c.Name)
		}
		if c.RegionSlug == "" {
			c.RegionSlug = slug.Make(c.Name)
		}
		out = append(out, c)
	}
	return out, nil
}
