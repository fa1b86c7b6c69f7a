package services

import (
	"math"
	"strconv"
	"strings"

	"showtime-analytics/models"
)

// numberCleaner drops the decoration upstream puts around numbers, as in
// "₹1,250.00" or "Rs. 295". What remains must parse as a whole.
var numberCleaner = strings.NewReplacer(
	",", "",
	" ", "",
	"\u00a0", "",
	"₹", "",
	"Rs.", "",
	"Rs", "",
	"INR", "",
	"$", "",
	"€", "",
	"£", "",
)

// toFloat converts an upstream scalar to a float. Missing, null or
// non-numeric values yield 0; it never fails.
func toFloat(v models.Flex) float64 {
	raw := strings.TrimSpace(string(v))
	if raw == "" {
		return 0
	}

	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return finite(f)
	}

	cleaned := numberCleaner.Replace(raw)
	if cleaned == "" {
		return 0
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return finite(f)
}

// toCount converts an upstream scalar to a non-negative integer seat count.
// Fractional values are truncated.
func toCount(v models.Flex) int {
	raw := strings.TrimSpace(string(v))
	if n, err := strconv.Atoi(raw); err == nil {
		return clampNonNegative(n)
	}
	f := toFloat(v)
	if f <= 0 || f > math.MaxInt32 {
		return 0
	}
	return int(f)
}

// toPrice converts an upstream price; negative prices are treated as 0.
func toPrice(v models.Flex) float64 {
	f := toFloat(v)
	if f < 0 {
		return 0
	}
	return f
}

func clampNonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
