package services

import (
	"fmt"
	"io"
	"math"
	"strings"

	"showtime-analytics/models"
)

const barWidth = 40

// PrintReport writes the key metrics, the detailed city table and an
// occupancy bar chart for rs to w.
func PrintReport(w io.Writer, rs *models.ResultSet, currency string) {
	sep := strings.Repeat("═", 96)
	thin := strings.Repeat("─", 96)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  🎬 MOVIE SHOWTIME ANALYTICS\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	if rs == nil || len(rs.Rows) == 0 {
		fmt.Fprintf(w, "  No data available\n\n")
		return
	}

	total, ok := rs.Total()
	if !ok {
		total = OverallTotal(rs.Rows)
	}

	// Key metrics
	fmt.Fprintf(w, "\033[1;33m  Key Metrics\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Total shows        : \033[1m%d\033[0m\n", total.ShowCount)
	fmt.Fprintf(w, "  Fast-filling shows : \033[1m%d\033[0m\n", total.FastFillingShows)
	fmt.Fprintf(w, "  Sold-out shows     : \033[1m%d\033[0m\n", total.SoldOutShows)
	fmt.Fprintf(w, "  Overall occupancy  : \033[1;32m%s\033[0m\n", total.Occupancy)
	fmt.Fprintf(w, "  Source             : %s (updated %s)\n", rs.Source, rs.UpdatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintln(w)

	// Detailed table
	fmt.Fprintf(w, "\033[1;33m  City Breakdown\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  %-16s %6s %6s %6s %9s %16s %16s %13s\n",
		"Area", "Shows", "Fast", "Sold", "Occ.", "Booked Gross", "Max Gross", "Tickets")
	for _, r := range rs.Rows {
		if r.IsTotal() {
			fmt.Fprintf(w, "  %s\n", thin)
		}
		fmt.Fprintf(w, "  %-16s %6d %6d %6d %9s %16s %16s %13s\n",
			truncate(r.AreaName, 16), r.ShowCount, r.FastFillingShows, r.SoldOutShows, r.Occupancy,
			FormatCurrency(currency, r.BookedGross), FormatCurrency(currency, r.MaxCapacityGross),
			fmt.Sprintf("%d/%d", r.BookedTicketsCount, r.TotalTicketsCount))
	}
	fmt.Fprintln(w)

	// Occupancy chart
	fmt.Fprintf(w, "\033[1;33m  Occupancy by City\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	for _, r := range rs.Cities() {
		fmt.Fprintf(w, "  %-16s %-*s %s\n", truncate(r.AreaName, 16), barWidth, bar(r.OccupancyValue()), r.Occupancy)
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

// FormatCurrency renders an amount with two decimals behind the symbol.
func FormatCurrency(symbol string, amount float64) string {
	return fmt.Sprintf("%s%.2f", symbol, amount)
}

func bar(pct float64) string {
	n := int(math.Round(pct / 100 * barWidth))
	if n < 0 {
		n = 0
	}
	if n > barWidth {
		n = barWidth
	}
	return strings.Repeat("█", n)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
