package services

import (
	"showtime-analytics/models"
	"showtime-analytics/utils"
)

const (
	// FastFillingThreshold is the lower occupancy bound (inclusive) of a
	// fast-filling show; the upper bound is 100 (exclusive).
	FastFillingThreshold = 70.0
	// SoldOutThreshold is the occupancy at which a show counts as sold out.
	// Shows in [99.5, 100) are counted as both fast-filling and sold out.
	SoldOutThreshold = 99.5
)

// Aggregator reduces raw showtime payloads to per-city summaries.
type Aggregator struct {
	logger *utils.Logger
}

func NewAggregator(logger *utils.Logger) *Aggregator {
	return &Aggregator{logger: logger}
}

type showTotals struct {
	seats, booked      int
	gross, bookedGross float64
}

// Aggregate walks ShowDetails → Venues → ShowTimes → Categories and returns
// the city summary labelled area. A nil or empty payload yields zeros.
func (a *Aggregator) Aggregate(area string, payload *models.ShowtimePayload) models.CitySummary {
	summary := models.CitySummary{AreaName: area, Occupancy: models.FormatOccupancy(0, 0)}
	if payload == nil || len(payload.ShowDetails) == 0 {
		return summary
	}

	var grand showTotals
	for _, detail := range payload.ShowDetails {
		for _, venue := range detail.Venues {
			for _, show := range venue.ShowTimes {
				st := showTotalsFor(show)

				occupancy := 0.0
				if st.seats > 0 {
					occupancy = float64(st.booked) / float64(st.seats) * 100
				}
				if occupancy >= FastFillingThreshold && occupancy < 100 {
					summary.FastFillingShows++
				}
				if occupancy >= SoldOutThreshold {
					summary.SoldOutShows++
				}
				summary.ShowCount++

				grand.seats += st.seats
				grand.booked += st.booked
				grand.gross += st.gross
				grand.bookedGross += st.bookedGross
			}
		}
	}

	summary.TotalTicketsCount = grand.seats
	summary.BookedTicketsCount = grand.booked
	summary.MaxCapacityGross = grand.gross
	summary.BookedGross = grand.bookedGross
	summary.Occupancy = models.FormatOccupancy(grand.booked, grand.seats)

	if a.logger != nil {
		a.logger.Debug("[aggregator] %s: %d shows, %d/%d seats booked (%s)",
			area, summary.ShowCount, grand.booked, grand.seats, summary.Occupancy)
	}
	return summary
}

func showTotalsFor(show models.ShowTime) showTotals {
	var st showTotals
	for _, cat := range show.Categories {
		maxSeats := toCount(cat.MaxSeats)
		available := toCount(cat.SeatsAvail)
		if available > maxSeats {
			available = maxSeats
		}
		booked := maxSeats - available
		price := toPrice(cat.CurPrice)

		st.seats += maxSeats
		st.booked += booked
		st.gross += float64(maxSeats) * price
		st.bookedGross += float64(booked) * price
	}
	return st
}

// OverallTotal sums the city rows into the OVERALL_TOTAL row. Occupancy is
// recomputed from the summed tickets, not averaged.
func OverallTotal(rows []models.CitySummary) models.CitySummary {
	total := models.CitySummary{AreaName: models.OverallTotalArea}
	for _, r := range rows {
		if r.IsTotal() {
			continue
		}
		total.ShowCount += r.ShowCount
		total.FastFillingShows += r.FastFillingShows
		total.SoldOutShows += r.SoldOutShows
		total.BookedGross += r.BookedGross
		total.MaxCapacityGross += r.MaxCapacityGross
		total.BookedTicketsCount += r.BookedTicketsCount
		total.TotalTicketsCount += r.TotalTicketsCount
	}
	total.Occupancy = models.FormatOccupancy(total.BookedTicketsCount, total.TotalTicketsCount)
	return total
}
