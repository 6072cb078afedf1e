package stores

import (
	"consentsync/internal/models"
	"fmt"
	"sort"
	"time"
)

var monthNames = [...]string{
	"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
}

type dayKey struct {
	year  int
	month time.Month
	day   int
}

// ComputeStatistics summarizes records. Days and months are calendar dates
// in loc, listed oldest first; artists are listed by record count, highest first.
func ComputeStatistics(records []models.ConsentRecord, loc *time.Location) models.Statistics {
	if loc == nil {
		loc = time.UTC
	}
	stats := models.Statistics{
		Total:     len(records),
		PerDay:    []models.DayCount{},
		PerMonth:  []models.MonthCount{},
		PerArtist: []models.ArtistCount{},
	}

	days := map[dayKey]int{}
	months := map[dayKey]int{}
	artists := map[string]int{}

	for _, r := range records {
		if r.Client.IsMinor() {
			stats.Minors++
		} else {
			stats.Adults++
		}
		if r.ArtistName != "" {
			artists[r.ArtistName]++
		}
		if r.CreatedAt.IsZero() {
			continue
		}
		y, m, d := r.CreatedAt.In(loc).Date()
		days[dayKey{y, m, d}]++
		months[dayKey{y, m, 1}]++
	}

	for _, k := range sortedKeys(days) {
		stats.PerDay = append(stats.PerDay, models.DayCount{
			Date:  fmt.Sprintf("%02d/%02d/%04d", k.day, int(k.month), k.year),
			Count: days[k],
		})
	}
	for _, k := range sortedKeys(months) {
		stats.PerMonth = append(stats.PerMonth, models.MonthCount{
			Month: fmt.Sprintf("%s %d", monthNames[k.month-1], k.year),
			Count: months[k],
		})
	}

	for name, n := range artists {
		stats.PerArtist = append(stats.PerArtist, models.ArtistCount{Name: name, Clients: n})
	}
	sort.Slice(stats.PerArtist, func(i, j int) bool {
		a, b := stats.PerArtist[i], stats.PerArtist[j]
		if a.Clients != b.Clients {
			return a.Clients > b.Clients
		}
		return a.Name < b.Name
	})
	return stats
}

func sortedKeys(m map[dayKey]int) []dayKey {
	keys := make([]dayKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.year != b.year {
			return a.year < b.year
		}
		if a.month != b.month {
			return a.month < b.month
		}
		return a.day < b.day
	})
	return keys
}
