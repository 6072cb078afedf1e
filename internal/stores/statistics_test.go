package stores

import (
	"consentsync/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func record(artist string, age int, at time.Time) models.ConsentRecord {
	return models.ConsentRecord{Client: models.Client{Age: age}, ArtistName: artist, CreatedAt: at}
}

func TestComputeStatistics(t *testing.T) {
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 15, 0, 0, 0, time.UTC) }
	records := []models.ConsentRecord{
		record("Ana", 30, day(2024, 1, 5)),
		record("Ana", 17, day(2024, 1, 5)),
		record("Beto", 18, day(2023, 12, 31)),
		record("Ana", 45, day(2024, 3, 2)),
		record("Beto", 12, day(2024, 3, 2)),
		record("", 22, time.Time{}),
	}

	stats := ComputeStatistics(records, time.UTC)

	assert.Equal(t, 6, stats.Total)
	assert.Equal(t, 2, stats.Minors)
	assert.Equal(t, 4, stats.Adults)
	assert.Equal(t, []models.DayCount{
		{Date: "31/12/2023", Count: 1},
		{Date: "05/01/2024", Count: 2},
		{Date: "02/03/2024", Count: 2},
	}, stats.PerDay)
	assert.Equal(t, []models.MonthCount{
		{Month: "diciembre 2023", Count: 1},
		{Month: "enero 2024", Count: 2},
		{Month: "marzo 2024", Count: 2},
	}, stats.PerMonth)
	assert.Equal(t, []models.ArtistCount{
		{Name: "Ana", Clients: 3},
		{Name: "Beto", Clients: 2},
	}, stats.PerArtist)
}

func TestComputeStatistics_UsesLocation(t *testing.T) {
	santiago := time.FixedZone("CLT", -4*60*60)
	at := time.Date(2024, 3, 15, 2, 0, 0, 0, time.UTC)

	stats := ComputeStatistics([]models.ConsentRecord{record("Ana", 30, at)}, santiago)
	assert.Equal(t, "14/03/2024", stats.PerDay[0].Date)
}

func TestComputeStatistics_Empty(t *testing.T) {
	stats := ComputeStatistics(nil, nil)
	assert.Zero(t, stats.Total)
	assert.Empty(t, stats.PerDay)
	assert.NotNil(t, stats.PerArtist)
}
