package forecast

import (
	"math/rand"
	"time"

	"github.com/kjstillabower/forecast-service/internal/models"
)

// summaries is the fixed vocabulary for forecast summaries, coldest to hottest.
var summaries = []string{
	"Freezing", "Bracing", "Chilly", "Cool", "Mild",
	"Warm", "Balmy", "Hot", "Sweltering", "Scorching",
}

const (
	// forecastDays is how many consecutive days each forecast covers.
	forecastDays = 5

	// Generated temperatures are uniform over [minTempC, maxTempC].
	minTempC = -20
	maxTempC = 54
)

// Generate produces a five-day forecast for the user, starting tomorrow
// relative to now. Each day gets a random temperature and summary;
// PreparedFor carries the user's display name.
func Generate(user models.UserRecord, now time.Time) []models.ForecastDay {
	days := make([]models.ForecastDay, 0, forecastDays)
	for i := 1; i <= forecastDays; i++ {
		days = append(days, models.ForecastDay{
			Date:         models.NewDate(now.AddDate(0, 0, i)),
			TemperatureC: minTempC + rand.Intn(maxTempC-minTempC+1),
			Summary:      summaries[rand.Intn(len(summaries))],
			Location:     user.Location,
			PreparedFor:  user.Name,
		})
	}
	return days
}
