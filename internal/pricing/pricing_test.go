package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-hold/internal/model"
)

func at(hour, minute int) time.Time {
	return time.Date(2030, 3, 14, hour, minute, 0, 0, time.UTC)
}

func TestBandOf(t *testing.T) {
	cases := []struct {
		start time.Time
		want  Band
	}{
		{at(5, 59), Night},
		{at(6, 0), Morning},
		{at(11, 59), Morning},
		{at(12, 0), Afternoon},
		{at(16, 59), Afternoon},
		{at(17, 0), Evening},
		{at(21, 59), Evening},
		{at(22, 0), Night},
		{at(0, 0), Night},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, BandOf(tc.start), tc.start.Format("15:04"))
	}
}

func TestPrice(t *testing.T) {
	cases := []struct {
		name   string
		hall   model.HallClass
		screen model.ScreenClass
		start  time.Time
		want   int64
	}{
		{"standard 2D morning", model.HallStandard, model.Screen2D, at(10, 0), 8000},
		{"standard 2D afternoon", model.HallStandard, model.Screen2D, at(14, 0), 10000},
		{"premium IMAX evening", model.HallPremium, model.ScreenIMAX, at(19, 30), 25200},
		{"vip 4DX night", model.HallVIP, model.Screen4DX, at(23, 0), 28800},
		{"standard 3D morning", model.HallStandard, model.Screen3D, at(9, 0), 9600},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Price(tc.hall, tc.screen, tc.start)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := Price("BALCONY", model.Screen2D, at(10, 0))
	assert.ErrorIs(t, err, ErrUnknownClass)
	_, err = Price(model.HallStandard, "HOLOGRAM", at(10, 0))
	assert.ErrorIs(t, err, ErrUnknownClass)
}
