// Package pricing computes ticket prices from hall class, screen class
// and the local start time band.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/iliyamo/cinema-seat-hold/internal/model"
)

// BasePriceCents is the price of a standard 2D afternoon seat.
const BasePriceCents int64 = 10000

// ErrUnknownClass is returned for hall or screen classes without a factor.
var ErrUnknownClass = errors.New("unknown class")

var hallFactors = map[model.HallClass]float64{
	model.HallStandard: 1.0,
	model.HallPremium:  1.5,
	model.HallVIP:      2.0,
}

var screenFactors = map[model.ScreenClass]float64{
	model.Screen2D:   1.0,
	model.Screen3D:   1.2,
	model.ScreenIMAX: 1.4,
	model.Screen4DX:  1.6,
}

// Band is a time-of-day pricing band.
type Band string

const (
	Morning   Band = "MORNING"   // [06:00, 12:00)
	Afternoon Band = "AFTERNOON" // [12:00, 17:00)
	Evening   Band = "EVENING"   // [17:00, 22:00)
	Night     Band = "NIGHT"     // everything else
)

var bandFactors = map[Band]float64{
	Morning:   0.8,
	Afternoon: 1.0,
	Evening:   1.2,
	Night:     0.9,
}

// BandOf classifies a start time by its UTC hour.
func BandOf(start time.Time) Band {
	switch h := start.UTC().Hour(); {
	case h >= 6 && h < 12:
		return Morning
	case h >= 12 && h < 17:
		return Afternoon
	case h >= 17 && h < 22:
		return Evening
	default:
		return Night
	}
}

// Price returns the per-seat price in cents:
// round(BasePriceCents × hall factor × screen factor × band factor).
func Price(hall model.HallClass, screen model.ScreenClass, start time.Time) (int64, error) {
	hf, ok := hallFactors[hall]
	if !ok {
		return 0, fmt.Errorf("hall class %q: %w", hall, ErrUnknownClass)
	}
	sf, ok := screenFactors[screen]
	if !ok {
		return 0, fmt.Errorf("screen class %q: %w", screen, ErrUnknownClass)
	}
	return int64(math.Round(float64(BasePriceCents) * hf * sf * bandFactors[BandOf(start)])), nil
}
