package burnrate

import (
	"fmt"
	"time"
)

// Totals is the running spend the calculator samples. state.MemoryStore
// implements it.
type Totals interface {
	TotalCost() float64
	TotalTokens() int64
	ModelCosts() map[string]float64
}

// ModelBurnRate holds cost data for a single model.
type ModelBurnRate struct {
	Model      string  `json:"model"`
	HourlyRate float64 `json:"hourlyRate"`
	TotalCost  float64 `json:"totalCost"`
}

// BurnRate is a point-in-time view of spend across all sessions.
type BurnRate struct {
	TotalCost         float64         `json:"totalCost"`
	TotalTokens       int64           `json:"totalTokens"`
	HourlyRate        float64         `json:"hourlyRate"`
	Trend             TrendDirection  `json:"trend"`
	Color             RateColor       `json:"color"`
	TokenVelocity     float64         `json:"tokenVelocity"` // tokens per minute
	PerModel          []ModelBurnRate `json:"perModel"`
	DailyProjection   float64         `json:"dailyProjection"`   // HourlyRate * 24
	MonthlyProjection float64         `json:"monthlyProjection"` // HourlyRate * 720
}

// TrendDirection indicates rate change direction.
type TrendDirection int

const (
	TrendFlat TrendDirection = iota
	TrendUp
	TrendDown
)

// String returns a human-readable representation of the trend.
func (t TrendDirection) String() string {
	switch t {
	case TrendUp:
		return "up"
	case TrendDown:
		return "down"
	default:
		return "flat"
	}
}

// MarshalText encodes the trend by name.
func (t TrendDirection) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a trend name.
func (t *TrendDirection) UnmarshalText(b []byte) error {
	switch string(b) {
	case "up":
		*t = TrendUp
	case "down":
		*t = TrendDown
	case "flat":
		*t = TrendFlat
	default:
		return fmt.Errorf("unknown trend %q", b)
	}
	return nil
}

// RateColor maps to display color based on thresholds.
type RateColor int

const (
	ColorGreen RateColor = iota
	ColorYellow
	ColorRed
)

// String returns a human-readable name for the color.
func (c RateColor) String() string {
	switch c {
	case ColorGreen:
		return "green"
	case ColorYellow:
		return "yellow"
	case ColorRed:
		return "red"
	default:
		return "unknown"
	}
}

// MarshalText encodes the color by name.
func (c RateColor) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a color name.
func (c *RateColor) UnmarshalText(b []byte) error {
	switch string(b) {
	case "green":
		*c = ColorGreen
	case "yellow":
		*c = ColorYellow
	case "red":
		*c = ColorRed
	default:
		return fmt.Errorf("unknown color %q", b)
	}
	return nil
}

// Thresholds configures the cost-rate color boundaries in USD per hour.
type Thresholds struct {
	GreenBelow  float64 // hourly rate below this is green
	YellowBelow float64 // hourly rate below this (but >= GreenBelow) is yellow
}

// DefaultThresholds returns the default color thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		GreenBelow:  0.50,
		YellowBelow: 2.00,
	}
}

// sample is one observation of the running totals.
type sample struct {
	cost   float64
	tokens int64
	at     time.Time
}
