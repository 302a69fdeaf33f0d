package als

import (
	"context"
	"math"
	"time"
)

// Sun estimates indoor lux from the sun's elevation at a fixed location.
// Below civil twilight (-6°) it reports NightLux; through twilight it rises
// linearly to 1% of the daylight span; above the horizon it follows
// sin(elevation) up to MaxLux.
type Sun struct {
	Lat      float64
	Lon      float64
	MaxLux   float64
	NightLux float64

	now func() time.Time
}

// NewSun returns a sun-position source for the given coordinates.
func NewSun(lat, lon, maxLux, nightLux float64) *Sun {
	return &Sun{Lat: lat, Lon: lon, MaxLux: maxLux, NightLux: nightLux, now: time.Now}
}

func (s *Sun) Lux(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.luxAt(s.now()), nil
}

func (s *Sun) luxAt(t time.Time) float64 {
	elev := SolarElevation(s.Lat, s.Lon, t)
	span := s.MaxLux - s.NightLux
	horizon := s.NightLux + 0.01*span

	switch {
	case elev <= -6:
		return s.NightLux
	case elev <= 0:
		return s.NightLux + (horizon-s.NightLux)*(elev+6)/6
	default:
		return horizon + (s.MaxLux-horizon)*math.Sin(elev*math.Pi/180)
	}
}

// SolarElevation returns the sun's elevation above the horizon in degrees.
func SolarElevation(lat, lon float64, t time.Time) float64 {
	jd := julianDate(t)

	// Day count since J2000 and mean solar time at this longitude.
	n := math.Round(jd - 2451545.0 - 0.0009 + lon/360.0)
	jStar := n + 0.0009 - lon/360.0

	// Solar mean anomaly
	m := math.Mod(357.5291+0.98560028*jStar, 360.0)
	mRad := m * math.Pi / 180.0

	// Equation of center
	c := 1.9148*math.Sin(mRad) + 0.02*math.Sin(2*mRad) + 0.0003*math.Sin(3*mRad)

	// Ecliptic longitude
	lambda := math.Mod(m+c+180+102.9372, 360.0)
	lambdaRad := lambda * math.Pi / 180.0

	// Solar transit
	jTransit := 2451545.0 + jStar + 0.0053*math.Sin(mRad) - 0.0069*math.Sin(2*lambdaRad)

	dec := math.Asin(math.Sin(lambdaRad) * math.Sin(23.44*math.Pi/180.0))

	// Hour angle: 360° per day away from transit.
	h := math.Mod((jd-jTransit)*360.0, 360.0)
	if h > 180 {
		h -= 360
	} else if h < -180 {
		h += 360
	}
	hRad := h * math.Pi / 180.0
	latRad := lat * math.Pi / 180.0

	sinElev := math.Sin(latRad)*math.Sin(dec) + math.Cos(latRad)*math.Cos(dec)*math.Cos(hRad)
	return math.Asin(sinElev) * 180.0 / math.Pi
}

// julianDate converts an instant to a fractional Julian date.
func julianDate(t time.Time) float64 {
	return float64(t.UTC().UnixNano())/86400e9 + 2440587.5
}
