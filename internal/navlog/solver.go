package navlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/curbz/vfrnav/pkg/geometry"
)

var (
	ErrNoAirspeed    = errors.New("navlog: indicated airspeed must be positive")
	ErrNoGroundSpeed = errors.New("navlog: headwind exceeds true airspeed")
)

// Waypoint is a position in decimal degrees.
type Waypoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type Wind struct {
	Direction float64 `json:"direction"`
	Speed     float64 `json:"speed"`
}

type Vor struct {
	Ident string  `json:"ident"`
	Freq  float64 `json:"freq"`
	Obs   float64 `json:"obs"`
}

// Duration is a leg time en-route. Full is the exact value in seconds, the
// other fields are its breakdown in whole units, truncated.
type Duration struct {
	Days    int     `json:"days"`
	Hours   int     `json:"hours"`
	Minutes int     `json:"minutes"`
	Seconds int     `json:"seconds"`
	Full    float64 `json:"full"`
}

func NewDuration(seconds float64) Duration {
	d := Duration{Full: seconds}
	rest := int(math.Floor(seconds))
	d.Days = rest / 86400
	rest %= 86400
	d.Hours = rest / 3600
	rest %= 3600
	d.Minutes = rest / 60
	d.Seconds = rest % 60
	return d
}

// Leg carries the pilot inputs of a route segment and the values derived
// from them. Altitude is in feet, speeds in knots, temperatures in °C,
// headings in degrees, fuel in US gallons.
type Leg struct {
	Name     string  `json:"name"`
	Active   bool    `json:"active"`
	Altitude float64 `json:"altitude"`
	Vor      Vor     `json:"vor"`
	Wind     Wind    `json:"wind"`
	IAS      float64 `json:"ias"`
	OAT      float64 `json:"oat"`
	Power    float64 `json:"power"`
	MagVar   float64 `json:"magVar"`
	Remark   string  `json:"remark"`
	ATA      int     `json:"ata"`
	CurFuel  float64 `json:"curFuel"`

	Dist     float64  `json:"dist"`
	Dur      Duration `json:"dur"`
	TC       float64  `json:"TC"`
	TH       float64  `json:"TH"`
	MH       float64  `json:"MH"`
	CH       float64  `json:"CH"`
	Dev      float64  `json:"dev"`
	WCA      float64  `json:"wca"`
	TAS      float64  `json:"tas"`
	GS       float64  `json:"GS"`
	FuelRate float64  `json:"fuelRate"`
	Conso    float64  `json:"conso"`
}

// DefaultLeg returns the inputs a freshly drawn leg starts with.
func DefaultLeg() Leg {
	return Leg{
		Active:   true,
		Altitude: 1000,
		IAS:      90,
		OAT:      20,
		Power:    100,
		ATA:      -1,
	}
}

// UnmarshalJSON starts from DefaultLeg so fields missing from older
// documents keep their defaults.
func (l *Leg) UnmarshalJSON(b []byte) error {
	type plain Leg
	p := plain(DefaultLeg())
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("leg: %w", err)
	}
	*l = Leg(p)
	return nil
}

// Inputs returns a copy of the leg with every derived value cleared.
func (l Leg) Inputs() Leg {
	return Leg{
		Name:     l.Name,
		Active:   l.Active,
		Altitude: l.Altitude,
		Vor:      l.Vor,
		Wind:     l.Wind,
		IAS:      l.IAS,
		OAT:      l.OAT,
		Power:    l.Power,
		MagVar:   l.MagVar,
		Remark:   l.Remark,
		ATA:      l.ATA,
		CurFuel:  l.CurFuel,
	}
}

// TrueAirspeed converts an indicated airspeed to TAS for the given pressure
// altitude (ft) and OAT (°C).
func TrueAirspeed(ias, altitude, oat float64) float64 {
	f := 0.945085118 + altitude*4.635453591185e-5 + oat/273.15
	if f <= 0 {
		return 0
	}
	return ias * math.Sqrt(f)
}

// Solve derives the leg values for the segment from -> to. On
// ErrNoGroundSpeed the headings and speeds are still filled in so the leg
// can be displayed, but time and fuel are left at zero.
func Solve(from, to Waypoint, leg Leg, dev DeviationCurve, fuel FuelCurve) (Leg, error) {
	out := leg.Inputs()

	out.Dist = geometry.DistNM(from.Lat, from.Lon, to.Lat, to.Lon)
	out.TC = geometry.TrueCourse(from.Lat, from.Lon, to.Lat, to.Lon)

	if leg.IAS <= 0 {
		return out, ErrNoAirspeed
	}

	windTo := leg.Wind.Direction + 180
	if leg.Wind.Direction > 180 {
		windTo = leg.Wind.Direction - 180
	}
	rel := geometry.Radians(out.TC - windTo)

	out.TAS = TrueAirspeed(leg.IAS, leg.Altitude, leg.OAT)
	if out.TAS <= 0 {
		return out, ErrNoAirspeed
	}

	s := leg.Wind.Speed * math.Sin(rel) / out.TAS
	s = math.Max(-1, math.Min(1, s))
	wca := math.Asin(s)
	out.WCA = geometry.Degrees(wca)

	out.TH = geometry.NormalizeHeading(out.TC + out.WCA)
	out.MH = geometry.NormalizeHeading(out.TH + leg.MagVar)
	out.Dev = dev.At(out.MH)
	out.CH = geometry.NormalizeHeading(out.MH + out.Dev)

	out.GS = out.TAS*math.Cos(wca) + leg.Wind.Speed*math.Cos(rel)
	out.FuelRate = fuel.At(leg.Power, leg.Altitude, leg.OAT)

	if out.Dist == 0 {
		return out, nil
	}
	if out.GS <= 0 {
		return out, ErrNoGroundSpeed
	}

	out.Dur = NewDuration(out.Dist * 3600 / out.GS)
	out.Conso = out.FuelRate / 3600 * out.Dur.Full

	return out, nil
}
