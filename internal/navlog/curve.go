package navlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrInvalidCurve = errors.New("navlog: invalid curve")
)

// --- Deviation curve ---

// DeviationPoint is one (magnetic heading, deviation) pair. It travels as a
// two element JSON array.
type DeviationPoint struct {
	X float64
	Y float64
}

func (p DeviationPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

func (p *DeviationPoint) UnmarshalJSON(b []byte) error {
	var v [2]float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("deviation point: %w", err)
	}
	p.X, p.Y = v[0], v[1]
	return nil
}

// DeviationCurve maps a magnetic heading to the compass deviation, in degrees.
// Points are sorted by heading, the first sits at 0 and the last at 360.
type DeviationCurve []DeviationPoint

func FlatDeviationCurve() DeviationCurve {
	return DeviationCurve{{X: 0, Y: 0}, {X: 360, Y: 0}}
}

func (c DeviationCurve) Validate() error {
	if len(c) < 2 {
		return fmt.Errorf("%w: deviation curve needs at least 2 points, got %d", ErrInvalidCurve, len(c))
	}
	if c[0].X != 0 || c[len(c)-1].X != 360 {
		return fmt.Errorf("%w: deviation curve must span 0 to 360", ErrInvalidCurve)
	}
	for i := 1; i < len(c); i++ {
		if c[i].X < c[i-1].X {
			return fmt.Errorf("%w: deviation point %d out of order", ErrInvalidCurve, i)
		}
	}
	return nil
}

// At returns the deviation for the given magnetic heading.
func (c DeviationCurve) At(heading float64) float64 {
	return piecewise(len(c), func(i int) (float64, float64) {
		return c[i].X, c[i].Y
	}, heading)
}

// --- Fuel curve ---

// FuelSample is one measured (temperature, altitude, consumption) triple.
type FuelSample struct {
	Temp  float64
	Alt   float64
	Conso float64
}

func (s FuelSample) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]float64{s.Temp, s.Alt, s.Conso})
}

func (s *FuelSample) UnmarshalJSON(b []byte) error {
	var v [3]float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("fuel sample: %w", err)
	}
	s.Temp, s.Alt, s.Conso = v[0], v[1], v[2]
	return nil
}

// FuelPoint is a temperature series for one point of a thrust curve,
// ordered by temperature.
type FuelPoint []FuelSample

// ThrustCurve holds the fuel points measured at one power setting (percent).
type ThrustCurve struct {
	Thrust float64
	Points []FuelPoint
}

func (t ThrustCurve) MarshalJSON() ([]byte, error) {
	points := t.Points
	if points == nil {
		points = []FuelPoint{}
	}
	return json.Marshal([]any{t.Thrust, points})
}

func (t *ThrustCurve) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("thrust curve: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("thrust curve: expected [thrust, points], got %d elements", len(raw))
	}
	if err := json.Unmarshal(raw[0], &t.Thrust); err != nil {
		return fmt.Errorf("thrust curve: thrust: %w", err)
	}
	if err := json.Unmarshal(raw[1], &t.Points); err != nil {
		return fmt.Errorf("thrust curve: points: %w", err)
	}
	return nil
}

// FuelCurve gives the fuel flow (US gal/h) by thrust, altitude and OAT.
// Thrust curves are ordered by increasing thrust.
type FuelCurve []ThrustCurve

// DatasetPoint is a fuel point collapsed at a given OAT.
type DatasetPoint struct {
	Alt          float64 `json:"alt"`
	Conso        float64 `json:"conso"`
	Interpolated bool    `json:"interpolated"`
}

// SimpleFuelCurve returns a single thrust setting with a constant fuel flow
// from sea level to 25000 ft.
func SimpleFuelCurve(rate float64) FuelCurve {
	return FuelCurve{{
		Thrust: 100,
		Points: []FuelPoint{
			{{Temp: 20, Alt: 0, Conso: rate}},
			{{Temp: 20, Alt: 25000, Conso: rate}},
		},
	}}
}

func (c FuelCurve) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("%w: fuel curve has no thrust setting", ErrInvalidCurve)
	}
	for i, t := range c {
		if i > 0 && t.Thrust <= c[i-1].Thrust {
			return fmt.Errorf("%w: thrust %v not above %v", ErrInvalidCurve, t.Thrust, c[i-1].Thrust)
		}
		if len(t.Points) == 0 {
			return fmt.Errorf("%w: thrust %v has no point", ErrInvalidCurve, t.Thrust)
		}
		for j, p := range t.Points {
			if len(p) == 0 {
				return fmt.Errorf("%w: thrust %v point %d is empty", ErrInvalidCurve, t.Thrust, j)
			}
			for k := 1; k < len(p); k++ {
				if p[k].Temp <= p[k-1].Temp {
					return fmt.Errorf("%w: thrust %v point %d temperatures out of order", ErrInvalidCurve, t.Thrust, j)
				}
			}
		}
	}
	return nil
}

// Datasets collapses every fuel point at the given OAT, one slice per thrust
// setting. Each slice is sorted by altitude.
func (c FuelCurve) Datasets(oat float64) [][]DatasetPoint {
	sets := make([][]DatasetPoint, 0, len(c))
	for _, t := range c {
		set := make([]DatasetPoint, 0, len(t.Points))
		for _, p := range t.Points {
			if len(p) == 0 {
				continue
			}
			set = append(set, p.at(oat))
		}
		sort.SliceStable(set, func(i, j int) bool { return set[i].Alt < set[j].Alt })
		sets = append(sets, set)
	}
	return sets
}

// At returns the fuel flow for the given power (percent), altitude (ft) and
// OAT (°C). An empty curve gives 0.
func (c FuelCurve) At(power, alt, oat float64) float64 {
	sets := c.Datasets(oat)
	return piecewise(len(c), func(i int) (float64, float64) {
		set := sets[i]
		return c[i].Thrust, piecewise(len(set), func(j int) (float64, float64) {
			return set[j].Alt, set[j].Conso
		}, alt)
	}, power)
}

func (p FuelPoint) at(oat float64) DatasetPoint {
	idx := sort.Search(len(p), func(i int) bool { return p[i].Temp > oat })
	switch {
	case idx == 0:
		return DatasetPoint{Alt: p[0].Alt, Conso: p[0].Conso, Interpolated: p[0].Temp != oat}
	case idx == len(p):
		last := p[len(p)-1]
		return DatasetPoint{Alt: last.Alt, Conso: last.Conso, Interpolated: last.Temp != oat}
	}

	lo, hi := p[idx-1], p[idx]
	t := (oat - lo.Temp) / (hi.Temp - lo.Temp)
	return DatasetPoint{
		Alt:          lo.Alt + t*(hi.Alt-lo.Alt),
		Conso:        lo.Conso + t*(hi.Conso-lo.Conso),
		Interpolated: lo.Temp != oat,
	}
}

// piecewise evaluates a piecewise linear function given by n points sorted
// on x. Outside [x0, xn-1] the end values are held.
func piecewise(n int, point func(i int) (x, y float64), x float64) float64 {
	if n == 0 {
		return 0
	}

	x0, y0 := point(0)
	if x <= x0 {
		return y0
	}

	for i := 1; i < n; i++ {
		x1, y1 := point(i)
		if x < x1 {
			return y0 + (x-x0)*(y1-y0)/(x1-x0)
		}
		x0, y0 = x1, y1
	}

	return y0
}
