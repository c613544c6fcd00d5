package route

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/curbz/vfrnav/internal/navlog"
)

var (
	ErrIndexOutOfRange = errors.New("route: waypoint index out of range")
	ErrLegCount        = errors.New("route: leg count does not match waypoints")
)

// Route is a drawn nav: its waypoints, their names and one leg between each
// consecutive pair. Legs always has len(Coords)-1 entries (or none) and
// Names len(Coords).
type Route struct {
	ID            int
	Order         int
	Name          string
	ShortName     string
	Active        bool
	Link          string
	Coords        []navlog.Waypoint
	Names         []string
	Legs          []navlog.Leg
	LoadedFuel    float64
	DepartureTime float64
	TaxiTime      float64
	TaxiConso     float64
}

// Schedule returns the departure figures the nav-log summary needs.
func (r *Route) Schedule() navlog.Schedule {
	return navlog.Schedule{
		LoadedFuel:    r.LoadedFuel,
		DepartureTime: r.DepartureTime,
		TaxiTime:      r.TaxiTime,
		TaxiConso:     r.TaxiConso,
	}
}

// Nav returns the exported form of the route.
func (r *Route) Nav() navlog.NamedNav {
	return navlog.NamedNav{
		Name: r.Name,
		Data: navlog.NavData{
			ID:            r.ID,
			Order:         r.Order,
			Active:        r.Active,
			ShortName:     r.ShortName,
			Coords:        navlog.ExportCoords(r.Coords),
			Properties:    r.Legs,
			Waypoints:     r.Names,
			LoadedFuel:    r.LoadedFuel,
			DepartureTime: r.DepartureTime,
			TaxiTime:      r.TaxiTime,
			TaxiConso:     r.TaxiConso,
			Link:          r.Link,
		},
	}
}

func (r *Route) Summary() []navlog.LegSummary {
	return navlog.Summarize(r.Legs, r.Names, r.Schedule())
}

func legCount(coords int) int {
	if coords < 2 {
		return 0
	}
	return coords - 1
}

// SolveFunc computes one leg. navlog.Solve in production.
type SolveFunc func(from, to navlog.Waypoint, leg navlog.Leg, dev navlog.DeviationCurve, fuel navlog.FuelCurve) (navlog.Leg, error)

// Propagator keeps the derived leg values of a route in step with its
// geometry and inputs, recomputing only the legs an edit touches.
type Propagator struct {
	dev   navlog.DeviationCurve
	fuel  navlog.FuelCurve
	solve SolveFunc
}

func NewPropagator(dev navlog.DeviationCurve, fuel navlog.FuelCurve) *Propagator {
	return &Propagator{dev: dev, fuel: fuel, solve: navlog.Solve}
}

func (p *Propagator) Deviation() navlog.DeviationCurve {
	return p.dev
}

func (p *Propagator) Fuel() navlog.FuelCurve {
	return p.fuel
}

// SetCurves swaps the curves and recomputes every given route.
func (p *Propagator) SetCurves(dev navlog.DeviationCurve, fuel navlog.FuelCurve, routes ...*Route) error {
	if err := dev.Validate(); err != nil {
		return err
	}
	if err := fuel.Validate(); err != nil {
		return err
	}
	p.dev, p.fuel = dev, fuel

	var errs []error
	for _, r := range routes {
		if err := p.Recompute(r); err != nil {
			errs = append(errs, fmt.Errorf("nav %d: %w", r.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Recompute rebuilds every leg of the route. Missing legs are created with
// the inputs of the last existing one, extra legs are dropped.
func (p *Propagator) Recompute(r *Route) error {
	fitLegs(r)

	var errs []error
	for i := range r.Legs {
		if err := p.update(r, i); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetLegs replaces the inputs of every leg and recomputes the route.
func (p *Propagator) SetLegs(r *Route, legs []navlog.Leg) error {
	if len(legs) != legCount(len(r.Coords)) {
		return fmt.Errorf("%w: got %d legs for %d waypoints", ErrLegCount, len(legs), len(r.Coords))
	}
	r.Legs = make([]navlog.Leg, len(legs))
	copy(r.Legs, legs)
	return p.Recompute(r)
}

// SetLeg replaces the inputs of one leg and recomputes it.
func (p *Propagator) SetLeg(r *Route, index int, leg navlog.Leg) error {
	if index < 0 || index >= len(r.Legs) {
		return fmt.Errorf("%w: leg %d of %d", ErrIndexOutOfRange, index, len(r.Legs))
	}
	r.Legs[index] = leg
	return p.update(r, index)
}

// Insert adds a waypoint at index. The leg split by the new waypoint is
// duplicated so both halves keep its inputs.
func (p *Propagator) Insert(r *Route, index int, wp navlog.Waypoint) error {
	n := len(r.Coords)
	if index < 0 || index > n {
		return fmt.Errorf("%w: insert at %d of %d", ErrIndexOutOfRange, index, n)
	}

	r.Coords = insertAt(r.Coords, index, wp)
	r.Names = insertAt(fitNames(r.Names, n), index, "")

	if n == 0 {
		return nil
	}
	if n == 1 {
		r.Legs = []navlog.Leg{navlog.DefaultLeg()}
		return p.update(r, 0)
	}

	switch {
	case index == 0:
		r.Legs = insertAt(r.Legs, 0, r.Legs[0].Inputs())
	case index == n:
		last := r.Legs[len(r.Legs)-1].Inputs()
		last.Active = true
		r.Legs = append(r.Legs, last)
	default:
		r.Legs = insertAt(r.Legs, index-1, r.Legs[index-1].Inputs())
		if index == len(r.Legs)-1 {
			r.Legs[index].Active = true
		} else {
			r.Legs[index].Active = r.Legs[index+1].Active
		}
	}

	return p.updateAround(r, index)
}

// Move relocates waypoint index. Only the two legs touching it change.
func (p *Propagator) Move(r *Route, index int, wp navlog.Waypoint) error {
	if index < 0 || index >= len(r.Coords) {
		return fmt.Errorf("%w: move %d of %d", ErrIndexOutOfRange, index, len(r.Coords))
	}
	r.Coords[index] = wp
	return p.updateAround(r, index)
}

// Remove drops waypoint index together with the leg leaving it (the leg
// reaching it for the last waypoint). The leg now bridging the gap is
// recomputed.
func (p *Propagator) Remove(r *Route, index int) error {
	n := len(r.Coords)
	if index < 0 || index >= n {
		return fmt.Errorf("%w: remove %d of %d", ErrIndexOutOfRange, index, n)
	}

	r.Coords = removeAt(r.Coords, index)
	r.Names = removeAt(fitNames(r.Names, n), index)

	if len(r.Coords) < 2 {
		r.Legs = nil
		return nil
	}
	r.Legs = removeAt(r.Legs, min(index, len(r.Legs)-1))

	if index > 0 && index < len(r.Coords) {
		return p.update(r, index-1)
	}
	return nil
}

// Reconcile brings the route to coords, as handed back by a drag editor.
// A single moved, inserted or removed point is applied incrementally,
// anything else rebuilds the route.
func (p *Propagator) Reconcile(r *Route, coords []navlog.Waypoint) error {
	old := r.Coords
	diff := firstDifference(old, coords)

	switch {
	case diff == -1 && len(old) == len(coords):
		return nil

	case len(coords) == len(old)+1 && equalWaypoints(old[diff:], coords[diff+1:]):
		return p.Insert(r, diff, coords[diff])

	case len(coords)+1 == len(old) && equalWaypoints(old[diff+1:], coords[diff:]):
		return p.Remove(r, diff)

	case len(coords) == len(old) && equalWaypoints(old[diff+1:], coords[diff+1:]):
		return p.Move(r, diff, coords[diff])
	}

	log.Debugf("nav %d: rebuilding legs after %d -> %d waypoints", r.ID, len(old), len(coords))

	r.Coords = append([]navlog.Waypoint(nil), coords...)
	r.Names = fitNames(r.Names, len(coords))
	return p.Recompute(r)
}

func (p *Propagator) updateAround(r *Route, index int) error {
	var errs []error
	if index > 0 {
		errs = append(errs, p.update(r, index-1))
	}
	if index < len(r.Legs) {
		errs = append(errs, p.update(r, index))
	}
	return errors.Join(errs...)
}

func (p *Propagator) update(r *Route, i int) error {
	leg, err := p.solve(r.Coords[i], r.Coords[i+1], r.Legs[i], p.dev, p.fuel)
	r.Legs[i] = leg
	if err != nil {
		log.Debugf("nav %d leg %d: %v", r.ID, i, err)
		return fmt.Errorf("leg %d: %w", i, err)
	}
	return nil
}

func fitLegs(r *Route) {
	want := legCount(len(r.Coords))
	if len(r.Legs) > want {
		r.Legs = r.Legs[:want]
	}
	for len(r.Legs) < want {
		leg := navlog.DefaultLeg()
		if len(r.Legs) > 0 {
			leg = r.Legs[len(r.Legs)-1].Inputs()
		}
		r.Legs = append(r.Legs, leg)
	}
}

func fitNames(names []string, n int) []string {
	if len(names) > n {
		return names[:n]
	}
	for len(names) < n {
		names = append(names, "")
	}
	return names
}

// firstDifference returns the first index where a and b differ, counting a
// length mismatch as a difference at the end of the shorter one. -1 means
// equal.
func firstDifference(a, b []navlog.Waypoint) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	if len(a) != len(b) {
		return n
	}
	return -1
}

func equalWaypoints(a, b []navlog.Waypoint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func insertAt[T any](s []T, i int, v T) []T {
	s = append(s, v)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func removeAt[T any](s []T, i int) []T {
	return append(s[:i], s[i+1:]...)
}
