package route

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/mohae/deepcopy"
	log "github.com/sirupsen/logrus"

	"github.com/curbz/vfrnav/internal/navlog"
	"github.com/curbz/vfrnav/pkg/util"
)

var (
	ErrRouteNotFound = errors.New("route: nav not found")
	ErrBadOrder      = errors.New("route: order must list every nav exactly once")
)

// Defaults seed every new nav.
type Defaults struct {
	LoadedFuel float64 `yaml:"loaded_fuel"`
	TaxiTime   float64 `yaml:"taxi_time"`
	TaxiConso  float64 `yaml:"taxi_conso"`
	FuelRate   float64 `yaml:"fuel_rate"`
	IAS        float64 `yaml:"ias"`
	Altitude   float64 `yaml:"altitude"`
	OAT        float64 `yaml:"oat"`
}

type config struct {
	Planner Defaults `yaml:"planner"`
}

func (d Defaults) withFallbacks() Defaults {
	leg := navlog.DefaultLeg()
	if d.LoadedFuel == 0 {
		d.LoadedFuel = 300
	}
	if d.TaxiTime == 0 {
		d.TaxiTime = navlog.DefaultTaxiTime
	}
	if d.TaxiConso == 0 {
		d.TaxiConso = navlog.DefaultTaxiConso
	}
	if d.FuelRate == 0 {
		d.FuelRate = 8
	}
	if d.IAS == 0 {
		d.IAS = leg.IAS
	}
	if d.Altitude == 0 {
		d.Altitude = leg.Altitude
	}
	if d.OAT == 0 {
		d.OAT = leg.OAT
	}
	return d
}

func (d Defaults) leg() navlog.Leg {
	leg := navlog.DefaultLeg()
	leg.IAS = d.IAS
	leg.Altitude = d.Altitude
	leg.OAT = d.OAT
	return leg
}

// Planner holds the navs of a session. Every method is safe for concurrent
// use; routes handed out are deep copies.
type Planner struct {
	mu       sync.RWMutex
	defaults Defaults
	prop     *Propagator
	routes   []*Route
	nextID   int
	now      func() time.Time
}

type PlannerInterface interface {
	Create(name string, coords []navlog.Waypoint) (Route, error)
	Get(id int) (Route, error)
	List() []Route
	Remove(id int) error
	Rename(id int, name, shortName string) error
	SetActive(id int, active bool) error
	Reorder(ids []int) error
	Edit(id int, fn func(r *Route, p *Propagator) error) (Route, error)
	SetCurves(dev navlog.DeviationCurve, fuel navlog.FuelCurve) error
	SetDeviation(dev navlog.DeviationCurve) error
	SetFuel(fuel navlog.FuelCurve) error
	Curves() (navlog.DeviationCurve, navlog.FuelCurve)
	Export(ids []int, names map[int]string) (navlog.Document, error)
	Import(navs []navlog.NamedNav) ([]Route, error)
}

// New loads the planner section of the configuration file.
func New(cfgPath string) (*Planner, error) {
	cfg, err := util.LoadConfig[config](cfgPath)
	if err != nil {
		return nil, fmt.Errorf("error reading configuration file: %w", err)
	}
	return NewPlanner(cfg.Planner), nil
}

func NewPlanner(d Defaults) *Planner {
	d = d.withFallbacks()
	return &Planner{
		defaults: d,
		prop:     NewPropagator(navlog.FlatDeviationCurve(), navlog.SimpleFuelCurve(d.FuelRate)),
		nextID:   1,
		now:      time.Now,
	}
}

// Defaults returns the values new navs are seeded with.
func (p *Planner) Defaults() Defaults {
	return p.defaults
}

// Create adds a nav drawn through coords. An empty name gets "New Nav <id>".
func (p *Planner) Create(name string, coords []navlog.Waypoint) (Route, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	if name == "" {
		name = fmt.Sprintf("New Nav %d", id)
	}

	now := p.now()
	r := &Route{
		ID:            id,
		Order:         len(p.routes),
		Name:          name,
		ShortName:     strconv.Itoa(id),
		Active:        true,
		Link:          navlog.DefaultLink,
		Coords:        append([]navlog.Waypoint(nil), coords...),
		Names:         make([]string, len(coords)),
		LoadedFuel:    p.defaults.LoadedFuel,
		DepartureTime: float64(now.Hour()*60 + now.Minute()),
		TaxiTime:      p.defaults.TaxiTime,
		TaxiConso:     p.defaults.TaxiConso,
	}
	for i := 0; i < legCount(len(coords)); i++ {
		r.Legs = append(r.Legs, p.defaults.leg())
	}

	err := p.prop.Recompute(r)
	p.routes = append(p.routes, r)

	log.Infof("nav %d %q created with %d waypoints", id, name, len(coords))
	return p.snapshot(r), err
}

func (p *Planner) Get(id int) (Route, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	r, err := p.find(id)
	if err != nil {
		return Route{}, err
	}
	return p.snapshot(r), nil
}

// List returns every nav sorted by order.
func (p *Planner) List() []Route {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Route, 0, len(p.routes))
	for _, r := range p.routes {
		out = append(out, p.snapshot(r))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Remove deletes a nav. Navs ordered after it move up one place.
func (p *Planner) Remove(id int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, r := range p.routes {
		if r.ID != id {
			continue
		}
		for _, other := range p.routes {
			if other.Order > r.Order {
				other.Order--
			}
		}
		p.routes = append(p.routes[:i], p.routes[i+1:]...)
		log.Infof("nav %d removed", id)
		return nil
	}
	return fmt.Errorf("%w: %d", ErrRouteNotFound, id)
}

func (p *Planner) Rename(id int, name, shortName string) error {
	_, err := p.Edit(id, func(r *Route, _ *Propagator) error {
		if name != "" {
			r.Name = name
		}
		if shortName != "" {
			r.ShortName = shortName
		}
		return nil
	})
	return err
}

func (p *Planner) SetActive(id int, active bool) error {
	_, err := p.Edit(id, func(r *Route, _ *Propagator) error {
		r.Active = active
		return nil
	})
	return err
}

// Reorder sets the display order: ids[0] comes first.
func (p *Planner) Reorder(ids []int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(ids) != len(p.routes) {
		return fmt.Errorf("%w: got %d ids for %d navs", ErrBadOrder, len(ids), len(p.routes))
	}
	order := make(map[int]int, len(ids))
	for i, id := range ids {
		if _, dup := order[id]; dup {
			return fmt.Errorf("%w: %d listed twice", ErrBadOrder, id)
		}
		order[id] = i
	}
	for _, r := range p.routes {
		if _, ok := order[r.ID]; !ok {
			return fmt.Errorf("%w: %d missing", ErrBadOrder, r.ID)
		}
	}
	for _, r := range p.routes {
		r.Order = order[r.ID]
	}
	return nil
}

// Edit runs fn on the nav under the planner lock and returns the resulting
// snapshot. Solver errors leave the nav edited, they are returned alongside.
func (p *Planner) Edit(id int, fn func(r *Route, prop *Propagator) error) (Route, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, err := p.find(id)
	if err != nil {
		return Route{}, err
	}
	err = fn(r, p.prop)
	return p.snapshot(r), err
}

func (p *Planner) InsertWaypoint(id, index int, wp navlog.Waypoint) (Route, error) {
	return p.Edit(id, func(r *Route, prop *Propagator) error { return prop.Insert(r, index, wp) })
}

func (p *Planner) MoveWaypoint(id, index int, wp navlog.Waypoint) (Route, error) {
	return p.Edit(id, func(r *Route, prop *Propagator) error { return prop.Move(r, index, wp) })
}

func (p *Planner) RemoveWaypoint(id, index int) (Route, error) {
	return p.Edit(id, func(r *Route, prop *Propagator) error { return prop.Remove(r, index) })
}

func (p *Planner) Reconcile(id int, coords []navlog.Waypoint) (Route, error) {
	return p.Edit(id, func(r *Route, prop *Propagator) error { return prop.Reconcile(r, coords) })
}

func (p *Planner) SetLeg(id, index int, leg navlog.Leg) (Route, error) {
	return p.Edit(id, func(r *Route, prop *Propagator) error { return prop.SetLeg(r, index, leg) })
}

// SetLegs replaces the inputs of every leg of a nav.
func (p *Planner) SetLegs(id int, legs []navlog.Leg) (Route, error) {
	return p.Edit(id, func(r *Route, prop *Propagator) error { return prop.SetLegs(r, legs) })
}

func (p *Planner) ToggleLeg(id, index int) (Route, error) {
	return p.Edit(id, func(r *Route, _ *Propagator) error {
		if index < 0 || index >= len(r.Legs) {
			return fmt.Errorf("%w: leg %d of %d", ErrIndexOutOfRange, index, len(r.Legs))
		}
		navlog.ToggleActive(r.Legs, index)
		return nil
	})
}

func (p *Planner) SetSchedule(id int, s navlog.Schedule) (Route, error) {
	return p.Edit(id, func(r *Route, _ *Propagator) error {
		r.LoadedFuel = s.LoadedFuel
		r.DepartureTime = s.DepartureTime
		r.TaxiTime = s.TaxiTime
		r.TaxiConso = s.TaxiConso
		return nil
	})
}

func (p *Planner) SetWaypointNames(id int, names []string) (Route, error) {
	return p.Edit(id, func(r *Route, _ *Propagator) error {
		if len(names) != len(r.Coords) {
			return fmt.Errorf("%w: got %d names for %d waypoints", ErrIndexOutOfRange, len(names), len(r.Coords))
		}
		r.Names = append([]string(nil), names...)
		return nil
	})
}

// SetCurves swaps the deviation and fuel curves and recomputes every nav.
func (p *Planner) SetCurves(dev navlog.DeviationCurve, fuel navlog.FuelCurve) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setCurves(dev, fuel)
}

// SetDeviation swaps the deviation curve only.
func (p *Planner) SetDeviation(dev navlog.DeviationCurve) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setCurves(dev, p.prop.Fuel())
}

// SetFuel swaps the fuel curve only.
func (p *Planner) SetFuel(fuel navlog.FuelCurve) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setCurves(p.prop.Deviation(), fuel)
}

func (p *Planner) setCurves(dev navlog.DeviationCurve, fuel navlog.FuelCurve) error {
	if err := p.prop.SetCurves(dev, fuel, p.routes...); err != nil {
		if errors.Is(err, navlog.ErrInvalidCurve) {
			return err
		}
		log.Warnf("curves updated with leg errors: %v", err)
	}
	return nil
}

func (p *Planner) Curves() (navlog.DeviationCurve, navlog.FuelCurve) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return deepcopy.Copy(p.prop.Deviation()).(navlog.DeviationCurve),
		deepcopy.Copy(p.prop.Fuel()).(navlog.FuelCurve)
}

// Export builds the document for the given navs, all of them when ids is
// empty. names overrides the exported name of a nav.
func (p *Planner) Export(ids []int, names map[int]string) (navlog.Document, error) {
	var doc navlog.Document

	routes := p.List()
	if len(ids) > 0 {
		byID := make(map[int]Route, len(routes))
		for _, r := range routes {
			byID[r.ID] = r
		}
		wanted := make(map[int]bool, len(ids))
		for _, id := range ids {
			if _, ok := byID[id]; !ok {
				return doc, fmt.Errorf("%w: %d", ErrRouteNotFound, id)
			}
			wanted[id] = true
		}
		kept := routes[:0]
		for _, r := range routes {
			if wanted[r.ID] {
				kept = append(kept, r)
			}
		}
		routes = kept
	}

	for _, r := range routes {
		nav := r.Nav()
		if n, ok := names[r.ID]; ok && n != "" {
			nav.Name = n
		}
		doc.Navs = append(doc.Navs, nav)
	}
	return doc, nil
}

// Import adds the navs of a document. They get fresh ids, keep their
// relative order after the existing navs, and have every leg recomputed
// with the current curves.
func (p *Planner) Import(navs []navlog.NamedNav) ([]Route, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sorted := append([]navlog.NamedNav(nil), navs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Data.Order < sorted[j].Data.Order })

	var (
		out  []Route
		errs []error
	)
	for _, n := range sorted {
		id := p.nextID
		p.nextID++

		r := &Route{
			ID:            id,
			Order:         len(p.routes),
			Name:          n.Name,
			ShortName:     n.Data.ShortName,
			Active:        n.Data.Active,
			Link:          n.Data.Link,
			Coords:        n.Data.WaypointList(),
			Names:         append([]string(nil), n.Data.Waypoints...),
			Legs:          append([]navlog.Leg(nil), n.Data.Properties...),
			LoadedFuel:    n.Data.LoadedFuel,
			DepartureTime: n.Data.DepartureTime,
			TaxiTime:      n.Data.TaxiTime,
			TaxiConso:     n.Data.TaxiConso,
		}
		if r.ShortName == "" {
			r.ShortName = strconv.Itoa(id)
		}
		r.Names = fitNames(r.Names, len(r.Coords))
		if err := p.prop.Recompute(r); err != nil {
			errs = append(errs, fmt.Errorf("nav %q: %w", n.Name, err))
		}

		p.routes = append(p.routes, r)
		out = append(out, p.snapshot(r))
		log.Infof("nav %d %q imported with %d waypoints", id, r.Name, len(r.Coords))
	}
	return out, errors.Join(errs...)
}

func (p *Planner) find(id int) (*Route, error) {
	for _, r := range p.routes {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrRouteNotFound, id)
}

func (p *Planner) snapshot(r *Route) Route {
	return *deepcopy.Copy(r).(*Route)
}
