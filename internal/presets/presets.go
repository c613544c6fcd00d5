package presets

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mohae/deepcopy"
	log "github.com/sirupsen/logrus"

	"github.com/curbz/vfrnav/internal/navlog"
)

var (
	ErrStalePreset   = errors.New("presets: a newer version is already stored")
	ErrReadOnly      = errors.New("presets: preset cannot be modified")
	ErrNoSuchPreset  = errors.New("presets: no such preset")
	ErrUnnamedPreset = errors.New("presets: preset needs a name")
)

// SimpleName is the built-in fuel preset, a constant fuel flow.
const SimpleName = "simple"

// Preset is a named curve. Date is the modification time in milliseconds
// since the epoch, the last writer by date wins. An empty curve is a
// tombstone left by a deletion.
type Preset[C any] struct {
	Name  string `json:"name"`
	Date  int64  `json:"date"`
	Curve C      `json:"curve"`
}

// Entry lists a preset without its curve.
type Entry struct {
	Name   string `json:"name"`
	Date   int64  `json:"date"`
	Remove bool   `json:"remove"`
}

// Store keeps named curves of one kind.
type Store[C any] struct {
	mu       sync.RWMutex
	kind     string
	presets  map[string]Preset[C]
	hard     map[string]C
	empty    func(C) bool
	validate func(C) error
	def      Entry
}

func NewDeviationStore() *Store[navlog.DeviationCurve] {
	return &Store[navlog.DeviationCurve]{
		kind:     "deviation",
		presets:  map[string]Preset[navlog.DeviationCurve]{},
		hard:     map[string]navlog.DeviationCurve{},
		empty:    func(c navlog.DeviationCurve) bool { return len(c) == 0 },
		validate: navlog.DeviationCurve.Validate,
	}
}

// NewFuelStore returns a store holding the read-only "simple" preset at the
// given fuel flow.
func NewFuelStore(simpleRate float64) *Store[navlog.FuelCurve] {
	return &Store[navlog.FuelCurve]{
		kind:     "fuel",
		presets:  map[string]Preset[navlog.FuelCurve]{},
		hard:     map[string]navlog.FuelCurve{SimpleName: navlog.SimpleFuelCurve(simpleRate)},
		empty:    func(c navlog.FuelCurve) bool { return len(c) == 0 },
		validate: navlog.FuelCurve.Validate,
	}
}

// Set stores curve under name if date is newer than the stored version.
// An equal date is a no-op, an older one returns ErrStalePreset so the
// caller can resend the stored version. An empty curve deletes.
func (s *Store[C]) Set(name string, date int64, curve C) (bool, error) {
	if name == "" {
		return false, ErrUnnamedPreset
	}
	if _, ok := s.hard[name]; ok {
		return false, fmt.Errorf("%w: %s preset %q", ErrReadOnly, s.kind, name)
	}
	if !s.empty(curve) {
		if err := s.validate(curve); err != nil {
			return false, fmt.Errorf("%s preset %q: %w", s.kind, name, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.presets[name]
	switch {
	case !exists && s.empty(curve):
		return false, nil
	case exists && date < cur.Date:
		log.Debugf("%s preset %q: rejected update dated %d, have %d", s.kind, name, date, cur.Date)
		return false, fmt.Errorf("%w: %s preset %q", ErrStalePreset, s.kind, name)
	case exists && date == cur.Date:
		return false, nil
	}

	s.presets[name] = Preset[C]{Name: name, Date: date, Curve: deepcopy.Copy(curve).(C)}
	if s.empty(curve) {
		log.Infof("%s preset %q removed", s.kind, name)
	} else {
		log.Infof("%s preset %q updated", s.kind, name)
	}
	return true, nil
}

func (s *Store[C]) Delete(name string, date int64) (bool, error) {
	var none C
	return s.Set(name, date, none)
}

// Get returns a live preset, hard presets included.
func (s *Store[C]) Get(name string) (Preset[C], error) {
	if c, ok := s.hard[name]; ok {
		return Preset[C]{Name: name, Curve: deepcopy.Copy(c).(C)}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.presets[name]
	if !ok || s.empty(p.Curve) {
		return Preset[C]{}, fmt.Errorf("%w: %s preset %q", ErrNoSuchPreset, s.kind, name)
	}
	p.Curve = deepcopy.Copy(p.Curve).(C)
	return p, nil
}

// Stored returns the version held for name, tombstones included, so a
// peer sending a stale update can be answered with it.
func (s *Store[C]) Stored(name string) (Preset[C], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.presets[name]
	if ok {
		p.Curve = deepcopy.Copy(p.Curve).(C)
	}
	return p, ok
}

// List returns every stored preset sorted by name. Hard presets are not
// listed, removed ones are flagged.
func (s *Store[C]) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.presets))
	for _, p := range s.presets {
		out = append(out, Entry{Name: p.Name, Date: p.Date, Remove: s.empty(p.Curve)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetDefault records the preset selected by default, last writer by date wins.
func (s *Store[C]) SetDefault(name string, date int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if date <= s.def.Date {
		return false
	}
	s.def = Entry{Name: name, Date: date}
	return true
}

func (s *Store[C]) Default() Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.def
}
