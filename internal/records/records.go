package records

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/curbz/vfrnav/internal/model"
	"github.com/curbz/vfrnav/pkg/geometry"
)

var (
	ErrNoSuchRecord = errors.New("no such record")
	ErrEmptyRecord  = errors.New("record has no positions")
)

const (
	// DefaultInterval is the minimum spacing of recorded positions.
	DefaultInterval = 500 * time.Millisecond
	// DefaultMinDuration drops flights shorter than this, e.g. a bounce.
	DefaultMinDuration = 10 * time.Second
	// DefaultMaxRecords is how many flights are kept; the oldest goes first.
	DefaultMaxRecords = 15

	// NoTouchdown marks a record whose landing rate is unknown.
	NoTouchdown = -1.0
)

// Record is one recorded flight, from lift-off to touchdown.
type Record struct {
	ID     int    `json:"id" msgpack:"id"`
	Name   string `json:"name" msgpack:"n"`
	Active bool   `json:"active" msgpack:"a"`
	// Touchdown is the vertical speed at landing in ft/min, NoTouchdown if
	// the record ended without one.
	Touchdown float64          `json:"touchdown" msgpack:"td"`
	Aircraft  model.Aircraft   `json:"aircraft" msgpack:"ac"`
	Positions []model.PlanePos `json:"positions" msgpack:"p"`
}

// Summary describes a record without its positions.
type Summary struct {
	ID        int            `json:"id"`
	Name      string         `json:"name"`
	Active    bool           `json:"active"`
	Touchdown float64        `json:"touchdown"`
	Aircraft  model.Aircraft `json:"aircraft"`
	Start     time.Time      `json:"start"`
	End       time.Time      `json:"end"`
	Count     int            `json:"count"`
}

func (r *Record) Summary() Summary {
	s := Summary{
		ID:        r.ID,
		Name:      r.Name,
		Active:    r.Active,
		Touchdown: r.Touchdown,
		Aircraft:  r.Aircraft,
		Count:     len(r.Positions),
	}
	if n := len(r.Positions); n > 0 {
		s.Start = r.Positions[0].Date
		s.End = r.Positions[n-1].Date
	}
	return s
}

// At returns the position at t, interpolated between the two surrounding
// samples. Instants outside the record clamp to its first or last position.
func (r *Record) At(t time.Time) (model.PlanePos, error) {
	n := len(r.Positions)
	if n == 0 {
		return model.PlanePos{}, ErrEmptyRecord
	}

	i := sort.Search(n, func(i int) bool { return !r.Positions[i].Date.Before(t) })
	switch {
	case i == 0:
		return r.Positions[0], nil
	case i == n:
		return r.Positions[n-1], nil
	}

	a, b := r.Positions[i-1], r.Positions[i]
	span := b.Date.Sub(a.Date)
	if span <= 0 {
		return b, nil
	}
	f := float64(t.Sub(a.Date)) / float64(span)
	lerp := func(x, y float64) float64 { return x + f*(y-x) }

	return model.PlanePos{
		Date:          t,
		Lat:           lerp(a.Lat, b.Lat),
		Lon:           lerp(a.Lon, b.Lon),
		Altitude:      lerp(a.Altitude, b.Altitude),
		Heading:       geometry.LerpHeading(f, a.Heading, b.Heading),
		GroundSpeed:   lerp(a.GroundSpeed, b.GroundSpeed),
		VerticalSpeed: lerp(a.VerticalSpeed, b.VerticalSpeed),
		OnGround:      a.OnGround,
	}, nil
}

// Recorder turns the stream of plane positions into flight records. A flight
// starts when the aircraft leaves the ground and is stored when it lands.
type Recorder struct {
	mu       sync.Mutex
	records  []*Record
	current  []model.PlanePos
	aircraft model.Aircraft
	nextID   int

	interval    time.Duration
	minDuration time.Duration
	maxRecords  int

	// OnRecord, if set, is called with every newly stored record, outside
	// the recorder lock.
	OnRecord func(Summary)
}

func NewRecorder() *Recorder {
	return &Recorder{
		interval:    DefaultInterval,
		minDuration: DefaultMinDuration,
		maxRecords:  DefaultMaxRecords,
	}
}

// SetLimits overrides the sampling interval, the shortest flight kept and the
// number of records retained. Zero values keep the current setting.
func (rec *Recorder) SetLimits(interval, minDuration time.Duration, maxRecords int) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if interval > 0 {
		rec.interval = interval
	}
	if minDuration > 0 {
		rec.minDuration = minDuration
	}
	if maxRecords > 0 {
		rec.maxRecords = maxRecords
	}
}

func (rec *Recorder) OnAircraft(ac model.Aircraft) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.aircraft = ac
}

// OnPlanePos feeds one position report to the recorder.
func (rec *Recorder) OnPlanePos(pos model.PlanePos) {
	var stored *Summary

	rec.mu.Lock()
	if !pos.OnGround {
		n := len(rec.current)
		if n == 0 || pos.Date.Sub(rec.current[n-1].Date) >= rec.interval {
			rec.current = append(rec.current, pos)
		}
	} else if len(rec.current) > 0 {
		if pos.Date.Sub(rec.current[0].Date) > rec.minDuration {
			positions := append(rec.current, pos)
			s := rec.store(positions, pos.VerticalSpeed)
			stored = &s
		} else {
			log.Debugf("records: dropping %d positions of a short flight", len(rec.current))
		}
		rec.current = nil
	}
	cb := rec.OnRecord
	rec.mu.Unlock()

	if stored != nil && cb != nil {
		cb(*stored)
	}
}

// Flying reports whether a flight is being recorded.
func (rec *Recorder) Flying() bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.current) > 0
}

func (rec *Recorder) store(positions []model.PlanePos, touchdown float64) Summary {
	r := &Record{
		ID:        rec.nextID,
		Name:      positions[0].Date.Format("2006-01-02 15:04"),
		Touchdown: touchdown,
		Aircraft:  rec.aircraft,
		Positions: positions,
	}
	rec.nextID++

	if len(rec.records) >= rec.maxRecords {
		rec.records = rec.records[len(rec.records)-rec.maxRecords+1:]
	}
	rec.records = append(rec.records, r)

	log.Infof("records: stored flight %d %q, %d positions, touchdown %.0f ft/min",
		r.ID, r.Name, len(positions), touchdown)
	return r.Summary()
}

// List returns the summaries of all records, oldest first.
func (rec *Recorder) List() []Summary {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	out := make([]Summary, len(rec.records))
	for i, r := range rec.records {
		out[i] = r.Summary()
	}
	return out
}

// Get returns a copy of a record.
func (rec *Recorder) Get(id int) (Record, error) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	r, _ := rec.find(id)
	if r == nil {
		return Record{}, fmt.Errorf("record %d: %w", id, ErrNoSuchRecord)
	}
	cp := *r
	cp.Positions = append([]model.PlanePos(nil), r.Positions...)
	return cp, nil
}

// Edit renames a record and sets its active flag.
func (rec *Recorder) Edit(id int, name string, active bool) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	r, _ := rec.find(id)
	if r == nil {
		return fmt.Errorf("record %d: %w", id, ErrNoSuchRecord)
	}
	if name != "" {
		r.Name = name
	}
	r.Active = active
	return nil
}

func (rec *Recorder) Remove(id int) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	_, i := rec.find(id)
	if i < 0 {
		return fmt.Errorf("record %d: %w", id, ErrNoSuchRecord)
	}
	rec.records = append(rec.records[:i], rec.records[i+1:]...)
	return nil
}

func (rec *Recorder) find(id int) (*Record, int) {
	for i, r := range rec.records {
		if r.ID == id {
			return r, i
		}
	}
	return nil, -1
}

// Save writes all records to w, msgpack encoded and zstd compressed.
func (rec *Recorder) Save(w io.Writer) error {
	rec.mu.Lock()
	recs := make([]Record, len(rec.records))
	for i, r := range rec.records {
		recs[i] = *r
	}
	rec.mu.Unlock()

	return Encode(w, recs)
}

// Load replaces the stored records with those read from r.
func (rec *Recorder) Load(r io.Reader) error {
	recs, err := Decode(r)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.records = rec.records[:0]
	rec.nextID = 0
	for i := range recs {
		rec.records = append(rec.records, &recs[i])
		if recs[i].ID >= rec.nextID {
			rec.nextID = recs[i].ID + 1
		}
	}
	return nil
}

// SaveFile writes the archive to path.
func (rec *Recorder) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := rec.Save(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadFile reads the archive at path. A missing file leaves the recorder
// empty.
func (rec *Recorder) LoadFile(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}
	defer f.Close()
	return rec.Load(f)
}

// Encode writes records as a msgpack stream compressed with zstd.
func Encode(w io.Writer, recs []Record) error {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	defer zw.Close()

	if err := msgpack.NewEncoder(zw).Encode(recs); err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to close zstd writer: %w", err)
	}
	return nil
}

func Decode(r io.Reader) ([]Record, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer zr.Close()

	var recs []Record
	if err := msgpack.NewDecoder(zr).Decode(&recs); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}
	return recs, nil
}
