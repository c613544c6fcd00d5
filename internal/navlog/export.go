package navlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrEmptyDocument = errors.New("navlog: document carries no nav, deviation or fuel curve")

// Defaults for fields absent from documents written by older versions.
const (
	DefaultTaxiTime  = 15
	DefaultTaxiConso = 30
	DefaultLink      = "None"
)

// NavData is the exported form of a route. Coords are [lon, lat] pairs.
type NavData struct {
	ID            int          `json:"id"`
	Order         int          `json:"order"`
	Active        bool         `json:"active"`
	ShortName     string       `json:"shortName"`
	Coords        [][2]float64 `json:"coords"`
	Properties    []Leg        `json:"properties"`
	Waypoints     []string     `json:"waypoints"`
	LoadedFuel    float64      `json:"loadedFuel"`
	DepartureTime float64      `json:"departureTime"`
	TaxiTime      float64      `json:"taxiTime"`
	TaxiConso     float64      `json:"taxiConso"`
	Link          string       `json:"link"`
}

type NamedNav struct {
	Name string  `json:"name"`
	Data NavData `json:"data"`
}

type NamedDeviation struct {
	Name string         `json:"name"`
	Data DeviationCurve `json:"data"`
}

type NamedFuel struct {
	Name string    `json:"name"`
	Data FuelCurve `json:"data"`
}

// Document is a shareable nav-log file.
type Document struct {
	Navs []NamedNav      `json:"navs,omitempty"`
	Dev  *NamedDeviation `json:"dev,omitempty"`
	Fuel *NamedFuel      `json:"fuel,omitempty"`
}

// WaypointList converts the exported [lon, lat] pairs.
func (n NavData) WaypointList() []Waypoint {
	wps := make([]Waypoint, len(n.Coords))
	for i, c := range n.Coords {
		wps[i] = Waypoint{Lat: c[1], Lon: c[0]}
	}
	return wps
}

// ExportCoords converts waypoints to [lon, lat] pairs.
func ExportCoords(wps []Waypoint) [][2]float64 {
	coords := make([][2]float64, len(wps))
	for i, w := range wps {
		coords[i] = [2]float64{w.Lon, w.Lat}
	}
	return coords
}

func (d Document) Encode(w io.Writer) error {
	if len(d.Navs) == 0 && d.Dev == nil && d.Fuel == nil {
		return ErrEmptyDocument
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "   ")
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("error encoding nav-log: %w", err)
	}
	return nil
}

// Decode reads a document and fills in the defaults older files lack.
func Decode(r io.Reader) (*Document, error) {
	var raw struct {
		Navs []struct {
			ID   *int            `json:"id"`
			Name string          `json:"name"`
			Data json.RawMessage `json:"data"`
		} `json:"navs"`
		Dev  *NamedDeviation `json:"dev"`
		Fuel *NamedFuel      `json:"fuel"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("error decoding nav-log: %w", err)
	}

	doc := &Document{Dev: raw.Dev, Fuel: raw.Fuel}
	for i, n := range raw.Navs {
		data := NavData{
			Active:    true,
			TaxiTime:  DefaultTaxiTime,
			TaxiConso: DefaultTaxiConso,
			Link:      DefaultLink,
		}
		if n.ID != nil {
			data.ID = *n.ID
		}
		if len(n.Data) > 0 {
			if err := json.Unmarshal(n.Data, &data); err != nil {
				return nil, fmt.Errorf("error decoding nav %d (%q): %w", i, n.Name, err)
			}
		}
		doc.Navs = append(doc.Navs, NamedNav{Name: n.Name, Data: data})
	}

	if len(doc.Navs) == 0 && doc.Dev == nil && doc.Fuel == nil {
		return nil, ErrEmptyDocument
	}
	return doc, nil
}

// FileName suggests a file name: nav names joined by "-", then the
// deviation and fuel curve names after a "+".
func (d Document) FileName() string {
	parts := make([]string, 0, 3)

	names := make([]string, 0, len(d.Navs))
	for _, n := range d.Navs {
		names = append(names, n.Name)
	}
	if len(names) > 0 {
		parts = append(parts, strings.Join(names, "-"))
	}
	if d.Dev != nil {
		parts = append(parts, d.Dev.Name)
	}
	if d.Fuel != nil {
		parts = append(parts, d.Fuel.Name)
	}
	return strings.Join(parts, "+") + ".json"
}
