package navlog

import (
	"fmt"
	"math"
	"strings"

	"github.com/curbz/vfrnav/pkg/geometry"
)

type FuelUnit string

const (
	Gallon FuelUnit = "gal"
	Liter  FuelUnit = "liter"

	litersPerGallon = 3.785411784
)

// FromGallons converts a quantity held in US gallons to the unit.
func (u FuelUnit) FromGallons(v float64) float64 {
	if u == Liter {
		return v * litersPerGallon
	}
	return v
}

// ToGallons converts a quantity expressed in the unit to US gallons.
func (u FuelUnit) ToGallons(v float64) float64 {
	if u == Liter {
		return v / litersPerGallon
	}
	return v
}

// Schedule holds the departure figures a nav-log is computed from. Times
// are in minutes, fuel in US gallons.
type Schedule struct {
	LoadedFuel    float64 `json:"loadedFuel"`
	DepartureTime float64 `json:"departureTime"` // minutes since midnight
	TaxiTime      float64 `json:"taxiTime"`
	TaxiConso     float64 `json:"taxiConso"`
}

// LegSummary is one row of the nav-log.
type LegSummary struct {
	Index int    `json:"index"`
	From  string `json:"from"`
	To    string `json:"to"`
	Leg   Leg    `json:"leg"`

	// ETA in seconds since midnight of the departure day, from the plan only.
	ETA float64 `json:"eta"`
	// Fuel left at the end of the leg, from the plan only.
	Fuel float64 `json:"fuel"`

	// Corrections from the last ATA and the last fuel reading entered by
	// the pilot. They carry forward until a newer one is entered.
	ETADelta  float64 `json:"etaDelta"`
	FuelDelta float64 `json:"fuelDelta"`

	// Label is the pair of lines drawn along the leg on the map.
	Label [2]string `json:"label"`
}

func (s LegSummary) CorrectedETA() float64 {
	return s.ETA - s.ETADelta
}

func (s LegSummary) CorrectedFuel() float64 {
	return s.Fuel + s.FuelDelta
}

// Summarize chains ETA and fuel over the legs. names holds one entry per
// waypoint, i.e. len(legs)+1; missing names are left blank.
func Summarize(legs []Leg, names []string, sched Schedule) []LegSummary {
	rows := make([]LegSummary, 0, len(legs))

	t := (sched.DepartureTime + sched.TaxiTime) * 60
	fuel := sched.LoadedFuel - sched.TaxiConso

	var etaDelta, fuelDelta float64

	for i, leg := range legs {
		t += leg.Dur.Full
		fuel -= leg.Conso

		lastFuel := sched.LoadedFuel - sched.TaxiConso
		lastATA := -1
		if i > 0 {
			lastFuel = legs[i-1].CurFuel
			lastATA = legs[i-1].ATA
		}
		if lastFuel != 0 {
			fuelDelta = math.Round(lastFuel - leg.Conso - fuel)
		}
		if lastATA != -1 {
			etaDelta = math.Round(t - (float64(lastATA)*60 + leg.Dur.Full))
		}

		from, to := nameAt(names, i), nameAt(names, i+1)
		first, second := Label(leg, from, to)
		rows = append(rows, LegSummary{
			Index:     i,
			From:      from,
			To:        to,
			Leg:       leg,
			ETA:       t,
			Fuel:      fuel,
			ETADelta:  etaDelta,
			FuelDelta: fuelDelta,
			Label:     [2]string{first, second},
		})
	}

	return rows
}

// ToggleActive flips the active flag of leg index. Activating a leg
// activates every later leg, deactivating it deactivates every earlier one.
func ToggleActive(legs []Leg, index int) {
	if index < 0 || index >= len(legs) {
		return
	}
	if !legs[index].Active {
		for i := index; i < len(legs); i++ {
			legs[i].Active = true
		}
		return
	}
	for i := 0; i <= index; i++ {
		legs[i].Active = false
	}
}

// FormatClock renders seconds since midnight as HHhMM, wrapping at 24h.
func FormatClock(seconds float64) string {
	total := int(math.Round(seconds / 60))
	total %= 24 * 60
	if total < 0 {
		total += 24 * 60
	}
	return fmt.Sprintf("%02dh%02d", total/60, total%60)
}

// String renders the duration the way leg labels show it, e.g. "1:05:12",
// "3:40" or "07". Leading zero fields are dropped, seconds keep two digits.
func (d Duration) String() string {
	var b strings.Builder
	if d.Days > 0 {
		fmt.Fprintf(&b, "%dd %02d:", d.Days, d.Hours)
	} else if d.Hours > 0 {
		fmt.Fprintf(&b, "%d:", d.Hours)
	}
	if b.Len() > 0 {
		fmt.Fprintf(&b, "%02d:", d.Minutes)
	} else if d.Minutes > 0 {
		fmt.Fprintf(&b, "%d:", d.Minutes)
	}
	fmt.Fprintf(&b, "%02d", d.Seconds)
	return b.String()
}

// Label returns the two text lines drawn along a leg on the map. The delta
// is the shortest turn from TC to CH.
func Label(leg Leg, from, to string) (string, string) {
	heading := fmt.Sprintf("%.0f°", math.Round(leg.CH))
	if delta := math.Round(geometry.HeadingDifference(leg.TC, leg.CH)); delta != 0 {
		heading = fmt.Sprintf("%.0f %+.0f°", math.Round(leg.CH), delta)
	}
	first := fmt.Sprintf("%s %.0f nm  %s", heading, math.Round(leg.Dist), leg.Dur)

	second := from
	if from != "" || to != "" {
		second += " -> " + to
	}
	if leg.Remark != "" {
		second += " @" + leg.Remark
	}
	return first, second
}

func nameAt(names []string, i int) string {
	if i < len(names) {
		return names[i]
	}
	return ""
}
