package main

import (
	"fmt"
	"io"
	"math"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/curbz/vfrnav/internal/navlog"
	"github.com/curbz/vfrnav/internal/route"
)

var (
	fuelUnit string
	lang     string
)

var navlogCmd = &cobra.Command{
	Use:   "navlog <file>",
	Short: "Print the nav-log of an exported nav file",
	Long: `Reads a nav-log document exported by the EFB, recomputes every leg
with the curves it carries (or the built-in ones) and prints one table per
nav: headings, distance, time, ETA and fuel remaining.`,
	Args: cobra.ExactArgs(1),
	RunE: runNavlog,
}

func init() {
	navlogCmd.Flags().StringVar(&fuelUnit, "unit", string(navlog.Gallon), "fuel unit, gal or liter")
	navlogCmd.Flags().StringVar(&lang, "lang", "en", "language used to format numbers")
}

func runNavlog(cmd *cobra.Command, args []string) error {
	unit := navlog.FuelUnit(fuelUnit)
	if unit != navlog.Gallon && unit != navlog.Liter {
		return fmt.Errorf("unknown fuel unit %q", fuelUnit)
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("invalid language %q: %w", lang, err)
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	doc, err := navlog.Decode(f)
	if err != nil {
		return err
	}

	planner, err := route.New(cfgPath)
	if err != nil {
		log.Debugf("no planner configuration, using defaults: %v", err)
		planner = route.NewPlanner(route.Defaults{})
	}
	if doc.Dev != nil {
		if err := planner.SetDeviation(doc.Dev.Data); err != nil {
			return fmt.Errorf("deviation curve %q: %w", doc.Dev.Name, err)
		}
	}
	if doc.Fuel != nil {
		if err := planner.SetFuel(doc.Fuel.Data); err != nil {
			return fmt.Errorf("fuel curve %q: %w", doc.Fuel.Name, err)
		}
	}

	routes, err := planner.Import(doc.Navs)
	if err != nil {
		log.Warnf("some legs could not be solved: %v", err)
	}

	p := message.NewPrinter(tag)
	out := cmd.OutOrStdout()
	for i, r := range routes {
		if i > 0 {
			fmt.Fprintln(out)
		}
		writeNavLog(out, p, r, unit)
	}
	return nil
}

// writeNavLog prints the nav-log table of one route.
func writeNavLog(w io.Writer, p *message.Printer, r route.Route, unit navlog.FuelUnit) {
	sched := r.Schedule()
	p.Fprintf(w, "%s  departure %s  taxi %.0f min  fuel %.1f %s\n",
		r.Name, navlog.FormatClock(sched.DepartureTime*60), sched.TaxiTime,
		unit.FromGallons(sched.LoadedFuel), unit)
	p.Fprintf(w, "%-24s %4s %4s %4s %4s %6s %4s %8s %6s %8s\n",
		"leg", "TC", "MH", "CH", "WCA", "dist", "GS", "time", "ETA", "fuel")

	var dist, dur, conso float64
	for _, row := range r.Summary() {
		leg := row.Leg
		name := fmt.Sprintf("%s -> %s", row.From, row.To)
		if !leg.Active {
			name = "(" + name + ")"
		}
		p.Fprintf(w, "%-24s %04.0f %04.0f %04.0f %+4.0f %6.1f %4.0f %8s %6s %8.1f\n",
			truncate(name, 24), heading(leg.TC), heading(leg.MH), heading(leg.CH), leg.WCA,
			leg.Dist, leg.GS, leg.Dur, navlog.FormatClock(row.CorrectedETA()),
			unit.FromGallons(row.CorrectedFuel()))

		dist += leg.Dist
		dur += leg.Dur.Full
		conso += leg.Conso
	}

	p.Fprintf(w, "total %.1f nm  %s  %.1f %s\n", dist, navlog.NewDuration(dur), unit.FromGallons(conso), unit)
}

// heading rounds to whole degrees, 360 for north as on a compass card.
func heading(h float64) float64 {
	if v := math.Round(h); v != 0 {
		return v
	}
	return 360
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
