package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/curbz/vfrnav/internal/mockserver"
	"github.com/curbz/vfrnav/internal/presets"
	"github.com/curbz/vfrnav/internal/records"
	"github.com/curbz/vfrnav/internal/route"
	"github.com/curbz/vfrnav/internal/server"
	"github.com/curbz/vfrnav/internal/simdata"
	"github.com/curbz/vfrnav/internal/xplaneapi/xpconnect"
)

// reconnectDelay separates attempts to reach the simulator.
const reconnectDelay = 5 * time.Second

var (
	noSim   bool
	mockSim string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the EFB endpoint and follow the simulator",
	Long: `Starts the EFB WebSocket endpoint and, unless --no-sim is given,
connects to the X-Plane web API to broadcast the aircraft position and fuel
and to record flights. The simulator is retried until it answers.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&noSim, "no-sim", false, "do not connect to the simulator")
	serveCmd.Flags().StringVar(&mockSim, "mock-sim", "", "serve a fake X-Plane web API on this port, for trying the EFB without a simulator")
}

func runServe(cmd *cobra.Command, args []string) error {
	banner()

	planner, err := route.New(cfgPath)
	if err != nil {
		return err
	}
	srvCfg, err := server.LoadConfig(cfgPath)
	if err != nil {
		return err
	}

	recorder := records.NewRecorder()
	if srvCfg.RecordsFile != "" {
		if err := recorder.LoadFile(srvCfg.RecordsFile); err != nil {
			log.Warnf("records file %s unreadable, starting empty: %v", srvCfg.RecordsFile, err)
		}
	}

	srv := server.New(srvCfg, planner, recorder,
		presets.NewDeviationStore(), presets.NewFuelStore(planner.Defaults().FuelRate))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if mockSim != "" {
		mock := mockserver.New(mockValues())
		mock.Updates = 1 << 30
		mock.Interval = time.Second
		httpSrv := mock.Start(mockSim)
		defer httpSrv.Close()
	}

	var xpc *xpconnect.XPConnect
	if !noSim {
		if xpc, err = xpconnect.New(cfgPath, srv); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	if xpc != nil {
		g.Go(func() error { return follow(ctx, xpc) })
	}

	err = g.Wait()
	if srvCfg.RecordsFile != "" {
		if serr := recorder.SaveFile(srvCfg.RecordsFile); serr != nil {
			log.Errorf("saving records: %v", serr)
		}
	}
	log.Info("vfrnav stopped")
	return err
}

// follow keeps a simulator connection up until ctx ends.
func follow(ctx context.Context, xpc xpconnect.XPConnectInterface) error {
	for {
		err := xpc.Start(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, xpconnect.ErrMissingDatarefs) {
			return fmt.Errorf("simulator feed: %w", err)
		}
		if err != nil {
			log.Infof("simulator not available (%v), retrying in %s", err, reconnectDelay)
		} else {
			log.Infof("simulator disconnected, retrying in %s", reconnectDelay)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

// mockValues is a C172 parked at Toussus-le-Noble.
func mockValues() map[string]any {
	return map[string]any{
		simdata.Latitude:      48.7519,
		simdata.Longitude:     2.1061,
		simdata.Elevation:     164.0,
		simdata.TrueHeading:   250.0,
		simdata.GroundSpeed:   0.0,
		simdata.VerticalSpeed: 0.0,
		simdata.OnGround:      1.0,
		simdata.WindDirection: 240.0,
		simdata.WindSpeed:     8.0,
		simdata.OAT:           15.0,
		simdata.MagVar:        1.5,
		simdata.TankFuel:      []any{54.4, 54.4},
		simdata.TankRatio:     []any{0.5, 0.5},
		simdata.FuelCapacity:  145.0,
		simdata.AircraftICAO:  "QzE3MgA=",     // "C172\x00"
		simdata.TailNumber:    "Ri1HQUJDAA==", // "F-GABC\x00"
		simdata.LocalDateDays: 120.0,
		simdata.LocalTimeSecs: 36000.0,
		simdata.ZuluTimeSecs:  28800.0,
	}
}
