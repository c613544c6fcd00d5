package xpconnect

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curbz/vfrnav/internal/mockserver"
	"github.com/curbz/vfrnav/internal/model"
	"github.com/curbz/vfrnav/internal/simdata"
	"github.com/curbz/vfrnav/internal/xplaneapi/xpapimodel"
)

type recordingListener struct {
	mu         sync.Mutex
	positions  []model.PlanePos
	conditions []model.Conditions
	fuel       []model.Fuel
	aircraft   []model.Aircraft
	gotPos     chan struct{}
	once       sync.Once
}

func newRecordingListener() *recordingListener {
	return &recordingListener{gotPos: make(chan struct{})}
}

func (l *recordingListener) OnPlanePos(pos model.PlanePos) {
	l.mu.Lock()
	l.positions = append(l.positions, pos)
	l.mu.Unlock()
	l.once.Do(func() { close(l.gotPos) })
}

func (l *recordingListener) OnConditions(c model.Conditions) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conditions = append(l.conditions, c)
}

func (l *recordingListener) OnFuel(f model.Fuel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fuel = append(l.fuel, f)
}

func (l *recordingListener) OnAircraft(ac model.Aircraft) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.aircraft = append(l.aircraft, ac)
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func simValues() map[string]any {
	return map[string]any{
		simdata.Latitude:      48.5,
		simdata.Longitude:     2.3,
		simdata.Elevation:     304.8,
		simdata.TrueHeading:   370.0,
		simdata.GroundSpeed:   51.4444,
		simdata.VerticalSpeed: 500.0,
		simdata.OnGround:      0.0,
		simdata.WindDirection: 250.0,
		simdata.WindSpeed:     12.0,
		simdata.OAT:           15.0,
		simdata.MagVar:        2.0,
		simdata.TankFuel:      []any{54.4, 27.2, 0.0},
		simdata.TankRatio:     []any{0.5, 0.5, 0.0},
		simdata.FuelCapacity:  217.6,
		simdata.AircraftICAO:  b64("C172\x00\x00\x00"),
		simdata.TailNumber:    b64("F-GABC\x00"),
		simdata.LocalDateDays: 100.0,
		simdata.LocalTimeSecs: 36000.0,
		simdata.ZuluTimeSecs:  28800.0,
	}
}

func testConfig(url string) config {
	var cfg config
	cfg.XPlane.RestBaseURL = url + "/api/v2"
	cfg.XPlane.WebSocketURL = "ws" + strings.TrimPrefix(url, "http") + "/api/v2"
	return cfg
}

func TestStartFeedsListener(t *testing.T) {
	mock := mockserver.New(simValues())
	ts := httptest.NewServer(mock.Handler())
	defer ts.Close()

	listener := newRecordingListener()
	xpc := newXPConnect(testConfig(ts.URL), listener)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- xpc.Start(ctx) }()

	select {
	case <-listener.gotPos:
	case err := <-errc:
		t.Fatalf("Start returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("no plane position received")
	}
	cancel()
	require.NoError(t, <-errc)

	listener.mu.Lock()
	defer listener.mu.Unlock()

	pos := listener.positions[0]
	assert.InDelta(t, 48.5, pos.Lat, 1e-9)
	assert.InDelta(t, 1000, pos.Altitude, 0.01)
	assert.InDelta(t, 10, pos.Heading, 1e-9)
	assert.InDelta(t, 100, pos.GroundSpeed, 0.01)
	assert.False(t, pos.OnGround)
	assert.Equal(t, time.April, pos.Date.Month())
	assert.Equal(t, 8, pos.Date.Hour())

	require.NotEmpty(t, listener.conditions)
	c := listener.conditions[0]
	assert.InDelta(t, 252, c.Wind.Direction, 1e-9)
	assert.Equal(t, 12.0, c.Wind.Speed)
	assert.Equal(t, -2.0, c.MagVar)

	// unchanged fuel is reported once
	require.Len(t, listener.fuel, 1)
	require.Len(t, listener.fuel[0].Tanks, 2)
	assert.InDelta(t, 30, listener.fuel[0].Total(), 1e-9)
	assert.InDelta(t, 40, listener.fuel[0].Tanks[0].Capacity, 1e-9)

	require.Len(t, listener.aircraft, 1)
	assert.Equal(t, model.Aircraft{ICAO: "C172", Tail: "F-GABC"}, listener.aircraft[0])
}

func TestStartMissingDatarefs(t *testing.T) {
	mock := mockserver.New(simValues())
	mock.Missing[simdata.OnGround] = true
	ts := httptest.NewServer(mock.Handler())
	defer ts.Close()

	xpc := newXPConnect(testConfig(ts.URL), newRecordingListener())
	err := xpc.Start(context.Background())
	assert.True(t, errors.Is(err, ErrMissingDatarefs), "got %v", err)
}

func TestStartUnreachable(t *testing.T) {
	xpc := newXPConnect(testConfig("http://127.0.0.1:1"), newRecordingListener())
	assert.Error(t, xpc.Start(context.Background()))
}

func TestUpdateMemDatarefValue(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		value   any
		want    any
		wantErr bool
	}{
		{name: "scalar", value: 12.5, want: 12.5},
		{name: "float array", typ: simdata.FloatArray, value: []any{1.0, 2.5}, want: []float64{1, 2.5}},
		{name: "int array", typ: simdata.IntArray, value: []any{1.0, 3.0}, want: []int{1, 3}},
		{name: "strings", typ: simdata.Base64StringArray, value: b64("C172\x00\x00"), want: []string{"C172"}},
		{name: "array of strings", typ: simdata.FloatArray, value: []any{"x"}, wantErr: true},
		{name: "not an array", typ: simdata.FloatArray, value: 1.0, wantErr: true},
		{name: "not base64", typ: simdata.Base64StringArray, value: "%%%", wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			dr := &xpapimodel.Dataref{Name: tc.name, DecodedDataType: tc.typ}
			err := updateMemDatarefValue(dr, tc.value)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, dr.Value)
		})
	}
}

// memMap builds the resolved dataref table as Start would.
func memMap() map[int]*xpapimodel.Dataref {
	m := make(map[int]*xpapimodel.Dataref)
	for i, dr := range simdata.SubscribeDatarefs {
		m[i+1] = &xpapimodel.Dataref{Name: dr.Name, DecodedDataType: dr.DecodedDataType}
	}
	return m
}

func updateFor(m map[int]*xpapimodel.Dataref, values map[string]any) map[string]any {
	out := map[string]any{}
	for id, dr := range m {
		if v, ok := values[dr.Name]; ok {
			out[strconv.Itoa(id)] = v
		}
	}
	return out
}

func TestFuelReportedOnChange(t *testing.T) {
	listener := newRecordingListener()
	xpc := &XPConnect{listener: listener, memDataRefIndexMap: memMap()}

	values := simValues()
	xpc.handleSubscribedDatarefUpdate(updateFor(xpc.memDataRefIndexMap, values))

	values[simdata.TankFuel] = []any{54.3, 27.2, 0.0}
	xpc.handleSubscribedDatarefUpdate(updateFor(xpc.memDataRefIndexMap, values))
	assert.Len(t, listener.fuel, 1)

	values[simdata.TankFuel] = []any{50.0, 27.2, 0.0}
	xpc.handleSubscribedDatarefUpdate(updateFor(xpc.memDataRefIndexMap, values))
	assert.Len(t, listener.fuel, 2)

	assert.Len(t, listener.positions, 3)
	assert.Len(t, listener.aircraft, 1)
}

func TestPartialUpdateWaitsForValues(t *testing.T) {
	listener := newRecordingListener()
	xpc := &XPConnect{listener: listener, memDataRefIndexMap: memMap()}

	xpc.handleSubscribedDatarefUpdate(updateFor(xpc.memDataRefIndexMap, map[string]any{
		simdata.Latitude:  48.5,
		simdata.Longitude: 2.3,
	}))
	assert.Empty(t, listener.positions)
	assert.Empty(t, listener.conditions)
	assert.Empty(t, listener.fuel)

	xpc.processMessage([]byte(`{"type":"result","req_id":1,"success":false,"error_code":"x"}`))
	xpc.processMessage([]byte(`not json`))
}
