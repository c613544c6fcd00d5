package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/curbz/vfrnav/internal/model"
	"github.com/curbz/vfrnav/internal/navlog"
	"github.com/curbz/vfrnav/internal/presets"
	"github.com/curbz/vfrnav/internal/records"
	"github.com/curbz/vfrnav/internal/route"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// wireReply is a Reply as the EFB receives it.
type wireReply struct {
	Type  string          `json:"type"`
	ID    int64           `json:"id"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

var triangle = []navlog.Waypoint{{Lat: 48, Lon: 2}, {Lat: 48.5, Lon: 2}, {Lat: 48.5, Lon: 2.5}}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(Config{}, route.NewPlanner(route.Defaults{}), records.NewRecorder(),
		presets.NewDeviationStore(), presets.NewFuelStore(8))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	hello := read(t, conn)
	require.Equal(t, TypeHello, hello.Type)
	var h struct {
		Session string `json:"session"`
	}
	require.NoError(t, json.Unmarshal(hello.Data, &h))
	require.NotEmpty(t, h.Session)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) wireReply {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var r wireReply
	require.NoError(t, conn.ReadJSON(&r))
	return r
}

// readType skips messages until one of the given type arrives.
func readType(t *testing.T, conn *websocket.Conn, typ string) wireReply {
	t.Helper()
	for {
		if r := read(t, conn); r.Type == typ {
			return r
		}
	}
}

var nextID int64

// call sends a request and waits for its reply, skipping broadcasts.
func call(t *testing.T, conn *websocket.Conn, typ string, data any) wireReply {
	t.Helper()
	nextID++
	id := nextID

	msg := map[string]any{"type": typ, "id": id}
	if data != nil {
		msg["data"] = data
	}
	require.NoError(t, conn.WriteJSON(msg))

	for {
		r := read(t, conn)
		if r.ID == id {
			require.Equal(t, typ, r.Type)
			return r
		}
	}
}

func unmarshal[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func createNav(t *testing.T, conn *websocket.Conn) navReply {
	t.Helper()
	r := call(t, conn, TypeEditNav, map[string]any{"op": OpCreate, "name": "Out", "coords": triangle})
	require.Empty(t, r.Error)
	return unmarshal[navReply](t, r.Data)
}

func TestUnknownAndInvalid(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)

	r := call(t, conn, "fly_me", nil)
	assert.Contains(t, r.Error, "unknown message type")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{nope")))
	r = read(t, conn)
	assert.Equal(t, TypeError, r.Type)
	assert.Equal(t, "invalid JSON", r.Error)

	r = call(t, conn, TypeEditNav, map[string]any{"op": "fold"})
	assert.Contains(t, r.Error, "unknown edit")
}

func TestEditNav(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)
	other := dial(t, ts)

	created := createNav(t, conn)
	assert.Equal(t, "Out", created.Nav.Name)
	require.Len(t, created.Nav.Data.Properties, 2)
	require.Len(t, created.Summary, 2)
	id := created.Nav.Data.ID

	// the other page hears about it
	navs := unmarshal[[]navlog.NamedNav](t, readType(t, other, TypeNavs).Data)
	require.Len(t, navs, 1)

	r := call(t, conn, TypeEditNav, map[string]any{
		"op": OpInsert, "id": id, "index": 1, "waypoint": navlog.Waypoint{Lat: 48.25, Lon: 2},
	})
	require.Empty(t, r.Error)
	edited := unmarshal[navReply](t, r.Data)
	assert.Len(t, edited.Nav.Data.Coords, 4)
	assert.Len(t, edited.Nav.Data.Properties, 3)

	r = call(t, conn, TypeEditNav, map[string]any{
		"op": OpSetLeg, "id": id, "index": 0, "leg": map[string]any{"ias": 110, "altitude": 2500},
	})
	require.Empty(t, r.Error)
	edited = unmarshal[navReply](t, r.Data)
	assert.Equal(t, 110.0, edited.Nav.Data.Properties[0].IAS)

	r = call(t, conn, TypeEditNav, map[string]any{
		"op": OpSchedule, "id": id, "schedule": navlog.Schedule{LoadedFuel: 40, DepartureTime: 600, TaxiTime: 10, TaxiConso: 1},
	})
	require.Empty(t, r.Error)
	edited = unmarshal[navReply](t, r.Data)
	assert.Equal(t, 40.0, edited.Nav.Data.LoadedFuel)
	assert.Equal(t, 0, edited.Summary[0].Index)
	assert.NotEmpty(t, edited.Summary[0].Label[0])

	r = call(t, conn, TypeEditNav, map[string]any{
		"op": OpSchedule, "id": id, "unit": navlog.Liter,
		"schedule": navlog.Schedule{LoadedFuel: 151.41647136, DepartureTime: 600, TaxiTime: 10, TaxiConso: 3.785411784},
	})
	require.Empty(t, r.Error)
	edited = unmarshal[navReply](t, r.Data)
	assert.InDelta(t, 40, edited.Nav.Data.LoadedFuel, 1e-9)
	assert.InDelta(t, 1, edited.Nav.Data.TaxiConso, 1e-9)

	r = call(t, conn, TypeEditNav, map[string]any{
		"op": OpSchedule, "id": id, "unit": "pint", "schedule": navlog.Schedule{LoadedFuel: 1},
	})
	assert.Contains(t, r.Error, "unknown fuel unit")

	legs := []navlog.Leg{navlog.DefaultLeg(), navlog.DefaultLeg(), navlog.DefaultLeg()}
	legs[2].Remark = "descent"
	r = call(t, conn, TypeEditNav, map[string]any{"op": OpSetLegs, "id": id, "legs": legs})
	require.Empty(t, r.Error)
	edited = unmarshal[navReply](t, r.Data)
	assert.Equal(t, 1000.0, edited.Nav.Data.Properties[0].Altitude)
	assert.Contains(t, edited.Summary[2].Label[1], "@descent")

	r = call(t, conn, TypeEditNav, map[string]any{"op": OpSetLegs, "id": id, "legs": legs[:1]})
	assert.Contains(t, r.Error, "leg count")

	r = call(t, conn, TypeEditNav, map[string]any{"op": OpRemoveWaypoint, "id": id, "index": 9})
	assert.Contains(t, r.Error, "out of range")

	r = call(t, conn, TypeEditNav, map[string]any{"op": OpRename, "id": id, "name": "Renamed"})
	require.Empty(t, r.Error)
	assert.Equal(t, "Renamed", unmarshal[navReply](t, r.Data).Nav.Name)

	r = call(t, conn, TypeEditNav, map[string]any{"op": OpDelete, "id": id})
	require.Empty(t, r.Error)
	assert.Empty(t, unmarshal[[]navlog.NamedNav](t, r.Data))

	r = call(t, conn, TypeGetNavs, nil)
	assert.Equal(t, "[]", string(r.Data))
}

func TestComputeLeg(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)

	leg := navlog.DefaultLeg()
	r := call(t, conn, TypeComputeLeg, computeLegRequest{From: triangle[0], To: triangle[1], Leg: leg})
	require.Empty(t, r.Error)
	got := unmarshal[navlog.Leg](t, r.Data)
	assert.InDelta(t, 30, got.Dist, 0.1)
	assert.InDelta(t, 0, got.TC, 1e-6)
	assert.Greater(t, got.GS, 0.0)

	leg.IAS = 0
	r = call(t, conn, TypeComputeLeg, computeLegRequest{From: triangle[0], To: triangle[1], Leg: leg})
	assert.Contains(t, r.Error, "airspeed")

	r = call(t, conn, TypeComputeLeg, nil)
	assert.Contains(t, r.Error, "missing data")
}

func TestDeviationPresets(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)
	createNav(t, conn)

	curve := navlog.DeviationCurve{{X: 0, Y: 2}, {X: 360, Y: 2}}
	r := call(t, conn, TypeSetDeviationCurve, map[string]any{"name": "C172", "date": 10, "curve": curve, "select": true})
	require.Empty(t, r.Error)
	list := unmarshal[presetsReply](t, r.Data)
	require.Len(t, list.Presets, 1)
	assert.Equal(t, "C172", list.Default.Name)

	navs := unmarshal[[]navlog.NamedNav](t, call(t, conn, TypeGetNavs, nil).Data)
	assert.InDelta(t, 2, navs[0].Data.Properties[0].Dev, 1e-9)

	// an older update is answered with the stored version
	r = call(t, conn, TypeSetDeviationCurve, map[string]any{"name": "C172", "date": 5, "curve": navlog.FlatDeviationCurve()})
	assert.Contains(t, r.Error, "newer version")
	stored := unmarshal[presets.Preset[navlog.DeviationCurve]](t, r.Data)
	assert.Equal(t, int64(10), stored.Date)
	assert.Equal(t, curve, stored.Curve)

	r = call(t, conn, TypeDeleteDeviationPreset, map[string]any{"name": "C172", "date": 20})
	require.Empty(t, r.Error)
	list = unmarshal[presetsReply](t, r.Data)
	require.Len(t, list.Presets, 1)
	assert.True(t, list.Presets[0].Remove)
	assert.Equal(t, "", list.Default.Name)

	navs = unmarshal[[]navlog.NamedNav](t, call(t, conn, TypeGetNavs, nil).Data)
	assert.InDelta(t, 0, navs[0].Data.Properties[0].Dev, 1e-9)

	r = call(t, conn, TypeGetDeviationPresets, nil)
	assert.Len(t, unmarshal[presetsReply](t, r.Data).Presets, 1)
}

func TestFuelPresets(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)
	created := createNav(t, conn)
	before := created.Nav.Data.Properties[0].Conso

	r := call(t, conn, TypeSetFuelCurve, map[string]any{"name": "thirsty", "date": 1, "curve": navlog.SimpleFuelCurve(16), "select": true})
	require.Empty(t, r.Error)
	navs := unmarshal[[]navlog.NamedNav](t, call(t, conn, TypeGetNavs, nil).Data)
	assert.InDelta(t, before*2, navs[0].Data.Properties[0].Conso, 1e-9)

	r = call(t, conn, TypeSetFuelCurve, map[string]any{"name": presets.SimpleName, "date": 2, "curve": navlog.SimpleFuelCurve(1)})
	assert.Contains(t, r.Error, "cannot be modified")

	// selecting the built-in preset needs no curve
	r = call(t, conn, TypeSetFuelCurve, map[string]any{"name": presets.SimpleName, "date": 3, "select": true})
	require.Empty(t, r.Error)
	assert.Equal(t, presets.SimpleName, unmarshal[presetsReply](t, r.Data).Default.Name)
	navs = unmarshal[[]navlog.NamedNav](t, call(t, conn, TypeGetNavs, nil).Data)
	assert.InDelta(t, before, navs[0].Data.Properties[0].Conso, 1e-9)

	r = call(t, conn, TypeGetFuelPresets, map[string]any{"name": "thirsty", "oat": 20})
	require.Empty(t, r.Error)
	sets := unmarshal[presetsReply](t, r.Data).Datasets
	require.Len(t, sets, 1)
	require.Len(t, sets[0], 2)
	assert.Equal(t, navlog.DatasetPoint{Alt: 25000, Conso: 16}, sets[0][1])

	// the curve in use, away from its only temperature
	r = call(t, conn, TypeGetFuelPresets, map[string]any{"oat": 5})
	require.Empty(t, r.Error)
	sets = unmarshal[presetsReply](t, r.Data).Datasets
	require.Len(t, sets, 1)
	assert.True(t, sets[0][0].Interpolated)
	assert.Equal(t, 8.0, sets[0][0].Conso)

	r = call(t, conn, TypeGetFuelPresets, nil)
	assert.Empty(t, unmarshal[presetsReply](t, r.Data).Datasets)

	r = call(t, conn, TypeDeleteFuelPreset, map[string]any{"name": "thirsty", "date": 4})
	require.Empty(t, r.Error)
	assert.Equal(t, presets.SimpleName, unmarshal[presetsReply](t, r.Data).Default.Name)
}

func TestExportImport(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dial(t, ts)
	created := createNav(t, conn)

	_, err := s.devs.Set("C172", 1, navlog.DeviationCurve{{X: 0, Y: 1}, {X: 360, Y: -1}})
	require.NoError(t, err)

	r := call(t, conn, TypeExportNav, exportRequest{
		IDs:       []int{created.Nav.Data.ID},
		Names:     map[int]string{created.Nav.Data.ID: "LFPN-LFPZ"},
		Deviation: "C172",
	})
	require.Empty(t, r.Error)
	exp := unmarshal[exportReply](t, r.Data)
	doc, err := navlog.Decode(bytes.NewReader(exp.Document))
	require.NoError(t, err)
	require.Len(t, doc.Navs, 1)
	assert.Equal(t, "LFPN-LFPZ", doc.Navs[0].Name)
	require.NotNil(t, doc.Dev)
	assert.Contains(t, exp.FileName, "LFPN-LFPZ")

	doc.Dev.Name = "Imported"
	r = call(t, conn, TypeImportNav, doc)
	require.Empty(t, r.Error)
	imported := unmarshal[[]navlog.NamedNav](t, r.Data)
	require.Len(t, imported, 1)
	assert.NotEqual(t, created.Nav.Data.ID, imported[0].Data.ID)

	navs := unmarshal[[]navlog.NamedNav](t, call(t, conn, TypeGetNavs, nil).Data)
	assert.Len(t, navs, 2)

	_, err = s.devs.Get("Imported")
	assert.NoError(t, err)

	r = call(t, conn, TypeImportNav, map[string]any{})
	assert.Contains(t, r.Error, "malformed request")

	r = call(t, conn, TypeExportNav, exportRequest{Fuel: "missing"})
	assert.Contains(t, r.Error, "no such preset")
}

func TestExportNothing(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)

	r := call(t, conn, TypeExportNav, nil)
	assert.Contains(t, r.Error, "no nav")
}

func TestSimFeed(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dial(t, ts)

	r := call(t, conn, TypeGetFuel, nil)
	assert.Empty(t, r.Data)

	s.OnFuel(model.Fuel{Tanks: []model.Tank{{Capacity: 20, Quantity: 12}}})
	f := unmarshal[model.Fuel](t, readType(t, conn, TypeFuel).Data)
	assert.Equal(t, 12.0, f.Total())

	r = call(t, conn, TypeGetFuel, nil)
	assert.Equal(t, 12.0, unmarshal[model.Fuel](t, r.Data).Total())

	s.OnConditions(model.Conditions{OAT: 12})
	c := unmarshal[model.Conditions](t, readType(t, conn, TypeConditions).Data)
	assert.Equal(t, 12.0, c.OAT)

	s.OnPlanePos(model.PlanePos{Lat: 48, Lon: 2})
	pos := unmarshal[model.PlanePos](t, readType(t, conn, TypePlanePos).Data)
	assert.Equal(t, 48.0, pos.Lat)

	// a late page is brought up to date after the hello
	late := dial(t, ts)
	c = unmarshal[model.Conditions](t, readType(t, late, TypeConditions).Data)
	assert.Equal(t, 12.0, c.OAT)
	f = unmarshal[model.Fuel](t, readType(t, late, TypeFuel).Data)
	assert.Equal(t, 12.0, f.Total())
}

func TestRecords(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dial(t, ts)

	t0 := time.Date(2024, 5, 4, 9, 30, 0, 0, time.UTC)
	s.OnAircraft(model.Aircraft{ICAO: "DR40"})
	for sec := 0; sec <= 20; sec++ {
		s.OnPlanePos(model.PlanePos{Date: t0.Add(time.Duration(sec) * time.Second), Lat: 48 + float64(sec)/100, Lon: 2, OnGround: sec == 0})
	}
	assert.True(t, unmarshal[recordReply](t, call(t, conn, TypeGetRecords, nil).Data).Recording)
	s.OnPlanePos(model.PlanePos{Date: t0.Add(21 * time.Second), OnGround: true, VerticalSpeed: -240})

	// a landing is announced to every page
	list := unmarshal[[]records.Summary](t, readType(t, conn, TypeRecords).Data)
	require.Len(t, list, 1)
	assert.Equal(t, -240.0, list[0].Touchdown)
	assert.Equal(t, "DR40", list[0].Aircraft.ICAO)
	id := list[0].ID

	r := call(t, conn, TypeGetRecords, recordRequest{ID: id, Positions: true})
	require.Empty(t, r.Error)
	got := unmarshal[recordReply](t, r.Data)
	require.NotNil(t, got.Record)
	assert.Len(t, got.Record.Positions, 21)
	assert.False(t, got.Recording)
	assert.Nil(t, got.Position)

	at := t0.Add(5500 * time.Millisecond)
	r = call(t, conn, TypeGetRecords, recordRequest{ID: id, At: &at})
	require.Empty(t, r.Error)
	got = unmarshal[recordReply](t, r.Data)
	assert.Nil(t, got.Record)
	require.NotNil(t, got.Position)
	assert.InDelta(t, 48.055, got.Position.Lat, 1e-9)

	r = call(t, conn, TypeGetRecords, recordRequest{ID: id + 1, At: &at})
	assert.Contains(t, r.Error, "no such record")

	r = call(t, conn, TypeEditRecord, recordRequest{ID: id, Name: "Circuits", Active: true})
	require.Empty(t, r.Error)
	got = unmarshal[recordReply](t, r.Data)
	assert.Equal(t, "Circuits", got.Records[0].Name)
	assert.True(t, got.Records[0].Active)

	r = call(t, conn, TypeRemoveRecord, recordRequest{ID: id})
	require.Empty(t, r.Error)
	assert.Empty(t, unmarshal[recordReply](t, r.Data).Records)

	r = call(t, conn, TypeRemoveRecord, recordRequest{ID: id})
	assert.Contains(t, r.Error, "no such record")
}

func TestRecorderLimits(t *testing.T) {
	rec := records.NewRecorder()
	New(Config{RecordMinDuration: time.Minute}, route.NewPlanner(route.Defaults{}), rec,
		presets.NewDeviationStore(), presets.NewFuelStore(8))

	t0 := time.Date(2024, 5, 4, 9, 30, 0, 0, time.UTC)
	for sec := 1; sec <= 30; sec++ {
		rec.OnPlanePos(model.PlanePos{Date: t0.Add(time.Duration(sec) * time.Second)})
	}
	rec.OnPlanePos(model.PlanePos{Date: t0.Add(31 * time.Second), OnGround: true})

	// thirty seconds is below the configured minimum
	assert.Empty(t, rec.List())
}

func TestRunStops(t *testing.T) {
	s := New(Config{Listen: "127.0.0.1:0"}, route.NewPlanner(route.Defaults{}), records.NewRecorder(),
		presets.NewDeviationStore(), presets.NewFuelStore(8))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestLoadConfig(t *testing.T) {
	path := t.TempDir() + "/config.yaml"
	yml := "server:\n  records_file: /tmp/records.bin\n  record_interval: 2s\n  max_records: 3\n"
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "/tmp/records.bin", cfg.RecordsFile)
	assert.Equal(t, 2*time.Second, cfg.RecordInterval)
	assert.Zero(t, cfg.RecordMinDuration)
	assert.Equal(t, 3, cfg.MaxRecords)

	_, err = LoadConfig(t.TempDir() + "/missing.yaml")
	assert.Error(t, err)
}
