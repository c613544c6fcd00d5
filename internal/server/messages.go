package server

import (
	"encoding/json"
	"time"

	"github.com/curbz/vfrnav/internal/model"
	"github.com/curbz/vfrnav/internal/navlog"
	"github.com/curbz/vfrnav/internal/presets"
	"github.com/curbz/vfrnav/internal/records"
)

// Request types sent by the EFB.
const (
	TypeGetNavs               = "get_navs"
	TypeComputeLeg            = "compute_leg"
	TypeEditNav               = "edit_nav"
	TypeExportNav             = "export_nav"
	TypeImportNav             = "import_nav"
	TypeGetFuel               = "get_fuel"
	TypeGetRecords            = "get_records"
	TypeEditRecord            = "edit_record"
	TypeRemoveRecord          = "remove_record"
	TypeGetDeviationPresets   = "get_deviation_presets"
	TypeSetDeviationCurve     = "set_deviation_curve"
	TypeDeleteDeviationPreset = "delete_deviation_preset"
	TypeGetFuelPresets        = "get_fuel_presets"
	TypeSetFuelCurve          = "set_fuel_curve"
	TypeDeleteFuelPreset      = "delete_fuel_preset"
)

// Types only sent by the server.
const (
	TypeHello      = "hello"
	TypeError      = "error"
	TypeNavs       = "navs"
	TypePlanePos   = "plane_pos"
	TypeConditions = "conditions"
	TypeFuel       = "fuel"
	TypeRecords    = "records"
)

// Edit operations of an edit_nav request.
const (
	OpCreate         = "create"
	OpDelete         = "delete"
	OpRename         = "rename"
	OpActive         = "active"
	OpReorder        = "reorder"
	OpInsert         = "insert"
	OpMove           = "move"
	OpRemoveWaypoint = "remove_waypoint"
	OpReconcile      = "reconcile"
	OpSetLeg         = "set_leg"
	OpSetLegs        = "set_legs"
	OpToggleLeg      = "toggle_leg"
	OpSchedule       = "schedule"
	OpNames          = "names"
)

// Message is a request from the EFB. ID is echoed in the reply.
type Message struct {
	Type string          `json:"type"`
	ID   int64           `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Reply answers a Message, or notifies every client when ID is zero.
type Reply struct {
	Type  string `json:"type"`
	ID    int64  `json:"id,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

type hello struct {
	Session string `json:"session"`
}

type computeLegRequest struct {
	From navlog.Waypoint `json:"from"`
	To   navlog.Waypoint `json:"to"`
	Leg  navlog.Leg      `json:"leg"`
}

type editNavRequest struct {
	Op        string            `json:"op"`
	ID        int               `json:"id"`
	Index     int               `json:"index"`
	Name      string            `json:"name"`
	ShortName string            `json:"shortName"`
	Active    bool              `json:"active"`
	Waypoint  navlog.Waypoint   `json:"waypoint"`
	Coords    []navlog.Waypoint `json:"coords"`
	Leg       *navlog.Leg       `json:"leg"`
	Legs      []navlog.Leg      `json:"legs"`
	Names     []string          `json:"names"`
	Schedule  *navlog.Schedule  `json:"schedule"`
	Order     []int             `json:"order"`
	// Unit of the schedule fuel figures, gallons when empty.
	Unit navlog.FuelUnit `json:"unit"`
}

// navReply carries one nav and its nav-log.
type navReply struct {
	Nav     navlog.NamedNav     `json:"nav"`
	Summary []navlog.LegSummary `json:"summary"`
}

type exportRequest struct {
	IDs       []int          `json:"ids"`
	Names     map[int]string `json:"names"`
	Deviation string         `json:"deviation"`
	Fuel      string         `json:"fuel"`
}

type exportReply struct {
	FileName string          `json:"fileName"`
	Document json.RawMessage `json:"document"`
}

type recordRequest struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
	// Positions asks get_records for the positions of record ID.
	Positions bool `json:"positions"`
	// At asks get_records where the aircraft of record ID was at that time.
	At *time.Time `json:"at,omitempty"`
}

type recordReply struct {
	Record    *records.Record   `json:"record,omitempty"`
	Position  *model.PlanePos   `json:"position,omitempty"`
	Records   []records.Summary `json:"records"`
	Recording bool              `json:"recording"`
}

type presetRequest[C any] struct {
	Name  string `json:"name"`
	Date  int64  `json:"date"`
	Curve C      `json:"curve"`
	// Select makes the preset the default and applies it to every nav.
	Select bool `json:"select"`
}

type presetsReply struct {
	Presets []presets.Entry `json:"presets"`
	Default presets.Entry   `json:"default"`
	// Datasets is the fuel curve collapsed at the requested OAT, one
	// slice per thrust setting.
	Datasets [][]navlog.DatasetPoint `json:"datasets,omitempty"`
}

// fuelPresetsRequest asks get_fuel_presets for the datasets of preset Name,
// or of the curve in use when Name is empty.
type fuelPresetsRequest struct {
	Name string   `json:"name"`
	OAT  *float64 `json:"oat"`
}
