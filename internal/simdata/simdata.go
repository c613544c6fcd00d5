package simdata

import (
	"time"

	"github.com/curbz/vfrnav/internal/xplaneapi/xpapimodel"
)

// Dataref names read from the simulator.
const (
	Latitude      = "sim/flightmodel/position/latitude"
	Longitude     = "sim/flightmodel/position/longitude"
	Elevation     = "sim/flightmodel/position/elevation" // m MSL
	TrueHeading   = "sim/flightmodel/position/psi"
	GroundSpeed   = "sim/flightmodel/position/groundspeed" // m/s
	VerticalSpeed = "sim/flightmodel/position/vh_ind_fpm"
	OnGround      = "sim/flightmodel/failures/onground_any"

	WindDirection = "sim/cockpit2/gauges/indicators/wind_heading_deg_mag"
	WindSpeed     = "sim/cockpit2/gauges/indicators/wind_speed_kts"
	OAT           = "sim/cockpit2/temperature/outside_air_temp_degc"
	MagVar        = "sim/flightmodel/position/magnetic_variation" // east positive

	TankFuel     = "sim/flightmodel/weight/m_fuel" // kg per tank
	TankRatio    = "sim/aircraft/overflow/acf_tank_rat"
	FuelCapacity = "sim/aircraft/weight/acf_m_fuel_tot" // kg

	AircraftICAO = "sim/aircraft/view/acf_ICAO"
	TailNumber   = "sim/aircraft/view/acf_tailnum"

	LocalDateDays = "sim/time/local_date_days"
	LocalTimeSecs = "sim/time/local_time_sec"
	ZuluTimeSecs  = "sim/time/zulu_time_sec"
)

// Decoded value types.
const (
	FloatArray        = "float_array"
	IntArray          = "int_array"
	Base64StringArray = "base64_string_array"
)

const (
	MetresToFeet  = 3.28084
	MpsToKnots    = 1.943844
	KgPerUSGallon = 2.72 // avgas at 0.72 kg/l
)

var SubscribeDatarefs = []xpapimodel.Dataref{
	//user position
	{Name: Latitude},
	{Name: Longitude},
	{Name: Elevation},
	{Name: TrueHeading},
	{Name: GroundSpeed},
	{Name: VerticalSpeed},
	{Name: OnGround},

	//weather at the aircraft
	{Name: WindDirection},
	{Name: WindSpeed},
	{Name: OAT},
	{Name: MagVar},

	//fuel
	{Name: TankFuel, DecodedDataType: FloatArray},  // [45.2, 45.1, 0, 0, 0, 0, 0, 0, 0]
	{Name: TankRatio, DecodedDataType: FloatArray}, // [0.5, 0.5, 0, 0, 0, 0, 0, 0, 0]
	{Name: FuelCapacity},

	//aircraft identity, zero terminated byte arrays
	{Name: AircraftICAO, DecodedDataType: Base64StringArray}, // "QzE3MgAAAAA=" decodes to C172
	{Name: TailNumber, DecodedDataType: Base64StringArray},
}

var SimTimeDatarefs = []xpapimodel.Dataref{
	{Name: LocalDateDays},
	{Name: LocalTimeSecs},
	{Name: ZuluTimeSecs},
}

// XPlaneTime represents the raw values pulled from X-Plane Datarefs
type XPlaneTime struct {
	LocalDateDays int     // sim/time/local_date_days (0-indexed)
	LocalTimeSecs float64 // sim/time/local_time_sec
	ZuluTimeSecs  float64 // sim/time/zulu_time_sec
}

// ZuluDateTime converts the sim time datarefs into a UTC time. X-Plane has
// no year, the given one is used.
func (xp XPlaneTime) ZuluDateTime(year int) time.Time {
	localDate := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, xp.LocalDateDays)

	localFull := localDate.Add(time.Duration(xp.LocalTimeSecs * float64(time.Second)))

	// local - zulu offset, folded across midnight
	diff := xp.LocalTimeSecs - xp.ZuluTimeSecs
	if diff > 43200 {
		diff -= 86400
	} else if diff < -43200 {
		diff += 86400
	}

	return localFull.Add(time.Duration(-diff * float64(time.Second)))
}
