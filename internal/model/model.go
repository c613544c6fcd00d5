package model

import "time"

// PlanePos is one position report of the user aircraft.
type PlanePos struct {
	Date          time.Time `json:"date" msgpack:"t"`
	Lat           float64   `json:"lat" msgpack:"la"`
	Lon           float64   `json:"lon" msgpack:"lo"`
	Altitude      float64   `json:"altitude" msgpack:"al"` // ft MSL
	Heading       float64   `json:"heading" msgpack:"h"`   // true
	GroundSpeed   float64   `json:"groundSpeed" msgpack:"gs"`
	VerticalSpeed float64   `json:"verticalSpeed" msgpack:"vs"` // ft/min
	OnGround      bool      `json:"ground" msgpack:"g"`
}

// Conditions are the ambient values a leg is planned with.
type Conditions struct {
	Wind struct {
		Direction float64 `json:"direction"` // from, true
		Speed     float64 `json:"speed"`     // kt
	} `json:"wind"`
	OAT    float64 `json:"oat"`    // °C
	MagVar float64 `json:"magVar"` // west positive
}

// Tank
type Tank struct {
	Capacity float64 `json:"capacity"` // US gal
	Quantity float64 `json:"quantity"` // US gal
}

// Fuel
type Fuel struct {
	Date  time.Time `json:"date"`
	Tanks []Tank    `json:"tanks"`
}

func (f Fuel) Total() float64 {
	var total float64
	for _, t := range f.Tanks {
		total += t.Quantity
	}
	return total
}

// Aircraft
type Aircraft struct {
	ICAO string `json:"icao"`
	Tail string `json:"tail"`
}
