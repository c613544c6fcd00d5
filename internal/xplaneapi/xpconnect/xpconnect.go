package xpconnect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/curbz/vfrnav/internal/model"
	"github.com/curbz/vfrnav/internal/simdata"
	"github.com/curbz/vfrnav/internal/xplaneapi/xpapimodel"
	"github.com/curbz/vfrnav/pkg/geometry"
	"github.com/curbz/vfrnav/pkg/util"
)

var ErrMissingDatarefs = errors.New("xpconnect: simulator did not resolve every dataref")

// Listener receives decoded simulator state. Calls come from the connection
// reader goroutine, one at a time.
type Listener interface {
	OnPlanePos(pos model.PlanePos)
	OnConditions(c model.Conditions)
	OnFuel(f model.Fuel)
	OnAircraft(ac model.Aircraft)
}

type XPConnect struct {
	config config
	client *http.Client

	conn    *websocket.Conn
	writeMu sync.Mutex

	// dataref ids resolved through the REST API, keyed by id
	memDataRefIndexMap map[int]*xpapimodel.Dataref
	memDataRefs        []xpapimodel.Dataref

	listener        Listener
	aircraft        model.Aircraft
	lastFuel        float64
	simInitTime     time.Time
	sessionInitTime time.Time
}

type XPConnectInterface interface {
	Start(ctx context.Context) error
}

type config struct {
	XPlane struct {
		RestBaseURL  string `yaml:"web_api_http_url"`
		WebSocketURL string `yaml:"web_api_websocket_url"`
	} `yaml:"xplane_api"`
}

func New(cfgPath string, listener Listener) (*XPConnect, error) {
	cfg, err := util.LoadConfig[config](cfgPath)
	if err != nil {
		return nil, fmt.Errorf("error reading configuration file: %w", err)
	}
	return newXPConnect(*cfg, listener), nil
}

func newXPConnect(cfg config, listener Listener) *XPConnect {
	return &XPConnect{
		config:      cfg,
		client:      &http.Client{Timeout: 10 * time.Second},
		listener:    listener,
		memDataRefs: simdata.SubscribeDatarefs,
	}
}

var requestCounter atomic.Int64

// Start resolves the datarefs, subscribes to them and feeds the listener
// until ctx is done or the simulator closes the connection.
func (xpc *XPConnect) Start(ctx context.Context) error {
	log.Info("get sim time from x-plane web api")

	var err error
	xpc.simInitTime, err = xpc.getSimTime(ctx)
	if err != nil {
		// recordings fall back to the wall clock
		log.Warnf("could not get sim time: %v", err)
		xpc.simInitTime = time.Now().UTC()
	}
	xpc.sessionInitTime = time.Now()

	log.Info("get dataref indices from x-plane web api")
	xpc.memDataRefIndexMap, err = xpc.getDataRefIndices(ctx, xpc.memDataRefs)
	if err != nil {
		return fmt.Errorf("failed to retrieve dataref indices: %w", err)
	}
	for id, dr := range xpc.memDataRefIndexMap {
		log.Debugf("  - %-50s -> ID: %d", dr.Name, id)
	}
	if len(xpc.memDataRefIndexMap) != len(xpc.memDataRefs) {
		return fmt.Errorf("%w: got %d of %d", ErrMissingDatarefs, len(xpc.memDataRefIndexMap), len(xpc.memDataRefs))
	}

	log.Info("connecting to x-plane websocket")
	u, err := url.Parse(xpc.config.XPlane.WebSocketURL)
	if err != nil {
		return fmt.Errorf("error parsing websocket url: %w", err)
	}
	xpc.conn, _, err = websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("could not connect to x-plane websocket: %w", err)
	}
	defer xpc.conn.Close()
	log.Info("websocket connection established")

	done := make(chan error, 1)
	go func() {
		for {
			_, message, err := xpc.conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					done <- nil
					return
				}
				done <- err
				return
			}
			xpc.processMessage(message)
		}
	}()

	if err := xpc.sendDatarefSubscription(); err != nil {
		return err
	}

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("x-plane websocket read: %w", err)
		}
		log.Info("x-plane closed the connection")
		return nil
	case <-ctx.Done():
	}

	log.Info("disconnecting from x-plane")
	xpc.writeMu.Lock()
	err = xpc.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	xpc.writeMu.Unlock()
	if err == nil {
		// wait for the close echo, bounded
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	}
	return nil
}

// SimTime is the current simulator zulu time.
func (xpc *XPConnect) SimTime() time.Time {
	return xpc.simInitTime.Add(time.Since(xpc.sessionInitTime))
}

func (xpc *XPConnect) getSimTime(ctx context.Context) (time.Time, error) {
	indexMap, err := xpc.getDataRefIndices(ctx, simdata.SimTimeDatarefs)
	if err != nil {
		return time.Time{}, fmt.Errorf("error retrieving sim time dataref indices: %w", err)
	}
	if len(indexMap) != len(simdata.SimTimeDatarefs) {
		return time.Time{}, fmt.Errorf("%w: sim time", ErrMissingDatarefs)
	}

	var simTime simdata.XPlaneTime
	for id, dr := range indexMap {
		value, err := xpc.webGetDataRefValue(ctx, id)
		if err != nil {
			return time.Time{}, fmt.Errorf("error retrieving sim time dataref %s value: %w", dr.Name, err)
		}
		f, ok := value.(float64)
		if !ok {
			return time.Time{}, fmt.Errorf("sim time dataref %s: unexpected value %v", dr.Name, value)
		}

		switch dr.Name {
		case simdata.LocalDateDays:
			simTime.LocalDateDays = int(f)
		case simdata.LocalTimeSecs:
			simTime.LocalTimeSecs = f
		case simdata.ZuluTimeSecs:
			simTime.ZuluTimeSecs = f
		}
	}

	zulu := simTime.ZuluDateTime(time.Now().Year())
	log.Infof("sim zulu time: %s", zulu.Format("2006-01-02 15:04:05"))
	return zulu, nil
}

// getDataRefIndices fetches the integer indices for the named datarefs.
func (xpc *XPConnect) getDataRefIndices(ctx context.Context, drefs []xpapimodel.Dataref) (map[int]*xpapimodel.Dataref, error) {
	fullURL, err := buildURLWithFilters(xpc.config.XPlane.RestBaseURL+"/datarefs", drefs)
	if err != nil {
		return nil, err
	}

	var response xpapimodel.APIResponseDatarefs
	if err := xpc.webGet(ctx, fullURL, &response); err != nil {
		return nil, err
	}

	m := make(map[int]*xpapimodel.Dataref)
	for _, info := range response.Data {
		for _, dr := range drefs {
			if dr.Name == info.Name {
				m[info.ID] = &xpapimodel.Dataref{
					Name:            dr.Name,
					APIInfo:         info,
					DecodedDataType: dr.DecodedDataType,
				}
				break
			}
		}
	}
	return m, nil
}

func (xpc *XPConnect) webGetDataRefValue(ctx context.Context, id int) (any, error) {
	var response xpapimodel.APIResponseDatarefValue
	if err := xpc.webGet(ctx, fmt.Sprintf("%s/datarefs/%d/value", xpc.config.XPlane.RestBaseURL, id), &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

func (xpc *XPConnect) webGet(ctx context.Context, fullURL string, out any) error {
	log.Debugf("querying web api: %s", fullURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := xpc.client.Do(req)
	if err != nil {
		return fmt.Errorf("error performing HTTP GET to %s: %w", fullURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("received non-OK status code %d from X-Plane REST API. Response: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response body: %w", err)
	}
	return nil
}

func (xpc *XPConnect) sendDatarefSubscription() error {
	reqID := requestCounter.Add(1)

	paramDatarefs := make([]xpapimodel.SubDataref, 0, len(xpc.memDataRefIndexMap))
	for id := range xpc.memDataRefIndexMap {
		paramDatarefs = append(paramDatarefs, xpapimodel.SubDataref{Id: id})
	}

	request := xpapimodel.DatarefSubscriptionRequest{
		RequestID: reqID,
		Type:      xpapimodel.TypeSubscribe,
		Params:    xpapimodel.ParamDatarefs{Datarefs: paramDatarefs},
	}

	xpc.writeMu.Lock()
	defer xpc.writeMu.Unlock()
	if err := util.SendJSON(xpc.conn, request); err != nil {
		return fmt.Errorf("error sending subscription: %w", err)
	}
	log.Debugf("-> sent request ID %d: subscribing to %d datarefs", reqID, len(paramDatarefs))
	return nil
}

// --- Message Processing ---

func (xpc *XPConnect) processMessage(message []byte) {
	var response xpapimodel.SubscriptionResponse
	if err := json.Unmarshal(message, &response); err != nil {
		log.Warnf("error unmarshaling top-level response: %v. Raw: %s", err, string(message))
		return
	}

	switch response.Type {
	case xpapimodel.TypeUpdate:
		xpc.handleSubscribedDatarefUpdate(response.Data)
	case xpapimodel.TypeResult:
		if response.Success {
			log.Debugf("<- received response ID %d: success", response.RequestID)
		} else {
			log.Warnf("<- received response ID %d: failure %s %s", response.RequestID, response.ErrorCode, response.ErrorMessage)
		}
	default:
		log.Debugf("[UNKNOWN] req ID %d, type: %s, payload: %s", response.RequestID, response.Type, string(message))
	}
}

func (xpc *XPConnect) handleSubscribedDatarefUpdate(datarefs map[string]any) {
	for id, value := range datarefs {
		idInt, err := strconv.Atoi(id)
		if err != nil {
			log.Warnf("error converting dataref ID %s to int: %v", id, err)
			continue
		}
		if err := xpc.updateMemDatarefValueInMap(idInt, value); err != nil {
			log.Warnf("error updating dataref ID %d value: %v", idInt, err)
		}
	}

	if xpc.listener == nil {
		return
	}
	xpc.updateAircraft()
	xpc.updatePlanePos()
	xpc.updateConditions()
	xpc.updateFuel()
}

func (xpc *XPConnect) updateMemDatarefValueInMap(id int, value any) error {
	dr, exists := xpc.memDataRefIndexMap[id]
	if !exists {
		return fmt.Errorf("unable to update dataref id %d - not found in map", id)
	}
	return updateMemDatarefValue(dr, value)
}

func updateMemDatarefValue(dr *xpapimodel.Dataref, value any) error {
	switch dr.DecodedDataType {
	case simdata.Base64StringArray:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("dataref %s: expected base64 string, got %T", dr.Name, value)
		}
		decoded, err := util.DecodeNullTerminatedString(s)
		if err != nil {
			return fmt.Errorf("dataref %s: %w", dr.Name, err)
		}
		dr.Value = decoded
	case simdata.FloatArray, simdata.IntArray:
		raw, ok := value.([]any)
		if !ok {
			return fmt.Errorf("dataref %s: expected array, got %T", dr.Name, value)
		}
		floats := make([]float64, len(raw))
		for i, elem := range raw {
			f, ok := elem.(float64)
			if !ok {
				return fmt.Errorf("dataref %s: element %d is %T", dr.Name, i, elem)
			}
			floats[i] = f
		}
		if dr.DecodedDataType == simdata.IntArray {
			ints := make([]int, len(floats))
			for i, f := range floats {
				ints[i] = int(f)
			}
			dr.Value = ints
		} else {
			dr.Value = floats
		}
	default:
		dr.Value = value
	}
	return nil
}

func (xpc *XPConnect) updatePlanePos() {
	lat, errLat := xpc.getFloat(simdata.Latitude)
	lon, errLon := xpc.getFloat(simdata.Longitude)
	elev, errElev := xpc.getFloat(simdata.Elevation)
	hdg, errHdg := xpc.getFloat(simdata.TrueHeading)
	gs, errGS := xpc.getFloat(simdata.GroundSpeed)
	vs, errVS := xpc.getFloat(simdata.VerticalSpeed)
	ground, errGround := xpc.getFloat(simdata.OnGround)
	if err := errors.Join(errLat, errLon, errElev, errHdg, errGS, errVS, errGround); err != nil {
		log.Debugf("plane position not complete yet: %v", err)
		return
	}

	xpc.listener.OnPlanePos(model.PlanePos{
		Date:          xpc.SimTime(),
		Lat:           lat,
		Lon:           lon,
		Altitude:      elev * simdata.MetresToFeet,
		Heading:       geometry.NormalizeHeading(hdg),
		GroundSpeed:   gs * simdata.MpsToKnots,
		VerticalSpeed: vs,
		OnGround:      ground != 0,
	})
}

func (xpc *XPConnect) updateConditions() {
	windMag, errDir := xpc.getFloat(simdata.WindDirection)
	windSpeed, errSpeed := xpc.getFloat(simdata.WindSpeed)
	oat, errOAT := xpc.getFloat(simdata.OAT)
	variation, errVar := xpc.getFloat(simdata.MagVar)
	if err := errors.Join(errDir, errSpeed, errOAT, errVar); err != nil {
		log.Debugf("conditions not complete yet: %v", err)
		return
	}

	var c model.Conditions
	// the sim reports east variation positive, legs take it west positive
	c.Wind.Direction = geometry.NormalizeHeading(windMag + variation)
	c.Wind.Speed = windSpeed
	c.OAT = oat
	c.MagVar = -variation
	xpc.listener.OnConditions(c)
}

func (xpc *XPConnect) updateFuel() {
	tanks, errTanks := xpc.getFloats(simdata.TankFuel)
	ratios, errRatios := xpc.getFloats(simdata.TankRatio)
	capacity, errCap := xpc.getFloat(simdata.FuelCapacity)
	if err := errors.Join(errTanks, errRatios, errCap); err != nil {
		log.Debugf("fuel not complete yet: %v", err)
		return
	}

	fuel := model.Fuel{Date: xpc.SimTime()}
	var total float64
	for i, ratio := range ratios {
		if ratio <= 0 {
			continue
		}
		var qty float64
		if i < len(tanks) {
			qty = tanks[i] / simdata.KgPerUSGallon
		}
		fuel.Tanks = append(fuel.Tanks, model.Tank{
			Capacity: capacity * ratio / simdata.KgPerUSGallon,
			Quantity: qty,
		})
		total += qty
	}

	// only report a tenth of a gallon change or more
	if len(fuel.Tanks) == 0 || (xpc.lastFuel != 0 && math.Abs(total-xpc.lastFuel) < 0.1) {
		return
	}
	xpc.lastFuel = total
	xpc.listener.OnFuel(fuel)
}

func (xpc *XPConnect) updateAircraft() {
	icao, err := xpc.getString(simdata.AircraftICAO)
	if err != nil {
		return
	}
	tail, _ := xpc.getString(simdata.TailNumber)

	ac := model.Aircraft{ICAO: icao, Tail: tail}
	if ac == xpc.aircraft {
		return
	}
	xpc.aircraft = ac
	xpc.lastFuel = 0
	log.Infof("user aircraft: %s %s", icao, tail)
	xpc.listener.OnAircraft(ac)
}

// getMemDataRefValue retrieves the last value of a dataref by name.
func (xpc *XPConnect) getMemDataRefValue(name string) (any, error) {
	for _, dr := range xpc.memDataRefIndexMap {
		if dr.Name == name {
			if dr.Value == nil {
				return nil, fmt.Errorf("dataref %s has no value yet", name)
			}
			return dr.Value, nil
		}
	}
	return nil, fmt.Errorf("dataref %s not found in map", name)
}

func (xpc *XPConnect) getFloat(name string) (float64, error) {
	v, err := xpc.getMemDataRefValue(name)
	if err != nil {
		return 0, err
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("dataref %s is %T, not a number", name, v)
	}
	return f, nil
}

func (xpc *XPConnect) getFloats(name string) ([]float64, error) {
	v, err := xpc.getMemDataRefValue(name)
	if err != nil {
		return nil, err
	}
	f, ok := v.([]float64)
	if !ok {
		return nil, fmt.Errorf("dataref %s is %T, not a float array", name, v)
	}
	return f, nil
}

func (xpc *XPConnect) getString(name string) (string, error) {
	v, err := xpc.getMemDataRefValue(name)
	if err != nil {
		return "", err
	}
	s, ok := v.([]string)
	if !ok || len(s) == 0 {
		return "", fmt.Errorf("dataref %s holds no string", name)
	}
	return s[0], nil
}

// --- Helper functions ---

// buildURLWithFilters constructs the complete URL with filter[name]=... parameters.
func buildURLWithFilters(urlStr string, drefs []xpapimodel.Dataref) (string, error) {
	u, err := url.Parse(urlStr)
	if err != nil {
		return "", fmt.Errorf("error parsing base URL: %w", err)
	}

	q := u.Query()
	for _, dataref := range drefs {
		q.Add("filter[name]", dataref.Name)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
