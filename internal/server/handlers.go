package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/curbz/vfrnav/internal/navlog"
	"github.com/curbz/vfrnav/internal/presets"
	"github.com/curbz/vfrnav/internal/route"
)

var (
	ErrUnknownType = errors.New("server: unknown message type")
	ErrBadRequest  = errors.New("server: malformed request")
)

// dispatch answers one request. The notices go to every other client.
func (s *Server) dispatch(msg Message) (Reply, []Reply) {
	var (
		data    any
		notices []Reply
		err     error
	)

	switch msg.Type {
	case TypeGetNavs:
		data = s.navs()

	case TypeComputeLeg:
		data, err = s.computeLeg(msg.Data)

	case TypeEditNav:
		data, err = s.editNav(msg.Data)
		if data != nil {
			notices = append(notices, Reply{Type: TypeNavs, Data: s.navs()})
		}

	case TypeExportNav:
		data, err = s.exportNav(msg.Data)

	case TypeImportNav:
		data, err = s.importNav(msg.Data)
		if data != nil {
			notices = append(notices, s.presetNotices()...)
			notices = append(notices, Reply{Type: TypeNavs, Data: s.navs()})
		}

	case TypeGetFuel:
		s.mu.Lock()
		if s.fuel != nil {
			data = *s.fuel
		}
		s.mu.Unlock()

	case TypeGetRecords:
		data, err = s.getRecords(msg.Data)

	case TypeEditRecord, TypeRemoveRecord:
		data, err = s.changeRecord(msg.Type, msg.Data)
		if err == nil {
			notices = append(notices, Reply{Type: TypeRecords, Data: s.recorder.List()})
		}

	case TypeGetDeviationPresets:
		data = presetsReply{Presets: s.devs.List(), Default: s.devs.Default()}

	case TypeGetFuelPresets:
		data, err = s.fuelPresets(msg.Data)

	case TypeSetDeviationCurve, TypeDeleteDeviationPreset, TypeSetFuelCurve, TypeDeleteFuelPreset:
		var changed bool
		data, changed, err = s.changePreset(msg.Type, msg.Data)
		if changed {
			notices = append(notices, s.presetNotices()...)
			notices = append(notices, Reply{Type: TypeNavs, Data: s.navs()})
		}

	default:
		err = fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}

	reply := Reply{Type: msg.Type, ID: msg.ID, Data: data}
	if err != nil {
		log.Warnf("server: %s: %v", msg.Type, err)
		reply.Error = err.Error()
	}
	return reply, notices
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing data", ErrBadRequest)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

func (s *Server) navs() []navlog.NamedNav {
	doc, _ := s.planner.Export(nil, nil)
	if doc.Navs == nil {
		return []navlog.NamedNav{}
	}
	return doc.Navs
}

func (s *Server) computeLeg(raw json.RawMessage) (any, error) {
	var req computeLegRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	dev, fuel := s.planner.Curves()
	leg, err := navlog.Solve(req.From, req.To, req.Leg, dev, fuel)
	return leg, err
}

// editNav applies one edit. A nav is returned even when a leg failed to
// solve, the error travels alongside.
func (s *Server) editNav(raw json.RawMessage) (any, error) {
	var req editNavRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}

	var (
		r   route.Route
		err error
	)
	switch req.Op {
	case OpCreate:
		r, err = s.planner.Create(req.Name, req.Coords)
	case OpDelete:
		if err := s.planner.Remove(req.ID); err != nil {
			return nil, err
		}
		return s.navs(), nil
	case OpReorder:
		if err := s.planner.Reorder(req.Order); err != nil {
			return nil, err
		}
		return s.navs(), nil
	case OpRename:
		if err := s.planner.Rename(req.ID, req.Name, req.ShortName); err != nil {
			return nil, err
		}
		r, err = s.planner.Get(req.ID)
	case OpActive:
		if err := s.planner.SetActive(req.ID, req.Active); err != nil {
			return nil, err
		}
		r, err = s.planner.Get(req.ID)
	case OpInsert:
		r, err = s.planner.InsertWaypoint(req.ID, req.Index, req.Waypoint)
	case OpMove:
		r, err = s.planner.MoveWaypoint(req.ID, req.Index, req.Waypoint)
	case OpRemoveWaypoint:
		r, err = s.planner.RemoveWaypoint(req.ID, req.Index)
	case OpReconcile:
		r, err = s.planner.Reconcile(req.ID, req.Coords)
	case OpSetLeg:
		if req.Leg == nil {
			return nil, fmt.Errorf("%w: set_leg without leg", ErrBadRequest)
		}
		r, err = s.planner.SetLeg(req.ID, req.Index, *req.Leg)
	case OpSetLegs:
		r, err = s.planner.SetLegs(req.ID, req.Legs)
	case OpToggleLeg:
		r, err = s.planner.ToggleLeg(req.ID, req.Index)
	case OpSchedule:
		if req.Schedule == nil {
			return nil, fmt.Errorf("%w: schedule without values", ErrBadRequest)
		}
		sched := *req.Schedule
		switch req.Unit {
		case "", navlog.Gallon:
		case navlog.Liter:
			sched.LoadedFuel = req.Unit.ToGallons(sched.LoadedFuel)
			sched.TaxiConso = req.Unit.ToGallons(sched.TaxiConso)
		default:
			return nil, fmt.Errorf("%w: unknown fuel unit %q", ErrBadRequest, req.Unit)
		}
		r, err = s.planner.SetSchedule(req.ID, sched)
	case OpNames:
		r, err = s.planner.SetWaypointNames(req.ID, req.Names)
	default:
		return nil, fmt.Errorf("%w: unknown edit %q", ErrBadRequest, req.Op)
	}

	if r.ID == 0 {
		return nil, err
	}
	return navReply{Nav: r.Nav(), Summary: r.Summary()}, err
}

func (s *Server) exportNav(raw json.RawMessage) (any, error) {
	var req exportRequest
	if len(raw) > 0 {
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
	}

	doc, err := s.planner.Export(req.IDs, req.Names)
	if err != nil {
		return nil, err
	}
	if req.Deviation != "" {
		p, err := s.devs.Get(req.Deviation)
		if err != nil {
			return nil, err
		}
		doc.Dev = &navlog.NamedDeviation{Name: p.Name, Data: p.Curve}
	}
	if req.Fuel != "" {
		p, err := s.fuels.Get(req.Fuel)
		if err != nil {
			return nil, err
		}
		doc.Fuel = &navlog.NamedFuel{Name: p.Name, Data: p.Curve}
	}

	var buf bytes.Buffer
	if err := doc.Encode(&buf); err != nil {
		return nil, err
	}
	return exportReply{FileName: doc.FileName(), Document: buf.Bytes()}, nil
}

// importNav adds the navs of a nav-log document and stores the curves it
// carries as presets.
func (s *Server) importNav(raw json.RawMessage) (any, error) {
	doc, err := navlog.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	var errs []error
	now := time.Now().UnixMilli()
	if doc.Dev != nil {
		if _, err := s.devs.Set(doc.Dev.Name, now, doc.Dev.Data); err != nil {
			errs = append(errs, err)
		}
	}
	if doc.Fuel != nil {
		if _, err := s.fuels.Set(doc.Fuel.Name, now, doc.Fuel.Data); err != nil {
			errs = append(errs, err)
		}
	}

	routes, err := s.planner.Import(doc.Navs)
	if err != nil {
		errs = append(errs, err)
	}
	out := make([]navlog.NamedNav, 0, len(routes))
	for _, r := range routes {
		out = append(out, r.Nav())
	}
	return out, errors.Join(errs...)
}

func (s *Server) getRecords(raw json.RawMessage) (any, error) {
	var req recordRequest
	if len(raw) > 0 {
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
	}

	reply := recordReply{Records: s.recorder.List(), Recording: s.recorder.Flying()}
	if !req.Positions && req.At == nil {
		return reply, nil
	}

	rec, err := s.recorder.Get(req.ID)
	if err != nil {
		return nil, err
	}
	if req.Positions {
		reply.Record = &rec
	}
	if req.At != nil {
		pos, err := rec.At(*req.At)
		if err != nil {
			return nil, err
		}
		reply.Position = &pos
	}
	return reply, nil
}

func (s *Server) changeRecord(typ string, raw json.RawMessage) (any, error) {
	var req recordRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}

	var err error
	if typ == TypeRemoveRecord {
		err = s.recorder.Remove(req.ID)
	} else {
		err = s.recorder.Edit(req.ID, req.Name, req.Active)
	}
	if err != nil {
		return nil, err
	}

	if s.cfg.RecordsFile != "" {
		if err := s.recorder.SaveFile(s.cfg.RecordsFile); err != nil {
			log.Errorf("server: saving records: %v", err)
		}
	}
	return recordReply{Records: s.recorder.List()}, nil
}

func (s *Server) changePreset(typ string, raw json.RawMessage) (any, bool, error) {
	switch typ {
	case TypeSetDeviationCurve:
		return setPreset(s.devs, raw, s.planner.SetDeviation)
	case TypeDeleteDeviationPreset:
		return deletePreset(s.devs, raw, func() error {
			return s.planner.SetDeviation(navlog.FlatDeviationCurve())
		})
	case TypeSetFuelCurve:
		return setPreset(s.fuels, raw, s.planner.SetFuel)
	default:
		return deletePreset(s.fuels, raw, func() error {
			p, err := s.fuels.Get(presets.SimpleName)
			if err != nil {
				return err
			}
			return s.planner.SetFuel(p.Curve)
		})
	}
}

func (s *Server) fuelPresets(raw json.RawMessage) (any, error) {
	var req fuelPresetsRequest
	if len(raw) > 0 {
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
	}

	reply := presetsReply{Presets: s.fuels.List(), Default: s.fuels.Default()}
	if req.OAT == nil {
		return reply, nil
	}

	var curve navlog.FuelCurve
	if req.Name == "" {
		_, curve = s.planner.Curves()
	} else {
		p, err := s.fuels.Get(req.Name)
		if err != nil {
			return nil, err
		}
		curve = p.Curve
	}
	reply.Datasets = curve.Datasets(*req.OAT)
	return reply, nil
}

func (s *Server) presetNotices() []Reply {
	return []Reply{
		{Type: TypeGetDeviationPresets, Data: presetsReply{Presets: s.devs.List(), Default: s.devs.Default()}},
		{Type: TypeGetFuelPresets, Data: presetsReply{Presets: s.fuels.List(), Default: s.fuels.Default()}},
	}
}

// setPreset stores a curve and, when asked, selects it for every nav. An
// update older than the stored version is answered with the stored one.
func setPreset[C ~[]E, E any](st *presets.Store[C], raw json.RawMessage, apply func(C) error) (any, bool, error) {
	var req presetRequest[C]
	if err := decode(raw, &req); err != nil {
		return nil, false, err
	}

	changed := false
	if len(req.Curve) > 0 {
		ok, err := st.Set(req.Name, req.Date, req.Curve)
		if errors.Is(err, presets.ErrStalePreset) {
			stored, _ := st.Stored(req.Name)
			return stored, false, err
		} else if err != nil {
			return nil, false, err
		}
		changed = ok
	}

	if req.Select {
		p, err := st.Get(req.Name)
		if err != nil {
			return nil, changed, err
		}
		if st.SetDefault(req.Name, req.Date) {
			if err := apply(p.Curve); err != nil {
				return nil, changed, err
			}
			changed = true
		}
	}
	return presetsReply{Presets: st.List(), Default: st.Default()}, changed, nil
}

// deletePreset removes a preset. Deleting the selected one falls back to
// the built-in curve.
func deletePreset[C ~[]E, E any](st *presets.Store[C], raw json.RawMessage, reset func() error) (any, bool, error) {
	var req presetRequest[C]
	if err := decode(raw, &req); err != nil {
		return nil, false, err
	}

	changed, err := st.Delete(req.Name, req.Date)
	if errors.Is(err, presets.ErrStalePreset) {
		stored, _ := st.Stored(req.Name)
		return stored, false, err
	} else if err != nil {
		return nil, false, err
	}

	if changed && st.Default().Name == req.Name {
		if err := reset(); err != nil {
			return nil, changed, err
		}
		st.SetDefault("", req.Date)
	}
	return presetsReply{Presets: st.List(), Default: st.Default()}, changed, nil
}
