// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

package acserver

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/acwrapper/internal/identity"
)

const (
	logKeep     = 100
	logTruncate = 110
)

// State is a point-in-time copy of what the wrapped server's output has
// told us so far.
type State struct {
	HTTPPort      int
	SessionType   int
	Grip          float64
	GripTransfer  float64
	AmbientTemp   float64
	RoadTemp      float64
	WeatherID     string
	WindSpeed     float64
	WindDirection float64

	// SlotIdentity and SlotPublicID are keyed by slot index. A slot bound
	// with no pending identity maps to "".
	SlotIdentity map[int]string
	SlotPublicID map[int]string
}

// LogEntry is one line of wrapped server output.
type LogEntry struct {
	Time time.Time `json:"time"`
	Line string    `json:"line"`
}

// Log is a copy of the bounded output log.
type Log struct {
	Entries      []LogEntry `json:"entries"`
	LastModified time.Time  `json:"lastModified"`
}

// runtimeState is mutated only by apply, under the supervisor lock.
type runtimeState struct {
	State
	pendingIdentity string
	dirty           bool
	generation      uint64
	log             []LogEntry
	logModified     time.Time
}

func newRuntimeState(p *Preset) *runtimeState {
	rs := &runtimeState{
		State: State{
			HTTPPort:     -1,
			Grip:         p.InitialGrip,
			GripTransfer: p.InitialGripTransfer,
			AmbientTemp:  p.InitialAmbientTemp,
			RoadTemp:     p.InitialRoadTemp,
			WeatherID:    p.InitialWeatherID,
			SlotIdentity: make(map[int]string, len(p.Slots)),
			SlotPublicID: make(map[int]string, len(p.Slots)),
		},
		dirty: true,
	}
	for i, raw := range p.Slots {
		rs.SlotIdentity[i] = raw
		rs.SlotPublicID[i] = identity.PublicID(raw)
	}
	return rs
}

func (rs *runtimeState) markDirty() {
	rs.dirty = true
	rs.generation++
}

// round keeps one decimal, rounding halves up.
func round(v float64) float64 {
	return math.Floor(v*10+0.5) / 10
}

func parseNumbers(groups ...string) ([]float64, bool) {
	out := make([]float64, len(groups))
	for i, g := range groups {
		v, err := strconv.ParseFloat(strings.TrimSpace(g), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func setFloat(dst *float64, v float64) bool {
	if *dst == v {
		return false
	}
	*dst = v
	return true
}

// applyResult reports what a line changed.
type applyResult struct {
	kind       LineKind
	changed    bool
	portFound  bool
	boundSlot  int
	boundGUID  string
	badPayload bool
}

// apply folds one classified line into the state. Lines whose payload
// fails to parse are treated like unrecognised output.
func (rs *runtimeState) apply(m Match) applyResult {
	res := applyResult{kind: m.Kind}
	g := m.Groups

	switch m.Kind {
	case LineNoise:
		return res

	case LineHTTPPort:
		port, err := strconv.Atoi(g[0])
		if err != nil || port <= 0 {
			res.badPayload = true
			break
		}
		if rs.HTTPPort == -1 {
			rs.HTTPPort = port
			res.portFound = true
			res.changed = true
		}
		return res.mark(rs)

	case LineGrip:
		v, ok := parseNumbers(g[2], g[1])
		if !ok {
			res.badPayload = true
			break
		}
		res.changed = setFloat(&rs.Grip, round(v[0]))
		res.changed = setFloat(&rs.GripTransfer, round(v[1])) || res.changed
		return res.mark(rs)

	case LineWeather:
		v, ok := parseNumbers(g[0], g[1])
		if !ok {
			res.badPayload = true
			break
		}
		res.changed = setFloat(&rs.AmbientTemp, round(v[0]))
		res.changed = setFloat(&rs.RoadTemp, round(v[1])) || res.changed
		if rs.WeatherID != g[2] {
			rs.WeatherID = g[2]
			res.changed = true
		}
		return res.mark(rs)

	case LineWind:
		v, ok := parseNumbers(g[0], g[1])
		if !ok {
			res.badPayload = true
			break
		}
		res.changed = setFloat(&rs.WindSpeed, round(v[0]))
		res.changed = setFloat(&rs.WindDirection, round(v[1])) || res.changed
		return res.mark(rs)

	case LineSessionType:
		session, err := strconv.Atoi(strings.TrimSpace(g[0]))
		if err != nil {
			res.badPayload = true
			break
		}
		if rs.SessionType != session {
			rs.SessionType = session
			res.changed = true
		}
		return res.mark(rs)

	case LineConnecting:
		rs.pendingIdentity = g[0]
		return res

	case LineSlotFound:
		slot, err := strconv.Atoi(strings.TrimSpace(g[0]))
		if err != nil || slot < 0 {
			res.badPayload = true
			break
		}
		res.boundSlot = slot
		res.boundGUID = rs.pendingIdentity
		prev, had := rs.SlotIdentity[slot]
		if !had || prev != rs.pendingIdentity {
			rs.SlotIdentity[slot] = rs.pendingIdentity
			rs.SlotPublicID[slot] = identity.PublicID(rs.pendingIdentity)
			res.changed = true
		}
		return res.mark(rs)
	}

	rs.markDirty()
	return res
}

func (res applyResult) mark(rs *runtimeState) applyResult {
	if res.changed {
		rs.markDirty()
	}
	return res
}

func (rs *runtimeState) appendLog(line string, now time.Time) {
	if len(rs.log) > logTruncate {
		kept := make([]LogEntry, logKeep, logKeep+logTruncate-logKeep+1)
		copy(kept, rs.log[len(rs.log)-logKeep:])
		rs.log = kept
	}
	rs.log = append(rs.log, LogEntry{Time: now, Line: line})
	rs.logModified = now
}

func (rs *runtimeState) snapshot() State {
	s := rs.State
	s.SlotIdentity = make(map[int]string, len(rs.SlotIdentity))
	for k, v := range rs.SlotIdentity {
		s.SlotIdentity[k] = v
	}
	s.SlotPublicID = make(map[int]string, len(rs.SlotPublicID))
	for k, v := range rs.SlotPublicID {
		s.SlotPublicID[k] = v
	}
	return s
}
