package core

import (
	"errors"
	"fmt"
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/tle-fetcher/tle"
)

// Vec3 is a Cartesian vector.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Norm returns the vector magnitude.
func (v Vec3) Norm() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

// Sample is the propagated state at one instant. Position and velocity are
// in the TEME/ECI frame produced by SGP4.
type Sample struct {
	Time         time.Time `json:"time"`
	PositionKm   Vec3      `json:"position_km"`
	VelocityKmS  Vec3      `json:"velocity_km_s"`
	LatitudeDeg  float64   `json:"latitude_deg"`
	LongitudeDeg float64   `json:"longitude_deg"`
	AltitudeKm   float64   `json:"altitude_km"`
}

// Propagator evaluates an element set with SGP4 (WGS72 constants).
// go-satellite works at whole-second resolution.
type Propagator struct {
	rec tle.Record
	sat satellite.Satellite
}

// NewPropagator prepares rec for propagation.
func NewPropagator(rec tle.Record) (*Propagator, error) {
	if err := sgp4Ready(rec); err != nil {
		return nil, err
	}
	sat := satellite.TLEToSat(rec.Line1, rec.Line2, satellite.GravityWGS72)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init error %d", sat.Error)
	}
	return &Propagator{rec: rec, sat: sat}, nil
}

// Record returns the element set being propagated.
func (p *Propagator) Record() tle.Record { return p.rec }

// At propagates to t.
func (p *Propagator) At(t time.Time) (Sample, error) {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	pos, vel := satellite.Propagate(p.sat, year, int(month), day, hour, min, sec)
	if !finite(pos) || !finite(vel) || (pos.X == 0 && pos.Y == 0 && pos.Z == 0) {
		return Sample{}, fmt.Errorf("propagation to %s failed", t.Format(time.RFC3339))
	}
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)
	alt, _, ll := satellite.ECIToLLA(pos, gmst)
	deg := satellite.LatLongDeg(ll)

	return Sample{
		Time:         t.Truncate(time.Second),
		PositionKm:   Vec3{X: pos.X, Y: pos.Y, Z: pos.Z},
		VelocityKmS:  Vec3{X: vel.X, Y: vel.Y, Z: vel.Z},
		LatitudeDeg:  deg.Latitude,
		LongitudeDeg: deg.Longitude,
		AltitudeKm:   alt,
	}, nil
}

// Range propagates from start to end inclusive every step.
func (p *Propagator) Range(start, end time.Time, step time.Duration) ([]Sample, error) {
	if step <= 0 {
		return nil, errors.New("step must be positive")
	}
	if end.Before(start) {
		return nil, errors.New("end precedes start")
	}
	var out []Sample
	for t := start; !t.After(end); t = t.Add(step) {
		s, err := p.At(t)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func finite(v satellite.Vector3) bool {
	for _, c := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}
