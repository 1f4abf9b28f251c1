// Package control implements the feedback loops that steer the drivetrain toward a pose.
package control

import (
	"math"
	"sync"
	"time"
)

// Gains are PID coefficients.
type Gains struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki,omitempty"`
	Kd float64 `json:"kd,omitempty"`
}

// PID is a discrete PID controller. With continuous input enabled the error takes the short way
// around the input range.
type PID struct {
	mu    sync.Mutex
	gains Gains

	continuous         bool
	minInput, maxInput float64

	integral  float64
	prevError float64
	havePrev  bool
}

// NewPID returns a controller with the given gains.
func NewPID(gains Gains) *PID {
	return &PID{gains: gains}
}

// EnableContinuousInput treats min and max as the same point.
func (p *PID) EnableContinuousInput(min, max float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.continuous = true
	p.minInput, p.maxInput = min, max
}

// Reset clears the integral and derivative history.
func (p *PID) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.integral = 0
	p.prevError = 0
	p.havePrev = false
}

// Error returns setpoint - measurement, wrapped when the input is continuous.
func (p *PID) Error(measurement, setpoint float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.error(measurement, setpoint)
}

func (p *PID) error(measurement, setpoint float64) float64 {
	e := setpoint - measurement
	if p.continuous {
		e = wrap(e, -(p.maxInput-p.minInput)/2, (p.maxInput-p.minInput)/2)
	}
	return e
}

// Calculate returns the output for one step of length dt.
func (p *PID) Calculate(measurement, setpoint float64, dt time.Duration) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.error(measurement, setpoint)
	dtS := dt.Seconds()

	var deriv float64
	if p.havePrev && dtS > 0 {
		deriv = (e - p.prevError) / dtS
	}
	if p.gains.Ki != 0 && dtS > 0 {
		p.integral += e * dtS
	}
	p.prevError = e
	p.havePrev = true

	return p.gains.Kp*e + p.gains.Ki*p.integral + p.gains.Kd*deriv
}

// wrap maps value into [min, max) treating the range as circular.
func wrap(value, min, max float64) float64 {
	span := max - min
	if span <= 0 {
		return value
	}
	value = math.Mod(value-min, span)
	if value < 0 {
		value += span
	}
	return value + min
}
