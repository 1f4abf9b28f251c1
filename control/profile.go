package control

import (
	"math"
	"time"
)

// Constraints bound a trapezoid motion profile. A zero MaxVelocity disables profiling.
type Constraints struct {
	MaxVelocity     float64 `json:"max_velocity,omitempty"`
	MaxAcceleration float64 `json:"max_acceleration,omitempty"`
}

// Enabled reports whether the constraints describe a usable profile.
func (c Constraints) Enabled() bool {
	return c.MaxVelocity > 0 && c.MaxAcceleration > 0
}

// State is a position and velocity along one axis.
type State struct {
	Position float64
	Velocity float64
}

// Step returns where a trapezoid profile from current toward goal is after dt.
func (c Constraints) Step(dt time.Duration, current, goal State) State {
	direction := 1.0
	if current.Position > goal.Position {
		direction = -1
	}
	current = State{current.Position * direction, current.Velocity * direction}
	goal = State{goal.Position * direction, goal.Velocity * direction}

	if current.Velocity > c.MaxVelocity {
		current.Velocity = c.MaxVelocity
	}

	cutoffBegin := current.Velocity / c.MaxAcceleration
	cutoffDistBegin := cutoffBegin * cutoffBegin * c.MaxAcceleration / 2
	cutoffEnd := goal.Velocity / c.MaxAcceleration
	cutoffDistEnd := cutoffEnd * cutoffEnd * c.MaxAcceleration / 2

	fullTrapezoidDist := cutoffDistBegin + (goal.Position - current.Position) + cutoffDistEnd
	accelTime := c.MaxVelocity / c.MaxAcceleration
	fullSpeedDist := fullTrapezoidDist - accelTime*accelTime*c.MaxAcceleration
	if fullSpeedDist < 0 {
		accelTime = math.Sqrt(fullTrapezoidDist / c.MaxAcceleration)
		fullSpeedDist = 0
	}

	endAccel := accelTime - cutoffBegin
	endFullSpeed := endAccel + fullSpeedDist/c.MaxVelocity
	endDecel := endFullSpeed + accelTime - cutoffEnd

	t := dt.Seconds()
	result := current
	switch {
	case t < endAccel:
		result.Velocity += t * c.MaxAcceleration
		result.Position += (current.Velocity + t*c.MaxAcceleration/2) * t
	case t < endFullSpeed:
		result.Velocity = c.MaxVelocity
		result.Position += (current.Velocity+endAccel*c.MaxAcceleration/2)*endAccel + c.MaxVelocity*(t-endAccel)
	case t <= endDecel:
		timeLeft := endDecel - t
		result.Velocity = goal.Velocity + timeLeft*c.MaxAcceleration
		result.Position = goal.Position - (goal.Velocity+timeLeft*c.MaxAcceleration/2)*timeLeft
	default:
		result = goal
	}
	return State{result.Position * direction, result.Velocity * direction}
}

// Loop is a PID controller that chases a goal through a trapezoid profile when constrained.
type Loop struct {
	pid         *PID
	constraints Constraints

	continuous         bool
	minInput, maxInput float64

	goal        State
	setpoint    State
	initialized bool
}

// NewLoop returns a loop with the given gains and constraints.
func NewLoop(gains Gains, constraints Constraints) *Loop {
	return &Loop{pid: NewPID(gains), constraints: constraints}
}

// EnableContinuousInput treats min and max as the same point.
func (l *Loop) EnableContinuousInput(min, max float64) {
	l.continuous = true
	l.minInput, l.maxInput = min, max
	l.pid.EnableContinuousInput(min, max)
}

// SetGoal sets the position the loop drives toward.
func (l *Loop) SetGoal(goal float64) {
	l.goal = State{Position: goal}
}

// Goal returns the current goal position.
func (l *Loop) Goal() float64 {
	return l.goal.Position
}

// Reset restarts the profile from measurement at rest.
func (l *Loop) Reset(measurement float64) {
	l.pid.Reset()
	l.setpoint = State{Position: measurement}
	l.initialized = true
}

// Calculate sets goal and returns the output for one step of length dt. The setpoint keeps
// stepping from where it was, so a goal that moves every call is tracked without restarting the
// profile. The first call starts the profile at measurement; callers restart it with Reset.
func (l *Loop) Calculate(measurement, goal float64, dt time.Duration) float64 {
	l.SetGoal(goal)
	if !l.constraints.Enabled() {
		return l.pid.Calculate(measurement, l.goal.Position, dt)
	}
	if !l.initialized {
		l.Reset(measurement)
	}
	if l.continuous {
		half := (l.maxInput - l.minInput) / 2
		l.goal.Position = wrap(l.goal.Position-measurement, -half, half) + measurement
		l.setpoint.Position = wrap(l.setpoint.Position-measurement, -half, half) + measurement
	}
	l.setpoint = l.constraints.Step(dt, l.setpoint, l.goal)
	return l.pid.Calculate(measurement, l.setpoint.Position, dt)
}
