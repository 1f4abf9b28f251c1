// Package kinematics converts chassis velocity commands into per-wheel speed and angle targets.
//
// Two frames meet here. Percent commands are in the drive frame: forward positive, strafe to the
// right positive, rotation clockwise positive, wheel angles clockwise from robot forward.
// ChassisSpeeds are in the field frame: x forward, y left, omega counter-clockwise.
// ChassisSpeeds.ToPercent is the only place one becomes the other.
package kinematics

import (
	"math"

	"github.com/pkg/errors"

	"swerve/wheel"
)

// Wheel order of every [4] array in this package.
const (
	FrontLeft = iota
	FrontRight
	BackLeft
	BackRight
)

// Geometry is the distance from the robot center to the wheels, in meters.
type Geometry struct {
	HalfLength float64
	HalfWidth  float64
}

// Validate rejects geometry that would divide by zero.
func (g Geometry) Validate() error {
	if !(g.HalfLength > 0) || !(g.HalfWidth > 0) || math.IsInf(g.HalfLength, 0) || math.IsInf(g.HalfWidth, 0) {
		return errors.Errorf("invalid drive geometry %+v", g)
	}
	return nil
}

// Percent is a normalized drive-frame command, each component in [-1, 1].
type Percent struct {
	Forward, Strafe, Rotation float64
}

// IsZero reports whether every component is exactly zero.
func (p Percent) IsZero() bool {
	return p.Forward == 0 && p.Strafe == 0 && p.Rotation == 0
}

// ChassisSpeeds is a physical field-frame velocity: m/s and rad/s.
type ChassisSpeeds struct {
	VX, VY, Omega float64
}

// ToPercent scales by the drivetrain limits and moves into the drive frame.
func (s ChassisSpeeds) ToPercent(maxLinear, maxAngular float64) Percent {
	return Percent{
		Forward:  s.VX / maxLinear,
		Strafe:   -s.VY / maxLinear,
		Rotation: -s.Omega / maxAngular,
	}
}

// WheelTarget is one wheel's speed magnitude and heading in degrees, [0, 360), clockwise.
type WheelTarget struct {
	Speed float64
	Angle float64
}

// Rotate applies the 2-D rotation by -theta to a (forward, strafe) pair.
func Rotate(forward, strafe, theta float64) (float64, float64) {
	s, c := math.Sincos(theta)
	return forward*c + strafe*s, -forward*s + strafe*c
}

// FieldToRobot re-expresses a field-relative command in the frame of a robot at heading theta.
func FieldToRobot(s ChassisSpeeds, theta float64) ChassisSpeeds {
	s.VX, s.VY = Rotate(s.VX, s.VY, theta)
	return s
}

// Decompose computes the four wheel targets for cmd. It reports false, and computes nothing, when
// every component of cmd is exactly zero, since the wheel angles are undefined there.
func Decompose(cmd Percent, g Geometry) ([4]WheelTarget, bool) {
	var targets [4]WheelTarget
	if cmd.IsZero() {
		return targets, false
	}

	radius := math.Hypot(g.HalfLength, g.HalfWidth)
	lengthShare := g.HalfLength / radius
	widthShare := g.HalfWidth / radius

	a := cmd.Strafe - cmd.Rotation*lengthShare
	b := cmd.Strafe + cmd.Rotation*lengthShare
	c := cmd.Forward - cmd.Rotation*widthShare
	d := cmd.Forward + cmd.Rotation*widthShare

	targets[FrontRight] = target(b, c)
	targets[FrontLeft] = target(b, d)
	targets[BackLeft] = target(a, d)
	targets[BackRight] = target(a, c)

	Normalize(&targets)
	return targets, true
}

func target(lateral, longitudinal float64) WheelTarget {
	return WheelTarget{
		Speed: math.Hypot(lateral, longitudinal),
		Angle: wheel.NormalizeDegrees(math.Atan2(lateral, longitudinal) * 180 / math.Pi),
	}
}

// Normalize scales every speed down by the fastest one when it exceeds 1, keeping their ratios.
func Normalize(targets *[4]WheelTarget) {
	maxSpeed := 0.0
	for _, t := range targets {
		maxSpeed = math.Max(maxSpeed, t.Speed)
	}
	if maxSpeed <= 1 {
		return
	}
	for i := range targets {
		targets[i].Speed /= maxSpeed
	}
}
