// Package odometry estimates the robot pose on the field from wheel displacement and heading.
//
// Field frame: x forward, y left, heading counter-clockwise, meters and radians.
package odometry

import (
	"math"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
)

// Pose2D is a position and heading on the field.
type Pose2D struct {
	X, Y    float64
	Heading float64
}

// Twist2D is a displacement along an arc, expressed in the frame of the pose it starts from.
type Twist2D struct {
	DX, DY, DTheta float64
}

// Translation2D is a point on the field.
type Translation2D struct {
	X, Y float64
}

// WrapAngle wraps radians into (-π, π].
func WrapAngle(angle float64) float64 {
	angle = math.Mod(angle+math.Pi, 2*math.Pi)
	if angle <= 0 {
		angle += 2 * math.Pi
	}
	return angle - math.Pi
}

// Translation drops the heading.
func (p Pose2D) Translation() Translation2D {
	return Translation2D{X: p.X, Y: p.Y}
}

// Negate mirrors a pose through the origin, heading included.
func (p Pose2D) Negate() Pose2D {
	return Pose2D{X: -p.X, Y: -p.Y, Heading: WrapAngle(-p.Heading)}
}

// Exp advances the pose along twist.
func (p Pose2D) Exp(twist Twist2D) Pose2D {
	s, c := math.Sincos(twist.DTheta)
	var sinTerm, cosTerm float64
	if math.Abs(twist.DTheta) < 1e-9 {
		sinTerm = 1 - twist.DTheta*twist.DTheta/6
		cosTerm = 0.5 * twist.DTheta
	} else {
		sinTerm = s / twist.DTheta
		cosTerm = (1 - c) / twist.DTheta
	}
	localX := twist.DX*sinTerm - twist.DY*cosTerm
	localY := twist.DX*cosTerm + twist.DY*sinTerm

	ps, pc := math.Sincos(p.Heading)
	return Pose2D{
		X:       p.X + localX*pc - localY*ps,
		Y:       p.Y + localX*ps + localY*pc,
		Heading: WrapAngle(p.Heading + twist.DTheta),
	}
}

// SpatialPose converts to a viam pose in millimeters, rotating about +Z.
func (p Pose2D) SpatialPose() spatialmath.Pose {
	return spatialmath.NewPose(
		r3.Vector{X: p.X * 1000, Y: p.Y * 1000},
		&spatialmath.OrientationVectorDegrees{OZ: 1, Theta: p.Heading * 180 / math.Pi},
	)
}
