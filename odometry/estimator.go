package odometry

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrNotCalibrated is returned by Update before the first Reset.
var ErrNotCalibrated = errors.New("odometry has not been reset")

// Module is a wheel the estimator can read and re-zero.
type Module interface {
	ResetZero(ctx context.Context) error
	Position(ctx context.Context) (ModulePosition, error)
}

// HeadingSource reports the robot heading in radians, counter-clockwise.
type HeadingSource interface {
	ContinuousHeadingRadians(ctx context.Context) (float64, error)
}

// Estimator integrates wheel positions and the heading sensor into a Pose2D.
// The pose changes only in Reset and Update.
type Estimator struct {
	kinematics *Kinematics
	modules    []Module
	heading    HeadingSource

	mu            sync.Mutex
	calibrated    bool
	pose          Pose2D
	headingOffset float64
	prevHeading   float64
	prevPositions []ModulePosition
}

// NewEstimator returns an uncalibrated estimator. Modules must be in the same order as the
// kinematics wheel locations.
func NewEstimator(kinematics *Kinematics, heading HeadingSource, modules ...Module) (*Estimator, error) {
	if kinematics == nil || heading == nil {
		return nil, errors.New("odometry needs kinematics and a heading source")
	}
	if len(modules) != kinematics.NumWheels() {
		return nil, errors.Errorf("kinematics has %d wheels but %d modules were given", kinematics.NumWheels(), len(modules))
	}
	return &Estimator{kinematics: kinematics, modules: modules, heading: heading}, nil
}

// Calibrated reports whether Reset has succeeded at least once.
func (e *Estimator) Calibrated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calibrated
}

// Reset zeros every module and anchors the estimate at initial.
func (e *Estimator) Reset(ctx context.Context, initial Pose2D) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, m := range e.modules {
		if err := m.ResetZero(ctx); err != nil {
			return errors.Wrapf(err, "zeroing module %d", i)
		}
	}
	positions, err := e.readPositions(ctx)
	if err != nil {
		return err
	}
	gyro, err := e.heading.ContinuousHeadingRadians(ctx)
	if err != nil {
		return errors.Wrap(err, "reading heading")
	}

	initial.Heading = WrapAngle(initial.Heading)
	e.pose = initial
	e.headingOffset = initial.Heading - gyro
	e.prevHeading = initial.Heading
	e.prevPositions = positions
	e.calibrated = true
	return nil
}

// Update advances the pose by the motion since the previous Update or Reset.
// A failed read leaves the pose untouched.
func (e *Estimator) Update(ctx context.Context) (Pose2D, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.calibrated {
		return Pose2D{}, ErrNotCalibrated
	}
	gyro, err := e.heading.ContinuousHeadingRadians(ctx)
	if err != nil {
		return e.pose, errors.Wrap(err, "reading heading")
	}
	positions, err := e.readPositions(ctx)
	if err != nil {
		return e.pose, err
	}

	deltas := make([]ModulePosition, len(positions))
	for i, p := range positions {
		deltas[i] = ModulePosition{Distance: p.Distance - e.prevPositions[i].Distance, Angle: p.Angle}
	}
	twist, err := e.kinematics.ToTwist(deltas)
	if err != nil {
		return e.pose, err
	}

	heading := WrapAngle(gyro + e.headingOffset)
	twist.DTheta = WrapAngle(heading - e.prevHeading)
	next := e.pose.Exp(twist)
	next.Heading = heading

	e.pose = next
	e.prevHeading = heading
	e.prevPositions = positions
	return next, nil
}

// Pose returns the current estimate.
func (e *Estimator) Pose() Pose2D {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pose
}

func (e *Estimator) readPositions(ctx context.Context) ([]ModulePosition, error) {
	positions := make([]ModulePosition, len(e.modules))
	for i, m := range e.modules {
		p, err := m.Position(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "reading module %d", i)
		}
		positions[i] = p
	}
	return positions, nil
}
