package control

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"swerve/kinematics"
	"swerve/odometry"
	"swerve/telemetry"
)

// PoseConfig configures the x, y and heading loops of a PoseController.
type PoseConfig struct {
	X, Y, Theta Gains
	// Translation constrains the x and y loops, Rotation the heading loop.
	Translation Constraints
	Rotation    Constraints
	// Period is the control cycle length handed to the loops.
	Period time.Duration
}

// Validate rejects configs that make the loops meaningless.
func (cfg PoseConfig) Validate() error {
	if cfg.Period <= 0 {
		return errors.Errorf("pose controller period must be positive, got %v", cfg.Period)
	}
	for name, g := range map[string]Gains{"x": cfg.X, "y": cfg.Y, "theta": cfg.Theta} {
		if math.IsNaN(g.Kp) || math.IsNaN(g.Ki) || math.IsNaN(g.Kd) {
			return errors.Errorf("%s gains must be numbers, got %+v", name, g)
		}
	}
	return nil
}

// Anchor is the odometry a combo controller re-anchors.
type Anchor interface {
	Reset(ctx context.Context, initial odometry.Pose2D) error
	Pose() odometry.Pose2D
}

// PoseController closes x, y and heading loops around a target pose and produces a field-frame
// velocity command. The heading loop wraps at ±π.
type PoseController struct {
	mu          sync.Mutex
	x, y, theta *Loop
	period      time.Duration
	clock       clock.Clock
	lastRefresh time.Time
	sink        telemetry.Sink
}

// NewPoseController returns a controller whose refresh timer starts now. A nil clock means the
// wall clock and a nil sink discards telemetry.
func NewPoseController(cfg PoseConfig, clk clock.Clock, sink telemetry.Sink) (*PoseController, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	if sink == nil {
		sink = telemetry.Nop{}
	}
	theta := NewLoop(cfg.Theta, cfg.Rotation)
	theta.EnableContinuousInput(-math.Pi, math.Pi)
	return &PoseController{
		x:           NewLoop(cfg.X, cfg.Translation),
		y:           NewLoop(cfg.Y, cfg.Translation),
		theta:       theta,
		period:      cfg.Period,
		clock:       clk,
		lastRefresh: clk.Now(),
		sink:        sink,
	}, nil
}

// SetGoal loads target into the three loops without computing an output.
func (c *PoseController) SetGoal(target odometry.Pose2D) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.x.SetGoal(target.X)
	c.y.SetGoal(target.Y)
	c.theta.SetGoal(target.Heading)
}

// Goal returns the pose the loops are driving toward.
func (c *PoseController) Goal() odometry.Pose2D {
	c.mu.Lock()
	defer c.mu.Unlock()
	return odometry.Pose2D{X: c.x.Goal(), Y: c.y.Goal(), Heading: c.theta.Goal()}
}

// Reset restarts the loops from current at rest.
func (c *PoseController) Reset(current odometry.Pose2D) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.x.Reset(current.X)
	c.y.Reset(current.Y)
	c.theta.Reset(current.Heading)
}

// DriveToPoseOdometry drives from the estimated pose current toward target.
func (c *PoseController) DriveToPoseOdometry(current, target odometry.Pose2D) kinematics.ChassisSpeeds {
	return c.calculate(current, target)
}

// DriveToPoseVision treats target as an offset from the robot: the measured pose is always the origin.
func (c *PoseController) DriveToPoseVision(target odometry.Pose2D) kinematics.ChassisSpeeds {
	return c.calculate(odometry.Pose2D{}, target)
}

// DriveToPoseCombo re-anchors odometry at the negated vision pose once more than interval has
// passed since the last re-anchor, then drives from the odometry pose toward target.
func (c *PoseController) DriveToPoseCombo(
	ctx context.Context,
	odo Anchor,
	vision, target odometry.Pose2D,
	interval time.Duration,
) (kinematics.ChassisSpeeds, error) {
	now := c.clock.Now()
	c.mu.Lock()
	due := now.Sub(c.lastRefresh) > interval
	c.mu.Unlock()

	if due {
		if err := odo.Reset(ctx, vision.Negate()); err != nil {
			return kinematics.ChassisSpeeds{}, errors.Wrap(err, "re-anchoring odometry from vision")
		}
		c.mu.Lock()
		c.lastRefresh = now
		c.mu.Unlock()
		c.sink.Publish(telemetry.KeyLastOdometryRefresh, now)
	}
	return c.calculate(odo.Pose(), target), nil
}

// LastRefresh returns when DriveToPoseCombo last re-anchored odometry.
func (c *PoseController) LastRefresh() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRefresh
}

// TurnToPoint returns the angular velocity that turns a robot at current to face point.
func (c *PoseController) TurnToPoint(current odometry.Pose2D, point odometry.Translation2D) float64 {
	bearing := math.Atan2(point.Y-current.Y, point.X-current.X)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.theta.Calculate(current.Heading, bearing, c.period)
}

func (c *PoseController) calculate(current, target odometry.Pose2D) kinematics.ChassisSpeeds {
	c.mu.Lock()
	out := kinematics.ChassisSpeeds{
		VX:    c.x.Calculate(current.X, target.X, c.period),
		VY:    c.y.Calculate(current.Y, target.Y, c.period),
		Omega: c.theta.Calculate(current.Heading, target.Heading, c.period),
	}
	c.mu.Unlock()

	c.sink.Publish(telemetry.KeyDriveToX, out.VX)
	c.sink.Publish(telemetry.KeyDriveToY, out.VY)
	c.sink.Publish(telemetry.KeyDriveToTheta, out.Omega)
	return out
}
