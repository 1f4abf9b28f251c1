// Package drivetrain ties four swerve modules, the heading reference, odometry and the pose
// controller into one drivetrain.
package drivetrain

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"

	"swerve/control"
	"swerve/hardware"
	"swerve/heading"
	"swerve/kinematics"
	"swerve/odometry"
	"swerve/telemetry"
	"swerve/wheel"
)

// Hardware is every device the drivetrain owns. Modules are in front-left, front-right,
// back-left, back-right order.
type Hardware struct {
	Modules [4]wheel.Hardware
	Yaw     hardware.YawSensor
}

// Option customizes a Drivetrain.
type Option func(*options)

type options struct {
	clock        clock.Clock
	sink         telemetry.Sink
	trajectories TrajectoryGenerator
}

// WithClock replaces the wall clock used for the vision refresh interval.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithTelemetry publishes drivetrain values to sink.
func WithTelemetry(sink telemetry.Sink) Option {
	return func(o *options) { o.sink = sink }
}

// WithTrajectoryGenerator sets the planner GenerateTrajectory delegates to.
func WithTrajectoryGenerator(g TrajectoryGenerator) Option {
	return func(o *options) { o.trajectories = g }
}

// Drivetrain is a four-module swerve drive. It is meant to be driven from a single control loop.
type Drivetrain struct {
	cfg        Config
	geometry   kinematics.Geometry
	modules    [4]*wheel.Module
	heading    *heading.Reference
	odometry   *odometry.Estimator
	controller *control.PoseController
	sink       telemetry.Sink
	logger     logging.Logger

	trajectories TrajectoryGenerator
}

// New validates cfg, zeros every module and resets odometry to the origin at the starting heading.
func New(ctx context.Context, cfg Config, hw Hardware, logger logging.Logger, opts ...Option) (*Drivetrain, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid drivetrain config")
	}
	if logger == nil {
		logger = logging.NewLogger("drivetrain")
	}
	o := options{clock: clock.New(), sink: telemetry.Nop{}}
	for _, opt := range opts {
		opt(&o)
	}

	d := &Drivetrain{
		cfg:          cfg,
		geometry:     cfg.Geometry(),
		sink:         o.sink,
		logger:       logger,
		trajectories: o.trajectories,
	}

	for i := range d.modules {
		loc := wheel.Location(i)
		m, err := wheel.NewModule(ctx, cfg.wheel(loc), hw.Modules[i], logger)
		if err != nil {
			return nil, err
		}
		d.modules[i] = m
	}

	var err error
	if cfg.CalibrateHeading {
		d.heading, err = heading.Calibrate(ctx, hw.Yaw)
	} else {
		d.heading, err = heading.NewReference(hw.Yaw, cfg.HeadingOffset)
	}
	if err != nil {
		return nil, err
	}

	kin, err := odometry.NewKinematics(
		odometry.Translation2D{X: cfg.HalfLength, Y: cfg.HalfWidth},
		odometry.Translation2D{X: cfg.HalfLength, Y: -cfg.HalfWidth},
		odometry.Translation2D{X: -cfg.HalfLength, Y: cfg.HalfWidth},
		odometry.Translation2D{X: -cfg.HalfLength, Y: -cfg.HalfWidth},
	)
	if err != nil {
		return nil, err
	}
	d.odometry, err = odometry.NewEstimator(kin, d.heading, d.modules[0], d.modules[1], d.modules[2], d.modules[3])
	if err != nil {
		return nil, err
	}

	d.controller, err = control.NewPoseController(cfg.pose(), o.clock, o.sink)
	if err != nil {
		return nil, err
	}

	if err := d.ResetOdometry(ctx); err != nil {
		return nil, err
	}
	logger.Debugw("drivetrain ready", "heading_offset", d.heading.Offset(), "geometry", d.geometry)
	return d, nil
}

// Config returns the constants the drivetrain was built with.
func (d *Drivetrain) Config() Config {
	return d.cfg
}

// Module returns the module at loc.
func (d *Drivetrain) Module(loc wheel.Location) *wheel.Module {
	return d.modules[loc]
}

// Heading reads the robot heading in radians, counter-clockwise, in [0, 2π).
func (d *Drivetrain) Heading(ctx context.Context) (float64, error) {
	return d.heading.ContinuousHeadingRadians(ctx)
}

// Stop stops every module, attempting all four even when one fails.
func (d *Drivetrain) Stop(ctx context.Context) error {
	var err error
	for _, m := range d.modules {
		err = multierr.Append(err, m.Stop(ctx))
	}
	return err
}

// DrivePercent drives with a drive-frame command. An all-zero command stops every module and
// leaves the wheel angles where they are.
func (d *Drivetrain) DrivePercent(ctx context.Context, cmd kinematics.Percent) error {
	targets, ok := kinematics.Decompose(cmd, d.geometry)
	if !ok {
		return d.Stop(ctx)
	}
	d.sink.Publish(telemetry.KeyFrontRightSpeed, targets[kinematics.FrontRight].Speed)
	d.sink.Publish(telemetry.KeyFrontRightTarget, targets[kinematics.FrontRight].Angle)

	var err error
	for i, m := range d.modules {
		_, driveErr := m.Drive(ctx, targets[i].Speed, targets[i].Angle)
		err = multierr.Append(err, driveErr)
	}
	return err
}

// DriveRobotOriented drives with a physical robot-relative velocity.
func (d *Drivetrain) DriveRobotOriented(ctx context.Context, speeds kinematics.ChassisSpeeds) error {
	return d.DrivePercent(ctx, speeds.ToPercent(d.cfg.MaxLinearSpeed, d.cfg.MaxAngularSpeed))
}

// DriveFieldOriented drives with a physical field-relative velocity, rotating it by the current heading.
func (d *Drivetrain) DriveFieldOriented(ctx context.Context, speeds kinematics.ChassisSpeeds) error {
	theta, err := d.Heading(ctx)
	if err != nil {
		return multierr.Combine(errors.Wrap(err, "reading heading"), d.Stop(ctx))
	}
	return d.DriveRobotOriented(ctx, kinematics.FieldToRobot(speeds, theta))
}

// ModuleState is a wheel speed in m/s and angle in degrees, clockwise from robot forward.
type ModuleState struct {
	Speed float64
	Angle float64
}

// SetModuleStates drives each module directly. States are in front-right, front-left,
// back-right, back-left order.
func (d *Drivetrain) SetModuleStates(ctx context.Context, states [4]ModuleState) error {
	order := [4]wheel.Location{wheel.FrontRight, wheel.FrontLeft, wheel.BackRight, wheel.BackLeft}
	var err error
	for i, loc := range order {
		_, driveErr := d.modules[loc].DriveMeters(ctx, states[i].Speed, states[i].Angle)
		err = multierr.Append(err, driveErr)
	}
	return err
}

// ResetOdometry re-zeros every module and puts the robot at the origin facing the starting heading.
func (d *Drivetrain) ResetOdometry(ctx context.Context) error {
	return d.ResetOdometryTo(ctx, odometry.Pose2D{Heading: d.cfg.StartingHeading})
}

// ResetOdometryTo re-zeros every module and puts the robot at pose.
func (d *Drivetrain) ResetOdometryTo(ctx context.Context, pose odometry.Pose2D) error {
	if err := d.odometry.Reset(ctx, pose); err != nil {
		return errors.Wrap(err, "resetting odometry")
	}
	d.controller.Reset(d.odometry.Pose())
	d.publishPose(d.odometry.Pose())
	d.sink.Publish(telemetry.KeyOdometryCalibrated, true)
	return nil
}

// UpdateOdometry advances the pose estimate by the motion since the last update.
func (d *Drivetrain) UpdateOdometry(ctx context.Context) (odometry.Pose2D, error) {
	pose, err := d.odometry.Update(ctx)
	if err != nil {
		return pose, err
	}
	d.publishPose(pose)

	if fl, err := d.modules[wheel.FrontLeft].Position(ctx); err == nil {
		d.sink.Publish(telemetry.KeyFrontLeftPosition, fl.Distance)
		d.sink.Publish(telemetry.KeyFrontLeftAngle, fl.Angle)
	}
	return pose, nil
}

// Pose returns the last pose estimate.
func (d *Drivetrain) Pose() odometry.Pose2D {
	return d.odometry.Pose()
}

func (d *Drivetrain) publishPose(pose odometry.Pose2D) {
	d.sink.Publish(telemetry.KeyPoseX, pose.X)
	d.sink.Publish(telemetry.KeyPoseY, pose.Y)
	d.sink.Publish(telemetry.KeyPoseTheta, pose.Heading)
	d.sink.Publish(telemetry.KeyRobotAngle, pose.Heading)
}

// RestartPoseLoops puts the pose loops at rest on the estimated pose, or on the origin when
// relative targets from a vision system follow.
func (d *Drivetrain) RestartPoseLoops(relative bool) {
	if relative {
		d.controller.Reset(odometry.Pose2D{})
		return
	}
	d.controller.Reset(d.odometry.Pose())
}

// SetDriveToPoseOdometry loads target into the pose loops without driving.
func (d *Drivetrain) SetDriveToPoseOdometry(target odometry.Pose2D) {
	d.controller.SetGoal(target)
}

// DriveToPoseOdometry drives one cycle from the estimated pose toward target.
func (d *Drivetrain) DriveToPoseOdometry(ctx context.Context, target odometry.Pose2D) error {
	return d.DriveFieldOriented(ctx, d.controller.DriveToPoseOdometry(d.odometry.Pose(), target))
}

// DriveToPoseVision drives one cycle toward target, given relative to the robot by a vision system.
func (d *Drivetrain) DriveToPoseVision(ctx context.Context, target odometry.Pose2D) error {
	return d.DriveFieldOriented(ctx, d.controller.DriveToPoseVision(target))
}

// DriveToPoseCombo drives one cycle from odometry toward target, re-anchoring odometry at the
// negated vision pose when refresh has elapsed since the last re-anchor.
func (d *Drivetrain) DriveToPoseCombo(ctx context.Context, vision, target odometry.Pose2D, refresh time.Duration) error {
	speeds, err := d.controller.DriveToPoseCombo(ctx, comboAnchor{d}, vision, target, refresh)
	if err != nil {
		return multierr.Combine(err, d.Stop(ctx))
	}
	return d.DriveFieldOriented(ctx, speeds)
}

// comboAnchor re-anchors through ResetOdometryTo so telemetry and loops follow the new pose.
type comboAnchor struct {
	d *Drivetrain
}

func (a comboAnchor) Reset(ctx context.Context, initial odometry.Pose2D) error {
	return a.d.ResetOdometryTo(ctx, initial)
}

func (a comboAnchor) Pose() odometry.Pose2D {
	return a.d.odometry.Pose()
}

// TurnToPointWhileDriving translates with a drive-frame percent command while the heading loop
// turns the robot to face point.
func (d *Drivetrain) TurnToPointWhileDriving(ctx context.Context, forward, strafe float64, point odometry.Translation2D) error {
	omega := d.controller.TurnToPoint(d.odometry.Pose(), point)
	return d.DrivePercent(ctx, kinematics.Percent{
		Forward:  forward,
		Strafe:   strafe,
		Rotation: -omega / d.cfg.MaxAngularSpeed,
	})
}
