package drivetrain

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"swerve/kinematics"
	"swerve/odometry"
	"swerve/telemetry"
	"swerve/wheel"
)

func newTestDrivetrain(t *testing.T, r *rig, opts ...Option) *Drivetrain {
	t.Helper()
	d, err := New(context.Background(), testConfig(), r.hardware(), logging.NewTestLogger(t), opts...)
	test.That(t, err, test.ShouldBeNil)
	return d
}

func TestConfig(t *testing.T) {
	test.That(t, DefaultConfig().Validate(), test.ShouldBeNil)

	for name, mutate := range map[string]func(*Config){
		"zero circumference":  func(c *Config) { c.WheelCircumference = 0 },
		"negative half width": func(c *Config) { c.HalfWidth = -1 },
		"zero angular speed":  func(c *Config) { c.MaxAngularSpeed = 0 },
		"nan gear ratio":      func(c *Config) { c.SteerGearRatio = math.NaN() },
		"offset out of range": func(c *Config) { c.EncoderOffsets[wheel.BackLeft] = 1.5 },
		"zero loop period":    func(c *Config) { c.LoopPeriod = 0 },
		"infinite heading":    func(c *Config) { c.StartingHeading = math.Inf(1) },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			test.That(t, cfg.Validate(), test.ShouldNotBeNil)

			r := newRig()
			_, err := New(context.Background(), cfg, r.hardware(), logging.NewTestLogger(t))
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, r.modules[0].drive.calls, test.ShouldEqual, 0)
		})
	}
}

func TestNew(t *testing.T) {
	t.Run("starts calibrated at the origin", func(t *testing.T) {
		store := telemetry.NewStore()
		d := newTestDrivetrain(t, newRig(), WithTelemetry(store))
		test.That(t, d.Pose(), test.ShouldResemble, odometry.Pose2D{})
		test.That(t, store.Get(telemetry.KeyOdometryCalibrated), test.ShouldEqual, true)
		test.That(t, d.Module(wheel.BackRight).Location(), test.ShouldEqual, wheel.BackRight)
	})

	t.Run("calibrates heading from the sensor", func(t *testing.T) {
		r := newRig()
		r.yaw.set(30)
		cfg := testConfig()
		cfg.CalibrateHeading = true
		d, err := New(context.Background(), cfg, r.hardware(), logging.NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)
		h, err := d.Heading(context.Background())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, h, test.ShouldAlmostEqual, 0)
	})

	t.Run("starting heading", func(t *testing.T) {
		r := newRig()
		cfg := testConfig()
		cfg.StartingHeading = math.Pi / 2
		d, err := New(context.Background(), cfg, r.hardware(), logging.NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, d.Pose().Heading, test.ShouldAlmostEqual, math.Pi/2)
	})

	t.Run("missing yaw sensor", func(t *testing.T) {
		hw := newRig().hardware()
		hw.Yaw = nil
		_, err := New(context.Background(), testConfig(), hw, logging.NewTestLogger(t))
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("unreadable steer sensor", func(t *testing.T) {
		r := newRig()
		r.modules[wheel.FrontRight].angle.err = errors.New("no response")
		_, err := New(context.Background(), testConfig(), r.hardware(), logging.NewTestLogger(t))
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestDrivePercent(t *testing.T) {
	ctx := context.Background()
	r := newRig()
	store := telemetry.NewStore()
	d := newTestDrivetrain(t, r, WithTelemetry(store))

	test.That(t, d.DrivePercent(ctx, kinematics.Percent{Forward: 1}), test.ShouldBeNil)
	test.That(t, r.drivePowers(), test.ShouldResemble, [4]float64{1, 1, 1, 1})
	test.That(t, r.steerPowers(), test.ShouldResemble, [4]float64{0, 0, 0, 0})
	speed, _ := store.Get(telemetry.KeyFrontRightSpeed).(float64)
	test.That(t, speed, test.ShouldAlmostEqual, 1)

	t.Run("zero command stops every wheel", func(t *testing.T) {
		before := r.modules[0].steer.calls
		test.That(t, d.DrivePercent(ctx, kinematics.Percent{}), test.ShouldBeNil)
		test.That(t, r.drivePowers(), test.ShouldResemble, [4]float64{0, 0, 0, 0})
		test.That(t, r.steerPowers(), test.ShouldResemble, [4]float64{0, 0, 0, 0})
		test.That(t, r.modules[0].steer.calls, test.ShouldEqual, before+1)
	})

	t.Run("strafe right steers clockwise", func(t *testing.T) {
		test.That(t, d.DrivePercent(ctx, kinematics.Percent{Strafe: 0.5}), test.ShouldBeNil)
		for i := range r.modules {
			test.That(t, r.drivePowers()[i], test.ShouldAlmostEqual, 0.5)
			test.That(t, r.steerPowers()[i], test.ShouldAlmostEqual, 0.8)
		}
		target, _ := store.Get(telemetry.KeyFrontRightTarget).(float64)
		test.That(t, target, test.ShouldAlmostEqual, 90)
	})

	t.Run("one failing module does not stop the others", func(t *testing.T) {
		r.modules[wheel.FrontLeft].drive.err = errors.New("fault")
		defer func() { r.modules[wheel.FrontLeft].drive.err = nil }()
		err := d.DrivePercent(ctx, kinematics.Percent{Forward: 0.3})
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, r.drivePowers()[wheel.BackRight], test.ShouldAlmostEqual, 0.3)

		err = d.Stop(ctx)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, r.drivePowers()[wheel.BackRight], test.ShouldEqual, 0)
	})
}

func TestDriveFieldOriented(t *testing.T) {
	ctx := context.Background()
	r := newRig()
	d := newTestDrivetrain(t, r)

	// yaw 270 clockwise is a quarter turn counter-clockwise
	r.yaw.set(270)
	h, err := d.Heading(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, h, test.ShouldAlmostEqual, math.Pi/2)

	// field forward is to the robot's right
	test.That(t, d.DriveFieldOriented(ctx, kinematics.ChassisSpeeds{VX: 1}), test.ShouldBeNil)
	for i := range r.modules {
		test.That(t, r.drivePowers()[i], test.ShouldAlmostEqual, 0.25)
		test.That(t, r.steerPowers()[i], test.ShouldAlmostEqual, 0.8)
	}

	t.Run("heading failure stops", func(t *testing.T) {
		r.yaw.err = errors.New("imu gone")
		defer func() { r.yaw.err = nil }()
		test.That(t, d.DriveFieldOriented(ctx, kinematics.ChassisSpeeds{VX: 1}), test.ShouldNotBeNil)
		test.That(t, r.drivePowers(), test.ShouldResemble, [4]float64{0, 0, 0, 0})
	})
}

func TestSetModuleStates(t *testing.T) {
	r := newRig()
	d := newTestDrivetrain(t, r)
	states := [4]ModuleState{{Speed: 4}, {Speed: 2}, {Speed: 1}, {Speed: 0.4}}
	test.That(t, d.SetModuleStates(context.Background(), states), test.ShouldBeNil)

	powers := r.drivePowers()
	test.That(t, powers[wheel.FrontRight], test.ShouldAlmostEqual, 1)
	test.That(t, powers[wheel.FrontLeft], test.ShouldAlmostEqual, 0.5)
	test.That(t, powers[wheel.BackRight], test.ShouldAlmostEqual, 0.25)
	test.That(t, powers[wheel.BackLeft], test.ShouldAlmostEqual, 0.1)
}

func TestOdometry(t *testing.T) {
	ctx := context.Background()
	r := newRig()
	store := telemetry.NewStore()
	d := newTestDrivetrain(t, r, WithTelemetry(store))
	cfg := d.Config()

	revolution := cfg.TicksPerRevolution * cfg.DriveGearRatio
	for _, m := range r.modules {
		m.driveTicks.set(revolution)
	}
	pose, err := d.UpdateOdometry(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pose.X, test.ShouldAlmostEqual, cfg.WheelCircumference, 1e-9)
	test.That(t, pose.Y, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, d.Pose(), test.ShouldResemble, pose)

	x, _ := store.Get(telemetry.KeyPoseX).(float64)
	test.That(t, x, test.ShouldAlmostEqual, pose.X)
	fl, _ := store.Get(telemetry.KeyFrontLeftPosition).(float64)
	test.That(t, fl, test.ShouldAlmostEqual, cfg.WheelCircumference, 1e-9)

	t.Run("reset returns to the origin", func(t *testing.T) {
		test.That(t, d.ResetOdometry(ctx), test.ShouldBeNil)
		test.That(t, d.Pose(), test.ShouldResemble, odometry.Pose2D{})
		pose, err := d.UpdateOdometry(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pose.X, test.ShouldAlmostEqual, 0)
	})

	t.Run("failed read keeps the pose", func(t *testing.T) {
		test.That(t, d.ResetOdometryTo(ctx, odometry.Pose2D{X: 2, Y: 1}), test.ShouldBeNil)
		r.modules[wheel.BackLeft].angle.err = errors.New("timeout")
		defer func() { r.modules[wheel.BackLeft].angle.err = nil }()
		_, err := d.UpdateOdometry(ctx)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, d.Pose(), test.ShouldResemble, odometry.Pose2D{X: 2, Y: 1})
	})
}

func TestDriveToPose(t *testing.T) {
	ctx := context.Background()

	t.Run("odometry", func(t *testing.T) {
		r := newRig()
		d := newTestDrivetrain(t, r)
		test.That(t, d.DriveToPoseOdometry(ctx, odometry.Pose2D{X: 1}), test.ShouldBeNil)
		test.That(t, r.drivePowers(), test.ShouldResemble, [4]float64{0.25, 0.25, 0.25, 0.25})
	})

	t.Run("vision", func(t *testing.T) {
		r := newRig()
		d := newTestDrivetrain(t, r)
		test.That(t, d.ResetOdometryTo(ctx, odometry.Pose2D{X: 5, Y: 5}), test.ShouldBeNil)
		// target one meter to the left; the estimated pose is ignored
		test.That(t, d.DriveToPoseVision(ctx, odometry.Pose2D{Y: 1}), test.ShouldBeNil)
		for i := range r.modules {
			test.That(t, math.Abs(r.drivePowers()[i]), test.ShouldAlmostEqual, 0.25)
		}
	})

	t.Run("combo", func(t *testing.T) {
		r := newRig()
		clk := clock.NewMock()
		d := newTestDrivetrain(t, r, WithClock(clk))
		vision := odometry.Pose2D{X: -1}

		test.That(t, d.DriveToPoseCombo(ctx, vision, odometry.Pose2D{}, time.Second), test.ShouldBeNil)
		test.That(t, d.Pose(), test.ShouldResemble, odometry.Pose2D{})
		test.That(t, r.drivePowers(), test.ShouldResemble, [4]float64{0, 0, 0, 0})

		clk.Add(2 * time.Second)
		test.That(t, d.DriveToPoseCombo(ctx, vision, odometry.Pose2D{}, time.Second), test.ShouldBeNil)
		test.That(t, d.Pose().X, test.ShouldAlmostEqual, 1)
		// backing up to the origin with the wheels still facing forward
		test.That(t, r.drivePowers(), test.ShouldResemble, [4]float64{-0.25, -0.25, -0.25, -0.25})
	})

	t.Run("restart after the robot moved", func(t *testing.T) {
		r := newRig()
		cfg := testConfig()
		cfg.Translation = DefaultConfig().Translation
		d, err := New(ctx, cfg, r.hardware(), logging.NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)
		goal := odometry.Pose2D{X: 1}
		test.That(t, d.DriveToPoseOdometry(ctx, goal), test.ShouldBeNil)

		for _, m := range r.modules {
			m.driveTicks.set(cfg.TicksPerRevolution * cfg.DriveGearRatio)
		}
		pose, err := d.UpdateOdometry(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pose.X, test.ShouldAlmostEqual, cfg.WheelCircumference, 1e-9)

		d.RestartPoseLoops(false)
		test.That(t, d.DriveToPoseOdometry(ctx, goal), test.ShouldBeNil)
		for _, p := range r.drivePowers() {
			test.That(t, p, test.ShouldBeGreaterThan, 0)
		}
	})

	t.Run("preloaded goal", func(t *testing.T) {
		d := newTestDrivetrain(t, newRig())
		d.SetDriveToPoseOdometry(odometry.Pose2D{X: 3})
		test.That(t, d.controller.Goal().X, test.ShouldEqual, 3)
	})
}

func TestTurnToPointWhileDriving(t *testing.T) {
	r := newRig()
	store := telemetry.NewStore()
	d := newTestDrivetrain(t, r, WithTelemetry(store))

	// a point to the left turns the robot counter-clockwise in place
	err := d.TurnToPointWhileDriving(context.Background(), 0, 0, odometry.Translation2D{Y: 1})
	test.That(t, err, test.ShouldBeNil)
	target, _ := store.Get(telemetry.KeyFrontRightTarget).(float64)
	test.That(t, target, test.ShouldBeGreaterThan, 270)
	test.That(t, target, test.ShouldBeLessThan, 360)

	powers := r.drivePowers()
	for i := range powers {
		test.That(t, math.Abs(powers[i]), test.ShouldAlmostEqual, math.Abs(powers[0]))
	}
	test.That(t, powers[0], test.ShouldNotEqual, 0)
}

func TestGenerateTrajectory(t *testing.T) {
	ctx := context.Background()
	waypoints := []odometry.Translation2D{{X: 1, Y: 1}}
	goal := odometry.Pose2D{X: 2}

	d := newTestDrivetrain(t, newRig())
	_, err := d.GenerateTrajectory(ctx, waypoints, goal)
	test.That(t, err, test.ShouldBeError, ErrNoTrajectoryGenerator)

	gen := &fakeGenerator{result: Trajectory{{Pose: odometry.Pose2D{}}, {Time: time.Second, Pose: goal}}}
	d = newTestDrivetrain(t, newRig(), WithTrajectoryGenerator(gen))
	traj, err := d.GenerateTrajectory(ctx, waypoints, goal)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, traj.Duration(), test.ShouldEqual, time.Second)
	test.That(t, gen.current, test.ShouldResemble, odometry.Pose2D{})
	test.That(t, gen.waypoints, test.ShouldResemble, waypoints)
	test.That(t, gen.goal, test.ShouldResemble, goal)
	test.That(t, gen.constraints.MaxVelocity, test.ShouldEqual, d.Config().MaxLinearSpeed)

	gen.err = errors.New("infeasible")
	_, err = d.GenerateTrajectory(ctx, waypoints, goal)
	test.That(t, err, test.ShouldNotBeNil)

	gen.err, gen.result = nil, nil
	_, err = d.GenerateTrajectory(ctx, waypoints, goal)
	test.That(t, err, test.ShouldNotBeNil)
}
