package drivetrain

import (
	"context"
	"sync"

	"swerve/odometry"
	"swerve/wheel"
)

type fakeActuator struct {
	mu    sync.Mutex
	power float64
	calls int
	err   error
}

func (a *fakeActuator) SetPower(ctx context.Context, powerPct float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return a.err
	}
	a.power = powerPct
	return nil
}

func (a *fakeActuator) Power() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.power
}

type fakeValue struct {
	mu    sync.Mutex
	value float64
	err   error
}

func (f *fakeValue) get() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

func (f *fakeValue) set(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = v
}

type fakeAngle struct{ fakeValue }

func (f *fakeAngle) Rotation(context.Context) (float64, error) { return f.get() }

type fakeTicks struct{ fakeValue }

func (f *fakeTicks) Ticks(context.Context) (float64, error) { return f.get() }

type fakeYaw struct{ fakeValue }

func (f *fakeYaw) YawDegrees(context.Context) (float64, error) { return f.get() }

type moduleRig struct {
	drive, steer *fakeActuator
	angle        *fakeAngle
	driveTicks   *fakeTicks
	steerTicks   *fakeTicks
}

type rig struct {
	modules [4]*moduleRig
	yaw     *fakeYaw
}

func newRig() *rig {
	r := &rig{yaw: &fakeYaw{}}
	for i := range r.modules {
		r.modules[i] = &moduleRig{
			drive:      &fakeActuator{},
			steer:      &fakeActuator{},
			angle:      &fakeAngle{},
			driveTicks: &fakeTicks{},
			steerTicks: &fakeTicks{},
		}
	}
	return r
}

func (r *rig) hardware() Hardware {
	var hw Hardware
	for i, m := range r.modules {
		hw.Modules[i] = wheel.Hardware{
			Drive:      m.drive,
			Steer:      m.steer,
			Angle:      m.angle,
			DriveTicks: m.driveTicks,
			SteerTicks: m.steerTicks,
		}
	}
	hw.Yaw = r.yaw
	return hw
}

func (r *rig) drivePowers() [4]float64 {
	var out [4]float64
	for i, m := range r.modules {
		out[i] = m.drive.Power()
	}
	return out
}

func (r *rig) steerPowers() [4]float64 {
	var out [4]float64
	for i, m := range r.modules {
		out[i] = m.steer.Power()
	}
	return out
}

// testConfig is the default robot with plain P pose loops and a fixed heading offset.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CalibrateHeading = false
	cfg.X.Kp, cfg.Y.Kp, cfg.Theta.Kp = 1, 1, 1
	cfg.Theta.Kd = 0
	cfg.Translation.MaxVelocity = 0
	cfg.Rotation.MaxVelocity = 0
	return cfg
}

type fakeGenerator struct {
	current     odometry.Pose2D
	waypoints   []odometry.Translation2D
	goal        odometry.Pose2D
	constraints TrajectoryConstraints
	result      Trajectory
	err         error
}

func (g *fakeGenerator) GenerateTrajectory(
	_ context.Context,
	current odometry.Pose2D,
	waypoints []odometry.Translation2D,
	goal odometry.Pose2D,
	constraints TrajectoryConstraints,
) (Trajectory, error) {
	g.current, g.waypoints, g.goal, g.constraints = current, waypoints, goal, constraints
	return g.result, g.err
}
