package main

import (
	"context"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"
	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/test"

	"swerve/control"
	"swerve/drivetrain"
	"swerve/telemetry"
	"swerve/wheel"
)

type fakeActuator struct {
	mu    sync.Mutex
	power float64
}

func (a *fakeActuator) SetPower(ctx context.Context, powerPct float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.power = powerPct
	return nil
}

func (a *fakeActuator) Power() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.power
}

type fakeReading struct {
	mu    sync.Mutex
	value float64
	err   error
}

func (f *fakeReading) get() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

func (f *fakeReading) set(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = v
}

func (f *fakeReading) Rotation(context.Context) (float64, error)   { return f.get() }
func (f *fakeReading) Ticks(context.Context) (float64, error)      { return f.get() }
func (f *fakeReading) YawDegrees(context.Context) (float64, error) { return f.get() }

type fakeModule struct {
	drive, steer           *fakeActuator
	angle                  *fakeReading
	driveTicks, steerTicks *fakeReading
}

type fakeRobot struct {
	modules [4]*fakeModule
	yaw     *fakeReading
}

func newFakeRobot() *fakeRobot {
	r := &fakeRobot{yaw: &fakeReading{}}
	for i := range r.modules {
		r.modules[i] = &fakeModule{
			drive:      &fakeActuator{},
			steer:      &fakeActuator{},
			angle:      &fakeReading{},
			driveTicks: &fakeReading{},
			steerTicks: &fakeReading{},
		}
	}
	return r
}

func (r *fakeRobot) hardware() drivetrain.Hardware {
	var hw drivetrain.Hardware
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

func (r *fakeRobot) drivePowers() [4]float64 {
	var out [4]float64
	for i, m := range r.modules {
		out[i] = m.drive.Power()
	}
	return out
}

// testBaseConfig is a component config with unconstrained pose loops and a fixed heading offset.
func testBaseConfig() *Config {
	module := func(prefix string) ModuleConfig {
		return ModuleConfig{DriveMotor: prefix + "-drive", SteerMotor: prefix + "-steer", SteerEncoder: prefix + "-encoder"}
	}
	zero := 0.0
	unconstrained := control.Constraints{}
	return &Config{
		FrontLeft:        module("fl"),
		FrontRight:       module("fr"),
		BackLeft:         module("bl"),
		BackRight:        module("br"),
		MovementSensor:   "imu",
		HeadingOffsetDeg: &zero,
		Translation:      &unconstrained,
		Rotation:         &unconstrained,
	}
}

func newTestBase(t *testing.T, cfg *Config) (*swerveBase, *fakeRobot, *clock.Mock) {
	t.Helper()
	r := newFakeRobot()
	clk := clock.NewMock()
	sb, err := newSwerveBase(
		context.Background(),
		resource.NewName(base.API, "swerve"),
		cfg,
		r.hardware(),
		telemetry.NewStore(),
		clk,
		logging.NewTestLogger(t),
	)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, sb.Close(context.Background()), test.ShouldBeNil)
	})
	return sb, r, clk
}
