package wheel

import (
	"context"
	"sync"
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

type fakeAngle struct {
	value float64
	err   error
}

func (s *fakeAngle) Rotation(ctx context.Context) (float64, error) {
	return s.value, s.err
}

type fakeTicks struct {
	value float64
	rate  float64
}

func (s *fakeTicks) Ticks(ctx context.Context) (float64, error) {
	return s.value, nil
}

type fakeRateTicks struct {
	fakeTicks
}

func (s *fakeRateTicks) TicksPerSecond(ctx context.Context) (float64, error) {
	return s.rate, nil
}

type rig struct {
	drive, steer *fakeActuator
	angle        *fakeAngle
	driveTicks   *fakeRateTicks
	steerTicks   *fakeTicks
}

func newRig() *rig {
	return &rig{
		drive:      &fakeActuator{},
		steer:      &fakeActuator{},
		angle:      &fakeAngle{},
		driveTicks: &fakeRateTicks{},
		steerTicks: &fakeTicks{},
	}
}

func (r *rig) hardware() Hardware {
	return Hardware{
		Drive:      r.drive,
		Steer:      r.steer,
		Angle:      r.angle,
		DriveTicks: r.driveTicks,
		SteerTicks: r.steerTicks,
	}
}

func testConfig() Config {
	return Config{
		Location:           FrontRight,
		EncoderOffset:      0.25,
		TicksPerRevolution: 2048,
		DriveGearRatio:     6.54,
		SteerGearRatio:     15.43,
		WheelCircumference: 0.10322 * 3.141592653589793,
		MaxLinearSpeed:     4,
		SteerKp:            0.8,
	}
}
