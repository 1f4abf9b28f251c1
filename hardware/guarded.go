package hardware

import (
	"context"
	"math"
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"swerve/telemetry"
)

// guard holds the last good reading of a sensor and reports when readings go bad.
type guard struct {
	name   string
	logger logging.Logger
	sink   telemetry.Sink

	mu       sync.Mutex
	last     float64
	haveGood bool
	degraded bool
}

func (g *guard) read(ctx context.Context, read func(context.Context) (float64, error)) (float64, error) {
	v, err := read(ctx)
	if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
		err = errors.Errorf("%s read %v", g.name, v)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		if g.degraded {
			g.logger.Infow("sensor recovered", "sensor", g.name)
			g.degraded = false
			g.sink.Publish(telemetry.KeySensorDegraded+"."+g.name, false)
		}
		g.last, g.haveGood = v, true
		return v, nil
	}
	if !g.degraded {
		g.logger.Warnw("sensor degraded, holding last good value", "sensor", g.name, "error", err)
		g.degraded = true
		g.sink.Publish(telemetry.KeySensorDegraded+"."+g.name, true)
	}
	if !g.haveGood {
		return 0, err
	}
	return g.last, nil
}

// Degraded reports whether the last read failed.
func (g *guard) Degraded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.degraded
}

func newGuard(name string, logger logging.Logger, sink telemetry.Sink) *guard {
	if logger == nil {
		logger = logging.NewLogger("hardware")
	}
	if sink == nil {
		sink = telemetry.Nop{}
	}
	return &guard{name: name, logger: logger, sink: sink}
}

// GuardedAngle is an AngleSensor that replaces failed or non-finite reads with the last good one.
// Until a first good read it returns the error.
type GuardedAngle struct {
	*guard
	sensor AngleSensor
}

// GuardAngle wraps sensor.
func GuardAngle(name string, sensor AngleSensor, logger logging.Logger, sink telemetry.Sink) *GuardedAngle {
	return &GuardedAngle{guard: newGuard(name, logger, sink), sensor: sensor}
}

// Rotation implements AngleSensor.
func (g *GuardedAngle) Rotation(ctx context.Context) (float64, error) {
	return g.read(ctx, g.sensor.Rotation)
}

// GuardedYaw is a YawSensor that replaces failed or non-finite reads with the last good one.
type GuardedYaw struct {
	*guard
	sensor YawSensor
}

// GuardYaw wraps sensor.
func GuardYaw(name string, sensor YawSensor, logger logging.Logger, sink telemetry.Sink) *GuardedYaw {
	return &GuardedYaw{guard: newGuard(name, logger, sink), sensor: sensor}
}

// YawDegrees implements YawSensor.
func (g *GuardedYaw) YawDegrees(ctx context.Context) (float64, error) {
	return g.read(ctx, g.sensor.YawDegrees)
}

// GuardedTicks is a TickSensor that replaces failed or non-finite reads with the last good count,
// so odometry sees no motion while a drive or steer sensor is out.
type GuardedTicks struct {
	*guard
	sensor TickSensor
}

// Ticks implements TickSensor.
func (g *GuardedTicks) Ticks(ctx context.Context) (float64, error) {
	return g.read(ctx, g.sensor.Ticks)
}

// GuardedTickRate is a GuardedTicks whose sensor also reports velocity. The rate is guarded on
// its own.
type GuardedTickRate struct {
	*GuardedTicks
	rate       *guard
	rateSensor TickRateSensor
}

// TicksPerSecond implements TickRateSensor.
func (g *GuardedTickRate) TicksPerSecond(ctx context.Context) (float64, error) {
	return g.rate.read(ctx, g.rateSensor.TicksPerSecond)
}

// GuardTicks wraps sensor. The result is a TickRateSensor exactly when sensor is one.
func GuardTicks(name string, sensor TickSensor, logger logging.Logger, sink telemetry.Sink) TickSensor {
	ticks := &GuardedTicks{guard: newGuard(name, logger, sink), sensor: sensor}
	if rate, ok := sensor.(TickRateSensor); ok {
		return &GuardedTickRate{GuardedTicks: ticks, rate: newGuard(name+"-rate", logger, sink), rateSensor: rate}
	}
	return ticks
}
