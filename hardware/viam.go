package hardware

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"go.viam.com/rdk/components/encoder"
	"go.viam.com/rdk/spatialmath"
)

type powerSetter interface {
	SetPower(ctx context.Context, powerPct float64, extra map[string]interface{}) error
}

type revolutionCounter interface {
	Position(ctx context.Context, extra map[string]interface{}) (float64, error)
}

type encoderPosition interface {
	Position(ctx context.Context, positionType encoder.PositionType, extra map[string]interface{}) (float64, encoder.PositionType, error)
}

type orientationReporter interface {
	Orientation(ctx context.Context, extra map[string]interface{}) (spatialmath.Orientation, error)
}

// MotorActuator drives a viam motor.
type MotorActuator struct {
	Motor powerSetter
}

// SetPower implements Actuator, clamping to [-1, 1].
func (a MotorActuator) SetPower(ctx context.Context, powerPct float64) error {
	if math.IsNaN(powerPct) {
		return errors.New("power is not a number")
	}
	return a.Motor.SetPower(ctx, math.Max(-1, math.Min(1, powerPct)), nil)
}

// MotorTicks reads a viam motor's integrated encoder, which reports revolutions, as ticks.
type MotorTicks struct {
	Motor              revolutionCounter
	TicksPerRevolution float64
}

// Ticks implements TickSensor.
func (m MotorTicks) Ticks(ctx context.Context) (float64, error) {
	revs, err := m.Motor.Position(ctx, nil)
	if err != nil {
		return 0, err
	}
	return revs * m.TicksPerRevolution, nil
}

// EncoderTicks reads a viam incremental encoder as ticks.
type EncoderTicks struct {
	Encoder            encoderPosition
	TicksPerRevolution float64
}

// Ticks implements TickSensor.
func (e EncoderTicks) Ticks(ctx context.Context) (float64, error) {
	pos, kind, err := e.Encoder.Position(ctx, encoder.PositionTypeTicks, nil)
	if err != nil {
		return 0, err
	}
	if kind == encoder.PositionTypeDegrees {
		return pos / 360 * e.TicksPerRevolution, nil
	}
	return pos, nil
}

// AbsoluteEncoder reads a viam absolute encoder as a rotation in [0, 1).
type AbsoluteEncoder struct {
	Encoder encoderPosition
}

// Rotation implements AngleSensor.
func (e AbsoluteEncoder) Rotation(ctx context.Context) (float64, error) {
	deg, kind, err := e.Encoder.Position(ctx, encoder.PositionTypeDegrees, nil)
	if err != nil {
		return 0, err
	}
	if kind != encoder.PositionTypeDegrees {
		return 0, errors.New("encoder does not report absolute degrees")
	}
	r := math.Mod(deg/360, 1)
	if r < 0 {
		r++
	}
	if r >= 1 {
		r = 0
	}
	return r, nil
}

// MovementSensorYaw reads yaw from a viam movement sensor. Viam yaw is counter-clockwise; the
// result is clockwise degrees like a flight-controller IMU.
type MovementSensorYaw struct {
	Sensor orientationReporter
}

// YawDegrees implements YawSensor.
func (m MovementSensorYaw) YawDegrees(ctx context.Context) (float64, error) {
	o, err := m.Sensor.Orientation(ctx, nil)
	if err != nil {
		return 0, err
	}
	if o == nil {
		return 0, errors.New("movement sensor returned no orientation")
	}
	return -o.EulerAngles().Yaw * 180 / math.Pi, nil
}
