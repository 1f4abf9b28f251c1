// Package wheel implements a single swerve module: decoding its absolute steer sensor,
// tracking zero references and issuing shortest-path steering commands.
//
// Angles in this package follow the steer sensor: clockwise from robot forward.
package wheel

import (
	"context"
	"math"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"

	"swerve/hardware"
	"swerve/odometry"
)

// Location identifies where a module sits in the 2x2 layout.
type Location int

// Module locations.
const (
	FrontLeft Location = iota
	FrontRight
	BackLeft
	BackRight
)

func (l Location) String() string {
	switch l {
	case FrontLeft:
		return "front-left"
	case FrontRight:
		return "front-right"
	case BackLeft:
		return "back-left"
	case BackRight:
		return "back-right"
	default:
		return "unknown"
	}
}

// ErrNoVelocity is returned by Velocity when the drive sensor cannot report a rate.
var ErrNoVelocity = errors.New("drive sensor does not report velocity")

// Config describes the constants of one module. All values are fixed for the life of the module.
type Config struct {
	Location Location
	// EncoderOffset is the absolute sensor reading, in [0, 1), at which the wheel faces forward.
	EncoderOffset      float64
	TicksPerRevolution float64
	DriveGearRatio     float64
	SteerGearRatio     float64
	// WheelCircumference is in meters.
	WheelCircumference float64
	// MaxLinearSpeed is in meters per second and scales DriveMeters.
	MaxLinearSpeed float64
	SteerKp        float64
}

// Validate rejects constants that would divide by zero downstream.
func (cfg Config) Validate() error {
	if math.IsNaN(cfg.EncoderOffset) || cfg.EncoderOffset < 0 || cfg.EncoderOffset >= 1 {
		return errors.Errorf("%s encoder offset %v must be in [0, 1)", cfg.Location, cfg.EncoderOffset)
	}
	for name, v := range map[string]float64{
		"ticks per revolution": cfg.TicksPerRevolution,
		"drive gear ratio":     cfg.DriveGearRatio,
		"steer gear ratio":     cfg.SteerGearRatio,
		"wheel circumference":  cfg.WheelCircumference,
		"max linear speed":     cfg.MaxLinearSpeed,
	} {
		if !(v > 0) || math.IsInf(v, 0) {
			return errors.Errorf("%s %s must be positive, got %v", cfg.Location, name, v)
		}
	}
	if math.IsNaN(cfg.SteerKp) {
		return errors.Errorf("%s steer kp must be a number", cfg.Location)
	}
	return nil
}

// Hardware is the set of devices a module owns.
type Hardware struct {
	Drive      hardware.Actuator
	Steer      hardware.Actuator
	Angle      hardware.AngleSensor
	DriveTicks hardware.TickSensor
	SteerTicks hardware.TickSensor
}

func (hw Hardware) validate(loc Location) error {
	if hw.Drive == nil || hw.Steer == nil || hw.Angle == nil || hw.DriveTicks == nil || hw.SteerTicks == nil {
		return errors.Errorf("%s module is missing hardware", loc)
	}
	return nil
}

// State is the instantaneous speed (m/s, non-negative) and heading (radians, clockwise) of a module.
type State struct {
	Speed   float64
	Heading float64
}

// Module is one swerve module.
type Module struct {
	cfg    Config
	hw     Hardware
	logger logging.Logger

	mu                 sync.Mutex
	driveZeroTicks     float64
	steerZeroHeading   float64
	steerZeroTicks     float64
	lastSpeed, lastAng float64
}

// NewModule returns a module and captures its first zero references.
func NewModule(ctx context.Context, cfg Config, hw Hardware, logger logging.Logger) (*Module, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := hw.validate(cfg.Location); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewLogger("wheel")
	}
	m := &Module{cfg: cfg, hw: hw, logger: logger}
	if err := m.ResetZero(ctx); err != nil {
		return nil, errors.Wrapf(err, "zeroing %s module", cfg.Location)
	}
	return m, nil
}

// Location reports where the module sits.
func (m *Module) Location() Location {
	return m.cfg.Location
}

// SteerHeading decodes the absolute steer sensor into radians in [0, 2π), clockwise from forward.
func (m *Module) SteerHeading(ctx context.Context) (float64, error) {
	raw, err := m.hw.Angle.Rotation(ctx)
	if err != nil {
		return 0, err
	}
	return DecodeSteerHeading(raw, m.cfg.EncoderOffset), nil
}

// DecodeSteerHeading converts a raw [0, 1) reading into radians in [0, 2π) relative to offset.
// The sensor counts counter-clockwise; the result counts clockwise.
func DecodeSteerHeading(raw, offset float64) float64 {
	reading := math.Mod(raw-offset, 1)
	if reading < 0 {
		reading++
	}
	reading = 1 - reading
	if reading >= 1 {
		reading = 0
	}
	return reading * 2 * math.Pi
}

// ResetZero captures the current drive ticks, steer heading and steer ticks as zero references.
func (m *Module) ResetZero(ctx context.Context) error {
	driveTicks, err := m.hw.DriveTicks.Ticks(ctx)
	if err != nil {
		return errors.Wrap(err, "reading drive ticks")
	}
	heading, err := m.SteerHeading(ctx)
	if err != nil {
		return errors.Wrap(err, "reading steer heading")
	}
	steerTicks, err := m.hw.SteerTicks.Ticks(ctx)
	if err != nil {
		return errors.Wrap(err, "reading steer ticks")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.driveZeroTicks = driveTicks
	m.steerZeroHeading = heading
	m.steerZeroTicks = -steerTicks
	return nil
}

// DriveDisplacement is the distance in meters the wheel has rolled since the last zero.
func (m *Module) DriveDisplacement(ctx context.Context) (float64, error) {
	ticks, err := m.hw.DriveTicks.Ticks(ctx)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	zero := m.driveZeroTicks
	m.mu.Unlock()
	return (ticks - zero) / m.cfg.TicksPerRevolution / m.cfg.DriveGearRatio * m.cfg.WheelCircumference, nil
}

// Velocity is the drive speed in meters per second, signed.
func (m *Module) Velocity(ctx context.Context) (float64, error) {
	rate, ok := m.hw.DriveTicks.(hardware.TickRateSensor)
	if !ok {
		return 0, ErrNoVelocity
	}
	ticksPerSec, err := rate.TicksPerSecond(ctx)
	if err != nil {
		return 0, err
	}
	return ticksPerSec / m.cfg.TicksPerRevolution / m.cfg.DriveGearRatio * m.cfg.WheelCircumference, nil
}

// SteerRotation is the steer rotation in radians since the last zero, counted from the
// sign-inverted steer motor ticks so that clockwise is positive like SteerHeading.
// The result is reduced with math.Mod and so keeps the sign of the rotation.
func (m *Module) SteerRotation(ctx context.Context) (float64, error) {
	ticks, err := m.hw.SteerTicks.Ticks(ctx)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	zero := m.steerZeroTicks
	m.mu.Unlock()
	rotation := (-ticks - zero) / m.cfg.TicksPerRevolution / m.cfg.SteerGearRatio * 2 * math.Pi
	return math.Mod(rotation, 2*math.Pi), nil
}

// ContinuousSteerHeading is the steer heading at the last zero plus SteerRotation, wrapped to [0, 2π).
func (m *Module) ContinuousSteerHeading(ctx context.Context) (float64, error) {
	rotation, err := m.SteerRotation(ctx)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	heading := m.steerZeroHeading + rotation
	m.mu.Unlock()
	heading = math.Mod(heading, 2*math.Pi)
	if heading < 0 {
		heading += 2 * math.Pi
	}
	return heading, nil
}

// Stop commands zero output on both actuators.
func (m *Module) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.lastSpeed = 0
	m.mu.Unlock()
	return multierr.Combine(
		m.hw.Steer.SetPower(ctx, 0),
		m.hw.Drive.SetPower(ctx, 0),
	)
}

// Plan reads the steer heading and computes, without actuating, the command that brings the
// wheel to targetAngle degrees at desiredSpeed percent.
func (m *Module) Plan(ctx context.Context, desiredSpeed, targetAngle float64) (SteerCommand, error) {
	heading, err := m.SteerHeading(ctx)
	if err != nil {
		return SteerCommand{}, err
	}
	return ComputeSteerCommand(m.cfg.SteerKp, desiredSpeed, targetAngle, heading*180/math.Pi), nil
}

// Drive steers toward targetAngle (degrees, clockwise from forward) and drives at desiredSpeed
// percent. A command that is not a number stops the module instead of reaching the actuators.
func (m *Module) Drive(ctx context.Context, desiredSpeed, targetAngle float64) (SteerCommand, error) {
	cmd, err := m.Plan(ctx, desiredSpeed, targetAngle)
	if err != nil {
		return SteerCommand{}, multierr.Combine(err, m.Stop(ctx))
	}
	if math.IsNaN(cmd.SteerOutput) || math.IsNaN(cmd.DriveOutput) {
		m.logger.Warnw("steer command is not a number, stopping", "module", m.cfg.Location.String(),
			"speed", desiredSpeed, "target", targetAngle)
		return SteerCommand{}, m.Stop(ctx)
	}

	m.mu.Lock()
	m.lastSpeed, m.lastAng = desiredSpeed, targetAngle
	m.mu.Unlock()

	if err := m.hw.Steer.SetPower(ctx, cmd.SteerOutput); err != nil {
		return cmd, errors.Wrapf(err, "%s steer", m.cfg.Location)
	}
	if err := m.hw.Drive.SetPower(ctx, cmd.DriveOutput); err != nil {
		return cmd, errors.Wrapf(err, "%s drive", m.cfg.Location)
	}
	return cmd, nil
}

// DriveMeters is Drive with the speed given in meters per second.
func (m *Module) DriveMeters(ctx context.Context, speed, targetAngle float64) (SteerCommand, error) {
	return m.Drive(ctx, speed/m.cfg.MaxLinearSpeed, targetAngle)
}

// Commanded returns the last (speed, target angle) handed to Drive.
func (m *Module) Commanded() (float64, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSpeed, m.lastAng
}

// State reports the drive speed magnitude and the steer heading.
func (m *Module) State(ctx context.Context) (State, error) {
	v, err := m.Velocity(ctx)
	if err != nil {
		return State{}, err
	}
	heading, err := m.SteerHeading(ctx)
	if err != nil {
		return State{}, err
	}
	return State{Speed: math.Abs(v), Heading: heading}, nil
}

// Position reports the module for odometry: meters rolled since the last zero, and the
// wheel angle converted to counter-clockwise radians.
func (m *Module) Position(ctx context.Context) (odometry.ModulePosition, error) {
	distance, err := m.DriveDisplacement(ctx)
	if err != nil {
		return odometry.ModulePosition{}, err
	}
	heading, err := m.SteerHeading(ctx)
	if err != nil {
		return odometry.ModulePosition{}, err
	}
	return odometry.ModulePosition{Distance: distance, Angle: -heading}, nil
}
