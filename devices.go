package main

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/encoder"
	"go.viam.com/rdk/components/motor"
	"go.viam.com/rdk/components/movementsensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"

	"swerve/drivetrain"
	"swerve/hardware"
	"swerve/telemetry"
	"swerve/wheel"
)

var locations = [4]wheel.Location{wheel.FrontLeft, wheel.FrontRight, wheel.BackLeft, wheel.BackRight}

// buildHardware resolves the drivetrain devices either from viam components or from a CAN bus.
// The returned bus is nil for viam components and must be closed by the caller otherwise.
func buildHardware(
	ctx context.Context,
	deps resource.Dependencies,
	cfg *Config,
	sink telemetry.Sink,
	logger logging.Logger,
) (drivetrain.Hardware, *hardware.Bus, error) {
	if cfg.CAN != nil {
		return canHardware(ctx, cfg, sink, logger)
	}
	hw, err := componentHardware(deps, cfg, sink, logger)
	return hw, nil, err
}

func componentHardware(
	deps resource.Dependencies,
	cfg *Config,
	sink telemetry.Sink,
	logger logging.Logger,
) (drivetrain.Hardware, error) {
	var hw drivetrain.Hardware
	ticksPerRev := cfg.drivetrainConfig().TicksPerRevolution
	for i, m := range cfg.modules() {
		drive, err := motor.FromDependencies(deps, m.DriveMotor)
		if err != nil {
			return hw, errors.Wrapf(err, "%s drive motor", locations[i])
		}
		steer, err := motor.FromDependencies(deps, m.SteerMotor)
		if err != nil {
			return hw, errors.Wrapf(err, "%s steer motor", locations[i])
		}
		enc, err := encoder.FromDependencies(deps, m.SteerEncoder)
		if err != nil {
			return hw, errors.Wrapf(err, "%s steer encoder", locations[i])
		}
		var driveTicks hardware.TickSensor = hardware.MotorTicks{Motor: drive, TicksPerRevolution: ticksPerRev}
		driveTicksName := m.DriveMotor
		if m.DriveEncoder != "" {
			driveEnc, err := encoder.FromDependencies(deps, m.DriveEncoder)
			if err != nil {
				return hw, errors.Wrapf(err, "%s drive encoder", locations[i])
			}
			driveTicks = hardware.EncoderTicks{Encoder: driveEnc, TicksPerRevolution: ticksPerRev}
			driveTicksName = m.DriveEncoder
		}
		hw.Modules[i] = wheel.Hardware{
			Drive:      hardware.MotorActuator{Motor: drive},
			Steer:      hardware.MotorActuator{Motor: steer},
			Angle:      hardware.GuardAngle(m.SteerEncoder, hardware.AbsoluteEncoder{Encoder: enc}, logger, sink),
			DriveTicks: hardware.GuardTicks(driveTicksName, driveTicks, logger, sink),
			SteerTicks: hardware.GuardTicks(
				m.SteerMotor, hardware.MotorTicks{Motor: steer, TicksPerRevolution: ticksPerRev}, logger, sink),
		}
	}

	ms, err := movementsensor.FromDependencies(deps, cfg.MovementSensor)
	if err != nil {
		return hw, errors.Wrap(err, "movement sensor")
	}
	hw.Yaw = hardware.GuardYaw(cfg.MovementSensor, hardware.MovementSensorYaw{Sensor: ms}, logger, sink)
	return hw, nil
}

func canHardware(
	ctx context.Context,
	cfg *Config,
	sink telemetry.Sink,
	logger logging.Logger,
) (drivetrain.Hardware, *hardware.Bus, error) {
	var hw drivetrain.Hardware
	ids := cfg.telemetryIDs()
	bus, err := hardware.OpenBus(cfg.CAN.busConfig(), ids, logger)
	if err != nil {
		return hw, nil, err
	}

	// modules zero against their sensors at construction
	awaitCtx, cancel := context.WithTimeout(ctx, cfg.CAN.startupTimeout())
	defer cancel()
	if err := bus.Await(awaitCtx, ids...); err != nil {
		return hw, nil, multierr.Combine(err, bus.Close())
	}

	for i, m := range cfg.modules() {
		name := locations[i].String()
		hw.Modules[i] = wheel.Hardware{
			Drive:      bus.Actuator(m.DriveCANID),
			Steer:      bus.Actuator(m.SteerCANID),
			Angle:      hardware.GuardAngle(name+"-encoder", bus.AbsoluteEncoder(m.EncoderCANID), logger, sink),
			DriveTicks: hardware.GuardTicks(name+"-drive", bus.MotorSensor(m.DriveStatusCANID), logger, sink),
			SteerTicks: hardware.GuardTicks(name+"-steer", bus.MotorSensor(m.SteerStatusCANID), logger, sink),
		}
	}
	hw.Yaw = hardware.GuardYaw("imu", bus.IMU(cfg.CAN.IMUCANID), logger, sink)
	return hw, bus, nil
}
