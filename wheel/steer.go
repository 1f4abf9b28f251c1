package wheel

import "math"

// SteerCommand is the result of the shortest-path steering decision for one wheel.
type SteerCommand struct {
	// SteerOutput is the signed percent output for the steer actuator. Positive turns clockwise.
	SteerOutput float64
	// DriveOutput is the signed percent output for the drive actuator.
	DriveOutput float64
	// Error is the remaining rotation in degrees, never more than 90.
	Error float64
	// SpinDirection is 1 for clockwise, -1 for counter-clockwise.
	SpinDirection float64
	// DriveDirection is 1 for forward, -1 when the wheel drives reversed.
	DriveDirection float64
}

// NormalizeDegrees wraps an angle into [0, 360).
func NormalizeDegrees(angle float64) float64 {
	angle = math.Mod(angle, 360)
	if angle < 0 {
		angle += 360
	}
	if angle >= 360 {
		angle = 0
	}
	return angle
}

// ComputeSteerCommand picks the steer direction and drive sign that bring a wheel at wheelAngle
// (degrees, clockwise from forward, in [0, 360)) to face targetAngle with at most 90 degrees of rotation.
// Facing the opposite direction while driving reversed counts as reaching the target.
func ComputeSteerCommand(kp, desiredSpeed, targetAngle, wheelAngle float64) SteerCommand {
	targetAngle = NormalizeDegrees(targetAngle)

	var cmd SteerCommand
	delta := targetAngle - wheelAngle
	if delta >= 0 {
		switch {
		case delta <= 90:
			cmd.Error, cmd.SpinDirection, cmd.DriveDirection = delta, 1, 1
		case delta <= 180:
			// head for the opposite of the target and drive backwards
			cmd.Error, cmd.SpinDirection, cmd.DriveDirection = 180-delta, -1, -1
		case delta <= 270:
			cmd.Error, cmd.SpinDirection, cmd.DriveDirection = delta-180, 1, -1
		default:
			cmd.Error, cmd.SpinDirection, cmd.DriveDirection = 360-delta, -1, 1
		}
	} else {
		delta = -delta
		switch {
		case delta <= 90:
			cmd.Error, cmd.SpinDirection, cmd.DriveDirection = delta, -1, 1
		case delta <= 180:
			cmd.Error, cmd.SpinDirection, cmd.DriveDirection = 180-delta, 1, -1
		case delta <= 270:
			cmd.Error, cmd.SpinDirection, cmd.DriveDirection = delta-180, -1, -1
		default:
			cmd.Error, cmd.SpinDirection, cmd.DriveDirection = 360-delta, 1, 1
		}
	}

	// P only; slows the wheel as it closes on the target
	cmd.SteerOutput = kp * (cmd.Error / 90) * cmd.SpinDirection
	cmd.DriveOutput = desiredSpeed * cmd.DriveDirection
	return cmd
}
