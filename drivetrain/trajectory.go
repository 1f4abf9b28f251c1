package drivetrain

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"swerve/odometry"
)

// ErrNoTrajectoryGenerator is returned by GenerateTrajectory when no planner was configured.
var ErrNoTrajectoryGenerator = errors.New("no trajectory generator configured")

// TrajectoryConstraints bound a generated trajectory.
type TrajectoryConstraints struct {
	MaxVelocity     float64
	MaxAcceleration float64
}

// TrajectoryState is one time-stamped sample of a trajectory.
type TrajectoryState struct {
	Time     time.Duration
	Pose     odometry.Pose2D
	Velocity float64
}

// Trajectory is a time-ordered sequence of samples.
type Trajectory []TrajectoryState

// Duration is the time of the last sample.
func (t Trajectory) Duration() time.Duration {
	if len(t) == 0 {
		return 0
	}
	return t[len(t)-1].Time
}

// TrajectoryGenerator plans a path from the current pose through waypoints to goal.
type TrajectoryGenerator interface {
	GenerateTrajectory(
		ctx context.Context,
		current odometry.Pose2D,
		waypoints []odometry.Translation2D,
		goal odometry.Pose2D,
		constraints TrajectoryConstraints,
	) (Trajectory, error)
}

// GenerateTrajectory plans from the current pose using the drive speed limits.
func (d *Drivetrain) GenerateTrajectory(ctx context.Context, waypoints []odometry.Translation2D, goal odometry.Pose2D) (Trajectory, error) {
	if d.trajectories == nil {
		return nil, ErrNoTrajectoryGenerator
	}
	constraints := TrajectoryConstraints{
		MaxVelocity:     d.cfg.MaxLinearSpeed,
		MaxAcceleration: d.cfg.Translation.MaxAcceleration,
	}
	traj, err := d.trajectories.GenerateTrajectory(ctx, d.Pose(), waypoints, goal, constraints)
	if err != nil {
		return nil, errors.Wrap(err, "generating trajectory")
	}
	if len(traj) == 0 {
		return nil, errors.New("trajectory generator returned no samples")
	}
	d.logger.Debugw("trajectory generated", "samples", len(traj), "duration", traj.Duration(), "goal", goal)
	return traj, nil
}
