// Package telemetry holds the fire-and-forget telemetry sink used by the drivetrain.
package telemetry

import "sync"

// Keys published by the drivetrain.
const (
	KeyFrontLeftPosition   = "fl_position"
	KeyFrontLeftAngle      = "fl_angle"
	KeyRobotAngle          = "robot_angle"
	KeyFrontRightSpeed     = "fr_drive_speed"
	KeyFrontRightTarget    = "fr_target_angle"
	KeyDriveToX            = "drive_to_x"
	KeyDriveToY            = "drive_to_y"
	KeyDriveToTheta        = "drive_to_theta"
	KeyPoseX               = "pose_x"
	KeyPoseY               = "pose_y"
	KeyPoseTheta           = "pose_theta"
	KeySensorDegraded      = "sensor_degraded"
	KeyOdometryCalibrated  = "odometry_calibrated"
	KeyLastOdometryRefresh = "last_odometry_refresh"
)

// Sink receives telemetry points. Publish must not block and must not fail.
type Sink interface {
	Publish(key string, value interface{})
}

// Nop is a Sink that drops everything.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(string, interface{}) {}

// Store is a Sink that keeps the latest value for each key.
type Store struct {
	mu     sync.RWMutex
	values map[string]interface{}
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{values: map[string]interface{}{}}
}

// Publish records value under key.
func (s *Store) Publish(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Get returns the latest value for key, or nil.
func (s *Store) Get(key string) interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key]
}

// All returns a copy of every recorded value.
func (s *Store) All() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	toReturn := make(map[string]interface{}, len(s.values))
	for k, v := range s.values {
		toReturn[k] = v
	}
	return toReturn
}
