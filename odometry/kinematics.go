package odometry

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ModulePosition is a wheel's distance rolled (meters) and its angle (radians, counter-clockwise).
type ModulePosition struct {
	Distance float64
	Angle    float64
}

// Kinematics solves the forward kinematics of a set of wheels at fixed locations.
type Kinematics struct {
	locations []Translation2D
	forward   *mat.Dense
}

// NewKinematics builds the least-squares forward kinematics for wheels at locations (meters, field frame
// axes relative to the robot center).
func NewKinematics(locations ...Translation2D) (*Kinematics, error) {
	if len(locations) < 2 {
		return nil, errors.Errorf("need at least two wheel locations, got %d", len(locations))
	}
	inverse := mat.NewDense(2*len(locations), 3, nil)
	for i, loc := range locations {
		inverse.SetRow(2*i, []float64{1, 0, -loc.Y})
		inverse.SetRow(2*i+1, []float64{0, 1, loc.X})
	}
	var qr mat.QR
	qr.Factorize(inverse)
	var forward mat.Dense
	if err := qr.SolveTo(&forward, false, identity(2*len(locations))); err != nil {
		return nil, errors.Wrap(err, "wheel locations do not determine a twist")
	}
	if !finite(&forward) {
		return nil, errors.New("wheel locations do not determine a twist")
	}
	return &Kinematics{locations: append([]Translation2D(nil), locations...), forward: &forward}, nil
}

// NumWheels is the number of wheel locations.
func (k *Kinematics) NumWheels() int {
	return len(k.locations)
}

// ToTwist estimates the robot motion that best explains the wheel deltas.
func (k *Kinematics) ToTwist(deltas []ModulePosition) (Twist2D, error) {
	if len(deltas) != len(k.locations) {
		return Twist2D{}, errors.Errorf("expected %d wheel deltas, got %d", len(k.locations), len(deltas))
	}
	moved := mat.NewVecDense(2*len(deltas), nil)
	for i, d := range deltas {
		s, c := math.Sincos(d.Angle)
		moved.SetVec(2*i, d.Distance*c)
		moved.SetVec(2*i+1, d.Distance*s)
	}
	var chassis mat.VecDense
	chassis.MulVec(k.forward, moved)
	return Twist2D{DX: chassis.AtVec(0), DY: chassis.AtVec(1), DTheta: chassis.AtVec(2)}, nil
}

func identity(n int) *mat.Dense {
	id := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		id.Set(i, i, 1)
	}
	return id
}

func finite(m *mat.Dense) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := m.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
