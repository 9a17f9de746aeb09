package systems

import (
	"math"

	"github.com/ojrac/opensimplex-go"
	"gonum.org/v1/gonum/spatial/r3"
)

// Sample offsets decorrelating the two noise channels.
const (
	azimuthOffsetX = 31.416
	azimuthOffsetY = 47.853
	azimuthOffsetZ = 12.734
)

// IdleField maps positions to smooth wander directions on the unit sphere.
// Evaluation is read-only, so one field can serve all workers.
type IdleField struct {
	noise      opensimplex.Noise
	frequency  float64
	timeOffset bool
}

// NewIdleField creates a wander field from a seed.
func NewIdleField(seed int64, frequency float64, timeOffset bool) *IdleField {
	return &IdleField{
		noise:      opensimplex.New(seed),
		frequency:  frequency,
		timeOffset: timeOffset,
	}
}

// Direction returns a unit vector for pos at time t. The same inputs always
// give the same direction.
func (f *IdleField) Direction(pos r3.Vec, t float64) r3.Vec {
	p := pos
	if f.timeOffset {
		p = r3.Add(p, r3.Vec{X: t, Y: t, Z: t})
	}
	p = r3.Scale(f.frequency, p)

	// One channel picks the height on the sphere, the other the azimuth.
	z := clampFloat(f.noise.Eval3(p.X, p.Y, p.Z), -1, 1)
	phi := f.noise.Eval3(p.X+azimuthOffsetX, p.Y+azimuthOffsetY, p.Z+azimuthOffsetZ) * math.Pi
	r := math.Sqrt(1 - z*z)
	sin, cos := math.Sincos(phi)
	return r3.Vec{X: r * cos, Y: r * sin, Z: z}
}
