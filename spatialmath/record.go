package spatialmath

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// TransformRecord is the plain serializable form of a Transform used in pose archives.
type TransformRecord struct {
	Scale       float64    `json:"scale"`
	Rotation    [4]float64 `json:"rotation"`
	Translation [3]float64 `json:"translation"`
}

// Record returns the serializable copy of t.
func (t Transform) Record() TransformRecord {
	return TransformRecord{
		Scale:       t.Scale,
		Rotation:    [4]float64{t.Rotation.Real, t.Rotation.Imag, t.Rotation.Jmag, t.Rotation.Kmag},
		Translation: [3]float64{t.Translation.X, t.Translation.Y, t.Translation.Z},
	}
}

// FromRecord rebuilds a transform of the given kind from a record. A record carrying components
// the kind cannot hold is rejected.
func FromRecord(kind TransformKind, rec TransformRecord) (Transform, error) {
	t := Transform{
		Kind:        kind,
		Rotation:    quat.Number{Real: rec.Rotation[0], Imag: rec.Rotation[1], Jmag: rec.Rotation[2], Kmag: rec.Rotation[3]},
		Translation: r3.Vector{X: rec.Translation[0], Y: rec.Translation[1], Z: rec.Translation[2]},
		Scale:       rec.Scale,
	}
	if err := t.Validate(); err != nil {
		return Transform{}, err
	}
	return t, nil
}
