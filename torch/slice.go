package torch

import (
	"github.com/pkg/errors"
	"github.com/sugarme/gotch/ts"
)

// MidSlice returns the central axial slice of the first sample and
// channel of a [N C D H W] tensor, row-major.
func MidSlice(x *ts.Tensor) (values []float64, height, width int, err error) {
	size := x.MustSize()
	if len(size) != 5 {
		return nil, 0, 0, errors.Errorf("want [N C D H W], got %v", size)
	}

	// [N C D H W] -> [C D H W] -> [D H W] -> [H W]
	sample := x.MustSelect(0, 0, false)
	channel := sample.MustSelect(0, 0, true)
	plane := channel.MustSelect(0, size[2]/2, true)
	flat := plane.MustContiguous(true)
	values = flat.Float64Values()
	flat.MustDrop()

	return values, int(size[3]), int(size[4]), nil
}
