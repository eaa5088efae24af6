package vmm

import (
	"go.uber.org/multierr"

	"microkern/kernel"
)

// joinErr accumulates per-page/per-table cleanup failures during Destroy
// instead of stopping at the first one, so every frame gets a free attempt
// even if an earlier one failed, the same cleanup discipline Alloc's unwind
// uses, generalized to Destroy's teardown.
//
// next is accepted as *kernel.Error rather than error so a nil result from
// Free doesn't turn into a non-nil typed-nil error interface.
func joinErr(into error, next *kernel.Error) error {
	if next == nil {
		return into
	}
	return multierr.Append(into, next)
}
