package vmm

import "microkern/kernel"

// ErrRangeExhausted is returned when no free virtual range large enough for
// the request remains.
var ErrRangeExhausted = &kernel.Error{Module: "vmm", Message: "no free virtual range large enough for request", Kind: kernel.KindOutOfMemory}

// freeSpan is one entry of a rangeSet's sorted free-list.
type freeSpan struct {
	base uintptr
	size uint64
}

// rangeSet is a first-fit virtual-range allocator over [base, limit). It
// keeps a sorted free-list of [base, base+size) spans per address space and
// hands out the first span that fits, splitting or merging spans as
// needed, so distinct allocations get distinct, non-overlapping bases.
type rangeSet struct {
	spans []freeSpan // kept sorted by base, non-overlapping, non-adjacent
}

func newRangeSet(base, limit uintptr) *rangeSet {
	return &rangeSet{spans: []freeSpan{{base: base, size: uint64(limit - base)}}}
}

// alloc finds the first free span that fits size, carving size bytes off its
// front and returning the base it handed out.
func (r *rangeSet) alloc(size uint64) (uintptr, *kernel.Error) {
	for i, s := range r.spans {
		if s.size < size {
			continue
		}
		base := s.base
		if s.size == size {
			r.spans = append(r.spans[:i], r.spans[i+1:]...)
		} else {
			r.spans[i] = freeSpan{base: s.base + uintptr(size), size: s.size - size}
		}
		return base, nil
	}
	return 0, ErrRangeExhausted
}

// free returns [base, base+size) to the free-list, merging it with any
// adjacent spans so repeated alloc/free cycles don't fragment the range.
func (r *rangeSet) free(base uintptr, size uint64) {
	if size == 0 {
		return
	}

	newSpan := freeSpan{base: base, size: size}
	merged := make([]freeSpan, 0, len(r.spans)+1)
	inserted := false

	for _, s := range r.spans {
		switch {
		case !inserted && s.base > newSpan.base:
			merged = append(merged, newSpan)
			inserted = true
			merged = append(merged, s)
		default:
			merged = append(merged, s)
		}
	}
	if !inserted {
		merged = append(merged, newSpan)
	}

	r.spans = coalesce(merged)
}

// coalesce merges adjacent/overlapping spans in a base-sorted list.
func coalesce(spans []freeSpan) []freeSpan {
	if len(spans) < 2 {
		return spans
	}
	out := spans[:1]
	for _, s := range spans[1:] {
		last := &out[len(out)-1]
		if last.base+uintptr(last.size) >= s.base {
			end := s.base + uintptr(s.size)
			if end-last.base > 0 {
				last.size = uint64(end - last.base)
			}
			continue
		}
		out = append(out, s)
	}
	return out
}
