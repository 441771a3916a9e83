package randomaccess

import "math"

// rangeEnd returns offset+length and whether the sum fits in a uint64.
func rangeEnd(offset, length uint64) (uint64, bool) {
	if length > math.MaxUint64-offset {
		return math.MaxUint64, false
	}
	return offset + length, true
}

// CheckRead validates a read of length bytes at offset against the current
// storage length. The returned error is an *OutOfBoundsError or nil.
func CheckRead(offset, length, size uint64) error {
	end, ok := rangeEnd(offset, length)
	if !ok || end > size {
		return OutOfRange(offset, end, size)
	}
	return nil
}

// CheckDel validates a delete against the current length and reports whether
// it must be carried out as a truncation to offset. A delete starting past
// the end is out of bounds; one reaching the end, exactly or beyond it,
// truncates.
func CheckDel(offset, length, size uint64) (truncate bool, err error) {
	end, ok := rangeEnd(offset, length)
	if offset > size {
		return false, OutOfRange(offset, end, size)
	}
	if !ok || end >= size {
		return true, nil
	}
	return false, nil
}

// CheckWrite validates a write of n bytes at offset against a fixed backend
// capacity and returns the end of the written range. A capacity of zero
// means unbounded.
func CheckWrite(offset uint64, n int, capacity uint64) (uint64, error) {
	end, ok := rangeEnd(offset, uint64(n))
	if !ok {
		return 0, OutOfRange(offset, end, capacity)
	}
	if capacity > 0 && end > capacity {
		return 0, OutOfRange(offset, end, capacity)
	}
	return end, nil
}

// CheckCapacity validates a new length against a fixed backend capacity.
// A capacity of zero means unbounded.
func CheckCapacity(length, capacity uint64) error {
	if capacity > 0 && length > capacity {
		return OutOfLength(length, capacity)
	}
	return nil
}

// MaxAlloc is the largest single buffer the in-memory paths allocate. It
// also caps the length of an unbounded memory backend.
const MaxAlloc = uint64(1) << 40

// CheckAlloc rejects reads too large to be returned as one slice. Such
// ranges are still readable with ReadTo.
func CheckAlloc(offset, length uint64) error {
	if length > MaxAlloc {
		end, _ := rangeEnd(offset, length)
		return OutOfRange(offset, end, MaxAlloc)
	}
	return nil
}
