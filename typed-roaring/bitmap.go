package typedRoaring

import (
	"iter"
	"math"

	"github.com/RoaringBitmap/roaring"
	"golang.org/x/exp/constraints"
)

type BitConstraint interface {
	constraints.Integer
}

// A roaring.Bitmap that only admits values of T. Read-only methods take value receivers so they
// can be called on bitmaps returned from functions.
type Bitmap[T BitConstraint] struct {
	roaring.Bitmap
}

// Whether x can be stored without truncation. Values outside are never members.
func representable[T BitConstraint](x T) bool {
	return x >= 0 && uint64(x) <= math.MaxUint32
}

func (me Bitmap[T]) Contains(x T) bool {
	if !representable(x) {
		return false
	}
	return me.Bitmap.Contains(uint32(x))
}

func (me Bitmap[T]) Len() int {
	return int(me.Bitmap.GetCardinality())
}

func (me Bitmap[T]) IsEmpty() bool {
	return me.Bitmap.IsEmpty()
}

func (me Bitmap[T]) Iterate(f func(x T) bool) {
	me.Bitmap.Iterate(func(x uint32) bool {
		return f(T(x))
	})
}

func (me Bitmap[T]) Values() iter.Seq[T] {
	return func(yield func(T) bool) {
		me.Iterate(yield)
	}
}

// Values in ascending order.
func (me Bitmap[T]) Slice() []T {
	ret := make([]T, 0, me.Len())
	me.Iterate(func(x T) bool {
		ret = append(ret, x)
		return true
	})
	return ret
}

// Values that don't fit in 32 bits are ignored.
func (me *Bitmap[T]) Add(x T) {
	me.CheckedAdd(x)
}

// Returns false if x was already present or can't be stored.
func (me *Bitmap[T]) CheckedAdd(x T) bool {
	if !representable(x) {
		return false
	}
	return me.Bitmap.CheckedAdd(uint32(x))
}

func (me *Bitmap[T]) Remove(x T) {
	me.CheckedRemove(x)
}

func (me *Bitmap[T]) CheckedRemove(x T) bool {
	if !representable(x) {
		return false
	}
	return me.Bitmap.CheckedRemove(uint32(x))
}

func (me Bitmap[T]) Clone() Bitmap[T] {
	return Bitmap[T]{*me.Bitmap.Clone()}
}

// Returns a new bitmap holding values present in both.
func (me Bitmap[T]) Intersect(other Bitmap[T]) Bitmap[T] {
	return Bitmap[T]{*roaring.And(&me.Bitmap, &other.Bitmap)}
}

// Returns a new bitmap holding values of me below limit.
func (me Bitmap[T]) Below(limit T) (ret Bitmap[T]) {
	if limit <= 0 {
		return
	}
	ret = me.Clone()
	ret.Bitmap.RemoveRange(uint64(limit), roaring.MaxRange)
	return
}
