package cumulant

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"

	"github.com/priceal/generalized-method-of-moments/domain/core"
)

// MaxOrder is the highest cumulant order the engine estimates.
const MaxOrder = 6

// OrderMask selects which cumulant orders (1..MaxOrder) take part in a computation.
// Bit k-1 is set when order k is active.
type OrderMask uint8

const fullMask OrderMask = 1<<MaxOrder - 1

// FirstN returns the mask of orders 1..n, clamped to [0, MaxOrder].
func FirstN(n int) OrderMask {
	if n <= 0 {
		return 0
	}
	if n > MaxOrder {
		n = MaxOrder
	}
	return OrderMask(1<<n - 1)
}

// MaskOf builds a mask from explicit orders.
func MaskOf(orders ...int) (OrderMask, error) {
	var m OrderMask
	for _, k := range orders {
		if k < 1 || k > MaxOrder {
			return 0, core.NewInputError("order", fmt.Sprintf("%d outside 1..%d", k, MaxOrder))
		}
		m |= 1 << (k - 1)
	}
	return m, nil
}

// MaskFromBools mirrors the positional flag form: flags[i] activates order i+1.
func MaskFromBools(flags []bool) (OrderMask, error) {
	if len(flags) > MaxOrder {
		return 0, core.NewDimensionError("order flags", MaxOrder, len(flags))
	}
	var m OrderMask
	for i, on := range flags {
		if on {
			m |= 1 << i
		}
	}
	return m, nil
}

// Has reports whether order k is active.
func (m OrderMask) Has(k int) bool {
	if k < 1 || k > MaxOrder {
		return false
	}
	return m&(1<<(k-1)) != 0
}

// Count returns the number of active orders.
func (m OrderMask) Count() int {
	return bits.OnesCount8(uint8(m & fullMask))
}

// Orders lists the active orders ascending.
func (m OrderMask) Orders() []int {
	out := make([]int, 0, m.Count())
	for k := 1; k <= MaxOrder; k++ {
		if m.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

// Highest returns the largest active order, or 0 for an empty mask.
func (m OrderMask) Highest() int {
	return bits.Len8(uint8(m & fullMask))
}

// Widen returns m if it already has at least n active orders, otherwise the
// first n orders. An n-step chain needs at least n cumulants.
func (m OrderMask) Widen(n int) OrderMask {
	if m.Count() >= n {
		return m
	}
	return FirstN(n)
}

// CheckDim validates an r×c matrix against the mask.
func (m OrderMask) CheckDim(what string, r, c int) error {
	d := m.Count()
	if r != d {
		return core.NewDimensionError(what+" rows", d, r)
	}
	if c != d {
		return core.NewDimensionError(what+" columns", d, c)
	}
	return nil
}

func (m OrderMask) String() string {
	parts := make([]string, 0, MaxOrder)
	for _, k := range m.Orders() {
		parts = append(parts, strconv.Itoa(k))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Vector holds cumulants of orders 1..MaxOrder; index 0 is the mean.
type Vector [MaxOrder]float64

// Order returns the cumulant of order k.
func (v Vector) Order(k int) float64 {
	return v[k-1]
}

// Select returns the active orders of v in ascending order.
func (v Vector) Select(m OrderMask) []float64 {
	out := make([]float64, 0, m.Count())
	for _, k := range m.Orders() {
		out = append(out, v[k-1])
	}
	return out
}
