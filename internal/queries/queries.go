// Package queries holds what the per-engine query packages share.
package queries

import (
	"errors"
	"fmt"
	"slices"
)

// Count is the number of TPC-H queries.
const Count = 22

var ErrUnknownQuery = errors.New("unknown query")

// Numbers returns 1..Count.
func Numbers() []int {
	numbers := make([]int, Count)
	for i := range numbers {
		numbers[i] = i + 1
	}
	return numbers
}

// Validate rejects query numbers outside 1..Count.
func Validate(numbers ...int) error {
	for _, n := range numbers {
		if n < 1 || n > Count {
			return fmt.Errorf("%w: %v", ErrUnknownQuery, n)
		}
	}
	return nil
}

// Unordered lists the queries whose result has no explicit order. They are
// single row aggregates, so any order is the same.
var Unordered = []int{6, 14, 17, 19}

func Ordered(n int) bool { return !slices.Contains(Unordered, n) }

// Q11Fraction is the share of the total German stock value a part must exceed
// in query 11.
func Q11Fraction(scaleFactor float64) float64 { return 0.0001 / scaleFactor }
