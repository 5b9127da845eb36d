// Package money represents monetary values as integer minor units
// (cents). Arithmetic on cents is exact; floats never enter the math.
package money

import "fmt"

type Amount int64

// Mul returns the amount multiplied by a quantity.
func (a Amount) Mul(qty int) Amount {
	return a * Amount(qty)
}

func (a Amount) Add(b Amount) Amount {
	return a + b
}

func (a Amount) Cents() int64 {
	return int64(a)
}

// String renders the amount as a decimal string, e.g. 2000 -> "20.00".
func (a Amount) String() string {
	cents := int64(a)
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
