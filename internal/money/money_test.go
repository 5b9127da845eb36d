package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAmount_String(t *testing.T) {
	testCases := []struct {
		name     string
		amount   Amount
		expected string
	}{
		{name: "Whole dollars", amount: 2000, expected: "20.00"},
		{name: "With cents", amount: 1999, expected: "19.99"},
		{name: "Zero", amount: 0, expected: "0.00"},
		{name: "Under a dollar", amount: 5, expected: "0.05"},
		{name: "Negative", amount: -150, expected: "-1.50"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.amount.String())
		})
	}
}

func TestAmount_Arithmetic(t *testing.T) {
	assert.Equal(t, Amount(6000), Amount(2000).Mul(3))
	assert.Equal(t, Amount(2500), Amount(2000).Add(500))
	assert.Equal(t, int64(1999), Amount(1999).Cents())
}
