package domain

import "testing"

func TestRoundMoney(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{0, 0},
		{1.005, 1.0},
		{1.015, 1.01},
		{2.675, 2.67},
		{12.25, 12.25},
		{-3.456, -3.46},
		{26500, 26500},
	}
	for _, tc := range cases {
		if got := RoundMoney(tc.in); got != tc.want {
			t.Errorf("RoundMoney(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestLineTotal(t *testing.T) {
	if got := LineTotal(12.25, 3); got != 36.75 {
		t.Fatalf("LineTotal(12.25, 3) = %v, want 36.75", got)
	}
	if got := LineTotal(26500, 7); got != 185500 {
		t.Fatalf("LineTotal(26500, 7) = %v, want 185500", got)
	}
}

func TestProductDerivedFields(t *testing.T) {
	p := Product{CostPrice: 18000, SellingPrice: 26500, QuantityStocked: 48, QuantitySold: 13}
	if p.Profit() != 8500 {
		t.Fatalf("Profit() = %v, want 8500", p.Profit())
	}
	if p.QuantityAvailable() != 35 {
		t.Fatalf("QuantityAvailable() = %d, want 35", p.QuantityAvailable())
	}
}
