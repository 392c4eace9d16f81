package money

import (
	"testing"
)

var (
	EUR = MustGetAsset("EUR")
	SOL = MustGetAsset("SOL")
)

func TestFromMajor(t *testing.T) {
	tests := []struct {
		name       string
		asset      Asset
		major      string
		wantAtomic int64
		wantErr    bool
	}{
		// EUR (2 decimals)
		{"EUR 10.50", EUR, "10.50", 1050, false},
		{"EUR 0.01", EUR, "0.01", 1, false},
		{"EUR 100", EUR, "100", 10000, false},
		{"EUR -5.25", EUR, "-5.25", -525, false},
		{"EUR rounding up", EUR, "10.555", 1056, false},
		{"EUR rounding down", EUR, "10.554", 1055, false},

		// SOL (9 decimals)
		{"SOL 0.5", SOL, "0.5", 500000000, false},
		{"SOL 1", SOL, "1", 1000000000, false},
		{"SOL 0.000000001", SOL, "0.000000001", 1, false},

		// Errors
		{"invalid format", EUR, "10.50.30", 0, true},
		{"invalid number", EUR, "abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromMajor(tt.asset, tt.major)
			if (err != nil) != tt.wantErr {
				t.Errorf("FromMajor() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got.Atomic != tt.wantAtomic {
				t.Errorf("FromMajor() atomic = %v, want %v", got.Atomic, tt.wantAtomic)
			}
		})
	}
}

func TestToMajor(t *testing.T) {
	tests := []struct {
		name  string
		money Money
		want  string
	}{
		{"EUR 10.50", Money{EUR, 1050}, "10.50"},
		{"EUR 0.01", Money{EUR, 1}, "0.01"},
		{"EUR 100", Money{EUR, 10000}, "100.00"},
		{"EUR -5.25", Money{EUR, -525}, "-5.25"},
		{"EUR zero", Money{EUR, 0}, "0.00"},

		{"SOL 0.5", Money{SOL, 500000000}, "0.500000000"},
		{"SOL 10", Money{SOL, 10000000000}, "10.000000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.money.ToMajor()
			if got != tt.want {
				t.Errorf("ToMajor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFromAtomic(t *testing.T) {
	tests := []struct {
		name       string
		asset      Asset
		atomic     string
		wantAtomic int64
		wantErr    bool
	}{
		{"EUR 1050", EUR, "1050", 1050, false},
		{"SOL 1500000000", SOL, "1500000000", 1500000000, false},
		{"invalid", EUR, "abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromAtomic(tt.asset, tt.atomic)
			if (err != nil) != tt.wantErr {
				t.Errorf("FromAtomic() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got.Atomic != tt.wantAtomic {
				t.Errorf("FromAtomic() = %v, want %v", got.Atomic, tt.wantAtomic)
			}
		})
	}
}

func TestAdd(t *testing.T) {
	tests := []struct {
		name    string
		a       Money
		b       Money
		want    int64
		wantErr bool
	}{
		{"same asset", Money{EUR, 1000}, Money{EUR, 500}, 1500, false},
		{"negative", Money{EUR, 1000}, Money{EUR, -500}, 500, false},
		{"different assets", Money{EUR, 1000}, Money{SOL, 500}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.a.Add(tt.b)
			if (err != nil) != tt.wantErr {
				t.Errorf("Add() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got.Atomic != tt.want {
				t.Errorf("Add() = %v, want %v", got.Atomic, tt.want)
			}
		})
	}
}

func TestSub(t *testing.T) {
	tests := []struct {
		name    string
		a       Money
		b       Money
		want    int64
		wantErr bool
	}{
		{"positive result", Money{EUR, 1000}, Money{EUR, 500}, 500, false},
		{"negative result", Money{EUR, 500}, Money{EUR, 1000}, -500, false},
		{"different assets", Money{EUR, 1000}, Money{SOL, 500}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.a.Sub(tt.b)
			if (err != nil) != tt.wantErr {
				t.Errorf("Sub() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got.Atomic != tt.want {
				t.Errorf("Sub() = %v, want %v", got.Atomic, tt.want)
			}
		})
	}
}

func TestMul(t *testing.T) {
	tests := []struct {
		name       string
		money      Money
		multiplier int64
		want       int64
		wantErr    bool
	}{
		{"double", Money{EUR, 1000}, 2, 2000, false},
		{"zero", Money{EUR, 1000}, 0, 0, false},
		{"negative", Money{EUR, 1000}, -2, -2000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.money.Mul(tt.multiplier)
			if (err != nil) != tt.wantErr {
				t.Errorf("Mul() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got.Atomic != tt.want {
				t.Errorf("Mul() = %v, want %v", got.Atomic, tt.want)
			}
		})
	}
}

func TestMulBasisPoints(t *testing.T) {
	tests := []struct {
		name        string
		money       Money
		basisPoints int64
		want        int64
		wantErr     bool
	}{
		{"2.5% of 100 EUR", Money{EUR, 10000}, 250, 250, false},
		{"10% of 50 EUR", Money{EUR, 5000}, 1000, 500, false},
		{"100% of 10 EUR", Money{EUR, 1000}, 10000, 1000, false},
		{"0%", Money{EUR, 10000}, 0, 0, false},
		{"rounding half-up", Money{EUR, 1005}, 1000, 101, false}, // 10.05 EUR * 10% = 1.005 → 1.01
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.money.MulBasisPoints(tt.basisPoints)
			if (err != nil) != tt.wantErr {
				t.Errorf("MulBasisPoints() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got.Atomic != tt.want {
				t.Errorf("MulBasisPoints() = %v, want %v", got.Atomic, tt.want)
			}
		})
	}
}

func TestMulPercent(t *testing.T) {
	tests := []struct {
		name    string
		money   Money
		percent int64
		want    int64
	}{
		{"10% of 100 EUR", Money{EUR, 10000}, 10, 1000},
		{"50% of 20 EUR", Money{EUR, 2000}, 50, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := tt.money.MulPercent(tt.percent)
			if got.Atomic != tt.want {
				t.Errorf("MulPercent() = %v, want %v", got.Atomic, tt.want)
			}
		})
	}
}

func TestDiv(t *testing.T) {
	tests := []struct {
		name    string
		money   Money
		divisor int64
		want    int64
		wantErr bool
	}{
		{"divide by 2", Money{EUR, 1000}, 2, 500, false},
		{"divide by 3 with rounding", Money{EUR, 1000}, 3, 333, false}, // Half-up rounding
		{"divide by zero", Money{EUR, 1000}, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.money.Div(tt.divisor)
			if (err != nil) != tt.wantErr {
				t.Errorf("Div() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got.Atomic != tt.want {
				t.Errorf("Div() = %v, want %v", got.Atomic, tt.want)
			}
		})
	}
}

func TestComparisons(t *testing.T) {
	a := Money{EUR, 1000}
	b := Money{EUR, 500}
	c := Money{EUR, 1000}
	d := Money{SOL, 1000}

	if !a.GreaterThan(b) {
		t.Error("Expected a > b")
	}
	if !b.LessThan(a) {
		t.Error("Expected b < a")
	}
	if !a.Equal(c) {
		t.Error("Expected a == c")
	}
	if a.Equal(d) {
		t.Error("Expected a != d (different assets)")
	}
}

func TestChecks(t *testing.T) {
	positive := Money{EUR, 100}
	negative := Money{EUR, -100}
	zero := Money{EUR, 0}

	if !positive.IsPositive() || positive.IsNegative() || positive.IsZero() {
		t.Error("Positive check failed")
	}
	if !negative.IsNegative() || negative.IsPositive() || negative.IsZero() {
		t.Error("Negative check failed")
	}
	if !zero.IsZero() || zero.IsPositive() || zero.IsNegative() {
		t.Error("Zero check failed")
	}
}

func TestAbsNegate(t *testing.T) {
	positive := Money{EUR, 100}
	negative := Money{EUR, -100}

	if positive.Abs().Atomic != 100 {
		t.Error("Abs of positive failed")
	}
	if negative.Abs().Atomic != 100 {
		t.Error("Abs of negative failed")
	}
	if positive.Negate().Atomic != -100 {
		t.Error("Negate of positive failed")
	}
	if negative.Negate().Atomic != 100 {
		t.Error("Negate of negative failed")
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		name  string
		money Money
		want  string
	}{
		{"EUR positive", Money{EUR, 1050}, "10.50 EUR"},
		{"SOL", Money{SOL, 1500000000}, "1.500000000 SOL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.money.String(); got != tt.want {
				t.Errorf("String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRoundTripMajor(t *testing.T) {
	tests := []struct {
		asset Asset
		major string
	}{
		{EUR, "10.50"},
		{SOL, "1.5"},
		{SOL, "0.123456789"},
	}

	for _, tt := range tests {
		t.Run(tt.asset.Code+" "+tt.major, func(t *testing.T) {
			m, err := FromMajor(tt.asset, tt.major)
			if err != nil {
				t.Fatalf("FromMajor() error = %v", err)
			}

			roundTrip, err := FromMajor(tt.asset, m.ToMajor())
			if err != nil {
				t.Fatalf("Round trip FromMajor() error = %v", err)
			}

			if m.Atomic != roundTrip.Atomic {
				t.Errorf("Round trip failed: %v → %v → %v", tt.major, m.Atomic, roundTrip.Atomic)
			}
		})
	}
}

func TestRoundUpToCents(t *testing.T) {
	tests := []struct {
		name       string
		money      Money
		wantAtomic int64
	}{
		// SOL (9 decimals) - positive amounts
		{"SOL positive fractional small", Money{SOL, 1}, 10000000},
		{"SOL positive fractional large", Money{SOL, 9999999}, 10000000},
		{"SOL positive at boundary", Money{SOL, 10000000}, 10000000},
		{"SOL positive above boundary", Money{SOL, 10000001}, 20000000},
		{"SOL positive 1.50", Money{SOL, 1500000000}, 1500000000},
		{"SOL positive 1.501", Money{SOL, 1501000000}, 1510000000},

		// SOL (9 decimals) - negative amounts (refunds)
		{"SOL negative fractional small", Money{SOL, -1}, 0},
		{"SOL negative fractional large", Money{SOL, -9999999}, 0},
		{"SOL negative at boundary", Money{SOL, -10000000}, -10000000},
		{"SOL negative above boundary", Money{SOL, -10000001}, -10000000},
		{"SOL negative 1.50", Money{SOL, -1500000000}, -1500000000},
		{"SOL negative 1.501", Money{SOL, -1501000000}, -1500000000},

		// EUR (2 decimals) - should return unchanged
		{"EUR positive no rounding needed", Money{EUR, 1050}, 1050},
		{"EUR negative no rounding needed", Money{EUR, -1050}, -1050},

		// Edge cases
		{"EUR zero", Money{EUR, 0}, 0},
		{"EUR large positive", Money{EUR, 100000000}, 100000000},
		{"EUR large negative", Money{EUR, -100000000}, -100000000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.money.RoundUpToCents()
			if got.Atomic != tt.wantAtomic {
				t.Errorf("RoundUpToCents() = %v, want %v (input: %v)", got.Atomic, tt.wantAtomic, tt.money.Atomic)
			}
			if got.Asset.Code != tt.money.Asset.Code {
				t.Errorf("RoundUpToCents() changed asset from %v to %v", tt.money.Asset.Code, got.Asset.Code)
			}
		})
	}
}
