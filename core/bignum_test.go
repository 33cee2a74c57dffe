package core

import "testing"

func TestBignumPowBound(t *testing.T) {
	base, err := NewBignumString("2", 4)
	if err != nil {
		t.Fatalf("parse base: %v", err)
	}

	e256, err := NewBignumString("256", 4)
	if err != nil {
		t.Fatalf("parse exp: %v", err)
	}
	if _, err := base.Pow(e256); err != ErrBignumOverMax {
		t.Fatalf("pow(2,256) err = %v, want %v", err, ErrBignumOverMax)
	}

	e255, err := NewBignumString("255", 4)
	if err != nil {
		t.Fatalf("parse exp: %v", err)
	}
	got, err := base.Pow(e255)
	if err != nil {
		t.Fatalf("pow(2,255): %v", err)
	}
	want := "57896044618658097711785492504343953926634992332820282019728792003956564819968"
	if got.String() != want {
		t.Fatalf("pow(2,255) = %s, want %s", got.String(), want)
	}
}

func TestBignumPowShortCircuits(t *testing.T) {
	cases := []struct {
		base, exp, want string
	}{
		{"0", "0", "1"},
		{"0", "5", "0"},
		{"1", "1000000", "1"},
		{"-1", "4", "1"},
		{"-1", "3", "-1"},
	}
	for _, c := range cases {
		b, err := NewBignumString(c.base, 4)
		if err != nil {
			t.Fatalf("parse base %s: %v", c.base, err)
		}
		e, err := NewBignumString(c.exp, 4)
		if err != nil {
			t.Fatalf("parse exp %s: %v", c.exp, err)
		}
		got, err := b.Pow(e)
		if err != nil {
			t.Fatalf("pow(%s,%s): %v", c.base, c.exp, err)
		}
		if got.String() != c.want {
			t.Fatalf("pow(%s,%s) = %s, want %s", c.base, c.exp, got.String(), c.want)
		}
	}
}

func TestBignumPowNegativeExponentRejected(t *testing.T) {
	b, _ := NewBignumString("2", 4)
	e, _ := NewBignumString("-1", 4)
	if _, err := b.Pow(e); err != ErrBignumNegative {
		t.Fatalf("err = %v, want %v", err, ErrBignumNegative)
	}
}

func TestBignumDivisionByZero(t *testing.T) {
	a, _ := NewBignumString("10", 4)
	zero, _ := NewBignumString("0", 4)
	if _, err := a.Div(zero); err != ErrBignumDivZero {
		t.Fatalf("div err = %v, want %v", err, ErrBignumDivZero)
	}
	if _, err := a.Mod(zero); err != ErrBignumDivZero {
		t.Fatalf("mod err = %v, want %v", err, ErrBignumDivZero)
	}
}

func TestBignumArithmeticClosure(t *testing.T) {
	a, _ := NewBignumString("123456789012345678901234567890", 4)
	b, _ := NewBignumString("2", 4)

	if _, err := a.Add(b); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := a.Sub(b); err != nil {
		t.Fatalf("sub: %v", err)
	}
	if _, err := a.Mul(b); err != nil {
		t.Fatalf("mul: %v", err)
	}
}

func TestBignumOverflowRejected(t *testing.T) {
	max, _ := NewBignumString("115792089237316195423570985008687907853269984665640564039457584007913129639934", 4)
	one, _ := NewBignumString("1", 4)
	if _, err := max.Add(one); err != nil {
		t.Fatalf("expected M to be reachable, got %v", err)
	}
	two, _ := NewBignumString("2", 4)
	if _, err := max.Add(two); err != ErrBignumOverMax {
		t.Fatalf("err = %v, want %v", err, ErrBignumOverMax)
	}
}

func TestBignumRadixParsing(t *testing.T) {
	hex, err := NewBignumString("0x10", 2)
	if err != nil {
		t.Fatalf("parse hex: %v", err)
	}
	if hex.String() != "16" {
		t.Fatalf("0x10 = %s, want 16", hex.String())
	}

	// at hardfork >= 3 radix prefixes are stripped, so "0x10" no longer
	// parses as hex; the leading "0" digits make it decimal 0 (then "x10"
	// fails base-10 parsing).
	if _, err := NewBignumString("0x10", 3); err == nil {
		t.Fatalf("expected parse failure once radix prefixes are stripped")
	}
}

func TestBignumByteRoundTrip(t *testing.T) {
	a, _ := NewBignumString("-424242", 4)
	b, err := BignumFromByte(a.ToByte())
	if err != nil {
		t.Fatalf("from byte: %v", err)
	}
	if b.Cmp(a) != 0 {
		t.Fatalf("round trip mismatch: %s != %s", b.String(), a.String())
	}
}
