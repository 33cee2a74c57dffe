package core

import "testing"

func TestJSONEncodeKeysSorted(t *testing.T) {
	v := Object(map[string]*Value{"b": Int(1), "a": Int(2)})
	got, err := Encode(v, 2)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got != `{"a":2,"b":1}` {
		t.Fatalf("got %q", got)
	}
}

func TestJSONEncodeDenseVsSparse(t *testing.T) {
	dense := Object(map[string]*Value{"1": Int(10), "2": Int(20), "3": Int(30)})
	got, err := Encode(dense, 2)
	if err != nil {
		t.Fatalf("encode dense: %v", err)
	}
	if got != `[10,20,30]` {
		t.Fatalf("dense got %q", got)
	}

	sparse := Object(map[string]*Value{"1": Int(10), "3": Int(30)})
	got, err = Encode(sparse, 2)
	if err != nil {
		t.Fatalf("encode sparse: %v", err)
	}
	if got != `{"1":10,"3":30}` {
		t.Fatalf("sparse got %q", got)
	}
}

func TestJSONBignumEnvelope(t *testing.T) {
	b, _ := NewBignumString("123456789012345678901234567890", 4)
	got, err := Encode(BignumValue(b), 4)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `{"_bignum":"123456789012345678901234567890"}`
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}

	dec, err := Decode(got, 4)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.Kind != KindBignum || dec.Big.Cmp(b) != 0 {
		t.Fatalf("round trip mismatch")
	}
}

func TestJSONCycleDetection(t *testing.T) {
	v := Object(nil)
	v.Obj = map[string]*Value{"self": v}
	if _, err := Encode(v, 2); err != ErrNestedTable {
		t.Fatalf("err = %v, want %v", err, ErrNestedTable)
	}
}

func TestJSONStringEscaping(t *testing.T) {
	v := Str("a\tb\nc\"d\\e\x01")
	got, err := Encode(v, 2)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `"a\tb\nc\"d\\e"`
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestJSONDecodeRoundTripArray(t *testing.T) {
	src := `[1,2,3]`
	v, err := Decode(src, 2)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, err := Encode(v, 2)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got != src {
		t.Fatalf("got %q want %q", got, src)
	}
}

func TestJSONDecodeIntegralDoubleAsInt(t *testing.T) {
	v, err := Decode("5.0", 2)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Kind != KindInt || v.Int != 5 {
		t.Fatalf("expected integral double to decode as int, got %+v", v)
	}

	v, err = Decode("5.0", 1)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Kind != KindNumber {
		t.Fatalf("expected number kind pre-hardfork-2, got %+v", v)
	}
}

func TestJSONEncodeRejectsNaNInf(t *testing.T) {
	if _, err := Encode(Number(posInf()), 2); err == nil {
		t.Fatalf("expected error encoding +Inf")
	}
}

func posInf() float64 {
	var f float64 = 1
	return f / zeroFloat()
}

func zeroFloat() float64 { return 0 }
