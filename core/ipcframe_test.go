package core

import "testing"

func TestIPCFrameRoundTrip(t *testing.T) {
	w := NewFrameWriter()
	w.AddString("hello")
	w.AddInt32(-42)
	w.AddInt64(1 << 40)
	w.AddDouble(3.25)
	w.AddBool(true)
	w.AddNull()

	r := NewFrameReader(w.Bytes())

	it, ok, err := r.Next()
	if err != nil || !ok {
		t.Fatalf("item 1: ok=%v err=%v", ok, err)
	}
	if s, err := it.String(); err != nil || s != "hello" {
		t.Fatalf("string item: %q err %v", s, err)
	}

	it, ok, err = r.Next()
	if err != nil || !ok {
		t.Fatalf("item 2: ok=%v err=%v", ok, err)
	}
	if v, err := it.Int32(); err != nil || v != -42 {
		t.Fatalf("int32 item: %d err %v", v, err)
	}

	it, ok, err = r.Next()
	if err != nil || !ok {
		t.Fatalf("item 3: ok=%v err=%v", ok, err)
	}
	if v, err := it.Int64(); err != nil || v != 1<<40 {
		t.Fatalf("int64 item: %d err %v", v, err)
	}

	it, ok, err = r.Next()
	if err != nil || !ok {
		t.Fatalf("item 4: ok=%v err=%v", ok, err)
	}
	if v, err := it.Double(); err != nil || v != 3.25 {
		t.Fatalf("double item: %v err %v", v, err)
	}

	it, ok, err = r.Next()
	if err != nil || !ok {
		t.Fatalf("item 5: ok=%v err=%v", ok, err)
	}
	if v, err := it.Bool(); err != nil || !v {
		t.Fatalf("bool item: %v err %v", v, err)
	}

	it, ok, err = r.Next()
	if err != nil || !ok {
		t.Fatalf("item 6: ok=%v err=%v", ok, err)
	}
	if !it.IsNull() {
		t.Fatalf("expected null item")
	}

	_, ok, err = r.Next()
	if err != nil || ok {
		t.Fatalf("expected end of frame, ok=%v err=%v", ok, err)
	}
}

func TestIPCFrameGetCount(t *testing.T) {
	w := NewFrameWriter()
	w.AddInt32(1)
	w.AddInt32(2)
	w.AddInt32(3)

	r := NewFrameReader(w.Bytes())
	n, err := r.GetCount()
	if err != nil {
		t.Fatalf("get count: %v", err)
	}
	if n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}

	// GetCount must not disturb the reader's own cursor.
	it, ok, err := r.Next()
	if err != nil || !ok {
		t.Fatalf("next after count: ok=%v err=%v", ok, err)
	}
	if v, _ := it.Int32(); v != 1 {
		t.Fatalf("cursor disturbed: got %d want 1", v)
	}
}

func TestIPCFrameTruncated(t *testing.T) {
	w := NewFrameWriter()
	w.AddString("hello")
	truncated := w.Bytes()[:6]
	r := NewFrameReader(truncated)
	if _, _, err := r.Next(); err != ErrFrameTruncated {
		t.Fatalf("err = %v, want %v", err, ErrFrameTruncated)
	}
}
