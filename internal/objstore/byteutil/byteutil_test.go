package byteutil

import (
	"io"
	"testing"
)

func TestUint32RoundTrip(t *testing.T) {
	t.Parallel()
	var buf [4]byte
	PutUint32(buf[:], 0xdeadbeef)
	if got := Uint32(buf[:]); got != 0xdeadbeef {
		t.Errorf("got %x, want %x", got, 0xdeadbeef)
	}
}

func TestUint64RoundTrip(t *testing.T) {
	t.Parallel()
	var buf [8]byte
	PutUint64(buf[:], 0x0102030405060708)
	if got := Uint64(buf[:]); got != 0x0102030405060708 {
		t.Errorf("got %x, want %x", got, uint64(0x0102030405060708))
	}
}

func TestAppendUint(t *testing.T) {
	t.Parallel()
	b := AppendUint32(nil, 7)
	b = AppendUint64(b, 9)
	if len(b) != 12 {
		t.Fatalf("len = %d, want 12", len(b))
	}
	if Uint32(b[:4]) != 7 || Uint64(b[4:]) != 9 {
		t.Fatal("appended fields did not round-trip")
	}
}

func TestEqual(t *testing.T) {
	t.Parallel()
	cases := []struct {
		a, b []byte
		want bool
	}{
		{[]byte("abc"), []byte("abc"), true},
		{[]byte("abc"), []byte("abd"), false},
		{[]byte("abc"), []byte("ab"), false},
		{nil, nil, true},
		{[]byte{}, nil, true},
	}
	for _, c := range cases {
		if got := Equal(c.a, c.b); got != c.want {
			t.Errorf("Equal(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestFIFOWriteAndTake(t *testing.T) {
	t.Parallel()
	f := NewFIFO(10)
	n, err := f.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if f.Len() != 5 {
		t.Fatalf("Len = %d, want 5", f.Len())
	}

	got := f.TakeUpTo(3)
	if string(got) != "hel" {
		t.Errorf("TakeUpTo(3) = %q, want %q", got, "hel")
	}
	if f.Len() != 2 {
		t.Fatalf("Len after take = %d, want 2", f.Len())
	}

	rest := f.DrainAll()
	if string(rest) != "lo" {
		t.Errorf("DrainAll = %q, want %q", rest, "lo")
	}
	if f.Len() != 0 {
		t.Fatalf("Len after drain = %d, want 0", f.Len())
	}
}

func TestFIFOOverCapacity(t *testing.T) {
	t.Parallel()
	f := NewFIFO(4)
	if _, err := f.Write([]byte("abcd")); err != nil {
		t.Fatalf("first write should fit: %v", err)
	}
	if _, err := f.Write([]byte("e")); err != io.ErrShortWrite {
		t.Fatalf("expected ErrShortWrite, got %v", err)
	}
}

func TestChunkPoolRoundTrip(t *testing.T) {
	t.Parallel()
	buf := GetChunk(128)
	if len(buf) != 128 {
		t.Fatalf("len = %d, want 128", len(buf))
	}
	PutChunk(buf)
	buf2 := GetChunk(64)
	if len(buf2) != 64 {
		t.Fatalf("len = %d, want 64", len(buf2))
	}
}
