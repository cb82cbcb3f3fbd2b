package cachekey

import "testing"

func TestDeriveDeterministic(t *testing.T) {
	a := Derive([]byte("some compressed bytes"))
	b := Derive([]byte("some compressed bytes"))
	if a != b {
		t.Fatalf("Derive is not deterministic: %q != %q", a, b)
	}
	if !Valid(a) {
		t.Fatalf("Derive produced an invalid key: %q", a)
	}
}

func TestDeriveDistinguishesInputs(t *testing.T) {
	a := Derive([]byte("payload one"))
	b := Derive([]byte("payload two"))
	if a == b {
		t.Fatalf("distinct payloads produced the same cache key %q", a)
	}
}

func TestValid(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"0123456789abcdef", true},
		{"0123456789ABCDEF", false}, // must be lowercase
		{"0123456789abcde", false},  // too short
		{"0123456789abcdefg", false},
	}
	for _, c := range cases {
		if got := Valid(c.in); got != c.want {
			t.Errorf("Valid(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
