package vm

import "testing"

func TestIsTruthy(t *testing.T) {
	tests := []struct {
		val  Value
		want bool
	}{
		{nil, false},
		{false, false},
		{true, true},
		{0.0, true},
		{&ObjString{Chars: ""}, true},
	}
	for _, tt := range tests {
		if got := isTruthy(tt.val); got != tt.want {
			t.Errorf("isTruthy(%#v) = %v, want %v", tt.val, got, tt.want)
		}
	}
}

func TestValuesEqual(t *testing.T) {
	v := New()
	a := v.Intern("same")
	b := v.Intern("same")

	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"nil equals nil", nil, nil, true},
		{"nil not equal false", nil, false, false},
		{"numbers compare by value", 1.0, 1.0, true},
		{"different numbers", 1.0, 2.0, false},
		{"different types never equal", 1.0, "1", false},
		{"interned strings share identity", a, b, true},
		{"bools compare by value", true, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := valuesEqual(tt.a, tt.b); got != tt.want {
				t.Errorf("valuesEqual(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestStringify(t *testing.T) {
	tests := []struct {
		val  Value
		want string
	}{
		{nil, "nil"},
		{true, "true"},
		{false, "false"},
		{3.0, "3"},
		{0.5, "0.5"},
		{&ObjString{Chars: "hi"}, "hi"},
		{&ObjFunction{Name: "add"}, "<fn add>"},
		{&ObjFunction{Name: ""}, "<script>"},
		{&ObjNative{Name: "clock"}, "<native fn>"},
	}
	for _, tt := range tests {
		if got := stringify(tt.val); got != tt.want {
			t.Errorf("stringify(%#v) = %q, want %q", tt.val, got, tt.want)
		}
	}
}

func TestHashStringMatchesFNV1a(t *testing.T) {
	// Spot-check against the well-known FNV-1a basis/prime the original
	// reserve_string uses; "" hashes to the bare basis.
	if got := hashString(""); got != 2166136261 {
		t.Errorf("hashString(\"\") = %d, want basis 2166136261", got)
	}
	if hashString("a") == hashString("b") {
		t.Error("distinct single-byte strings collided unexpectedly")
	}
}

func TestInternSharesIdenticalContent(t *testing.T) {
	v := New()
	a := v.Intern("hello")
	b := v.Intern("hello")
	if a != b {
		t.Error("Intern returned distinct objects for equal content")
	}
	c := v.Intern("world")
	if a == c {
		t.Error("Intern returned the same object for different content")
	}
}
