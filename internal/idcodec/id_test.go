package idcodec

import "testing"

func TestNewMatchesFormat(t *testing.T) {
	for _, kind := range []string{KindAgent, KindResource, KindGroup, KindApplication, KindProcedure, KindJob, KindSubscription} {
		id := New(kind)
		if !Valid(id) {
			t.Fatalf("New(%q) = %q, not a valid id", kind, id)
		}
		if got := KindOf(id); got != kind {
			t.Errorf("KindOf(%q) = %q, want %q", id, got, kind)
		}
	}
}

func TestNewIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New(KindJob)
		if seen[id] {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	id := New(KindResource)
	kind, raw, err := Decode(id)
	if err != nil {
		t.Fatalf("Decode(%q) error = %v", id, err)
	}
	if kind != KindResource {
		t.Errorf("kind = %q, want %q", kind, KindResource)
	}
	roundTripped := KindResource + "-" + encode(raw)
	if roundTripped != id {
		t.Errorf("round trip = %q, want %q", roundTripped, id)
	}
}

func TestValidRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"agt-",
		"agt-tooshort",
		"agt-" + string(make([]byte, 22)),
		"nodash0123456789abcdefghij",
		"AGT-0123456789ABCDEFGHIJKL",
	}
	for _, c := range cases {
		if Valid(c) {
			t.Errorf("Valid(%q) = true, want false", c)
		}
	}
}

func TestEscapeUnescapeKeyRoundTrip(t *testing.T) {
	cases := []string{
		"plain",
		"has.dot",
		"has$dollar",
		"has\x00nul",
		"has\x1Besc",
		"combo.$\x00\x1Bend",
	}
	for _, c := range cases {
		escaped := EscapeKey(c)
		for i := 0; i < len(escaped); i++ {
			if escaped[i] == '.' || escaped[i] == '$' || escaped[i] == 0x00 {
				t.Errorf("EscapeKey(%q) = %q still contains a forbidden byte", c, escaped)
			}
		}
		if got := UnescapeKey(escaped); got != c {
			t.Errorf("UnescapeKey(EscapeKey(%q)) = %q, want %q", c, got, c)
		}
	}
}

func TestEscapeUnescapeValueRoundTrip(t *testing.T) {
	v := map[string]any{
		"a.b": "value",
		"nested": map[string]any{
			"$op": []any{"x", map[string]any{"c.d": 1.0}},
		},
		"list": []any{"a", "b"},
		"num": 42.0,
	}

	escaped := EscapeValue(v)
	unescaped := UnescapeValue(escaped)

	if !deepEqual(v, unescaped) {
		t.Errorf("UnescapeValue(EscapeValue(v)) = %#v, want %#v", unescaped, v)
	}
}

// deepEqual is a minimal recursive comparator sufficient for the JSON-shaped
// values this package deals with (avoids pulling in reflect.DeepEqual's
// stricter type matching on numeric literals in test fixtures).
func deepEqual(a, b any) bool {
	switch at := a.(type) {
	case map[string]any:
		bt, ok := b.(map[string]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for k, v := range at {
			if !deepEqual(v, bt[k]) {
				return false
			}
		}
		return true
	case []any:
		bt, ok := b.([]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if !deepEqual(at[i], bt[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
