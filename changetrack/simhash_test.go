package changetrack

import "testing"

func TestFingerprint_Identical(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog"
	if Fingerprint(text) != Fingerprint(text) {
		t.Error("identical texts produced different fingerprints")
	}
}

func TestFingerprint_IgnoresCaseAndPunctuation(t *testing.T) {
	a := Fingerprint("The quick, brown fox!")
	b := Fingerprint("the quick brown fox")
	if a != b {
		t.Errorf("case/punctuation changed the fingerprint: distance %d", Distance(a, b))
	}
}

func TestFingerprint_SimilarCloserThanDifferent(t *testing.T) {
	base := Fingerprint("the quick brown fox jumps over the lazy dog near the river bank today")
	similar := Fingerprint("the quick brown fox leaps over the lazy dog near the river bank today")
	different := Fingerprint("completely unrelated content about quantum physics and mathematics papers")

	if Distance(base, similar) >= Distance(base, different) {
		t.Errorf("similar distance %d should be below different distance %d",
			Distance(base, similar), Distance(base, different))
	}
}

func TestFingerprint_Empty(t *testing.T) {
	for _, in := range []string{"", "   \t\n  ", "--- ***"} {
		if fp := Fingerprint(in); fp != 0 {
			t.Errorf("Fingerprint(%q) = %064b, want 0", in, fp)
		}
	}
}

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b uint64
		want int
	}{
		{"identical", 0xFF, 0xFF, 0},
		{"all different", 0, ^uint64(0), 64},
		{"one bit", 0, 1, 1},
		{"two bits", 0, 3, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Distance(tt.a, tt.b); got != tt.want {
				t.Errorf("Distance(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
