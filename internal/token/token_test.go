package token

import (
	"strings"
	"testing"
)

func TestGenerateSecretLengthAndAlphabet(t *testing.T) {
	for _, n := range []int{1, 8, 32, 64} {
		secret, err := GenerateSecret(n, Base62)
		if err != nil {
			t.Fatal(err)
		}
		if len(secret) != n {
			t.Fatalf("expected %d characters, got %d", n, len(secret))
		}
		for _, c := range secret {
			if !strings.ContainsRune(Base62, c) {
				t.Fatalf("character %q outside alphabet", c)
			}
		}
	}
}

func TestGenerateAPISecret(t *testing.T) {
	a := GenerateAPISecret()
	b := GenerateAPISecret()
	if len(a) != 32 || len(b) != 32 {
		t.Fatalf("expected 32-character secrets, got %d and %d", len(a), len(b))
	}
	if a == b {
		t.Fatal("two generated secrets collided")
	}
}

func TestGenerateIDLengthAndAlphabet(t *testing.T) {
	for _, length := range []int{1, 5, 20, 40} {
		id, err := GenerateID(length, Base62)
		if err != nil {
			t.Fatal(err)
		}
		if len(id) != length {
			t.Fatalf("expected %d characters, got %d", length, len(id))
		}
		for _, c := range id {
			if !strings.ContainsRune(Base62, c) {
				t.Fatalf("character %q outside alphabet", c)
			}
		}
	}
}

func TestGenerateIDRejectsDegenerateInputs(t *testing.T) {
	if _, err := GenerateID(10, ""); err != ErrInvalidAlphabet {
		t.Fatalf("expected ErrInvalidAlphabet, got %v", err)
	}
	if _, err := GenerateID(10, "a"); err != ErrInvalidAlphabet {
		t.Fatalf("expected ErrInvalidAlphabet, got %v", err)
	}
	if _, err := GenerateID(0, Base62); err != ErrInvalidLength {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
	if _, err := GenerateSecret(0, Base62); err != ErrInvalidLength {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}

// Chi-square over single characters from a small alphabet. With 4 symbols and
// 40k draws the statistic has 3 degrees of freedom; 16.27 is the 99.9%
// quantile, so a biased generator fails loudly while an unbiased one passes
// essentially always.
func TestGenerateIDUniformDistribution(t *testing.T) {
	const (
		alphabet = "abcd"
		draws    = 10000
		idLen    = 4
	)

	counts := make(map[rune]int, len(alphabet))
	for i := 0; i < draws; i++ {
		id, err := GenerateID(idLen, alphabet)
		if err != nil {
			t.Fatal(err)
		}
		for _, c := range id {
			counts[c]++
		}
	}

	total := draws * idLen
	expected := float64(total) / float64(len(alphabet))
	var chi float64
	for _, c := range alphabet {
		diff := float64(counts[c]) - expected
		chi += diff * diff / expected
	}
	if chi > 16.27 {
		t.Fatalf("distribution looks biased: chi-square=%f counts=%v", chi, counts)
	}
}

func TestTimingSafeEqual(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"", "", true},
		{"secret", "secret", true},
		{"secret", "secrets", false},
		{"secret", "Secret", false},
		{"a", "b", false},
		{"same-length-x", "same-length-y", false},
	}
	for _, tc := range cases {
		if got := TimingSafeEqual(tc.a, tc.b); got != tc.want {
			t.Fatalf("TimingSafeEqual(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}
