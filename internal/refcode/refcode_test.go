package refcode

import (
	"reflect"
	"testing"
)

// TestNormalize_StripsLeadingZeros tests basic normalization.
func TestNormalize_StripsLeadingZeros(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"00042", "42"},
		{"42", "42"},
		{"007A", "7A"},
		{"PAL-9", "PAL-9"},
		{"000", "0"},
		{"0", "0"},
		{"  015 ", "15"},
		{"", ""},
	}

	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// TestCandidates_Numeric tests candidate generation for numeric codes.
func TestCandidates_Numeric(t *testing.T) {
	got := Candidates("0042")
	want := []string{"0042", "42", "042", "00042", "000042"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Candidates(\"0042\") = %v, want %v", got, want)
	}
}

// TestCandidates_LiteralFirst tests that the literal string always wins
// priority over generated forms.
func TestCandidates_LiteralFirst(t *testing.T) {
	got := Candidates("7")
	if len(got) == 0 || got[0] != "7" {
		t.Fatalf("Candidates(\"7\") = %v, want literal first", got)
	}
	// Must include the fully padded form so "7" can match a stored "00007".
	found := false
	for _, c := range got {
		if c == "00007" {
			found = true
		}
	}
	if !found {
		t.Errorf("Candidates(\"7\") = %v, missing padded form \"00007\"", got)
	}
}

// TestCandidates_NonNumeric tests that alphanumeric codes only produce the
// literal and stripped forms.
func TestCandidates_NonNumeric(t *testing.T) {
	got := Candidates("PAL-9")
	want := []string{"PAL-9"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Candidates(\"PAL-9\") = %v, want %v", got, want)
	}

	got = Candidates("007A")
	want = []string{"007A", "7A"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Candidates(\"007A\") = %v, want %v", got, want)
	}
}

// TestCandidates_Empty tests empty input.
func TestCandidates_Empty(t *testing.T) {
	if got := Candidates(""); got != nil {
		t.Errorf("Candidates(\"\") = %v, want nil", got)
	}
}

// TestEqual_ZeroPadding tests zero-stripped comparison.
func TestEqual_ZeroPadding(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"00042", "42", true},
		{"7", "00007", true},
		{"42", "43", false},
		{"PAL-9", "PAL-9", true},
		{"PAL-9", "pal-9", false},
		{"0", "000", true},
		{"", "", true},
		{"", "0", false},
	}

	for _, tc := range cases {
		if got := Equal(tc.a, tc.b); got != tc.want {
			t.Errorf("Equal(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}
