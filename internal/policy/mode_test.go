package policy

import (
	"strings"
	"testing"
)

func TestParseMode(t *testing.T) {
	cases := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "", want: FamilyFriendly},
		{in: "Family-Friendly", want: FamilyFriendly},
		{in: " lax ", want: Lax},
		{in: "spicy", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseMode(tc.in)
		if (err != nil) != tc.wantErr {
			t.Fatalf("ParseMode(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Fatalf("ParseMode(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDirectiveDiffersByMode(t *testing.T) {
	ff, lax := Directive(FamilyFriendly), Directive(Lax)
	if ff == lax {
		t.Fatalf("directives should differ")
	}
	if !strings.Contains(ff, "family-friendly") {
		t.Fatalf("family-friendly directive = %q", ff)
	}
	if Directive("") != ff {
		t.Fatalf("unknown mode should fall back to family-friendly")
	}
}
