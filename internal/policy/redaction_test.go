package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := `User said: "Email me at sam@example.com or +1 (555) 123-9876, card 4242 4242 4242 4242, key sk-abcdefghijklmnop1234".`
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]", "[REDACTED_SECRET]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
	if strings.Contains(out, "sam@example.com") || strings.Contains(out, "4242") {
		t.Fatalf("raw PII survived: %q", out)
	}
}

func TestRedactPIILeavesStoryText(t *testing.T) {
	in := "The dragon guarded 3 chests of gold near the river."
	out, changed := RedactPII(in)
	if changed || out != in {
		t.Fatalf("RedactPII(%q) = %q, %v", in, out, changed)
	}
}
