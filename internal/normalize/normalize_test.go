package normalize

import "testing"

func TestUsername(t *testing.T) {
	in := "  Alice.W  "
	want := "alice.w"
	got := Username(in)
	if got != want {
		t.Fatalf("normalize.Username(%q) = %q, want %q", in, got, want)
	}
}
