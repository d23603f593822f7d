package azure

import "testing"

func TestURL(t *testing.T) {
	s := &Store{accountURL: "https://verisure.blob.core.windows.net/", container: "documents"}
	want := "https://verisure.blob.core.windows.net/documents/abc/1_a.png"
	if got := s.URL("abc/1_a.png"); got != want {
		t.Fatalf("URL = %q, want %q", got, want)
	}
}
