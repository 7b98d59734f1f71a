package ledger

import (
	"testing"
	"time"
)

func TestRecentRequestsWindow(t *testing.T) {
	guard := NewRecentRequests(5 * time.Second)
	start := time.Unix(1_750_000_000, 0)

	if guard.Seen("contact-1", start) {
		t.Fatalf("first request must not be a duplicate")
	}
	if !guard.Seen("contact-1", start.Add(4*time.Second)) {
		t.Fatalf("request within the window must be a duplicate")
	}
	if guard.Seen("contact-2", start.Add(4*time.Second)) {
		t.Fatalf("different id must not be a duplicate")
	}
	if guard.Seen("contact-1", start.Add(5*time.Second)) {
		t.Fatalf("request after the window must be accepted again")
	}
}
