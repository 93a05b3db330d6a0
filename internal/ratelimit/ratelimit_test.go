package ratelimit

import "testing"

func TestLimiterAllowsUpToBurst(t *testing.T) {
	l := New(3)

	for i := 0; i < 3; i++ {
		if !l.Allow("user-a") {
			t.Fatalf("expected request %d to be allowed within burst", i)
		}
	}
	if l.Allow("user-a") {
		t.Fatal("expected request beyond burst to be denied")
	}
}

func TestLimiterBucketsAreIndependentPerKey(t *testing.T) {
	l := New(1)

	if !l.Allow("user-a") {
		t.Fatal("expected first request for user-a to be allowed")
	}
	if l.Allow("user-a") {
		t.Fatal("expected second immediate request for user-a to be denied")
	}
	if !l.Allow("user-b") {
		t.Fatal("expected user-b's bucket to be independent of user-a's")
	}
}

func TestNewClampsNonPositivePerMinute(t *testing.T) {
	l := New(0)
	if l.perMin != 1 {
		t.Fatalf("expected perMin to clamp to 1, got %d", l.perMin)
	}
}
