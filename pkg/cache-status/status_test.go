package cachestatus

import "testing"

func TestHit(t *testing.T) {
	if s := New("").Hit().Detail("cache").String(); s != "offline-worker; hit; detail=cache" {
		t.Fatalf("Status is %s", s)
	}
}

func TestForward(t *testing.T) {
	if s := New("edge").Forward(FwdUriMiss).Detail("network").String(); s != "edge; fwd=uri-miss; detail=network" {
		t.Fatalf("Status is %s", s)
	}
}

func TestForwardAfterHit(t *testing.T) {
	if s := New("").Hit().Forward(FwdBypass).String(); s != "offline-worker; fwd=bypass" {
		t.Fatalf("Status is %s", s)
	}
}
