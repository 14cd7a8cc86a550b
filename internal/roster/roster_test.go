package roster

import (
	"context"
	"testing"
)

func TestParseEntries(t *testing.T) {
	vols, err := ParseEntries([]string{
		"alice=+4915112345678",
		"bob=sip:bob@pbx.internal",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(vols) != 2 {
		t.Fatalf("parsed %d entries", len(vols))
	}
	if vols[0].Identity != "alice" || vols[0].Number != "+4915112345678" || vols[0].Endpoint != "" {
		t.Fatalf("plus-prefixed destination not treated as number: %+v", vols[0])
	}
	if vols[1].Identity != "bob" || vols[1].Endpoint != "sip:bob@pbx.internal" || vols[1].Number != "" {
		t.Fatalf("sip destination not treated as endpoint: %+v", vols[1])
	}
	for _, v := range vols {
		if !v.Active || !v.Reachable() {
			t.Fatalf("parsed volunteer not ringable: %+v", v)
		}
	}
}

func TestParseEntriesRejectsBadShape(t *testing.T) {
	for _, e := range []string{"alice", "=+4915112345678", "alice="} {
		if _, err := ParseEntries([]string{e}); err == nil {
			t.Fatalf("entry %q accepted", e)
		}
	}
}

func TestStaticSourcePrefersShift(t *testing.T) {
	s := &Static{
		Shift:        []Volunteer{{Identity: "alice", Number: "+1555", Active: true}},
		FallbackList: []Volunteer{{Identity: "oncall", Number: "+1999", Active: true}},
	}

	shift, err := s.OnShift(context.Background())
	if err != nil || len(shift) != 1 || shift[0].Identity != "alice" {
		t.Fatalf("on shift = %+v err=%v", shift, err)
	}
	fb, err := s.Fallback(context.Background())
	if err != nil || len(fb) != 1 || fb[0].Identity != "oncall" {
		t.Fatalf("fallback = %+v err=%v", fb, err)
	}
}
