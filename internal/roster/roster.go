package roster

import (
	"context"
	"fmt"
	"strings"
)

// Volunteer is one routing candidate. Shift scheduling itself is owned by an
// external system; this package only defines the lookup boundary the ringing
// coordinator needs.
type Volunteer struct {
	Identity string
	Number   string // E.164 phone, empty when Endpoint is set
	Endpoint string // sip/client endpoint
	Active   bool
	OnBreak  bool
}

// Reachable reports whether the volunteer has somewhere to be rung.
func (v Volunteer) Reachable() bool {
	return v.Number != "" || v.Endpoint != ""
}

// Source resolves the current candidate list: the on-shift set, or the
// configured fallback group when no one is on shift.
type Source interface {
	OnShift(ctx context.Context) ([]Volunteer, error)
	Fallback(ctx context.Context) ([]Volunteer, error)
}

// Static is a fixed-roster Source, used for tests and single-team deployments
// configured from the environment.
type Static struct {
	Shift        []Volunteer
	FallbackList []Volunteer
}

func (s *Static) OnShift(ctx context.Context) ([]Volunteer, error) {
	return s.Shift, nil
}

func (s *Static) Fallback(ctx context.Context) ([]Volunteer, error) {
	return s.FallbackList, nil
}

// ParseEntries turns "identity=destination" config pairs into volunteers. A
// destination starting with "+" is a PSTN number, anything else is an
// endpoint address.
func ParseEntries(entries []string) ([]Volunteer, error) {
	out := make([]Volunteer, 0, len(entries))
	for _, e := range entries {
		identity, dest, ok := strings.Cut(e, "=")
		identity = strings.TrimSpace(identity)
		dest = strings.TrimSpace(dest)
		if !ok || identity == "" || dest == "" {
			return nil, fmt.Errorf("roster: bad entry %q, want identity=destination", e)
		}
		v := Volunteer{Identity: identity, Active: true}
		if strings.HasPrefix(dest, "+") {
			v.Number = dest
		} else {
			v.Endpoint = dest
		}
		out = append(out, v)
	}
	return out, nil
}
