package pbx

// ariEvent is the subset of the ARI event envelope the bridge consumes.
// Unknown fields are ignored.
type ariEvent struct {
	Type      string        `json:"type"`
	Args      []string      `json:"args,omitempty"`
	Digit     string        `json:"digit,omitempty"`
	Cause     int           `json:"cause,omitempty"`
	Channel   *ariChannel   `json:"channel,omitempty"`
	Playback  *ariPlayback  `json:"playback,omitempty"`
	Recording *ariRecording `json:"recording,omitempty"`
}

type ariPlayback struct {
	ID        string `json:"id"`
	TargetURI string `json:"target_uri"`
}

type ariChannel struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	State  string `json:"state"`
	Caller struct {
		Number string `json:"number"`
	} `json:"caller"`
	Dialplan struct {
		Exten string `json:"exten"`
	} `json:"dialplan"`
}

type ariRecording struct {
	Name      string `json:"name"`
	Duration  int    `json:"duration"`
	TargetURI string `json:"target_uri"`
	State     string `json:"state"`
}

// Q.850 hangup causes worth distinguishing on un-answered volunteer legs.
const (
	causeBusy       = 17
	causeNoAnswer   = 19
	causeNoResponse = 18
)
