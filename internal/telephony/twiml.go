package telephony

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"hotline-platform/internal/prompts"
)

// Minimal TwiML-dialect response builder shared by the two hosted XML
// backends. It intentionally avoids any provider SDK dependency; only the
// verbs we emit at the adapter boundary are modeled.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName  xml.Name `xml:"Say"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

type twimlPlay struct {
	XMLName xml.Name `xml:"Play"`
	Loop    int      `xml:"loop,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

type twimlGather struct {
	XMLName   xml.Name `xml:"Gather"`
	Action    string   `xml:"action,attr"`
	Method    string   `xml:"method,attr"`
	NumDigits int      `xml:"numDigits,attr,omitempty"`
	Timeout   int      `xml:"timeout,attr,omitempty"`
	Say       *twimlSay
	Play      *twimlPlay
}

type twimlEnqueue struct {
	XMLName xml.Name `xml:"Enqueue"`
	WaitURL string   `xml:"waitUrl,attr"`
	Action  string   `xml:"action,attr"`
	Method  string   `xml:"method,attr"`
	Name    string   `xml:",chardata"`
}

type twimlDial struct {
	XMLName xml.Name    `xml:"Dial"`
	Queue   *twimlQueue `xml:"Queue,omitempty"`
	Number  string      `xml:"Number,omitempty"`
}

type twimlQueue struct {
	Name string `xml:",chardata"`
}

type twimlRecord struct {
	XMLName   xml.Name `xml:"Record"`
	Action    string   `xml:"action,attr"`
	Method    string   `xml:"method,attr"`
	MaxLength int      `xml:"maxLength,attr,omitempty"`
	PlayBeep  bool     `xml:"playBeep,attr"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlLeave struct {
	XMLName xml.Name `xml:"Leave"`
}

type twimlRedirect struct {
	XMLName xml.Name `xml:"Redirect"`
	URL     string   `xml:",chardata"`
}

// renderTwiML serializes canonical commands into the XML dialect. baseURL is
// prefixed to relative callback paths so the provider can reach us.
func renderTwiML(cmds []Command, res prompts.Resolver, baseURL string) (Response, error) {
	var r twimlResponse

	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case Speak:
			if c.Text != "" {
				r.Verbs = append(r.Verbs, twimlSay{Language: c.Language, Text: c.Text})
				continue
			}
			r.Verbs = append(r.Verbs, promptVerb(res, c.PromptKey, c.Language))
		case PlayAudio:
			r.Verbs = append(r.Verbs, twimlPlay{URL: c.URL, Loop: c.Loop})
		case GatherDigits:
			g := twimlGather{
				Action:    baseURL + c.ActionPath,
				Method:    "POST",
				NumDigits: c.NumDigits,
				Timeout:   int(c.Timeout.Seconds()),
			}
			switch {
			case c.Text != "":
				g.Say = &twimlSay{Language: c.Language, Text: c.Text}
			case c.PromptKey != "":
				switch v := promptVerb(res, c.PromptKey, c.Language).(type) {
				case twimlSay:
					g.Say = &v
				case twimlPlay:
					g.Play = &v
				}
			}
			r.Verbs = append(r.Verbs, g)
			// Gather falls through on timeout; the empty result still has to
			// reach the digits endpoint.
			r.Verbs = append(r.Verbs, twimlRedirect{URL: baseURL + c.ActionPath})
		case Enqueue:
			r.Verbs = append(r.Verbs, twimlEnqueue{
				Name:    c.Queue,
				WaitURL: baseURL + c.WaitPath,
				Action:  baseURL + c.ExitPath,
				Method:  "POST",
			})
		case HoldLoop:
			// The wait URL is re-polled when the hold content finishes, so
			// rendering the content alone keeps the loop going.
			r.Verbs = append(r.Verbs, promptVerb(res, c.HoldPromptKey, c.Language))
		case LeaveQueue:
			r.Verbs = append(r.Verbs, twimlLeave{})
		case Bridge:
			r.Verbs = append(r.Verbs, twimlDial{Queue: &twimlQueue{Name: c.Queue}})
		case Record:
			if c.PromptKey != "" {
				r.Verbs = append(r.Verbs, promptVerb(res, c.PromptKey, c.Language))
			}
			r.Verbs = append(r.Verbs, twimlRecord{
				Action:    baseURL + c.DonePath,
				Method:    "POST",
				MaxLength: int(c.MaxDuration.Seconds()),
				PlayBeep:  true,
			})
		case Reject:
			reason := c.Reason
			if reason == "" {
				reason = "rejected"
			}
			r.Verbs = append(r.Verbs, twimlReject{Reason: reason})
		case Hangup:
			r.Verbs = append(r.Verbs, twimlHangup{})
		default:
			return Response{}, fmt.Errorf("telephony: twiml cannot render %T", cmd)
		}
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return Response{}, err
	}
	if err := enc.Flush(); err != nil {
		return Response{}, err
	}
	return Response{ContentType: "application/xml", Body: buf.Bytes()}, nil
}

func promptVerb(res prompts.Resolver, key, language string) any {
	p := res.Resolve(key, language)
	if p.AudioURL != "" {
		return twimlPlay{URL: p.AudioURL}
	}
	return twimlSay{Language: language, Text: p.Text}
}
