package telephony

import (
	"strings"
	"testing"
	"time"

	"hotline-platform/internal/prompts"
)

func testResolver() *prompts.Table {
	t := prompts.NewTable("en")
	t.SetText("welcome", "en", "You have reached the helpline.")
	t.SetText("welcome", "de", "Sie haben die Hotline erreicht.")
	t.SetAudio("hold_music", "en", "https://cdn.example.org/hold.mp3")
	return t
}

func renderString(t *testing.T, cmds []Command) string {
	t.Helper()
	res, err := renderTwiML(cmds, testResolver(), "https://hotline.example.org")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if res.ContentType != "application/xml" {
		t.Fatalf("content type = %q", res.ContentType)
	}
	return string(res.Body)
}

func TestTwiMLSpeakPrefersLiteralText(t *testing.T) {
	out := renderString(t, []Command{Speak{PromptKey: "welcome", Language: "en", Text: "4, 7, 1"}})
	if !strings.Contains(out, ">4, 7, 1</Say>") {
		t.Fatalf("literal text missing:\n%s", out)
	}
	if strings.Contains(out, "helpline") {
		t.Fatalf("prompt table must not win over literal text:\n%s", out)
	}
}

func TestTwiMLPromptAudioWinsOverText(t *testing.T) {
	out := renderString(t, []Command{Speak{PromptKey: "hold_music", Language: "en"}})
	if !strings.Contains(out, "<Play>https://cdn.example.org/hold.mp3</Play>") {
		t.Fatalf("audio prompt not rendered:\n%s", out)
	}
}

func TestTwiMLGatherFallsThroughToRedirect(t *testing.T) {
	out := renderString(t, []Command{GatherDigits{
		PromptKey:  "welcome",
		Language:   "de",
		NumDigits:  1,
		Timeout:    10 * time.Second,
		ActionPath: "/webhooks/digits",
	}})

	if !strings.Contains(out, `action="https://hotline.example.org/webhooks/digits"`) {
		t.Fatalf("gather action missing:\n%s", out)
	}
	if !strings.Contains(out, `numDigits="1"`) || !strings.Contains(out, `timeout="10"`) {
		t.Fatalf("gather attrs missing:\n%s", out)
	}
	if !strings.Contains(out, "Hotline erreicht") {
		t.Fatalf("language-resolved prompt missing:\n%s", out)
	}
	// A silent timeout must still produce a digits webhook.
	if !strings.Contains(out, "<Redirect>https://hotline.example.org/webhooks/digits</Redirect>") {
		t.Fatalf("timeout redirect missing:\n%s", out)
	}
}

func TestTwiMLEnqueueCarriesWaitAndExit(t *testing.T) {
	out := renderString(t, []Command{Enqueue{
		Queue:    "hotline",
		WaitPath: "/webhooks/queue-wait",
		ExitPath: "/webhooks/queue-exit",
	}})

	if !strings.Contains(out, `waitUrl="https://hotline.example.org/webhooks/queue-wait"`) {
		t.Fatalf("wait url missing:\n%s", out)
	}
	if !strings.Contains(out, `action="https://hotline.example.org/webhooks/queue-exit"`) {
		t.Fatalf("exit action missing:\n%s", out)
	}
	if !strings.Contains(out, ">hotline</Enqueue>") {
		t.Fatalf("queue name missing:\n%s", out)
	}
}

func TestTwiMLVoicemailSequence(t *testing.T) {
	out := renderString(t, []Command{
		Speak{PromptKey: "welcome", Language: "en"},
		Record{MaxDuration: 180 * time.Second, DonePath: "/webhooks/recording"},
		Hangup{},
	})

	recordIdx := strings.Index(out, "<Record")
	hangupIdx := strings.Index(out, "<Hangup")
	if recordIdx == -1 || hangupIdx == -1 || recordIdx > hangupIdx {
		t.Fatalf("voicemail verbs out of order:\n%s", out)
	}
	if !strings.Contains(out, `maxLength="180"`) {
		t.Fatalf("max length missing:\n%s", out)
	}
}

func TestTwiMLRejectDefaultsReason(t *testing.T) {
	out := renderString(t, []Command{Reject{}})
	if !strings.Contains(out, `<Reject reason="rejected"`) {
		t.Fatalf("default reject reason missing:\n%s", out)
	}
}
