package transcribe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTranscribePostsMultipartAndDecodesText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key-123" {
			t.Errorf("auth header = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("model field = %q", got)
		}
		if got := r.FormValue("language"); got != "de" {
			t.Errorf("language field = %q", got)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("file part: %v", err)
		}
		defer f.Close()
		audio, _ := io.ReadAll(f)
		if string(audio) != "RIFFwav" {
			t.Errorf("audio bytes = %q", audio)
		}
		w.Write([]byte(`{"text": "bitte rufen Sie zurück"}`))
	}))
	defer srv.Close()

	tr := NewHTTP(srv.URL, "key-123", "whisper-1")
	text, err := tr.Transcribe(context.Background(), []byte("RIFFwav"), "de")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "bitte rufen Sie zurück" {
		t.Fatalf("text = %q", text)
	}
}

func TestTranscribeSurfacesEndpointErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr := NewHTTP(srv.URL, "", "")
	if _, err := tr.Transcribe(context.Background(), []byte("x"), "en"); err == nil {
		t.Fatal("want error for non-2xx response")
	}
}

func TestTranscribeRejectsBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	tr := NewHTTP(srv.URL, "", "")
	if _, err := tr.Transcribe(context.Background(), []byte("x"), ""); err == nil {
		t.Fatal("want decode error")
	}
}
