package whisper

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"visualizer.worker/internal/core/domain"
)

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			return
		}
		if r.FormValue("response_format") != "verbose_json" || r.FormValue("translate") != "true" || r.FormValue("language") != "fr" {
			t.Errorf("form = %v", r.MultipartForm.Value)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		data, _ := io.ReadAll(f)
		if string(data) != "wav" {
			t.Errorf("audio = %q", data)
		}
		w.Write([]byte(`{"task":"translate","language":"french","duration":4.2,"text":" Hello there. General.",
			"segments":[
				{"id":0,"start":0.0,"end":1.5,"text":" Hello there.","words":[{"word":" Hello","start":0.0,"end":0.6,"probability":0.98}]},
				{"id":1,"start":1.5,"end":4.2,"text":" General."}
			]}`))
	}))
	defer srv.Close()

	tr, err := New(srv.URL).Transcribe(context.Background(), domain.TranscriptionRequest{
		Audio:    []byte("wav"),
		Language: "fr",
		Task:     "translate",
	})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if tr.Text != "Hello there. General." || tr.Language != "french" || tr.Duration != 4.2 {
		t.Errorf("Transcribe() = %+v", tr)
	}
	if len(tr.Segments) != 2 || len(tr.Segments[0].Words) != 1 || tr.Segments[0].Words[0].Probability != 0.98 {
		t.Errorf("segments = %+v", tr.Segments)
	}
}

func TestLoadModel(t *testing.T) {
	var model string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(1 << 20)
		model = r.FormValue("model")
		if model == "/missing.bin" {
			http.Error(w, "failed to load model", http.StatusInternalServerError)
			return
		}
		w.Write([]byte("Load was successful!"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	if err := c.LoadModel(context.Background(), "/models/whisper/ggml-small.bin"); err != nil {
		t.Fatalf("LoadModel() error = %v", err)
	}
	if model != "/models/whisper/ggml-small.bin" {
		t.Errorf("model = %q", model)
	}
	if err := c.LoadModel(context.Background(), "/missing.bin"); err == nil {
		t.Error("LoadModel() should fail on 500")
	}
}

func TestTranscribeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"failed to read audio"}`))
	}))
	defer srv.Close()

	if _, err := New(srv.URL).Transcribe(context.Background(), domain.TranscriptionRequest{Audio: []byte("x")}); err == nil {
		t.Error("Transcribe() should fail on error body")
	}
}
