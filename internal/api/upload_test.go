package api

import (
	"context"
	"net/http"
	"testing"

	"molva/internal/models"
)

// Minimal PNG header, enough for content sniffing.
var pngBytes = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}

func TestUploadFileSniffsImage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/files", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("not a multipart upload: %v", err)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Fatalf("file part missing: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"fileId":"f1"}`))
	})

	client, _ := newTestClient(t, mux)

	att, err := client.UploadFile(context.Background(), "photo.png", pngBytes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if att.FileID != "f1" {
		t.Errorf("unexpected file id: %s", att.FileID)
	}
	if att.Type != models.AttachmentTypeImage {
		t.Errorf("png must classify as image, got %s", att.Type)
	}
	if att.MimeType != "image/png" {
		t.Errorf("unexpected mime type: %s", att.MimeType)
	}
	if att.Name != "photo.png" {
		t.Errorf("unexpected name: %s", att.Name)
	}
}

func TestUploadFileUnknownTypeIsFile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/files", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"fileId":"f2"}`))
	})

	client, _ := newTestClient(t, mux)

	att, err := client.UploadFile(context.Background(), "notes.txt", []byte("plain text"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if att.Type != models.AttachmentTypeFile {
		t.Errorf("unknown content must classify as file, got %s", att.Type)
	}
	if att.MimeType != "application/octet-stream" {
		t.Errorf("unexpected mime type: %s", att.MimeType)
	}
}
