package hedra

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testFactory(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	factory := NewFactory(srv.URL, "model-1", 5*time.Second, zerolog.Nop())
	return factory("test-key")
}

func TestGenerateBulkSharedAudio(t *testing.T) {
	var assetCount, uploadCount, genCount atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("POST /assets", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "test-key" {
			t.Errorf("missing API key header")
		}
		n := assetCount.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"id": "asset-" + string(rune('0'+n))})
	})
	mux.HandleFunc("POST /assets/{id}/upload", func(w http.ResponseWriter, r *http.Request) {
		uploadCount.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /generations", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("bad generation body: %v", err)
		}
		if body["ai_model_id"] != "model-1" {
			t.Errorf("model id = %v", body["ai_model_id"])
		}
		n := genCount.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"id": "job-" + string(rune('0'+n)), "status": "pending"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := testFactory(t, srv)
	results, err := c.GenerateBulk(context.Background(), BulkRequest{
		Images: []BulkItem{
			{Filename: "a.png", Data: []byte("img-a")},
			{Filename: "b.png", Data: []byte("img-b")},
		},
		Audio:       BulkItem{Filename: "track.mp3", Data: []byte("audio")},
		AspectRatio: "16:9",
		Resolution:  "720p",
	})
	if err != nil {
		t.Fatalf("GenerateBulk: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(results))
	}
	// one audio asset + two image assets
	if got := assetCount.Load(); got != 3 {
		t.Errorf("expected 3 asset creations, got %d", got)
	}
	if got := uploadCount.Load(); got != 3 {
		t.Errorf("expected 3 uploads, got %d", got)
	}
	if results[0].ImageFilename != "a.png" || results[1].ImageFilename != "b.png" {
		t.Errorf("unexpected result filenames: %+v", results)
	}
}

func TestGenerateBulkSkipsFailedItems(t *testing.T) {
	var assetCount atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("POST /assets", func(w http.ResponseWriter, r *http.Request) {
		n := assetCount.Add(1)
		// First asset is audio; fail the second (first image) create.
		if n == 2 {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "asset"})
	})
	mux.HandleFunc("POST /assets/{id}/upload", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /generations", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "job-ok", "status": "pending"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := testFactory(t, srv)
	results, err := c.GenerateBulk(context.Background(), BulkRequest{
		Images: []BulkItem{
			{Filename: "bad.png", Data: []byte("x")},
			{Filename: "good.png", Data: []byte("y")},
		},
		Audio: BulkItem{Filename: "track.mp3", Data: []byte("audio")},
	})
	if err != nil {
		t.Fatalf("GenerateBulk: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 accepted job, got %d", len(results))
	}
	if results[0].ImageFilename != "good.png" {
		t.Errorf("accepted wrong item: %+v", results[0])
	}
}

func TestGenerateBulkAudioFailureAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := testFactory(t, srv)
	if _, err := c.GenerateBulk(context.Background(), BulkRequest{
		Images: []BulkItem{{Filename: "a.png", Data: []byte("x")}},
		Audio:  BulkItem{Filename: "track.mp3", Data: []byte("audio")},
	}); err == nil {
		t.Fatal("expected error when shared audio upload fails")
	}
}

func TestGetVideoStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generations/job-1/status" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": "complete",
			"files":  []map[string]string{{"url": "https://cdn/video.mp4", "name": "video.mp4"}},
		})
	}))
	defer srv.Close()

	c := testFactory(t, srv)
	st, err := c.GetVideoStatus(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetVideoStatus: %v", err)
	}
	if st.Status != StatusComplete {
		t.Errorf("status = %q", st.Status)
	}
	if len(st.Files) != 1 || st.Files[0].URL != "https://cdn/video.mp4" {
		t.Errorf("files = %+v", st.Files)
	}
}
