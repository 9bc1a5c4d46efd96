package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pgmove/pgmove/internal/config"
)

// fakeService is an in-memory storage service behind httptest.
type fakeService struct {
	buckets map[string]map[string][]byte // bucket -> object name -> data
}

func newFakeService() *fakeService {
	return &fakeService{buckets: make(map[string]map[string][]byte)}
}

func (s *fakeService) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /bucket", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer " {
			http.Error(w, "missing key", http.StatusUnauthorized)
			return
		}
		var out []Bucket
		for name := range s.buckets {
			out = append(out, Bucket{ID: name, Name: name})
		}
		json.NewEncoder(w).Encode(out)
	})

	mux.HandleFunc("POST /bucket", func(w http.ResponseWriter, r *http.Request) {
		var req Bucket
		json.NewDecoder(r.Body).Decode(&req)
		if _, ok := s.buckets[req.Name]; ok {
			http.Error(w, `{"error":"bucket already exists"}`, http.StatusConflict)
			return
		}
		s.buckets[req.Name] = make(map[string][]byte)
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /object/list/{bucket}", func(w http.ResponseWriter, r *http.Request) {
		objects, ok := s.buckets[r.PathValue("bucket")]
		if !ok {
			http.Error(w, "no such bucket", http.StatusNotFound)
			return
		}
		out := []Object{}
		for name := range objects {
			out = append(out, Object{Name: name})
		}
		json.NewEncoder(w).Encode(out)
	})

	mux.HandleFunc("GET /object/{bucket}/{name...}", func(w http.ResponseWriter, r *http.Request) {
		data, ok := s.buckets[r.PathValue("bucket")][r.PathValue("name")]
		if !ok {
			http.Error(w, "no such object", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(data)
	})

	mux.HandleFunc("POST /object/{bucket}/{name...}", func(w http.ResponseWriter, r *http.Request) {
		bucket, ok := s.buckets[r.PathValue("bucket")]
		if !ok {
			http.Error(w, "no such bucket", http.StatusNotFound)
			return
		}
		data, _ := io.ReadAll(r.Body)
		bucket[r.PathValue("name")] = data
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

func TestMirrorCopiesBucketsAndFiles(t *testing.T) {
	src := newFakeService()
	src.buckets["avatars"] = map[string][]byte{
		"a.png":      []byte("png-a"),
		"deep/b.png": []byte("png-b"),
	}
	src.buckets["docs"] = map[string][]byte{}

	dst := newFakeService()

	srcSrv := httptest.NewServer(src.handler(t))
	defer srcSrv.Close()
	dstSrv := httptest.NewServer(dst.handler(t))
	defer dstSrv.Close()

	cfg := &config.StorageConfig{
		SourceURL: srcSrv.URL, SourceKey: "src-key",
		TargetURL: dstSrv.URL, TargetKey: "dst-key",
	}
	stats, err := Mirror(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Mirror: %v", err)
	}
	if stats.BucketsMigrated != 2 || stats.FilesMigrated != 2 || stats.FilesFailed != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if string(dst.buckets["avatars"]["deep/b.png"]) != "png-b" {
		t.Errorf("object content lost: %+v", dst.buckets)
	}
}

func TestMirrorSkipsWithoutCredentials(t *testing.T) {
	stats, err := Mirror(context.Background(), &config.StorageConfig{
		SourceURL: "http://src", SourceKey: "k",
		// target not configured
	})
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("err = %v, want ErrMissingCredentials", err)
	}
	if stats != (Stats{}) {
		t.Errorf("stats = %+v, want zeroed", stats)
	}
}

func TestMirrorExistingTargetBucketNotAnError(t *testing.T) {
	src := newFakeService()
	src.buckets["avatars"] = map[string][]byte{"a.png": []byte("x")}

	dst := newFakeService()
	dst.buckets["avatars"] = map[string][]byte{} // pre-existing

	srcSrv := httptest.NewServer(src.handler(t))
	defer srcSrv.Close()
	dstSrv := httptest.NewServer(dst.handler(t))
	defer dstSrv.Close()

	stats, err := Mirror(context.Background(), &config.StorageConfig{
		SourceURL: srcSrv.URL, SourceKey: "k",
		TargetURL: dstSrv.URL, TargetKey: "k",
	})
	if err != nil {
		t.Fatalf("Mirror: %v", err)
	}
	if stats.BucketsMigrated != 1 || stats.FilesMigrated != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestMirrorCountsFailedBucketCreation(t *testing.T) {
	src := newFakeService()
	src.buckets["avatars"] = map[string][]byte{"a.png": []byte("x")}

	srcSrv := httptest.NewServer(src.handler(t))
	defer srcSrv.Close()

	dstSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "storage quota exceeded", http.StatusInternalServerError)
	}))
	defer dstSrv.Close()

	stats, err := Mirror(context.Background(), &config.StorageConfig{
		SourceURL: srcSrv.URL, SourceKey: "k",
		TargetURL: dstSrv.URL, TargetKey: "k",
	})
	if err != nil {
		t.Fatalf("Mirror: %v", err)
	}
	if stats.BucketsFailed != 1 || stats.BucketsMigrated != 0 {
		t.Errorf("stats = %+v, want one failed bucket", stats)
	}
	if stats.FilesMigrated != 0 {
		t.Errorf("files copied into a bucket that was never created: %+v", stats)
	}
}

func TestClientSendsServiceKey(t *testing.T) {
	var gotAuth, gotAPIKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAPIKey = r.Header.Get("apikey")
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret")
	if _, err := c.ListBuckets(context.Background()); err != nil {
		t.Fatalf("ListBuckets: %v", err)
	}
	if gotAuth != "Bearer secret" || gotAPIKey != "secret" {
		t.Errorf("auth headers = %q / %q", gotAuth, gotAPIKey)
	}
}
