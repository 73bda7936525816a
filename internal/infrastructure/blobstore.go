package infrastructure

import (
	"bytes"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
)

// BlobPrefix is the path under which BlobStore serves its objects.
const BlobPrefix = "/blob/"

type blob struct {
	data    []byte
	mime    string
	created time.Time
}

// BlobStore keeps finalized artifacts in memory and serves them over HTTP
// until they are revoked.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string]blob
}

func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string]blob)}
}

func (s *BlobStore) Create(data []byte, mimeType string) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.blobs[id] = blob{data: data, mime: mimeType, created: time.Now()}
	s.mu.Unlock()
	glog.V(1).Infof("blob: created %s (%s, %d bytes)", id, mimeType, len(data))
	return BlobPrefix + id
}

func (s *BlobStore) Revoke(url string) {
	id := strings.TrimPrefix(url, BlobPrefix)
	s.mu.Lock()
	_, ok := s.blobs[id]
	delete(s.blobs, id)
	s.mu.Unlock()
	if ok {
		glog.V(1).Infof("blob: revoked %s", id)
	}
}

func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// ServeHTTP serves GET /blob/{id}; revoked or unknown ids are 404.
func (s *BlobStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, BlobPrefix)
	s.mu.RLock()
	b, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", b.mime)
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, "", b.created, bytes.NewReader(b.data))
}
