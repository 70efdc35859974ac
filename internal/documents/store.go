// Package documents holds the signed-in user's document list and the
// dashboard banner, and drives upload and delete against the backend.
package documents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sia-project/analyst/internal/gateway"
	"github.com/sia-project/analyst/internal/logging"
)

const (
	listEndpoint   = "/api/documents"
	uploadEndpoint = "/api/documents/upload"
	deleteEndpoint = "/api/documents/delete"

	// UploadField is the multipart field the backend reads the file from.
	UploadField = "document"
)

// Banner texts.
const (
	msgNoFile       = "Please select a file first."
	msgUploading    = "Uploading..."
	msgUploaded     = "Upload successful!"
	msgFetchFailed  = "Failed to fetch documents: "
	msgDeleteFailed = "Failed to delete document. Please refresh. Error: "
)

// Document is one uploaded file as listed by the backend.
type Document struct {
	ID         string    `json:"id"`
	FileName   string    `json:"fileName"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Status is the transient banner: a progress message and an error line.
type Status struct {
	Message string
	Error   string
}

// Caller is the subset of *gateway.Gateway the store needs.
type Caller interface {
	Do(ctx context.Context, req gateway.Request) (*gateway.Result, error)
}

// Store is the ordered document collection. Local state is updated
// immediately; the backend remains authoritative and is refetched after
// uploads and failed deletes.
type Store struct {
	gw     Caller
	logger *zap.Logger

	mu        sync.Mutex
	docs      []Document
	uploading bool
	status    Status
	watchers  []func()
}

func NewStore(gw Caller, logger *zap.Logger) *Store {
	logger = logging.OrNop(logger)
	return &Store{gw: gw, logger: logger.Named("documents")}
}

// Documents returns a copy of the current list.
func (s *Store) Documents() []Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Document(nil), s.docs...)
}

func (s *Store) Uploading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploading
}

func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Watch registers fn to run after every state change.
func (s *Store) Watch(fn func()) {
	s.mu.Lock()
	s.watchers = append(s.watchers, fn)
	s.mu.Unlock()
}

// update applies fn under the lock and then notifies watchers.
func (s *Store) update(fn func()) {
	s.mu.Lock()
	fn()
	ws := append([]func(){}, s.watchers...)
	s.mu.Unlock()
	for _, w := range ws {
		w()
	}
}

// FetchAll replaces the list with the backend's. A payload that is not an
// array yields an empty list; malformed elements of an array are dropped.
func (s *Store) FetchAll(ctx context.Context) error {
	res, err := s.gw.Do(ctx, gateway.JSON{Method: http.MethodGet, Endpoint: listEndpoint})
	if err != nil {
		s.logger.Warn("fetching documents", zap.Error(err))
		s.update(func() { s.status.Error = msgFetchFailed + gateway.Message(err) })
		return err
	}

	docs, skipped := decodeList(res)
	if docs == nil {
		s.logger.Debug("document list was not an array", zap.String("content_type", res.ContentType))
	}
	if skipped > 0 {
		s.logger.Warn("skipped malformed documents", zap.Int("count", skipped))
	}
	s.update(func() { s.docs = docs })
	return nil
}

// wireDocument accepts any uploadedAt value. One that is not an RFC 3339
// string leaves UploadedAt zero instead of rejecting the document.
type wireDocument struct {
	ID         string          `json:"id"`
	FileName   string          `json:"fileName"`
	UploadedAt json.RawMessage `json:"uploadedAt"`
}

func (w wireDocument) document() Document {
	d := Document{ID: w.ID, FileName: w.FileName}
	var stamp string
	if json.Unmarshal(w.UploadedAt, &stamp) == nil {
		if t, err := time.Parse(time.RFC3339Nano, stamp); err == nil {
			d.UploadedAt = t
		}
	}
	return d
}

// decodeList returns nil when the payload is not an array. Elements that are
// not document objects are skipped and counted; the rest are kept in order,
// first occurrence of an id wins.
func decodeList(res *gateway.Result) (docs []Document, skipped int) {
	if !res.IsJSON() {
		return nil, 0
	}
	var raw []json.RawMessage
	if err := res.Decode(&raw); err != nil || raw == nil {
		return nil, 0
	}
	seen := make(map[string]struct{}, len(raw))
	docs = make([]Document, 0, len(raw))
	for _, elem := range raw {
		var w wireDocument
		if err := json.Unmarshal(elem, &w); err != nil {
			skipped++
			continue
		}
		if _, dup := seen[w.ID]; dup {
			continue
		}
		seen[w.ID] = struct{}{}
		docs = append(docs, w.document())
	}
	return docs, skipped
}

// Upload sends f and refetches the list on success. A nil f fails locally
// with ErrNoFile.
func (s *Store) Upload(ctx context.Context, f *File) error {
	if f == nil {
		s.update(func() { s.status.Error = msgNoFile })
		return ErrNoFile
	}

	s.update(func() {
		s.uploading = true
		s.status = Status{Message: msgUploading}
	})
	defer s.update(func() { s.uploading = false })

	_, err := s.gw.Do(ctx, gateway.Multipart{
		Method:   http.MethodPost,
		Endpoint: uploadEndpoint,
		Files:    []gateway.FormFile{{Field: UploadField, Name: f.Name, Data: f.Data}},
	})
	if err != nil {
		s.logger.Warn("upload failed", zap.String("file", f.Name), zap.Error(err))
		s.update(func() { s.status = Status{Error: gateway.Message(err)} })
		return err
	}

	s.logger.Info("uploaded", zap.String("file", f.Name), zap.Int("bytes", len(f.Data)))
	s.update(func() { s.status.Message = msgUploaded })
	s.reconcile(ctx)
	s.update(func() { s.status.Message = "" })
	return nil
}

// Delete removes id locally first, then on the backend. A failed backend
// delete is not retried; the list is refetched instead.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.removeLocal(id)

	_, err := s.gw.Do(ctx, gateway.JSON{
		Method:   http.MethodDelete,
		Endpoint: deleteEndpoint + "?id=" + url.QueryEscape(id),
	})
	if err != nil {
		s.logger.Warn("delete failed, reconciling", zap.String("id", id), zap.Error(err))
		s.update(func() { s.status.Error = msgDeleteFailed + gateway.Message(err) })
		s.reconcile(ctx)
		return err
	}
	s.logger.Info("deleted", zap.String("id", id))
	return nil
}

func (s *Store) removeLocal(id string) {
	s.update(func() {
		kept := s.docs[:0:0]
		for _, d := range s.docs {
			if d.ID != id {
				kept = append(kept, d)
			}
		}
		s.docs = kept
		s.status.Error = ""
	})
}

func (s *Store) reconcile(ctx context.Context) {
	if err := s.FetchAll(ctx); err != nil {
		s.logger.Warn("reconciliation fetch failed", zap.Error(err))
	}
}
