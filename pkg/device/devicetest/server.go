// Package devicetest provides an in-memory e-reader for tests. It speaks
// the same HTTPS API as the device: nonce authentication, the document
// listing, ranged reads, chunked multipart uploads and folder management.
package devicetest

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joe/dpt-sync/pkg/device"
)

// Exported constants.
const (
	ClientID = "test-client-0001"
	RootPath = "Document"
)

// Server is a fake device.
type Server struct {
	*httptest.Server

	Key *rsa.PrivateKey

	mu       sync.Mutex
	entries  map[string]*entry
	nextID   int
	nextRev  int
	nonce    string
	session  string
	clock    time.Time
	opened   []string
	viewing  []string
	requests []string
	stale    bool
	fail     func(r *http.Request) int
	observe  func(r *http.Request)
}

type entry struct {
	id       string
	parentID string
	name     string
	folder   bool
	note     bool
	content  []byte
	upload   []byte
	rev      string
	reported int64
	modified time.Time
}

// NewServer starts a fake device and stops it when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate device key: %v", err)
	}

	srv := &Server{
		Key: key,
		entries: map[string]*entry{
			"root": {id: "root", name: RootPath, folder: true, modified: time.Unix(0, 0).UTC()},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/nonce/{client}", srv.handleNonce)
	mux.HandleFunc("PUT /auth", srv.handleAuth)
	mux.HandleFunc("GET /documents2", srv.authed(srv.handleList))
	mux.HandleFunc("GET /documents2/{id}", srv.authed(srv.handleDocumentInfo))
	mux.HandleFunc("POST /documents2", srv.authed(srv.handleCreateDocument))
	mux.HandleFunc("PUT /documents2/{id}", srv.authed(srv.handleMove))
	mux.HandleFunc("POST /folders2", srv.authed(srv.handleCreateFolder))
	mux.HandleFunc("PUT /folders2/{id}", srv.authed(srv.handleMove))
	mux.HandleFunc("DELETE /folders/{id}", srv.authed(srv.handleDelete))
	mux.HandleFunc("DELETE /documents/{id}", srv.authed(srv.handleDelete))
	mux.HandleFunc("GET /documents/{id}/file", srv.authed(srv.handleRead))
	mux.HandleFunc("PUT /documents/{id}/file", srv.authed(srv.handleWrite))
	mux.HandleFunc("POST /documents/{id}/copy", srv.authed(srv.handleCopy))
	mux.HandleFunc("PUT /system/configs/datetime", srv.authed(srv.handleTime))
	mux.HandleFunc("PUT /viewer/controls/open2", srv.authed(srv.handleOpen))
	mux.HandleFunc("GET /viewer/status/current_viewing", srv.authed(srv.handleViewing))

	srv.Server = httptest.NewTLSServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

// Credentials returns credentials the server accepts.
func (s *Server) Credentials() device.Credentials {
	return device.Credentials{ClientID: ClientID, Key: s.Key}
}

// NewClient returns an unauthenticated client for the server.
func (s *Server) NewClient() *device.Client {
	return device.NewClient(device.Config{
		BaseURL:       s.URL,
		HTTPClient:    s.Client(),
		MaxRetries:    -1,
		RetryInterval: time.Millisecond,
	})
}

// SetFail installs a hook consulted before every authenticated request. A
// non-zero status is returned to the client instead of serving it.
func (s *Server) SetFail(fn func(r *http.Request) int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fail = fn
}

// SetOnRequest installs a hook that observes every authenticated request
// before it is served.
func (s *Server) SetOnRequest(fn func(r *http.Request)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.observe = fn
}

// SetStaleSizes makes metadata report the size seen before the last
// content change until the document's file is read.
func (s *Server) SetStaleSizes(stale bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stale = stale
}

// AddFolder creates relPath and any missing parents, returning its id.
func (s *Server) AddFolder(relPath string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ensureFolderLocked(relPath)
}

// PutDocument creates or replaces the document at relPath.
func (s *Server) PutDocument(relPath string, content []byte, modified time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	parentID := s.ensureFolderLocked(parentOf(relPath))
	name := path.Base(relPath)

	if existing := s.childLocked(parentID, name); existing != nil {
		if !s.stale {
			existing.reported = int64(len(content))
		}
		existing.content = append([]byte(nil), content...)
		existing.rev = s.newRevLocked()
		existing.modified = modified
		return existing.id
	}

	e := s.newEntryLocked(parentID, name, false)
	e.content = append([]byte(nil), content...)
	e.reported = int64(len(content))
	e.rev = s.newRevLocked()
	e.modified = modified

	return e.id
}

// MarkNote flags the document at relPath as a note.
func (s *Server) MarkNote(relPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.lookupLocked(relPath); e != nil {
		e.note = true
	}
}

// Content returns the bytes of the document at relPath.
func (s *Server) Content(relPath string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookupLocked(relPath)
	if e == nil || e.folder {
		return nil, false
	}

	return append([]byte(nil), e.content...), true
}

// Revision returns the revision of the document at relPath.
func (s *Server) Revision(relPath string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.lookupLocked(relPath); e != nil {
		return e.rev
	}

	return ""
}

// ID returns the id of the entry at relPath.
func (s *Server) ID(relPath string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.lookupLocked(relPath); e != nil {
		return e.id
	}

	return ""
}

// Paths lists the relative paths of every entry below the root, sorted.
// Folders carry a trailing slash.
func (s *Server) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, e := range s.entries {
		if e.id == "root" {
			continue
		}
		rel := strings.TrimPrefix(s.pathLocked(e), RootPath+"/")
		if e.folder {
			rel += "/"
		}
		out = append(out, rel)
	}
	sort.Strings(out)

	return out
}

// Requests returns "METHOD path" for every authenticated request served.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.requests...)
}

// Clock returns the last time set through the datetime endpoint.
func (s *Server) Clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.clock
}

// Opened returns the document ids opened on the viewer.
func (s *Server) Opened() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.opened...)
}

// SetViewing sets the entry paths reported as currently open.
func (s *Server) SetViewing(paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.viewing = paths
}

func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("client") != ClientID {
		http.Error(w, "unknown client", http.StatusNotFound)
		return
	}

	raw := make([]byte, 16)
	_, _ = rand.Read(raw)

	s.mu.Lock()
	s.nonce = hex.EncodeToString(raw)
	nonce := s.nonce
	s.mu.Unlock()

	writeJSON(w, map[string]string{"nonce": nonce})
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID    string `json:"client_id"`
		NonceSigned string `json:"nonce_signed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	signature, err := base64.StdEncoding.DecodeString(req.NonceSigned)
	if err != nil || req.ClientID != ClientID || s.nonce == "" {
		http.Error(w, "bad signature", http.StatusUnauthorized)
		return
	}

	digest := sha256.Sum256([]byte(s.nonce))
	if err := rsa.VerifyPKCS1v15(&s.Key.PublicKey, crypto.SHA256, digest[:], signature); err != nil {
		http.Error(w, "bad signature", http.StatusUnauthorized)
		return
	}

	token := make([]byte, 32)
	_, _ = rand.Read(token)
	s.session = hex.EncodeToString(token)
	s.nonce = ""

	http.SetCookie(w, &http.Cookie{Name: device.CookieName, Value: s.session, Path: "/"})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(device.CookieName)

		s.mu.Lock()
		ok := err == nil && s.session != "" && cookie.Value == s.session
		if ok {
			s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		}
		fail, observe := s.fail, s.observe
		s.mu.Unlock()

		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		if observe != nil {
			observe(r)
		}

		if fail != nil {
			if status := fail(r); status != 0 {
				http.Error(w, "injected failure", status)
				return
			}
		}

		next(w, r)
	}
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]map[string]any, 0, len(s.entries))
	for _, e := range s.entries {
		list = append(list, s.entryJSONLocked(e))
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i]["entry_path"].(string) < list[j]["entry_path"].(string)
	})

	writeJSON(w, map[string]any{"entry_list": list})
}

func (s *Server) handleDocumentInfo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[r.PathValue("id")]
	if !ok || e.folder {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	writeJSON(w, s.entryJSONLocked(e))
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParentID string `json:"parent_folder_id"`
		Name     string `json:"folder_name"`
	}
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.validParentLocked(w, req.ParentID, req.Name) {
		return
	}

	e := s.newEntryLocked(req.ParentID, req.Name, true)
	writeJSON(w, map[string]string{"folder_id": e.id})
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParentID string `json:"parent_folder_id"`
		Name     string `json:"file_name"`
	}
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.validParentLocked(w, req.ParentID, req.Name) {
		return
	}

	e := s.newEntryLocked(req.ParentID, req.Name, false)
	e.rev = s.newRevLocked()
	e.modified = time.Now().UTC()
	writeJSON(w, map[string]string{"document_id": e.id})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParentID   string `json:"parent_folder_id"`
		FolderName string `json:"folder_name"`
		FileName   string `json:"file_name"`
	}
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[r.PathValue("id")]
	if !ok || e.id == "root" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	name := req.FileName
	if e.folder {
		name = req.FolderName
	}

	if !s.validParentLocked(w, req.ParentID, name) {
		return
	}

	e.parentID = req.ParentID
	e.name = name
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[r.PathValue("id")]
	if !ok || e.id == "root" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	wantFolder := strings.HasPrefix(r.URL.Path, "/folders/")
	if e.folder != wantFolder {
		http.Error(w, "wrong entry type", http.StatusBadRequest)
		return
	}

	s.deleteLocked(e.id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[r.PathValue("id")]
	if !ok || e.folder {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	e.reported = int64(len(e.content))

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		_, _ = w.Write(e.content)
		return
	}

	var first, last int64
	if _, err := fmt.Sscanf(rangeHeader, "bytes=%d-%d", &first, &last); err != nil {
		http.Error(w, "bad range", http.StatusBadRequest)
		return
	}

	size := int64(len(e.content))
	if first >= size {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	last = min(last, size-1)

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", first, last, size))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = w.Write(e.content[first : last+1])
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	offset, err1 := strconv.ParseInt(query.Get("offset_bytes"), 10, 64)
	total, err2 := strconv.ParseInt(query.Get("total_bytes"), 10, 64)
	lastByte, err3 := strconv.ParseInt(query.Get("last_byte"), 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		http.Error(w, "missing range parameters", http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	chunk, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[r.PathValue("id")]
	if !ok || e.folder {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if offset == 0 {
		e.upload = nil
	}
	if offset != int64(len(e.upload)) || lastByte != offset+int64(len(chunk))-1 {
		http.Error(w, "non-contiguous upload", http.StatusBadRequest)
		return
	}

	e.upload = append(e.upload, chunk...)
	if int64(len(e.upload)) >= total {
		e.content = e.upload[:total]
		e.upload = nil
		e.reported = total
		e.rev = s.newRevLocked()
		e.modified = time.Now().UTC()
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCopy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParentID string `json:"parent_folder_id"`
		Name     string `json:"file_name"`
	}
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.entries[r.PathValue("id")]
	if !ok || src.folder {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	name := req.Name
	if name == "" {
		name = src.name
	}

	if !s.validParentLocked(w, req.ParentID, name) {
		return
	}

	e := s.newEntryLocked(req.ParentID, name, false)
	e.content = append([]byte(nil), src.content...)
	e.reported = int64(len(e.content))
	e.note = src.note
	e.rev = s.newRevLocked()
	e.modified = src.modified
	writeJSON(w, map[string]string{"document_id": e.id})
}

func (s *Server) handleTime(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value string `json:"value"`
	}
	if !decode(w, r, &req) {
		return
	}

	stamp, err := time.Parse(device.TimeFormat, req.Value)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.clock = stamp
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocumentID string `json:"document_id"`
	}
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[req.DocumentID]; !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	s.opened = append(s.opened, req.DocumentID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleViewing(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	views := make([]map[string]string, 0, len(s.viewing))
	for _, p := range s.viewing {
		views = append(views, map[string]string{"entry_path": p})
	}

	writeJSON(w, map[string]any{"views": views})
}

func (s *Server) validParentLocked(w http.ResponseWriter, parentID, name string) bool {
	parent, ok := s.entries[parentID]
	if !ok || !parent.folder {
		http.Error(w, "parent not found", http.StatusNotFound)
		return false
	}

	if name == "" {
		http.Error(w, "empty name", http.StatusBadRequest)
		return false
	}

	if s.childLocked(parentID, name) != nil {
		http.Error(w, "already exists", http.StatusConflict)
		return false
	}

	return true
}

func (s *Server) newEntryLocked(parentID, name string, folder bool) *entry {
	s.nextID++
	e := &entry{
		id:       fmt.Sprintf("id-%04d", s.nextID),
		parentID: parentID,
		name:     name,
		folder:   folder,
		modified: time.Now().UTC(),
	}
	s.entries[e.id] = e

	return e
}

func (s *Server) newRevLocked() string {
	s.nextRev++
	return fmt.Sprintf("rev-%04d", s.nextRev)
}

func (s *Server) ensureFolderLocked(relPath string) string {
	id := "root"
	if relPath == "" {
		return id
	}

	for _, name := range strings.Split(relPath, "/") {
		child := s.childLocked(id, name)
		if child == nil {
			child = s.newEntryLocked(id, name, true)
		}
		id = child.id
	}

	return id
}

func (s *Server) childLocked(parentID, name string) *entry {
	for _, e := range s.entries {
		if e.parentID == parentID && e.name == name && e.id != "root" {
			return e
		}
	}

	return nil
}

func (s *Server) lookupLocked(relPath string) *entry {
	id := "root"
	for _, name := range strings.Split(relPath, "/") {
		child := s.childLocked(id, name)
		if child == nil {
			return nil
		}
		id = child.id
	}

	return s.entries[id]
}

func (s *Server) deleteLocked(id string) {
	for _, e := range s.entries {
		if e.parentID == id && e.id != "root" {
			s.deleteLocked(e.id)
		}
	}
	delete(s.entries, id)
}

func (s *Server) pathLocked(e *entry) string {
	if e.id == "root" {
		return RootPath
	}

	return s.pathLocked(s.entries[e.parentID]) + "/" + e.name
}

func (s *Server) entryJSONLocked(e *entry) map[string]any {
	out := map[string]any{
		"entry_path":    s.pathLocked(e),
		"entry_id":      e.id,
		"entry_name":    e.name,
		"modified_date": e.modified.UTC().Format(time.RFC3339),
	}

	if e.folder {
		out["entry_type"] = device.EntryTypeFolder
		return out
	}

	out["entry_type"] = device.EntryTypeDocument
	out["file_revision"] = e.rev
	out["file_size"] = strconv.FormatInt(e.reported, 10)
	out["document_type"] = "normal"
	if e.note {
		out["document_type"] = device.DocumentTypeNote
	}

	return out
}

func parentOf(relPath string) string {
	idx := strings.LastIndex(relPath, "/")
	if idx < 0 {
		return ""
	}

	return relPath[:idx]
}

func decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
