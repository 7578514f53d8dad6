package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Exported constants.
const (
	EntryTypeFolder   = "folder"
	EntryTypeDocument = "document"
	DocumentTypeNote  = "note"
	// TimeFormat is the layout of the device clock setting.
	TimeFormat = "2006-01-02T15:04:05Z"
)

// Size is a byte count the device reports either as a JSON number or a string.
type Size int64

// UnmarshalJSON accepts 123, "123" and "".
func (s *Size) UnmarshalJSON(data []byte) error {
	text := strings.Trim(string(data), `"`)
	if text == "" || text == "null" {
		*s = 0
		return nil
	}

	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid file size %s: %w", data, err)
	}

	*s = Size(n)

	return nil
}

// Entry is one element of the document listing.
type Entry struct {
	EntryPath    string `json:"entry_path"`
	EntryID      string `json:"entry_id"`
	EntryName    string `json:"entry_name"`
	EntryType    string `json:"entry_type"`
	FileRevision string `json:"file_revision"`
	FileSize     Size   `json:"file_size"`
	DocumentType string `json:"document_type"`
	ModifiedDate string `json:"modified_date"`
	CreatedDate  string `json:"created_date"`
}

// IsFolder reports whether the entry is a folder.
func (e Entry) IsFolder() bool {
	return e.EntryType == EntryTypeFolder
}

// IsNote reports whether the entry is a note-type document.
func (e Entry) IsNote() bool {
	return e.DocumentType == DocumentTypeNote
}

// ModTime parses the modification date, falling back to the creation
// date. The zero time is returned when neither parses.
func (e Entry) ModTime() time.Time {
	for _, value := range []string{e.ModifiedDate, e.CreatedDate} {
		if value == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, value); err == nil {
			return t
		}
	}

	return time.Time{}
}

// ListEntries returns every folder and document on the device.
func (c *Client) ListEntries(ctx context.Context) ([]Entry, error) {
	var resp struct {
		EntryList []Entry `json:"entry_list"`
	}

	if err := c.sendJSON(ctx, http.MethodGet, "/documents2?entry_type=all", nil, &resp); err != nil {
		return nil, err
	}

	return resp.EntryList, nil
}

// Document returns fresh metadata for one document.
func (c *Client) Document(ctx context.Context, id string) (Entry, error) {
	var entry Entry
	if err := c.sendJSON(ctx, http.MethodGet, "/documents2/"+url.PathEscape(id), nil, &entry); err != nil {
		return Entry{}, err
	}

	return entry, nil
}

// ReadRange returns up to length bytes of a document starting at offset.
// The reply is shorter at the end of the content.
func (c *Client) ReadRange(ctx context.Context, id string, offset, length int64) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}

	header := http.Header{}
	header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	resp, body, err := c.send(ctx, request{
		method: http.MethodGet,
		path:   "/documents/" + url.PathEscape(id) + "/file",
		header: header,
	})
	if err != nil {
		return nil, err
	}

	// A device that ignores Range replies with the whole file.
	if resp.StatusCode == http.StatusOK {
		if offset >= int64(len(body)) {
			return nil, nil
		}
		body = body[offset:]
	}

	if int64(len(body)) > length {
		body = body[:length]
	}

	return body, nil
}

// WriteChunk uploads chunk as bytes [offset, offset+len(chunk)) of a
// document whose final size is total. Each chunk is its own multipart
// request.
func (c *Client) WriteChunk(ctx context.Context, id, filename string, chunk []byte, offset, total int64) error {
	var body bytes.Buffer

	writer := multipart.NewWriter(&body)

	partHeader := make(textproto.MIMEHeader)
	partHeader.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	partHeader.Set("Content-Type", "application/pdf")

	part, err := writer.CreatePart(partHeader)
	if err != nil {
		return fmt.Errorf("failed to build upload of %s: %w", filename, err)
	}

	if _, err := part.Write(chunk); err != nil {
		return fmt.Errorf("failed to build upload of %s: %w", filename, err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to build upload of %s: %w", filename, err)
	}

	lastByte := offset + int64(len(chunk)) - 1

	query := url.Values{}
	query.Set("offset_bytes", strconv.FormatInt(offset, 10))
	query.Set("total_bytes", strconv.FormatInt(total, 10))
	query.Set("last_byte", strconv.FormatInt(lastByte, 10))

	header := http.Header{}
	header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, lastByte, total))

	_, _, err = c.send(ctx, request{
		method:      http.MethodPut,
		path:        "/documents/" + url.PathEscape(id) + "/file?" + query.Encode(),
		body:        body.Bytes(),
		contentType: writer.FormDataContentType(),
		header:      header,
	})

	return err
}

// CreateFolder creates a folder and returns its id.
func (c *Client) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	var resp struct {
		FolderID string `json:"folder_id"`
	}

	err := c.sendJSON(ctx, http.MethodPost, "/folders2", map[string]string{
		"parent_folder_id": parentID,
		"folder_name":      name,
	}, &resp)
	if err != nil {
		return "", err
	}

	if resp.FolderID == "" {
		return "", fmt.Errorf("%w: device returned no folder id for %s", ErrTransport, name)
	}

	return resp.FolderID, nil
}

// CreateDocument creates an empty document entry and returns its id.
func (c *Client) CreateDocument(ctx context.Context, parentID, name string) (string, error) {
	var resp struct {
		DocumentID string `json:"document_id"`
	}

	err := c.sendJSON(ctx, http.MethodPost, "/documents2", map[string]string{
		"parent_folder_id": parentID,
		"file_name":        name,
	}, &resp)
	if err != nil {
		return "", err
	}

	if resp.DocumentID == "" {
		return "", fmt.Errorf("%w: device returned no document id for %s", ErrTransport, name)
	}

	return resp.DocumentID, nil
}

// DeleteFolder removes a folder and everything below it.
func (c *Client) DeleteFolder(ctx context.Context, id string) error {
	return c.sendJSON(ctx, http.MethodDelete, "/folders/"+url.PathEscape(id), nil, nil)
}

// DeleteDocument removes a document.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	return c.sendJSON(ctx, http.MethodDelete, "/documents/"+url.PathEscape(id), nil, nil)
}

// MoveFolder reparents and renames a folder.
func (c *Client) MoveFolder(ctx context.Context, id, parentID, name string) error {
	return c.sendJSON(ctx, http.MethodPut, "/folders2/"+url.PathEscape(id), map[string]string{
		"parent_folder_id": parentID,
		"folder_name":      name,
	}, nil)
}

// MoveDocument reparents and renames a document.
func (c *Client) MoveDocument(ctx context.Context, id, parentID, name string) error {
	return c.sendJSON(ctx, http.MethodPut, "/documents2/"+url.PathEscape(id), map[string]string{
		"parent_folder_id": parentID,
		"file_name":        name,
	}, nil)
}

// CopyDocument duplicates a document into a folder and returns the new id.
func (c *Client) CopyDocument(ctx context.Context, id, parentID, name string) (string, error) {
	var resp struct {
		DocumentID string `json:"document_id"`
	}

	err := c.sendJSON(ctx, http.MethodPost, "/documents/"+url.PathEscape(id)+"/copy", map[string]string{
		"parent_folder_id": parentID,
		"file_name":        name,
	}, &resp)
	if err != nil {
		return "", err
	}

	return resp.DocumentID, nil
}

// SetTime sets the device clock.
func (c *Client) SetTime(ctx context.Context, now time.Time) error {
	return c.sendJSON(ctx, http.MethodPut, "/system/configs/datetime", map[string]string{
		"value": now.UTC().Format(TimeFormat),
	}, nil)
}

// OpenDocument shows a document on the device screen.
func (c *Client) OpenDocument(ctx context.Context, id string) error {
	return c.sendJSON(ctx, http.MethodPut, "/viewer/controls/open2", map[string]string{
		"document_id": id,
	}, nil)
}

// CurrentViewing returns the entry paths of the documents open on the device.
func (c *Client) CurrentViewing(ctx context.Context) ([]string, error) {
	var resp struct {
		Views []struct {
			EntryPath string `json:"entry_path"`
		} `json:"views"`
	}

	if err := c.sendJSON(ctx, http.MethodGet, "/viewer/status/current_viewing", nil, &resp); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(resp.Views))
	for _, view := range resp.Views {
		paths = append(paths, view.EntryPath)
	}

	return paths, nil
}

// compile-time check that Entry stays JSON friendly.
var _ json.Unmarshaler = (*Size)(nil)
