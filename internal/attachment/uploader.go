// ABOUTME: HTTP side-channel uploader for staging file attachments.
// ABOUTME: Posts multipart files with a bearer token and returns attachment references.

package attachment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/valua-s/alfa-future/internal/protocol"
)

// uploadPath is the side-channel endpoint, relative to the API base URL.
const uploadPath = "/api/agent/upload"

// ErrUploadFailed is returned for any non-success upload response. The
// presentation layer renders UploadFailedMessage for it; details go to logs.
var ErrUploadFailed = errors.New("upload failed")

// UploadFailedMessage is the user-facing text for a failed upload.
const UploadFailedMessage = "Не удалось загрузить файлы"

// File is one file to upload: a name and its content.
type File struct {
	Name   string
	Reader io.Reader
}

// Uploader posts files to the upload endpoint.
type Uploader struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewUploader creates an uploader against the given API base URL, e.g.
// "https://app.alfa-future.ru" or "http://localhost:8787".
func NewUploader(baseURL string, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 2 * time.Minute},
		logger:  logger.With("component", "uploader"),
	}
}

// Upload posts the files as one multipart request under the "files" field and
// returns the server-assigned attachment references.
func (u *Uploader) Upload(ctx context.Context, token string, files []File) ([]protocol.AttachmentReference, error) {
	if len(files) == 0 {
		return nil, nil
	}

	body, contentType, err := encodeMultipart(files)
	if err != nil {
		return nil, fmt.Errorf("encoding upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+uploadPath, body)
	if err != nil {
		return nil, fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authentication", "Bearer "+token)

	resp, err := u.client.Do(req)
	if err != nil {
		u.logger.Warn("upload request failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		u.logger.Warn("upload rejected", "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: status %d", ErrUploadFailed, resp.StatusCode)
	}

	var parsed struct {
		Files []protocol.AttachmentReference `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrUploadFailed, err)
	}
	return parsed.Files, nil
}

// encodeMultipart buffers the multipart body. Uploads are user-picked files,
// small enough that streaming is not worth the pipe plumbing.
func encodeMultipart(files []File) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := w.CreateFormFile("files", f.Name)
		if err != nil {
			return nil, "", err
		}
		if _, err := io.Copy(part, f.Reader); err != nil {
			return nil, "", fmt.Errorf("reading %s: %w", f.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
