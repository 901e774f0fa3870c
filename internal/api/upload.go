package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"gallerymind/internal/model"
)

// handleUpload accepts a multipart image, stores the original, and triggers
// analysis against a presigned URL for it. The upload is acknowledged with
// 202 before any analysis runs.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.images == nil {
		respondError(w, http.StatusServiceUnavailable, "object storage not configured")
		return
	}
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxImageBytes+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, http.StatusBadRequest, "expecting multipart form")
		return
	}

	var ownerID string
	var tmp *tempUpload
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if tmp != nil {
				tmp.cleanup()
			}
			respondError(w, http.StatusBadRequest, "malformed multipart form")
			return
		}
		switch part.FormName() {
		case "owner_id":
			value, _ := io.ReadAll(io.LimitReader(part, 256))
			ownerID = strings.TrimSpace(string(value))
		case "file":
			if tmp == nil {
				tmp, err = s.persistTemp(part)
				if err != nil {
					part.Close()
					respondError(w, http.StatusBadRequest, err.Error())
					return
				}
			}
		}
		part.Close()
	}
	if tmp != nil {
		defer tmp.cleanup()
	}

	if ownerID == "" {
		respondError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	if tmp == nil {
		respondError(w, http.StatusBadRequest, "file part is required")
		return
	}
	if !strings.HasPrefix(tmp.contentType, "image/") {
		respondError(w, http.StatusBadRequest, "only image uploads supported")
		return
	}

	imageID := uuid.NewString()
	objectKey := fmt.Sprintf("originals/%s/%s", imageID, filepath.Base(tmp.filename))
	if _, err := tmp.f.Seek(0, 0); err != nil {
		s.log.Error("rewind upload failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to store image")
		return
	}
	if err := s.images.UploadOriginal(ctx, objectKey, tmp.f, tmp.size, tmp.contentType); err != nil {
		s.log.Error("object storage upload failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to store image")
		return
	}
	if err := s.store.CreateImage(ctx, &model.ImageRecord{
		ID:         imageID,
		OwnerID:    ownerID,
		StorageKey: objectKey,
	}); err != nil {
		s.log.Error("image metadata write failed", "image_id", imageID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to store metadata")
		return
	}
	sourceURL, err := s.images.PresignSourceURL(ctx, objectKey)
	if err != nil {
		s.log.Error("presign failed", "image_id", imageID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to prepare analysis")
		return
	}
	if err := s.trigger.Trigger(ctx, imageID, ownerID, sourceURL); err != nil {
		s.log.Error("trigger after upload failed", "image_id", imageID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to schedule analysis")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"id":     imageID,
		"status": string(model.StatusPending),
	})
}

type tempUpload struct {
	f           *os.File
	path        string
	size        int64
	contentType string
	filename    string
}

func (t *tempUpload) cleanup() {
	t.f.Close()
	os.Remove(t.path)
}

// persistTemp streams the part to a temp file, sniffing the content type and
// enforcing the size limit along the way.
func (s *Server) persistTemp(part *multipart.Part) (*tempUpload, error) {
	tmpFile, err := os.CreateTemp("", "gallerymind-upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	discard := func() {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
	}
	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.cfg.MaxImageBytes {
				discard()
				return nil, fmt.Errorf("file exceeds limit (%d bytes)", s.cfg.MaxImageBytes)
			}
			if len(sniff) < 512 {
				chunk := n
				if remain := 512 - len(sniff); chunk > remain {
					chunk = remain
				}
				sniff = append(sniff, buf[:chunk]...)
			}
			if _, err := tmpFile.Write(buf[:n]); err != nil {
				discard()
				return nil, fmt.Errorf("write temp file: %w", err)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			discard()
			return nil, fmt.Errorf("read file: %w", readErr)
		}
	}
	if written == 0 {
		discard()
		return nil, errors.New("empty file")
	}
	filename := part.FileName()
	if filename == "" {
		filename = "upload"
	}
	return &tempUpload{
		f:           tmpFile,
		path:        tmpFile.Name(),
		size:        written,
		contentType: http.DetectContentType(sniff),
		filename:    filename,
	}, nil
}
