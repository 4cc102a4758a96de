package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
)

// MaxIconSize bounds icon uploads.
const MaxIconSize = 2 << 20

var (
	ErrUploadsDisabled = errors.New("uploads are not configured")
	ErrNotAnImage      = errors.New("icon must be a PNG, JPEG, GIF, WebP or SVG image")
	ErrFileTooLarge    = fmt.Errorf("icon must be at most %d bytes", MaxIconSize)
)

var iconTypes = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
}

// Upload is one object to store.
type Upload struct {
	Key         string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Uploader stores an object and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, u Upload) (string, error)
}

// IconUpload checks an uploaded icon and prepares it for an Uploader. The
// content type is sniffed from the bytes rather than taken from the
// client. The caller closes the returned file.
func IconUpload(ownerID string, header *multipart.FileHeader) (Upload, multipart.File, error) {
	if header.Size > MaxIconSize {
		return Upload{}, nil, ErrFileTooLarge
	}
	file, err := header.Open()
	if err != nil {
		return Upload{}, nil, fmt.Errorf("failed to open file: %w", err)
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		file.Close()
		return Upload{}, nil, fmt.Errorf("failed to read file: %w", err)
	}
	contentType := http.DetectContentType(head[:n])
	if strings.HasPrefix(contentType, "text/") && strings.EqualFold(path.Ext(header.Filename), ".svg") {
		contentType = "image/svg+xml"
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	ext, ok := iconTypes[contentType]
	if !ok {
		file.Close()
		return Upload{}, nil, ErrNotAnImage
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return Upload{}, nil, fmt.Errorf("failed to rewind file: %w", err)
	}

	return Upload{
		Key:         "icons/" + ownerID + "/" + uuid.NewString() + ext,
		ContentType: contentType,
		Size:        header.Size,
		Body:        file,
	}, file, nil
}
