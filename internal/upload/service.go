// Package upload stores media files and records them in the Media database.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"docgate/api/internal/store"
	"github.com/google/uuid"
)

const (
	MediaDatabase = "Media"
	ImageMedium   = "Image"
	AudioMedium   = "Audio"

	// MaxSize bounds one uploaded file.
	MaxSize = 32 << 20
)

var (
	ErrUnsupportedType      = errors.New("invalid mimetype")
	ErrUnsupportedExtension = errors.New("unknown extension")
	ErrTooLarge             = errors.New("file too large")
)

var imageExtensions = map[string]bool{
	".jpg": true, ".gif": true, ".jpeg": true, ".bmp": true, ".png": true,
	".tif": true, ".tiff": true, ".wbmp": true, ".jng": true, ".svg": true,
}

var tagPattern = regexp.MustCompile(`^\w+$`)

// Request is one uploaded file with its form metadata.
type Request struct {
	FileName    string
	ContentType string
	Body        io.Reader
	Tags        string
	Title       string
	Description string
	CreditURL   string
	UploadedBy  string
}

type Service struct {
	blobs    Blobs
	docs     *store.Store
	mediaURL string
	now      func() time.Time
}

func NewService(blobs Blobs, docs *store.Store, mediaURL string) *Service {
	if !strings.HasSuffix(mediaURL, "/") {
		mediaURL += "/"
	}
	return &Service{blobs: blobs, docs: docs, mediaURL: mediaURL, now: time.Now}
}

// Medium maps a content type to the Media collection it is stored in.
func Medium(contentType string) (string, error) {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return ImageMedium, nil
	case strings.HasPrefix(contentType, "audio/"):
		return AudioMedium, nil
	default:
		return "", ErrUnsupportedType
	}
}

// Save stores the blob and inserts the media record, returning the record.
func (s *Service) Save(ctx context.Context, req Request) (store.Document, error) {
	medium, err := Medium(req.ContentType)
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(path.Ext(req.FileName))
	if ext == "" || (medium == ImageMedium && !imageExtensions[ext]) {
		return nil, ErrUnsupportedExtension
	}

	data, err := io.ReadAll(io.LimitReader(req.Body, MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > MaxSize {
		return nil, ErrTooLarge
	}

	id := uuid.NewString()
	item := store.Document{
		store.IDField:  id,
		"originalName": sanitizeText(req.FileName),
		"URL":          s.mediaURL + medium + "/" + id + ext,
		"tags":         parseTags(req.Tags),
		"title":        sanitizeText(req.Title),
		"description":  sanitizeText(req.Description),
		"creditURL":    sanitizeText(req.CreditURL),
		"contentType":  req.ContentType,
		"size":         len(data),
		"uploadedBy":   req.UploadedBy,
		"uploadedOn":   s.now().UTC().Format(time.RFC3339),
	}
	if medium == ImageMedium {
		// formats without a registered decoder (svg, tiff, bmp) carry no size
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			item["width"] = cfg.Width
			item["height"] = cfg.Height
		}
	}

	name := ObjectName(medium, id+ext)
	if err := s.blobs.Put(ctx, name, req.ContentType, bytes.NewReader(data), int64(len(data))); err != nil {
		return nil, err
	}
	if err := s.docs.Insert(ctx, MediaDatabase, medium, item); err != nil {
		_ = s.blobs.Remove(ctx, name)
		return nil, fmt.Errorf("insert media record: %w", err)
	}
	return item, nil
}

// Open returns the blob behind a media URL path of the form
// "<medium>/<file>".
func (s *Service) Open(ctx context.Context, mediaPath string) (io.ReadCloser, string, error) {
	medium, file, ok := strings.Cut(mediaPath, "/")
	if !ok || file == "" || strings.Contains(file, "/") || (medium != ImageMedium && medium != AudioMedium) {
		return nil, "", ErrBlobNotFound
	}
	return s.blobs.Get(ctx, ObjectName(medium, file))
}

func (s *Service) MediaURL() string {
	return s.mediaURL
}

func ObjectName(medium, file string) string {
	return medium + "/" + file
}

func parseTags(raw string) []string {
	tags := []string{}
	for _, tag := range strings.Fields(raw) {
		if tagPattern.MatchString(tag) {
			tags = append(tags, tag)
		}
	}
	return tags
}

var unsafeText = regexp.MustCompile(`&([a-zA-Z0-9]+;|#[0-9]+;|#x[0-9a-fA-F]+;)?|[<>"']`)

var textReplacements = map[string]string{
	"&": "&amp;",
	"<": "&lt;",
	">": "&gt;",
	`"`: "&quot;",
	"'": "&#39;",
}

// sanitizeText escapes markup characters, leaving existing entities alone.
func sanitizeText(s string) string {
	return unsafeText.ReplaceAllStringFunc(s, func(match string) string {
		if replacement, ok := textReplacements[match]; ok {
			return replacement
		}
		return match
	})
}
