package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// AttachmentStore keeps submission attachments as opaque blobs.
type AttachmentStore interface {
	Put(ctx context.Context, name string, r io.Reader) (string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// ErrAttachmentType is returned by Put for extensions outside the allow list.
var ErrAttachmentType = errors.New("attachment type not allowed")

var allowedAttachmentExt = map[string]bool{
	".pdf":  true,
	".doc":  true,
	".docx": true,
	".xls":  true,
	".xlsx": true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// FileAttachmentStore writes blobs below root using uuid names grouped by
// the first two characters.
type FileAttachmentStore struct {
	root string
}

func NewFileAttachmentStore(root string) *FileAttachmentStore {
	if root == "" {
		root = "./uploads"
	}
	return &FileAttachmentStore{root: filepath.Join(root, "submissions")}
}

func (s *FileAttachmentStore) Put(ctx context.Context, name string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if !allowedAttachmentExt[ext] {
		return "", fmt.Errorf("%w: %q", ErrAttachmentType, ext)
	}
	id := uuid.NewString()
	ref := filepath.ToSlash(filepath.Join(id[:2], id+ext))
	full := filepath.Join(s.root, filepath.FromSlash(ref))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create attachment directory: %w", err)
	}

	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create attachment: %w", err)
	}
	if _, err := io.Copy(f, readerWithContext(ctx, r)); err != nil {
		_ = f.Close()
		_ = os.Remove(full)
		return "", fmt.Errorf("write attachment: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(full)
		return "", fmt.Errorf("close attachment: %w", err)
	}
	return ref, nil
}

func (s *FileAttachmentStore) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	clean := filepath.Clean(filepath.FromSlash(ref))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return nil, ErrAttachmentNotFound
	}
	f, err := os.Open(filepath.Join(s.root, clean))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrAttachmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open attachment: %w", err)
	}
	return f, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	if ctx == nil {
		return r
	}
	return ctxReader{ctx: ctx, r: r}
}
