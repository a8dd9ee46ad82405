package triage

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/Ethaniconic/Swalambh-mvp/internal/domain"
	"github.com/Ethaniconic/Swalambh-mvp/internal/repository"
	"github.com/Ethaniconic/Swalambh-mvp/internal/storage"
)

// MaxUploadBytes caps uploaded artifacts at 10 MiB.
const MaxUploadBytes = 10 * 1024 * 1024

// Pagination bounds for case listings.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Upload and lookup errors surfaced to the HTTP layer.
var (
	ErrUnsupportedMedia = errors.New("only image uploads are supported")
	ErrTooLarge         = errors.New("file exceeds 10MB limit")
	ErrEmptyUpload      = errors.New("no file uploaded")
	ErrInvalidID        = errors.New("invalid case id")
)

// Service runs the case-intake pipeline.
type Service struct {
	cases  repository.CaseRepository
	files  *storage.Dir
	logger *slog.Logger
}

// New constructs a Service.
func New(cases repository.CaseRepository, files *storage.Dir, logger *slog.Logger) Service {
	return Service{cases: cases, files: files, logger: logger}
}

// Upload validates and persists one uploaded artifact. Checks run in a fixed
// order: media type, declared size, then presence. The byte budget is
// enforced again while streaming, so a lying declared size cannot sneak an
// oversized file onto disk.
func (s Service) Upload(ctx context.Context, src io.Reader, contentType string, declaredSize int64, originalName string, note *string) (*domain.TriageCase, error) {
	if !strings.HasPrefix(contentType, "image/") {
		return nil, ErrUnsupportedMedia
	}
	if declaredSize > MaxUploadBytes {
		return nil, ErrTooLarge
	}
	if src == nil {
		return nil, ErrEmptyUpload
	}

	name := storageName(originalName)
	path, size, err := s.files.Save(name, src, MaxUploadBytes)
	if err != nil {
		if errors.Is(err, storage.ErrSizeExceeded) {
			return nil, ErrTooLarge
		}
		return nil, err
	}
	if size == 0 {
		s.files.Remove(path)
		return nil, ErrEmptyUpload
	}

	record := &domain.TriageCase{
		ID:          domain.NewID(),
		Filename:    filepath.Base(originalName),
		ContentType: contentType,
		SizeBytes:   size,
		Note:        note,
		FilePath:    path,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.cases.CreateCase(ctx, record); err != nil {
		s.files.Remove(path)
		return nil, err
	}
	s.logger.Info("triage case stored", "case_id", record.ID, "size_bytes", size)
	return record, nil
}

// List returns cases newest first. Out-of-range paging values are clamped,
// never rejected.
func (s Service) List(ctx context.Context, skip, limit int) ([]domain.TriageCase, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return s.cases.ListCases(ctx, limit, skip)
}

// Get fetches one case. The identifier shape is checked before any query.
func (s Service) Get(ctx context.Context, id string) (*domain.TriageCase, error) {
	if !domain.ValidID(id) {
		return nil, ErrInvalidID
	}
	return s.cases.GetCaseByID(ctx, id)
}

// storageName prefixes the original filename with a random identifier so
// two uploads of the same file never collide on disk.
func storageName(originalName string) string {
	id := uuid.New()
	return hex.EncodeToString(id[:]) + "_" + filepath.Base(originalName)
}
