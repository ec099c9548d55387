package repository

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"codejudge/internal/question/model"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const questionExt = ".json"

// FileRepository stores one JSON document per question under dir.
type FileRepository struct {
	dir string
}

// NewFileRepository creates a repository rooted at dir. The directory is created on first save.
func NewFileRepository(dir string) *FileRepository {
	return &FileRepository{dir: dir}
}

// Dir returns the storage directory.
func (r *FileRepository) Dir() string {
	return r.dir
}

// Save writes q to <dir>/<id>.json, replacing any previous version.
func (r *FileRepository) Save(ctx context.Context, q model.Question) error {
	if err := ValidateID(q.ID); err != nil {
		return err
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return appErr.Wrapf(err, appErr.QuestionSaveFailed, "create question dir failed")
	}
	data, err := json.MarshalIndent(q, "", "  ")
	if err != nil {
		return appErr.Wrapf(err, appErr.QuestionSaveFailed, "encode question failed")
	}

	tmp, err := os.CreateTemp(r.dir, ".question-*")
	if err != nil {
		return appErr.Wrapf(err, appErr.QuestionSaveFailed, "create temp file failed")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return appErr.Wrapf(err, appErr.QuestionSaveFailed, "write question failed")
	}
	if err := tmp.Close(); err != nil {
		return appErr.Wrapf(err, appErr.QuestionSaveFailed, "write question failed")
	}
	if err := os.Rename(tmpName, r.path(q.ID)); err != nil {
		return appErr.Wrapf(err, appErr.QuestionSaveFailed, "replace question failed")
	}
	logger.Info(ctx, "question saved", zap.String("question_id", q.ID))
	return nil
}

// Get loads one question by id.
func (r *FileRepository) Get(ctx context.Context, id string) (model.Question, error) {
	if err := ValidateID(id); err != nil {
		return model.Question{}, appErr.New(appErr.QuestionNotFound)
	}
	q, err := readQuestion(r.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return model.Question{}, appErr.New(appErr.QuestionNotFound)
	}
	if err != nil {
		return model.Question{}, err
	}
	return q, nil
}

// List returns summaries of every stored question ordered by id.
// Unreadable documents are skipped and logged.
func (r *FileRepository) List(ctx context.Context) ([]model.Summary, error) {
	entries, err := os.ReadDir(r.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []model.Summary{}, nil
	}
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "read question dir failed")
	}
	out := make([]model.Summary, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != questionExt {
			continue
		}
		q, err := readQuestion(filepath.Join(r.dir, name))
		if err != nil {
			logger.Warn(ctx, "skip unreadable question", zap.String("file", name), zap.Error(err))
			continue
		}
		out = append(out, q.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ValidateID rejects ids that cannot be used as a single file name.
func ValidateID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return appErr.ValidationError("id", "required")
	case id == "." || id == "..":
		return appErr.ValidationError("id", "must not be a dot segment")
	case strings.ContainsAny(id, `/\`+"\x00"):
		return appErr.ValidationError("id", "must not contain path separators")
	case strings.HasPrefix(id, "."):
		return appErr.ValidationError("id", "must not start with a dot")
	}
	return nil
}

func (r *FileRepository) path(id string) string {
	return filepath.Join(r.dir, id+questionExt)
}

func readQuestion(path string) (model.Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Question{}, err
	}
	var q model.Question
	if err := json.Unmarshal(data, &q); err != nil {
		return model.Question{}, appErr.Wrapf(err, appErr.QuestionCorrupted, "decode %s failed", filepath.Base(path))
	}
	return q, nil
}
