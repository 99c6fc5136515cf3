package fileops

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hellomypastor/OpenSandbox/pkg/model"
)

// Service performs file operations confined to the sandbox root. The
// filesystem is shared with concurrent commands; no locking is imposed beyond
// the OS's own file semantics.
type Service struct {
	root string
}

func New(root string) (*Service, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sandbox root: %w", err)
	}
	return &Service{root: abs}, nil
}

// Resolve maps a sandbox-relative path onto the host filesystem. Any path
// that escapes the sandbox root through traversal is rejected.
func (s *Service) Resolve(path string) (string, error) {
	if path == "" {
		return "", model.NewValidationError("path is required")
	}
	if strings.ContainsRune(path, 0) {
		return "", model.NewValidationError("path contains NUL byte")
	}
	cleaned := filepath.Clean("/" + path)
	resolved := filepath.Join(s.root, cleaned)
	// The root itself may already end in the separator ("/").
	prefix := s.root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if resolved != s.root && !strings.HasPrefix(resolved, prefix) {
		return "", model.NewValidationError("path escapes sandbox root: %s", path)
	}
	return resolved, nil
}

// WriteFiles applies the batch entry by entry. One entry's failure never
// blocks the others; the result reports a per-entry outcome.
func (s *Service) WriteFiles(entries []model.FileWriteEntry) []model.FileWriteResult {
	results := make([]model.FileWriteResult, 0, len(entries))
	for _, entry := range entries {
		result := model.FileWriteResult{Path: entry.Path, Success: true}
		if err := s.writeFile(entry); err != nil {
			result.Success = false
			result.Error = model.AsAPIError(err)
		}
		results = append(results, result)
	}
	return results
}

func (s *Service) writeFile(entry model.FileWriteEntry) error {
	resolved, err := s.Resolve(entry.Path)
	if err != nil {
		return err
	}

	data, err := decodeData(entry)
	if err != nil {
		return err
	}

	mode, err := parseMode(entry.Mode)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return mapFSError("failed to create parent directory", err)
	}
	if err := os.WriteFile(resolved, data, mode); err != nil {
		return mapFSError("failed to write file", err)
	}
	// WriteFile only applies the mode on creation; make it stick on
	// overwrite too.
	if err := os.Chmod(resolved, mode); err != nil {
		return mapFSError("failed to set file mode", err)
	}
	return nil
}

// ReadFile returns the whole file content. Large files are returned as one
// payload; chunked delivery is the transport's concern.
func (s *Service) ReadFile(path string) ([]byte, error) {
	resolved, err := s.Resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, mapFSError("failed to read file", err)
	}
	return data, nil
}

// List returns the entries of a directory, or the stat of a single file.
func (s *Service) List(path string) ([]model.FileStat, error) {
	resolved, err := s.Resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, mapFSError("failed to stat path", err)
	}
	if !info.IsDir() {
		return []model.FileStat{statOf(path, info)}, nil
	}

	dirEntries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, mapFSError("failed to list directory", err)
	}
	stats := make([]model.FileStat, 0, len(dirEntries))
	for _, entry := range dirEntries {
		entryInfo, err := entry.Info()
		if err != nil {
			continue
		}
		stats = append(stats, statOf(filepath.Join(path, entry.Name()), entryInfo))
	}
	return stats, nil
}

// Delete removes a file or directory tree.
func (s *Service) Delete(path string) error {
	resolved, err := s.Resolve(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(resolved); err != nil {
		return mapFSError("failed to delete path", err)
	}
	if err := os.RemoveAll(resolved); err != nil {
		return mapFSError("failed to delete path", err)
	}
	return nil
}

func statOf(path string, info fs.FileInfo) model.FileStat {
	return model.FileStat{
		Path:    path,
		Size:    info.Size(),
		Mode:    strconv.FormatUint(uint64(info.Mode().Perm()), 8),
		IsDir:   info.IsDir(),
		ModTime: info.ModTime().UTC(),
	}
}

func decodeData(entry model.FileWriteEntry) ([]byte, error) {
	switch entry.Encoding {
	case "", model.FileEncodingUTF8:
		return []byte(entry.Data), nil
	case model.FileEncodingBase64:
		data, err := base64.StdEncoding.DecodeString(entry.Data)
		if err != nil {
			return nil, model.NewValidationError("invalid base64 data for %s: %v", entry.Path, err)
		}
		return data, nil
	default:
		return nil, model.NewValidationError("unsupported encoding %q", entry.Encoding)
	}
}

func parseMode(mode string) (fs.FileMode, error) {
	if mode == "" {
		return 0o644, nil
	}
	parsed, err := strconv.ParseUint(mode, 8, 32)
	if err != nil || parsed > 0o777 {
		return 0, model.NewValidationError("invalid file mode %q", mode)
	}
	return fs.FileMode(parsed), nil
}

func mapFSError(message string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &model.APIError{Code: model.ErrCodeNotFound, Message: message, Err: err}
	case errors.Is(err, fs.ErrPermission):
		return model.NewPermissionDeniedError(message, err)
	case errors.Is(err, fs.ErrInvalid):
		return &model.APIError{Code: model.ErrCodeValidation, Message: message, Err: err}
	default:
		return model.NewInternalError(message, err)
	}
}
