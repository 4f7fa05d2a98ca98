package files

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
)

// FileInfo describes a local file queued for upload.
type FileInfo struct {
	Path string
	Name string
	Size int64
	// Type is the MIME type guessed from the extension
	Type string
}

// ValidateFiles checks that every path names a readable regular file.
// Empty files are allowed. All problems are reported together.
func ValidateFiles(filePaths []string) ([]FileInfo, error) {
	if len(filePaths) == 0 {
		return nil, fmt.Errorf("no files specified")
	}

	var (
		infos []FileInfo
		errs  []error
	)
	for _, path := range filePaths {
		info, err := Stat(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		infos = append(infos, info)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("file validation failed:\n%w", errors.Join(errs...))
	}
	return infos, nil
}

// Stat validates a single path and returns its FileInfo.
func Stat(path string) (FileInfo, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: failed to get absolute path: %w", path, err)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, fmt.Errorf("%s: file does not exist", path)
		}
		return FileInfo{}, fmt.Errorf("%s: failed to stat file: %w", path, err)
	}
	if stat.IsDir() {
		return FileInfo{}, fmt.Errorf("%s: is a directory", path)
	}
	if !stat.Mode().IsRegular() {
		return FileInfo{}, fmt.Errorf("%s: not a regular file", path)
	}

	f, err := os.Open(absPath)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: cannot open file (check permissions): %w", path, err)
	}
	f.Close()

	return FileInfo{
		Path: absPath,
		Name: filepath.Base(absPath),
		Size: stat.Size(),
		Type: MimeType(absPath),
	}, nil
}

// MimeType guesses a MIME type from the file extension.
func MimeType(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// GetTotalSize returns the total size of all files
func GetTotalSize(infos []FileInfo) int64 {
	var total int64
	for _, f := range infos {
		total += f.Size
	}
	return total
}
