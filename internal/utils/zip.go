package utils

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ZipFiles bundles the given files into a single archive at target. Entries
// are stored flat under their base names; duplicate names get a numeric suffix.
func ZipFiles(paths []string, target string) error {
	zipFile, err := os.Create(target)
	if err != nil {
		return err
	}
	defer zipFile.Close()

	archive := zip.NewWriter(zipFile)
	defer archive.Close()

	seen := make(map[string]int)
	for _, path := range paths {
		if err := addToZip(archive, path, seen); err != nil {
			return fmt.Errorf("add %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func addToZip(archive *zip.Writer, path string, seen map[string]int) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}

	name := filepath.Base(path)
	if n := seen[name]; n > 0 {
		ext := filepath.Ext(name)
		header.Name = fmt.Sprintf("%s (%d)%s", name[:len(name)-len(ext)], n, ext)
	} else {
		header.Name = name
	}
	seen[name]++
	header.Method = zip.Deflate

	writer, err := archive.CreateHeader(header)
	if err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = io.Copy(writer, file)
	return err
}
