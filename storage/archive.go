package storage

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	rardecode "github.com/nwaples/rardecode/v2"
)

const (
	maxArchiveBytes int64 = 200 * 1024 * 1024
	maxEntryBytes   int64 = 50 * 1024 * 1024

	archiveFormatZip = "zip"
	archiveFormatRar = "rar"
)

// ArchiveEntry is one regular file extracted from an uploaded archive.
type ArchiveEntry struct {
	Name string
	Data []byte
}

// detectArchiveFormat picks the container format from the file name.
func detectArchiveFormat(filename string) (string, error) {
	switch strings.ToLower(path.Ext(filename)) {
	case ".zip":
		return archiveFormatZip, nil
	case ".rar":
		return archiveFormatRar, nil
	default:
		return "", fmt.Errorf("storage: unsupported archive extension %q (zip and rar are supported)", path.Ext(filename))
	}
}

// extractArchive unpacks a zip or rar payload into its regular file entries.
// Directory entries, macOS metadata and entries escaping the archive root
// are skipped.
func extractArchive(filename string, data []byte) ([]ArchiveEntry, error) {
	if int64(len(data)) > maxArchiveBytes {
		return nil, fmt.Errorf("storage: archive size exceeds %d bytes", maxArchiveBytes)
	}
	format, err := detectArchiveFormat(filename)
	if err != nil {
		return nil, err
	}
	switch format {
	case archiveFormatZip:
		return extractZip(data)
	default:
		return extractRar(data)
	}
}

func extractZip(data []byte) ([]ArchiveEntry, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("storage: open zip archive: %w", err)
	}
	entries := make([]ArchiveEntry, 0, len(reader.File))
	for _, file := range reader.File {
		name, ok := cleanEntryName(file.Name)
		if !ok || file.FileInfo().IsDir() {
			continue
		}
		src, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("storage: open zip entry %q: %w", file.Name, err)
		}
		content, err := io.ReadAll(io.LimitReader(src, maxEntryBytes+1))
		src.Close()
		if err != nil {
			return nil, fmt.Errorf("storage: read zip entry %q: %w", file.Name, err)
		}
		if int64(len(content)) > maxEntryBytes {
			return nil, fmt.Errorf("storage: zip entry %q exceeds %d bytes", file.Name, maxEntryBytes)
		}
		entries = append(entries, ArchiveEntry{Name: name, Data: content})
	}
	return entries, nil
}

func extractRar(data []byte) ([]ArchiveEntry, error) {
	reader, err := rardecode.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("storage: open rar archive: %w", err)
	}
	var entries []ArchiveEntry
	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("storage: read rar archive: %w", err)
		}
		name, ok := cleanEntryName(header.Name)
		if !ok || header.IsDir {
			continue
		}
		content, err := io.ReadAll(io.LimitReader(reader, maxEntryBytes+1))
		if err != nil {
			return nil, fmt.Errorf("storage: read rar entry %q: %w", header.Name, err)
		}
		if int64(len(content)) > maxEntryBytes {
			return nil, fmt.Errorf("storage: rar entry %q exceeds %d bytes", header.Name, maxEntryBytes)
		}
		entries = append(entries, ArchiveEntry{Name: name, Data: content})
	}
	return entries, nil
}

// cleanEntryName normalizes an archive path and rejects anything that would
// escape the archive root or carries tooling metadata.
func cleanEntryName(raw string) (string, bool) {
	name := strings.ReplaceAll(raw, "\\", "/")
	name = path.Clean(name)
	if name == "." || name == "/" || strings.HasPrefix(name, "../") || path.IsAbs(name) {
		return "", false
	}
	for _, segment := range strings.Split(name, "/") {
		if segment == "__MACOSX" || strings.HasPrefix(segment, ".") {
			return "", false
		}
	}
	return name, true
}
