package util

import (
	"os"
	"path/filepath"
	"strings"
)

// CleanupFiles removes the temp files produced during a run; missing files are
// ignored.
func CleanupFiles(paths []string) {
	for _, path := range paths {
		_ = os.Remove(path)
	}
}

// SaveToTemp writes data to a fresh file in the OS temp dir and returns its
// path. The caller owns the file.
func SaveToTemp(pattern string, data []byte) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// GetFileExt derives a file extension, preferring the original file name over
// the content type.
func GetFileExt(fileName, contentType string) string {
	if ext := filepath.Ext(fileName); ext != "" {
		return strings.ToLower(ext)
	}
	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "application/pdf":
		return ".pdf"
	case "text/csv":
		return ".csv"
	case "application/zip":
		return ".zip"
	default:
		if i := strings.LastIndex(contentType, "/"); i != -1 && i < len(contentType)-1 {
			return "." + contentType[i+1:]
		}
		return ""
	}
}
