package artifacts

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// WriteArchive streams every regular file under dir into w as a zip archive.
// Entry names are relative to dir.
func WriteArchive(w io.Writer, dir string) error {
	zw := zip.NewWriter(w)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		header.Method = zip.Store // audio is already compressed

		dst, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}

		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()

		_, err = io.Copy(dst, src)
		return err
	})
	if err != nil {
		zw.Close()
		return fmt.Errorf("failed to archive artifact: %w", err)
	}
	return zw.Close()
}

var mediaTypes = map[string]string{
	".mp3":    "audio/mpeg",
	".flac":   "audio/flac",
	".ogg":    "audio/ogg",
	".opus":   "audio/opus",
	".m4a":    "audio/mp4",
	".wav":    "audio/wav",
	".zip":    "application/zip",
	".txt":    "text/plain; charset=utf-8",
	".spotdl": "application/json",
}

// ContentType returns the media type served for filename.
func ContentType(filename string) string {
	if t, ok := mediaTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return t
	}
	return "application/octet-stream"
}
