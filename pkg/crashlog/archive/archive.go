// Package archive compresses written reports with zstd and reads them back.
//
// A compressed report keeps its name and gains the ".zst" suffix, so
// crash-2025-01-26-15-04-05-1737903845000.log becomes
// crash-2025-01-26-15-04-05-1737903845000.log.zst.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/strongdm/ai-crashlog/pkg/crashlog"
)

// Ext is appended to compressed report names.
const Ext = ".zst"

var (
	// encoder and decoder for zstd are reusable and thread-safe
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Entry is one report found on disk.
type Entry struct {
	Path       string
	Info       crashlog.FileInfo
	Compressed bool
}

// Compress writes path+".zst" atomically and removes the original.
// It returns the compressed path.
func Compress(path string) (string, error) {
	if strings.HasSuffix(path, Ext) {
		return path, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read report: %w", err)
	}

	dst := path + Ext
	compressed := zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	if err := (&crashlog.OSFileStore{}).WriteFile(dst, compressed); err != nil {
		return "", err
	}
	if err := os.Remove(path); err != nil {
		return dst, fmt.Errorf("remove original: %w", err)
	}
	return dst, nil
}

// ReadFile returns the raw report bytes, decompressing ".zst" files.
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, Ext) {
		return data, nil
	}
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// Open reads and parses the report at path, compressed or not.
func Open(path string) (*crashlog.ReportFile, error) {
	data, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return crashlog.ParseReport(bytes.NewReader(data))
}

// List walks root and returns every report file, oldest first.
// Files that do not carry a report name are skipped.
func List(root string) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == root {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		compressed := strings.HasSuffix(name, Ext)
		info, ok := crashlog.ParseFileName(strings.TrimSuffix(name, Ext))
		if !ok {
			return nil
		}
		entries = append(entries, Entry{Path: path, Info: info, Compressed: compressed})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Info.Millis < entries[j].Info.Millis
	})
	return entries, nil
}

// CompressOlderThan compresses every uncompressed report under root written
// before cutoff and returns how many were compressed. It keeps going after a
// failure and reports all failures together.
func CompressOlderThan(root string, cutoff time.Time) (int, error) {
	entries, err := List(root)
	if err != nil {
		return 0, err
	}
	var (
		n    int
		errs []error
	)
	for _, e := range entries {
		if e.Compressed || !time.UnixMilli(e.Info.Millis).Before(cutoff) {
			continue
		}
		if _, err := Compress(e.Path); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(e.Path), err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}
