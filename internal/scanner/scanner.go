// Package scanner walks scan-config roots and turns matching files
// into FileRecord candidates for the sync engine.
//
// Scanning is deliberately forgiving: a missing root scans as empty,
// and any single file that cannot be read or statted is dropped without
// aborting the rest of the walk.
package scanner

import (
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spaolacci/murmur3"

	"github.com/resyncd/resyncd/internal/logging"
	"github.com/resyncd/resyncd/internal/record"
	"github.com/resyncd/resyncd/internal/registry"
)

// Scanner produces FileRecord candidates from the filesystem.
type Scanner struct {
	logger *logging.Logger
}

// New creates a Scanner. A nil logger falls back to the default
// stderr logger.
func New(logger *logging.Logger) *Scanner {
	return &Scanner{logger: logger}
}

// Scan walks cfg's root and returns a record candidate for every file
// matching the config's patterns. A nonexistent root returns an empty
// slice, not an error. Files that cannot be read are skipped.
func (s *Scanner) Scan(cfg *registry.ScanConfig) []*record.FileRecord {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		s.logger.Warn("cannot resolve scan root", "config", cfg.Name, "root", cfg.Root, "error", err)
		return nil
	}

	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil
	}

	var records []*record.FileRecord
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtree: skip it, keep walking the rest.
			s.logger.Debug("skipping unreadable path", "config", cfg.Name, "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if !MatchesAny(cfg.Patterns, rel) {
			return nil
		}

		rec, ok := s.scanOne(cfg, root, path, rel)
		if !ok {
			return nil
		}
		records = append(records, rec)
		return nil
	})
	if walkErr != nil {
		s.logger.Warn("scan walk aborted", "config", cfg.Name, "root", root, "error", walkErr)
	}

	return records
}

// ScanFile produces a record candidate for a single file under cfg's
// root. It is the incremental path used by watch-triggered resyncs.
// Returns ok=false if the file is gone, unreadable, outside the root,
// or doesn't match the config's patterns.
func (s *Scanner) ScanFile(cfg *registry.ScanConfig, path string) (*record.FileRecord, bool) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, false
	}

	rel, err := filepath.Rel(root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, false
	}
	if !MatchesAny(cfg.Patterns, rel) {
		return nil, false
	}

	return s.scanOne(cfg, root, abs, rel)
}

// scanOne reads, hashes, and parses a single matched file.
func (s *Scanner) scanOne(cfg *registry.ScanConfig, root, path, rel string) (*record.FileRecord, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		// Partial I/O failure never aborts a scan; one bad file is
		// dropped and the rest proceed.
		s.logger.Debug("skipping unreadable file", "config", cfg.Name, "path", path, "error", err)
		return nil, false
	}

	parse := cfg.Parser
	if parse == nil {
		parse = ParseYAML
	}
	content, ok := parse(path)
	if !ok || content == nil {
		content = map[string]any{}
	}

	return &record.FileRecord{
		FilePath:     RecordPath(root, rel),
		FileName:     filepath.Base(path),
		FileHash:     HashContent(data),
		FileSize:     info.Size(),
		LastModified: info.ModTime().Unix(),
		ScanTime:     time.Now().Unix(),
		ConfigName:   cfg.Name,
		Content:      content,
	}, true
}

// RecordPath builds the stored file_path: the root's base name joined
// with the file's path relative to the root, slash-separated. A root
// "/data/models" with file "sub/m.yaml" yields "models/sub/m.yaml".
func RecordPath(root, rel string) string {
	return filepath.ToSlash(filepath.Join(filepath.Base(root), rel))
}

// MatchesAny reports whether the relative path matches any of the glob
// patterns. Bare patterns like "*.yaml" match the file's base name;
// patterns containing a separator or "**" match the full relative path.
func MatchesAny(patterns []string, rel string) bool {
	rel = filepath.ToSlash(rel)
	name := rel
	if i := strings.LastIndex(rel, "/"); i >= 0 {
		name = rel[i+1:]
	}

	for _, pattern := range patterns {
		target := name
		if strings.Contains(pattern, "/") || strings.Contains(pattern, "**") {
			target = rel
		}
		if ok, err := doublestar.Match(pattern, target); err == nil && ok {
			return true
		}
	}
	return false
}

// HashContent returns the hex-encoded 128-bit murmur3 hash of data.
func HashContent(data []byte) string {
	h1, h2 := murmur3.Sum128(data)
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(h1 >> (56 - 8*i))
		buf[8+i] = byte(h2 >> (56 - 8*i))
	}
	return hex.EncodeToString(buf[:])
}
