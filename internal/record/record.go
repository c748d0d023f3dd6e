// Package record defines the cached document shape shared by the
// scanner, the store, and the sync engine.
package record

// FileRecord is the cached representation of one source file: file
// metadata, a content hash, and the parsed document. Within a cache
// table the FilePath is the unique key.
type FileRecord struct {
	// FilePath is the file's path relative to the parent of the scan
	// root, e.g. "models/model1.yaml" for root ".../models".
	FilePath string `json:"file_path"`
	// FileName is the base name of the file.
	FileName string `json:"file_name"`
	// FileHash is the hex-encoded 128-bit content hash. Empty means
	// the file could not be read at scan time.
	FileHash string `json:"file_hash"`
	// FileSize is the size in bytes at scan time.
	FileSize int64 `json:"file_size"`
	// LastModified is the file's mtime in epoch seconds.
	LastModified int64 `json:"last_modified"`
	// ScanTime is when the record was produced, epoch seconds.
	ScanTime int64 `json:"scan_time"`
	// ConfigName names the scan config that produced the record.
	ConfigName string `json:"config_name"`
	// Content is the parsed document. An empty map means the file was
	// empty or failed to parse.
	Content map[string]any `json:"content"`
}

// MetadataComplete reports whether the record carries the metadata a
// freshly scanned record always has. Records written by older layouts
// can miss these; the sync engine rewrites them in place.
func (r *FileRecord) MetadataComplete() bool {
	return r.FileName != "" && r.ConfigName != "" && r.ScanTime != 0
}
