package store

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/resyncd/resyncd/internal/record"
)

// metadataColumns maps filterable record fields to their SQL columns.
// Any other filter key is looked up inside the parsed content via
// json_extract.
var metadataColumns = map[string]string{
	"file_path":     "file_path",
	"file_name":     "file_name",
	"file_hash":     "file_hash",
	"file_size":     "file_size",
	"last_modified": "last_modified",
	"scan_time":     "scan_time",
	"config_name":   "config_name",
}

// QueryRecords returns the records in the named table matching every
// filter (filters are ANDed across keys). Three value forms are
// supported per key:
//
//   - a scalar: exact equality on the field
//   - a list of scalars: the field's value is a member of the list
//   - {"contains": substring}: substring containment on a string field
//
// Keys name either a metadata column or a top-level content field;
// content keys must be plain identifiers. A nil or empty filter map
// returns the whole table.
func (s *Store) QueryRecords(ctx context.Context, table string, filters map[string]any) ([]*record.FileRecord, error) {
	conditions := []string{"tbl = ?"}
	args := []any{table}

	// Sort keys for a deterministic query shape.
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		expr, exprArgs, err := fieldExpr(key)
		if err != nil {
			return nil, err
		}
		cond, condArgs, err := compileCondition(expr, exprArgs, filters[key])
		if err != nil {
			return nil, fmt.Errorf("invalid filter for %q: %w", key, err)
		}
		conditions = append(conditions, cond)
		args = append(args, condArgs...)
	}

	query := `
	SELECT file_path, file_name, file_hash, file_size,
	       CAST(last_modified AS INTEGER), scan_time, config_name, content
	FROM documents
	WHERE ` + strings.Join(conditions, " AND ") + `
	ORDER BY file_path ASC
	`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// contentKeyPattern limits content filter keys to plain identifiers.
// Anything else would be either a SQL splice attempt or an ill-formed
// JSON path, and both read better as an explicit error.
var contentKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// fieldExpr returns the SQL expression addressing a filter key plus
// the arguments it binds. Content keys bind the JSON path as a
// parameter so a key name never reaches the query text.
func fieldExpr(key string) (string, []any, error) {
	if col, ok := metadataColumns[key]; ok {
		return col, nil, nil
	}
	if !contentKeyPattern.MatchString(key) {
		return "", nil, fmt.Errorf("invalid filter key %q", key)
	}
	return "json_extract(content, ?)", []any{"$." + key}, nil
}

// compileCondition turns one filter value into a SQL condition. The
// returned args start with exprArgs since expr binds before the value
// placeholders.
func compileCondition(expr string, exprArgs []any, value any) (string, []any, error) {
	switch v := value.(type) {
	case map[string]any:
		sub, ok := v["contains"]
		if !ok || len(v) != 1 {
			return "", nil, fmt.Errorf("operator object must be {\"contains\": substring}")
		}
		return fmt.Sprintf("instr(%s, ?) > 0", expr), append(exprArgs, fmt.Sprint(sub)), nil

	case []any:
		if len(v) == 0 {
			// Empty membership list matches nothing.
			return "1 = 0", nil, nil
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(v)), ", ")
		return fmt.Sprintf("%s IN (%s)", expr, placeholders), append(exprArgs, v...), nil

	case []string:
		anyVals := make([]any, len(v))
		for i, s := range v {
			anyVals[i] = s
		}
		return compileCondition(expr, exprArgs, anyVals)

	default:
		return fmt.Sprintf("%s = ?", expr), append(exprArgs, value), nil
	}
}
