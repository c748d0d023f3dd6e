package scanner

import (
	"bytes"
	"os"
	"strings"

	"github.com/adrg/frontmatter"
	"gopkg.in/yaml.v3"
)

// ParseYAML is the default resource parser. It deserializes the file
// as a YAML mapping. An empty file, an unreadable file, or invalid
// YAML all yield an empty document; the parser never panics.
func ParseYAML(path string) (map[string]any, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return map[string]any{}, false
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, true
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil || doc == nil {
		return map[string]any{}, false
	}
	return doc, true
}

// ParseMarkdown parses a Markdown resource file with optional YAML
// front matter. Front matter fields become the document, and the
// remaining body is stored under "body". A file without front matter
// yields just the body; a broken file yields an empty document.
func ParseMarkdown(path string) (map[string]any, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return map[string]any{}, false
	}

	var matter map[string]any
	body, err := frontmatter.Parse(bytes.NewReader(data), &matter)
	if err != nil {
		// No parseable front matter; keep the whole file as body.
		return map[string]any{"body": string(data)}, true
	}

	doc := make(map[string]any, len(matter)+1)
	for k, v := range matter {
		doc[k] = v
	}
	doc["body"] = string(body)
	return doc, true
}

// ParserByName resolves a parser named in a config file. Unknown names
// fall back to the YAML parser.
func ParserByName(name string) func(string) (map[string]any, bool) {
	switch strings.ToLower(name) {
	case "markdown", "md":
		return ParseMarkdown
	default:
		return ParseYAML
	}
}
