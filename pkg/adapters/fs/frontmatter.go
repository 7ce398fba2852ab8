package fs

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/kiln/pkg/core"
)

// ParseFrontmatter splits a text file into its YAML frontmatter and body.
// Files that do not start with a "---" line have no frontmatter.
func ParseFrontmatter(data []byte) (core.Metadata, string, error) {
	meta := make(core.Metadata)

	if !bytes.HasPrefix(data, []byte("---\n")) && !bytes.HasPrefix(data, []byte("---\r\n")) {
		return meta, string(data), nil
	}

	rest := data[3:]
	parts := bytes.SplitN(rest, []byte("\n---"), 2)
	if len(parts) == 1 {
		return nil, "", errors.New("frontmatter started but no closing delimiter found")
	}

	if err := yaml.Unmarshal(parts[0], &meta); err != nil {
		return nil, "", fmt.Errorf("failed to parse frontmatter: %w", err)
	}
	if meta == nil {
		meta = make(core.Metadata)
	}

	// Drop the remainder of the closing delimiter line.
	body := string(parts[1])
	body = strings.TrimPrefix(body, "\r")
	body = strings.TrimPrefix(body, "\n")

	return meta, body, nil
}
