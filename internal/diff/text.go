package diff

import (
	"bytes"
	"fmt"
	"os"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
)

// Unified renders a unified diff between two file contents. Binary content
// is summarized instead of diffed.
func Unified(leftName, rightName string, left, right []byte) string {
	if bytes.IndexByte(left, 0) >= 0 || bytes.IndexByte(right, 0) >= 0 {
		if bytes.Equal(left, right) {
			return ""
		}
		return fmt.Sprintf("Binary files %s and %s differ\n", leftName, rightName)
	}

	edits := myers.ComputeEdits(span.URIFromPath(leftName), string(left), string(right))
	return fmt.Sprint(gotextdiff.ToUnified(leftName, rightName, string(left), edits))
}

// UnifiedFiles reads both files and renders their unified diff. A missing
// file is treated as empty.
func UnifiedFiles(leftPath, rightPath string) (string, error) {
	left, err := readOptional(leftPath)
	if err != nil {
		return "", err
	}
	right, err := readOptional(rightPath)
	if err != nil {
		return "", err
	}
	return Unified(leftPath, rightPath, left, right), nil
}

func readOptional(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
