package diff

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strconv"
)

const (
	maxValueLen     = 30
	valuePreviewLen = 27
)

// KeyChange is a difference between two settings documents. Nested objects
// are flattened into dotted keys.
type KeyChange struct {
	Key    string
	Change Change
	Left   string // preview of the left value, empty for OnlyRight
	Right  string // preview of the right value, empty for OnlyLeft
}

// CompareSettings diffs two JSON documents key by key. Keys are reported in
// lexical order.
func CompareSettings(left, right []byte) ([]KeyChange, error) {
	var l, r any
	if err := json.Unmarshal(left, &l); err != nil {
		return nil, fmt.Errorf("failed to parse left settings: %w", err)
	}
	if err := json.Unmarshal(right, &r); err != nil {
		return nil, fmt.Errorf("failed to parse right settings: %w", err)
	}

	var changes []KeyChange
	compareValues(l, r, "", &changes)
	sort.SliceStable(changes, func(i, j int) bool {
		return changes[i].Key < changes[j].Key
	})
	return changes, nil
}

// CompareSettingsFiles reads and diffs two settings.json files.
func CompareSettingsFiles(leftPath, rightPath string) ([]KeyChange, error) {
	left, err := os.ReadFile(leftPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", leftPath, err)
	}
	right, err := os.ReadFile(rightPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rightPath, err)
	}
	return CompareSettings(left, right)
}

func compareValues(l, r any, prefix string, out *[]KeyChange) {
	lo, lok := l.(map[string]any)
	ro, rok := r.(map[string]any)
	if lok && rok {
		for k, lv := range lo {
			key := joinKey(prefix, k)
			rv, ok := ro[k]
			if !ok {
				*out = append(*out, KeyChange{Key: key, Change: OnlyLeft, Left: preview(lv)})
				continue
			}
			compareValues(lv, rv, key, out)
		}
		for k, rv := range ro {
			if _, ok := lo[k]; !ok {
				*out = append(*out, KeyChange{Key: joinKey(prefix, k), Change: OnlyRight, Right: preview(rv)})
			}
		}
		return
	}

	if !reflect.DeepEqual(l, r) {
		*out = append(*out, KeyChange{Key: prefix, Change: Modified, Left: preview(l), Right: preview(r)})
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func preview(v any) string {
	switch t := v.(type) {
	case string:
		if len(t) > maxValueLen {
			return strconv.Quote(t[:valuePreviewLen] + "...")
		}
		return strconv.Quote(t)
	case []any:
		return fmt.Sprintf("[%d items]", len(t))
	case map[string]any:
		return fmt.Sprintf("{%d keys}", len(t))
	case nil:
		return "null"
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}
