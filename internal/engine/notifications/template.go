package notifications

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([\w.]+)\s*\}\}`)

// Render replaces every {{dotted.path}} with the value found in data.
// Missing paths render as an empty string.
func Render(tmpl string, data map[string]interface{}) string {
	if tmpl == "" {
		return ""
	}
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(token string) string {
		path := placeholderPattern.FindStringSubmatch(token)[1]
		value, ok := Lookup(data, path)
		if !ok {
			return ""
		}
		return formatValue(value)
	})
}

// Lookup walks a dotted path through nested maps. Numeric segments index
// into slices.
func Lookup(data map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = data
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []interface{}:
			i, err := strconv.Atoi(segment)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			current = node[i]
		default:
			return nil, false
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int, int64, int32:
		return fmt.Sprintf("%d", val)
	case json.Number:
		return val.String()
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}
