package conditions

import (
	"strconv"
	"strings"

	"github.com/dukex/conduit/pkg/template"
)

func truthy(value any) bool {
	switch v := value.(type) {
	case undefined, nil:
		return false
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}

		return v != ""
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		if number, ok := toNumber(v); ok {
			return number != 0
		}

		return false
	}
}

func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		number, err := strconv.ParseFloat(strings.TrimSpace(v), 64)

		return number, err == nil
	default:
		return 0, false
	}
}

func equal(left, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}

	if lb, ok := left.(bool); ok {
		rb, ok := right.(bool)

		return ok && lb == rb
	}

	_, leftIsString := left.(string)
	_, rightIsString := right.(string)

	if !(leftIsString && rightIsString) {
		if ln, ok := toNumber(left); ok {
			if rn, ok := toNumber(right); ok {
				return ln == rn
			}
		}
	}

	return template.Format(left) == template.Format(right)
}

func order(op tokenKind, left, right any) bool {
	ls, leftIsString := left.(string)
	rs, rightIsString := right.(string)

	var cmp int

	if leftIsString && rightIsString {
		ln, lok := toNumber(ls)
		rn, rok := toNumber(rs)

		if lok && rok {
			cmp = compareNumbers(ln, rn)
		} else {
			cmp = strings.Compare(ls, rs)
		}
	} else {
		ln, lok := toNumber(left)
		rn, rok := toNumber(right)

		if !lok || !rok {
			return false
		}

		cmp = compareNumbers(ln, rn)
	}

	switch op {
	case tokenGt:
		return cmp > 0
	case tokenGte:
		return cmp >= 0
	case tokenLt:
		return cmp < 0
	case tokenLte:
		return cmp <= 0
	default:
		return false
	}
}

func compareNumbers(left, right float64) int {
	switch {
	case left < right:
		return -1
	case left > right:
		return 1
	default:
		return 0
	}
}

func contains(container, item any) bool {
	switch c := container.(type) {
	case string:
		return strings.Contains(c, template.Format(item))
	case []any:
		for _, element := range c {
			if equal(element, item) {
				return true
			}
		}

		return false
	case []string:
		for _, element := range c {
			if element == template.Format(item) {
				return true
			}
		}

		return false
	case map[string]any:
		key, ok := item.(string)
		if !ok {
			return false
		}

		_, exists := c[key]

		return exists
	default:
		return false
	}
}
