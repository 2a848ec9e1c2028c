package defaults

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/goliatone/go-preferences/pkg/types"
)

// ValidateWrite checks a candidate value against the system default before
// any write. Deprecated keys are rejected here so stale template bundles and
// imports cannot resurrect them.
func ValidateWrite(def types.SystemDefault, value any) error {
	if def.Deprecated {
		reason := "key is deprecated"
		if def.ReplacementKey != "" {
			reason = fmt.Sprintf("key is deprecated, use %q", def.ReplacementKey)
		}
		return types.NewValidationError(def.Key, reason)
	}
	return ValidateValue(def, value)
}

// ValidateValue checks the value against the default's data type and
// constraints (range/enum/regex).
func ValidateValue(def types.SystemDefault, value any) error {
	if value == nil {
		return types.NewValidationError(def.Key, "value is required")
	}
	if err := checkDataType(def, value); err != nil {
		return err
	}
	return checkConstraints(def, value)
}

func checkDataType(def types.SystemDefault, value any) error {
	switch def.DataType {
	case types.DataTypeString, types.DataTypeEncrypted:
		if _, ok := value.(string); !ok {
			return typeError(def, value)
		}
	case types.DataTypeBool:
		if _, ok := value.(bool); !ok {
			return typeError(def, value)
		}
	case types.DataTypeInt:
		f, ok := numeric(value)
		if !ok || f != float64(int64(f)) {
			return typeError(def, value)
		}
	case types.DataTypeFloat:
		if _, ok := numeric(value); !ok {
			return typeError(def, value)
		}
	case types.DataTypeJSON, "":
		// any JSON-serializable payload is acceptable
	default:
		return types.NewValidationError(def.Key, fmt.Sprintf("unknown data type %q", def.DataType))
	}
	return nil
}

func checkConstraints(def types.SystemDefault, value any) error {
	constraints := def.Constraints
	if constraints.Empty() {
		return nil
	}
	if constraints.Min != nil || constraints.Max != nil {
		f, ok := numeric(value)
		if !ok {
			return types.NewValidationError(def.Key, "range constraint requires a numeric value")
		}
		if constraints.Min != nil && f < *constraints.Min {
			return types.NewValidationError(def.Key, fmt.Sprintf("value %v below minimum %v", value, *constraints.Min))
		}
		if constraints.Max != nil && f > *constraints.Max {
			return types.NewValidationError(def.Key, fmt.Sprintf("value %v above maximum %v", value, *constraints.Max))
		}
	}
	if len(constraints.Enum) > 0 {
		candidate := stringify(value)
		found := false
		for _, allowed := range constraints.Enum {
			if candidate == allowed {
				found = true
				break
			}
		}
		if !found {
			return types.NewValidationError(def.Key, fmt.Sprintf("value %v not in enum %v", value, constraints.Enum))
		}
	}
	if constraints.Pattern != "" {
		s, ok := value.(string)
		if !ok {
			return types.NewValidationError(def.Key, "regex constraint requires a string value")
		}
		re, err := regexp.Compile(constraints.Pattern)
		if err != nil {
			return types.NewValidationError(def.Key, fmt.Sprintf("invalid constraint pattern %q", constraints.Pattern))
		}
		if !re.MatchString(s) {
			return types.NewValidationError(def.Key, fmt.Sprintf("value %q does not match %q", s, constraints.Pattern))
		}
	}
	return nil
}

func typeError(def types.SystemDefault, value any) error {
	return types.NewValidationError(def.Key, fmt.Sprintf("expected %s value, got %T", def.DataType, value))
}

func numeric(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
