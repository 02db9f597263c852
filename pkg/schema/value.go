package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
)

// argValue converts a parsed directive argument into a plain Go value for
// typed payload decoding.
func argValue(v *ast.Value) (any, error) {
	switch v.Kind {
	case ast.IntValue:
		n, err := strconv.ParseInt(v.Raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", v.Raw)
		}
		return n, nil
	case ast.FloatValue:
		f, err := strconv.ParseFloat(v.Raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float %q", v.Raw)
		}
		return f, nil
	case ast.StringValue, ast.BlockValue, ast.EnumValue:
		return v.Raw, nil
	case ast.BooleanValue:
		return v.Raw == "true", nil
	case ast.NullValue:
		return nil, nil
	case ast.ListValue:
		list := make([]any, 0, len(v.Children))
		for _, c := range v.Children {
			cv, err := argValue(c.Value)
			if err != nil {
				return nil, err
			}
			list = append(list, cv)
		}
		return list, nil
	case ast.ObjectValue:
		obj := make(map[string]any, len(v.Children))
		for _, c := range v.Children {
			cv, err := argValue(c.Value)
			if err != nil {
				return nil, err
			}
			obj[c.Name] = cv
		}
		return obj, nil
	case ast.Variable:
		return nil, fmt.Errorf("variables are not allowed in schema directives")
	default:
		return nil, fmt.Errorf("unsupported argument value kind %d", v.Kind)
	}
}

// sqlLiteral renders a compiler-known default value as a SQL literal.
func sqlLiteral(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'", nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	default:
		return "", fmt.Errorf("unsupported default value type %T", v)
	}
}
