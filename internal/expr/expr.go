// Package expr evaluates the operator expressions that turn a raw sensor
// payload into the value pushed into a climate ("value / 10",
// "value == 'Online'", "temperature" on a JSON payload).
package expr

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"
)

// Unknown is returned for expressions that evaluate to nothing.
const Unknown = "unknown"

type Expression struct {
	src string
	e   *govaluate.EvaluableExpression
}

// Compile parses src. An empty src yields a nil Expression, which passes
// payloads through untouched.
func Compile(src string) (*Expression, error) {
	if strings.TrimSpace(src) == "" {
		return nil, nil
	}
	e, err := govaluate.NewEvaluableExpression(src)
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", src, err)
	}
	return &Expression{src: src, e: e}, nil
}

func (x *Expression) String() string {
	if x == nil {
		return ""
	}
	return x.src
}

// Eval binds the payload to "value" (a number when it parses as one) and,
// for JSON object payloads, every top-level key by name.
func (x *Expression) Eval(payload string) (string, error) {
	if x == nil {
		return payload, nil
	}
	out, err := x.e.Evaluate(params(payload))
	if err != nil {
		return "", fmt.Errorf("evaluate %q: %w", x.src, err)
	}
	return format(out), nil
}

func params(payload string) map[string]interface{} {
	p := make(map[string]interface{})
	trimmed := strings.TrimSpace(payload)

	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
			for k, v := range obj {
				p[k] = v
			}
		}
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		p["value"] = f
	} else {
		p["value"] = trimmed
	}
	return p
}

func format(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return Unknown
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
