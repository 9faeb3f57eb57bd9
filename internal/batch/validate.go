package batch

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/jmespath/go-jmespath"

	"github.com/studiowebux/surge/internal/types"
)

// responseValidator holds the compiled body expectations for a batch.
// Compilation happens pre-flight so a malformed pattern is reported
// with the other validation violations, before any network activity.
type responseValidator struct {
	contains string
	pattern  *regexp.Regexp
	fields   map[string]*jmespath.JMESPath
	expected map[string]string
}

func newResponseValidator(cfg *types.RequestConfig) (*responseValidator, error) {
	v := &responseValidator{contains: cfg.ExpectedBodyContains}

	if cfg.ExpectedBodyPattern != "" {
		pattern, err := regexp.Compile(cfg.ExpectedBodyPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid body pattern regex: %w", err)
		}
		v.pattern = pattern
	}

	if len(cfg.ExpectedBodyFields) > 0 {
		v.fields = make(map[string]*jmespath.JMESPath, len(cfg.ExpectedBodyFields))
		v.expected = make(map[string]string, len(cfg.ExpectedBodyFields))
		for expr, want := range cfg.ExpectedBodyFields {
			compiled, err := jmespath.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("invalid body field expression %q: %w", expr, err)
			}
			v.fields[expr] = compiled
			v.expected[expr] = want
		}
	}

	return v, nil
}

// active reports whether any body expectation is configured.
func (v *responseValidator) active() bool {
	return v.contains != "" || v.pattern != nil || len(v.fields) > 0
}

// validate returns an empty string when the body meets every
// expectation, or a description of the first violation.
func (v *responseValidator) validate(body string) string {
	if v.contains != "" && !strings.Contains(body, v.contains) {
		return fmt.Sprintf("body does not contain expected substring: %s", v.contains)
	}

	if v.pattern != nil && !v.pattern.MatchString(body) {
		return fmt.Sprintf("body does not match expected pattern: %s", v.pattern.String())
	}

	if len(v.fields) > 0 {
		var parsed interface{}
		if err := json.Unmarshal([]byte(body), &parsed); err != nil {
			return fmt.Sprintf("failed to parse JSON body for field validation: %v", err)
		}

		for expr, compiled := range v.fields {
			value, err := compiled.Search(parsed)
			if err != nil || value == nil {
				return fmt.Sprintf("expected field %q not found in response", expr)
			}

			actual := fmt.Sprintf("%v", value)
			want := v.expected[expr]

			// Values wrapped in slashes are regex patterns.
			if strings.HasPrefix(want, "/") && strings.HasSuffix(want, "/") && len(want) > 1 {
				pattern := want[1 : len(want)-1]
				matched, err := regexp.MatchString(pattern, actual)
				if err != nil {
					return fmt.Sprintf("invalid regex pattern for field %q: %v", expr, err)
				}
				if !matched {
					return fmt.Sprintf("field %q value %q does not match pattern %q", expr, actual, pattern)
				}
				continue
			}

			if actual != want {
				return fmt.Sprintf("field %q expected %q but got %q", expr, want, actual)
			}
		}
	}

	return ""
}
