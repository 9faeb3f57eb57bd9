package batch

import (
	"strings"
	"testing"

	"github.com/studiowebux/surge/internal/types"
)

func TestValidatorInactiveByDefault(t *testing.T) {
	v, err := newResponseValidator(&types.RequestConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.active() {
		t.Error("expected validator inactive with no expectations")
	}
}

func TestValidatorContains(t *testing.T) {
	v, err := newResponseValidator(&types.RequestConfig{ExpectedBodyContains: "healthy"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg := v.validate(`{"status":"healthy"}`); msg != "" {
		t.Errorf("expected match, got violation: %s", msg)
	}
	if msg := v.validate(`{"status":"degraded"}`); msg == "" {
		t.Error("expected violation for a missing substring")
	}
}

func TestValidatorPattern(t *testing.T) {
	v, err := newResponseValidator(&types.RequestConfig{ExpectedBodyPattern: `"id":\s*\d+`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg := v.validate(`{"id": 42}`); msg != "" {
		t.Errorf("expected pattern match, got violation: %s", msg)
	}
	if msg := v.validate(`{"id": "abc"}`); msg == "" {
		t.Error("expected violation for a non-matching body")
	}
}

func TestValidatorBadPatternReportedAtCompile(t *testing.T) {
	_, err := newResponseValidator(&types.RequestConfig{ExpectedBodyPattern: "[unclosed"})
	if err == nil {
		t.Error("expected a compile-time error for an invalid pattern")
	}
}

func TestValidatorFields(t *testing.T) {
	v, err := newResponseValidator(&types.RequestConfig{
		ExpectedBodyFields: map[string]string{
			"status":     "ok",
			"data.count": "3",
			"data.tag":   "/^v\\d+$/",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := `{"status":"ok","data":{"count":3,"tag":"v12"}}`
	if msg := v.validate(body); msg != "" {
		t.Errorf("expected all fields to pass, got violation: %s", msg)
	}

	if msg := v.validate(`{"status":"down","data":{"count":3,"tag":"v12"}}`); msg == "" {
		t.Error("expected violation for a wrong field value")
	}
	if msg := v.validate(`{"status":"ok"}`); msg == "" {
		t.Error("expected violation for a missing field")
	}
	if msg := v.validate(`not json`); !strings.Contains(msg, "JSON") {
		t.Errorf("expected a JSON parse violation, got: %s", msg)
	}
}

func TestValidatorBadFieldExpression(t *testing.T) {
	_, err := newResponseValidator(&types.RequestConfig{
		ExpectedBodyFields: map[string]string{"[": "x"},
	})
	if err == nil {
		t.Error("expected a compile-time error for an invalid field expression")
	}
}
