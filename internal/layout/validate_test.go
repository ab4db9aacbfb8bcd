package layout

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateConfigReportsEveryViolation(t *testing.T) {
	cfg := Config{
		Coordinates: map[string]Placement{
			"name":        {X: -10, Y: 860},
			"company":     {X: 540, Y: 2500},
			PhotoFieldKey: {X: 540, Y: 480, Shape: "hexagon"},
		},
	}

	errs := ValidateConfig(cfg)
	// 缺背景 + name 越界 + company 越界 + photo 半径 + photo 形状。
	if len(errs) != 5 {
		t.Fatalf("expected 5 violations, got %d: %v", len(errs), errs)
	}

	fields := map[string]bool{}
	for _, err := range errs {
		var confErr *ConfigurationError
		if !errors.As(err, &confErr) {
			t.Fatalf("expected ConfigurationError, got %T", err)
		}
		fields[confErr.Field] = true
	}
	for _, want := range []string{"backgroundImageUrl", "name", "company", PhotoFieldKey} {
		if !fields[want] {
			t.Fatalf("missing violation for %q in %v", want, errs)
		}
	}
}

func TestValidateConfigAcceptsCompleteConfig(t *testing.T) {
	cfg := Config{
		BackgroundImageURL: "https://assets.example/bg.png",
		Coordinates: map[string]Placement{
			"name":        {X: 540, Y: 860},
			PhotoFieldKey: {X: 540, Y: 480, Radius: 150, Shape: ShapeSquare},
		},
	}
	if errs := ValidateConfig(cfg); len(errs) != 0 {
		t.Fatalf("expected no violations, got %v", errs)
	}
}

func TestValidateValuesRequired(t *testing.T) {
	cfg := Config{Validation: map[string]FieldRule{"name": {Required: true}}}

	err := ValidateValues(cfg, Values{})
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if valErr.Field != "name" {
		t.Fatalf("unexpected field %q", valErr.Field)
	}

	if err := ValidateValues(cfg, Values{Fields: map[string]string{"name": "张三"}}); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestValidateValuesMaxLengthCountsRunes(t *testing.T) {
	cfg := Config{Validation: map[string]FieldRule{"company": {MaxLength: 4}}}

	// 4 个汉字是 12 字节：约束按字符数而不是字节数计。
	if err := ValidateValues(cfg, Values{Fields: map[string]string{"company": "某某公司"}}); err != nil {
		t.Fatalf("expected 4 runes to pass, got %v", err)
	}
	if err := ValidateValues(cfg, Values{Fields: map[string]string{"company": "某某有限公司"}}); err == nil {
		t.Fatal("expected max length violation")
	}
	if err := ValidateValues(cfg, Values{Fields: map[string]string{"company": strings.Repeat("a", 5)}}); err == nil {
		t.Fatal("expected max length violation for ascii")
	}
}
