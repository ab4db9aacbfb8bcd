package layout

import (
	"fmt"
	"sort"
	"strings"
)

// ValidateConfig 判定配置是否可用于渲染。
//
// 约束：backgroundImageUrl 必填；coordinates 中每个键的 (x, y)
// 必须落在画布基准尺寸内且非负。违例会逐条上报（带字段名），
// 绝不静默纠正。typography 条目缺失不是错误（有文档化默认值），
// posterElements 静态值缺失同样不是错误（该字段直接跳过）。
func ValidateConfig(cfg Config) []error {
	var errs []error

	if strings.TrimSpace(cfg.BackgroundImageURL) == "" {
		errs = append(errs, &ConfigurationError{
			Field:  "backgroundImageUrl",
			Reason: "required before any render",
		})
	}

	for _, key := range sortedPlacementKeys(cfg.Coordinates) {
		p := cfg.Coordinates[key]
		if p.X < 0 || p.X > CanvasWidth || p.Y < 0 || p.Y > CanvasHeight {
			errs = append(errs, &ConfigurationError{
				Field: key,
				Reason: fmt.Sprintf("position (%g, %g) outside canvas %gx%g",
					p.X, p.Y, CanvasWidth, CanvasHeight),
			})
		}
		if key == PhotoFieldKey {
			if p.Radius <= 0 {
				errs = append(errs, &ConfigurationError{Field: key, Reason: "photo radius must be positive"})
			}
			switch p.Shape {
			case ShapeCircle, ShapeSquare:
			default:
				errs = append(errs, &ConfigurationError{
					Field:  key,
					Reason: fmt.Sprintf("unknown photo shape %q", p.Shape),
				})
			}
		}
	}

	return errs
}

// ValidateValues 在进入解析器之前校验运行期取值的字段约束。
// 返回第一个违例，便于调用方给出字段级的错误提示。
func ValidateValues(cfg Config, vals Values) error {
	for _, key := range sortedRuleKeys(cfg.Validation) {
		rule := cfg.Validation[key]
		value := vals.Field(key)
		if rule.Required && value == "" {
			return &ValidationError{Field: key, Reason: "value is required"}
		}
		if rule.MaxLength > 0 && len([]rune(value)) > rule.MaxLength {
			return &ValidationError{
				Field:  key,
				Reason: fmt.Sprintf("value exceeds max length %d", rule.MaxLength),
			}
		}
	}
	return nil
}

func sortedPlacementKeys(m map[string]Placement) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func sortedRuleKeys(m map[string]FieldRule) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
