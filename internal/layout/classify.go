package layout

import (
	"fmt"
	"regexp"
	"strings"
)

// 占位符格式：字面文本形如 {{key}} 的元素被识别为用户可填字段。
var placeholderPattern = regexp.MustCompile(`\{\{(.+?)\}\}`)

// 标准字段集合。这些键受保护：分类器与编辑面都必须拒绝移除。
var standardFieldKeys = []string{
	"name", "company", "designation", "photo",
	"date", "email", "website", "address",
}

// IsProtectedField 判断键是否属于受保护的标准字段。
func IsProtectedField(key string) bool {
	key = strings.TrimSpace(key)
	for _, std := range standardFieldKeys {
		if key == std {
			return true
		}
	}
	return false
}

// StandardFieldKeys 返回受保护标准字段键的拷贝。
func StandardFieldKeys() []string {
	out := make([]string, len(standardFieldKeys))
	copy(out, standardFieldKeys)
	return out
}

// Element 表示编辑面上放置的一个元素，携带字面文本与可选的既有标识。
type Element struct {
	ID   string `json:"id,omitempty"`
	Text string `json:"text"`
}

// VariableField 表示分类出的一个用户可填字段。
type VariableField struct {
	Key       string `json:"key"`
	ElementID string `json:"elementId"`
}

// Classification 为一次分类的结果。
type Classification struct {
	Variable []VariableField `json:"variable"`
	Static   []Element       `json:"static"`
}

const variableIDPrefix = "var_"

// Classify 从放置的元素集合中提取用户可填字段。
//
// 规则：字面文本匹配 {{key}} 的元素产出字段键 key；若元素尚未携带
// 稳定标识则分配 var_<key>，此后对字面文本的编辑不再改变字段身份。
// 分类是幂等的：对已识别的元素再次分类得到相同的键与标识。
// 多个元素命中同一个键被视为作者错误，保存时拒绝。
func Classify(elements []Element) (Classification, error) {
	out := Classification{}
	seen := map[string]string{}

	for _, el := range elements {
		key, ok := extractFieldKey(el)
		if !ok {
			out.Static = append(out.Static, el)
			continue
		}

		if prevID, dup := seen[key]; dup {
			return Classification{}, &ConfigurationError{
				Field:  key,
				Reason: fmt.Sprintf("duplicate placeholder, already bound to element %q", prevID),
			}
		}

		id := strings.TrimSpace(el.ID)
		if id == "" {
			id = variableIDPrefix + key
		}
		seen[key] = id
		out.Variable = append(out.Variable, VariableField{Key: key, ElementID: id})
	}

	return out, nil
}

// extractFieldKey 返回元素对应的字段键。
// 优先使用既有的 var_ 标识，保证字面文本被编辑后身份不漂移。
func extractFieldKey(el Element) (string, bool) {
	if id := strings.TrimSpace(el.ID); strings.HasPrefix(id, variableIDPrefix) {
		if key := strings.TrimSpace(strings.TrimPrefix(id, variableIDPrefix)); key != "" {
			return key, true
		}
	}

	match := placeholderPattern.FindStringSubmatch(el.Text)
	if match == nil {
		return "", false
	}
	key := strings.TrimSpace(match[1])
	if key == "" {
		return "", false
	}
	return key, true
}
