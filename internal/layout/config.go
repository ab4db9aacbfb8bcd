package layout

import (
	"encoding/json"
	"strconv"
	"strings"
)

// 画布基准尺寸。所有坐标与字号都以该单位网格表达，
// 与任何渲染端的实际像素尺寸无关（只允许整体等比缩放）。
const (
	CanvasWidth  = 1080.0
	CanvasHeight = 1920.0
)

// Shape 表示照片槽位的裁剪形状。
type Shape string

const (
	ShapeCircle Shape = "circle"
	ShapeSquare Shape = "square"
)

// Align 表示文本字段的水平对齐方式。
type Align string

const (
	AlignLeft   Align = "left"
	AlignCenter Align = "center"
	AlignRight  Align = "right"
)

const (
	// DefaultQRSize 为二维码边长的默认值（画布单位）。
	DefaultQRSize = 250.0
	// QRMargin 为二维码默认位置距画布右下角的边距。
	QRMargin = 40.0
	// SquareCornerRadius 为方形照片槽位裁剪时使用的固定圆角半径。
	SquareCornerRadius = 24.0
)

// PhotoFieldKey 为照片槽位在 coordinates 中的保留键名。
const PhotoFieldKey = "photo"

// Placement 描述一个字段在画布上的放置信息。
// 照片槽位携带 Radius 与 Shape，(X, Y) 为几何中心；
// 文本字段只使用 (X, Y) 作为锚点，水平含义由对齐方式决定。
type Placement struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius,omitempty"`
	Shape  Shape   `json:"shape,omitempty"`
}

// TextStyle 描述单个文本字段的排版样式。
type TextStyle struct {
	Size       float64 `json:"size,omitempty"`
	Color      string  `json:"color,omitempty"`
	FontFamily string  `json:"fontFamily,omitempty"`
	Weight     string  `json:"weight,omitempty"`
	Align      Align   `json:"align,omitempty"`
}

// DefaultTextStyle 为 typography 缺失条目时使用的兜底样式。
var DefaultTextStyle = TextStyle{
	Size:  24,
	Color: "#000000",
	Align: AlignCenter,
}

// MergedOverDefaults 返回以文档化默认值补齐空缺后的样式。
// defaultFamily 为配置级别的全局默认字体，可为空。
func (s TextStyle) MergedOverDefaults(defaultFamily string) TextStyle {
	out := s
	if out.Size <= 0 {
		out.Size = DefaultTextStyle.Size
	}
	if strings.TrimSpace(out.Color) == "" {
		out.Color = DefaultTextStyle.Color
	}
	switch out.Align {
	case AlignLeft, AlignCenter, AlignRight:
	default:
		out.Align = DefaultTextStyle.Align
	}
	if strings.TrimSpace(out.FontFamily) == "" {
		out.FontFamily = defaultFamily
	}
	return out
}

// Role 表示可选角色。选择带背景覆盖的角色会替换主背景图。
type Role struct {
	Label              string `json:"label"`
	BackgroundImageURL string `json:"backgroundImageUrl,omitempty"`
	BadgeURL           string `json:"badgeUrl,omitempty"`
}

// Sponsor 表示一个赞助商标记，渲染时由 Visible 控制是否出现。
type Sponsor struct {
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl"`
	Visible  bool   `json:"visible"`
}

// FieldRule 为表单侧消费的字段约束，渲染器不读取。
type FieldRule struct {
	MaxLength int  `json:"maxLength,omitempty"`
	Required  bool `json:"required,omitempty"`
}

// Branding 仅承载配色元数据，渲染逻辑不消费。
type Branding struct {
	PrimaryColor   string `json:"primaryColor,omitempty"`
	SecondaryColor string `json:"secondaryColor,omitempty"`
	LogoURL        string `json:"logoUrl,omitempty"`
}

// Elements 承载非用户字段的静态文案，以及二维码等功能开关。
// 线上格式是一个扁平对象：qrEnabled/qrSize 为保留键，
// 其余键一律视为静态字符串内容。
type Elements struct {
	Static    map[string]string
	QREnabled bool
	QRSize    float64
}

// StaticText 返回指定键的静态文案，缺失时返回空串。
func (e Elements) StaticText(key string) string {
	if e.Static == nil {
		return ""
	}
	return e.Static[key]
}

// EffectiveQRSize 返回二维码边长，未配置时使用默认值。
func (e Elements) EffectiveQRSize() float64 {
	if e.QRSize > 0 {
		return e.QRSize
	}
	return DefaultQRSize
}

const (
	elementsKeyQREnabled = "qrEnabled"
	elementsKeyQRSize    = "qrSize"
)

// UnmarshalJSON 解析扁平对象格式。
func (e *Elements) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := Elements{}
	for key, value := range raw {
		switch key {
		case elementsKeyQREnabled:
			if err := json.Unmarshal(value, &out.QREnabled); err != nil {
				return err
			}
		case elementsKeyQRSize:
			if err := json.Unmarshal(value, &out.QRSize); err != nil {
				return err
			}
		default:
			var text string
			if err := json.Unmarshal(value, &text); err != nil {
				// 容忍历史数据中的数字型静态值。
				var num float64
				if err2 := json.Unmarshal(value, &num); err2 != nil {
					return err
				}
				text = strconv.FormatFloat(num, 'f', -1, 64)
			}
			if out.Static == nil {
				out.Static = map[string]string{}
			}
			out.Static[key] = text
		}
	}

	*e = out
	return nil
}

// MarshalJSON 输出与解析对称的扁平对象。
func (e Elements) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(e.Static)+2)
	for key, value := range e.Static {
		flat[key] = value
	}
	if e.QREnabled {
		flat[elementsKeyQREnabled] = true
	}
	if e.QRSize > 0 {
		flat[elementsKeyQRSize] = e.QRSize
	}
	return json.Marshal(flat)
}

// Config 为单个活动的海报布局配置。
// 每次保存整体覆盖存储中的旧值，不做版本化。
type Config struct {
	BackgroundImageURL string               `json:"backgroundImageUrl"`
	WatermarkURL       string               `json:"watermarkUrl,omitempty"`
	FontFamily         string               `json:"fontFamily,omitempty"`
	Coordinates        map[string]Placement `json:"coordinates"`
	Typography         map[string]TextStyle `json:"typography,omitempty"`
	PosterElements     Elements             `json:"posterElements,omitempty"`
	Validation         map[string]FieldRule `json:"validation,omitempty"`
	Branding           Branding             `json:"branding,omitempty"`
	Roles              []Role               `json:"roles,omitempty"`
	Sponsors           []Sponsor            `json:"sponsors,omitempty"`
}

// RoleByLabel 按标签查找角色，未找到时第二个返回值为 false。
func (c Config) RoleByLabel(label string) (Role, bool) {
	label = strings.TrimSpace(label)
	if label == "" {
		return Role{}, false
	}
	for _, role := range c.Roles {
		if role.Label == label {
			return role, true
		}
	}
	return Role{}, false
}

// Values 为一次渲染传入的运行期取值，渲染后即弃，不持久化。
type Values struct {
	Fields   map[string]string `json:"fields"`
	PhotoURL string            `json:"photoUrl,omitempty"`
	Role     string            `json:"role,omitempty"`
}

// Field 返回去除首尾空白后的字段值。
func (v Values) Field(key string) string {
	if v.Fields == nil {
		return ""
	}
	return strings.TrimSpace(v.Fields[key])
}
