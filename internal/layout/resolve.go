package layout

import "strings"

// LayerKind 标识一个可绘制图层的种类。
type LayerKind string

const (
	LayerBackground LayerKind = "background"
	LayerPhoto      LayerKind = "photo"
	LayerWatermark  LayerKind = "watermark"
	LayerSponsor    LayerKind = "sponsor"
	LayerText       LayerKind = "text"
	LayerQR         LayerKind = "qr"
)

// Layer 表示一个已解析完几何与样式、可以直接绘制的图层。
// 所有几何字段都以画布基准单位表达。
//
// 几何语义按种类区分：background/watermark/sponsor/qr 的 (X, Y)
// 为左上角；photo 的 (X, Y) 为裁剪区几何中心；text 的 (X, Y)
// 为锚点，水平含义由 Style.Align 决定，垂直始终对齐文本中线。
type Layer struct {
	Kind LayerKind `json:"kind"`

	// Key 在 text 图层上是字段键，在 sponsor 图层上是赞助商名。
	Key string `json:"key,omitempty"`

	ImageURL string    `json:"imageUrl,omitempty"`
	Text     string    `json:"text,omitempty"`
	Style    TextStyle `json:"style,omitempty"`

	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`

	// 照片裁剪参数。
	Radius       float64 `json:"radius,omitempty"`
	Shape        Shape   `json:"shape,omitempty"`
	CornerRadius float64 `json:"cornerRadius,omitempty"`

	// 二维码编码内容（活动的公开访问 URL）。
	QRPayload string `json:"qrPayload,omitempty"`
}

// 赞助商条带的固定排版参数（画布单位）。
const (
	sponsorMarkSize    = 120.0
	sponsorMarkSpacing = 40.0
	sponsorStripBottom = 60.0
)

// Resolve 将（配置、运行期取值、所选角色）解析为有序图层列表。
//
// 这是两条渲染路径共享的唯一纯函数：交互式预览与高分辨率合成
// 都消费它的输出，只在最终绘制/编码阶段分叉。固定叠放顺序为
// background → photo → watermark → sponsors → text → qr，
// 两端任何顺序或几何规则的分歧都视为缺陷。
//
// publicURL 为活动的公开访问地址，仅用作二维码的编码内容。
func Resolve(cfg Config, vals Values, publicURL string) ([]Layer, error) {
	background := cfg.BackgroundImageURL
	if role, ok := cfg.RoleByLabel(vals.Role); ok && strings.TrimSpace(role.BackgroundImageURL) != "" {
		background = role.BackgroundImageURL
	}
	if strings.TrimSpace(background) == "" {
		return nil, &ConfigurationError{Field: "backgroundImageUrl", Reason: "required before any render"}
	}

	layers := []Layer{{
		Kind:     LayerBackground,
		ImageURL: background,
		X:        0, Y: 0,
		Width:  CanvasWidth,
		Height: CanvasHeight,
	}}

	// 照片槽位：未上传照片不是错误，直接省略该图层。
	if p, ok := cfg.Coordinates[PhotoFieldKey]; ok && strings.TrimSpace(vals.PhotoURL) != "" {
		photo := Layer{
			Kind:     LayerPhoto,
			Key:      PhotoFieldKey,
			ImageURL: vals.PhotoURL,
			X:        p.X, Y: p.Y,
			Width:  2 * p.Radius,
			Height: 2 * p.Radius,
			Radius: p.Radius,
			Shape:  p.Shape,
		}
		if p.Shape == ShapeSquare {
			photo.CornerRadius = SquareCornerRadius
		}
		layers = append(layers, photo)
	}

	if strings.TrimSpace(cfg.WatermarkURL) != "" {
		// 水印整宽覆盖，高度由素材纵横比在绘制时决定（Height 为 0）。
		layers = append(layers, Layer{
			Kind:     LayerWatermark,
			ImageURL: cfg.WatermarkURL,
			X:        0, Y: 0,
			Width: CanvasWidth,
		})
	}

	layers = append(layers, sponsorLayers(cfg.Sponsors)...)

	for _, key := range sortedPlacementKeys(cfg.Coordinates) {
		if key == PhotoFieldKey {
			continue
		}
		text := vals.Field(key)
		if text == "" {
			text = strings.TrimSpace(cfg.PosterElements.StaticText(key))
		}
		if text == "" {
			// 既无运行期取值也无静态文案：字段整体省略，不渲染空文本。
			continue
		}
		p := cfg.Coordinates[key]
		layers = append(layers, Layer{
			Kind:  LayerText,
			Key:   key,
			Text:  text,
			Style: cfg.Typography[key].MergedOverDefaults(cfg.FontFamily),
			X:     p.X, Y: p.Y,
		})
	}

	if cfg.PosterElements.QREnabled {
		size := cfg.PosterElements.EffectiveQRSize()
		layers = append(layers, Layer{
			Kind:      LayerQR,
			X:         CanvasWidth - QRMargin - size,
			Y:         CanvasHeight - QRMargin - size,
			Width:     size,
			Height:    size,
			QRPayload: publicURL,
		})
	}

	return layers, nil
}

// sponsorLayers 将可见赞助商排成底部居中的一行。
func sponsorLayers(sponsors []Sponsor) []Layer {
	visible := make([]Sponsor, 0, len(sponsors))
	for _, s := range sponsors {
		if s.Visible && strings.TrimSpace(s.ImageURL) != "" {
			visible = append(visible, s)
		}
	}
	if len(visible) == 0 {
		return nil
	}

	total := float64(len(visible))*sponsorMarkSize + float64(len(visible)-1)*sponsorMarkSpacing
	x := (CanvasWidth - total) / 2
	y := CanvasHeight - sponsorStripBottom - sponsorMarkSize

	out := make([]Layer, 0, len(visible))
	for _, s := range visible {
		out = append(out, Layer{
			Kind:     LayerSponsor,
			Key:      s.Name,
			ImageURL: s.ImageURL,
			X:        x, Y: y,
			Width:  sponsorMarkSize,
			Height: sponsorMarkSize,
		})
		x += sponsorMarkSize + sponsorMarkSpacing
	}
	return out
}

// Scale 返回所有几何字段乘以 s 后的图层列表拷贝。
// 字号随几何一起缩放，保证两端输出仿射等价。
func Scale(layers []Layer, s float64) []Layer {
	out := make([]Layer, len(layers))
	for i, l := range layers {
		l.X *= s
		l.Y *= s
		l.Width *= s
		l.Height *= s
		l.Radius *= s
		l.CornerRadius *= s
		l.Style.Size *= s
		out[i] = l
	}
	return out
}

// TextFieldKeys 返回 coordinates 中除照片槽位外的全部键（有序）。
func TextFieldKeys(cfg Config) []string {
	keys := sortedPlacementKeys(cfg.Coordinates)
	out := keys[:0]
	for _, key := range keys {
		if key != PhotoFieldKey {
			out = append(out, key)
		}
	}
	return out
}
