package render

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"

	"postermaker/internal/layout"
)

// ImageSet 保存按来源 URL 解码好的素材，由调用方负责抓取。
type ImageSet map[string]image.Image

// Rasterize 将解析好的图层列表绘制为一张位图。
//
// 两条渲染路径共用这一段绘制逻辑：预览传入缩放因子 s < 1，
// 高分辨率合成传入 1。缺图的背景是致命错误；其余图层缺图
// 说明调用方已经判定降级，直接跳过。
func Rasterize(layers []layout.Layer, scale float64, images ImageSet, fonts *Fonts) (image.Image, error) {
	if scale <= 0 {
		return nil, fmt.Errorf("rasterize: scale must be positive, got %g", scale)
	}

	width := int(math.Round(layout.CanvasWidth * scale))
	height := int(math.Round(layout.CanvasHeight * scale))
	dc := gg.NewContext(width, height)

	for _, l := range layout.Scale(layers, scale) {
		switch l.Kind {
		case layout.LayerBackground:
			img, ok := images[l.ImageURL]
			if !ok || img == nil {
				return nil, &layout.AssetFetchError{URL: l.ImageURL, Err: fmt.Errorf("background image not available")}
			}
			drawCover(dc, img, l.X, l.Y, l.Width, l.Height)

		case layout.LayerPhoto:
			img, ok := images[l.ImageURL]
			if !ok || img == nil {
				continue
			}
			drawClippedPhoto(dc, img, l)

		case layout.LayerWatermark:
			img, ok := images[l.ImageURL]
			if !ok || img == nil {
				continue
			}
			// 整宽覆盖，高度按素材纵横比保持。
			resized := imaging.Resize(img, int(math.Round(l.Width)), 0, imaging.Lanczos)
			dc.DrawImage(resized, int(math.Round(l.X)), int(math.Round(l.Y)))

		case layout.LayerSponsor:
			img, ok := images[l.ImageURL]
			if !ok || img == nil {
				continue
			}
			drawCover(dc, img, l.X, l.Y, l.Width, l.Height)

		case layout.LayerText:
			drawText(dc, fonts, l)

		case layout.LayerQR:
			size := int(math.Round(l.Width))
			img, err := qrImage(l.QRPayload, size)
			if err != nil {
				return nil, fmt.Errorf("render qr layer: %w", err)
			}
			dc.DrawImage(img, int(math.Round(l.X)), int(math.Round(l.Y)))

		default:
			return nil, fmt.Errorf("rasterize: unknown layer kind %q", l.Kind)
		}
	}

	return dc.Image(), nil
}

// drawCover 以 cover 规则把素材铺满目标框：等比缩放到完全覆盖，
// 超出部分居中裁掉，绝不拉伸。
func drawCover(dc *gg.Context, img image.Image, x, y, w, h float64) {
	fitted := imaging.Fill(img, int(math.Round(w)), int(math.Round(h)), imaging.Center, imaging.Lanczos)
	dc.DrawImage(fitted, int(math.Round(x)), int(math.Round(y)))
}

func drawClippedPhoto(dc *gg.Context, img image.Image, l layout.Layer) {
	x0 := l.X - l.Radius
	y0 := l.Y - l.Radius

	if l.Shape == layout.ShapeCircle {
		dc.DrawCircle(l.X, l.Y, l.Radius)
	} else {
		dc.DrawRoundedRectangle(x0, y0, l.Width, l.Height, l.CornerRadius)
	}
	dc.Clip()
	drawCover(dc, img, x0, y0, l.Width, l.Height)
	dc.ResetClip()
}

func drawText(dc *gg.Context, fonts *Fonts, l layout.Layer) {
	dc.SetFontFace(fonts.Face(l.Style))
	dc.SetColor(parseHexColor(l.Style.Color))

	var ax float64
	switch l.Style.Align {
	case layout.AlignLeft:
		ax = 0
	case layout.AlignRight:
		ax = 1
	default:
		ax = 0.5
	}
	// 垂直锚点固定在文本中线。
	dc.DrawStringAnchored(sanitizeText(l.Text), l.X, l.Y, ax, 0.5)
}

// sanitizeText 去掉控制字符。栅格文本层不是标记语言，
// 不存在实体注入面，这里只防御不可见字符破坏排版。
func sanitizeText(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

// parseHexColor 解析 #rgb 或 #rrggbb，非法输入回退为黑色。
// 颜色格式的校验发生在保存阶段，这里只兜底。
func parseHexColor(s string) color.Color {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	hex := func(c byte) (uint8, bool) {
		switch {
		case c >= '0' && c <= '9':
			return c - '0', true
		case c >= 'a' && c <= 'f':
			return c - 'a' + 10, true
		case c >= 'A' && c <= 'F':
			return c - 'A' + 10, true
		}
		return 0, false
	}

	switch len(s) {
	case 3:
		var out [3]uint8
		for i := 0; i < 3; i++ {
			v, ok := hex(s[i])
			if !ok {
				return color.Black
			}
			out[i] = v*16 + v
		}
		return color.NRGBA{R: out[0], G: out[1], B: out[2], A: 255}
	case 6:
		var out [3]uint8
		for i := 0; i < 3; i++ {
			hi, ok1 := hex(s[2*i])
			lo, ok2 := hex(s[2*i+1])
			if !ok1 || !ok2 {
				return color.Black
			}
			out[i] = hi*16 + lo
		}
		return color.NRGBA{R: out[0], G: out[1], B: out[2], A: 255}
	}
	return color.Black
}
