package render

import (
	"image"
	"image/color"
	"testing"

	"postermaker/internal/layout"
)

func solidImage(w, h int, c color.NRGBA) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func testLayers() []layout.Layer {
	return []layout.Layer{
		{
			Kind:     layout.LayerBackground,
			ImageURL: "mem://bg",
			Width:    layout.CanvasWidth,
			Height:   layout.CanvasHeight,
		},
		{
			Kind:  layout.LayerText,
			Key:   "name",
			Text:  "张三",
			Style: layout.TextStyle{Size: 48, Color: "#ffffff", Align: layout.AlignCenter},
			X:     540, Y: 860,
		},
	}
}

func testImages() ImageSet {
	return ImageSet{"mem://bg": solidImage(108, 192, color.NRGBA{R: 30, G: 60, B: 120, A: 255})}
}

func TestRasterizeCanvasDimensions(t *testing.T) {
	fonts := NewFonts(t.TempDir(), "missing")

	img, err := Rasterize(testLayers(), 1.0, testImages(), fonts)
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 1080 || b.Dy() != 1920 {
		t.Fatalf("unexpected full-size canvas %dx%d", b.Dx(), b.Dy())
	}

	// 预览路径：同一图层列表在 0.5 缩放下得到等比的画布。
	img, err = Rasterize(testLayers(), 0.5, testImages(), fonts)
	if err != nil {
		t.Fatalf("rasterize scaled: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 540 || b.Dy() != 960 {
		t.Fatalf("unexpected preview canvas %dx%d", b.Dx(), b.Dy())
	}
}

func TestRasterizeRejectsNonPositiveScale(t *testing.T) {
	fonts := NewFonts(t.TempDir(), "missing")
	if _, err := Rasterize(testLayers(), 0, testImages(), fonts); err == nil {
		t.Fatal("expected error for zero scale")
	}
}

func TestRasterizeMissingBackgroundIsFatal(t *testing.T) {
	fonts := NewFonts(t.TempDir(), "missing")

	_, err := Rasterize(testLayers(), 1.0, ImageSet{}, fonts)
	if err == nil {
		t.Fatal("expected asset fetch error")
	}
	if _, ok := err.(*layout.AssetFetchError); !ok {
		t.Fatalf("expected AssetFetchError, got %T", err)
	}
}

func TestRasterizeSkipsMissingOptionalImages(t *testing.T) {
	fonts := NewFonts(t.TempDir(), "missing")
	layers := append(testLayers(),
		layout.Layer{Kind: layout.LayerPhoto, ImageURL: "mem://photo", X: 540, Y: 480, Width: 300, Height: 300, Radius: 150, Shape: layout.ShapeCircle},
		layout.Layer{Kind: layout.LayerSponsor, Key: "acme", ImageURL: "mem://acme", X: 480, Y: 1740, Width: 120, Height: 120},
	)

	// 照片与赞助商素材缺失时直接跳过，不中断合成。
	if _, err := Rasterize(layers, 1.0, testImages(), fonts); err != nil {
		t.Fatalf("rasterize with missing optional images: %v", err)
	}
}

func TestParseHexColor(t *testing.T) {
	cases := []struct {
		in   string
		want color.Color
	}{
		{"#ffffff", color.NRGBA{R: 255, G: 255, B: 255, A: 255}},
		{"#1E3C78", color.NRGBA{R: 0x1e, G: 0x3c, B: 0x78, A: 255}},
		{"#abc", color.NRGBA{R: 0xaa, G: 0xbb, B: 0xcc, A: 255}},
		{" #000000 ", color.NRGBA{R: 0, G: 0, B: 0, A: 255}},
		{"nonsense", color.Black},
		{"#12345", color.Black},
		{"", color.Black},
	}
	for _, c := range cases {
		if got := parseHexColor(c.in); got != c.want {
			t.Errorf("parseHexColor(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestSanitizeText(t *testing.T) {
	if got := sanitizeText("张三\n\tAcme\x7f"); got != "张三Acme" {
		t.Fatalf("unexpected sanitized text %q", got)
	}
	if got := sanitizeText("plain"); got != "plain" {
		t.Fatalf("plain text altered: %q", got)
	}
}
