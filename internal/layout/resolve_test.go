package layout

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func baseConfig() Config {
	return Config{
		BackgroundImageURL: "https://assets.example/bg.png",
		Coordinates: map[string]Placement{
			"name":        {X: 540, Y: 860},
			"company":     {X: 540, Y: 940},
			PhotoFieldKey: {X: 540, Y: 480, Radius: 150, Shape: ShapeCircle},
		},
		Typography: map[string]TextStyle{
			"name": {Size: 48, Color: "#ffffff", Align: AlignCenter},
		},
	}
}

func layerKinds(layers []Layer) []LayerKind {
	kinds := make([]LayerKind, len(layers))
	for i, l := range layers {
		kinds[i] = l.Kind
	}
	return kinds
}

func TestResolveLayerOrder(t *testing.T) {
	cfg := baseConfig()
	cfg.WatermarkURL = "https://assets.example/frame.png"
	cfg.Sponsors = []Sponsor{{Name: "acme", ImageURL: "https://assets.example/acme.png", Visible: true}}
	cfg.PosterElements.QREnabled = true

	vals := Values{
		Fields:   map[string]string{"name": "张三", "company": "Acme"},
		PhotoURL: "https://assets.example/photo.png",
	}

	layers, err := Resolve(cfg, vals, "https://example.com/p/launch")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	want := []LayerKind{LayerBackground, LayerPhoto, LayerWatermark, LayerSponsor, LayerText, LayerText, LayerQR}
	if got := layerKinds(layers); !reflect.DeepEqual(got, want) {
		t.Fatalf("layer order mismatch:\n got %v\nwant %v", got, want)
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	cfg := baseConfig()
	cfg.WatermarkURL = "https://assets.example/frame.png"
	cfg.PosterElements.QREnabled = true

	vals := Values{
		Fields:   map[string]string{"name": "张三", "company": "Acme"},
		PhotoURL: "https://assets.example/photo.png",
		Role:     "",
	}

	first, err := Resolve(cfg, vals, "https://example.com/p/launch")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := Resolve(cfg, vals, "https://example.com/p/launch")
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("identical inputs produced different layer lists:\n first %+v\nsecond %+v", first, second)
	}
}

func TestResolveOmitsPhotoWithoutUpload(t *testing.T) {
	cfg := baseConfig()
	vals := Values{Fields: map[string]string{"name": "张三", "company": "Acme"}}

	layers, err := Resolve(cfg, vals, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for _, l := range layers {
		if l.Kind == LayerPhoto {
			t.Fatal("photo layer must be omitted when no photo was uploaded")
		}
	}
}

func TestResolveTextFallbackChain(t *testing.T) {
	cfg := baseConfig()
	cfg.PosterElements = Elements{Static: map[string]string{"company": "默认公司"}}

	// 运行期没有 company 取值：回落到静态文案。
	layers, err := Resolve(cfg, Values{Fields: map[string]string{"name": "张三"}}, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var companyText string
	nameSeen := false
	for _, l := range layers {
		if l.Kind != LayerText {
			continue
		}
		switch l.Key {
		case "company":
			companyText = l.Text
		case "name":
			nameSeen = true
		}
	}
	if companyText != "默认公司" {
		t.Fatalf("expected static fallback, got %q", companyText)
	}
	if !nameSeen {
		t.Fatal("expected name layer present")
	}

	// 两边都没有值：图层整体省略。
	cfg.PosterElements = Elements{}
	layers, err = Resolve(cfg, Values{Fields: map[string]string{"name": "张三"}}, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for _, l := range layers {
		if l.Kind == LayerText && l.Key == "company" {
			t.Fatal("company layer must be omitted when no value exists anywhere")
		}
	}
}

func TestResolveRoleBackgroundOverride(t *testing.T) {
	cfg := baseConfig()
	cfg.Roles = []Role{
		{Label: "speaker", BackgroundImageURL: "https://assets.example/speaker-bg.png"},
		{Label: "attendee"},
	}

	layers, err := Resolve(cfg, Values{Role: "speaker"}, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if layers[0].ImageURL != "https://assets.example/speaker-bg.png" {
		t.Fatalf("expected role background, got %q", layers[0].ImageURL)
	}

	// 没有背景覆盖的角色沿用主背景。
	layers, err = Resolve(cfg, Values{Role: "attendee"}, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if layers[0].ImageURL != cfg.BackgroundImageURL {
		t.Fatalf("expected main background, got %q", layers[0].ImageURL)
	}
}

func TestResolveQRGeometry(t *testing.T) {
	cfg := baseConfig()
	cfg.PosterElements = Elements{QREnabled: true, QRSize: 300}

	layers, err := Resolve(cfg, Values{}, "https://example.com/p/launch")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	var qr *Layer
	for i := range layers {
		if layers[i].Kind == LayerQR {
			qr = &layers[i]
		}
	}
	if qr == nil {
		t.Fatal("expected qr layer")
	}
	if qr.X != 1080-40-300 || qr.Y != 1920-40-300 {
		t.Fatalf("unexpected qr position (%g, %g)", qr.X, qr.Y)
	}
	if qr.Width != 300 || qr.Height != 300 {
		t.Fatalf("unexpected qr size %gx%g", qr.Width, qr.Height)
	}
	if qr.QRPayload != "https://example.com/p/launch" {
		t.Fatalf("unexpected qr payload %q", qr.QRPayload)
	}
}

func TestResolveSponsorStripCentered(t *testing.T) {
	cfg := baseConfig()
	cfg.Sponsors = []Sponsor{
		{Name: "a", ImageURL: "https://assets.example/a.png", Visible: true},
		{Name: "hidden", ImageURL: "https://assets.example/h.png", Visible: false},
		{Name: "b", ImageURL: "https://assets.example/b.png", Visible: true},
	}

	layers, err := Resolve(cfg, Values{}, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	var marks []Layer
	for _, l := range layers {
		if l.Kind == LayerSponsor {
			marks = append(marks, l)
		}
	}
	if len(marks) != 2 {
		t.Fatalf("expected 2 visible sponsor marks, got %d", len(marks))
	}

	// 两个 120 宽的标记加 40 间距，总宽 280，水平居中。
	if marks[0].X != (1080-280)/2 {
		t.Fatalf("unexpected first mark x %g", marks[0].X)
	}
	if marks[1].X != marks[0].X+120+40 {
		t.Fatalf("unexpected second mark x %g", marks[1].X)
	}
	if marks[0].Y != 1920-60-120 {
		t.Fatalf("unexpected mark y %g", marks[0].Y)
	}
}

func TestResolveMissingBackgroundFails(t *testing.T) {
	cfg := baseConfig()
	cfg.BackgroundImageURL = ""

	_, err := Resolve(cfg, Values{}, "")
	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if confErr.Field != "backgroundImageUrl" {
		t.Fatalf("unexpected field %q", confErr.Field)
	}
}

func TestResolveAppliesTypographyDefaults(t *testing.T) {
	cfg := baseConfig()
	cfg.FontFamily = "NotoSansSC"

	layers, err := Resolve(cfg, Values{Fields: map[string]string{"company": "Acme"}}, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for _, l := range layers {
		if l.Kind != LayerText || l.Key != "company" {
			continue
		}
		if l.Style.Size != 24 || l.Style.Color != "#000000" || l.Style.Align != AlignCenter {
			t.Fatalf("expected documented defaults, got %+v", l.Style)
		}
		if l.Style.FontFamily != "NotoSansSC" {
			t.Fatalf("expected global font family, got %q", l.Style.FontFamily)
		}
		return
	}
	t.Fatal("company layer missing")
}

func TestScaleIsAffine(t *testing.T) {
	cfg := baseConfig()
	cfg.PosterElements = Elements{QREnabled: true}
	vals := Values{
		Fields:   map[string]string{"name": "张三"},
		PhotoURL: "https://assets.example/photo.png",
	}

	layers, err := Resolve(cfg, vals, "https://example.com/p/x")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	const s = 0.35
	scaled := Scale(layers, s)
	if len(scaled) != len(layers) {
		t.Fatalf("layer count changed: %d vs %d", len(scaled), len(layers))
	}
	for i := range layers {
		checks := []struct {
			name       string
			base, want float64
		}{
			{"x", layers[i].X, scaled[i].X},
			{"y", layers[i].Y, scaled[i].Y},
			{"width", layers[i].Width, scaled[i].Width},
			{"height", layers[i].Height, scaled[i].Height},
			{"radius", layers[i].Radius, scaled[i].Radius},
			{"cornerRadius", layers[i].CornerRadius, scaled[i].CornerRadius},
			{"size", layers[i].Style.Size, scaled[i].Style.Size},
		}
		for _, c := range checks {
			if math.Abs(c.base*s-c.want) > 1e-9 {
				t.Fatalf("layer %d %s not scaled: %g*%g != %g", i, c.name, c.base, s, c.want)
			}
		}
		// 非几何字段不受缩放影响。
		if scaled[i].Kind != layers[i].Kind || scaled[i].Text != layers[i].Text {
			t.Fatalf("layer %d content changed by scaling", i)
		}
	}

	// 原列表不被修改。
	if layers[0].Width != CanvasWidth {
		t.Fatal("scale must not mutate its input")
	}
}
