package render

import (
	"bytes"
	"context"
	"image/color"
	"image/png"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"postermaker/internal/layout"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, solidImage(w, h, color.NRGBA{R: 10, G: 20, B: 30, A: 255})); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func assetServer(t *testing.T) *httptest.Server {
	t.Helper()
	bg := pngBytes(t, 108, 192)
	mark := pngBytes(t, 12, 12)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bg.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(bg)
		case "/mark.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(mark)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestCompositor() *Compositor {
	logger := slog.New(slog.DiscardHandler)
	return NewCompositor(NewFetcher(2*time.Second), NewFonts("", ""), logger)
}

func TestRenderProducesPNG(t *testing.T) {
	server := assetServer(t)
	c := newTestCompositor()

	layers := []layout.Layer{
		{Kind: layout.LayerBackground, ImageURL: server.URL + "/bg.png", Width: layout.CanvasWidth, Height: layout.CanvasHeight},
		{Kind: layout.LayerText, Key: "name", Text: "张三", Style: layout.TextStyle{Size: 48, Color: "#ffffff"}, X: 540, Y: 860},
	}

	data, missing, err := c.Render(context.Background(), layers)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("unexpected missing keys %v", missing)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 1080 || b.Dy() != 1920 {
		t.Fatalf("unexpected output size %dx%d", b.Dx(), b.Dy())
	}
}

func TestRenderDegradesOnOptionalAssetFailure(t *testing.T) {
	server := assetServer(t)
	c := newTestCompositor()

	layers := []layout.Layer{
		{Kind: layout.LayerBackground, ImageURL: server.URL + "/bg.png", Width: layout.CanvasWidth, Height: layout.CanvasHeight},
		{Kind: layout.LayerPhoto, Key: "photo", ImageURL: server.URL + "/gone.png", X: 540, Y: 480, Width: 300, Height: 300, Radius: 150, Shape: layout.ShapeCircle},
		{Kind: layout.LayerSponsor, Key: "acme", ImageURL: server.URL + "/mark.png", X: 480, Y: 1740, Width: 120, Height: 120},
	}

	data, missing, err := c.Render(context.Background(), layers)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected poster bytes despite missing photo")
	}
	if len(missing) != 1 || missing[0] != "photo" {
		t.Fatalf("expected missing keys [photo], got %v", missing)
	}
}

func TestRenderFailsWhenBackgroundUnavailable(t *testing.T) {
	server := assetServer(t)
	c := newTestCompositor()

	layers := []layout.Layer{
		{Kind: layout.LayerBackground, ImageURL: server.URL + "/gone.png", Width: layout.CanvasWidth, Height: layout.CanvasHeight},
	}

	_, _, err := c.Render(context.Background(), layers)
	if err == nil {
		t.Fatal("expected error for missing background")
	}
	if _, ok := err.(*layout.AssetFetchError); !ok {
		t.Fatalf("expected AssetFetchError, got %T: %v", err, err)
	}
}
