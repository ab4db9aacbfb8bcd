package render

import (
	"testing"

	"golang.org/x/image/font/basicfont"

	"postermaker/internal/layout"
)

func TestFaceFallsBackWithoutFontFiles(t *testing.T) {
	fonts := NewFonts(t.TempDir(), "notosanssc")

	face := fonts.Face(layout.TextStyle{FontFamily: "Inter", Weight: "bold", Size: 48})
	if face != basicfont.Face7x13 {
		t.Fatalf("expected builtin fallback face, got %T", face)
	}
}

func TestFaceCachesPerStyle(t *testing.T) {
	fonts := NewFonts(t.TempDir(), "notosanssc")

	a := fonts.Face(layout.TextStyle{Size: 24})
	b := fonts.Face(layout.TextStyle{Size: 24})
	if a != b {
		t.Fatal("expected cached face for identical style")
	}
}

func TestCandidateFiles(t *testing.T) {
	got := candidateFiles("Noto Sans SC", "bold", "inter")
	want := []string{"notosanssc-bold.ttf", "notosanssc.ttf", "notosanssc-regular.ttf", "inter.ttf", "inter-regular.ttf"}
	if len(got) != len(want) {
		t.Fatalf("candidate list mismatch: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("candidate %d = %q, want %q", i, got[i], want[i])
		}
	}

	// 默认字体族与请求族相同则不重复。
	got = candidateFiles("inter", "regular", "inter")
	for _, name := range got {
		if name == "inter.ttf" {
			return
		}
	}
	t.Fatalf("expected inter.ttf candidate, got %v", got)
}

func TestNormalizeWeight(t *testing.T) {
	cases := map[string]string{
		"Bold": "bold", "700": "bold",
		"medium": "medium", "500": "medium",
		"LIGHT": "light", "300": "light",
		"": "regular", "regular": "regular", "black": "regular",
	}
	for in, want := range cases {
		if got := normalizeWeight(in); got != want {
			t.Errorf("normalizeWeight(%q) = %q, want %q", in, got, want)
		}
	}
}
