package render

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"

	"postermaker/internal/layout"
)

// Fonts 按 (字体族, 字重, 字号) 缓存已构建的字体 Face。
// 字体文件从一个目录加载，命名约定 <family>-<weight>.ttf，
// 省略字重时回退到 <family>.ttf，再回退到全局默认字体族。
type Fonts struct {
	dir           string
	defaultFamily string

	mu     sync.Mutex
	parsed map[string]*opentype.Font
	faces  map[faceKey]font.Face
}

type faceKey struct {
	family string
	weight string
	size   float64
}

// NewFonts 构造字体仓库。dir 不存在时所有查找都会走兜底字体。
func NewFonts(dir, defaultFamily string) *Fonts {
	return &Fonts{
		dir:           dir,
		defaultFamily: defaultFamily,
		parsed:        map[string]*opentype.Font{},
		faces:         map[faceKey]font.Face{},
	}
}

// Face 返回样式对应的字体 Face。任何加载失败都回退到内置
// 位图字体，渲染绝不因字体缺失而中断。注意兜底字体是固定
// 字号的，不随 Style.Size 缩放：走兜底时预览与高清输出的
// 文字几何不再等比，部署环境必须提供字体目录才能保证一致性。
func (f *Fonts) Face(style layout.TextStyle) font.Face {
	family := strings.TrimSpace(style.FontFamily)
	if family == "" {
		family = f.defaultFamily
	}
	weight := normalizeWeight(style.Weight)
	size := style.Size
	if size <= 0 {
		size = layout.DefaultTextStyle.Size
	}

	key := faceKey{family: family, weight: weight, size: size}

	f.mu.Lock()
	defer f.mu.Unlock()

	if face, ok := f.faces[key]; ok {
		return face
	}

	face := f.buildFaceLocked(family, weight, size)
	f.faces[key] = face
	return face
}

func (f *Fonts) buildFaceLocked(family, weight string, size float64) font.Face {
	for _, name := range candidateFiles(family, weight, f.defaultFamily) {
		parsed, err := f.parseLocked(name)
		if err != nil {
			continue
		}
		face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
			Size:    size,
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err != nil {
			continue
		}
		return face
	}
	slog.Warn("no usable font file, falling back to fixed-size bitmap font",
		slog.String("family", family),
		slog.String("weight", weight),
		slog.String("fonts_dir", f.dir),
	)
	return basicfont.Face7x13
}

func (f *Fonts) parseLocked(name string) (*opentype.Font, error) {
	if parsed, ok := f.parsed[name]; ok {
		if parsed == nil {
			return nil, fmt.Errorf("font %q previously failed to load", name)
		}
		return parsed, nil
	}

	data, err := os.ReadFile(filepath.Join(f.dir, name))
	if err != nil {
		f.parsed[name] = nil
		return nil, err
	}
	parsed, err := opentype.Parse(data)
	if err != nil {
		f.parsed[name] = nil
		return nil, fmt.Errorf("parse font %q: %w", name, err)
	}
	f.parsed[name] = parsed
	return parsed, nil
}

func candidateFiles(family, weight, defaultFamily string) []string {
	base := fileSafe(family)
	out := []string{}
	if weight != "" && weight != "regular" {
		out = append(out, base+"-"+weight+".ttf")
	}
	out = append(out, base+".ttf", base+"-regular.ttf")
	if def := fileSafe(defaultFamily); def != "" && def != base {
		out = append(out, def+".ttf", def+"-regular.ttf")
	}
	return out
}

func fileSafe(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.ReplaceAll(name, " ", "")
}

func normalizeWeight(weight string) string {
	switch strings.ToLower(strings.TrimSpace(weight)) {
	case "bold", "700":
		return "bold"
	case "medium", "500":
		return "medium"
	case "light", "300":
		return "light"
	default:
		return "regular"
	}
}
