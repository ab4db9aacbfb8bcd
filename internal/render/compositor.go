package render

import (
	"bytes"
	"context"
	"image/png"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"postermaker/internal/layout"
	"postermaker/internal/metrics"
)

// Compositor 负责高分辨率合成：从权威存储的配置重建的图层列表
// 进来，无损 PNG 字节出去。每次调用相互独立、无共享可变状态，
// 相同输入幂等（最终上传的副作用由调用方承担）。
type Compositor struct {
	fetcher *Fetcher
	fonts   *Fonts
	logger  *slog.Logger
}

// NewCompositor 构造 Compositor。
func NewCompositor(fetcher *Fetcher, fonts *Fonts, logger *slog.Logger) *Compositor {
	return &Compositor{
		fetcher: fetcher,
		fonts:   fonts,
		logger:  logger,
	}
}

// Render 在画布目标分辨率合成最终海报。
//
// 所有远程素材并发抓取。必需素材（背景）失败返回
// AssetFetchError 并中止本次渲染；可选素材（照片、水印、赞助商）
// 失败仅记录日志并跳过该图层，对应字段键在第二个返回值里上报。
// ctx 取消会让抓取中途停下，不会留下半成品。
func (c *Compositor) Render(ctx context.Context, layers []layout.Layer) ([]byte, []string, error) {
	start := time.Now()

	images, missing, err := c.fetchAll(ctx, layers)
	if err != nil {
		return nil, nil, err
	}

	kept := layers[:0:0]
	for _, l := range layers {
		if l.ImageURL != "" && l.Kind != layout.LayerBackground {
			if _, ok := images[l.ImageURL]; !ok {
				continue
			}
		}
		kept = append(kept, l)
	}

	img, err := Rasterize(kept, 1.0, images, c.fonts)
	if err != nil {
		return nil, nil, err
	}

	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		return nil, nil, err
	}

	metrics.ObserveRenderDuration("composite", time.Since(start))
	return buf.Bytes(), missing, nil
}

func (c *Compositor) fetchAll(ctx context.Context, layers []layout.Layer) (ImageSet, []string, error) {
	type job struct {
		url      string
		key      string
		required bool
	}

	jobs := map[string]job{}
	for _, l := range layers {
		if l.ImageURL == "" {
			continue
		}
		j := job{url: l.ImageURL, key: l.Key}
		if l.Kind == layout.LayerBackground {
			j.required = true
			j.key = "background"
		} else if j.key == "" {
			j.key = string(l.Kind)
		}
		if prev, ok := jobs[l.ImageURL]; !ok || (!prev.required && j.required) {
			jobs[l.ImageURL] = j
		}
	}

	var (
		mu      sync.Mutex
		images  = ImageSet{}
		missing []string
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			img, err := c.fetcher.Fetch(gctx, j.url)
			if err != nil {
				if j.required {
					return &layout.AssetFetchError{URL: j.url, Err: err}
				}
				c.logger.Warn("optional asset skipped",
					slog.String("key", j.key),
					slog.String("url", j.url),
					slog.Any("error", err),
				)
				mu.Lock()
				missing = append(missing, j.key)
				mu.Unlock()
				return nil
			}
			mu.Lock()
			images[j.url] = img
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	sort.Strings(missing)
	return images, missing, nil
}
