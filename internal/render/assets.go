package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/disintegration/imaging"
)

// 单个素材响应体的读取上限，防御异常大的远程文件。
const maxAssetBytes = 32 << 20

// retryBackoff 为抓取层唯一一次重试前的等待时间。
const retryBackoff = 300 * time.Millisecond

// 解码缓存的条目上限。长驻 worker 里每个 lead 照片的预签名 URL
// 都不相同，不设上限缓存会随提交量无限增长。
const maxCachedAssets = 64

// Fetcher 下载并解码远程栅格素材，按 URL 记忆化解码结果。
// 同一会话内重复引用的素材只抓取一次，超出上限按最久未用淘汰。
// 所有请求都受固定超时约束，第三方素材挂起不允许拖死渲染流程。
type Fetcher struct {
	client  *http.Client
	timeout time.Duration

	mu    sync.Mutex
	cache map[string]image.Image
	order []string // 最近使用的排在末尾
}

// NewFetcher 构造 Fetcher。timeout 为单次抓取的硬上限。
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fetcher{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		cache:   map[string]image.Image{},
	}
}

// Fetch 返回 URL 对应的解码图像。失败会在退避后重试一次，
// 仍失败则把错误交还调用方判定（必需素材致命、可选素材降级）。
func (f *Fetcher) Fetch(ctx context.Context, url string) (image.Image, error) {
	if img, ok := f.cacheGet(url); ok {
		return img, nil
	}

	img, err := f.fetchOnce(ctx, url)
	if err != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryBackoff):
		}
		img, err = f.fetchOnce(ctx, url)
	}
	if err != nil {
		return nil, err
	}

	f.cachePut(url, img)
	return img, nil
}

func (f *Fetcher) cacheGet(url string) (image.Image, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.cache[url]
	if ok {
		f.touchLocked(url)
	}
	return img, ok
}

func (f *Fetcher) cachePut(url string, img image.Image) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cache[url]; ok {
		f.touchLocked(url)
		return
	}
	if len(f.cache) >= maxCachedAssets {
		oldest := f.order[0]
		f.order = f.order[1:]
		delete(f.cache, oldest)
	}
	f.cache[url] = img
	f.order = append(f.order, url)
}

// touchLocked 把 url 挪到使用序列末尾。调用方必须持有 f.mu。
func (f *Fetcher) touchLocked(url string) {
	for i, u := range f.order {
		if u == url {
			copy(f.order[i:], f.order[i+1:])
			f.order[len(f.order)-1] = url
			return
		}
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build asset request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("asset status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes))
	if err != nil {
		return nil, fmt.Errorf("read asset body: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode asset: %w", err)
	}
	return img, nil
}
