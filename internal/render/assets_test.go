package render

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newAssetCountServer(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	img := pngBytes(t, 8, 8)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(img)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestFetcherMemoizesByURL(t *testing.T) {
	var hits atomic.Int64
	server := newAssetCountServer(t, &hits)
	f := NewFetcher(2 * time.Second)

	for i := 0; i < 3; i++ {
		if _, err := f.Fetch(context.Background(), server.URL+"/bg.png"); err != nil {
			t.Fatalf("fetch: %v", err)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("server hits = %d, want 1", got)
	}
}

func TestFetcherCacheIsBounded(t *testing.T) {
	var hits atomic.Int64
	server := newAssetCountServer(t, &hits)
	f := NewFetcher(2 * time.Second)

	// 模拟长驻 worker：每次提交的照片 URL 都不同。
	total := maxCachedAssets + 10
	for i := 0; i < total; i++ {
		url := fmt.Sprintf("%s/photo-%d.png", server.URL, i)
		if _, err := f.Fetch(context.Background(), url); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}

	f.mu.Lock()
	size := len(f.cache)
	order := len(f.order)
	f.mu.Unlock()
	if size != maxCachedAssets {
		t.Fatalf("cache size = %d, want %d", size, maxCachedAssets)
	}
	if order != size {
		t.Fatalf("order length %d out of sync with cache size %d", order, size)
	}

	// 最早的条目已被淘汰，再次抓取需要回源。
	before := hits.Load()
	if _, err := f.Fetch(context.Background(), server.URL+"/photo-0.png"); err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if hits.Load() != before+1 {
		t.Fatal("expected evicted url to hit the server again")
	}
}

func TestFetcherTouchKeepsHotEntry(t *testing.T) {
	var hits atomic.Int64
	server := newAssetCountServer(t, &hits)
	f := NewFetcher(2 * time.Second)

	hot := server.URL + "/bg.png"
	if _, err := f.Fetch(context.Background(), hot); err != nil {
		t.Fatalf("fetch hot: %v", err)
	}

	// 持续命中的条目不应被一次性 URL 挤出缓存。
	for i := 0; i < maxCachedAssets*2; i++ {
		url := fmt.Sprintf("%s/photo-%d.png", server.URL, i)
		if _, err := f.Fetch(context.Background(), url); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		if _, err := f.Fetch(context.Background(), hot); err != nil {
			t.Fatalf("refresh hot: %v", err)
		}
	}

	before := hits.Load()
	if _, err := f.Fetch(context.Background(), hot); err != nil {
		t.Fatalf("final hot fetch: %v", err)
	}
	if hits.Load() != before {
		t.Fatal("hot entry should still be cached")
	}
}
