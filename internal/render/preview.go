package render

import (
	"bytes"
	"context"
	"image/png"
	"log/slog"
	"sync"
	"time"

	"postermaker/internal/layout"
	"postermaker/internal/metrics"
)

// DefaultPreviewDebounce 为预览重绘的合并窗口。
const DefaultPreviewDebounce = 100 * time.Millisecond

// Frame 为一次预览渲染的产物（PNG 字节或错误）。
type Frame struct {
	PNG []byte
	Err error
}

// Session 承载一个交互式预览会话。
//
// 运行期取值每次变更都会安排一次去抖后的重绘；窗口内的再次
// 变更只替换待渲染的取值（last-value-wins），从不排队。任意
// 时刻至多一次渲染在途。素材解码通过 Fetcher 按 URL 记忆化，
// 同一会话内不会重复抓取。
type Session struct {
	cfg       layout.Config
	publicURL string
	scale     float64
	fetcher   *Fetcher
	fonts     *Fonts
	logger    *slog.Logger
	debounce  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	frames chan Frame

	mu      sync.Mutex
	timer   *time.Timer
	pending layout.Values
	running bool
	dirty   bool
	closed  bool
}

// NewSession 构造预览会话。缩放因子取视口对画布的等比适配值，
// 超过 1 时钳为 1（预览从不放大超过基准分辨率）。
func NewSession(
	cfg layout.Config,
	publicURL string,
	viewportWidth, viewportHeight int,
	fetcher *Fetcher,
	fonts *Fonts,
	logger *slog.Logger,
	debounce time.Duration,
) *Session {
	scale := fitScale(viewportWidth, viewportHeight)
	if debounce <= 0 {
		debounce = DefaultPreviewDebounce
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:       cfg,
		publicURL: publicURL,
		scale:     scale,
		fetcher:   fetcher,
		fonts:     fonts,
		logger:    logger,
		debounce:  debounce,
		ctx:       ctx,
		cancel:    cancel,
		frames:    make(chan Frame, 1),
	}
}

func fitScale(w, h int) float64 {
	if w <= 0 || h <= 0 {
		return 1
	}
	sw := float64(w) / layout.CanvasWidth
	sh := float64(h) / layout.CanvasHeight
	s := sw
	if sh < s {
		s = sh
	}
	if s > 1 {
		s = 1
	}
	return s
}

// Frames 返回渲染帧通道。消费慢时旧帧被新帧顶掉。
func (s *Session) Frames() <-chan Frame {
	return s.frames
}

// Scale 返回会话使用的统一缩放因子。
func (s *Session) Scale() float64 {
	return s.scale
}

// Update 提交一组新的运行期取值并安排去抖后的重绘。
func (s *Session) Update(vals layout.Values) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.pending = vals
	if s.timer == nil {
		s.timer = time.AfterFunc(s.debounce, s.fire)
	}
}

// fire 在去抖窗口到期后触发渲染；渲染在途时只做标记。
func (s *Session) fire() {
	s.mu.Lock()
	s.timer = nil
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.running {
		s.dirty = true
		s.mu.Unlock()
		return
	}
	s.running = true
	vals := s.pending
	s.mu.Unlock()

	go s.render(vals)
}

func (s *Session) render(vals layout.Values) {
	start := time.Now()
	frame := s.renderFrame(vals)
	if frame.Err == nil {
		metrics.ObserveRenderDuration("preview", time.Since(start))
	}
	s.emit(frame)

	s.mu.Lock()
	s.running = false
	rerun := s.dirty && !s.closed
	s.dirty = false
	s.mu.Unlock()

	if rerun {
		s.fire()
	}
}

func (s *Session) renderFrame(vals layout.Values) Frame {
	layers, err := layout.Resolve(s.cfg, vals, s.publicURL)
	if err != nil {
		return Frame{Err: err}
	}

	images := ImageSet{}
	kept := layers[:0:0]
	for _, l := range layers {
		if l.ImageURL == "" {
			kept = append(kept, l)
			continue
		}
		img, err := s.fetcher.Fetch(s.ctx, l.ImageURL)
		if err != nil {
			if l.Kind == layout.LayerBackground {
				return Frame{Err: &layout.AssetFetchError{URL: l.ImageURL, Err: err}}
			}
			s.logger.Warn("preview asset skipped",
				slog.String("url", l.ImageURL),
				slog.Any("error", err),
			)
			continue
		}
		images[l.ImageURL] = img
		kept = append(kept, l)
	}

	img, err := Rasterize(kept, s.scale, images, s.fonts)
	if err != nil {
		return Frame{Err: err}
	}

	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		return Frame{Err: err}
	}
	return Frame{PNG: buf.Bytes()}
}

// emit 投递一帧，必要时先丢弃未被消费的旧帧。
func (s *Session) emit(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.frames <- f:
			return
		default:
			select {
			case <-s.frames:
			default:
			}
		}
	}
}

// Close 终止会话：取消在途抓取、停掉待触发的重绘并关闭帧通道。
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.cancel()
	close(s.frames)
}
