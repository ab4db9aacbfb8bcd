package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"postermaker/internal/database"
	"postermaker/internal/layout"
	"postermaker/internal/render"
)

// PreviewHandler 负责编辑器的实时预览通道。
// 每个连接持有一个渲染会话：客户端推取值，服务端推 PNG 帧。
type PreviewHandler struct {
	db            *gorm.DB
	fetcher       *render.Fetcher
	fonts         *render.Fonts
	logger        *slog.Logger
	publicBaseURL string
	debounce      time.Duration
	upgrader      websocket.Upgrader
}

func NewPreviewHandler(
	db *gorm.DB,
	fetcher *render.Fetcher,
	fonts *render.Fonts,
	logger *slog.Logger,
	publicBaseURL string,
	allowedOrigins []string,
	debounce time.Duration,
) *PreviewHandler {
	if debounce <= 0 {
		debounce = render.DefaultPreviewDebounce
	}
	h := &PreviewHandler{
		db:            db,
		fetcher:       fetcher,
		fonts:         fonts,
		logger:        logger,
		publicBaseURL: publicBaseURL,
		debounce:      debounce,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if len(allowedOrigins) == 0 {
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			}
			for _, allowed := range allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}
	return h
}

// previewValuesMessage 是客户端推送的取值更新。
type previewValuesMessage struct {
	Type   string            `json:"type"`
	Fields map[string]string `json:"fields"`
	Photo  string            `json:"photoUrl"`
	Role   string            `json:"role"`

	// Viewport 只在首条消息里有意义，决定预览的缩放因子。
	ViewportWidth  int `json:"viewportWidth"`
	ViewportHeight int `json:"viewportHeight"`
}

// HandleConnection 升级连接并驱动预览会话。
// 读循环把取值送进会话的去抖队列，写循环把帧推给客户端；
// 任一侧出错即关闭会话，未消费的帧随会话丢弃。
func (h *PreviewHandler) HandleConnection(c *gin.Context) {
	event, ok := h.eventForPreview(c)
	if !ok {
		return
	}

	cfg, err := decodeConfig(event.LayoutConfig)
	if err != nil {
		Internal(c, "failed to decode event config")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("upgrade preview websocket", slog.Any("error", err))
		return
	}
	defer conn.Close()

	log := h.logger.With(
		slog.Uint64("event_id", uint64(event.ID)),
		slog.String("client_ip", c.ClientIP()),
	)

	// 首条消息必须带视口尺寸，决定整个会话的缩放因子。
	var first previewValuesMessage
	if err := conn.ReadJSON(&first); err != nil {
		writeClose(conn, websocket.ClosePolicyViolation, "viewport message required")
		return
	}
	if first.ViewportWidth <= 0 || first.ViewportHeight <= 0 {
		writeClose(conn, websocket.ClosePolicyViolation, "invalid viewport")
		return
	}

	publicURL := fmt.Sprintf("%s/p/%s", h.publicBaseURL, event.Slug)
	session := render.NewSession(cfg, publicURL, first.ViewportWidth, first.ViewportHeight,
		h.fetcher, h.fonts, log, h.debounce)
	defer session.Close()

	log.Info("preview session started", slog.Float64("scale", session.Scale()))

	session.Update(valuesFromMessage(first))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg previewValuesMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			session.Update(valuesFromMessage(msg))
		}
	}()

	for {
		select {
		case <-done:
			return
		case frame, ok := <-session.Frames():
			if !ok {
				return
			}
			if frame.Err != nil {
				payload, _ := json.Marshal(gin.H{"type": "error", "error": frame.Err.Error()})
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, frame.PNG); err != nil {
				return
			}
		}
	}
}

func valuesFromMessage(msg previewValuesMessage) layout.Values {
	return layout.Values{
		Fields:   msg.Fields,
		PhotoURL: msg.Photo,
		Role:     msg.Role,
	}
}

func writeClose(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(5 * time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}

func (h *PreviewHandler) eventForPreview(c *gin.Context) (database.Event, bool) {
	return loadOwnedEvent(c, h.db)
}
