package api

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"postermaker/internal/database"
)

// adminIDFromContext 读取鉴权中间件注入的管理员 ID。
func adminIDFromContext(c *gin.Context) (uint, bool) {
	value, ok := c.Get("adminID")
	if !ok {
		return 0, false
	}
	id, ok := value.(uint)
	return id, ok
}

// loadOwnedEvent 按路径参数加载活动并校验归属。
// 出错时已写好响应，调用方直接返回即可。
func loadOwnedEvent(c *gin.Context, db *gorm.DB) (database.Event, bool) {
	adminID, ok := adminIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return database.Event{}, false
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		BadRequest(c, "invalid event id")
		return database.Event{}, false
	}

	var event database.Event
	if err := db.WithContext(c.Request.Context()).First(&event, uint(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "event not found")
		} else {
			Internal(c, "failed to query event")
		}
		return database.Event{}, false
	}
	if event.AdminID != adminID {
		Forbidden(c, "access denied")
		return database.Event{}, false
	}
	return event, true
}
