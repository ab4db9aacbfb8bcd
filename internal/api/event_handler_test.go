package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"postermaker/internal/database"
	"postermaker/internal/layout"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&database.Admin{}, &database.Event{}, &database.Lead{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedEvent(t *testing.T, db *gorm.DB, status string, cfg layout.Config) database.Event {
	t.Helper()
	encoded, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	event := database.Event{
		Title:        "Launch",
		Slug:         "launch",
		Status:       status,
		LayoutConfig: datatypes.JSON(encoded),
		AdminID:      1,
	}
	if err := db.Create(&event).Error; err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return event
}

func adminContext(t *testing.T, method, target string, body []byte, params gin.Params) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)

	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	c.Request = httptest.NewRequest(method, target, reader)
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = params
	c.Set("adminID", uint(1))
	return c, recorder
}

func validTestConfig() layout.Config {
	return layout.Config{
		BackgroundImageURL: "https://assets.example/bg.png",
		Coordinates: map[string]layout.Placement{
			"name": {X: 540, Y: 860},
		},
	}
}

func TestSaveConfigRejectsDuplicatePlaceholders(t *testing.T) {
	db := newTestDB(t)
	event := seedEvent(t, db, database.EventStatusDraft, validTestConfig())
	h := NewEventHandler(db, nil)

	body, _ := json.Marshal(gin.H{
		"elements": []gin.H{
			{"text": "{{company}}"},
			{"text": "{{company}}"},
		},
	})
	c, recorder := adminContext(t, http.MethodPut, "/v1/events/1/config", body,
		gin.Params{{Key: "id", Value: fmt.Sprint(event.ID)}})

	h.SaveConfig(c)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["field"] != "company" {
		t.Fatalf("expected field company, got %v", resp["field"])
	}

	// 配置必须保持原样。
	var stored database.Event
	if err := db.First(&stored, event.ID).Error; err != nil {
		t.Fatalf("reload event: %v", err)
	}
	if !bytes.Equal(stored.LayoutConfig, event.LayoutConfig) {
		t.Fatal("config must not change on rejected save")
	}
}

func TestSaveConfigRefusesRemovingStandardFields(t *testing.T) {
	db := newTestDB(t)
	event := seedEvent(t, db, database.EventStatusDraft, validTestConfig())
	h := NewEventHandler(db, nil)

	body, _ := json.Marshal(gin.H{"removeFields": []string{"name"}})
	c, recorder := adminContext(t, http.MethodPut, "/v1/events/1/config", body,
		gin.Params{{Key: "id", Value: fmt.Sprint(event.ID)}})

	h.SaveConfig(c)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var resp map[string]any
	_ = json.Unmarshal(recorder.Body.Bytes(), &resp)
	if resp["field"] != "name" {
		t.Fatalf("expected field name, got %v", resp["field"])
	}
}

func TestSaveConfigMergesPartialUpdate(t *testing.T) {
	db := newTestDB(t)
	cfg := validTestConfig()
	cfg.WatermarkURL = "https://assets.example/frame.png"
	event := seedEvent(t, db, database.EventStatusDraft, cfg)
	h := NewEventHandler(db, nil)

	// 只更新 coordinates 里的一个键，其余配置保持不变。
	body, _ := json.Marshal(gin.H{
		"coordinates": gin.H{"company": gin.H{"x": 540, "y": 940}},
	})
	c, recorder := adminContext(t, http.MethodPut, "/v1/events/1/config", body,
		gin.Params{{Key: "id", Value: fmt.Sprint(event.ID)}})

	h.SaveConfig(c)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var stored database.Event
	if err := db.First(&stored, event.ID).Error; err != nil {
		t.Fatalf("reload event: %v", err)
	}
	var merged layout.Config
	if err := json.Unmarshal(stored.LayoutConfig, &merged); err != nil {
		t.Fatalf("decode stored config: %v", err)
	}
	if merged.WatermarkURL != "https://assets.example/frame.png" {
		t.Fatal("untouched field lost during merge")
	}
	if _, ok := merged.Coordinates["name"]; !ok {
		t.Fatal("existing coordinate lost during merge")
	}
	if p, ok := merged.Coordinates["company"]; !ok || p.Y != 940 {
		t.Fatalf("patched coordinate missing: %+v", merged.Coordinates)
	}
}

func TestSaveConfigSeedsPlacementForNewFields(t *testing.T) {
	db := newTestDB(t)
	event := seedEvent(t, db, database.EventStatusDraft, validTestConfig())
	h := NewEventHandler(db, nil)

	body, _ := json.Marshal(gin.H{
		"elements": []gin.H{{"text": "{{slogan}}"}},
	})
	c, recorder := adminContext(t, http.MethodPut, "/v1/events/1/config", body,
		gin.Params{{Key: "id", Value: fmt.Sprint(event.ID)}})

	h.SaveConfig(c)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var stored database.Event
	_ = db.First(&stored, event.ID).Error
	var merged layout.Config
	_ = json.Unmarshal(stored.LayoutConfig, &merged)
	if _, ok := merged.Coordinates["slogan"]; !ok {
		t.Fatal("new field must get a default placement")
	}
	if _, ok := merged.Typography["slogan"]; !ok {
		t.Fatal("new field must get a default typography entry")
	}
}

func TestPublishRequiresValidConfig(t *testing.T) {
	db := newTestDB(t)
	event := seedEvent(t, db, database.EventStatusDraft, layout.Config{})
	h := NewEventHandler(db, nil)

	c, recorder := adminContext(t, http.MethodPost, "/v1/events/1/publish", nil,
		gin.Params{{Key: "id", Value: fmt.Sprint(event.ID)}})

	h.PublishEvent(c)

	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var stored database.Event
	_ = db.First(&stored, event.ID).Error
	if stored.Status != database.EventStatusDraft {
		t.Fatalf("event must stay draft, got %q", stored.Status)
	}
}

func TestPublishThenUnpublish(t *testing.T) {
	db := newTestDB(t)
	event := seedEvent(t, db, database.EventStatusDraft, validTestConfig())
	h := NewEventHandler(db, nil)

	c, recorder := adminContext(t, http.MethodPost, "/v1/events/1/publish", nil,
		gin.Params{{Key: "id", Value: fmt.Sprint(event.ID)}})
	h.PublishEvent(c)
	if recorder.Code != http.StatusOK {
		t.Fatalf("publish: expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var stored database.Event
	_ = db.First(&stored, event.ID).Error
	if stored.Status != database.EventStatusPublished {
		t.Fatalf("expected published, got %q", stored.Status)
	}

	c, recorder = adminContext(t, http.MethodPost, "/v1/events/1/unpublish", nil,
		gin.Params{{Key: "id", Value: fmt.Sprint(event.ID)}})
	h.UnpublishEvent(c)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unpublish: expected 200, got %d", recorder.Code)
	}
	_ = db.First(&stored, event.ID).Error
	if stored.Status != database.EventStatusDraft {
		t.Fatalf("expected draft, got %q", stored.Status)
	}
}

func TestOwnedEventDeniesOtherAdmin(t *testing.T) {
	db := newTestDB(t)
	event := seedEvent(t, db, database.EventStatusDraft, validTestConfig())
	h := NewEventHandler(db, nil)

	c, recorder := adminContext(t, http.MethodGet, "/v1/events/1", nil,
		gin.Params{{Key: "id", Value: fmt.Sprint(event.ID)}})
	c.Set("adminID", uint(2))

	h.GetEvent(c)

	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
}
