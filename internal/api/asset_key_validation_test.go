package api

import "testing"

func TestIsValidEventAssetObjectKey(t *testing.T) {
	valid := []string{
		"event-assets/7/bg.png",
		"event-assets/7/deep/mark.jpeg",
		"event-assets/7/frame.webp",
	}
	for _, key := range valid {
		if !isValidEventAssetObjectKey(7, key) {
			t.Errorf("expected %q valid", key)
		}
	}

	invalid := []string{
		"",
		"event-assets/8/bg.png",      // 其他活动
		"user-assets/7/bg.png",       // 错误前缀
		"event-assets/7/../8/bg.png", // 路径穿越
		"event-assets/7//bg.png",
		"event-assets/7/archive.zip",
		"event-assets/7/bg.png\\x",
	}
	for _, key := range invalid {
		if isValidEventAssetObjectKey(7, key) {
			t.Errorf("expected %q invalid", key)
		}
	}
}
