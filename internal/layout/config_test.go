package layout

import (
	"encoding/json"
	"testing"
)

func TestElementsFlatDecoding(t *testing.T) {
	raw := []byte(`{"qrEnabled": true, "qrSize": 300, "eventText": "欢迎参加", "slots": 3}`)

	var e Elements
	if err := json.Unmarshal(raw, &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !e.QREnabled || e.QRSize != 300 {
		t.Fatalf("reserved keys not decoded: %+v", e)
	}
	if e.StaticText("eventText") != "欢迎参加" {
		t.Fatalf("static text lost: %+v", e.Static)
	}
	// 历史数据里的数字型静态值按字符串保留。
	if e.StaticText("slots") != "3" {
		t.Fatalf("numeric static value mishandled: %q", e.StaticText("slots"))
	}

	// 重新编码后保留扁平形态与保留键。
	encoded, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var round map[string]any
	if err := json.Unmarshal(encoded, &round); err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	if round["qrEnabled"] != true {
		t.Fatalf("qrEnabled dropped: %v", round)
	}
	if round["eventText"] != "欢迎参加" {
		t.Fatalf("static text dropped: %v", round)
	}
}

func TestEffectiveQRSizeDefault(t *testing.T) {
	if got := (Elements{}).EffectiveQRSize(); got != DefaultQRSize {
		t.Fatalf("expected default %g, got %g", DefaultQRSize, got)
	}
	if got := (Elements{QRSize: 180}).EffectiveQRSize(); got != 180 {
		t.Fatalf("expected configured size, got %g", got)
	}
}

func TestMergedOverDefaults(t *testing.T) {
	got := TextStyle{}.MergedOverDefaults("NotoSansSC")
	if got.Size != 24 || got.Color != "#000000" || got.Align != AlignCenter || got.FontFamily != "NotoSansSC" {
		t.Fatalf("unexpected merged style: %+v", got)
	}

	// 已设置的值保持不变。
	styled := TextStyle{Size: 48, Color: "#ff0000", Align: AlignLeft, FontFamily: "Inter"}
	if got := styled.MergedOverDefaults("NotoSansSC"); got != styled {
		t.Fatalf("explicit style overwritten: %+v", got)
	}
}
