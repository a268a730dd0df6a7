package cachekey

import (
	"testing"

	"github.com/bigkaa/goartstore/image-server/internal/domain/model"
)

func spec(w, h int, crop bool, q int, f model.Format) model.TransformSpec {
	return model.TransformSpec{Width: w, Height: h, Crop: crop, Quality: q, Format: f}
}

func TestKey_Format(t *testing.T) {
	tests := []struct {
		path string
		spec model.TransformSpec
		want string
	}{
		{"a/b.jpg", spec(300, 0, false, 85, model.FormatJPEG), "a_b_w300_hx_crop0_q85.jpg"},
		{"photo.png", spec(0, 200, true, 70, model.FormatWebP), "photo_wx_h200_crop1_q70.webp"},
		{"x/y/z.jpeg", spec(0, 0, false, 100, model.FormatPNG), "x_y_z_wx_hx_crop0_q100.png"},
		{".hidden", spec(10, 10, false, 85, model.FormatJPEG), ".hidden_w10_h10_crop0_q85.jpg"},
		{"noext", spec(10, 0, false, 85, model.FormatJPEG), "noext_w10_hx_crop0_q85.jpg"},
		{"dir.v2/img", spec(10, 0, false, 85, model.FormatJPEG), "dir.v2_img_w10_hx_crop0_q85.jpg"},
	}
	for _, tt := range tests {
		if got := Key(tt.path, tt.spec); got != tt.want {
			t.Errorf("Key(%q): ожидалось %q, получено %q", tt.path, tt.want, got)
		}
	}
}

func TestKey_Upscale(t *testing.T) {
	s := spec(2000, 0, false, 85, model.FormatJPEG)
	s.Upscale = true
	if got := Key("a.jpg", s); got != "a_w2000_hx_crop0_q85_up1.jpg" {
		t.Errorf("получено %q", got)
	}
}

func TestKey_Pure(t *testing.T) {
	s := spec(300, 200, true, 80, model.FormatPNG)
	if Key("a/b.jpg", s) != Key("a/b.jpg", s) {
		t.Error("ключ должен быть детерминированным")
	}
}

// Любое отличие параметров меняет ключ.
func TestKey_SensitiveToEveryField(t *testing.T) {
	base := spec(300, 200, false, 80, model.FormatJPEG)
	variants := []model.TransformSpec{
		spec(301, 200, false, 80, model.FormatJPEG),
		spec(300, 201, false, 80, model.FormatJPEG),
		spec(300, 200, true, 80, model.FormatJPEG),
		spec(300, 200, false, 81, model.FormatJPEG),
		spec(300, 200, false, 80, model.FormatPNG),
		{Width: 300, Height: 200, Quality: 80, Format: model.FormatJPEG, Upscale: true},
	}
	baseKey := Key("a/b.jpg", base)
	for _, v := range variants {
		if Key("a/b.jpg", v) == baseKey {
			t.Errorf("ключ не изменился для %s", v)
		}
	}
	if Key("a/c.jpg", base) == baseKey {
		t.Error("ключ не изменился для другого пути")
	}
}

func TestRelPath(t *testing.T) {
	s := spec(300, 0, false, 85, model.FormatJPEG)
	if got := RelPath("a/b/c.jpg", s); got != "a/b/a_b_c_w300_hx_crop0_q85.jpg" {
		t.Errorf("получено %q", got)
	}
	if got := RelPath("c.jpg", s); got != "c_w300_hx_crop0_q85.jpg" {
		t.Errorf("получено %q", got)
	}
}

func TestMatches(t *testing.T) {
	prefix := Prefix("a/b.jpg")
	tests := []struct {
		name string
		want bool
	}{
		{"a_b_w300_hx_crop0_q85.jpg", true},
		{"a_b_wx_hx_crop1_q1.webp", true},
		{"a_bc_w300_hx_crop0_q85.jpg", false},
		{"a_b.jpg", false},
		{"xa_b_w300_hx_crop0_q85.jpg", false},
		{"a_b_w_hx_crop0_q85.jpg", false},
		{"a_b_w300.jpg", false},
	}
	for _, tt := range tests {
		if got := Matches(tt.name, prefix); got != tt.want {
			t.Errorf("Matches(%q, %q): ожидалось %t, получено %t", tt.name, prefix, tt.want, got)
		}
	}
}

// TestMatches_SiblingWithSeparatorInName — производные оригинала "a_w.jpg"
// не относятся к оригиналу "a.jpg" того же каталога.
func TestMatches_SiblingWithSeparatorInName(t *testing.T) {
	own := Key("a.jpg", spec(300, 0, false, 85, model.FormatJPEG))
	sibling := Key("a_w.jpg", spec(300, 0, false, 85, model.FormatJPEG))
	siblingDigits := Key("a_w5.jpg", spec(0, 200, false, 85, model.FormatJPEG))

	if !Matches(own, Prefix("a.jpg")) {
		t.Errorf("Matches(%q): ожидалось true", own)
	}
	for _, name := range []string{sibling, siblingDigits} {
		if Matches(name, Prefix("a.jpg")) {
			t.Errorf("Matches(%q, %q): производная соседнего оригинала", name, Prefix("a.jpg"))
		}
	}
	if !Matches(sibling, Prefix("a_w.jpg")) {
		t.Errorf("Matches(%q): ожидалось true для своего оригинала", sibling)
	}
}
