package model

import (
	"errors"
	"testing"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input string
		want  Format
	}{
		{"png", FormatPNG},
		{"PNG", FormatPNG},
		{"webp", FormatWebP},
		{"jpg", FormatJPEG},
		{"jpeg", FormatJPEG},
		{"gif", FormatJPEG},
		{"", FormatJPEG},
		{"tiff", FormatJPEG},
	}
	for _, tt := range tests {
		if got := ParseFormat(tt.input); got != tt.want {
			t.Errorf("ParseFormat(%q): ожидалось %q, получено %q", tt.input, tt.want, got)
		}
	}
}

func TestFormat_ExtAndContentType(t *testing.T) {
	if FormatJPEG.Ext() != "jpg" || FormatJPEG.ContentType() != "image/jpeg" {
		t.Errorf("jpeg: получено %q/%q", FormatJPEG.Ext(), FormatJPEG.ContentType())
	}
	if FormatPNG.Ext() != "png" || FormatPNG.ContentType() != "image/png" {
		t.Errorf("png: получено %q/%q", FormatPNG.Ext(), FormatPNG.ContentType())
	}
	if FormatWebP.Ext() != "webp" || FormatWebP.ContentType() != "image/webp" {
		t.Errorf("webp: получено %q/%q", FormatWebP.Ext(), FormatWebP.ContentType())
	}
	if ContentTypeByExt(".GIF") != "image/gif" {
		t.Errorf("ContentTypeByExt(.GIF): получено %q", ContentTypeByExt(".GIF"))
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		quality int
		want    int
	}{
		{0, 1}, {-10, 1}, {1, 1}, {85, 85}, {100, 100}, {150, 100},
	}
	for _, tt := range tests {
		got := TransformSpec{Quality: tt.quality, Format: "bogus"}.Normalize()
		if got.Quality != tt.want {
			t.Errorf("Quality %d: ожидалось %d, получено %d", tt.quality, tt.want, got.Quality)
		}
		if got.Format != FormatJPEG {
			t.Errorf("Format: ожидалось jpeg, получено %q", got.Format)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    TransformSpec
		wantErr bool
	}{
		{"без размеров", TransformSpec{}, false},
		{"в пределах", TransformSpec{Width: 5000, Height: 1}, false},
		{"ширина больше максимума", TransformSpec{Width: 5001}, true},
		{"отрицательная высота", TransformSpec{Height: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate(5000)
			if tt.wantErr && !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("ожидалась ErrInvalidParameter, получено %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("неожиданная ошибка: %v", err)
			}
		})
	}
}

func TestEffective(t *testing.T) {
	tests := []struct {
		name string
		spec TransformSpec
		want TransformSpec
	}{
		{
			"без upscale размеры ограничиваются источником",
			TransformSpec{Width: 3000, Height: 3000, Quality: 85, Format: FormatJPEG},
			TransformSpec{Width: 1000, Height: 800, Quality: 85, Format: FormatJPEG},
		},
		{
			"без upscale меньший размер не меняется",
			TransformSpec{Width: 500, Quality: 85, Format: FormatJPEG},
			TransformSpec{Width: 500, Quality: 85, Format: FormatJPEG},
		},
		{
			"upscale с увеличением сохраняется",
			TransformSpec{Width: 2000, Upscale: true, Quality: 85, Format: FormatJPEG},
			TransformSpec{Width: 2000, Upscale: true, Quality: 85, Format: FormatJPEG},
		},
		{
			"upscale без увеличения сбрасывается",
			TransformSpec{Width: 200, Height: 100, Upscale: true, Quality: 85, Format: FormatJPEG},
			TransformSpec{Width: 200, Height: 100, Quality: 85, Format: FormatJPEG},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.spec.Effective(1000, 800)
			if got != tt.want {
				t.Errorf("ожидалось %s, получено %s", tt.want, got)
			}
		})
	}
}

// Запросы, различающиеся только размером сверх источника, после Effective
// совпадают.
func TestEffective_OversizeRequestsCollapse(t *testing.T) {
	a := TransformSpec{Width: 1200, Quality: 85, Format: FormatJPEG}.Effective(1000, 800)
	b := TransformSpec{Width: 3000, Quality: 85, Format: FormatJPEG}.Effective(1000, 800)
	if a != b {
		t.Errorf("ожидалось совпадение, получено %s и %s", a, b)
	}
}
