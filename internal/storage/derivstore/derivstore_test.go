package derivstore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/bigkaa/goartstore/image-server/internal/domain/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания Store: %v", err)
	}
	return s
}

func TestLookup_Miss(t *testing.T) {
	s := newTestStore(t)

	data, ok, err := s.Lookup("a/a_b_w10_hx_crop0_q85.jpg")
	if err != nil || ok || data != nil {
		t.Errorf("ожидался промах, получено ok=%t err=%v", ok, err)
	}
}

func TestPublishAndLookup(t *testing.T) {
	s := newTestStore(t)
	payload := []byte("derived-bytes")

	if err := s.Publish("a/b/a_b_c_w10_hx_crop0_q85.jpg", payload); err != nil {
		t.Fatalf("ошибка публикации: %v", err)
	}

	data, ok, err := s.Lookup("a/b/a_b_c_w10_hx_crop0_q85.jpg")
	if err != nil || !ok {
		t.Fatalf("ожидалось попадание, получено ok=%t err=%v", ok, err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("ожидалось %q, получено %q", payload, data)
	}

	// Временных файлов не остаётся
	entries, _ := os.ReadDir(filepath.Join(s.Root(), "a", "b"))
	for _, e := range entries {
		if IsTemp(e.Name()) {
			t.Errorf("остался временный файл %s", e.Name())
		}
	}
}

func TestPublish_Overwrite(t *testing.T) {
	s := newTestStore(t)
	key := "k_w1_hx_crop0_q85.jpg"

	if err := s.Publish(key, []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := s.Publish(key, []byte("two")); err != nil {
		t.Fatal(err)
	}
	data, _, _ := s.Lookup(key)
	if string(data) != "two" {
		t.Errorf("ожидалось 'two', получено %q", data)
	}
}

func TestPublish_Traversal(t *testing.T) {
	s := newTestStore(t)

	if err := s.Publish("../escape.jpg", []byte("x")); !errors.Is(err, model.ErrInvalidPath) {
		t.Errorf("ожидалась ErrInvalidPath, получено %v", err)
	}
}

func TestPublish_BlockedDirectory(t *testing.T) {
	s := newTestStore(t)
	// Файл на месте каталога: публикация невозможна, temp не остаётся
	if err := os.WriteFile(filepath.Join(s.Root(), "a"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := s.Publish("a/k_w1_hx_crop0_q85.jpg", []byte("data"))
	if !errors.Is(err, model.ErrStorageIO) {
		t.Errorf("ожидалась ErrStorageIO, получено %v", err)
	}
}

func TestPurgeByPrefix(t *testing.T) {
	s := newTestStore(t)
	keys := []string{
		"a/a_b_w10_hx_crop0_q85.jpg",
		"a/a_b_wx_h20_crop1_q70.webp",
		"a/a_bc_w10_hx_crop0_q85.jpg", // другой оригинал с общим началом имени
		"a/a_c_w10_hx_crop0_q85.jpg",
	}
	for _, k := range keys {
		if err := s.Publish(k, []byte(k)); err != nil {
			t.Fatal(err)
		}
	}

	res, err := s.PurgeByPrefix("a/b.jpg")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	sort.Strings(res.Removed)
	want := []string{"a/a_b_w10_hx_crop0_q85.jpg", "a/a_b_wx_h20_crop1_q70.webp"}
	if len(res.Removed) != 2 || res.Removed[0] != want[0] || res.Removed[1] != want[1] {
		t.Errorf("ожидалось удаление %v, получено %v", want, res.Removed)
	}
	if res.Failed != 0 {
		t.Errorf("ожидалось 0 ошибок, получено %d", res.Failed)
	}

	for _, k := range keys[2:] {
		if _, ok, _ := s.Lookup(k); !ok {
			t.Errorf("запись %s не должна быть удалена", k)
		}
	}
}

func TestPurgeByPrefix_MissingDirectory(t *testing.T) {
	s := newTestStore(t)

	res, err := s.PurgeByPrefix("nope/x.jpg")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(res.Removed) != 0 || res.Failed != 0 {
		t.Errorf("ожидался пустой результат, получено %+v", res)
	}
}

func TestIsTemp(t *testing.T) {
	if !IsTemp(".a_w1_hx_crop0_q85.jpg.123456.tmp") {
		t.Error("ожидалось true для временного файла")
	}
	if IsTemp("a_w1_hx_crop0_q85.jpg") {
		t.Error("ожидалось false для записи кэша")
	}
}
