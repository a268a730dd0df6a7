package filestore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/bigkaa/goartstore/image-server/internal/domain/model"
)

var defaultExts = []string{"jpg", "jpeg", "png", "gif", "webp", "bmp"}

func newTestStore(t *testing.T, maxSize int64) *FileStore {
	t.Helper()
	fs, err := New(t.TempDir(), maxSize, defaultExts)
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	return fs
}

// listFiles возвращает все файлы под корнем, включая временные.
func listFiles(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	return files
}

// TestNew_CreatesDirectory проверяет создание корня загрузок.
func TestNew_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")

	if _, err := New(dir, 1024, defaultExts); err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("директория не создана: %v", err)
	}
}

// TestPut_UppercaseExtension — сценарий photo.JPG в папку avatars.
func TestPut_UppercaseExtension(t *testing.T) {
	fs := newTestStore(t, 20*1024*1024)
	content := bytes.Repeat([]byte{0xAB}, 1024*1024)

	rel, err := fs.Put(bytes.NewReader(content), "photo.JPG", int64(len(content)), "avatars/")
	if err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}

	re := regexp.MustCompile(`^avatars/[0-9a-f-]{36}\.jpg$`)
	if !re.MatchString(rel) {
		t.Errorf("неожиданный путь: %s", rel)
	}

	data, err := os.ReadFile(filepath.Join(fs.Root(), filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("файл не найден: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Error("содержимое не совпадает")
	}
	if files := listFiles(t, fs.Root()); len(files) != 1 {
		t.Errorf("ожидался 1 файл, получено %d: %v", len(files), files)
	}
}

func TestPut_RootFolder(t *testing.T) {
	fs := newTestStore(t, 1024)

	for _, folder := range []string{"", "/", `\`, " "} {
		rel, err := fs.Put(strings.NewReader("data"), "a.png", 4, folder)
		if err != nil {
			t.Fatalf("folder %q: неожиданная ошибка: %v", folder, err)
		}
		if strings.Contains(rel, "/") {
			t.Errorf("folder %q: ожидался файл в корне, получено %s", folder, rel)
		}
	}
}

func TestPut_RandomNames(t *testing.T) {
	fs := newTestStore(t, 1024)

	a, err := fs.Put(strings.NewReader("one"), "same.jpg", 3, "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := fs.Put(strings.NewReader("two"), "same.jpg", 3, "")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Errorf("имена должны различаться: %s", a)
	}
}

// TestPut_PolicyRejectsWithoutWriting — нарушения политики не оставляют файлов.
func TestPut_PolicyRejectsWithoutWriting(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		size    int64
		content string
		folder  string
		wantErr error
	}{
		{"пустой файл", "a.jpg", 0, "", "", model.ErrEmptyPayload},
		{"объявленный размер больше лимита", "a.jpg", 101, "x", "", model.ErrPayloadTooLarge},
		{"фактический размер больше лимита", "a.jpg", SizeUnknown, strings.Repeat("x", 101), "", model.ErrPayloadTooLarge},
		{"фактически пустой", "a.jpg", SizeUnknown, "", "", model.ErrEmptyPayload},
		{"без расширения", "README", 4, "data", "", model.ErrUnsupportedMediaType},
		{"пустое имя", "", 4, "data", "", model.ErrUnsupportedMediaType},
		{"запрещённое расширение", "evil.exe", 4, "data", "", model.ErrUnsupportedMediaType},
		{"выход из корня", "a.jpg", 4, "data", "../outside", model.ErrInvalidPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newTestStore(t, 100)

			_, err := fs.Put(strings.NewReader(tt.content), tt.file, tt.size, tt.folder)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ожидалась %v, получено %v", tt.wantErr, err)
			}
			if files := listFiles(t, fs.Root()); len(files) != 0 {
				t.Errorf("ожидалось отсутствие файлов, найдено: %v", files)
			}
		})
	}
}

func TestPut_ExactLimit(t *testing.T) {
	fs := newTestStore(t, 100)

	if _, err := fs.Put(strings.NewReader(strings.Repeat("x", 100)), "a.gif", 100, ""); err != nil {
		t.Errorf("файл ровно по лимиту должен приниматься: %v", err)
	}
}

func TestReadAndDelete(t *testing.T) {
	fs := newTestStore(t, 1024)

	rel, err := fs.Put(strings.NewReader("image"), "a.webp", 5, "x/y")
	if err != nil {
		t.Fatal(err)
	}

	data, err := fs.Read(rel)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if string(data) != "image" {
		t.Errorf("ожидалось 'image', получено %q", data)
	}

	if err := fs.Delete(rel); err != nil {
		t.Fatalf("ошибка удаления: %v", err)
	}
	if _, ok, _ := fs.Exists(rel); ok {
		t.Error("файл должен быть удалён")
	}
	if err := fs.Delete(rel); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("повторное удаление: ожидалась ErrNotFound, получено %v", err)
	}
	if _, err := fs.Read(rel); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("чтение удалённого: ожидалась ErrNotFound, получено %v", err)
	}
}

func TestRead_DirectoryIsNotFound(t *testing.T) {
	fs := newTestStore(t, 1024)
	if err := os.MkdirAll(filepath.Join(fs.Root(), "dir"), 0o755); err != nil {
		t.Fatal(err)
	}

	if _, err := fs.Read("dir"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

func TestRead_Traversal(t *testing.T) {
	fs := newTestStore(t, 1024)

	if _, err := fs.Read("../../etc/passwd"); !errors.Is(err, model.ErrInvalidPath) {
		t.Errorf("ожидалась ErrInvalidPath, получено %v", err)
	}
}
