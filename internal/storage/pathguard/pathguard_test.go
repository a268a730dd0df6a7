package pathguard

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/bigkaa/goartstore/image-server/internal/domain/model"
)

func newTestGuard(t *testing.T) (*Guard, string) {
	t.Helper()
	root := t.TempDir()
	g, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g, g.Root()
}

func TestResolve_Valid(t *testing.T) {
	g, root := newTestGuard(t)

	tests := []struct {
		input       string
		wantCleaned string
	}{
		{"photo.jpg", "photo.jpg"},
		{"a/b/photo.jpg", "a/b/photo.jpg"},
		{"a//b/./photo.jpg", "a/b/photo.jpg"},
		{`a\b\photo.jpg`, "a/b/photo.jpg"},
	}
	for _, tt := range tests {
		abs, cleaned, err := g.Resolve(tt.input)
		if err != nil {
			t.Fatalf("Resolve(%q): неожиданная ошибка: %v", tt.input, err)
		}
		if cleaned != tt.wantCleaned {
			t.Errorf("Resolve(%q): ожидалось %q, получено %q", tt.input, tt.wantCleaned, cleaned)
		}
		want := filepath.Join(root, filepath.FromSlash(tt.wantCleaned))
		if abs != want {
			t.Errorf("Resolve(%q): ожидался путь %q, получено %q", tt.input, want, abs)
		}
	}
}

func TestResolve_Traversal(t *testing.T) {
	g, _ := newTestGuard(t)

	inputs := []string{
		"..",
		"../etc/passwd",
		"a/../../etc/passwd",
		"a/../b.jpg", // даже «безобидный» .. отклоняется
		`..\secret.jpg`,
		"a..b.jpg",
		"foo/..bar.jpg",
		"x/y../z.jpg",
		"...",
		"a/...jpg",
	}
	for _, in := range inputs {
		if _, _, err := g.Resolve(in); !errors.Is(err, model.ErrInvalidPath) {
			t.Errorf("Resolve(%q): ожидалась ErrInvalidPath, получено %v", in, err)
		}
	}
}

func TestResolve_AbsoluteForbidden(t *testing.T) {
	g, _ := newTestGuard(t)

	if _, _, err := g.Resolve("/etc/passwd"); !errors.Is(err, model.ErrForbiddenPath) {
		t.Errorf("ожидалась ErrForbiddenPath, получено %v", err)
	}
}

func TestResolve_EmptyFilePath(t *testing.T) {
	g, _ := newTestGuard(t)

	for _, in := range []string{"", "  ", ".", "./"} {
		if _, _, err := g.Resolve(in); !errors.Is(err, model.ErrInvalidPath) {
			t.Errorf("Resolve(%q): ожидалась ErrInvalidPath, получено %v", in, err)
		}
	}
}

func TestResolveDir_EmptyIsRoot(t *testing.T) {
	g, root := newTestGuard(t)

	abs, cleaned, err := g.ResolveDir("")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if abs != root || cleaned != "" {
		t.Errorf("ожидался корень %q, получено %q (%q)", root, abs, cleaned)
	}
}

func TestResolve_SymlinkEscape(t *testing.T) {
	g, root := newTestGuard(t)
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.jpg"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("символические ссылки недоступны: %v", err)
	}

	if _, _, err := g.Resolve("link/secret.jpg"); !errors.Is(err, model.ErrForbiddenPath) {
		t.Errorf("существующий файл: ожидалась ErrForbiddenPath, получено %v", err)
	}
	if _, _, err := g.Resolve("link/new/file.jpg"); !errors.Is(err, model.ErrForbiddenPath) {
		t.Errorf("несуществующий файл: ожидалась ErrForbiddenPath, получено %v", err)
	}
}

func TestResolve_SymlinkInside(t *testing.T) {
	g, root := newTestGuard(t)
	if err := os.MkdirAll(filepath.Join(root, "real"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "alias")); err != nil {
		t.Skipf("символические ссылки недоступны: %v", err)
	}

	if _, _, err := g.Resolve("alias/photo.jpg"); err != nil {
		t.Errorf("ссылка внутри корня: неожиданная ошибка: %v", err)
	}
}

func TestEnsureRoot_CreatesDirectory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := filepath.Join(t.TempDir(), "nested", "uploads")

	got, err := EnsureRoot(dir, "uploads", logger)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if got != dir {
		t.Errorf("ожидалось %q, получено %q", dir, got)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("каталог не создан: %v", err)
	}
}

func TestEnsureRoot_FallbackWhenUnusable(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	t.Setenv("TMPDIR", t.TempDir())

	// Обычный файл на месте каталога: MkdirAll завершится ошибкой
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := EnsureRoot(filepath.Join(blocker, "cache"), "cache", logger)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	want := filepath.Join(os.TempDir(), "image-server", "cache")
	if got != want {
		t.Errorf("ожидался резервный каталог %q, получено %q", want, got)
	}
}
