// Пакет filestore — хранилище оригиналов изображений.
// Обеспечивает проверку политики загрузки, атомарную запись под
// случайным именем, чтение и удаление.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/image-server/internal/domain/model"
	"github.com/bigkaa/goartstore/image-server/internal/storage/pathguard"
)

// SizeUnknown — объявленный размер неизвестен, проверяется только фактический.
const SizeUnknown int64 = -1

// FileStore — управление оригиналами на диске.
type FileStore struct {
	guard *pathguard.Guard
	// maxFileSize — лимит размера загружаемого файла (IS_MAX_FILE_SIZE)
	maxFileSize int64
	// allowed — разрешённые расширения в нижнем регистре
	allowed map[string]bool
}

// New создаёт FileStore поверх подготовленного корня uploadDir.
func New(uploadDir string, maxFileSize int64, allowedExtensions []string) (*FileStore, error) {
	if err := os.MkdirAll(uploadDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию загрузок %s: %w", uploadDir, err)
	}
	guard, err := pathguard.New(uploadDir)
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]bool, len(allowedExtensions))
	for _, ext := range allowedExtensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}
	return &FileStore{guard: guard, maxFileSize: maxFileSize, allowed: allowed}, nil
}

// Root возвращает абсолютный путь корня оригиналов.
func (fs *FileStore) Root() string {
	return fs.guard.Root()
}

// Guard возвращает PathGuard корня оригиналов.
func (fs *FileStore) Guard() *pathguard.Guard {
	return fs.guard
}

// MaxFileSize возвращает лимит размера загрузки.
func (fs *FileStore) MaxFileSize() int64 {
	return fs.maxFileSize
}

// CheckPolicy проверяет объявленные размер и имя файла до любого I/O.
// Возвращает расширение в нижнем регистре.
func (fs *FileStore) CheckPolicy(declaredName string, declaredSize int64) (string, error) {
	if declaredSize == 0 {
		return "", model.ErrEmptyPayload
	}
	if declaredSize > fs.maxFileSize {
		return "", fmt.Errorf("%w: %d байт, лимит %d", model.ErrPayloadTooLarge, declaredSize, fs.maxFileSize)
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(strings.TrimSpace(declaredName)), "."))
	if ext == "" {
		return "", fmt.Errorf("%w: у файла %q нет расширения", model.ErrUnsupportedMediaType, declaredName)
	}
	if !fs.allowed[ext] {
		return "", fmt.Errorf("%w: расширение %q не разрешено", model.ErrUnsupportedMediaType, ext)
	}
	return ext, nil
}

// Put сохраняет оригинал в каталог folder и возвращает относительный путь
// вида "{folder}/{uuid}.{ext}".
//
// Паттерн: temp файл → запись с лимитом → fsync → atomic rename.
// При ошибке temp файл удаляется, в корне не остаётся ничего.
func (fs *FileStore) Put(reader io.Reader, declaredName string, declaredSize int64, folder string) (string, error) {
	ext, err := fs.CheckPolicy(declaredName, declaredSize)
	if err != nil {
		return "", err
	}

	dirAbs, dirRel, err := fs.guard.ResolveDir(strings.Trim(folder, `/\`))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dirAbs, 0o750); err != nil {
		return "", fmt.Errorf("%w: создание каталога %s: %w", model.ErrStorageIO, dirRel, err)
	}

	storageName := uuid.New().String() + "." + ext
	relPath := path.Join(dirRel, storageName)
	fullPath := filepath.Join(dirAbs, storageName)

	f, err := os.CreateTemp(dirAbs, "."+storageName+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: создание временного файла: %w", model.ErrStorageIO, err)
	}
	tmpPath := f.Name()

	// Читаем на байт больше лимита, чтобы отличить «ровно лимит» от превышения
	size, err := io.Copy(f, io.LimitReader(reader, fs.maxFileSize+1))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: запись данных: %w", model.ErrStorageIO, err)
	}
	if size > fs.maxFileSize {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: больше %d байт", model.ErrPayloadTooLarge, fs.maxFileSize)
	}
	if size == 0 {
		f.Close()
		os.Remove(tmpPath)
		return "", model.ErrEmptyPayload
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: fsync: %w", model.ErrStorageIO, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: закрытие файла: %w", model.ErrStorageIO, err)
	}

	// Атомарный rename
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: атомарное переименование: %w", model.ErrStorageIO, err)
	}

	return relPath, nil
}

// Exists проверяет существование оригинала. Возвращает нормализованный
// относительный путь. Каталог оригиналом не считается.
func (fs *FileStore) Exists(relPath string) (string, bool, error) {
	abs, cleaned, err := fs.guard.Resolve(relPath)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cleaned, false, nil
		}
		return cleaned, false, fmt.Errorf("%w: stat %s: %w", model.ErrStorageIO, cleaned, err)
	}
	return cleaned, info.Mode().IsRegular(), nil
}

// Read читает оригинал целиком.
func (fs *FileStore) Read(relPath string) ([]byte, error) {
	cleaned, ok, err := fs.Exists(relPath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, cleaned)
	}

	data, err := os.ReadFile(filepath.Join(fs.guard.Root(), filepath.FromSlash(cleaned)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", model.ErrNotFound, cleaned)
		}
		return nil, fmt.Errorf("%w: чтение %s: %w", model.ErrStorageIO, cleaned, err)
	}
	return data, nil
}

// Delete удаляет оригинал. Отсутствующий файл — ErrNotFound.
func (fs *FileStore) Delete(relPath string) error {
	cleaned, ok, err := fs.Exists(relPath)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrNotFound, cleaned)
	}

	err = os.Remove(filepath.Join(fs.guard.Root(), filepath.FromSlash(cleaned)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", model.ErrNotFound, cleaned)
		}
		return fmt.Errorf("%w: удаление %s: %w", model.ErrStorageIO, cleaned, err)
	}
	return nil
}
