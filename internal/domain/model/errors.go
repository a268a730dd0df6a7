// errors.go — ошибки доменного уровня, общие для хранилищ, генератора и сервиса.
package model

import "errors"

var (
	// ErrInvalidPath — путь содержит "..", пуст там, где обязателен, или некорректен.
	ErrInvalidPath = errors.New("некорректный путь")
	// ErrForbiddenPath — путь выходит за пределы корня хранилища.
	ErrForbiddenPath = errors.New("путь вне корня хранилища")
	// ErrPayloadTooLarge — размер загружаемого файла превышает лимит.
	ErrPayloadTooLarge = errors.New("файл превышает допустимый размер")
	// ErrEmptyPayload — загружаемый файл пуст.
	ErrEmptyPayload = errors.New("пустой файл")
	// ErrUnsupportedMediaType — расширение файла отсутствует или не разрешено.
	ErrUnsupportedMediaType = errors.New("неподдерживаемый тип файла")
	// ErrInvalidParameter — параметр трансформации вне допустимого диапазона.
	ErrInvalidParameter = errors.New("некорректный параметр трансформации")
	// ErrNotFound — оригинал не найден.
	ErrNotFound = errors.New("изображение не найдено")
	// ErrUnsupportedSourceFormat — оригинал не удалось декодировать.
	ErrUnsupportedSourceFormat = errors.New("не удалось декодировать изображение")
	// ErrStorageIO — ошибка файловой системы.
	ErrStorageIO = errors.New("ошибка ввода-вывода хранилища")
	// ErrBusy — не дождались свободного обработчика в пуле.
	ErrBusy = errors.New("сервис перегружен")
)
