// Пакет openapi — встроенный OpenAPI документ Image Server.
// Документ загружается и валидируется через kin-openapi; пути
// изображений переписываются под настроенный префикс маршрутов.
package openapi

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

// documentPrefix — префикс путей изображений в исходном документе.
const documentPrefix = "/images"

//go:embed openapi.yaml
var rawSpec []byte

// load разбирает документ один раз за процесс.
var load = sync.OnceValues(func() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(rawSpec)
	if err != nil {
		return nil, fmt.Errorf("разбор OpenAPI документа: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("валидация OpenAPI документа: %w", err)
	}
	return doc, nil
})

// Document возвращает документ с путями изображений под routePrefix.
// Исходный документ не изменяется.
func Document(routePrefix string) (*openapi3.T, error) {
	doc, err := load()
	if err != nil {
		return nil, err
	}

	out := *doc
	out.Paths = openapi3.NewPaths()
	for p, item := range doc.Paths.Map() {
		if rest, ok := strings.CutPrefix(p, documentPrefix+"/"); ok {
			p = routePrefix + "/" + rest
		}
		out.Paths.Set(p, item)
	}
	return &out, nil
}
