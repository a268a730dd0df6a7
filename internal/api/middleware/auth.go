// auth.go — JWT-аутентификация изменяющих операций: загрузка, удаление
// оригиналов и ручная очистка кэша. Токены внешнего IdP проверяются
// по JWKS (RS256). Выдача изображений, health, info и metrics открыты.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/goartstore/image-server/internal/api/errors"
)

// ScopeImagesWrite — scope для загрузки, удаления и обслуживания кэша.
const ScopeImagesWrite = "images:write"

// Причины отказа в аутентификации; текст уходит клиенту.
var ( //nolint:staticcheck // сообщения для клиента с заглавной буквы
	errNoAuthHeader = errors.New("Отсутствует заголовок Authorization")
	errNotBearer    = errors.New("Неверный формат Authorization: ожидается Bearer <token>")
	errBadToken     = errors.New("Невалидный или просроченный токен")
	errNoSubject    = errors.New("Отсутствует sub в токене")
)

// Principal — владелец токена, выполняющий изменяющую операцию.
type Principal struct {
	Subject string
	Scopes  []string
}

// HasScope сообщает, выдан ли владельцу токена scope.
func (p Principal) HasScope(scope string) bool {
	return slices.Contains(p.Scopes, scope)
}

type principalKey struct{}

// WithPrincipal возвращает контекст с владельцем токена.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext извлекает владельца токена. Без аутентификации
// (IS_JWKS_URL не задан) возвращает false.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Claims — JWT claims: стандартный "scope" (строка через пробел, Keycloak)
// и альтернативный "scopes" (массив).
type Claims struct {
	jwt.RegisteredClaims
	ScopeString string   `json:"scope"`
	ScopeArray  []string `json:"scopes"`
}

// Scopes возвращает объединённый список scope'ов из обоих форматов.
func (c *Claims) Scopes() []string {
	return append(strings.Fields(c.ScopeString), c.ScopeArray...)
}

// JWTAuthConfig — параметры JWT-аутентификации.
type JWTAuthConfig struct {
	JWKSURL         string
	CACertPath      string
	TLSSkipVerify   bool
	ClientTimeout   time.Duration
	RefreshInterval time.Duration
	// Допустимое расхождение часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Ожидаемый iss; пустой — не проверяется
	Issuer string
}

// JWTAuth проверяет Bearer-токены по ключам JWKS.
type JWTAuth struct {
	jwks       keyfunc.Keyfunc
	parserOpts []jwt.ParserOption
	logger     *slog.Logger
}

// NewJWTAuth создаёт проверку токенов с JWKS из authCfg.JWKSURL.
// Недоступность JWKS при старте не ошибка: ключи подтянутся при обновлении.
func NewJWTAuth(authCfg JWTAuthConfig, logger *slog.Logger) (*JWTAuth, error) {
	httpClient, err := jwksHTTPClient(authCfg)
	if err != nil {
		return nil, err
	}

	storage, err := jwkset.NewStorageFromHTTP(authCfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           authCfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("url", authCfg.JWKSURL),
				slog.String("error", err.Error()),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	kf, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}
	return NewJWTAuthWithKeyfunc(kf, authCfg.JWTLeeway, authCfg.Issuer, logger), nil
}

// NewJWTAuthWithKeyfunc создаёт проверку токенов с готовой keyfunc
// (например, из статического JWKS).
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, leeway time.Duration, issuer string, logger *slog.Logger) *JWTAuth {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &JWTAuth{
		jwks:       kf,
		parserOpts: opts,
		logger:     logger.With(slog.String("component", "jwt_auth")),
	}
}

// jwksHTTPClient — HTTP-клиент JWKS с таймаутом и TLS (свой CA, skip verify).
func jwksHTTPClient(authCfg JWTAuthConfig) (*http.Client, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: authCfg.TLSSkipVerify, //nolint:gosec // настраивается через IS_TLS_SKIP_VERIFY
	}
	if authCfg.CACertPath != "" {
		pem, err := os.ReadFile(authCfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", authCfg.CACertPath, err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA-сертификат %s не содержит PEM-сертификатов", authCfg.CACertPath)
		}
		tlsConfig.RootCAs = pool
	}
	return &http.Client{
		Timeout:   authCfg.ClientTimeout,
		Transport: &http.Transport{TLSClientConfig: tlsConfig},
	}, nil
}

// Require возвращает middleware изменяющих маршрутов: токен должен быть
// валиден и содержать scope. Владелец токена кладётся в контекст.
func (j *JWTAuth) Require(scope string) func(http.Handler) http.Handler {
	requireScope := RequireScope(scope, j.logger)
	return func(next http.Handler) http.Handler {
		guarded := requireScope(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := j.authenticate(r)
			if err != nil {
				j.logger.Debug("Токен отклонён",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("error", err.Error()),
				)
				apierrors.Unauthorized(w, unauthorizedMessage(err))
				return
			}
			guarded.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// authenticate разбирает Bearer-токен и возвращает его владельца.
func (j *JWTAuth) authenticate(r *http.Request) (Principal, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return Principal{}, errNoAuthHeader
	}
	scheme, raw, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" {
		return Principal{}, errNotBearer
	}

	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, j.jwks.KeyfuncCtx(r.Context()), j.parserOpts...); err != nil {
		return Principal{}, fmt.Errorf("%w: %w", errBadToken, err)
	}
	if claims.Subject == "" {
		return Principal{}, errNoSubject
	}
	return Principal{Subject: claims.Subject, Scopes: claims.Scopes()}, nil
}

// unauthorizedMessage возвращает безопасный для клиента текст отказа.
func unauthorizedMessage(err error) string {
	for _, reason := range []error{errNoAuthHeader, errNotBearer, errNoSubject} {
		if errors.Is(err, reason) {
			return reason.Error()
		}
	}
	return errBadToken.Error()
}

// RequireScope пропускает запрос, только если владелец токена в контексте
// имеет scope; иначе 403. Отказы пишутся в лог с subject.
func RequireScope(scope string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if ok && p.HasScope(scope) {
				next.ServeHTTP(w, r)
				return
			}
			logger.Warn("Изменяющая операция отклонена: нет scope",
				slog.String("subject", p.Subject),
				slog.String("scope", scope),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			apierrors.Forbidden(w, "Недостаточно прав: требуется scope "+scope)
		})
	}
}
