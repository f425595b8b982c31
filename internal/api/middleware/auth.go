// auth.go — JWT middleware для аутентификации AuthGate.
// Bearer token проверяется через JWKS внешнего Identity Provider
// (подпись RS256, exp, опционально issuer). Извлечённые claims
// помещаются в контекст запроса для downstream handlers.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/arturkryukov/authgate/internal/api/errors"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyClaims — извлечённые claims в контексте запроса.
	ContextKeyClaims contextKey = "jwt_claims"
)

// AuthClaims — извлечённые claims пользователя из JWT внешнего IdP.
// Помещаются в контекст запроса для downstream handlers.
type AuthClaims struct {
	// Subject — sub из JWT (уникальный идентификатор пользователя в IdP).
	Subject string
	// Email — email из JWT.
	Email string
	// EmailVerified — подтверждён ли email.
	EmailVerified bool
}

// idpClaims — raw claims из JWT IdP для парсинга.
type idpClaims struct {
	jwt.RegisteredClaims
	// Email — электронная почта.
	Email string `json:"email,omitempty"`
	// EmailVerified — подтверждён ли email.
	EmailVerified bool `json:"email_verified,omitempty"`
}

// JWTAuth — middleware для JWT-аутентификации через JWKS внешнего IdP.
type JWTAuth struct {
	jwks      keyfunc.Keyfunc
	logger    *slog.Logger
	issuer    string
	jwtLeeway time.Duration
}

// NewJWTAuth создаёт JWT middleware с JWKS внешнего IdP.
// jwksURL — URL к JWKS endpoint IdP.
// caCertPath — опциональный путь к CA-сертификату для TLS.
// issuer — ожидаемый issuer JWT (может быть пустым — issuer не проверяется).
// jwksClientTimeout — таймаут HTTP-клиента JWKS.
// jwksRefreshInterval — интервал обновления JWKS-ключей.
// jwtLeeway — допустимое отклонение времени при проверке JWT.
func NewJWTAuth(
	jwksURL string,
	caCertPath string,
	issuer string,
	jwksClientTimeout time.Duration,
	jwksRefreshInterval time.Duration,
	jwtLeeway time.Duration,
	logger *slog.Logger,
) (*JWTAuth, error) {
	// HTTP-клиент для JWKS (с кастомным CA или стандартный)
	httpClient := &http.Client{Timeout: jwksClientTimeout}
	if caCertPath != "" {
		var err error
		httpClient, err = httpClientWithCA(caCertPath, jwksClientTimeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", caCertPath, err)
		}
		logger.Info("CA-сертификат для JWKS добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	// JWKS Storage с фоновым обновлением.
	// NoErrorReturnFirstHTTPReq — стартуем даже если IdP ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return &JWTAuth{
		jwks:      k,
		logger:    logger.With(slog.String("component", "jwt_auth")),
		issuer:    issuer,
		jwtLeeway: jwtLeeway,
	}, nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с готовым keyfunc.
// Используется в тестах с локально сгенерированным JWKS.
func NewJWTAuthWithKeyfunc(k keyfunc.Keyfunc, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:      k,
		logger:    logger.With(slog.String("component", "jwt_auth")),
		jwtLeeway: 30 * time.Second,
	}
}

// httpClientWithCA создаёт HTTP-клиент с кастомным CA-сертификатом.
func httpClientWithCA(caCertPath string, timeout time.Duration) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs: caCertPool,
			},
		},
	}, nil
}

// Middleware возвращает HTTP middleware для обязательной JWT-аутентификации.
// Запрос без валидного Bearer token отклоняется с 401.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, errMsg := j.authenticate(r)
			if claims == nil {
				apierrors.Unauthorized(w, errMsg)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalMiddleware возвращает HTTP middleware для опциональной аутентификации.
// Запрос без заголовка Authorization проходит анонимно; запрос с заголовком,
// но с невалидным токеном — отклоняется с 401.
func (j *JWTAuth) OptionalMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, errMsg := j.authenticate(r)
			if claims == nil {
				apierrors.Unauthorized(w, errMsg)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// authenticate извлекает и валидирует Bearer token из запроса.
// Возвращает claims или nil и сообщение об ошибке.
func (j *JWTAuth) authenticate(r *http.Request) (*AuthClaims, string) {
	// Извлекаем Bearer token
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, "Отсутствует заголовок Authorization"
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, "Неверный формат Authorization: ожидается Bearer <token>"
	}

	tokenString := parts[1]
	if tokenString == "" {
		return nil, "Пустой Bearer token"
	}

	// Парсинг и валидация JWT через JWKS
	rawClaims := &idpClaims{}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(j.jwtLeeway),
	}
	if j.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, rawClaims, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
	if err != nil {
		j.logger.Debug("JWT валидация не пройдена",
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr),
		)
		return nil, "Невалидный или просроченный токен"
	}

	if !token.Valid {
		return nil, "Невалидный токен"
	}

	// Извлекаем sub
	subject, err := rawClaims.GetSubject()
	if err != nil || subject == "" {
		return nil, "Отсутствует sub в токене"
	}

	return &AuthClaims{
		Subject:       subject,
		Email:         rawClaims.Email,
		EmailVerified: rawClaims.EmailVerified,
	}, ""
}

// --- Context helpers ---

// ClaimsFromContext извлекает AuthClaims из контекста запроса.
// Возвращает nil, если claims не найдены (анонимный запрос).
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}

// SubjectFromContext извлекает sub из контекста запроса.
// Возвращает пустую строку, если claims не найдены.
func SubjectFromContext(ctx context.Context) string {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return ""
	}
	return claims.Subject
}

// --- ReadinessChecker для IdP ---

// IDPReadinessChecker — проверка доступности IdP через JWKS endpoint.
type IDPReadinessChecker struct {
	jwksURL string
	client  *http.Client
}

// NewIDPReadinessChecker создаёт checker доступности IdP.
func NewIDPReadinessChecker(jwksURL, caCertPath string, readinessTimeout time.Duration) (*IDPReadinessChecker, error) {
	client := &http.Client{Timeout: readinessTimeout}
	if caCertPath != "" {
		var err error
		client, err = httpClientWithCA(caCertPath, readinessTimeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA для readiness checker: %w", err)
		}
	}

	return &IDPReadinessChecker{
		jwksURL: jwksURL,
		client:  client,
	}, nil
}

const statusFail = "fail"

// CheckReady проверяет доступность JWKS endpoint IdP.
func (k *IDPReadinessChecker) CheckReady() (status, message string) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, k.jwksURL, http.NoBody)
	if err != nil {
		return statusFail, "ошибка создания запроса: " + err.Error()
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return statusFail, fmt.Sprintf("IdP JWKS недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusFail, fmt.Sprintf("IdP JWKS вернул статус %d", resp.StatusCode)
	}

	return "ok", "JWKS доступен"
}

// Close освобождает ресурсы JWT middleware.
func (j *JWTAuth) Close() {
	// keyfunc v3 не требует явного закрытия
}
