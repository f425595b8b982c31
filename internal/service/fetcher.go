// fetcher.go — скачивание и очистка контента по URL.
// HTTP GET с ограниченным таймаутом, разбор HTML через goquery,
// удаление нетекстовых и навигационных элементов, усечение текста.
// Retry здесь нет — политика повторов принадлежит диспетчеру задач.
package service

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// userAgent — идентифицирующий заголовок бота верификации.
const userAgent = "AuthenticityGate/1.0 (Content Verification Bot)"

// removeSelectors — элементы, удаляемые из HTML перед извлечением текста:
// скрипты, стили, навигация, шапки/подвалы и рекламные блоки.
const removeSelectors = "script, style, nav, footer, header, .advertisement, .ad"

var whitespaceExpr = regexp.MustCompile(`\s+`)

// FetchError — ошибка скачивания контента.
// Сообщение включает HTTP-статус, если ответ был получен.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("не удалось получить контент %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ContentFetcher — скачивает страницу и извлекает чистый текст.
type ContentFetcher struct {
	client *http.Client
	maxLen int
}

// NewContentFetcher создаёт fetcher с указанным таймаутом запроса
// и максимальной длиной извлечённого текста (в символах).
func NewContentFetcher(timeout time.Duration, maxLen int) *ContentFetcher {
	return &ContentFetcher{
		client: &http.Client{Timeout: timeout},
		maxLen: maxLen,
	}
}

// Fetch скачивает URL и возвращает очищенный текст страницы.
// Ошибки сети, таймаут и не-2xx ответы возвращаются как *FetchError.
func (f *ContentFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return "", &FetchError{URL: pageURL, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &FetchError{URL: pageURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &FetchError{
			URL: pageURL,
			Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", &FetchError{URL: pageURL, Err: fmt.Errorf("разбор HTML: %w", err)}
	}

	// Удаляем нетекстовые и навигационные элементы
	doc.Find(removeSelectors).Remove()

	text := doc.Find("body").Text()
	text = strings.TrimSpace(whitespaceExpr.ReplaceAllString(text, " "))

	return truncate(text, f.maxLen), nil
}

// truncate усекает строку до maxLen символов (рун).
// Ограничивает стоимость downstream-вызова оракула.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}
