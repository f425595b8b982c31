package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestFetch_CleansBoilerplate(t *testing.T) {
	page := `<html><head><title>Статья</title></head><body>
		<nav>Главное меню</nav>
		<header>Шапка сайта</header>
		<script>console.log("analytics")</script>
		<style>body { color: red; }</style>
		<div class="advertisement">Купите слона</div>
		<span class="ad">Реклама</span>
		<article>Основной   текст
		статьи о проверке подлинности.</article>
		<footer>Подвал сайта</footer>
	</body></html>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != userAgent {
			t.Errorf("User-Agent = %q, ожидается %q", got, userAgent)
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	f := NewContentFetcher(5*time.Second, 5000)
	text, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch() вернул ошибку: %v", err)
	}

	if !strings.Contains(text, "Основной текст статьи о проверке подлинности.") {
		t.Errorf("текст не содержит содержимое статьи: %q", text)
	}
	for _, junk := range []string{"Главное меню", "Шапка сайта", "console.log", "color: red", "Купите слона", "Реклама", "Подвал сайта"} {
		if strings.Contains(text, junk) {
			t.Errorf("текст содержит удаляемый элемент %q: %q", junk, text)
		}
	}
	// Повторные пробелы и переводы строк схлопнуты
	if strings.Contains(text, "  ") || strings.Contains(text, "\n") {
		t.Errorf("пробелы не нормализованы: %q", text)
	}
}

func TestFetch_TruncatesLongContent(t *testing.T) {
	long := strings.Repeat("ш", 9000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>" + long + "</body></html>"))
	}))
	defer srv.Close()

	f := NewContentFetcher(5*time.Second, 5000)
	text, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch() вернул ошибку: %v", err)
	}

	if got := len([]rune(text)); got != 5000 {
		t.Errorf("длина текста = %d рун, ожидается 5000", got)
	}
}

func TestFetch_HTTPErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   string
	}{
		{"страница не найдена", http.StatusNotFound, "HTTP 404"},
		{"внутренняя ошибка сервера", http.StatusInternalServerError, "HTTP 500"},
		{"доступ запрещён", http.StatusForbidden, "HTTP 403"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			f := NewContentFetcher(5*time.Second, 5000)
			_, err := f.Fetch(context.Background(), srv.URL)
			if err == nil {
				t.Fatal("Fetch() должен вернуть ошибку для не-2xx ответа")
			}

			var fetchErr *FetchError
			if !errors.As(err, &fetchErr) {
				t.Fatalf("ошибка %T, ожидается *FetchError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("ошибка %q должна содержать %q", err.Error(), tt.want)
			}
		})
	}
}

func TestFetch_NetworkError(t *testing.T) {
	// Сервер закрыт — соединение отклоняется
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	f := NewContentFetcher(2*time.Second, 5000)
	_, err := f.Fetch(context.Background(), url)
	if err == nil {
		t.Fatal("Fetch() должен вернуть ошибку при недоступном сервере")
	}

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("ошибка %T, ожидается *FetchError", err)
	}
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	f := NewContentFetcher(50*time.Millisecond, 5000)
	_, err := f.Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("Fetch() должен вернуть ошибку по таймауту")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"короткая строка без изменений", "привет", 10, "привет"},
		{"точная длина без изменений", "привет", 6, "привет"},
		{"усечение по рунам", "привет мир", 6, "привет"},
		{"пустая строка", "", 5, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncate(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, ожидается %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}
