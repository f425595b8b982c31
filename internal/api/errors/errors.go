// Пакет errors — конструкторы стандартных ошибок API AuthGate.
// Единый формат: {"message": "...", "field": "..."} (field — только
// для ошибок валидации). Все HTTP-ответы с ошибками должны использовать
// функции этого пакета.
package errors

import (
	"encoding/json"
	"net/http"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{Message: message})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
// field — имя поля, не прошедшего валидацию.
func ValidationError(w http.ResponseWriter, message, field string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(errorBody{Message: message, Field: field})
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, message)
}

// InternalError — 500 внутренняя ошибка сервера.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, message)
}

// Unavailable — 503 зависимость недоступна.
func Unavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, message)
}
