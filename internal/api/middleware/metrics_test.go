package middleware

import (
	"testing"

	"github.com/google/uuid"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"health", "/health", "/health"},
		{"readiness", "/health/ready", "/health/ready"},
		{"metrics", "/metrics", "/metrics"},
		{"список верификаций", "/api/verifications", "/api/verifications"},
		{"статистика очереди", "/api/queue/stats", "/api/queue/stats"},
		{"запись по UUID", "/api/verifications/" + uuid.NewString(), "/api/verifications/{id}"},
		{"запись по произвольному id", "/api/verifications/abc", "/api/verifications/{id}"},
		{"неизвестный путь", "/unknown", "/unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizePath(tt.path); got != tt.want {
				t.Errorf("normalizePath(%q) = %q, ожидается %q", tt.path, got, tt.want)
			}
		})
	}
}
