package service

import (
	"testing"
	"time"

	"github.com/arturkryukov/authgate/internal/domain/model"
)

func terminalVerification(id, status string) *model.Verification {
	return &model.Verification{ID: id, URL: "https://example.kryukov.lan/article", Status: status}
}

func TestCache_SetAndGetTerminal(t *testing.T) {
	cache := NewCacheService(10, time.Minute)

	v := terminalVerification("id-1", model.StatusCompleted)
	cache.Set(v)

	got, ok := cache.Get("id-1")
	if !ok {
		t.Fatal("терминальная запись должна кэшироваться")
	}
	if got.ID != "id-1" {
		t.Errorf("ID = %q, ожидается id-1", got.ID)
	}
}

func TestCache_IgnoresNonTerminal(t *testing.T) {
	cache := NewCacheService(10, time.Minute)

	for _, status := range []string{model.StatusPending, model.StatusProcessing} {
		cache.Set(terminalVerification("id-"+status, status))
		if _, ok := cache.Get("id-" + status); ok {
			t.Errorf("запись в статусе %q не должна кэшироваться", status)
		}
	}
}

func TestCache_IgnoresNil(t *testing.T) {
	cache := NewCacheService(10, time.Minute)
	cache.Set(nil) // не паникует
}

func TestCache_Delete(t *testing.T) {
	cache := NewCacheService(10, time.Minute)

	cache.Set(terminalVerification("id-1", model.StatusFailed))
	cache.Delete("id-1")

	if _, ok := cache.Get("id-1"); ok {
		t.Error("удалённая запись не должна оставаться в кэше")
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	cache := NewCacheService(10, 50*time.Millisecond)

	cache.Set(terminalVerification("id-1", model.StatusCompleted))
	time.Sleep(120 * time.Millisecond)

	if _, ok := cache.Get("id-1"); ok {
		t.Error("запись должна истечь по TTL")
	}
}

func TestCache_EvictsOldest(t *testing.T) {
	cache := NewCacheService(2, time.Minute)

	cache.Set(terminalVerification("id-1", model.StatusCompleted))
	cache.Set(terminalVerification("id-2", model.StatusCompleted))
	cache.Set(terminalVerification("id-3", model.StatusCompleted))

	if _, ok := cache.Get("id-1"); ok {
		t.Error("самая старая запись должна вытесняться при переполнении")
	}
	if _, ok := cache.Get("id-3"); !ok {
		t.Error("новая запись должна остаться в кэше")
	}
}
