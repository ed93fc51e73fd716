package repository

import (
	"context"
	"testing"

	"github.com/hitoshi/civicportal/internal/storage"
)

func TestMemoryKVRepo_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryKVRepo()

	if _, ok, err := repo.Get(ctx, "token"); err != nil || ok {
		t.Fatalf("Get(missing) = ok=%v err=%v, want ok=false err=nil", ok, err)
	}

	if err := repo.Set(ctx, "token", "abc"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := repo.Get(ctx, "token")
	if err != nil || !ok || v != "abc" {
		t.Fatalf("Get = (%q, %v, %v), want (abc, true, nil)", v, ok, err)
	}

	if err := repo.Delete(ctx, "token", "missing"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if repo.Len() != 0 {
		t.Errorf("Len = %d, want 0", repo.Len())
	}
}

func TestMemoryKVRepo_NamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryKVRepo()

	a := storage.Namespace(repo, storage.DevicePrefix("device-a"))
	b := storage.Namespace(repo, storage.DevicePrefix("device-b"))

	if err := a.Set(ctx, storage.KeyUserToken, "token-a"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, _ := b.Get(ctx, storage.KeyUserToken); ok {
		t.Error("device-b should not see device-a's token")
	}

	raw, ok, _ := repo.Get(ctx, "device:device-a:token")
	if !ok || raw != "token-a" {
		t.Errorf("raw key = (%q, %v), want (token-a, true)", raw, ok)
	}

	if err := a.Delete(ctx, storage.KeyUserToken); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if repo.Len() != 0 {
		t.Errorf("Len = %d, want 0", repo.Len())
	}
}
