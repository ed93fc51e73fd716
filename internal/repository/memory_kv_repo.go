package repository

import (
	"context"
	"sync"
)

// MemoryKVRepo はプロセス内メモリを使用したKVリポジトリ。
// 開発環境およびテストで使用する。プロセス終了で内容は失われる。
type MemoryKVRepo struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryKVRepo はMemoryKVRepoを生成する。
func NewMemoryKVRepo() *MemoryKVRepo {
	return &MemoryKVRepo{data: make(map[string]string)}
}

// Get は指定キーの値を取得する。
func (r *MemoryKVRepo) Get(ctx context.Context, key string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.data[key]
	return v, ok, nil
}

// Set は指定キーに値を保存する。
func (r *MemoryKVRepo) Set(ctx context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[key] = value
	return nil
}

// Delete は指定キーを削除する。
func (r *MemoryKVRepo) Delete(ctx context.Context, keys ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		delete(r.data, k)
	}
	return nil
}

// Len は保存されているキー数を返す。テスト用。
func (r *MemoryKVRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// compile-time interface check
var _ KVRepository = (*MemoryKVRepo)(nil)
