// Package storage は端末ごとの永続キーバリューストアの抽象を提供する。
// ブラウザのローカルストレージに相当し、セッション資格情報・プロフィールスナップショット・
// ピン留めタブを文字列キー/文字列値で保持する。
package storage

import (
	"context"
	"strings"
)

// 永続化キー。ユーザーと管理者は独立した名前空間（キー）を持つ。
const (
	KeyUserToken    = "token"
	KeyUserProfile  = "user"
	KeyAdminToken   = "adminToken"
	KeyAdminProfile = "admin"
	KeyPinnedTabs   = "pinnedTabs"
)

// KV は文字列キー/文字列値の永続ストア。
type KV interface {
	// Get はキーの値を返す。存在しない場合は ok=false を返す。
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set はキーに値を保存する。
	Set(ctx context.Context, key, value string) error
	// Delete は指定キーを削除する。存在しないキーはエラーにならない。
	Delete(ctx context.Context, keys ...string) error
}

// namespaced はキーにプレフィックスを付与するKVラッパー。
type namespaced struct {
	kv     KV
	prefix string
}

// Namespace はprefixで区切られたKVビューを返す。
// 端末ごとのストアは "device:<id>:" のようなプレフィックスで分離する。
func Namespace(kv KV, prefix string) KV {
	if prefix == "" {
		return kv
	}
	return &namespaced{kv: kv, prefix: prefix}
}

// DevicePrefix は端末IDに対応する名前空間プレフィックスを返す。
func DevicePrefix(deviceID string) string {
	return "device:" + strings.TrimSpace(deviceID) + ":"
}

func (n *namespaced) Get(ctx context.Context, key string) (string, bool, error) {
	return n.kv.Get(ctx, n.prefix+key)
}

func (n *namespaced) Set(ctx context.Context, key, value string) error {
	return n.kv.Set(ctx, n.prefix+key, value)
}

func (n *namespaced) Delete(ctx context.Context, keys ...string) error {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = n.prefix + k
	}
	return n.kv.Delete(ctx, prefixed...)
}
