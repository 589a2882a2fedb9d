// Package verification は連絡先の所有確認（確認コードの発行と照合）を提供する。
package verification

import (
	"context"
	"time"
)

// Entry は保存中の確認コードと照合試行回数。
type Entry struct {
	Code     string
	Attempts int
}

// CodeStore は確認コードの保存先インターフェース。
// キーは連絡先IDで、TTLを過ぎたエントリは自動的に消える。
type CodeStore interface {
	// Save はコードを保存し、試行回数を0に戻す。既存のエントリは上書きする。
	Save(ctx context.Context, contactID, code string, ttl time.Duration) error
	// Load は保存中のエントリを返す。存在しないか期限切れの場合はnilを返す。
	Load(ctx context.Context, contactID string) (*Entry, error)
	// IncrementAttempts は試行回数を1増やし、増加後の値を返す。
	// エントリが存在しない場合は0を返し、新しいエントリは作らない。
	IncrementAttempts(ctx context.Context, contactID string) (int, error)
	// Delete はエントリを削除する。
	Delete(ctx context.Context, contactID string) error
}

// storeKey はRedisのキーを返す。
func storeKey(contactID string) string {
	return "verify:" + contactID
}
