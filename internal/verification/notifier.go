package verification

import (
	"context"
	"log/slog"

	"github.com/hitoshi/userbook/internal/model"
	"github.com/hitoshi/userbook/internal/valueobject"
)

// Notifier は確認コードを連絡先へ届けるインターフェース。
type Notifier interface {
	Notify(ctx context.Context, rec model.ContactRecord, code string) error
}

// LogNotifier は確認コードを構造化ログに出力する開発用のNotifier。
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier はLogNotifierを生成する。loggerがnilの場合はslog.Default()を使う。
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify はコードをinfoレベルでログに出力する。
func (n *LogNotifier) Notify(ctx context.Context, rec model.ContactRecord, code string) error {
	n.logger.InfoContext(ctx, "verification code issued",
		slog.String("user_id", rec.UserID),
		slog.String("contact_id", rec.ID),
		slog.String("kind", string(rec.Kind)),
		slog.String("destination", valueobject.Display(rec.Kind, rec.Value)),
		slog.String("code", code),
	)
	return nil
}

// compile-time interface check
var _ Notifier = (*LogNotifier)(nil)
