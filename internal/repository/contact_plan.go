package repository

import (
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/userbook/internal/model"
)

// contactWritePlan はMutateで書き込む差分。
// 一意インデックス（種別ごとのデフォルト1件、値の重複禁止）に違反しないよう、
// deletes → demotes → promotes → inserts の順に適用する。
type contactWritePlan struct {
	deletes  []string
	demotes  []model.ContactRecord // 変更後にデフォルトでない更新
	promotes []model.ContactRecord // 変更後にデフォルトである更新
	inserts  []model.ContactRecord
	result   []model.ContactRecord
}

// empty は書き込みが不要かを返す。
func (p contactWritePlan) empty() bool {
	return len(p.deletes) == 0 && len(p.demotes) == 0 && len(p.promotes) == 0 && len(p.inserts) == 0
}

// insertStep は同じ計画内の新規レコードに与える作成時刻の間隔。
// PostgreSQLのtimestamptzの精度に合わせる。
const insertStep = time.Microsecond

// planContactWrites は変更前後の一覧をIDで突き合わせて差分を作る。
// IDのないレコードは新規としてIDを採番する。
// 作成時刻のない新規レコードには既存レコードより後の、一覧順に単調増加する時刻を与える。
// created_at順に読み戻したときに一覧の順序が再現される。
func planContactWrites(before, after []model.ContactRecord, now time.Time) contactWritePlan {
	prev := make(map[string]model.ContactRecord, len(before))
	next := now.Truncate(insertStep)
	for _, r := range before {
		prev[r.ID] = r
		if !r.CreatedAt.Before(next) {
			next = r.CreatedAt.Truncate(insertStep).Add(insertStep)
		}
	}

	var plan contactWritePlan
	kept := make(map[string]bool, len(after))
	for _, r := range after {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		kept[r.ID] = true

		old, ok := prev[r.ID]
		switch {
		case !ok:
			if r.CreatedAt.IsZero() {
				r.CreatedAt = next
				next = next.Add(insertStep)
			}
			r.UpdatedAt = now
			plan.inserts = append(plan.inserts, r)
		case contactChanged(old, r):
			r.UpdatedAt = now
			if r.IsDefault {
				plan.promotes = append(plan.promotes, r)
			} else {
				plan.demotes = append(plan.demotes, r)
			}
		}
		plan.result = append(plan.result, r)
	}

	for _, r := range before {
		if !kept[r.ID] {
			plan.deletes = append(plan.deletes, r.ID)
		}
	}
	return plan
}

func contactChanged(a, b model.ContactRecord) bool {
	if a.Kind != b.Kind || a.Value != b.Value || a.Category != b.Category ||
		a.IsDefault != b.IsDefault || a.IsVerified != b.IsVerified {
		return true
	}
	switch {
	case a.VerifiedAt == nil && b.VerifiedAt == nil:
		return false
	case a.VerifiedAt == nil || b.VerifiedAt == nil:
		return true
	default:
		return !a.VerifiedAt.Equal(*b.VerifiedAt)
	}
}
