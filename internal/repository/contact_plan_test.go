package repository

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hitoshi/userbook/internal/contact"
	"github.com/hitoshi/userbook/internal/model"
)

func planRecords() []model.ContactRecord {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return []model.ContactRecord{
		{ID: "c-1", UserID: "u-1", Kind: model.ContactKindEmail, Value: "a@example.com", Category: model.CategoryPrimary, IsDefault: true, CreatedAt: created, UpdatedAt: created},
		{ID: "c-2", UserID: "u-1", Kind: model.ContactKindEmail, Value: "b@example.com", Category: model.CategoryWork, CreatedAt: created, UpdatedAt: created},
	}
}

func planIDs(records []model.ContactRecord) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestPlanContactWrites_SetDefaultDemotesBeforePromote(t *testing.T) {
	before := planRecords()
	after, err := contact.SetDefault(before, model.ContactKindEmail, "b@example.com")
	if err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	plan := planContactWrites(before, after, now)

	if diff := cmp.Diff([]string{"c-1"}, planIDs(plan.demotes)); diff != "" {
		t.Errorf("demotes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"c-2"}, planIDs(plan.promotes)); diff != "" {
		t.Errorf("promotes mismatch (-want +got):\n%s", diff)
	}
	if len(plan.inserts) != 0 || len(plan.deletes) != 0 {
		t.Errorf("unexpected inserts/deletes: %+v", plan)
	}
	for _, r := range plan.result {
		if !r.UpdatedAt.Equal(now) {
			t.Errorf("%s UpdatedAt = %v, want %v", r.ID, r.UpdatedAt, now)
		}
	}
}

func TestPlanContactWrites_InsertAssignsIDAndTimestamps(t *testing.T) {
	before := planRecords()
	after, err := contact.Add(before, model.ContactRecord{UserID: "u-1", Kind: model.ContactKindPhone, Value: "+14155550100"}, false)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	plan := planContactWrites(before, after, now)

	if len(plan.inserts) != 1 {
		t.Fatalf("inserts = %d, want 1", len(plan.inserts))
	}
	ins := plan.inserts[0]
	if ins.ID == "" {
		t.Error("insert should get a generated ID")
	}
	if !ins.CreatedAt.Equal(now) || !ins.UpdatedAt.Equal(now) {
		t.Errorf("timestamps = %v/%v, want %v", ins.CreatedAt, ins.UpdatedAt, now)
	}
	if plan.result[2].ID != ins.ID {
		t.Error("result should carry the generated ID")
	}
	if len(plan.demotes)+len(plan.promotes) != 0 {
		t.Errorf("existing records should be untouched: %+v", plan)
	}
}

func TestPlanContactWrites_InsertsGetIncreasingCreatedAt(t *testing.T) {
	tests := []struct {
		name      string
		now       time.Time
		wantFirst time.Time
	}{
		{
			name:      "既存より後の現在時刻",
			now:       time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			wantFirst: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "時計が既存レコードより遅れている",
			now:       time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
			wantFirst: time.Date(2026, 1, 1, 0, 0, 0, 1000, time.UTC),
		},
		{
			name:      "ナノ秒は切り捨てる",
			now:       time.Date(2026, 2, 1, 0, 0, 0, 1500, time.UTC),
			wantFirst: time.Date(2026, 2, 1, 0, 0, 0, 1000, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := planRecords()
			after := before
			for _, v := range []string{"+14155550100", "+14155550101", "+14155550102"} {
				var err error
				after, err = contact.Add(after, model.ContactRecord{UserID: "u-1", Kind: model.ContactKindPhone, Value: v}, false)
				if err != nil {
					t.Fatalf("Add(%s): %v", v, err)
				}
			}

			plan := planContactWrites(before, after, tt.now)

			if len(plan.inserts) != 3 {
				t.Fatalf("inserts = %d, want 3", len(plan.inserts))
			}
			for i, ins := range plan.inserts {
				want := tt.wantFirst.Add(time.Duration(i) * time.Microsecond)
				if !ins.CreatedAt.Equal(want) {
					t.Errorf("inserts[%d] (%s) CreatedAt = %v, want %v", i, ins.Value, ins.CreatedAt, want)
				}
			}
		})
	}
}

func TestPlanContactWrites_RemoveDefaultDeletesAndPromotes(t *testing.T) {
	before := planRecords()
	after, err := contact.Remove(before, model.ContactKindEmail, "a@example.com")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}

	plan := planContactWrites(before, after, time.Now())

	if diff := cmp.Diff([]string{"c-1"}, plan.deletes); diff != "" {
		t.Errorf("deletes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"c-2"}, planIDs(plan.promotes)); diff != "" {
		t.Errorf("promotes mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanContactWrites_NoChange(t *testing.T) {
	before := planRecords()
	plan := planContactWrites(before, before, time.Now())
	if !plan.empty() {
		t.Errorf("expected empty plan, got %+v", plan)
	}
	if diff := cmp.Diff(before, plan.result); diff != "" {
		t.Errorf("result should equal input (-want +got):\n%s", diff)
	}
}

func TestContactChanged_VerifiedAt(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	same := at
	a := model.ContactRecord{ID: "c-1", VerifiedAt: &at}
	b := model.ContactRecord{ID: "c-1", VerifiedAt: &same}
	if contactChanged(a, b) {
		t.Error("equal VerifiedAt should not count as change")
	}
	if !contactChanged(a, model.ContactRecord{ID: "c-1"}) {
		t.Error("clearing VerifiedAt should count as change")
	}
}
