package tinyorm

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/uptrace/bun"
)

type guardedMember struct {
	bun.BaseModel `bun:"table:member"`

	ID    int64   `bun:"id,pk,autoincrement"`
	Name  string  `bun:"name"`
	Email *string `bun:"email"`

	seen    Changes
	updated int
}

func (m *guardedMember) BeforeUpdate(ctx context.Context, changes Changes) error {
	m.seen = changes
	if v, ok := changes.Get("name"); ok && v == "" {
		return errors.New("name must not be empty")
	}
	return nil
}

func (m *guardedMember) AfterUpdate(ctx context.Context) error {
	m.updated++
	return nil
}

func TestUpdateSetAndExecute(t *testing.T) {
	db, exec := openTestDB(t)
	ctx := context.Background()

	row := insertMember(t, db, "m1")
	stmt := row.Update().Set("name", "John").Set("email", "john@example.com")
	if !stmt.HasPendingChanges() {
		t.Fatal("Expected pending changes")
	}
	if !reflect.DeepEqual(stmt.Changes().Columns(), []string{"name", "email"}) {
		t.Errorf("Expected changes in staging order, got %v", stmt.Changes().Columns())
	}

	if err := stmt.Execute(ctx); err != nil {
		t.Fatalf("Failed to update: %v", err)
	}
	if exec.last != `UPDATE "member" SET "name"=?, "email"=? WHERE ("id"=?)` {
		t.Errorf("Unexpected statement: %s", exec.last)
	}

	m := row.Entity()
	if m.Name != "John" || m.Email == nil || *m.Email != "john@example.com" {
		t.Errorf("Expected the entity to hold the new values, got %+v", m)
	}
	if stmt.HasPendingChanges() {
		t.Error("Expected pending changes to be cleared")
	}

	fresh, err := row.Refetch(ctx)
	if err != nil {
		t.Fatalf("Failed to refetch: %v", err)
	}
	if fresh.Entity().Name != "John" {
		t.Errorf("Expected the stored name to change, got %s", fresh.Entity().Name)
	}
}

func TestUpdateSetLastValueWins(t *testing.T) {
	db, _ := openTestDB(t)
	row := insertMember(t, db, "m1")

	stmt := row.Update().Set("name", "a").Set("name", "b")
	changes := stmt.Changes()
	if len(changes) != 1 || changes[0].Value != "b" {
		t.Errorf("Expected a single change to b, got %v", changes)
	}
}

func TestUpdateWithoutChangesSendsNothing(t *testing.T) {
	db, exec := openTestDB(t)
	ctx := context.Background()
	row := insertMember(t, db, "m1")

	before := exec.execs
	if err := row.Update().Execute(ctx); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	stmt := row.Update().ApplyFrom(MemberForm{Name: "m1"})
	if stmt.HasPendingChanges() {
		t.Errorf("Expected equal values not to be staged, got %v", stmt.Changes())
	}
	if err := stmt.Execute(ctx); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if exec.execs != before {
		t.Errorf("Expected no statement, got %d", exec.execs-before)
	}
}

func TestUpdateApplyFromTwice(t *testing.T) {
	db, exec := openTestDB(t)
	ctx := context.Background()
	row := insertMember(t, db, "m1")

	form := MemberForm{Name: "m2", Email: strPtr("m2@example.com")}
	if err := row.Update().ApplyFrom(form).Execute(ctx); err != nil {
		t.Fatalf("Failed to update: %v", err)
	}

	before := exec.execs
	stmt := row.Update().ApplyFrom(form)
	if stmt.HasPendingChanges() {
		t.Errorf("Expected nothing staged the second time, got %v", stmt.Changes())
	}
	if err := stmt.Execute(ctx); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if exec.execs != before {
		t.Errorf("Expected no statement, got %d", exec.execs-before)
	}
}

func TestUpdateApplyFrom(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()
	row := insertMember(t, db, "m1")

	stmt := row.Update().ApplyFrom(&MemberForm{Name: "m1", Email: strPtr("m1@example.com")})
	if !reflect.DeepEqual(stmt.Changes().Columns(), []string{"email"}) {
		t.Fatalf("Expected only email to be staged, got %v", stmt.Changes())
	}
	if err := stmt.Execute(ctx); err != nil {
		t.Fatalf("Failed to update: %v", err)
	}

	// A null source value clears a non-null column.
	stmt = row.Update().ApplyFrom(MemberForm{Name: "m1"})
	if v, ok := stmt.Changes().Get("email"); !ok || v != nil {
		t.Fatalf("Expected an explicit NULL for email, got %v", stmt.Changes())
	}
	if err := stmt.Execute(ctx); err != nil {
		t.Fatalf("Failed to update: %v", err)
	}
	if row.Entity().Email != nil {
		t.Errorf("Expected email to be cleared, got %v", *row.Entity().Email)
	}

	// And is skipped when the column is null already.
	stmt = row.Update().ApplyFrom(map[string]interface{}{"email": nil, "unknown": 1})
	if stmt.HasPendingChanges() {
		t.Errorf("Expected null over null not to be staged, got %v", stmt.Changes())
	}

	// Integer widths do not count as changes.
	stmt = row.Update().ApplyFrom(map[string]interface{}{"created_on": int32(0), "name": "m2"})
	if !reflect.DeepEqual(stmt.Changes().Columns(), []string{"name"}) {
		t.Errorf("Expected only name to be staged, got %v", stmt.Changes())
	}
}

func TestUpdateApplyFromSeesStagedValues(t *testing.T) {
	db, _ := openTestDB(t)
	row := insertMember(t, db, "m1")

	// Staging m1 back over a pending m2 is a real change.
	stmt := row.Update().Set("name", "m2").ApplyFrom(MemberForm{Name: "m1"})
	changes := stmt.Changes()
	if len(changes) != 1 || changes[0].Value != "m1" {
		t.Errorf("Expected the staged value to be replaced, got %v", changes)
	}
}

func TestUpdateRecordsErrors(t *testing.T) {
	db, exec := openTestDB(t)
	ctx := context.Background()
	row := insertMember(t, db, "m1")
	before := exec.execs

	stmt := row.Update().Set("nope", 1).Set("name", "ignored")
	if !IsSchema(stmt.Err()) {
		t.Fatalf("Expected schema error for unknown column, got %v", stmt.Err())
	}
	if err := stmt.Execute(ctx); !IsSchema(err) {
		t.Errorf("Expected Execute to report the recorded error, got %v", err)
	}
	if stmt.HasPendingChanges() {
		t.Error("Expected later calls to be ignored")
	}

	if err := row.Update().Set("created_on", "yesterday").Err(); !IsSchema(err) {
		t.Errorf("Expected schema error for an incompatible value, got %v", err)
	}
	if err := row.Update().ApplyFrom(42).Err(); !IsSchema(err) {
		t.Errorf("Expected schema error for a scalar source, got %v", err)
	}
	if err := row.Update().ApplyFrom((*MemberForm)(nil)).Err(); !IsSchema(err) {
		t.Errorf("Expected schema error for a nil source, got %v", err)
	}
	if exec.execs != before {
		t.Error("Expected no statement to be sent")
	}
}

func TestUpdateDeletedRowKeepsEntity(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()
	row := insertMember(t, db, "m1")

	if _, err := db.Exec(ctx, `DELETE FROM member`); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}

	stmt := row.Update().Set("name", "John")
	err := stmt.Execute(ctx)
	if !IsConsistency(err) {
		t.Fatalf("Expected consistency error, got %v", err)
	}
	if !strings.Contains(err.Error(), "0 rows affected") {
		t.Errorf("Expected the row count in the message, got %v", err)
	}
	if row.Entity().Name != "m1" {
		t.Errorf("Expected the entity to keep its values, got %s", row.Entity().Name)
	}
	if v, ok := stmt.Changes().Get("name"); !ok || v != "John" {
		t.Errorf("Expected the pending change to be kept, got %v", stmt.Changes())
	}
}

func TestUpdatePrimaryKeyChange(t *testing.T) {
	db, exec := openTestDB(t)
	ctx := context.Background()

	if _, err := Insert[Membership](db).Value("tenant_id", 1).Value("member_id", 2).Value("role", "owner").Execute(ctx); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	row, err := Single[Membership](ctx, db, "tenant_id=? AND member_id=?", 1, 2)
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}

	stmt := row.Update().Set("member_id", int64(3))
	if err := stmt.Execute(ctx); err != nil {
		t.Fatalf("Failed to update: %v", err)
	}
	if exec.last != `UPDATE "membership" SET "member_id"=? WHERE ("tenant_id"=?) AND ("member_id"=?)` {
		t.Errorf("Unexpected statement: %s", exec.last)
	}
	if row.Entity().MemberID != 3 {
		t.Errorf("Expected the new key on the entity, got %d", row.Entity().MemberID)
	}

	// The statement now identifies the row by its new key.
	if err := stmt.Set("role", "admin").Execute(ctx); err != nil {
		t.Fatalf("Failed to update through the new key: %v", err)
	}
	fresh, err := row.Refetch(ctx)
	if err != nil {
		t.Fatalf("Failed to refetch: %v", err)
	}
	if fresh.Entity().Role != "admin" {
		t.Errorf("Expected role admin, got %s", fresh.Entity().Role)
	}
}

func TestUpdateHooks(t *testing.T) {
	db, exec := openTestDB(t)
	ctx := context.Background()

	row, err := Insert[guardedMember](db).Value("name", "m1").ExecuteSelect(ctx)
	if err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	before := exec.execs

	if err := row.Update().Set("name", "").Execute(ctx); err == nil {
		t.Fatal("Expected the hook to veto the update")
	}
	if exec.execs != before {
		t.Error("Expected no statement after a veto")
	}
	if row.Entity().Name != "m1" {
		t.Errorf("Expected the entity untouched, got %q", row.Entity().Name)
	}

	if err := row.Update().Set("name", "John").Execute(ctx); err != nil {
		t.Fatalf("Failed to update: %v", err)
	}
	if v, _ := row.Entity().seen.Get("name"); v != "John" {
		t.Errorf("Expected the hook to see the change, got %v", row.Entity().seen)
	}
	if row.Entity().updated != 1 {
		t.Errorf("Expected AfterUpdate once, got %d", row.Entity().updated)
	}
}
