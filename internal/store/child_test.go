package store

import (
	"database/sql"
	"testing"

	"github.com/kulinotech/starhabit/internal/database"
	"github.com/kulinotech/starhabit/internal/model"
)

func setupChildTestDB(t *testing.T) (*ChildStore, *sql.DB) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewChildStore(db), db
}

func TestChildCRUD(t *testing.T) {
	cs, _ := setupChildTestDB(t)

	child, err := cs.Create("Mina", "2016-04-02", "")
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	if child.Name != "Mina" {
		t.Errorf("name = %q, want Mina", child.Name)
	}
	if child.CurrentBalance != 0 {
		t.Errorf("new child balance = %d, want 0", child.CurrentBalance)
	}

	got, err := cs.GetByID(child.ID)
	if err != nil {
		t.Fatalf("get child: %v", err)
	}
	if got == nil || got.Name != "Mina" {
		t.Fatalf("get child: got %+v", got)
	}

	updated, err := cs.UpdateName(child.ID, "Wilhelmina")
	if err != nil {
		t.Fatalf("update name: %v", err)
	}
	if updated.Name != "Wilhelmina" {
		t.Errorf("updated name = %q", updated.Name)
	}

	ok, err := cs.UpdateAvatar(child.ID, "avatars/star.png")
	if err != nil || !ok {
		t.Fatalf("update avatar: ok=%v err=%v", ok, err)
	}

	if err := cs.Delete(child.ID); err != nil {
		t.Fatalf("delete child: %v", err)
	}
	got, err = cs.GetByID(child.ID)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if got != nil {
		t.Errorf("child still present after delete: %+v", got)
	}
}

func TestChildDeleteRemovesAssignments(t *testing.T) {
	cs, db := setupChildTestDB(t)
	ts := NewTaskStore(db)

	child, err := cs.Create("Ada", "", "")
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	task, err := ts.Create(model.Task{
		Name: "Feed the cat", RecurrenceRule: "FREQ=DAILY",
		Active: true, AssignedTo: []int64{child.ID}, MaxCompletionsPerDay: 1,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	if err := cs.Delete(child.ID); err != nil {
		t.Fatalf("delete child: %v", err)
	}

	// The delete must take the assignment rows with it; the scheduler
	// trusts assigned_to to only name children that exist.
	var orphans int
	err = db.QueryRow(`SELECT COUNT(*) FROM task_assignments WHERE child_id = ?`, child.ID).Scan(&orphans)
	if err != nil {
		t.Fatalf("count assignments: %v", err)
	}
	if orphans != 0 {
		t.Errorf("orphan assignment rows = %d, want 0", orphans)
	}

	got, err := ts.GetByID(task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if len(got.AssignedTo) != 0 {
		t.Errorf("assigned_to = %v, want empty", got.AssignedTo)
	}
}

func TestChildGetMissing(t *testing.T) {
	cs, _ := setupChildTestDB(t)

	child, err := cs.GetByID(9999)
	if err != nil {
		t.Fatalf("get missing child: %v", err)
	}
	if child != nil {
		t.Errorf("expected nil for missing child, got %+v", child)
	}
}

func TestChildList(t *testing.T) {
	cs, _ := setupChildTestDB(t)

	for _, name := range []string{"Ada", "Ben", "Cleo"} {
		if _, err := cs.Create(name, "", ""); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	children, err := cs.List()
	if err != nil {
		t.Fatalf("list children: %v", err)
	}
	if len(children) != 3 {
		t.Fatalf("expected 3 children, got %d", len(children))
	}
}
