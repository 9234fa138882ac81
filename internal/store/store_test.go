package store

import (
	"database/sql"
	"errors"
	"testing"
	"time"
)

const testOwner = "local"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustDefaultBucket(t *testing.T, s *Store) *Bucket {
	t.Helper()
	b, err := s.EnsureDefaultBucket(testOwner)
	if err != nil {
		t.Fatalf("ensure default bucket: %v", err)
	}
	return b
}

// insertClosedEntry inserts a completed entry ending startOffset seconds ago.
func insertClosedEntry(t *testing.T, s *Store, taskID string, startOffset, durationSecs int) {
	t.Helper()
	now := time.Now().UTC()
	start := now.Add(time.Duration(-startOffset) * time.Second)
	end := start.Add(time.Duration(durationSecs) * time.Second)
	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO sessions (id, owner_id, task_id, device_id, started_at, is_active)
		 VALUES ('sess-x', ?, ?, 'dev-1', ?, 0)`,
		testOwner, taskID, start.Format(time.RFC3339),
	); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	_, err := s.db.Exec(
		`INSERT INTO time_entries (id, session_id, task_id, owner_id, device_id, started_at, ended_at, duration_seconds)
		 VALUES (hex(randomblob(16)), 'sess-x', ?, ?, 'dev-1', ?, ?, ?)`,
		taskID, testOwner, start.Format(time.RFC3339), end.Format(time.RFC3339), durationSecs,
	)
	if err != nil {
		t.Fatalf("insert entry: %v", err)
	}
}

// ============================================================
// Open / migrations
// ============================================================

func TestOpenMemory(t *testing.T) {
	s := newTestStore(t)

	var version int
	s.db.QueryRow("PRAGMA user_version").Scan(&version)
	if version != 4 {
		t.Fatalf("expected user_version 4, got %d", version)
	}
}

func TestOpenWithPath(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/sub/focusdeck.db"
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	// Reopening an existing database must not re-run migrations.
	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	s2.Close()
}

func TestPragmasConfigured(t *testing.T) {
	s := newTestStore(t)

	var fk int
	s.db.QueryRow("PRAGMA foreign_keys").Scan(&fk)
	if fk != 1 {
		t.Fatalf("expected foreign_keys=1, got %d", fk)
	}
}

func TestMigrationIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.migrate(); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
}

func TestMigrateV4MovesProviderDescriptions(t *testing.T) {
	// Build a database stopped at v3, insert legacy-shaped rows, then let
	// the normal upgrade path take it to v4.
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := &Store{db: db}
	for _, m := range migrations[:3] {
		tx, _ := db.Begin()
		if err := m.apply(tx); err != nil {
			t.Fatalf("migration v%d: %v", m.version, err)
		}
		tx.Exec("PRAGMA user_version = 3")
		tx.Commit()
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = db.Exec(
		`INSERT INTO tasks (id, owner_id, bucket_id, section, status, title, description, source, source_id, connection_id, created_at, updated_at)
		 VALUES ('t1', 'local', 'b1', 'today', 'open', 'Fix login', 'from Linear', 'linear', 'LIN-9', 'conn-1', ?, ?),
		        ('t2', 'local', 'b1', 'today', 'open', 'Write doc', 'my note', 'manual', '', '', ?, ?)`,
		now, now, now, now,
	)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.migrate(); err != nil {
		t.Fatalf("upgrade to v4: %v", err)
	}

	imported, err := s.GetTask("t1")
	if err != nil {
		t.Fatal(err)
	}
	if imported.SourceDescription != "from Linear" || imported.Description != "" {
		t.Fatalf("provider description not moved: %+v", imported)
	}
	if imported.SourceID == nil || *imported.SourceID != "LIN-9" {
		t.Fatal("source id lost in migration")
	}

	manual, err := s.GetTask("t2")
	if err != nil {
		t.Fatal(err)
	}
	if manual.Description != "my note" || manual.SourceDescription != "" {
		t.Fatalf("manual description must not move: %+v", manual)
	}
	if manual.SourceID != nil || manual.ConnectionID != nil {
		t.Fatal("empty-string foreign keys should normalize to NULL")
	}

	// Rerunning the data migration must be a no-op.
	tx, _ := db.Begin()
	for _, stmt := range []string{
		`UPDATE tasks SET source_description = description, description = ''
		 WHERE source != 'manual' AND source_description = '' AND description != ''`,
		`UPDATE tasks SET source_id = NULL WHERE source_id = ''`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			t.Fatal(err)
		}
	}
	tx.Commit()
	again, _ := s.GetTask("t1")
	if again.SourceDescription != "from Linear" {
		t.Fatal("rerun changed migrated data")
	}
}

// ============================================================
// Buckets
// ============================================================

func TestEnsureDefaultBucketIdempotent(t *testing.T) {
	s := newTestStore(t)
	b1 := mustDefaultBucket(t, s)
	b2 := mustDefaultBucket(t, s)

	if b1.ID != b2.ID {
		t.Fatal("second ensure should return the same bucket")
	}
	if !b1.IsDefault || b1.Name != "Inbox" || b1.Position != 0 {
		t.Fatalf("unexpected default bucket: %+v", b1)
	}
}

func TestCreateBucketAppendsPosition(t *testing.T) {
	s := newTestStore(t)
	mustDefaultBucket(t, s)

	b1, err := s.CreateBucket(testOwner, "Deep Work", "folder", "#2EC4B6")
	if err != nil {
		t.Fatal(err)
	}
	b2, _ := s.CreateBucket(testOwner, "Errands", "folder", "#FF6B6B")

	if b1.Position != 1 || b2.Position != 2 {
		t.Fatalf("positions should append: %d, %d", b1.Position, b2.Position)
	}
}

func TestDeleteDefaultBucketIsNoOp(t *testing.T) {
	s := newTestStore(t)
	def := mustDefaultBucket(t, s)

	if err := s.DeleteBucket(def.ID); err != nil {
		t.Fatalf("deleting the default bucket must not error: %v", err)
	}
	if _, err := s.GetBucket(def.ID); err != nil {
		t.Fatal("default bucket must survive")
	}
}

func TestDeleteBucketMigratesTasksAndRenumbers(t *testing.T) {
	s := newTestStore(t)
	def := mustDefaultBucket(t, s)
	doomed, _ := s.CreateBucket(testOwner, "Doomed", "folder", "#000")
	last, _ := s.CreateBucket(testOwner, "Last", "folder", "#000")

	task, err := s.CreateTask(testOwner, doomed.ID, SectionToday, "Orphan", "")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteBucket(doomed.ID); err != nil {
		t.Fatal(err)
	}

	moved, _ := s.GetTask(task.ID)
	if moved.BucketID != def.ID {
		t.Fatal("task should migrate to the default bucket")
	}
	if _, err := s.GetBucket(doomed.ID); !errors.Is(err, ErrNotFound) {
		t.Fatal("deleted bucket should be gone")
	}

	// Positions stay dense: default 0, survivor 1.
	survivor, _ := s.GetBucket(last.ID)
	if survivor.Position != 1 {
		t.Fatalf("expected survivor at position 1, got %d", survivor.Position)
	}
}

func TestMoveBucketRenumbersDensely(t *testing.T) {
	s := newTestStore(t)
	def := mustDefaultBucket(t, s)
	a, _ := s.CreateBucket(testOwner, "A", "folder", "#000")
	b, _ := s.CreateBucket(testOwner, "B", "folder", "#000")

	if err := s.MoveBucket(b.ID, 0); err != nil {
		t.Fatal(err)
	}

	buckets, _ := s.ListBuckets(testOwner)
	wantOrder := []string{b.ID, def.ID, a.ID}
	for i, want := range wantOrder {
		if buckets[i].ID != want {
			t.Fatalf("position %d: got %s, want %s", i, buckets[i].Name, want)
		}
		if buckets[i].Position != i {
			t.Fatalf("position not dense at %d: %d", i, buckets[i].Position)
		}
	}
}

// ============================================================
// Tasks
// ============================================================

func TestCreateAndGetTask(t *testing.T) {
	s := newTestStore(t)
	def := mustDefaultBucket(t, s)

	task, err := s.CreateTask(testOwner, def.ID, SectionSooner, "Write report", "quarterly")
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.GetTask(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Write report" || got.Section != SectionSooner || got.Status != StatusOpen {
		t.Fatalf("unexpected task: %+v", got)
	}
	if got.Source != SourceManual || got.SourceID != nil {
		t.Fatal("manual task must carry no source id")
	}
}

func TestGetTaskNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetTask("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTaskPositionsPerSection(t *testing.T) {
	s := newTestStore(t)
	def := mustDefaultBucket(t, s)

	t1, _ := s.CreateTask(testOwner, def.ID, SectionToday, "One", "")
	t2, _ := s.CreateTask(testOwner, def.ID, SectionToday, "Two", "")
	other, _ := s.CreateTask(testOwner, def.ID, SectionLater, "Other", "")

	if t1.Position != 0 || t2.Position != 1 {
		t.Fatalf("section positions should append: %d, %d", t1.Position, t2.Position)
	}
	if other.Position != 0 {
		t.Fatal("sections are ordered independently")
	}
}

func TestImportDedupIndex(t *testing.T) {
	s := newTestStore(t)
	def := mustDefaultBucket(t, s)
	sid := "LIN-42"

	first := Task{ID: "i1", OwnerID: testOwner, BucketID: def.ID, Section: SectionToday,
		Title: "Imported", Source: SourceLinear, SourceID: &sid}
	if err := s.InsertImported([]Task{first}); err != nil {
		t.Fatal(err)
	}

	dup := Task{ID: "i2", OwnerID: testOwner, BucketID: def.ID, Section: SectionToday,
		Title: "Imported again", Source: SourceLinear, SourceID: &sid}
	if err := s.InsertImported([]Task{dup}); err == nil {
		t.Fatal("duplicate (owner, source_id) must be rejected by the unique index")
	}

	// Manual tasks are exempt from the partial index.
	if _, err := s.CreateTask(testOwner, def.ID, SectionToday, "Manual 1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateTask(testOwner, def.ID, SectionToday, "Manual 2", ""); err != nil {
		t.Fatal(err)
	}
}

func TestInsertImportedBatchAtomic(t *testing.T) {
	s := newTestStore(t)
	def := mustDefaultBucket(t, s)
	sid := "T-1"

	// Second item violates the dedup index; the whole batch must roll back.
	batch := []Task{
		{ID: "a1", OwnerID: testOwner, BucketID: def.ID, Section: SectionToday, Title: "A", Source: SourceTodoist, SourceID: &sid},
		{ID: "a2", OwnerID: testOwner, BucketID: def.ID, Section: SectionToday, Title: "B", Source: SourceTodoist, SourceID: &sid},
	}
	if err := s.InsertImported(batch); err == nil {
		t.Fatal("expected batch failure")
	}
	if _, err := s.GetTask("a1"); !errors.Is(err, ErrNotFound) {
		t.Fatal("failed batch must leave no partial rows")
	}
}

func TestTaskBySourceID(t *testing.T) {
	s := newTestStore(t)
	def := mustDefaultBucket(t, s)
	sid := "AT-7"
	s.InsertImported([]Task{{ID: "x1", OwnerID: testOwner, BucketID: def.ID,
		Section: SectionToday, Title: "Lead", Source: SourceAttio, SourceID: &sid}})

	got, err := s.TaskBySourceID(testOwner, "AT-7")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "x1" {
		t.Fatalf("wrong task: %s", got.ID)
	}
	if _, err := s.TaskBySourceID(testOwner, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatal("missing source id should be ErrNotFound")
	}
}

func TestTaskCorruptSourceMetadataSurfaces(t *testing.T) {
	s := newTestStore(t)
	def := mustDefaultBucket(t, s)
	sid := "LIN-99"
	if err := s.InsertImported([]Task{{ID: "m1", OwnerID: testOwner, BucketID: def.ID,
		Section: SectionToday, Title: "Meta", Source: SourceLinear, SourceID: &sid,
		SourceMetadata: map[string]string{"teamId": "core"}}}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec(`UPDATE tasks SET source_metadata = 'not json' WHERE id = 'm1'`); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetTask("m1"); err == nil {
		t.Fatal("corrupt source metadata must be reported, not read as empty")
	}
}

func TestListTasksExcludesDoneByDefault(t *testing.T) {
	s := newTestStore(t)
	def := mustDefaultBucket(t, s)
	open, _ := s.CreateTask(testOwner, def.ID, SectionToday, "Open", "")
	done, _ := s.CreateTask(testOwner, def.ID, SectionToday, "Done", "")
	s.SetTaskStatus(done.ID, StatusDone)

	tasks, err := s.ListTasks(def.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].ID != open.ID {
		t.Fatalf("expected only the open task, got %d", len(tasks))
	}

	all, _ := s.ListTasks(def.ID, true)
	if len(all) != 2 {
		t.Fatalf("includeDone should return both, got %d", len(all))
	}
}

func TestMoveTaskAppendsInTarget(t *testing.T) {
	s := newTestStore(t)
	def := mustDefaultBucket(t, s)
	other, _ := s.CreateBucket(testOwner, "Other", "folder", "#000")
	s.CreateTask(testOwner, other.ID, SectionToday, "Existing", "")
	task, _ := s.CreateTask(testOwner, def.ID, SectionToday, "Mover", "")

	if err := s.MoveTask(task.ID, other.ID, SectionToday); err != nil {
		t.Fatal(err)
	}
	moved, _ := s.GetTask(task.ID)
	if moved.BucketID != other.ID || moved.Position != 1 {
		t.Fatalf("expected end of target section: %+v", moved)
	}
}

// ============================================================
// Outbox
// ============================================================

func TestWritesEnqueueOutboxRecords(t *testing.T) {
	s := newTestStore(t)
	def := mustDefaultBucket(t, s)
	before, _ := s.OutboxCount()

	task, _ := s.CreateTask(testOwner, def.ID, SectionToday, "Tracked", "")
	s.SetTaskStatus(task.ID, StatusDone)

	after, _ := s.OutboxCount()
	if after != before+2 {
		t.Fatalf("expected 2 new outbox records, got %d", after-before)
	}
}

func TestPendingOutboxCreationOrder(t *testing.T) {
	s := newTestStore(t)
	def := mustDefaultBucket(t, s)
	s.CreateTask(testOwner, def.ID, SectionToday, "First", "")
	s.CreateTask(testOwner, def.ID, SectionToday, "Second", "")

	items, err := s.PendingOutbox(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) < 3 {
		t.Fatalf("expected at least 3 records, got %d", len(items))
	}
	for i := 1; i < len(items); i++ {
		if items[i].ID <= items[i-1].ID {
			t.Fatal("outbox must list in creation order")
		}
	}
}

func TestRescheduledOutboxItemNotDue(t *testing.T) {
	s := newTestStore(t)
	mustDefaultBucket(t, s)

	items, _ := s.PendingOutbox(1)
	if len(items) != 1 {
		t.Fatal("expected a pending record")
	}
	it := items[0]

	future := time.Now().UTC().Add(time.Hour)
	if err := s.RescheduleOutboxItem(it.ID, future, "connection refused"); err != nil {
		t.Fatal(err)
	}

	due, _ := s.PendingOutbox(0)
	for _, d := range due {
		if d.ID == it.ID {
			t.Fatal("rescheduled record must not be due")
		}
	}

	blocked, _ := s.OutboxBlockedEntities()
	if !blocked[[2]string{it.Table, it.EntityID}] {
		t.Fatal("rescheduled record's entity should be blocked")
	}

	count, _ := s.OutboxCount()
	if count == 0 {
		t.Fatal("reschedule must not delete the record")
	}
}

func TestDeleteOutboxItem(t *testing.T) {
	s := newTestStore(t)
	mustDefaultBucket(t, s)

	items, _ := s.PendingOutbox(1)
	if err := s.DeleteOutboxItem(items[0].ID); err != nil {
		t.Fatal(err)
	}
	count, _ := s.OutboxCount()
	if count != 0 {
		t.Fatalf("expected empty outbox, got %d", count)
	}
}

func TestFailedWriteLeavesNoOutboxRecord(t *testing.T) {
	s := newTestStore(t)
	def := mustDefaultBucket(t, s)
	sid := "DUP-1"
	s.InsertImported([]Task{{ID: "d1", OwnerID: testOwner, BucketID: def.ID,
		Section: SectionToday, Title: "One", Source: SourceLinear, SourceID: &sid}})
	before, _ := s.OutboxCount()

	err := s.InsertImported([]Task{{ID: "d2", OwnerID: testOwner, BucketID: def.ID,
		Section: SectionToday, Title: "Two", Source: SourceLinear, SourceID: &sid}})
	if err == nil {
		t.Fatal("expected dedup failure")
	}

	after, _ := s.OutboxCount()
	if after != before {
		t.Fatal("rolled-back write must not leave an outbox record")
	}
}

// ============================================================
// Sessions and entries
// ============================================================

func TestStartSessionCreatesOpenEntry(t *testing.T) {
	s := newTestStore(t)
	def := mustDefaultBucket(t, s)
	task, _ := s.CreateTask(testOwner, def.ID, SectionToday, "Focus", "")

	sess, entry, err := s.StartSession(testOwner, task.ID, "dev-1", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !sess.IsActive || sess.EndedAt != nil {
		t.Fatal("session should start active")
	}
	open, err := s.OpenEntry(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if open.ID != entry.ID || open.EndedAt != nil || open.DurationSeconds != nil {
		t.Fatalf("unexpected open entry: %+v", open)
	}
}

func TestSwitchEntryClosesPrevious(t *testing.T) {
	s := newTestStore(t)
	def := mustDefaultBucket(t, s)
	t1, _ := s.CreateTask(testOwner, def.ID, SectionToday, "One", "")
	t2, _ := s.CreateTask(testOwner, def.ID, SectionToday, "Two", "")

	start := time.Now().UTC().Add(-90 * time.Second)
	sess, first, _ := s.StartSession(testOwner, t1.ID, "dev-1", start)

	next, err := s.SwitchEntry(sess, first, t2.ID, start.Add(60*time.Second))
	if err != nil {
		t.Fatal(err)
	}

	entries, _ := s.ListEntries(EntryFilter{SessionID: &sess.ID})
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	open, _ := s.OpenEntry(sess.ID)
	if open.ID != next.ID || open.TaskID != t2.ID {
		t.Fatal("new entry should be the open one")
	}

	for _, e := range entries {
		if e.ID == first.ID {
			if e.EndedAt == nil || e.DurationSeconds == nil {
				t.Fatal("switched-away entry must be closed")
			}
			if *e.DurationSeconds != 60 {
				t.Fatalf("expected 60s, got %d", *e.DurationSeconds)
			}
		}
	}
}

func TestCloseSessionClosesEntryAndSession(t *testing.T) {
	s := newTestStore(t)
	def := mustDefaultBucket(t, s)
	task, _ := s.CreateTask(testOwner, def.ID, SectionToday, "Focus", "")

	start := time.Now().UTC().Add(-30 * time.Second)
	sess, entry, _ := s.StartSession(testOwner, task.ID, "dev-1", start)

	if err := s.CloseSession(sess, entry, start.Add(30*time.Second)); err != nil {
		t.Fatal(err)
	}

	closed, _ := s.GetSession(sess.ID)
	if closed.IsActive || closed.EndedAt == nil {
		t.Fatal("session should be closed")
	}
	if _, err := s.OpenEntry(sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatal("no entry should remain open")
	}
}

func TestCloseEntryClampsNegativeDuration(t *testing.T) {
	s := newTestStore(t)
	def := mustDefaultBucket(t, s)
	task, _ := s.CreateTask(testOwner, def.ID, SectionToday, "Clock skew", "")

	start := time.Now().UTC()
	sess, entry, _ := s.StartSession(testOwner, task.ID, "dev-1", start)
	// Close before the recorded start (backwards clock).
	if err := s.CloseSession(sess, entry, start.Add(-10*time.Second)); err != nil {
		t.Fatal(err)
	}

	entries, _ := s.ListEntries(EntryFilter{SessionID: &sess.ID})
	if *entries[0].DurationSeconds != 0 {
		t.Fatalf("negative duration must clamp to 0, got %d", *entries[0].DurationSeconds)
	}
}

func TestActiveSessionNewestSince(t *testing.T) {
	s := newTestStore(t)
	def := mustDefaultBucket(t, s)
	task, _ := s.CreateTask(testOwner, def.ID, SectionToday, "Focus", "")

	old := time.Now().UTC().Add(-48 * time.Hour)
	s.StartSession(testOwner, task.ID, "dev-old", old)
	sess2, _, _ := s.StartSession(testOwner, task.ID, "dev-new", time.Now().UTC().Add(-time.Minute))

	dayStart := time.Now().UTC().Add(-12 * time.Hour)
	got, err := s.ActiveSession(testOwner, dayStart)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != sess2.ID {
		t.Fatal("should return today's newest active session")
	}

	if _, err := s.ActiveSession(testOwner, time.Now().UTC().Add(time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatal("future cutoff should find nothing")
	}
}

func TestRecentTaskDurations(t *testing.T) {
	s := newTestStore(t)
	def := mustDefaultBucket(t, s)
	task, _ := s.CreateTask(testOwner, def.ID, SectionToday, "Repeats", "")

	// Newest first: 300 is most recent.
	insertClosedEntry(t, s, task.ID, 3000, 900)
	insertClosedEntry(t, s, task.ID, 2000, 600)
	insertClosedEntry(t, s, task.ID, 1000, 300)

	got, err := s.RecentTaskDurations(task.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != 300 || got[1] != 600 {
		t.Fatalf("expected [300 600], got %v", got)
	}
}

func TestRecentBucketDurationsSpansTasks(t *testing.T) {
	s := newTestStore(t)
	def := mustDefaultBucket(t, s)
	t1, _ := s.CreateTask(testOwner, def.ID, SectionToday, "One", "")
	t2, _ := s.CreateTask(testOwner, def.ID, SectionToday, "Two", "")

	insertClosedEntry(t, s, t1.ID, 2000, 600)
	insertClosedEntry(t, s, t2.ID, 1000, 1200)

	got, err := s.RecentBucketDurations(def.ID, 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected both tasks' entries, got %v", got)
	}
}

func TestBucketFocusSummary(t *testing.T) {
	s := newTestStore(t)
	def := mustDefaultBucket(t, s)
	task, _ := s.CreateTask(testOwner, def.ID, SectionToday, "Focus", "")

	insertClosedEntry(t, s, task.ID, 3600, 600)
	insertClosedEntry(t, s, task.ID, 1800, 900)

	now := time.Now().UTC()
	summaries, err := s.GetBucketFocusSummary(testOwner, now.Add(-24*time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected one bucket, got %d", len(summaries))
	}
	if summaries[0].TotalSeconds != 1500 || summaries[0].EntryCount != 2 {
		t.Fatalf("unexpected summary: %+v", summaries[0])
	}
}

// ============================================================
// Rules and connections
// ============================================================

func TestImportRuleFilterRoundtrip(t *testing.T) {
	s := newTestStore(t)
	def := mustDefaultBucket(t, s)

	r, err := s.CreateImportRule(testOwner, LinearFilter{TeamID: "team-1", TeamName: "Core"}, def.ID, SectionSooner)
	if err != nil {
		t.Fatal(err)
	}
	if r.IntegrationType != SourceLinear {
		t.Fatalf("integration type derived from filter: %s", r.IntegrationType)
	}

	got, _ := s.GetImportRule(r.ID)
	lf, ok := got.Filter.(LinearFilter)
	if !ok {
		t.Fatalf("expected LinearFilter, got %T", got.Filter)
	}
	if lf.TeamID != "team-1" || lf.TeamName != "Core" {
		t.Fatalf("filter did not roundtrip: %+v", lf)
	}
}

func TestAttioAllListsFilter(t *testing.T) {
	s := newTestStore(t)
	def := mustDefaultBucket(t, s)

	r, err := s.CreateImportRule(testOwner, AttioFilter{ListID: AttioAllLists}, def.ID, SectionToday)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetImportRule(r.ID)
	af := got.Filter.(AttioFilter)
	if af.ListID != AttioAllLists {
		t.Fatal("all-lists sentinel did not roundtrip")
	}
}

func TestListImportRulesStoredOrder(t *testing.T) {
	s := newTestStore(t)
	def := mustDefaultBucket(t, s)

	r1, _ := s.CreateImportRule(testOwner, LinearFilter{TeamID: "a"}, def.ID, SectionToday)
	r2, _ := s.CreateImportRule(testOwner, LinearFilter{TeamID: "b"}, def.ID, SectionToday)
	r3, _ := s.CreateImportRule(testOwner, TodoistFilter{ProjectID: "c"}, def.ID, SectionToday)

	rules, err := s.ListImportRules(testOwner, false)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{r1.ID, r2.ID, r3.ID}
	if len(rules) != 3 {
		t.Fatalf("expected 3 rules, got %d", len(rules))
	}
	for i, id := range want {
		if rules[i].ID != id {
			t.Fatal("rules must list in creation order")
		}
	}

	s.SetImportRuleActive(r2.ID, false)
	active, _ := s.ListImportRules(testOwner, true)
	if len(active) != 2 {
		t.Fatalf("expected 2 active rules, got %d", len(active))
	}
}

func TestConnectionsAreLocalOnly(t *testing.T) {
	s := newTestStore(t)
	before, _ := s.OutboxCount()

	c, err := s.CreateConnection(SourceTodoist, "Personal", "secret-token", map[string]string{"workspace": "me"})
	if err != nil {
		t.Fatal(err)
	}

	after, _ := s.OutboxCount()
	if after != before {
		t.Fatal("connections must never enqueue outbox records")
	}

	if err := s.DisconnectConnection(c.ID, true); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetConnection(c.ID)
	if got.IsActive || got.Credential != "" {
		t.Fatalf("disconnect should deactivate and clear credential: %+v", got)
	}
}

func TestConnectionCorruptMetadataSurfaces(t *testing.T) {
	s := newTestStore(t)

	c, err := s.CreateConnection(SourceLinear, "Work", "tok", map[string]string{"workspace": "w1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec(`UPDATE connections SET metadata = '{' WHERE id = ?`, c.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetConnection(c.ID); err == nil {
		t.Fatal("corrupt metadata must be reported, not read as empty")
	}
	if _, err := s.ListConnections(false); err == nil {
		t.Fatal("corrupt metadata must be reported in listings too")
	}
}

// ============================================================
// App state
// ============================================================

func TestEnsureAppStateStableDeviceID(t *testing.T) {
	s := newTestStore(t)
	st1, err := s.EnsureAppState()
	if err != nil {
		t.Fatal(err)
	}
	if st1.DeviceID == "" {
		t.Fatal("device id must be minted")
	}
	st2, _ := s.EnsureAppState()
	if st2.DeviceID != st1.DeviceID {
		t.Fatal("device id must be stable across calls")
	}
}

func TestTimerSnapshotRoundtrip(t *testing.T) {
	s := newTestStore(t)
	s.EnsureAppState()

	started := time.Now().UTC().Truncate(time.Second)
	if err := s.SaveTimerSnapshot("sess-1", "entry-1", "task-1", started); err != nil {
		t.Fatal(err)
	}
	st, _ := s.GetAppState()
	if st.ActiveSessionID == nil || *st.ActiveSessionID != "sess-1" {
		t.Fatalf("snapshot not saved: %+v", st)
	}
	if st.TimerStartedAt == nil || !st.TimerStartedAt.Equal(started) {
		t.Fatal("timer start not saved")
	}

	if err := s.ClearTimerSnapshot(); err != nil {
		t.Fatal(err)
	}
	st, _ = s.GetAppState()
	if st.ActiveSessionID != nil || st.TimerStartedAt != nil {
		t.Fatal("snapshot not cleared")
	}
}
