package store

import (
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate; a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestAccountsReplacedWholesale(t *testing.T) {
	db := testDB(t)

	if err := db.ReplaceAccounts([]string{"+1", "+2"}); err != nil {
		t.Fatal(err)
	}
	if err := db.ReplaceAccounts([]string{"+3", "+1"}); err != nil {
		t.Fatal(err)
	}
	got, err := db.ListAccounts()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "+3" || got[1] != "+1" {
		t.Errorf("accounts = %v, want [+3 +1]", got)
	}
}

func TestAppendMessageIdempotent(t *testing.T) {
	db := testDB(t)

	m := &Message{Account: "+1", ID: "m1", From: "+2", To: "+1", Text: "hi", CreatedAt: time.UnixMilli(1000)}
	inserted, err := db.AppendMessage(m)
	if err != nil {
		t.Fatal(err)
	}
	if !inserted || m.Seq == 0 {
		t.Fatalf("first append inserted=%v seq=%d, want true and non-zero", inserted, m.Seq)
	}

	dup := &Message{Account: "+1", ID: "m1", From: "+2", To: "+1", Text: "changed"}
	inserted, err = db.AppendMessage(dup)
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("second append inserted=true, want false")
	}

	msgs, err := db.ThreadMessages("+1", "+2")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Text != "hi" {
		t.Fatalf("thread = %+v, want one message with text hi", msgs)
	}
	if msgs[0].CreatedAt.UnixMilli() != 1000 {
		t.Errorf("created_at = %v, want 1000ms", msgs[0].CreatedAt)
	}
}

func TestThreadKeepsArrivalOrder(t *testing.T) {
	db := testDB(t)

	// Later createdAt arrives first; thread order must still follow arrival.
	for _, m := range []*Message{
		{Account: "+1", ID: "b", From: "+2", To: "+1", CreatedAt: time.UnixMilli(2000)},
		{Account: "+1", ID: "a", From: "+1", To: "+2", CreatedAt: time.UnixMilli(1000)},
		{Account: "+1", ID: "c", From: "+3", To: "+1", CreatedAt: time.UnixMilli(500)},
	} {
		if _, err := db.AppendMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := db.ThreadMessages("+1", "+2")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].ID != "b" || msgs[1].ID != "a" {
		t.Errorf("thread ids = %v, want [b a]", ids(msgs))
	}
}

func TestMessagesScopedByAccount(t *testing.T) {
	db := testDB(t)

	if _, err := db.AppendMessage(&Message{Account: "+1", ID: "m1", From: "+9", To: "+1"}); err != nil {
		t.Fatal(err)
	}
	inserted, err := db.AppendMessage(&Message{Account: "+2", ID: "m1", From: "+9", To: "+2"})
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Error("same id under another account should insert")
	}
	if err := db.ClearMessages("+1"); err != nil {
		t.Fatal(err)
	}
	count, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("message count = %d, want 1", count)
	}
}

func TestListContactsJoin(t *testing.T) {
	db := testDB(t)

	if err := db.ReplaceContacts("+1", []Contact{{Number: "+20", Name: "Bob"}, {Number: "+10", Name: "Al"}}); err != nil {
		t.Fatal(err)
	}
	for _, n := range []string{"+30", "+20", "+40"} {
		if _, err := db.AddDiscovered("+1", n); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.MarkDeleted("+1", "+40"); err != nil {
		t.Fatal(err)
	}

	got, err := db.ListContacts("+1")
	if err != nil {
		t.Fatal(err)
	}
	want := []Contact{
		{Account: "+1", Number: "+20", Name: "Bob"},
		{Account: "+1", Number: "+10", Name: "Al"},
		{Account: "+1", Number: "+30", Name: "+30", Discovered: true},
	}
	if len(got) != len(want) {
		t.Fatalf("contacts = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("contact[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	count, err := db.ContactCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("contact count = %d, want 3", count)
	}
}

func TestReplaceContactsKeepsDiscovered(t *testing.T) {
	db := testDB(t)

	if _, err := db.AddDiscovered("+1", "+50"); err != nil {
		t.Fatal(err)
	}
	if err := db.ReplaceContacts("+1", nil); err != nil {
		t.Fatal(err)
	}
	known, err := db.HasContact("+1", "+50")
	if err != nil {
		t.Fatal(err)
	}
	if !known {
		t.Error("discovered contact lost after ReplaceContacts")
	}

	added, err := db.AddDiscovered("+1", "+50")
	if err != nil {
		t.Fatal(err)
	}
	if added {
		t.Error("AddDiscovered twice should report false")
	}
}

func TestFolderOverridesExclusive(t *testing.T) {
	db := testDB(t)

	if err := db.SetFolder("+1", "+2", FolderArchived); err != nil {
		t.Fatal(err)
	}
	if err := db.SetFolder("+1", "+2", FolderFavorite); err != nil {
		t.Fatal(err)
	}
	fs, err := db.LoadFolderState("+1")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := fs.Archived["+2"]; ok {
		t.Error("number still archived after favorite")
	}
	if fs.Classify("+2") != FolderFavorite {
		t.Errorf("classify = %s, want favorite", fs.Classify("+2"))
	}

	// Clearing the wrong folder is a no-op.
	if err := db.ClearFolder("+1", "+2", FolderArchived); err != nil {
		t.Fatal(err)
	}
	folder, err := db.FolderOf("+1", "+2")
	if err != nil {
		t.Fatal(err)
	}
	if folder != FolderFavorite {
		t.Errorf("folder = %s, want favorite", folder)
	}
}

func TestDeletedNumbersCannotBeFiled(t *testing.T) {
	db := testDB(t)

	if err := db.SetFolder("+1", "+2", FolderFavorite); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkDeleted("+1", "+2"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetFolder("+1", "+2", FolderArchived); err != nil {
		t.Fatal(err)
	}

	fs, err := db.LoadFolderState("+1")
	if err != nil {
		t.Fatal(err)
	}
	if len(fs.Archived) != 0 || len(fs.Favorite) != 0 {
		t.Errorf("deleted number filed: archived=%v favorite=%v", fs.Archived, fs.Favorite)
	}
	if !fs.IsDeleted("+2") {
		t.Error("number not reported deleted")
	}
	deleted, err := db.IsDeleted("+1", "+2")
	if err != nil {
		t.Fatal(err)
	}
	if !deleted {
		t.Error("IsDeleted = false, want true")
	}
}

func TestUnreadCounters(t *testing.T) {
	db := testDB(t)

	for i := 0; i < 3; i++ {
		if _, err := db.IncrementUnread("+1", "+2"); err != nil {
			t.Fatal(err)
		}
	}
	n, err := db.UnreadCount("+1", "+2")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}

	if err := db.SetUnreadBatch("+1", map[string]int{"+2": 0, "+3": 5, "+4": -2}); err != nil {
		t.Fatal(err)
	}
	counts, err := db.UnreadCounts("+1")
	if err != nil {
		t.Fatal(err)
	}
	if len(counts) != 1 || counts["+3"] != 5 {
		t.Errorf("counts = %v, want map[+3:5]", counts)
	}

	n, err = db.UnreadCount("+1", "+missing")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("missing counter = %d, want 0", n)
	}
}

func TestState(t *testing.T) {
	db := testDB(t)

	if _, ok, err := db.GetState("k"); err != nil || ok {
		t.Fatalf("GetState(missing) ok=%v err=%v", ok, err)
	}
	if err := db.PutState("k", "v1"); err != nil {
		t.Fatal(err)
	}
	if err := db.PutState("k", "v2"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := db.GetState("k")
	if err != nil || !ok || v != "v2" {
		t.Errorf("GetState = %q,%v,%v want v2,true,nil", v, ok, err)
	}
}

func ids(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
