package notes

import (
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/nestnotes/backend/internal/accounts"
	"github.com/nestnotes/backend/internal/fault"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

func newTestEnv(t *testing.T, ids []string) (*Service, *FolderService, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:notes_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Note{}, &Folder{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	generator := &staticIDGenerator{ids: ids}
	clock := func() time.Time { return time.Unix(1700000600, 0).UTC() }

	noteService, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: generator,
	})
	if err != nil {
		t.Fatalf("failed to construct notes service: %v", err)
	}
	folderService, err := NewFolderService(FolderServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: generator,
	})
	if err != nil {
		t.Fatalf("failed to construct folders service: %v", err)
	}

	return noteService, folderService, db
}

func childAccount(id string) accounts.Record {
	return accounts.Record{
		ID:    id,
		Email: id + "@example.com",
		Role:  accounts.RoleChild,
	}
}

func parentAccount(id string, childIDs ...string) accounts.Record {
	return accounts.Record{
		ID:          id,
		Email:       id + "@example.com",
		Role:        accounts.RoleParent,
		ChildrenIDs: datatypes.NewJSONSlice(childIDs),
	}
}

func mustNoteID(t *testing.T, value string) NoteID {
	t.Helper()
	id, err := NewNoteID(value)
	if err != nil {
		t.Fatalf("unexpected note id error: %v", err)
	}
	return id
}

func mustFolderID(t *testing.T, value string) FolderID {
	t.Helper()
	id, err := NewFolderID(value)
	if err != nil {
		t.Fatalf("unexpected folder id error: %v", err)
	}
	return id
}

func expectFault(t *testing.T, err error, kind fault.Kind, code string) {
	t.Helper()

	if err == nil {
		t.Fatalf("expected fault %s, got nil", code)
	}
	if got := fault.KindOf(err); got != kind {
		t.Fatalf("unexpected fault kind %v for %v", got, err)
	}
	if got := fault.CodeOf(err); got != code {
		t.Fatalf("unexpected fault code %q for %v", got, err)
	}
}
