package server

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
)

func createFolder(t *testing.T, env *routerEnv, token string, body gin.H) map[string]any {
	t.Helper()

	recorder := env.request(t, http.MethodPost, "/folders", token, body)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create folder failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	folder, _ := decodeJSON(t, recorder)["folder"].(map[string]any)
	if folder == nil {
		t.Fatalf("missing folder payload: %s", recorder.Body.String())
	}
	return folder
}

func createNote(t *testing.T, env *routerEnv, token string, body gin.H) map[string]any {
	t.Helper()

	recorder := env.request(t, http.MethodPost, "/notes", token, body)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create note failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	note, _ := decodeJSON(t, recorder)["note"].(map[string]any)
	if note == nil {
		t.Fatalf("missing note payload: %s", recorder.Body.String())
	}
	return note
}

func TestNoteLifecycleOverHTTP(t *testing.T) {
	env := newRouterEnv(t)
	child := env.signup(t, "kid@example.com", "child", "")

	folder := createFolder(t, env, child.Token, gin.H{"name": "School"})
	folderID, _ := folder["folder_id"].(string)

	note := createNote(t, env, child.Token, gin.H{
		"title":     "Homework",
		"content":   "Chapter 4 exercises",
		"tags":      []string{"school", "math"},
		"folder_id": folderID,
	})
	noteID, _ := note["note_id"].(string)
	if noteID == "" {
		t.Fatalf("missing note id in %v", note)
	}

	listed := env.request(t, http.MethodGet, "/notes", child.Token, nil)
	if listed.Code != http.StatusOK {
		t.Fatalf("list failed with status %d: %s", listed.Code, listed.Body.String())
	}
	if records, _ := decodeJSON(t, listed)["notes"].([]any); len(records) != 1 {
		t.Fatalf("expected one note, got %v", records)
	}

	updated := env.request(t, http.MethodPut, "/notes/"+noteID, child.Token, gin.H{"title": "Homework (done)"})
	if updated.Code != http.StatusOK {
		t.Fatalf("update failed with status %d: %s", updated.Code, updated.Body.String())
	}
	updatedNote, _ := decodeJSON(t, updated)["note"].(map[string]any)
	if updatedNote["title"] != "Homework (done)" {
		t.Fatalf("unexpected title %v", updatedNote["title"])
	}
	if updatedNote["content"] != "Chapter 4 exercises" {
		t.Fatalf("expected content to survive a partial update, got %v", updatedNote["content"])
	}

	deleted := env.request(t, http.MethodDelete, "/notes/"+noteID, child.Token, nil)
	if deleted.Code != http.StatusNoContent {
		t.Fatalf("delete failed with status %d: %s", deleted.Code, deleted.Body.String())
	}

	missing := env.request(t, http.MethodGet, "/notes/"+noteID, child.Token, nil)
	assertErrorBody(t, missing, http.StatusNotFound, "notes.get.note_not_found")
}

func TestParentReadsChildNotesOverHTTP(t *testing.T) {
	env := newRouterEnv(t)
	parent := env.signup(t, "parent@example.com", "parent", "")
	child := env.signup(t, "kid@example.com", "child", parent.FamilyCode)

	note := createNote(t, env, child.Token, gin.H{"title": "Diary", "content": "secret"})
	noteID, _ := note["note_id"].(string)

	listed := env.request(t, http.MethodGet, "/notes", parent.Token, nil)
	if listed.Code != http.StatusOK {
		t.Fatalf("parent list failed with status %d: %s", listed.Code, listed.Body.String())
	}
	records, _ := decodeJSON(t, listed)["notes"].([]any)
	if len(records) != 1 {
		t.Fatalf("expected the linked child's note, got %v", records)
	}
	first, _ := records[0].(map[string]any)
	if first["owner_name"] != "Account kid@example.com" {
		t.Fatalf("expected owner decoration, got %v", first["owner_name"])
	}

	denied := env.request(t, http.MethodPut, "/notes/"+noteID, parent.Token, gin.H{"title": "Edited by parent"})
	assertErrorBody(t, denied, http.StatusForbidden, "notes.update.not_authorized")

	deletedDenied := env.request(t, http.MethodDelete, "/notes/"+noteID, parent.Token, nil)
	assertErrorBody(t, deletedDenied, http.StatusForbidden, "notes.delete.not_authorized")

	stranger := env.signup(t, "stranger@example.com", "parent", "")
	scoped := env.request(t, http.MethodGet, "/notes?user_id="+child.AccountID, stranger.Token, nil)
	assertErrorBody(t, scoped, http.StatusForbidden, "notes.list.not_authorized")
}

func TestNoteAndFolderCreationRequireChildRole(t *testing.T) {
	env := newRouterEnv(t)
	parent := env.signup(t, "parent@example.com", "parent", "")

	testCases := []struct {
		name string
		path string
		body gin.H
	}{
		{name: "note", path: "/notes", body: gin.H{"title": "Reminder"}},
		{name: "folder", path: "/folders", body: gin.H{"name": "Chores"}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := env.request(t, http.MethodPost, testCase.path, parent.Token, testCase.body)
			if recorder.Code != http.StatusForbidden {
				t.Fatalf("expected status %d, got %d: %s", http.StatusForbidden, recorder.Code, recorder.Body.String())
			}
			if payload := decodeJSON(t, recorder); payload["error"] != "role_required" {
				t.Fatalf("unexpected error body %v", payload)
			}
		})
	}
}

func TestFolderDependencyRulesOverHTTP(t *testing.T) {
	env := newRouterEnv(t)
	child := env.signup(t, "kid@example.com", "child", "")

	math := createFolder(t, env, child.Token, gin.H{"name": "Math"})
	mathID, _ := math["folder_id"].(string)
	algebra := createFolder(t, env, child.Token, gin.H{"name": "Algebra", "parent_folder_id": mathID})
	algebraID, _ := algebra["folder_id"].(string)
	note := createNote(t, env, child.Token, gin.H{"title": "Quadratics", "folder_id": algebraID})
	noteID, _ := note["note_id"].(string)

	blockedBySubfolder := env.request(t, http.MethodDelete, "/folders/"+mathID, child.Token, nil)
	assertErrorBody(t, blockedBySubfolder, http.StatusConflict, "folders.delete.has_dependents")

	blockedByNote := env.request(t, http.MethodDelete, "/folders/"+algebraID, child.Token, nil)
	assertErrorBody(t, blockedByNote, http.StatusConflict, "folders.delete.has_dependents")

	cyclic := env.request(t, http.MethodPut, "/folders/"+mathID, child.Token, gin.H{"parent_folder_id": algebraID})
	assertErrorBody(t, cyclic, http.StatusConflict, "folders.update.cyclic_reference")

	if recorder := env.request(t, http.MethodDelete, "/notes/"+noteID, child.Token, nil); recorder.Code != http.StatusNoContent {
		t.Fatalf("delete note failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	if recorder := env.request(t, http.MethodDelete, "/folders/"+algebraID, child.Token, nil); recorder.Code != http.StatusNoContent {
		t.Fatalf("delete algebra failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	if recorder := env.request(t, http.MethodDelete, "/folders/"+mathID, child.Token, nil); recorder.Code != http.StatusNoContent {
		t.Fatalf("delete math failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestNoteFiltersOverHTTP(t *testing.T) {
	env := newRouterEnv(t)
	child := env.signup(t, "kid@example.com", "child", "")

	folder := createFolder(t, env, child.Token, gin.H{"name": "School"})
	folderID, _ := folder["folder_id"].(string)
	createNote(t, env, child.Token, gin.H{"title": "Essay", "tags": []string{"school"}, "folder_id": folderID})
	createNote(t, env, child.Token, gin.H{"title": "Groceries", "tags": []string{"errands"}})

	byTag := env.request(t, http.MethodGet, "/notes/by-tag/school", child.Token, nil)
	if byTag.Code != http.StatusOK {
		t.Fatalf("by-tag failed with status %d: %s", byTag.Code, byTag.Body.String())
	}
	tagged, _ := decodeJSON(t, byTag)["notes"].([]any)
	if len(tagged) != 1 {
		t.Fatalf("expected one tagged note, got %v", tagged)
	}

	byFolder := env.request(t, http.MethodGet, "/notes/by-folder/"+folderID, child.Token, nil)
	if byFolder.Code != http.StatusOK {
		t.Fatalf("by-folder failed with status %d: %s", byFolder.Code, byFolder.Body.String())
	}
	if records, _ := decodeJSON(t, byFolder)["notes"].([]any); len(records) != 1 {
		t.Fatalf("expected one folder note, got %v", records)
	}

	queryFiltered := env.request(t, http.MethodGet, "/notes?tag=errands", child.Token, nil)
	if records, _ := decodeJSON(t, queryFiltered)["notes"].([]any); len(records) != 1 {
		t.Fatalf("expected one errand note, got %v", records)
	}

	allTags := env.request(t, http.MethodGet, "/notes/tags/all", child.Token, nil)
	if allTags.Code != http.StatusOK {
		t.Fatalf("tags failed with status %d: %s", allTags.Code, allTags.Body.String())
	}
	tags, _ := decodeJSON(t, allTags)["tags"].([]any)
	if len(tags) != 2 || tags[0] != "errands" || tags[1] != "school" {
		t.Fatalf("expected sorted distinct tags, got %v", tags)
	}

	checklist := createNote(t, env, child.Token, gin.H{
		"title":     "Packing list",
		"note_type": "checklist",
		"checklist_items": []gin.H{
			{"text": "Socks", "completed": false},
			{"text": "Charger", "completed": true},
		},
	})
	items, _ := checklist["checklist_items"].([]any)
	if len(items) != 2 {
		t.Fatalf("expected checklist items to round-trip, got %v", checklist)
	}

	tree := env.request(t, http.MethodGet, "/folders/tree", child.Token, nil)
	if tree.Code != http.StatusOK {
		t.Fatalf("tree failed with status %d: %s", tree.Code, tree.Body.String())
	}
	roots, _ := decodeJSON(t, tree)["tree"].([]any)
	if len(roots) != 1 {
		t.Fatalf("expected one root folder, got %v", roots)
	}
}
