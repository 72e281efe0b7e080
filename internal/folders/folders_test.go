package folders

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/lotas/plfolders/internal/export"
	"github.com/lotas/plfolders/internal/storage"
	"github.com/lotas/plfolders/internal/types"
)

// testStore creates a Store over a temporary database.
func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(storage.NewKV(db))
}

func mustCreate(t *testing.T, s *Store, name string) types.Folder {
	t.Helper()
	f, err := s.CreateFolder(context.Background(), name)
	if err != nil {
		t.Fatalf("CreateFolder(%q): %v", name, err)
	}
	return f
}

func checkSingleMembership(t *testing.T, folders map[string]types.Folder) {
	t.Helper()
	owner := map[string]string{}
	for id, f := range folders {
		for _, p := range f.PlaylistIDs {
			if prev, ok := owner[p]; ok {
				t.Fatalf("%s is in both %s and %s", p, prev, id)
			}
			owner[p] = id
		}
	}
}

func TestCreateFolderValidation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, name := range []string{"", "   "} {
		if _, err := s.CreateFolder(ctx, name); !errors.Is(err, ErrEmptyName) {
			t.Errorf("CreateFolder(%q) err = %v, want ErrEmptyName", name, err)
		}
	}
	if n := len(s.Folders(ctx)); n != 0 {
		t.Fatalf("rejected creates left %d folders", n)
	}

	f := mustCreate(t, s, "  Music ")
	if f.Name != "Music" || f.ID == "" || len(f.PlaylistIDs) != 0 {
		t.Errorf("created %+v", f)
	}
	if _, err := s.CreateFolder(ctx, "music"); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("duplicate err = %v, want ErrDuplicateName", err)
	}
	if n := len(s.Folders(ctx)); n != 1 {
		t.Errorf("got %d folders, want 1", n)
	}
}

func TestFolderIDsAreUnique(t *testing.T) {
	s := testStore(t)
	a := mustCreate(t, s, "A")
	b := mustCreate(t, s, "B")
	if a.ID == b.ID {
		t.Errorf("both folders got id %s", a.ID)
	}
}

func TestRenameFolder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	music := mustCreate(t, s, "Music")
	mustCreate(t, s, "Art")

	if err := s.RenameFolder(ctx, music.ID, "MUSIC"); err != nil {
		t.Fatalf("rename to own name in new case: %v", err)
	}
	if err := s.RenameFolder(ctx, music.ID, "art"); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("rename onto Art err = %v", err)
	}
	if err := s.RenameFolder(ctx, music.ID, " "); !errors.Is(err, ErrEmptyName) {
		t.Errorf("rename to blank err = %v", err)
	}
	if err := s.RenameFolder(ctx, "missing", "X"); !errors.Is(err, ErrNotFound) {
		t.Errorf("rename missing err = %v", err)
	}
	if got := s.Folders(ctx)[music.ID].Name; got != "MUSIC" {
		t.Errorf("name = %q, want MUSIC", got)
	}
}

func TestAssignMovesBetweenFolders(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	a := mustCreate(t, s, "A")
	b := mustCreate(t, s, "B")

	if err := s.Assign(ctx, "PL1", a.ID); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if err := s.Assign(ctx, "PL1", b.ID); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	folders := s.Folders(ctx)
	if folders[a.ID].Has("PL1") || !folders[b.ID].Has("PL1") {
		t.Errorf("after move: A=%v B=%v", folders[a.ID].PlaylistIDs, folders[b.ID].PlaylistIDs)
	}

	if err := s.Assign(ctx, "PL1", b.ID); err != nil {
		t.Fatalf("re-assign: %v", err)
	}
	if got := s.Folders(ctx)[b.ID].PlaylistIDs; !reflect.DeepEqual(got, []string{"PL1"}) {
		t.Errorf("re-assigning duplicated the id: %v", got)
	}

	if err := s.Assign(ctx, "PL1", ""); err != nil {
		t.Fatalf("unassign: %v", err)
	}
	if _, ok := s.FolderOf(ctx, "PL1"); ok {
		t.Error("PL1 still assigned")
	}
	if err := s.Assign(ctx, "PL9", ""); err != nil {
		t.Errorf("unassigning an unassigned id: %v", err)
	}
	if err := s.Assign(ctx, "PL1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("assign to missing folder err = %v", err)
	}
}

func TestAssignKeepsSingleMembership(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	var ids []string
	for _, name := range []string{"A", "B", "C"} {
		ids = append(ids, mustCreate(t, s, name).ID)
	}
	targets := append(ids, "")

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 60; i++ {
		item := fmt.Sprintf("PL%d", rng.Intn(8))
		if err := s.Assign(ctx, item, targets[rng.Intn(len(targets))]); err != nil {
			t.Fatalf("Assign #%d: %v", i, err)
		}
		checkSingleMembership(t, s.Folders(ctx))
	}
}

func TestDeleteFolderResetsSelection(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	art := mustCreate(t, s, "Art")
	other := mustCreate(t, s, "Other")
	s.Assign(ctx, "OL9", art.ID)

	if err := s.SetSelection(ctx, types.InFolder(other.ID)); err != nil {
		t.Fatalf("SetSelection: %v", err)
	}
	reset, err := s.DeleteFolder(ctx, art.ID)
	if err != nil || reset {
		t.Fatalf("delete unselected folder: reset=%v err=%v", reset, err)
	}
	if _, ok := s.FolderOf(ctx, "OL9"); ok {
		t.Error("OL9 still assigned after its folder was deleted")
	}

	reset, err = s.DeleteFolder(ctx, other.ID)
	if err != nil || !reset {
		t.Fatalf("delete selected folder: reset=%v err=%v", reset, err)
	}
	if sel := s.Selection(ctx); sel != types.All() {
		t.Errorf("selection = %v, want all", sel)
	}
	if _, err := s.DeleteFolder(ctx, other.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func TestSelectionRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	for _, sel := range []types.Selection{types.Unassigned(), types.InFolder("f1"), types.All()} {
		if err := s.SetSelection(ctx, sel); err != nil {
			t.Fatalf("SetSelection(%v): %v", sel, err)
		}
		if got := s.Selection(ctx); got != sel {
			t.Errorf("Selection = %v, want %v", got, sel)
		}
	}
}

func TestImportReplacesByName(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	music := mustCreate(t, s, "music")
	s.Assign(ctx, "C", music.ID)

	n, err := s.Import(ctx, []byte(`{"version":1,"folders":[{"name":"Music","playlistIds":["A","B"]}]}`))
	if err != nil || n != 1 {
		t.Fatalf("Import = %d, %v", n, err)
	}
	folders := s.Folders(ctx)
	if len(folders) != 1 {
		t.Fatalf("got %d folders: %+v", len(folders), folders)
	}
	got := folders[music.ID]
	if got.Name != "Music" || !reflect.DeepEqual(got.PlaylistIDs, []string{"A", "B"}) {
		t.Errorf("folder = %+v", got)
	}
	if _, ok := s.FolderOf(ctx, "C"); ok {
		t.Error("C should be unassigned")
	}
}

func TestImportLastWins(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	n, err := s.Import(ctx, []byte(`{"version":1,"folders":[{"name":"X","playlistIds":["A"]},{"name":"Y","playlistIds":["A"]}]}`))
	if err != nil || n != 2 {
		t.Fatalf("Import = %d, %v", n, err)
	}
	f, ok := s.FolderOf(ctx, "A")
	if !ok || f.Name != "Y" {
		t.Errorf("A belongs to %+v, want Y", f)
	}
	checkSingleMembership(t, s.Folders(ctx))
}

func TestImportInvalidWritesNothing(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	mustCreate(t, s, "Keep")

	_, err := s.Import(ctx, []byte(`{"version":1,"folders":[{"name":"A","playlistIds":["X"]},{"name":"","playlistIds":[]}]}`))
	if !errors.Is(err, export.ErrInvalidImport) {
		t.Fatalf("err = %v, want ErrInvalidImport", err)
	}
	list := s.List(ctx)
	if len(list) != 1 || list[0].Name != "Keep" {
		t.Errorf("folders after failed import = %+v", list)
	}
}

func TestExportRoundTrip(t *testing.T) {
	src := testStore(t)
	ctx := context.Background()
	z := mustCreate(t, src, "zebra")
	a := mustCreate(t, src, "Alpha")
	src.Assign(ctx, "PL1", z.ID)
	src.Assign(ctx, "PL2", a.ID)

	data, err := src.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	dst := testStore(t)
	if n, err := dst.Import(ctx, []byte(data)); err != nil || n != 2 {
		t.Fatalf("Import = %d, %v", n, err)
	}
	list := dst.List(ctx)
	if len(list) != 2 || list[0].Name != "Alpha" || list[1].Name != "zebra" {
		t.Fatalf("list = %+v", list)
	}
	if !list[0].Has("PL2") || !list[1].Has("PL1") {
		t.Errorf("membership lost: %+v", list)
	}
}

// downKV fails every call, as after the store's context is invalidated.
type downKV struct{}

func (downKV) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	return nil, storage.ErrUnavailable
}
func (downKV) Set(ctx context.Context, values map[string][]byte) error { return storage.ErrUnavailable }
func (downKV) Remove(ctx context.Context, keys ...string) error      { return storage.ErrUnavailable }

func TestUnavailableStoreDegrades(t *testing.T) {
	s := New(downKV{})
	ctx := context.Background()

	if got := s.Folders(ctx); len(got) != 0 {
		t.Errorf("Folders = %v, want empty", got)
	}
	if got := s.Selection(ctx); got != types.All() {
		t.Errorf("Selection = %v, want all", got)
	}
	if _, err := s.CreateFolder(ctx, "A"); !errors.Is(err, storage.ErrUnavailable) {
		t.Errorf("CreateFolder err = %v", err)
	}
	if err := s.Assign(ctx, "PL1", ""); !errors.Is(err, storage.ErrUnavailable) {
		t.Errorf("Assign err = %v", err)
	}
}
