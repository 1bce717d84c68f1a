package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gazouio/gazou/pkg/kv"
	"github.com/gazouio/gazou/pkg/uid"
)

func newTestStore() *Store {
	return New(kv.NewMemory())
}

func testImage(t *testing.T, hash string, tags ...string) *Image {
	t.Helper()
	id, err := uid.New()
	if err != nil {
		t.Fatalf("failed to mint uuid: %v", err)
	}
	now := time.Now().UnixMilli()
	return &Image{
		UUID:         id,
		Hash:         hash,
		Artist:       "some artist",
		Uploader:     "tester",
		Type:         "png",
		DateAdded:    now,
		DateModified: now,
		Tags:         tags,
	}
}

func TestStore_AddAndGetMetadata(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	img := testImage(t, "abc123", "red", "blue")
	if err := s.AddMetadata(ctx, img); err != nil {
		t.Fatalf("failed to add metadata: %v", err)
	}

	got, err := s.GetMetadata(ctx, img.UUID)
	if err != nil {
		t.Fatalf("failed to get metadata: %v", err)
	}
	if got == nil {
		t.Fatal("metadata should exist")
	}
	if got.Hash != img.Hash || got.Artist != img.Artist || got.Type != img.Type {
		t.Errorf("metadata mismatch: got %+v, want %+v", got, img)
	}
	if len(got.Tags) != 2 {
		t.Errorf("expected 2 tags, got %v", got.Tags)
	}
}

func TestStore_GetMetadata_AbsentIsNil(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	id, _ := uid.New()
	got, err := s.GetMetadata(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("absent record should be nil, got %+v", got)
	}
}

func TestStore_UpdateMetadata_TagsAndArtist(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	img := testImage(t, "abc123", "red")
	if err := s.AddMetadata(ctx, img); err != nil {
		t.Fatalf("failed to add metadata: %v", err)
	}

	newArtist := "other artist"
	later := img.DateModified + 1000
	err := s.UpdateMetadata(ctx, img.UUID, Update{
		Artist:       &newArtist,
		AddTags:      []string{"blue"},
		RemoveTags:   []string{"red"},
		DateModified: later,
	})
	if err != nil {
		t.Fatalf("failed to update metadata: %v", err)
	}

	got, _ := s.GetMetadata(ctx, img.UUID)
	if got.Artist != newArtist {
		t.Errorf("artist: got %q, want %q", got.Artist, newArtist)
	}
	if got.DateModified != later {
		t.Errorf("dateModified not bumped: got %d, want %d", got.DateModified, later)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "blue" {
		t.Errorf("tags: got %v, want [blue]", got.Tags)
	}

	// The record must have migrated between the secondary indexes.
	blueID, ok, _ := s.GetTagID(ctx, "blue")
	if !ok {
		t.Fatal("blue tag should have been created")
	}
	ids, _ := s.FindByTag(ctx, blueID, 0, 10)
	if len(ids) != 1 || ids[0] != img.UUID {
		t.Errorf("blue index: got %v, want [%s]", ids, img.UUID)
	}

	redID, _, _ := s.GetTagID(ctx, "red")
	ids, _ = s.FindByTag(ctx, redID, 0, 10)
	if len(ids) != 0 {
		t.Errorf("red index should be empty, got %v", ids)
	}

	oldArtistID, _, _ := s.GetArtistID(ctx, "some artist")
	ids, _ = s.FindByArtist(ctx, oldArtistID, 0, 10)
	if len(ids) != 0 {
		t.Errorf("old artist index should be empty, got %v", ids)
	}
	newArtistID, _, _ := s.GetArtistID(ctx, newArtist)
	ids, _ = s.FindByArtist(ctx, newArtistID, 0, 10)
	if len(ids) != 1 {
		t.Errorf("new artist index: got %v", ids)
	}
}

func TestStore_RemoveMetadata_CleansAllIndexes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	img := testImage(t, "abc123", "red", "blue")
	if err := s.AddMetadata(ctx, img); err != nil {
		t.Fatalf("failed to add metadata: %v", err)
	}

	removed, err := s.RemoveMetadata(ctx, img.UUID)
	if err != nil {
		t.Fatalf("failed to remove metadata: %v", err)
	}
	if removed == 0 {
		t.Fatal("removal should report deleted fields")
	}

	got, _ := s.GetMetadata(ctx, img.UUID)
	if got != nil {
		t.Errorf("record should be gone, got %+v", got)
	}

	for _, tag := range []string{"red", "blue"} {
		tagID, _, _ := s.GetTagID(ctx, tag)
		ids, _ := s.FindByTag(ctx, tagID, 0, 10)
		if len(ids) != 0 {
			t.Errorf("tag %q index should be empty, got %v", tag, ids)
		}
	}
	artistID, _, _ := s.GetArtistID(ctx, img.Artist)
	ids, _ := s.FindByArtist(ctx, artistID, 0, 10)
	if len(ids) != 0 {
		t.Errorf("artist index should be empty, got %v", ids)
	}

	// Removing again reports nothing deleted.
	removed, _ = s.RemoveMetadata(ctx, img.UUID)
	if removed != 0 {
		t.Errorf("second removal: got %d, want 0", removed)
	}
}

func TestStore_CheckAndLockImage_SingleWinner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	img := testImage(t, "abc123")
	if err := s.AddMetadata(ctx, img); err != nil {
		t.Fatalf("failed to add metadata: %v", err)
	}

	var wg sync.WaitGroup
	wins := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.CheckAndLockImage(ctx, img.UUID)
			if err != nil {
				t.Errorf("lock failed: %v", err)
			}
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	var winners int
	for ok := range wins {
		if ok {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("got %d lock winners, want exactly 1", winners)
	}

	if err := s.UnlockImage(ctx, img.UUID); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	ok, _ := s.CheckAndLockImage(ctx, img.UUID)
	if !ok {
		t.Error("lock should succeed after unlock")
	}
}

func TestStore_CreationRangeIsChronological(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	before := time.Now().Add(-time.Second)
	var order []string
	for i := 0; i < 5; i++ {
		img := testImage(t, "hash"+string(rune('a'+i)))
		if err := s.AddMetadata(ctx, img); err != nil {
			t.Fatalf("failed to add metadata: %v", err)
		}
		order = append(order, img.UUID)
	}
	after := time.Now().Add(time.Second)

	got, err := s.FindByCreationRange(ctx, before.UnixMilli(), after.UnixMilli(), 0, 100)
	if err != nil {
		t.Fatalf("creation range scan failed: %v", err)
	}
	if len(got) != len(order) {
		t.Fatalf("got %d ids, want %d", len(got), len(order))
	}
	for i := range order {
		if got[i] != order[i] {
			t.Errorf("position %d: got %s, want %s", i, got[i], order[i])
		}
	}

	// A window before the first insert must exclude everything.
	got, _ = s.FindByCreationRange(ctx, 0, before.UnixMilli(), 0, 100)
	if len(got) != 0 {
		t.Errorf("early window should be empty, got %v", got)
	}
}

func TestStore_ModificationRange(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	img := testImage(t, "abc123")
	if err := s.AddMetadata(ctx, img); err != nil {
		t.Fatalf("failed to add metadata: %v", err)
	}

	got, _ := s.FindByModificationRange(ctx, img.DateModified-1, img.DateModified+1, 0, 10)
	if len(got) != 1 || got[0] != img.UUID {
		t.Errorf("modification range: got %v, want [%s]", got, img.UUID)
	}

	got, _ = s.FindByModificationRange(ctx, img.DateModified+1, img.DateModified+2, 0, 10)
	if len(got) != 0 {
		t.Errorf("out-of-range scan should be empty, got %v", got)
	}
}

func TestStore_NameToIDAllocation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	first, err := s.GetOrCreateTagID(ctx, "red")
	if err != nil {
		t.Fatalf("failed to create tag: %v", err)
	}
	second, err := s.GetOrCreateTagID(ctx, "blue")
	if err != nil {
		t.Fatalf("failed to create tag: %v", err)
	}
	if second <= first {
		t.Errorf("ids must be monotonic: %d then %d", first, second)
	}

	again, _ := s.GetOrCreateTagID(ctx, "red")
	if again != first {
		t.Errorf("existing name must keep its id: got %d, want %d", again, first)
	}

	_, ok, _ := s.GetTagID(ctx, "missing")
	if ok {
		t.Error("missing tag should not resolve")
	}
}

func TestStore_HashSet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	ok, _ := s.HasHash(ctx, "abc123")
	if ok {
		t.Error("hash should not exist yet")
	}
	s.AddHash(ctx, "abc123")
	ok, _ = s.HasHash(ctx, "abc123")
	if !ok {
		t.Error("hash should exist")
	}
	s.RemoveHash(ctx, "abc123")
	ok, _ = s.HasHash(ctx, "abc123")
	if ok {
		t.Error("hash should have been released")
	}
}

func TestStore_Uploaders(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	if err := s.AddUploader(ctx, "42", "bob"); err != nil {
		t.Fatalf("failed to add uploader: %v", err)
	}

	ok, _ := s.UploaderCanUpload(ctx, "42")
	if !ok {
		t.Error("new uploader should be able to upload")
	}

	name, found, _ := s.GetUserDisplayName(ctx, "42")
	if !found || name != "bob" {
		t.Errorf("display name: got %q found=%v", name, found)
	}
	id, found, _ := s.GetUserID(ctx, "bob")
	if !found || id != "42" {
		t.Errorf("user id: got %q found=%v", id, found)
	}

	s.RevokeUploader(ctx, "42")
	ok, _ = s.UploaderCanUpload(ctx, "42")
	if ok {
		t.Error("revoked uploader should not upload")
	}

	s.ApproveUploader(ctx, "42")
	ok, _ = s.UploaderCanUpload(ctx, "42")
	if !ok {
		t.Error("approved uploader should upload again")
	}

	if err := s.UpdateUploaderName(ctx, "42", "bob620"); err != nil {
		t.Fatalf("failed to rename uploader: %v", err)
	}
	if _, found, _ := s.GetUserID(ctx, "bob"); found {
		t.Error("old display name should be gone")
	}
	if id, found, _ := s.GetUserID(ctx, "bob620"); !found || id != "42" {
		t.Error("new display name should resolve")
	}

	uploaders, _ := s.ListUploaders(ctx)
	if uploaders["bob620"] != "42" {
		t.Errorf("list: got %v", uploaders)
	}
}

func TestStore_UploadedFlag(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	img := testImage(t, "abc123")
	s.AddMetadata(ctx, img)

	ok, _ := s.ImageIsUploaded(ctx, img.UUID)
	if ok {
		t.Error("fresh record should not be uploaded")
	}
	s.SetImageUploaded(ctx, img.UUID)
	ok, _ = s.ImageIsUploaded(ctx, img.UUID)
	if !ok {
		t.Error("record should be uploaded")
	}
	s.SetImageNotUploaded(ctx, img.UUID)
	ok, _ = s.ImageIsUploaded(ctx, img.UUID)
	if ok {
		t.Error("rollback should clear the flag")
	}
}
