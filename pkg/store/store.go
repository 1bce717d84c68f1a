// Package store implements the indexed image metadata layer over the
// abstract K/V backend: primary metadata hashes, creation/modification time
// indexes, tag and artist secondary indexes, content-hash dedupe and
// per-record locking.
package store

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/gazouio/gazou/pkg/errors"
	"github.com/gazouio/gazou/pkg/kv"
	"github.com/gazouio/gazou/pkg/uid"
)

// Image is a primary metadata record. Timestamps are unix milliseconds.
type Image struct {
	UUID         string `json:"uuid"`
	Hash         string `json:"hash"`
	Artist       string `json:"artist"`
	Uploader     string `json:"uploader"`
	Type         string `json:"type"`
	Size         int64  `json:"size"`
	DateAdded    int64  `json:"dateAdded"`
	DateModified int64  `json:"dateModified"`
	Uploaded     bool   `json:"uploaded"`

	Tags []string `json:"tags"`
}

// NoArtist is the sentinel stored when an upload names no artist.
const NoArtist = "no artist"

// Update is a partial metadata edit. Nil pointer fields are untouched.
// DateModified must be set by the caller; every accepted edit re-scores the
// modification-time index with it.
type Update struct {
	Artist       *string
	AddTags      []string
	RemoveTags   []string
	Size         *int64
	Uploaded     *bool
	DateModified int64
}

// Store provides image metadata operations against a K/V backend.
type Store struct {
	kv kv.Store
}

// New creates a store over the given backend.
func New(backend kv.Store) *Store {
	return &Store{kv: backend}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// GetMetadata returns the record for id, or nil when absent. Absence is not
// an error.
func (s *Store) GetMetadata(ctx context.Context, id string) (*Image, error) {
	sortable := uid.ToSortable(id)

	fields, err := s.kv.HGetAll(ctx, metadataKey(sortable))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read image metadata")
	}
	if fields["hash"] == "" {
		return nil, nil
	}

	tags, err := s.kv.SMembers(ctx, imageTagsKey(sortable))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read image tags")
	}

	img := &Image{
		UUID:     fields["uuid"],
		Hash:     fields["hash"],
		Artist:   fields["artist"],
		Uploader: fields["uploader"],
		Type:     fields["type"],
		Uploaded: fields["uploaded"] == "1",
		Tags:     tags,
	}
	img.Size, _ = strconv.ParseInt(fields["size"], 10, 64)
	img.DateAdded, _ = strconv.ParseInt(fields["dateAdded"], 10, 64)
	img.DateModified, _ = strconv.ParseInt(fields["dateModified"], 10, 64)
	return img, nil
}

// AddMetadata writes a new record and inserts it into the time indexes and
// every tag/artist index it belongs to. The multi-key write sequence is
// best-effort, not transactional: a crash mid-way can leave a partially
// indexed record.
func (s *Store) AddMetadata(ctx context.Context, img *Image) error {
	sortable := uid.ToSortable(img.UUID)
	slog.Info("store_add_metadata", "uuid", img.UUID, "artist", img.Artist, "tags", len(img.Tags))

	fields := map[string]string{
		"uuid":         img.UUID,
		"hash":         img.Hash,
		"artist":       img.Artist,
		"uploader":     img.Uploader,
		"type":         img.Type,
		"size":         strconv.FormatInt(img.Size, 10),
		"dateAdded":    strconv.FormatInt(img.DateAdded, 10),
		"dateModified": strconv.FormatInt(img.DateModified, 10),
		"uploaded":     boolField(img.Uploaded),
	}
	if err := s.kv.HSet(ctx, metadataKey(sortable), fields); err != nil {
		return errors.Wrap(err, "failed to write image metadata")
	}

	if len(img.Tags) > 0 {
		if err := s.kv.SAdd(ctx, imageTagsKey(sortable), img.Tags...); err != nil {
			return errors.Wrap(err, "failed to write image tags")
		}
	}

	err := s.kv.ZAdd(ctx, imagesKey, kv.ZMember{Member: sortable, Score: float64(img.DateModified)})
	if err != nil {
		return errors.Wrap(err, "failed to insert into time index")
	}

	for _, tag := range img.Tags {
		tagID, err := s.GetOrCreateTagID(ctx, tag)
		if err != nil {
			return err
		}
		if err := s.AddImageToTag(ctx, img.UUID, tagID, img.DateModified); err != nil {
			return err
		}
	}

	if img.Artist != "" {
		artistID, err := s.GetOrCreateArtistID(ctx, img.Artist)
		if err != nil {
			return err
		}
		if err := s.AddImageToArtist(ctx, img.UUID, artistID, img.DateModified); err != nil {
			return err
		}
	}
	return nil
}

// UpdateMetadata applies a partial edit, re-scores the modification index
// and keeps the tag/artist indexes consistent. Adding a present tag or
// removing an absent one is a no-op.
func (s *Store) UpdateMetadata(ctx context.Context, id string, upd Update) error {
	sortable := uid.ToSortable(id)
	slog.Info("store_update_metadata", "uuid", id,
		"add_tags", len(upd.AddTags), "remove_tags", len(upd.RemoveTags))

	fields := map[string]string{
		"dateModified": strconv.FormatInt(upd.DateModified, 10),
	}
	if upd.Size != nil {
		fields["size"] = strconv.FormatInt(*upd.Size, 10)
	}
	if upd.Uploaded != nil {
		fields["uploaded"] = boolField(*upd.Uploaded)
	}

	if upd.Artist != nil {
		oldArtist, _, err := s.kv.HGet(ctx, metadataKey(sortable), "artist")
		if err != nil {
			return errors.Wrap(err, "failed to read current artist")
		}
		if oldArtist != *upd.Artist {
			fields["artist"] = *upd.Artist

			if oldArtist != "" {
				if oldID, ok, err := s.GetArtistID(ctx, oldArtist); err != nil {
					return err
				} else if ok {
					if err := s.RemoveImageFromArtist(ctx, id, oldID); err != nil {
						return err
					}
				}
			}
			newID, err := s.GetOrCreateArtistID(ctx, *upd.Artist)
			if err != nil {
				return err
			}
			if err := s.AddImageToArtist(ctx, id, newID, upd.DateModified); err != nil {
				return err
			}
		}
	}

	if err := s.kv.HSet(ctx, metadataKey(sortable), fields); err != nil {
		return errors.Wrap(err, "failed to update image metadata")
	}

	err := s.kv.ZAdd(ctx, imagesKey, kv.ZMember{Member: sortable, Score: float64(upd.DateModified)})
	if err != nil {
		return errors.Wrap(err, "failed to re-score time index")
	}

	for _, tag := range upd.AddTags {
		if err := s.kv.SAdd(ctx, imageTagsKey(sortable), tag); err != nil {
			return errors.Wrap(err, "failed to add image tag")
		}
		tagID, err := s.GetOrCreateTagID(ctx, tag)
		if err != nil {
			return err
		}
		if err := s.AddImageToTag(ctx, id, tagID, upd.DateModified); err != nil {
			return err
		}
	}

	for _, tag := range upd.RemoveTags {
		if err := s.kv.SRem(ctx, imageTagsKey(sortable), tag); err != nil {
			return errors.Wrap(err, "failed to remove image tag")
		}
		if tagID, ok, err := s.GetTagID(ctx, tag); err != nil {
			return err
		} else if ok {
			if err := s.RemoveImageFromTag(ctx, id, tagID); err != nil {
				return err
			}
		}
	}
	return nil
}

// RemoveMetadata removes the record from the primary hash, both time index
// views and every tag/artist index it belongs to. It returns the number of
// primary-hash fields deleted; zero means the record was already gone.
func (s *Store) RemoveMetadata(ctx context.Context, id string) (int64, error) {
	sortable := uid.ToSortable(id)
	slog.Info("store_remove_metadata", "uuid", id)

	img, err := s.GetMetadata(ctx, id)
	if err != nil {
		return 0, err
	}
	if img == nil {
		return 0, nil
	}

	for _, tag := range img.Tags {
		if tagID, ok, err := s.GetTagID(ctx, tag); err != nil {
			return 0, err
		} else if ok {
			if err := s.RemoveImageFromTag(ctx, id, tagID); err != nil {
				return 0, err
			}
		}
	}
	if img.Artist != "" {
		if artistID, ok, err := s.GetArtistID(ctx, img.Artist); err != nil {
			return 0, err
		} else if ok {
			if err := s.RemoveImageFromArtist(ctx, id, artistID); err != nil {
				return 0, err
			}
		}
	}

	if err := s.kv.ZRem(ctx, imagesKey, sortable); err != nil {
		return 0, errors.Wrap(err, "failed to remove from time index")
	}
	if _, err := s.kv.Del(ctx, imageTagsKey(sortable)); err != nil {
		return 0, errors.Wrap(err, "failed to delete image tag set")
	}

	fields, err := s.kv.HGetAll(ctx, metadataKey(sortable))
	if err != nil {
		return 0, errors.Wrap(err, "failed to read image metadata")
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	removed, err := s.kv.HDel(ctx, metadataKey(sortable), names...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete image metadata")
	}
	return removed, nil
}

// CheckAndLockImage attempts the unlocked-to-locked transition on the
// record. Only the caller that performed the transition sees true; under
// concurrent callers at most one wins.
func (s *Store) CheckAndLockImage(ctx context.Context, id string) (bool, error) {
	locked, err := s.kv.CheckAndLock(ctx, metadataKey(uid.ToSortable(id)), nowMillis())
	if err != nil {
		return false, errors.Wrap(err, "failed to lock image")
	}
	return locked, nil
}

// UnlockImage clears the lock flag unconditionally. Callers must unlock on
// every exit path of the guarded operation.
func (s *Store) UnlockImage(ctx context.Context, id string) error {
	_, err := s.kv.HDel(ctx, metadataKey(uid.ToSortable(id)), "locked")
	return errors.Wrap(err, "failed to unlock image")
}

// ImageIsUploaded reports whether the record exists and its bytes were
// committed to blob storage.
func (s *Store) ImageIsUploaded(ctx context.Context, id string) (bool, error) {
	v, _, err := s.kv.HGet(ctx, metadataKey(uid.ToSortable(id)), "uploaded")
	if err != nil {
		return false, errors.Wrap(err, "failed to read uploaded flag")
	}
	return v == "1", nil
}

// SetImageUploaded marks the record's bytes as committed.
func (s *Store) SetImageUploaded(ctx context.Context, id string) error {
	err := s.kv.HSet(ctx, metadataKey(uid.ToSortable(id)), map[string]string{"uploaded": "1"})
	return errors.Wrap(err, "failed to set uploaded flag")
}

// SetImageNotUploaded reverts the uploaded flag after a failed blob write.
func (s *Store) SetImageNotUploaded(ctx context.Context, id string) error {
	err := s.kv.HSet(ctx, metadataKey(uid.ToSortable(id)), map[string]string{"uploaded": "0"})
	return errors.Wrap(err, "failed to clear uploaded flag")
}

// HasHash reports whether a content hash is already claimed by a record.
func (s *Store) HasHash(ctx context.Context, hash string) (bool, error) {
	ok, err := s.kv.SIsMember(ctx, hashesKey, hash)
	return ok, errors.Wrap(err, "failed to check content hash")
}

// AddHash claims a content hash.
func (s *Store) AddHash(ctx context.Context, hash string) error {
	return errors.Wrap(s.kv.SAdd(ctx, hashesKey, hash), "failed to add content hash")
}

// RemoveHash releases a content hash for reuse.
func (s *Store) RemoveHash(ctx context.Context, hash string) error {
	return errors.Wrap(s.kv.SRem(ctx, hashesKey, hash), "failed to remove content hash")
}

// FindByModificationRange returns canonical ids of records whose
// last-modified time falls within [min, max] milliseconds, freshest last.
func (s *Store) FindByModificationRange(ctx context.Context, min, max int64, start, count int64) ([]string, error) {
	members, err := s.kv.ZRangeByScore(ctx, imagesKey, float64(min), float64(max), start, count)
	if err != nil {
		return nil, errors.Wrap(err, "modification range scan failed")
	}
	return toCanonical(members), nil
}

// FindByCreationRange returns canonical ids of records created within
// [min, max] milliseconds, in creation order, via a lexical scan over the
// sortable-id index.
func (s *Store) FindByCreationRange(ctx context.Context, min, max int64, start, count int64) ([]string, error) {
	lower := "[" + uid.LowerBound(time.UnixMilli(min))
	upper := "[" + uid.UpperBound(time.UnixMilli(max))
	members, err := s.kv.ZRangeByLex(ctx, imagesKey, lower, upper, start, count)
	if err != nil {
		return nil, errors.Wrap(err, "creation range scan failed")
	}
	return toCanonical(members), nil
}

// FindByTag returns canonical ids in the tag's index, oldest modification
// first.
func (s *Store) FindByTag(ctx context.Context, tagID int64, start, count int64) ([]string, error) {
	members, err := s.kv.ZRange(ctx, tagImagesKey(tagID), start, start+count-1)
	if err != nil {
		return nil, errors.Wrap(err, "tag index scan failed")
	}
	return toCanonical(members), nil
}

// FindByArtist returns canonical ids in the artist's index, oldest
// modification first.
func (s *Store) FindByArtist(ctx context.Context, artistID int64, start, count int64) ([]string, error) {
	members, err := s.kv.ZRange(ctx, artistImagesKey(artistID), start, start+count-1)
	if err != nil {
		return nil, errors.Wrap(err, "artist index scan failed")
	}
	return toCanonical(members), nil
}

// CountImages returns the number of records in the time index.
func (s *Store) CountImages(ctx context.Context) (int64, error) {
	n, err := s.kv.ZCard(ctx, imagesKey)
	return n, errors.Wrap(err, "failed to count images")
}

// SampleImages returns up to count canonical ids starting at a given index
// offset, for random sampling by callers.
func (s *Store) SampleImages(ctx context.Context, start, count int64) ([]string, error) {
	members, err := s.kv.ZRange(ctx, imagesKey, start, start+count-1)
	if err != nil {
		return nil, errors.Wrap(err, "image sample scan failed")
	}
	return toCanonical(members), nil
}

func toCanonical(sortables []string) []string {
	out := make([]string, len(sortables))
	for i, s := range sortables {
		out[i] = uid.ToCanonical(s)
	}
	return out
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
