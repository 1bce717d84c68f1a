// Package events binds the protocol event catalog to the metadata store,
// the search engine, the auth gateway and blob storage. Every handler
// validates its own input and returns typed errors; the session layer turns
// those into error envelopes.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/gazouio/gazou/pkg/auth"
	"github.com/gazouio/gazou/pkg/errors"
	"github.com/gazouio/gazou/pkg/search"
	"github.com/gazouio/gazou/pkg/session"
	"github.com/gazouio/gazou/pkg/store"
	"github.com/gazouio/gazou/pkg/uid"
)

// Blobs is the slice of blob storage the handlers need: releasing bytes
// when a record is removed.
type Blobs interface {
	Delete(ctx context.Context, key string) error
}

// Options tune the handler catalog.
type Options struct {
	// ImageURL is the public base under which uploaded images are served.
	ImageURL string
	// UploadURL is the base clients POST image bytes to after registering
	// metadata.
	UploadURL string
	// MaxTagSearch caps how many tags one search may intersect.
	MaxTagSearch int
	// MaxSearchCount caps the page size of any search or batch get.
	MaxSearchCount int64
}

// Handlers is the event catalog. Register the catalog once at startup with
// RegisterAll.
type Handlers struct {
	store   *store.Store
	engine  *search.Engine
	gateway *auth.Gateway
	blobs   Blobs
	opts    Options
}

// New creates the catalog. blobs may be nil, in which case removals keep
// the stored bytes.
func New(st *store.Store, engine *search.Engine, gateway *auth.Gateway, blobs Blobs, opts Options) *Handlers {
	if opts.MaxTagSearch <= 0 {
		opts.MaxTagSearch = 10
	}
	if opts.MaxSearchCount <= 0 {
		opts.MaxSearchCount = 100
	}
	return &Handlers{store: st, engine: engine, gateway: gateway, blobs: blobs, opts: opts}
}

// RegisterAll binds every event the protocol speaks. Registration failures
// are startup bugs and panic.
func (h *Handlers) RegisterAll(r *session.Registry) {
	r.MustRegister("upload", h.Upload)
	r.MustRegister("update", h.Update)
	r.MustRegister("remove.single", h.RemoveSingle)
	r.MustRegister("remove.batch", h.RemoveBatch)
	r.MustRegister("get.single", h.GetSingle)
	r.MustRegister("get.batch", h.GetBatch)
	r.MustRegister("get.random", h.GetRandom)
	r.MustRegister("search.dateModified", h.SearchDateModified)
	r.MustRegister("search.dateAdded", h.SearchDateAdded)
	r.MustRegister("search.artist", h.SearchArtist)
	r.MustRegister("search.tags", h.SearchTags)
	r.MustRegister("search.randomByArtist", h.SearchRandomByArtist)
	r.MustRegister("search.randomByTags", h.SearchRandomByTags)
	r.MustRegister("has.singleHash", h.HasSingleHash)
	r.MustRegister("has.batchHash", h.HasBatchHash)
	r.MustRegister("authenticate.init", h.AuthenticateInit)
	r.MustRegister("authenticate.submit", h.AuthenticateSubmit)
}

var imageTypes = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"gif":  true,
}

func validHash(hash string) bool {
	if len(hash) != 40 {
		return false
	}
	for _, c := range hash {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func decode(event string, data json.RawMessage, into any) error {
	if len(data) == 0 {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, into); err != nil {
		return errors.New(errors.KindValidation, event, "Malformed event data")
	}
	return nil
}

// requireUploader gates mutating events on a verified identity that holds
// the can-upload flag.
func (h *Handlers) requireUploader(ctx context.Context, event string, conn *session.Conn) error {
	if conn == nil || !conn.Authed {
		return errors.New(errors.KindNotAuthorized, event, "Not authorized")
	}
	ok, err := h.store.UploaderCanUpload(ctx, conn.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New(errors.KindNotAuthorized, event, "Not authorized")
	}
	return nil
}

func (h *Handlers) clampCount(count int64) int64 {
	if count <= 0 {
		return 10
	}
	if count > h.opts.MaxSearchCount {
		return h.opts.MaxSearchCount
	}
	return count
}

func (h *Handlers) imageLink(id, imgType string) string {
	return fmt.Sprintf("%s/%s.%s", h.opts.ImageURL, id, imgType)
}

// Upload registers metadata for a new image and hands back the id plus the
// link to POST the bytes to. The content hash claims the image's identity;
// a duplicate hash rejects the upload before anything is written.
func (h *Handlers) Upload(ctx context.Context, data json.RawMessage, conn *session.Conn) (any, error) {
	const event = "upload"
	if err := h.requireUploader(ctx, event, conn); err != nil {
		return nil, err
	}

	var req struct {
		Hash   string   `json:"hash"`
		Artist string   `json:"artist"`
		Type   string   `json:"type"`
		Tags   []string `json:"tags"`
	}
	if err := decode(event, data, &req); err != nil {
		return nil, err
	}

	req.Hash = strings.ToLower(req.Hash)
	if !validHash(req.Hash) {
		return nil, errors.New(errors.KindValidation, event, "Invalid image hash")
	}
	req.Type = strings.ToLower(req.Type)
	if !imageTypes[req.Type] {
		return nil, errors.New(errors.KindValidation, event, "Invalid image type")
	}

	exists, err := h.store.HasHash(ctx, req.Hash)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errors.New(errors.KindAlreadyExists, event, "Image already exists")
	}

	artist := strings.ToLower(strings.TrimSpace(req.Artist))
	if artist == "" {
		artist = store.NoArtist
	}
	tags := make([]string, 0, len(req.Tags))
	for _, tag := range req.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" {
			tags = append(tags, tag)
		}
	}

	id, err := uid.New()
	if err != nil {
		return nil, errors.Wrap(err, "failed to mint image id")
	}

	now := nowMillis()
	img := &store.Image{
		UUID:         id,
		Hash:         req.Hash,
		Artist:       artist,
		Uploader:     conn.UserID,
		Type:         req.Type,
		DateAdded:    now,
		DateModified: now,
		Tags:         tags,
	}
	if err := h.store.AddHash(ctx, req.Hash); err != nil {
		return nil, err
	}
	if err := h.store.AddMetadata(ctx, img); err != nil {
		// Release the claim so the content can be registered again.
		if rbErr := h.store.RemoveHash(ctx, req.Hash); rbErr != nil {
			slog.Warn("event_upload_rollback_failed", "uuid", id, "error", rbErr)
		}
		return nil, err
	}

	slog.Info("event_upload", "uuid", id, "user_id", conn.UserID, "type", req.Type)
	return map[string]any{
		"uuid":       id,
		"uploadLink": h.opts.UploadURL + "/" + id,
	}, nil
}

// Update applies a partial metadata edit under the record lock.
func (h *Handlers) Update(ctx context.Context, data json.RawMessage, conn *session.Conn) (any, error) {
	const event = "update"
	if err := h.requireUploader(ctx, event, conn); err != nil {
		return nil, err
	}

	var req struct {
		UUID       string   `json:"uuid"`
		Artist     *string  `json:"artist"`
		AddTags    []string `json:"addTags"`
		RemoveTags []string `json:"removeTags"`
	}
	if err := decode(event, data, &req); err != nil {
		return nil, err
	}
	if !uid.Valid(req.UUID) {
		return nil, errors.New(errors.KindValidation, event, "Invalid image id")
	}

	locked, err := h.store.CheckAndLockImage(ctx, req.UUID)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, errors.New(errors.KindLocked, event, "Image is locked, try again")
	}
	defer func() {
		if err := h.store.UnlockImage(ctx, req.UUID); err != nil {
			slog.Warn("event_unlock_failed", "uuid", req.UUID, "error", err)
		}
	}()

	img, err := h.store.GetMetadata(ctx, req.UUID)
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, errors.New(errors.KindNotFound, event, "Image does not exist")
	}

	upd := store.Update{DateModified: nowMillis()}
	if req.Artist != nil {
		artist := strings.ToLower(strings.TrimSpace(*req.Artist))
		if artist == "" {
			artist = store.NoArtist
		}
		upd.Artist = &artist
	}
	for _, tag := range req.AddTags {
		if tag = strings.ToLower(strings.TrimSpace(tag)); tag != "" {
			upd.AddTags = append(upd.AddTags, tag)
		}
	}
	for _, tag := range req.RemoveTags {
		if tag = strings.ToLower(strings.TrimSpace(tag)); tag != "" {
			upd.RemoveTags = append(upd.RemoveTags, tag)
		}
	}

	if err := h.store.UpdateMetadata(ctx, req.UUID, upd); err != nil {
		return nil, err
	}
	return h.store.GetMetadata(ctx, req.UUID)
}

// RemoveSingle deletes one record under its lock: indexes, content hash and
// stored bytes.
func (h *Handlers) RemoveSingle(ctx context.Context, data json.RawMessage, conn *session.Conn) (any, error) {
	const event = "remove.single"
	if err := h.requireUploader(ctx, event, conn); err != nil {
		return nil, err
	}

	var req struct {
		UUID string `json:"uuid"`
	}
	if err := decode(event, data, &req); err != nil {
		return nil, err
	}
	removed, err := h.removeOne(ctx, event, req.UUID, true)
	if err != nil {
		return nil, err
	}
	if removed == 0 {
		return nil, errors.New(errors.KindNotFound, event, "Image does not exist")
	}
	return map[string]any{"removed": removed}, nil
}

// RemoveBatch deletes several records. Each record is locked independently;
// the first failure aborts the batch and reports what was removed so far.
func (h *Handlers) RemoveBatch(ctx context.Context, data json.RawMessage, conn *session.Conn) (any, error) {
	const event = "remove.batch"
	if err := h.requireUploader(ctx, event, conn); err != nil {
		return nil, err
	}

	var req struct {
		UUIDs []string `json:"uuids"`
	}
	if err := decode(event, data, &req); err != nil {
		return nil, err
	}
	if int64(len(req.UUIDs)) > h.opts.MaxSearchCount {
		return nil, errors.New(errors.KindValidation, event, "Too many images in one batch")
	}

	// Batch removal releases hashes only; orphaned blobs are left for an
	// offline sweep.
	var removed int64
	for _, id := range req.UUIDs {
		n, err := h.removeOne(ctx, event, id, false)
		if err != nil {
			return nil, err
		}
		removed += n
	}
	return map[string]any{"removed": removed}, nil
}

func (h *Handlers) removeOne(ctx context.Context, event, id string, deleteBlob bool) (int64, error) {
	if !uid.Valid(id) {
		return 0, errors.New(errors.KindValidation, event, "Invalid image id")
	}

	locked, err := h.store.CheckAndLockImage(ctx, id)
	if err != nil {
		return 0, err
	}
	if !locked {
		return 0, errors.New(errors.KindLocked, event, "Image is locked, try again")
	}

	img, err := h.store.GetMetadata(ctx, id)
	if err != nil {
		h.unlock(ctx, id)
		return 0, err
	}
	if img == nil {
		h.unlock(ctx, id)
		return 0, nil
	}

	removed, err := h.store.RemoveMetadata(ctx, id)
	if err != nil {
		h.unlock(ctx, id)
		return 0, err
	}
	if err := h.store.RemoveHash(ctx, img.Hash); err != nil {
		return removed, err
	}

	// The record is gone; losing the bytes is recoverable, keep going.
	if deleteBlob && h.blobs != nil && img.Uploaded {
		if err := h.blobs.Delete(ctx, id+"."+img.Type); err != nil {
			slog.Warn("event_blob_delete_failed", "uuid", id, "error", err)
		}
	}
	slog.Info("event_remove", "uuid", id, "fields", removed)
	return removed, nil
}

func (h *Handlers) unlock(ctx context.Context, id string) {
	if err := h.store.UnlockImage(ctx, id); err != nil {
		slog.Warn("event_unlock_failed", "uuid", id, "error", err)
	}
}

// GetSingle fetches one record. An unknown id is an empty object, not an
// error.
func (h *Handlers) GetSingle(ctx context.Context, data json.RawMessage, conn *session.Conn) (any, error) {
	const event = "get.single"
	var req struct {
		UUID string `json:"uuid"`
	}
	if err := decode(event, data, &req); err != nil {
		return nil, err
	}
	if !uid.Valid(req.UUID) {
		return nil, errors.New(errors.KindValidation, event, "Invalid image id")
	}

	img, err := h.store.GetMetadata(ctx, req.UUID)
	if err != nil {
		return nil, err
	}
	if img == nil {
		return map[string]any{}, nil
	}
	return h.withLink(img), nil
}

// GetBatch fetches several records, skipping unknown ids.
func (h *Handlers) GetBatch(ctx context.Context, data json.RawMessage, conn *session.Conn) (any, error) {
	const event = "get.batch"
	var req struct {
		UUIDs []string `json:"uuids"`
	}
	if err := decode(event, data, &req); err != nil {
		return nil, err
	}
	if int64(len(req.UUIDs)) > h.opts.MaxSearchCount {
		return nil, errors.New(errors.KindValidation, event, "Too many images in one batch")
	}

	out := make([]any, 0, len(req.UUIDs))
	for _, id := range req.UUIDs {
		if !uid.Valid(id) {
			return nil, errors.New(errors.KindValidation, event, "Invalid image id")
		}
		img, err := h.store.GetMetadata(ctx, id)
		if err != nil {
			return nil, err
		}
		if img != nil {
			out = append(out, h.withLink(img))
		}
	}
	return out, nil
}

// GetRandom samples records uniformly from the whole collection.
func (h *Handlers) GetRandom(ctx context.Context, data json.RawMessage, conn *session.Conn) (any, error) {
	const event = "get.random"
	var req struct {
		Count int64 `json:"count"`
	}
	if err := decode(event, data, &req); err != nil {
		return nil, err
	}
	count := h.clampCount(req.Count)

	total, err := h.store.CountImages(ctx)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return []any{}, nil
	}
	if count > total {
		count = total
	}

	out := make([]any, 0, count)
	seen := make(map[string]bool, count)
	for attempts := int64(0); int64(len(out)) < count && attempts < count*4; attempts++ {
		ids, err := h.store.SampleImages(ctx, rand.Int64N(total), 1)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 || seen[ids[0]] {
			continue
		}
		seen[ids[0]] = true
		img, err := h.store.GetMetadata(ctx, ids[0])
		if err != nil {
			return nil, err
		}
		if img != nil {
			out = append(out, h.withLink(img))
		}
	}
	return out, nil
}

type rangeRequest struct {
	Min   int64 `json:"min"`
	Max   int64 `json:"max"`
	Start int64 `json:"start"`
	Count int64 `json:"count"`
}

// SearchDateModified pages records by last-modified time.
func (h *Handlers) SearchDateModified(ctx context.Context, data json.RawMessage, conn *session.Conn) (any, error) {
	const event = "search.dateModified"
	var req rangeRequest
	if err := decode(event, data, &req); err != nil {
		return nil, err
	}
	ids, err := h.store.FindByModificationRange(ctx, req.Min, req.Max, req.Start, h.clampCount(req.Count))
	if err != nil {
		return nil, err
	}
	return h.resolve(ctx, ids)
}

// SearchDateAdded pages records by creation time via the sortable-id index.
func (h *Handlers) SearchDateAdded(ctx context.Context, data json.RawMessage, conn *session.Conn) (any, error) {
	const event = "search.dateAdded"
	var req rangeRequest
	if err := decode(event, data, &req); err != nil {
		return nil, err
	}
	ids, err := h.store.FindByCreationRange(ctx, req.Min, req.Max, req.Start, h.clampCount(req.Count))
	if err != nil {
		return nil, err
	}
	return h.resolve(ctx, ids)
}

// SearchArtist pages an artist's records. An unknown artist is a validation
// error naming the artist.
func (h *Handlers) SearchArtist(ctx context.Context, data json.RawMessage, conn *session.Conn) (any, error) {
	const event = "search.artist"
	var req struct {
		Artist string `json:"artist"`
		Start  int64  `json:"start"`
		Count  int64  `json:"count"`
	}
	if err := decode(event, data, &req); err != nil {
		return nil, err
	}

	artistID, err := h.artistID(ctx, event, req.Artist)
	if err != nil {
		return nil, err
	}
	ids, err := h.store.FindByArtist(ctx, artistID, req.Start, h.clampCount(req.Count))
	if err != nil {
		return nil, err
	}
	return h.resolve(ctx, ids)
}

// SearchTags pages the intersection of one or more tags. A single tag scans
// its index directly; multiple tags go through the intersection engine.
func (h *Handlers) SearchTags(ctx context.Context, data json.RawMessage, conn *session.Conn) (any, error) {
	const event = "search.tags"
	var req struct {
		Tags  []string `json:"tags"`
		Start int64    `json:"start"`
		Count int64    `json:"count"`
	}
	if err := decode(event, data, &req); err != nil {
		return nil, err
	}

	tagIDs, err := h.tagIDs(ctx, event, req.Tags)
	if err != nil {
		return nil, err
	}

	count := h.clampCount(req.Count)
	var ids []string
	if len(tagIDs) == 1 {
		ids, err = h.store.FindByTag(ctx, tagIDs[0], req.Start, count)
	} else {
		ids, err = h.engine.Search(ctx, tagIDs, req.Start, count)
	}
	if err != nil {
		return nil, err
	}
	return h.resolve(ctx, ids)
}

// SearchRandomByArtist samples from an artist's records.
func (h *Handlers) SearchRandomByArtist(ctx context.Context, data json.RawMessage, conn *session.Conn) (any, error) {
	const event = "search.randomByArtist"
	var req struct {
		Artist string `json:"artist"`
		Count  int64  `json:"count"`
	}
	if err := decode(event, data, &req); err != nil {
		return nil, err
	}

	artistID, err := h.artistID(ctx, event, req.Artist)
	if err != nil {
		return nil, err
	}
	ids, err := h.store.FindByArtist(ctx, artistID, 0, h.opts.MaxSearchCount)
	if err != nil {
		return nil, err
	}
	return h.resolve(ctx, sample(ids, h.clampCount(req.Count)))
}

// SearchRandomByTags samples from a tag intersection.
func (h *Handlers) SearchRandomByTags(ctx context.Context, data json.RawMessage, conn *session.Conn) (any, error) {
	const event = "search.randomByTags"
	var req struct {
		Tags  []string `json:"tags"`
		Count int64    `json:"count"`
	}
	if err := decode(event, data, &req); err != nil {
		return nil, err
	}

	tagIDs, err := h.tagIDs(ctx, event, req.Tags)
	if err != nil {
		return nil, err
	}

	var ids []string
	if len(tagIDs) == 1 {
		ids, err = h.store.FindByTag(ctx, tagIDs[0], 0, h.opts.MaxSearchCount)
	} else {
		ids, err = h.engine.Search(ctx, tagIDs, 0, h.opts.MaxSearchCount)
	}
	if err != nil {
		return nil, err
	}
	return h.resolve(ctx, sample(ids, h.clampCount(req.Count)))
}

// HasSingleHash reports whether a content hash is already claimed.
func (h *Handlers) HasSingleHash(ctx context.Context, data json.RawMessage, conn *session.Conn) (any, error) {
	const event = "has.singleHash"
	var req struct {
		Hash string `json:"hash"`
	}
	if err := decode(event, data, &req); err != nil {
		return nil, err
	}
	hash := strings.ToLower(req.Hash)
	if !validHash(hash) {
		return nil, errors.New(errors.KindValidation, event, "Invalid image hash")
	}
	exists, err := h.store.HasHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	return map[string]any{"exists": exists}, nil
}

// HasBatchHash reports claim state for several content hashes at once.
func (h *Handlers) HasBatchHash(ctx context.Context, data json.RawMessage, conn *session.Conn) (any, error) {
	const event = "has.batchHash"
	var req struct {
		Hashes []string `json:"hashes"`
	}
	if err := decode(event, data, &req); err != nil {
		return nil, err
	}
	if int64(len(req.Hashes)) > h.opts.MaxSearchCount {
		return nil, errors.New(errors.KindValidation, event, "Too many hashes in one batch")
	}

	out := make(map[string]bool, len(req.Hashes))
	for _, hash := range req.Hashes {
		hash = strings.ToLower(hash)
		if !validHash(hash) {
			return nil, errors.New(errors.KindValidation, event, "Invalid image hash")
		}
		exists, err := h.store.HasHash(ctx, hash)
		if err != nil {
			return nil, err
		}
		out[hash] = exists
	}
	return out, nil
}

// AuthenticateInit starts an identity challenge. The beginAuth field tells
// the session layer to adopt the claimed identity pending verification.
func (h *Handlers) AuthenticateInit(ctx context.Context, data json.RawMessage, conn *session.Conn) (any, error) {
	const event = "authenticate.init"
	var req struct {
		ID string `json:"id"`
	}
	if err := decode(event, data, &req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.ID) == "" {
		return nil, errors.New(errors.KindValidation, event, "Missing user id")
	}
	if err := h.gateway.RequestAuth(ctx, req.ID); err != nil {
		return nil, err
	}
	return map[string]any{"beginAuth": true}, nil
}

// AuthenticateSubmit verifies the challenge token. The authed field tells
// the session layer to mark the connection verified.
func (h *Handlers) AuthenticateSubmit(ctx context.Context, data json.RawMessage, conn *session.Conn) (any, error) {
	const event = "authenticate.submit"
	var req struct {
		Token string `json:"token"`
	}
	if err := decode(event, data, &req); err != nil {
		return nil, err
	}
	if conn == nil || conn.UserID == "" {
		return nil, errors.New(errors.KindNotAuthorized, event, "No authentication in progress")
	}
	if !h.gateway.TestToken(conn.UserID, req.Token) {
		return nil, errors.New(errors.KindNotAuthorized, event, "Invalid token")
	}
	h.gateway.VoidRequest(conn.UserID)
	slog.Info("event_authenticated", "user_id", conn.UserID)
	return map[string]any{"authed": true}, nil
}

// artistID resolves an artist name or fails with a validation error naming
// it.
func (h *Handlers) artistID(ctx context.Context, event, name string) (int64, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return 0, errors.New(errors.KindValidation, event, "Missing artist")
	}
	id, ok, err := h.store.GetArtistID(ctx, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errors.New(errors.KindValidation, event, fmt.Sprintf("Artist %q does not exist", name))
	}
	return id, nil
}

// tagIDs resolves a tag list or fails with a validation error naming the
// first unknown tag. An unknown tag means an empty intersection; failing
// fast skips the engine entirely.
func (h *Handlers) tagIDs(ctx context.Context, event string, tags []string) ([]int64, error) {
	if len(tags) == 0 {
		return nil, errors.New(errors.KindValidation, event, "Missing tags")
	}
	if len(tags) > h.opts.MaxTagSearch {
		return nil, errors.New(errors.KindValidation, event,
			fmt.Sprintf("At most %d tags per search", h.opts.MaxTagSearch))
	}

	ids := make([]int64, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			return nil, errors.New(errors.KindValidation, event, "Empty tag")
		}
		id, ok, err := h.store.GetTagID(ctx, tag)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.New(errors.KindValidation, event, fmt.Sprintf("Tag %q does not exist", tag))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// resolve turns a page of ids into full records, skipping any deleted
// between the index scan and the metadata read.
func (h *Handlers) resolve(ctx context.Context, ids []string) ([]any, error) {
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		img, err := h.store.GetMetadata(ctx, id)
		if err != nil {
			return nil, err
		}
		if img != nil {
			out = append(out, h.withLink(img))
		}
	}
	return out, nil
}

// withLink decorates a record with its public link once the bytes exist.
func (h *Handlers) withLink(img *store.Image) map[string]any {
	out := map[string]any{
		"uuid":         img.UUID,
		"hash":         img.Hash,
		"artist":       img.Artist,
		"uploader":     img.Uploader,
		"type":         img.Type,
		"size":         img.Size,
		"dateAdded":    img.DateAdded,
		"dateModified": img.DateModified,
		"uploaded":     img.Uploaded,
		"tags":         img.Tags,
	}
	if img.Uploaded {
		out["link"] = h.imageLink(img.UUID, img.Type)
	}
	return out
}

func sample(ids []string, count int64) []string {
	if int64(len(ids)) <= count {
		rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		return ids
	}
	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	return ids[:count]
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
