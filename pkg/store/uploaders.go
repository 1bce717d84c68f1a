package store

import (
	"context"
	"log/slog"

	"github.com/gazouio/gazou/pkg/errors"
)

// Uploader identity and permission records. Each uploader has a per-user
// hash holding the display name and the binary can-upload flag, plus an
// entry in the displayName-to-id hash for reverse lookup.

// UploaderCanUpload reports the binary can-upload flag for an identity.
func (s *Store) UploaderCanUpload(ctx context.Context, userID string) (bool, error) {
	v, _, err := s.kv.HGet(ctx, uploaderKey(userID), "canUpload")
	if err != nil {
		return false, errors.Wrap(err, "failed to read uploader permission")
	}
	return v == "1", nil
}

// GetUserDisplayName resolves an identity to its display name.
func (s *Store) GetUserDisplayName(ctx context.Context, userID string) (string, bool, error) {
	name, ok, err := s.kv.HGet(ctx, uploaderKey(userID), "displayName")
	if err != nil {
		return "", false, errors.Wrap(err, "failed to read display name")
	}
	return name, ok, nil
}

// GetUserID resolves a display name to its identity.
func (s *Store) GetUserID(ctx context.Context, displayName string) (string, bool, error) {
	id, ok, err := s.kv.HGet(ctx, userNamesKey, displayName)
	if err != nil {
		return "", false, errors.Wrap(err, "failed to resolve display name")
	}
	return id, ok, nil
}

// AddUploader registers an identity with a display name and grants the
// can-upload flag.
func (s *Store) AddUploader(ctx context.Context, userID, displayName string) error {
	slog.Info("store_add_uploader", "user_id", userID, "display_name", displayName)

	err := s.kv.HSet(ctx, uploaderKey(userID), map[string]string{
		"displayName": displayName,
		"canUpload":   "1",
	})
	if err != nil {
		return errors.Wrap(err, "failed to write uploader record")
	}
	err = s.kv.HSet(ctx, userNamesKey, map[string]string{displayName: userID})
	return errors.Wrap(err, "failed to register display name")
}

// ApproveUploader grants the can-upload flag.
func (s *Store) ApproveUploader(ctx context.Context, userID string) error {
	slog.Info("store_approve_uploader", "user_id", userID)
	err := s.kv.HSet(ctx, uploaderKey(userID), map[string]string{"canUpload": "1"})
	return errors.Wrap(err, "failed to approve uploader")
}

// RevokeUploader clears the can-upload flag.
func (s *Store) RevokeUploader(ctx context.Context, userID string) error {
	slog.Info("store_revoke_uploader", "user_id", userID)
	err := s.kv.HSet(ctx, uploaderKey(userID), map[string]string{"canUpload": "0"})
	return errors.Wrap(err, "failed to revoke uploader")
}

// UpdateUploaderName changes an uploader's display name, keeping the
// reverse mapping consistent.
func (s *Store) UpdateUploaderName(ctx context.Context, userID, newName string) error {
	oldName, ok, err := s.GetUserDisplayName(ctx, userID)
	if err != nil {
		return err
	}
	if ok {
		if _, err := s.kv.HDel(ctx, userNamesKey, oldName); err != nil {
			return errors.Wrap(err, "failed to drop old display name")
		}
	}
	err = s.kv.HSet(ctx, uploaderKey(userID), map[string]string{"displayName": newName})
	if err != nil {
		return errors.Wrap(err, "failed to update display name")
	}
	err = s.kv.HSet(ctx, userNamesKey, map[string]string{newName: userID})
	return errors.Wrap(err, "failed to register new display name")
}

// ListUploaders returns the displayName-to-id mapping of all uploaders.
func (s *Store) ListUploaders(ctx context.Context) (map[string]string, error) {
	names, err := s.kv.HGetAll(ctx, userNamesKey)
	return names, errors.Wrap(err, "failed to list uploaders")
}
