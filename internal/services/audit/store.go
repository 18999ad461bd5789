package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/linkaudit/internal/interfaces"
	"github.com/ternarybob/linkaudit/internal/models"
)

// ErrStoreUnavailable is returned when a store call fails again after a reconnect
var ErrStoreUnavailable = errors.New("audit store unavailable")

// resilientStore reopens the store once on failure and retries the call.
// A second failure aborts the collection with ErrStoreUnavailable.
type resilientStore struct {
	store  interfaces.AuditStore
	logger arbor.ILogger
}

var _ interfaces.AuditStore = (*resilientStore)(nil)

func newResilientStore(store interfaces.AuditStore, logger arbor.ILogger) *resilientStore {
	return &resilientStore{store: store, logger: logger}
}

func (s *resilientStore) retry(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if err == nil || errors.Is(err, interfaces.ErrNotFound) {
		return err
	}

	s.logger.Warn().Err(err).Str("op", op).Msg("Store call failed, reconnecting")
	if rerr := s.store.Reconnect(ctx); rerr != nil {
		return fmt.Errorf("%w: %s: reconnect failed: %v (after %v)", ErrStoreUnavailable, op, rerr, err)
	}

	err = fn()
	if err == nil || errors.Is(err, interfaces.ErrNotFound) {
		s.logger.Info().Str("op", op).Msg("Store call succeeded after reconnect")
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

func (s *resilientStore) GetActiveCollections(ctx context.Context) ([]*models.CollectionRecord, error) {
	var out []*models.CollectionRecord
	err := s.retry(ctx, "get_active_collections", func() (err error) {
		out, err = s.store.GetActiveCollections(ctx)
		return err
	})
	return out, err
}

func (s *resilientStore) GetCollection(ctx context.Context, key string) (*models.CollectionRecord, error) {
	var out *models.CollectionRecord
	err := s.retry(ctx, "get_collection", func() (err error) {
		out, err = s.store.GetCollection(ctx, key)
		return err
	})
	return out, err
}

func (s *resilientStore) SaveCollection(ctx context.Context, c *models.CollectionRecord) error {
	return s.retry(ctx, "save_collection", func() error {
		return s.store.SaveCollection(ctx, c)
	})
}

func (s *resilientStore) GetLastEmailDate(ctx context.Context, collectionKey string) (time.Time, error) {
	var out time.Time
	err := s.retry(ctx, "get_last_email_date", func() (err error) {
		out, err = s.store.GetLastEmailDate(ctx, collectionKey)
		return err
	})
	return out, err
}

func (s *resilientStore) SetLastEmailDate(ctx context.Context, collectionKey string, date time.Time) error {
	return s.retry(ctx, "set_last_email_date", func() error {
		return s.store.SetLastEmailDate(ctx, collectionKey, date)
	})
}

func (s *resilientStore) GetResourceHistory(ctx context.Context, collectionKey string) ([]*models.ResourceRecord, error) {
	var out []*models.ResourceRecord
	err := s.retry(ctx, "get_resource_history", func() (err error) {
		out, err = s.store.GetResourceHistory(ctx, collectionKey)
		return err
	})
	return out, err
}

func (s *resilientStore) UpsertResource(ctx context.Context, r *models.ResourceRecord) error {
	return s.retry(ctx, "upsert_resource", func() error {
		return s.store.UpsertResource(ctx, r)
	})
}

func (s *resilientStore) GetVitalityHistory(ctx context.Context, collectionKey, id, url string, since time.Time) ([]*models.VitalityRecord, error) {
	var out []*models.VitalityRecord
	err := s.retry(ctx, "get_vitality_history", func() (err error) {
		out, err = s.store.GetVitalityHistory(ctx, collectionKey, id, url, since)
		return err
	})
	return out, err
}

func (s *resilientStore) InsertVitalityRow(ctx context.Context, v *models.VitalityRecord) error {
	return s.retry(ctx, "insert_vitality_row", func() error {
		return s.store.InsertVitalityRow(ctx, v)
	})
}

func (s *resilientStore) InsertMessage(ctx context.Context, m *models.MessageRecord) error {
	return s.retry(ctx, "insert_message", func() error {
		return s.store.InsertMessage(ctx, m)
	})
}

func (s *resilientStore) GetMessages(ctx context.Context, collectionKey, runID string) ([]*models.MessageRecord, error) {
	var out []*models.MessageRecord
	err := s.retry(ctx, "get_messages", func() (err error) {
		out, err = s.store.GetMessages(ctx, collectionKey, runID)
		return err
	})
	return out, err
}

func (s *resilientStore) Reconnect(ctx context.Context) error {
	return s.store.Reconnect(ctx)
}

func (s *resilientStore) Close() error {
	return s.store.Close()
}
