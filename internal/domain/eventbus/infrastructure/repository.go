package infrastructure

import (
	"context"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"

	"ordersync-go/internal/domain/eventbus/repository"
	"ordersync-go/internal/platform/errors"
	"ordersync-go/internal/platform/storage"
)

type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository creates a journal backed by db.
func NewEventRepository(db *gorm.DB) repository.EventRepository {
	return &eventRepository{
		db: db,
	}
}

func (r *eventRepository) Store(ctx context.Context, event repository.Event) error {
	var data []byte
	if len(event.Labels) > 0 {
		encoded, err := sonic.Marshal(event.Labels)
		if err != nil {
			return errors.Wrap(errors.KindStorage, "event.store.marshal", "failed to marshal event labels", err)
		}
		data = encoded
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	row := &storage.ConnectionEvent{
		EventType: event.EventType,
		Tenant:    event.Tenant,
		Venue:     event.Venue,
		State:     event.State,
		Reason:    event.Reason,
		Data:      data,
		CreatedAt: createdAt,
	}

	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "event.store.create", "failed to store event", err)
	}

	return nil
}

func (r *eventRepository) Recent(ctx context.Context, tenant string, limit int) ([]repository.Event, error) {
	var rows []storage.ConnectionEvent
	query := r.db.WithContext(ctx).
		Where("tenant = ?", tenant).
		Order("created_at DESC").
		Order("id DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&rows).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "event.find.tenant", "failed to find events by tenant", err)
	}

	return r.convert(rows)
}

func (r *eventRepository) FindByEventType(ctx context.Context, eventType string, limit int) ([]repository.Event, error) {
	var rows []storage.ConnectionEvent
	query := r.db.WithContext(ctx).
		Where("event_type = ?", eventType).
		Order("created_at DESC").
		Order("id DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&rows).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "event.find.type", "failed to find events by type", err)
	}

	return r.convert(rows)
}

func (r *eventRepository) DeleteOldEvents(ctx context.Context, beforeTime time.Time) error {
	if err := r.db.WithContext(ctx).
		Where("created_at < ?", beforeTime).
		Delete(&storage.ConnectionEvent{}).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "event.delete.old", "failed to delete old events", err)
	}

	return nil
}

func (r *eventRepository) GetEventStats(ctx context.Context) (map[string]int64, error) {
	var stats []struct {
		EventType string
		Count     int64
	}

	if err := r.db.WithContext(ctx).
		Model(&storage.ConnectionEvent{}).
		Select("event_type, count(*) as count").
		Group("event_type").
		Scan(&stats).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "event.stats", "failed to get event stats", err)
	}

	result := make(map[string]int64, len(stats))
	for _, stat := range stats {
		result[stat.EventType] = stat.Count
	}

	return result, nil
}

func (r *eventRepository) convert(rows []storage.ConnectionEvent) ([]repository.Event, error) {
	events := make([]repository.Event, len(rows))

	for i, row := range rows {
		var labels map[string]string
		if len(row.Data) > 0 {
			if err := sonic.Unmarshal(row.Data, &labels); err != nil {
				return nil, errors.Wrap(errors.KindStorage, "event.convert.unmarshal", "failed to unmarshal event labels", err)
			}
		}

		events[i] = repository.Event{
			ID:        strconv.FormatUint(uint64(row.ID), 10),
			EventType: row.EventType,
			Tenant:    row.Tenant,
			Venue:     row.Venue,
			State:     row.State,
			Reason:    row.Reason,
			Labels:    labels,
			CreatedAt: row.CreatedAt,
		}
	}

	return events, nil
}
