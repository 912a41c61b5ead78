// Package activity persists playback history and the latest-media
// sensor payload to Postgres, keeping the server sensor warm across
// restarts and powering the activity listing endpoint.
package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/koying/jellyfin-ha/internal/database"
	"github.com/koying/jellyfin-ha/internal/session"
)

type (
	// Activity is one playback history row. A row tracks a single
	// device/item pairing and is updated in place while playback of
	// that item continues.
	Activity struct {
		ID            uuid.UUID `db:"id" json:"id"`
		DeviceKey     string    `db:"device_key" json:"device_key"`
		UserName      string    `db:"user_name" json:"user_name"`
		ItemID        string    `db:"item_id" json:"item_id"`
		ItemTitle     string    `db:"item_title" json:"item_title"`
		ItemType      string    `db:"item_type" json:"item_type"`
		SeriesName    string    `db:"series_name" json:"series_name,omitempty"`
		SeasonNumber  *int      `db:"season_number" json:"season_number,omitempty"`
		EpisodeNumber *int      `db:"episode_number" json:"episode_number,omitempty"`
		State         string    `db:"state" json:"state"`
		PositionTicks int64     `db:"position_ticks" json:"position_ticks"`
		RuntimeTicks  int64     `db:"runtime_ticks" json:"runtime_ticks"`
		StartedAt     time.Time `db:"started_at" json:"started_at"`
		UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
	}

	latestMediaRow struct {
		Position  int       `db:"position"`
		Title     string    `db:"title"`
		Episode   string    `db:"episode"`
		Number    string    `db:"number"`
		Aired     string    `db:"aired"`
		Release   string    `db:"release"`
		Runtime   int       `db:"runtime"`
		Poster    string    `db:"poster"`
		Fanart    string    `db:"fanart"`
		Rating    float64   `db:"rating"`
		Studio    string    `db:"studio"`
		Genres    string    `db:"genres"`
		Flag      bool      `db:"flag"`
		UpdatedAt time.Time `db:"updated_at"`
	}

	// Store provides the Postgres persistence for playback activity
	// and the latest-media snapshot.
	Store struct {
		db database.Manager
	}
)

var builder = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

func NewStore(db database.Manager) *Store {
	return &Store{db: db}
}

// Upsert inserts the activity row, or refreshes its playback state
// when a row with the same ID already exists.
func (store *Store) Upsert(record *Activity) error {
	query, args, err := builder.
		Insert("playback_activity").
		Columns("id", "device_key", "user_name", "item_id", "item_title", "item_type",
			"series_name", "season_number", "episode_number", "state",
			"position_ticks", "runtime_ticks", "started_at", "updated_at").
		Values(record.ID, record.DeviceKey, record.UserName, record.ItemID, record.ItemTitle, record.ItemType,
			record.SeriesName, record.SeasonNumber, record.EpisodeNumber, record.State,
			record.PositionTicks, record.RuntimeTicks, record.StartedAt, record.UpdatedAt).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			position_ticks = EXCLUDED.position_ticks,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build activity upsert: %w", err)
	}

	return store.db.WrapTx(func(tx *sqlx.Tx) error {
		_, err := tx.Exec(query, args...)
		return err
	})
}

// List returns the most recently updated activity rows, newest first.
func (store *Store) List(ctx context.Context, limit int) ([]Activity, error) {
	query, args, err := builder.
		Select("*").
		From("playback_activity").
		OrderBy("updated_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build activity listing: %w", err)
	}

	activities := []Activity{}
	if err := store.db.GetSqlxDb().SelectContext(ctx, &activities, query, args...); err != nil {
		return nil, err
	}

	return activities, nil
}

// StoreLatestMedia replaces the persisted latest-media snapshot with
// the given card payload, preserving its ordering.
func (store *Store) StoreLatestMedia(_ context.Context, items []session.CardItem) error {
	return store.db.WrapTx(func(tx *sqlx.Tx) error {
		if _, err := tx.Exec("DELETE FROM latest_media"); err != nil {
			return err
		}

		now := time.Now()
		for position, item := range items {
			query, args, err := builder.
				Insert("latest_media").
				Columns("position", "title", "episode", "number", "aired", "release",
					"runtime", "poster", "fanart", "rating", "studio", "genres", "flag", "updated_at").
				Values(position, item.Title, item.Episode, item.Number, item.Aired, item.Release,
					item.Runtime, item.Poster, item.Fanart, item.Rating, item.Studio, item.Genres, item.Flag, now).
				ToSql()
			if err != nil {
				return fmt.Errorf("failed to build latest-media insert: %w", err)
			}

			if _, err := tx.Exec(query, args...); err != nil {
				return err
			}
		}

		return nil
	})
}

// LatestMedia loads the persisted card payload in its stored order.
func (store *Store) LatestMedia(ctx context.Context, limit int) ([]session.CardItem, error) {
	query, args, err := builder.
		Select("*").
		From("latest_media").
		OrderBy("position ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build latest-media listing: %w", err)
	}

	rows := []latestMediaRow{}
	if err := store.db.GetSqlxDb().SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	items := make([]session.CardItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, session.CardItem{
			Title:   row.Title,
			Episode: row.Episode,
			Number:  row.Number,
			Aired:   row.Aired,
			Release: row.Release,
			Runtime: row.Runtime,
			Poster:  row.Poster,
			Fanart:  row.Fanart,
			Rating:  row.Rating,
			Studio:  row.Studio,
			Genres:  row.Genres,
			Flag:    row.Flag,
		})
	}

	return items, nil
}
