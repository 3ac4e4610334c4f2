package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hxnx/encore/internal/music"
)

const historyRepoTimeout = 2 * time.Second

type Favorite struct {
	URI       string
	Title     string
	Author    string
	Source    music.TrackSource
	CreatedAt time.Time
}

// HistoryRepository stores started tracks and user favorites. A nil
// repository or one without a handle is a no-op, so callers need not
// check whether persistence is configured.
type HistoryRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db, now: time.Now}
}

func (r *HistoryRepository) enabled() bool {
	return r != nil && r.db != nil
}

func (r *HistoryRepository) RecordPlay(ctx context.Context, guildID, userID string, track music.Track) error {
	if !r.enabled() {
		return nil
	}
	if guildID == "" || userID == "" || track.Info.Title == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, historyRepoTimeout)
	defer cancel()

	const query = `
		INSERT INTO play_history (guild_id, user_id, title, author, uri, source, duration_ms, played_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		guildID,
		userID,
		track.Info.Title,
		track.Info.Author,
		track.Info.URI,
		string(track.Info.Source),
		track.Info.Duration.Milliseconds(),
		r.now().UnixMilli(),
	)
	return err
}

// RecentTitles returns distinct titles the user played, most recent first.
func (r *HistoryRepository) RecentTitles(ctx context.Context, userID string, limit int) ([]string, error) {
	if !r.enabled() || userID == "" || limit <= 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, historyRepoTimeout)
	defer cancel()

	const query = `
		SELECT title
		FROM play_history
		WHERE user_id = $1
		GROUP BY title
		ORDER BY MAX(played_at) DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	titles := make([]string, 0, limit)
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, err
		}
		titles = append(titles, title)
	}
	return titles, rows.Err()
}

// PruneHistory deletes plays older than the cutoff and reports how many
// rows went.
func (r *HistoryRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if !r.enabled() || olderThan <= 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, historyRepoTimeout)
	defer cancel()

	const query = `
		DELETE FROM play_history
		WHERE played_at < $1
	`

	res, err := r.db.ExecContext(ctx, query, r.now().Add(-olderThan).UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *HistoryRepository) AddFavorite(ctx context.Context, userID string, track music.Track) error {
	if !r.enabled() {
		return nil
	}
	if userID == "" || track.Info.URI == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, historyRepoTimeout)
	defer cancel()

	const query = `
		INSERT INTO favorites (user_id, uri, title, author, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, uri)
		DO UPDATE SET
			title = EXCLUDED.title,
			author = EXCLUDED.author,
			source = EXCLUDED.source
	`

	_, err := r.db.ExecContext(ctx, query,
		userID,
		track.Info.URI,
		track.Info.Title,
		track.Info.Author,
		string(track.Info.Source),
		r.now().UnixMilli(),
	)
	return err
}

func (r *HistoryRepository) RemoveFavorite(ctx context.Context, userID, uri string) (bool, error) {
	if !r.enabled() || userID == "" || uri == "" {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, historyRepoTimeout)
	defer cancel()

	const query = `
		DELETE FROM favorites
		WHERE user_id = $1 AND uri = $2
	`

	res, err := r.db.ExecContext(ctx, query, userID, uri)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Favorites lists a user's favorites, newest first.
func (r *HistoryRepository) Favorites(ctx context.Context, userID string) ([]Favorite, error) {
	if !r.enabled() || userID == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, historyRepoTimeout)
	defer cancel()

	const query = `
		SELECT uri, title, author, source, created_at
		FROM favorites
		WHERE user_id = $1
		ORDER BY created_at DESC, uri
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Favorite
	for rows.Next() {
		var (
			f       Favorite
			source  string
			created int64
		)
		if err := rows.Scan(&f.URI, &f.Title, &f.Author, &source, &created); err != nil {
			return nil, err
		}
		f.Source = music.TrackSource(source)
		f.CreatedAt = time.UnixMilli(created)
		out = append(out, f)
	}
	return out, rows.Err()
}

// FavoriteTrack looks up a single favorite.
func (r *HistoryRepository) FavoriteTrack(ctx context.Context, userID, uri string) (Favorite, bool, error) {
	if !r.enabled() || userID == "" || uri == "" {
		return Favorite{}, false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, historyRepoTimeout)
	defer cancel()

	const query = `
		SELECT uri, title, author, source, created_at
		FROM favorites
		WHERE user_id = $1 AND uri = $2
	`

	var (
		f       Favorite
		source  string
		created int64
	)
	err := r.db.QueryRowContext(ctx, query, userID, uri).Scan(&f.URI, &f.Title, &f.Author, &source, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Favorite{}, false, nil
		}
		return Favorite{}, false, err
	}
	f.Source = music.TrackSource(source)
	f.CreatedAt = time.UnixMilli(created)
	return f, true, nil
}
