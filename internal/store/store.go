package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/andresmejia3/tracklets/internal/types"
)

// ErrNotFound is returned when a looked up row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the PostgreSQL annotation store: media, their localizations,
// annotation versions and the tracks built from them.
type Store struct {
	conn *pgx.Conn
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS media (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			width INT NOT NULL,
			height INT NOT NULL,
			fps DOUBLE PRECISION NOT NULL,
			processed_at TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS versions (
			id BIGSERIAL PRIMARY KEY,
			number INT NOT NULL UNIQUE,
			name TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS localizations (
			id BIGSERIAL PRIMARY KEY,
			media_id BIGINT NOT NULL REFERENCES media(id) ON DELETE CASCADE,
			type_id BIGINT NOT NULL,
			frame INT NOT NULL,
			x DOUBLE PRECISION NOT NULL,
			y DOUBLE PRECISION NOT NULL,
			width DOUBLE PRECISION NOT NULL,
			height DOUBLE PRECISION NOT NULL,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 1,
			species TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS tracks (
			id BIGSERIAL PRIMARY KEY,
			run_id UUID NOT NULL,
			type_id BIGINT NOT NULL,
			media_ids BIGINT[] NOT NULL,
			localization_ids BIGINT[] NOT NULL,
			species TEXT NOT NULL,
			length INT NOT NULL,
			angle DOUBLE PRECISION NOT NULL,
			speed DOUBLE PRECISION NOT NULL,
			version_id BIGINT REFERENCES versions(id),
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS localizations_media_type_idx ON localizations (media_id, type_id);
		CREATE INDEX IF NOT EXISTS tracks_media_ids_idx ON tracks USING GIN (media_ids);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// UpsertMedia registers a media file, refreshing its geometry if it exists.
func (s *Store) UpsertMedia(ctx context.Context, m types.Media) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO media (id, name, width, height, fps)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, width = EXCLUDED.width,
			height = EXCLUDED.height, fps = EXCLUDED.fps
	`, m.ID, m.Name, m.Width, m.Height, m.FPS)
	return err
}

// Media returns one media row.
func (s *Store) Media(ctx context.Context, id int64) (types.Media, error) {
	var m types.Media
	err := s.conn.QueryRow(ctx, "SELECT id, name, width, height, fps FROM media WHERE id = $1", id).
		Scan(&m.ID, &m.Name, &m.Width, &m.Height, &m.FPS)
	if errors.Is(err, pgx.ErrNoRows) {
		return m, fmt.Errorf("media %d: %w", id, ErrNotFound)
	}
	return m, err
}

// Localizations returns the detections of one type on a media, in frame order.
func (s *Store) Localizations(ctx context.Context, mediaID, typeID int64) ([]types.Localization, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, media_id, type_id, frame, x, y, width, height, confidence, species
		FROM localizations
		WHERE media_id = $1 AND type_id = $2
		ORDER BY frame, id
	`, mediaID, typeID)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, scanLocalization)
}

func scanLocalization(row pgx.CollectableRow) (types.Localization, error) {
	var l types.Localization
	err := row.Scan(&l.ID, &l.MediaID, &l.TypeID, &l.Frame, &l.X, &l.Y, &l.Width, &l.Height, &l.Confidence, &l.Species)
	return l, err
}

// LocalizationsByID returns the given localizations in frame order. Unknown
// ids are skipped.
func (s *Store) LocalizationsByID(ctx context.Context, ids []int64) ([]types.Localization, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, media_id, type_id, frame, x, y, width, height, confidence, species
		FROM localizations
		WHERE id = ANY($1)
		ORDER BY frame, id
	`, ids)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanLocalization)
}

// ImportLocalizations inserts detections in one transaction and returns
// their new ids in input order.
func (s *Store) ImportLocalizations(ctx context.Context, locs []types.Localization) ([]int64, error) {
	if len(locs) == 0 {
		return nil, nil
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, l := range locs {
		batch.Queue(`
			INSERT INTO localizations (media_id, type_id, frame, x, y, width, height, confidence, species)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id
		`, l.MediaID, l.TypeID, l.Frame, l.X, l.Y, l.Width, l.Height, l.Confidence, l.Species)
	}

	ids, err := scanBatchIDs(tx.SendBatch(ctx, batch), len(locs))
	if err != nil {
		return nil, fmt.Errorf("inserting localizations: %w", err)
	}
	return ids, tx.Commit(ctx)
}

// EnsureVersion returns the version with the given number, creating it if needed.
func (s *Store) EnsureVersion(ctx context.Context, number int, name string) (types.Version, error) {
	v := types.Version{Number: number}
	err := s.conn.QueryRow(ctx, `
		INSERT INTO versions (number, name) VALUES ($1, $2)
		ON CONFLICT (number) DO UPDATE SET number = EXCLUDED.number
		RETURNING id, name
	`, number, name).Scan(&v.ID, &v.Name)
	return v, err
}

// VersionByNumber looks a version up by its user facing number.
func (s *Store) VersionByNumber(ctx context.Context, number int) (types.Version, error) {
	v := types.Version{Number: number}
	err := s.conn.QueryRow(ctx, "SELECT id, name FROM versions WHERE number = $1", number).Scan(&v.ID, &v.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return v, fmt.Errorf("version number %d: %w", number, ErrNotFound)
	}
	return v, err
}

// CreateTracks inserts track records tagged with the run that produced
// them, all or nothing, and returns their ids.
func (s *Store) CreateTracks(ctx context.Context, runID uuid.UUID, recs []types.TrackRecord) ([]int64, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids, err := insertTracks(ctx, tx, runID, recs)
	if err != nil {
		return nil, err
	}
	return ids, tx.Commit(ctx)
}

// ReplaceTracks deletes the earlier tracks of one type on a media and
// inserts recs in the same transaction, so a failed insert keeps the old
// tracks. A track is matched when mediaID is any of its media ids, which
// includes tracks spanning several media. It returns the number of deleted
// tracks and the ids of the new ones.
func (s *Store) ReplaceTracks(ctx context.Context, mediaID, typeID int64, runID uuid.UUID, recs []types.TrackRecord) (int64, []int64, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, nil, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, "DELETE FROM tracks WHERE $1 = ANY(media_ids) AND type_id = $2", mediaID, typeID)
	if err != nil {
		return 0, nil, fmt.Errorf("deleting tracks: %w", err)
	}

	var ids []int64
	if len(recs) > 0 {
		if ids, err = insertTracks(ctx, tx, runID, recs); err != nil {
			return 0, nil, err
		}
	}
	return tag.RowsAffected(), ids, tx.Commit(ctx)
}

func insertTracks(ctx context.Context, tx pgx.Tx, runID uuid.UUID, recs []types.TrackRecord) ([]int64, error) {
	batch := &pgx.Batch{}
	for _, r := range recs {
		batch.Queue(`
			INSERT INTO tracks (run_id, type_id, media_ids, localization_ids, species, length, angle, speed, version_id)
			VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id
		`, runID.String(), r.Type, r.MediaIDs, r.LocalizationIDs, r.Species, r.Length, r.Angle, r.Speed, r.Version)
	}

	ids, err := scanBatchIDs(tx.SendBatch(ctx, batch), len(recs))
	if err != nil {
		return nil, fmt.Errorf("inserting tracks: %w", err)
	}
	return ids, nil
}

// scanBatchIDs reads one RETURNING id per queued statement and closes the batch
func scanBatchIDs(br pgx.BatchResults, n int) ([]int64, error) {
	ids := make([]int64, n)
	for i := range ids {
		if err := br.QueryRow().Scan(&ids[i]); err != nil {
			br.Close()
			return nil, err
		}
	}
	return ids, br.Close()
}

// MarkProcessed stamps the media with the time tracking finished.
func (s *Store) MarkProcessed(ctx context.Context, mediaID int64, at time.Time) error {
	tag, err := s.conn.Exec(ctx, "UPDATE media SET processed_at = $1 WHERE id = $2", at, mediaID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("media %d: %w", mediaID, ErrNotFound)
	}
	return nil
}

const trackColumns = `id, run_id::text, type_id, media_ids, localization_ids, species, length, angle, speed, version_id, created_at`

func scanTrack(row pgx.Row) (types.StoredTrack, error) {
	var t types.StoredTrack
	var runID string
	err := row.Scan(&t.ID, &runID, &t.Type, &t.MediaIDs, &t.LocalizationIDs, &t.Species,
		&t.Length, &t.Angle, &t.Speed, &t.Version, &t.CreatedAt)
	if err != nil {
		return t, err
	}
	t.RunID, err = uuid.Parse(runID)
	return t, err
}

// ListTracks returns the tracks on a media, longest first.
func (s *Store) ListTracks(ctx context.Context, mediaID int64) ([]types.StoredTrack, error) {
	rows, err := s.conn.Query(ctx, `SELECT `+trackColumns+` FROM tracks WHERE $1 = ANY(media_ids) ORDER BY length DESC, id`, mediaID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.StoredTrack, error) {
		return scanTrack(row)
	})
}

// GetTrack returns one track.
func (s *Store) GetTrack(ctx context.Context, id int64) (types.StoredTrack, error) {
	t, err := scanTrack(s.conn.QueryRow(ctx, `SELECT `+trackColumns+` FROM tracks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return t, fmt.Errorf("track %d: %w", id, ErrNotFound)
	}
	return t, err
}

// RenameTrack overrides the species label of a track.
func (s *Store) RenameTrack(ctx context.Context, id int64, species string) error {
	tag, err := s.conn.Exec(ctx, "UPDATE tracks SET species = $1 WHERE id = $2", species, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("track %d: %w", id, ErrNotFound)
	}
	return nil
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS tracks CASCADE;
		DROP TABLE IF EXISTS localizations CASCADE;
		DROP TABLE IF EXISTS versions CASCADE;
		DROP TABLE IF EXISTS media CASCADE;
	`)
	return err
}
