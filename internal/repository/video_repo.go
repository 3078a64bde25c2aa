package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bulktok/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrVideoNotFound is returned when no video row matches the lookup.
var ErrVideoNotFound = errors.New("video_not_found")

// VideoRepository persists generation job rows. Status transitions after
// dispatch are owned by the completion worker.
type VideoRepository interface {
	Create(ctx context.Context, v *model.Video) (*model.Video, error)
	GetByID(ctx context.Context, id string) (*model.Video, error)
	ListByUser(ctx context.Context, userID string, from, to *time.Time) ([]model.Video, error)
}

type videoRepo struct {
	pool *pgxpool.Pool
}

// NewVideoRepo creates a new VideoRepository.
func NewVideoRepo(pool *pgxpool.Pool) VideoRepository {
	return &videoRepo{pool: pool}
}

const videoColumns = `id, user_id, hedra_job_id, image_filename, status,
       storage_path, error_detail, created_at, updated_at`

func scanVideo(row pgx.Row) (*model.Video, error) {
	var v model.Video
	err := row.Scan(
		&v.ID,
		&v.UserID,
		&v.HedraJobID,
		&v.ImageFilename,
		&v.Status,
		&v.StoragePath,
		&v.ErrorDetail,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVideoNotFound
		}
		return nil, err
	}
	return &v, nil
}

func (r *videoRepo) Create(ctx context.Context, v *model.Video) (*model.Video, error) {
	const q = `
        INSERT INTO videos (user_id, hedra_job_id, image_filename, status)
        VALUES ($1, $2, $3, $4)
        RETURNING ` + videoColumns
	created, err := scanVideo(r.pool.QueryRow(ctx, q, v.UserID, v.HedraJobID, v.ImageFilename, v.Status))
	if err != nil {
		return nil, fmt.Errorf("create video row for %s: %w", v.UserID, err)
	}
	return created, nil
}

func (r *videoRepo) GetByID(ctx context.Context, id string) (*model.Video, error) {
	q := `SELECT ` + videoColumns + ` FROM videos WHERE id = $1`
	v, err := scanVideo(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, ErrVideoNotFound) {
			return nil, ErrVideoNotFound
		}
		return nil, fmt.Errorf("fetch video %s: %w", id, err)
	}
	return v, nil
}

func (r *videoRepo) ListByUser(ctx context.Context, userID string, from, to *time.Time) ([]model.Video, error) {
	q := `SELECT ` + videoColumns + ` FROM videos WHERE user_id = $1`
	args := []any{userID}
	if from != nil {
		args = append(args, *from)
		q += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		q += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	q += " ORDER BY created_at DESC"

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list videos for %s: %w", userID, err)
	}
	defer rows.Close()

	var videos []model.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan video row: %w", err)
		}
		videos = append(videos, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("video rows error: %w", err)
	}
	return videos, nil
}
