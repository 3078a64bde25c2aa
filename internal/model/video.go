package model

import "time"

// Video generation job statuses.
const (
	VideoStatusProcessing = "processing"
	VideoStatusComplete   = "complete"
	VideoStatusFailed     = "failed"
)

// Video represents one generated video job. StoragePath is set once the
// completion worker has archived the finished file.
type Video struct {
	ID            string    `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"user_id"`
	HedraJobID    string    `db:"hedra_job_id" json:"hedra_job_id"`
	ImageFilename string    `db:"image_filename" json:"image_filename"`
	Status        string    `db:"status" json:"status"`
	StoragePath   *string   `db:"storage_path" json:"storage_path,omitempty"`
	ErrorDetail   *string   `db:"error_detail" json:"error_detail,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}
