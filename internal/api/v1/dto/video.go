package dto

import "time"

// VideoResponseDTO is one generation job in API responses.
type VideoResponseDTO struct {
	ID            string    `json:"id"`
	HedraJobID    string    `json:"hedra_job_id"`
	ImageFilename string    `json:"image_filename"`
	Status        string    `json:"status"`
	ErrorDetail   string    `json:"error_detail,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// VideoListResponseDTO wraps the video list.
type VideoListResponseDTO struct {
	Videos []VideoResponseDTO `json:"videos"`
}

// VideoDownloadResponseDTO carries a presigned download URL.
type VideoDownloadResponseDTO struct {
	URL string `json:"url"`
}
