package model

// CompletionJob is the queue message tracking an accepted generation job
// until its video is finished and archived.
type CompletionJob struct {
	VideoID    string `json:"video_id"`
	UserID     string `json:"user_id"`
	HedraJobID string `json:"hedra_job_id"`
	Attempts   int    `json:"attempts"`
}
