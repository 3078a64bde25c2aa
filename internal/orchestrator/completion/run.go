package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bulktok/internal/config"
	"bulktok/internal/hedra"
	"bulktok/internal/model"
	"bulktok/internal/pgmq"
	"bulktok/internal/pubsub"
	"bulktok/internal/service"

	"github.com/rs/zerolog"
)

// repollDelaySec is how long a still-processing job waits before it is
// checked again.
const repollDelaySec = 15

// Run starts the completion orchestrator. It polls the completion queue
// and drives each accepted Hedra job to a terminal state: the finished
// file is archived and the video row flipped to complete, or the job is
// marked failed. Transient errors re-enqueue with backoff until the
// retry budget is spent, then the job goes to the dead-letter queue.
func Run(ctx context.Context, logger zerolog.Logger, client *pgmq.Client) error {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Error loading config in completion orchestrator: %v", err)
	}
	queue := cfg.CompletionQueueName

	secrets, err := service.NewSecretStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create secret store: %w", err)
	}
	s3Client, err := service.NewS3Client(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create s3 client: %w", err)
	}
	storage := service.NewStorageService(s3Client, cfg.S3Bucket, logger)
	publisher, err := pubsub.NewPublisher(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create pub/sub publisher: %w", err)
	}
	newClient := hedra.NewFactory(cfg.HedraBaseURL, cfg.HedraModelID, time.Duration(cfg.HedraRequestTimeoutSec)*time.Second, logger)

	logger.Info().Str("queue", queue).Msg("Starting completion orchestrator")
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Shutting down completion orchestrator")
			return nil
		default:
		}

		msgs, err := client.ReadWithPoll(ctx, queue, cfg.CompletionPollTimeoutSec, cfg.CompletionPollMaxMsg)
		if err != nil {
			logger.Error().Err(err).Msg("Error reading completion queue")
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range msgs {
			var job model.CompletionJob
			if err := json.Unmarshal(msg.Data, &job); err != nil {
				logger.Error().Err(err).Msg("Failed to unmarshal completion payload; deleting message")
				client.Delete(ctx, queue, []int64{msg.ID})
				continue
			}

			if err := processJob(ctx, cfg, logger, client, secrets, storage, publisher, newClient, &job); err != nil {
				job.Attempts++
				if job.Attempts >= cfg.CompletionMaxRetries {
					giveUp(ctx, cfg, logger, client, &job, err)
				} else {
					requeue(ctx, logger, client, queue, &job, backoffSec(cfg, job.Attempts))
				}
			}

			// Acknowledge. Re-enqueued jobs are already back on the
			// queue as fresh messages.
			if err := client.Delete(ctx, queue, []int64{msg.ID}); err != nil {
				logger.Error().Err(err).Int64("msg_id", msg.ID).Msg("Error deleting completion message")
			}
		}
	}
}

// processJob handles one queue message. A nil return means the job
// reached a terminal state or was re-enqueued for repolling; an error
// means a transient failure the caller should retry.
func processJob(
	ctx context.Context,
	cfg *config.Config,
	logger zerolog.Logger,
	client *pgmq.Client,
	secrets service.SecretStore,
	storage service.StorageService,
	publisher pubsub.Publisher,
	newClient hedra.Factory,
	job *model.CompletionJob,
) error {
	apiKey, err := secrets.GetHedraKey(ctx, job.UserID)
	if err != nil {
		return fmt.Errorf("fetch hedra key for user %s: %w", job.UserID, err)
	}

	hc := newClient(apiKey)
	status, err := hc.GetVideoStatus(ctx, job.HedraJobID)
	if err != nil {
		return fmt.Errorf("poll job %s: %w", job.HedraJobID, err)
	}

	switch status.Status {
	case hedra.StatusComplete:
		if len(status.Files) == 0 {
			markFailed(ctx, logger, client, job, "generation completed without output files")
			return nil
		}
		body, err := hc.DownloadFile(ctx, status.Files[0].URL)
		if err != nil {
			return fmt.Errorf("download video %s: %w", job.VideoID, err)
		}
		defer body.Close()

		key := fmt.Sprintf("videos/%s/%s.mp4", job.UserID, job.VideoID)
		if err := storage.ArchiveVideo(ctx, key, body); err != nil {
			return err
		}

		query := "UPDATE videos SET status=$1, storage_path=$2, updated_at=NOW() WHERE id=$3"
		if err := client.Exec(ctx, query, model.VideoStatusComplete, key, job.VideoID); err != nil {
			return fmt.Errorf("mark video %s complete: %w", job.VideoID, err)
		}

		notify(ctx, cfg, logger, publisher, job, model.VideoStatusComplete)
		logger.Info().Str("video_id", job.VideoID).Str("storage_path", key).Msg("Video archived")
		return nil

	case hedra.StatusFailed:
		detail := status.Error
		if detail == "" {
			detail = "generation failed"
		}
		markFailed(ctx, logger, client, job, detail)
		notify(ctx, cfg, logger, publisher, job, model.VideoStatusFailed)
		return nil

	default:
		// Still pending or processing; check again later.
		requeue(ctx, logger, client, cfg.CompletionQueueName, job, repollDelaySec)
		return nil
	}
}

func markFailed(ctx context.Context, logger zerolog.Logger, client *pgmq.Client, job *model.CompletionJob, detail string) {
	query := "UPDATE videos SET status=$1, error_detail=$2, updated_at=NOW() WHERE id=$3"
	if err := client.Exec(ctx, query, model.VideoStatusFailed, detail, job.VideoID); err != nil {
		logger.Error().Err(err).Str("video_id", job.VideoID).Msg("Failed to mark video as failed")
	}
}

func requeue(ctx context.Context, logger zerolog.Logger, client *pgmq.Client, queue string, job *model.CompletionJob, delaySec int) {
	payload, err := json.Marshal(job)
	if err != nil {
		logger.Error().Err(err).Str("video_id", job.VideoID).Msg("Failed to marshal completion job for requeue")
		return
	}
	if err := client.SendWithDelay(ctx, queue, payload, delaySec); err != nil {
		logger.Error().Err(err).Str("video_id", job.VideoID).Msg("Failed to re-enqueue completion job")
	}
}

// giveUp marks the video failed and parks the job on the dead-letter
// queue after the retry budget is exhausted.
func giveUp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, client *pgmq.Client, job *model.CompletionJob, cause error) {
	markFailed(ctx, logger, client, job, cause.Error())

	dlq := cfg.CompletionDeadLetterQueueName
	if payload, err := json.Marshal(job); err == nil {
		if err := client.Send(ctx, dlq, payload); err != nil {
			logger.Error().Err(err).Str("dlq", dlq).Msg("Failed to send completion job to dead-letter queue")
		}
	} else {
		logger.Error().Err(err).Msg("Failed to marshal completion job for dead-letter queue")
	}

	logger.Warn().
		Int("attempts", job.Attempts).
		Str("video_id", job.VideoID).
		Err(cause).
		Msg("Exhausted all completion retries; moving job to DLQ")
}

func backoffSec(cfg *config.Config, attempt int) int {
	sec := cfg.CompletionBackoffInitialSec
	for i := 1; i < attempt; i++ {
		sec *= 2
		if sec >= cfg.CompletionBackoffMaxSec {
			return cfg.CompletionBackoffMaxSec
		}
	}
	return sec
}

// notify publishes a completion notification. Delivery is best effort;
// the video row is already in its terminal state.
func notify(ctx context.Context, cfg *config.Config, logger zerolog.Logger, publisher pubsub.Publisher, job *model.CompletionJob, status string) {
	event := map[string]string{
		"video_id": job.VideoID,
		"user_id":  job.UserID,
		"status":   status,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to marshal completion notification")
		return
	}
	if _, err := publisher.Publish(ctx, cfg.PubSubCompletionTopic, payload); err != nil {
		logger.Error().Err(err).Str("video_id", job.VideoID).Msg("Failed to publish completion notification")
	}
}
