package service

import (
	"context"
	"fmt"

	"bulktok/internal/config"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

// SecretStore keeps per-user Hedra API keys out of the database. The
// profile row only carries a has-key flag.
type SecretStore interface {
	StoreHedraKey(ctx context.Context, userID, apiKey string) error
	GetHedraKey(ctx context.Context, userID string) (string, error)
	DeleteHedraKey(ctx context.Context, userID string) error
}

type secretStore struct {
	client    *secretmanager.Client
	projectID string
}

// NewSecretStore creates a SecretStore backed by Google Secret Manager.
func NewSecretStore(ctx context.Context, cfg *config.Config) (SecretStore, error) {
	if cfg.GCPProjectID == "" {
		return nil, fmt.Errorf("GCP project ID is not set")
	}
	var opts []option.ClientOption
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	return &secretStore{client: client, projectID: cfg.GCPProjectID}, nil
}

func (s *secretStore) secretName(userID string) string {
	return fmt.Sprintf("user-%s-hedra-key", userID)
}

func (s *secretStore) secretPath(userID string) string {
	return fmt.Sprintf("projects/%s/secrets/%s", s.projectID, s.secretName(userID))
}

func (s *secretStore) StoreHedraKey(ctx context.Context, userID, apiKey string) error {
	path := s.secretPath(userID)

	_, err := s.client.GetSecret(ctx, &secretmanagerpb.GetSecretRequest{Name: path})
	if err != nil {
		createReq := &secretmanagerpb.CreateSecretRequest{
			Parent:   fmt.Sprintf("projects/%s", s.projectID),
			SecretId: s.secretName(userID),
			Secret: &secretmanagerpb.Secret{
				Replication: &secretmanagerpb.Replication{
					Replication: &secretmanagerpb.Replication_Automatic_{
						Automatic: &secretmanagerpb.Replication_Automatic{},
					},
				},
			},
		}
		if _, err := s.client.CreateSecret(ctx, createReq); err != nil {
			return fmt.Errorf("failed to create secret: %w", err)
		}
	}

	addReq := &secretmanagerpb.AddSecretVersionRequest{
		Parent:  path,
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(apiKey)},
	}
	if _, err := s.client.AddSecretVersion(ctx, addReq); err != nil {
		return fmt.Errorf("failed to add secret version: %w", err)
	}
	return nil
}

func (s *secretStore) GetHedraKey(ctx context.Context, userID string) (string, error) {
	req := &secretmanagerpb.AccessSecretVersionRequest{
		Name: s.secretPath(userID) + "/versions/latest",
	}
	result, err := s.client.AccessSecretVersion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to access secret version: %w", err)
	}
	return string(result.Payload.Data), nil
}

func (s *secretStore) DeleteHedraKey(ctx context.Context, userID string) error {
	req := &secretmanagerpb.DeleteSecretRequest{Name: s.secretPath(userID)}
	if err := s.client.DeleteSecret(ctx, req); err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}
