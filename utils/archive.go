// utils/archive.go
package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gosimple/slug"
	"github.com/rs/zerolog/log"

	"cyber-range-orchestrator/models"
)

// GameReplay is the archived transcript of one finished game.
type GameReplay struct {
	Game     *models.Game        `json:"game"`
	Rounds   []models.Round      `json:"rounds"`
	Events   []models.Event      `json:"events"`
	Commands []models.CommandLog `json:"commands"`
}

// ReplayArchiver exports finished game transcripts to S3-compatible object
// storage.
type ReplayArchiver struct {
	client *s3.Client
	bucket string
}

// NewReplayArchiver builds an archiver for the given bucket. A custom
// endpoint targets S3-compatible stores like R2 or MinIO; leave it empty for
// AWS itself.
func NewReplayArchiver(ctx context.Context, endpoint, region, accessKey, secretKey, bucket string) (*ReplayArchiver, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &ReplayArchiver{client: client, bucket: bucket}, nil
}

// ArchiveGame uploads the replay as JSON and returns the object key.
func (a *ReplayArchiver) ArchiveGame(ctx context.Context, replay GameReplay) (string, error) {
	if replay.Game == nil {
		return "", fmt.Errorf("replay has no game")
	}

	body, err := json.MarshalIndent(replay, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay: %w", err)
	}

	key := fmt.Sprintf("replays/%s/%s.json", slug.Make(replay.Game.Scenario), replay.Game.ID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("upload replay: %w", err)
	}

	log.Info().Str("key", key).Int("bytes", len(body)).Msg("replay archived")
	return key, nil
}
