// Package storage runs the object-storage queue's jobs: deleting
// files and demoting cached remote files to links.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/hotaru-sns/hotaru/core"
	"github.com/hotaru-sns/hotaru/x/queue"
)

// Job types served on the object-storage queue.
const (
	JobTypeDeleteFile       = "deleteFile"
	JobTypeCleanRemoteFiles = "cleanRemoteFiles"
)

// Remote caches older than this are demoted to links.
const remoteCacheRetention = 7 * 24 * time.Hour

const cleanBatchSize = 100

// JobPayload is the object-storage queue's payload shape.
type JobPayload struct {
	FileID string `json:"fileId,omitempty"`
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo}
}

// Register wires the storage job types into the object-storage queue.
func (s *Service) Register(q queue.Service) {
	q.Register(queue.QueueObjectStorage, JobTypeDeleteFile, s.ProcessDeleteFile)
	q.Register(queue.QueueObjectStorage, JobTypeCleanRemoteFiles, s.ProcessCleanRemoteFiles)
}

func (s *Service) ProcessDeleteFile(ctx context.Context, job *core.Job) (string, error) {
	ctx, span := tracer.Start(ctx, "Storage.Service.ProcessDeleteFile")
	defer span.End()

	var payload JobPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return "", errors.Wrap(err, "failed to parse payload")
	}

	if _, err := s.repo.GetFile(ctx, payload.FileID); err != nil {
		// already gone: deletion is idempotent
		return "file already deleted", nil
	}

	if err := s.repo.DeleteFile(ctx, payload.FileID); err != nil {
		return "", errors.Wrap(err, "failed to delete file")
	}

	return "file deleted", nil
}

func (s *Service) ProcessCleanRemoteFiles(ctx context.Context, job *core.Job) (string, error) {
	ctx, span := tracer.Start(ctx, "Storage.Service.ProcessCleanRemoteFiles")
	defer span.End()

	cutoff := time.Now().Add(-remoteCacheRetention)
	cleaned := 0
	for {
		files, err := s.repo.ListCachedRemoteFiles(ctx, cutoff, cleanBatchSize)
		if err != nil {
			return "", errors.Wrap(err, "failed to list cached remote files")
		}
		if len(files) == 0 {
			break
		}
		for _, file := range files {
			if err := s.repo.MarkAsLink(ctx, file.ID); err != nil {
				return "", errors.Wrap(err, "failed to mark file as link")
			}
			cleaned++
		}
	}

	return fmt.Sprintf("cleaned %d remote files", cleaned), nil
}
