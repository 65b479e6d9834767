// Package account runs the db queue's account maintenance jobs:
// exports, imports and account deletion.
package account

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/xid"

	"github.com/hotaru-sns/hotaru/core"
	"github.com/hotaru-sns/hotaru/x/queue"
	"github.com/hotaru-sns/hotaru/x/storage"
	"github.com/hotaru-sns/hotaru/x/util"
)

// Job types served on the db queue.
const (
	JobTypeExportNotes     = "exportNotes"
	JobTypeExportFollowing = "exportFollowing"
	JobTypeExportMute      = "exportMute"
	JobTypeExportBlocking  = "exportBlocking"
	JobTypeExportUserLists = "exportUserLists"
	JobTypeImportFollowing = "importFollowing"
	JobTypeImportMuting    = "importMuting"
	JobTypeImportBlocking  = "importBlocking"
	JobTypeImportUserLists = "importUserLists"
	JobTypeDeleteDrive     = "deleteDriveFiles"
	JobTypeDeleteAccount   = "deleteAccount"
)

// JobPayload is the db queue's payload shape. Content carries the
// uploaded list for import jobs.
type JobPayload struct {
	UserID  string `json:"userId"`
	Content string `json:"content,omitempty"`
}

type Service struct {
	repo    Repository
	actor   core.ActorService
	deliver core.DeliverService
	job     core.JobService
	config  util.Config
}

func NewService(repo Repository, actor core.ActorService, deliver core.DeliverService, job core.JobService, config util.Config) *Service {
	return &Service{repo, actor, deliver, job, config}
}

// Register wires every account job type into the db queue.
func (s *Service) Register(q queue.Service) {
	q.Register(queue.QueueDB, JobTypeExportNotes, s.ProcessExportNotes)
	q.Register(queue.QueueDB, JobTypeExportFollowing, s.ProcessExportFollowing)
	q.Register(queue.QueueDB, JobTypeExportMute, s.ProcessExportMute)
	q.Register(queue.QueueDB, JobTypeExportBlocking, s.ProcessExportBlocking)
	q.Register(queue.QueueDB, JobTypeExportUserLists, s.ProcessExportUserLists)
	q.Register(queue.QueueDB, JobTypeImportFollowing, s.ProcessImportFollowing)
	q.Register(queue.QueueDB, JobTypeImportMuting, s.ProcessImportMuting)
	q.Register(queue.QueueDB, JobTypeImportBlocking, s.ProcessImportBlocking)
	q.Register(queue.QueueDB, JobTypeImportUserLists, s.ProcessImportUserLists)
	q.Register(queue.QueueDB, JobTypeDeleteDrive, s.ProcessDeleteDriveFiles)
	q.Register(queue.QueueDB, JobTypeDeleteAccount, s.ProcessDeleteAccount)
}

func (s *Service) ProcessExportNotes(ctx context.Context, job *core.Job) (string, error) {
	ctx, span := tracer.Start(ctx, "Account.Service.ProcessExportNotes")
	defer span.End()

	payload, user, err := s.loadTarget(ctx, job)
	if err != nil {
		return "", err
	}

	notes, err := s.repo.ListNotes(ctx, payload.UserID)
	if err != nil {
		return "", errors.Wrap(err, "failed to list notes")
	}

	type exportedNote struct {
		URI        string `json:"uri"`
		Content    string `json:"content"`
		Visibility string `json:"visibility"`
		Published  string `json:"published"`
	}
	exported := make([]exportedNote, 0, len(notes))
	for _, note := range notes {
		exported = append(exported, exportedNote{
			URI:        note.URI,
			Content:    note.Content,
			Visibility: note.Visibility,
			Published:  note.CDate.Format(time.RFC3339),
		})
	}

	serialized, err := json.Marshal(exported)
	if err != nil {
		return "", errors.Wrap(err, "failed to serialize notes")
	}

	if err := s.storeExport(ctx, user, "notes.json", string(serialized)); err != nil {
		return "", err
	}

	return fmt.Sprintf("exported %d notes", len(exported)), nil
}

func (s *Service) ProcessExportFollowing(ctx context.Context, job *core.Job) (string, error) {
	ctx, span := tracer.Start(ctx, "Account.Service.ProcessExportFollowing")
	defer span.End()

	return s.exportActorList(ctx, job, "following.csv", s.repo.ListFollowing)
}

func (s *Service) ProcessExportMute(ctx context.Context, job *core.Job) (string, error) {
	ctx, span := tracer.Start(ctx, "Account.Service.ProcessExportMute")
	defer span.End()

	return s.exportActorList(ctx, job, "mute.csv", s.repo.ListMuted)
}

func (s *Service) ProcessExportBlocking(ctx context.Context, job *core.Job) (string, error) {
	ctx, span := tracer.Start(ctx, "Account.Service.ProcessExportBlocking")
	defer span.End()

	return s.exportActorList(ctx, job, "blocking.csv", s.repo.ListBlocked)
}

func (s *Service) ProcessExportUserLists(ctx context.Context, job *core.Job) (string, error) {
	ctx, span := tracer.Start(ctx, "Account.Service.ProcessExportUserLists")
	defer span.End()

	payload, user, err := s.loadTarget(ctx, job)
	if err != nil {
		return "", err
	}

	lists, err := s.repo.ListUserLists(ctx, payload.UserID)
	if err != nil {
		return "", errors.Wrap(err, "failed to list user lists")
	}

	var sb strings.Builder
	lines := 0
	for _, list := range lists {
		members, err := s.repo.ListMembers(ctx, list.ID)
		if err != nil {
			return "", errors.Wrap(err, "failed to list members")
		}
		for _, member := range members {
			sb.WriteString(list.Name + "," + member.URI + "\n")
			lines++
		}
	}

	if err := s.storeExport(ctx, user, "user-lists.csv", sb.String()); err != nil {
		return "", err
	}

	return fmt.Sprintf("exported %d list entries", lines), nil
}

// ProcessImportFollowing follows every URI in the uploaded list. Local
// targets get the edge directly; remote targets are sent a Follow and
// the edge lands when their Accept comes back through the inbox.
func (s *Service) ProcessImportFollowing(ctx context.Context, job *core.Job) (string, error) {
	ctx, span := tracer.Start(ctx, "Account.Service.ProcessImportFollowing")
	defer span.End()

	payload, user, err := s.loadTarget(ctx, job)
	if err != nil {
		return "", err
	}

	requested := 0
	for _, uri := range importLines(payload.Content) {
		target, err := s.actor.ResolveOrFetch(ctx, uri)
		if err != nil {
			slog.WarnContext(ctx, "skipping unresolvable follow target",
				slog.String("uri", uri), slog.String("error", err.Error()))
			continue
		}

		if target.IsLocal() {
			err = s.repo.CreateFollow(ctx, core.Follow{
				ID:         xid.New().String(),
				URI:        s.localFollowURI(),
				FollowerID: user.ID,
				FolloweeID: target.ID,
			})
			if err != nil {
				return "", errors.Wrap(err, "failed to create follow")
			}
			requested++
			continue
		}

		follow := core.Document{
			Context: "https://www.w3.org/ns/activitystreams",
			ID:      s.localFollowURI(),
			Type:    core.TypeFollow,
			Actor:   core.NewRefID(user.URI),
			Object:  core.NewRefID(target.URI),
		}
		if err := s.deliver.Enqueue(ctx, user, &follow, []string{target.Inbox}); err != nil {
			return "", errors.Wrap(err, "failed to enqueue follow delivery")
		}
		requested++
	}

	return fmt.Sprintf("requested %d follows", requested), nil
}

func (s *Service) ProcessImportMuting(ctx context.Context, job *core.Job) (string, error) {
	ctx, span := tracer.Start(ctx, "Account.Service.ProcessImportMuting")
	defer span.End()

	payload, user, err := s.loadTarget(ctx, job)
	if err != nil {
		return "", err
	}

	imported := 0
	for _, uri := range importLines(payload.Content) {
		target, err := s.actor.ResolveOrFetch(ctx, uri)
		if err != nil {
			continue
		}
		err = s.repo.CreateMuting(ctx, core.Muting{
			ID:      xid.New().String(),
			MuterID: user.ID,
			MuteeID: target.ID,
		})
		if err != nil {
			return "", errors.Wrap(err, "failed to create muting")
		}
		imported++
	}

	return fmt.Sprintf("imported %d mutes", imported), nil
}

func (s *Service) ProcessImportBlocking(ctx context.Context, job *core.Job) (string, error) {
	ctx, span := tracer.Start(ctx, "Account.Service.ProcessImportBlocking")
	defer span.End()

	payload, user, err := s.loadTarget(ctx, job)
	if err != nil {
		return "", err
	}

	imported := 0
	for _, uri := range importLines(payload.Content) {
		target, err := s.actor.ResolveOrFetch(ctx, uri)
		if err != nil {
			continue
		}
		err = s.repo.CreateBlocking(ctx, core.Blocking{
			ID:        xid.New().String(),
			BlockerID: user.ID,
			BlockeeID: target.ID,
		})
		if err != nil {
			return "", errors.Wrap(err, "failed to create blocking")
		}
		imported++
	}

	return fmt.Sprintf("imported %d blocks", imported), nil
}

func (s *Service) ProcessImportUserLists(ctx context.Context, job *core.Job) (string, error) {
	ctx, span := tracer.Start(ctx, "Account.Service.ProcessImportUserLists")
	defer span.End()

	payload, user, err := s.loadTarget(ctx, job)
	if err != nil {
		return "", err
	}

	imported := 0
	for _, line := range strings.Split(payload.Content, "\n") {
		name, uri, found := strings.Cut(strings.TrimSpace(line), ",")
		if !found || name == "" {
			continue
		}

		target, err := s.actor.ResolveOrFetch(ctx, strings.TrimSpace(uri))
		if err != nil {
			continue
		}

		list, err := s.repo.FindOrCreateUserList(ctx, user.ID, strings.TrimSpace(name), xid.New().String())
		if err != nil {
			return "", errors.Wrap(err, "failed to find or create list")
		}

		err = s.repo.AddListMember(ctx, core.UserListMember{
			ID:       xid.New().String(),
			ListID:   list.ID,
			MemberID: target.ID,
		})
		if err != nil {
			return "", errors.Wrap(err, "failed to add list member")
		}
		imported++
	}

	return fmt.Sprintf("imported %d list entries", imported), nil
}

// ProcessDeleteDriveFiles fans one object-storage job out per file so
// blob removal retries independently of this job.
func (s *Service) ProcessDeleteDriveFiles(ctx context.Context, job *core.Job) (string, error) {
	ctx, span := tracer.Start(ctx, "Account.Service.ProcessDeleteDriveFiles")
	defer span.End()

	payload, _, err := s.loadTarget(ctx, job)
	if err != nil {
		return "", err
	}

	files, err := s.repo.ListDriveFiles(ctx, payload.UserID)
	if err != nil {
		return "", errors.Wrap(err, "failed to list drive files")
	}

	for _, file := range files {
		filePayload, err := json.Marshal(storage.JobPayload{FileID: file.ID})
		if err != nil {
			return "", errors.Wrap(err, "failed to serialize file payload")
		}
		_, err = s.job.Enqueue(ctx, queue.QueueObjectStorage, storage.JobTypeDeleteFile, string(filePayload), core.JobOptions{})
		if err != nil {
			return "", errors.Wrap(err, "failed to enqueue file deletion")
		}
	}

	return fmt.Sprintf("queued %d file deletions", len(files)), nil
}

func (s *Service) ProcessDeleteAccount(ctx context.Context, job *core.Job) (string, error) {
	ctx, span := tracer.Start(ctx, "Account.Service.ProcessDeleteAccount")
	defer span.End()

	payload, user, err := s.loadTarget(ctx, job)
	if err != nil {
		return "", err
	}

	if err := s.repo.DeleteAccountData(ctx, payload.UserID); err != nil {
		return "", errors.Wrap(err, "failed to delete account data")
	}

	slog.InfoContext(ctx, "account deleted", slog.String("actor", user.URI))
	return "account deleted", nil
}

func (s *Service) loadTarget(ctx context.Context, job *core.Job) (JobPayload, core.Actor, error) {
	var payload JobPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return JobPayload{}, core.Actor{}, errors.Wrap(err, "failed to parse payload")
	}

	user, err := s.actor.Get(ctx, payload.UserID)
	if err != nil {
		return JobPayload{}, core.Actor{}, errors.Wrapf(err, "failed to load user %s", payload.UserID)
	}

	return payload, user, nil
}

func (s *Service) exportActorList(
	ctx context.Context,
	job *core.Job,
	filename string,
	list func(context.Context, string) ([]core.Actor, error),
) (string, error) {
	payload, user, err := s.loadTarget(ctx, job)
	if err != nil {
		return "", err
	}

	actors, err := list(ctx, payload.UserID)
	if err != nil {
		return "", errors.Wrap(err, "failed to list actors")
	}

	var sb strings.Builder
	for _, actor := range actors {
		sb.WriteString(actor.URI + "\n")
	}

	if err := s.storeExport(ctx, user, filename, sb.String()); err != nil {
		return "", err
	}

	return fmt.Sprintf("exported %d actors", len(actors)), nil
}

func (s *Service) storeExport(ctx context.Context, user core.Actor, name, content string) error {
	id := xid.New().String()
	_, err := s.repo.CreateDriveFile(ctx, core.DriveFile{
		ID:      id,
		ActorID: user.ID,
		Name:    name,
		URL:     "https://" + s.config.Federation.Host + "/files/" + id,
		Content: content,
		Size:    int64(len(content)),
	})
	return errors.Wrap(err, "failed to store export")
}

func (s *Service) localFollowURI() string {
	return "https://" + s.config.Federation.Host + "/follows/" + xid.New().String()
}

// importLines splits an uploaded list into trimmed, non-empty lines
// that look like object URIs.
func importLines(content string) []string {
	var uris []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "https://") && !strings.HasPrefix(line, "http://") {
			continue
		}
		uris = append(uris, line)
	}
	return uris
}
