// Package gateway is the federation HTTP surface: it exposes local
// objects as ActivityPub documents and accepts signed inbox deliveries,
// validating their structure synchronously and deferring the key check
// to the inbox queue.
package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hotaru-sns/hotaru/core"
	"github.com/hotaru-sns/hotaru/x/kernel"
	"github.com/hotaru-sns/hotaru/x/queue"
	"github.com/hotaru-sns/hotaru/x/util"
)

const (
	mimeActivityJSON = "application/activity+json; charset=utf-8"
	maxActivitySize  = 1 << 20
)

// Handler serves the ActivityPub endpoints.
type Handler struct {
	repo   Repository
	actor  core.ActorService
	job    core.JobService
	config util.Config
}

func NewHandler(repo Repository, actor core.ActorService, job core.JobService, config util.Config) *Handler {
	return &Handler{repo, actor, job, config}
}

// Inbox accepts a signed activity delivery. Checks that need only the
// request itself run here in order; anything needing the signer's key
// is deferred to the inbox queue. Acceptance is 202: queued, not yet
// performed.
func (h Handler) Inbox(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Gateway.Handler.Inbox")
	defer span.End()

	if h.config.Federation.Disabled {
		return c.String(http.StatusNotFound, "Federation disabled")
	}

	req := c.Request()

	if req.Host != h.config.Federation.Host {
		return c.String(http.StatusBadRequest, "Invalid Host")
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, maxActivitySize))
	if err != nil {
		return c.String(http.StatusBadRequest, "Invalid request body")
	}

	signature, err := parseSignature(req)
	if err != nil {
		span.RecordError(err)
		return c.String(http.StatusUnauthorized, err.Error())
	}

	if !validAlgorithm(signature.Algorithm) {
		return c.String(http.StatusUnauthorized, "Invalid Signature Algorithm")
	}

	if reason := checkDigest(req, body); reason != "" {
		return c.String(http.StatusUnauthorized, reason)
	}

	payload, err := json.Marshal(core.InboxJobPayload{
		Activity:  body,
		Signature: signature,
	})
	if err != nil {
		return errors.Wrap(err, "failed to serialize inbox payload")
	}

	_, err = h.job.Enqueue(ctx, queue.QueueInbox, kernel.JobTypeProcess, string(payload), core.JobOptions{})
	if err != nil {
		span.RecordError(err)
		return c.String(http.StatusInternalServerError, "Internal server error")
	}

	return c.NoContent(http.StatusAccepted)
}

// User serves a local actor as a Person document.
func (h Handler) User(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Gateway.Handler.User")
	defer span.End()

	if ok, err := h.federationGuard(c); !ok {
		return err
	}

	actor, err := h.actor.Get(ctx, c.Param("id"))
	if err != nil || !actor.IsLocal() {
		return c.String(http.StatusNotFound, "user not found")
	}
	if actor.IsSuspended {
		return c.String(http.StatusGone, "user is suspended")
	}

	return h.respond(c, renderPerson(h.config.Federation.Host, actor))
}

// UserByUsername serves a local actor addressed as /@username.
func (h Handler) UserByUsername(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Gateway.Handler.UserByUsername")
	defer span.End()

	if ok, err := h.federationGuard(c); !ok {
		return err
	}

	username := strings.TrimPrefix(c.Param("username"), "@")
	actor, err := h.actor.GetByUsername(ctx, username)
	if err != nil {
		return c.String(http.StatusNotFound, "user not found")
	}
	if actor.IsSuspended {
		return c.String(http.StatusGone, "user is suspended")
	}

	return h.respond(c, renderPerson(h.config.Federation.Host, actor))
}

// Note serves a local public note. Remote or restricted notes are not
// exposed here.
func (h Handler) Note(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Gateway.Handler.Note")
	defer span.End()

	if ok, err := h.federationGuard(c); !ok {
		return err
	}

	note, author, err := h.servableNote(ctx, c.Param("id"))
	if err != nil {
		return c.String(http.StatusNotFound, "note not found")
	}

	return h.respond(c, renderNote(note, author))
}

// NoteActivity serves the Create activity wrapping a local note.
func (h Handler) NoteActivity(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Gateway.Handler.NoteActivity")
	defer span.End()

	if ok, err := h.federationGuard(c); !ok {
		return err
	}

	note, author, err := h.servableNote(ctx, c.Param("id"))
	if err != nil {
		return c.String(http.StatusNotFound, "note not found")
	}

	return h.respond(c, renderCreate(note, author))
}

// Followers serves the follower collection. Only the count is exposed.
func (h Handler) Followers(c echo.Context) error {
	return h.followCollection(c, "/followers", h.repo.CountFollowers)
}

// Following serves the following collection. Only the count is exposed.
func (h Handler) Following(c echo.Context) error {
	return h.followCollection(c, "/following", h.repo.CountFollowing)
}

// Outbox serves the outbox as a count-only collection.
func (h Handler) Outbox(c echo.Context) error {
	return h.followCollection(c, "/outbox", h.repo.CountNotesByAuthor)
}

// Featured serves the actor's pinned notes.
func (h Handler) Featured(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Gateway.Handler.Featured")
	defer span.End()

	if ok, err := h.federationGuard(c); !ok {
		return err
	}

	actor, err := h.actor.Get(ctx, c.Param("id"))
	if err != nil || !actor.IsLocal() {
		return c.String(http.StatusNotFound, "user not found")
	}

	notes, err := h.repo.GetFeaturedNotes(ctx, actor.ID)
	if err != nil {
		return c.String(http.StatusInternalServerError, "Internal server error")
	}

	items := make([]core.Document, 0, len(notes))
	for _, note := range notes {
		doc := renderNote(note, actor)
		doc.Context = nil
		items = append(items, doc)
	}

	return h.respond(c, OrderedCollection{
		Context:      contextActivityStreams,
		ID:           actor.URI + "/collections/featured",
		Type:         core.TypeOrderedCollection,
		TotalItems:   int64(len(items)),
		OrderedItems: items,
	})
}

// PublicKey serves a local actor's signing key document.
func (h Handler) PublicKey(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Gateway.Handler.PublicKey")
	defer span.End()

	if ok, err := h.federationGuard(c); !ok {
		return err
	}

	actor, err := h.actor.Get(ctx, c.Param("id"))
	if err != nil || !actor.IsLocal() {
		return c.String(http.StatusNotFound, "user not found")
	}

	return h.respond(c, core.Document{
		Context: []string{contextActivityStreams, contextSecurity},
		ID:      actor.URI + "#main-key",
		Type:    "Key",
		PublicKey: &core.PublicKey{
			ID:           actor.URI + "#main-key",
			Owner:        actor.URI,
			PublicKeyPem: actor.PublicKeyPem,
		},
	})
}

// Emoji serves a local custom emoji.
func (h Handler) Emoji(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Gateway.Handler.Emoji")
	defer span.End()

	if ok, err := h.federationGuard(c); !ok {
		return err
	}

	emoji, err := h.repo.GetLocalEmoji(ctx, c.Param("name"))
	if err != nil {
		return c.String(http.StatusNotFound, "emoji not found")
	}

	return h.respond(c, renderEmoji(h.config.Federation.Host, emoji))
}

// Like serves a local reaction as a Like activity.
func (h Handler) Like(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Gateway.Handler.Like")
	defer span.End()

	if ok, err := h.federationGuard(c); !ok {
		return err
	}

	reaction, err := h.repo.GetReaction(ctx, c.Param("id"))
	if err != nil {
		return c.String(http.StatusNotFound, "like not found")
	}

	actor, err := h.actor.Get(ctx, reaction.ActorID)
	if err != nil || !actor.IsLocal() {
		return c.String(http.StatusNotFound, "like not found")
	}

	note, err := h.repo.GetNote(ctx, reaction.NoteID)
	if err != nil {
		return c.String(http.StatusNotFound, "like not found")
	}

	return h.respond(c, renderLike(h.config.Federation.Host, reaction, actor, note))
}

// WebFinger handles WebFinger requests.
func (h Handler) WebFinger(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Gateway.Handler.WebFinger")
	defer span.End()

	if h.config.Federation.Disabled {
		return c.String(http.StatusNotFound, "Federation disabled")
	}

	resource := c.QueryParam("resource")
	acct, found := strings.CutPrefix(resource, "acct:")
	if !found {
		return c.String(http.StatusBadRequest, "Invalid resource")
	}

	username, domain, found := strings.Cut(strings.TrimPrefix(acct, "@"), "@")
	if !found || domain != h.config.Federation.Host {
		return c.String(http.StatusBadRequest, "Invalid resource")
	}

	actor, err := h.actor.GetByUsername(ctx, username)
	if err != nil {
		return c.String(http.StatusNotFound, "user not found")
	}

	c.Response().Header().Set(echo.HeaderContentType, "application/jrd+json; charset=utf-8")
	return c.JSON(http.StatusOK, WebFinger{
		Subject: "acct:" + actor.Username + "@" + h.config.Federation.Host,
		Links: []WebFingerLink{
			{
				Rel:  "self",
				Type: "application/activity+json",
				Href: actor.URI,
			},
		},
	})
}

func (h Handler) NodeInfoWellKnown(c echo.Context) error {
	_, span := tracer.Start(c.Request().Context(), "Gateway.Handler.NodeInfoWellKnown")
	defer span.End()

	return c.JSON(http.StatusOK, WellKnown{
		Links: []WellKnownLink{
			{
				Rel:  "http://nodeinfo.diaspora.software/ns/schema/2.0",
				Href: "https://" + h.config.Federation.Host + "/nodeinfo/2.0",
			},
		},
	})
}

// NodeInfo handles nodeinfo requests
func (h Handler) NodeInfo(c echo.Context) error {
	_, span := tracer.Start(c.Request().Context(), "Gateway.Handler.NodeInfo")
	defer span.End()

	return c.JSON(http.StatusOK, NodeInfo{
		Version: "2.0",
		Software: NodeInfoSoftware{
			Name:    "hotaru",
			Version: util.GetGitShortHash(),
		},
		Protocols: []string{
			"activitypub",
		},
		OpenRegistrations: h.config.NodeInfo.OpenRegistrations,
		Metadata: NodeInfoMetadata{
			NodeName:        h.config.NodeInfo.Metadata.NodeName,
			NodeDescription: h.config.NodeInfo.Metadata.NodeDescription,
			Maintainer: NodeInfoMetadataMaintainer{
				Name:  h.config.NodeInfo.Metadata.Maintainer.Name,
				Email: h.config.NodeInfo.Metadata.Maintainer.Email,
			},
			ThemeColor: h.config.NodeInfo.Metadata.ThemeColor,
		},
	})
}

// federationGuard applies the checks shared by every document
// endpoint: federation must be enabled and the client must ask for an
// ActivityPub representation. HTML rendering belongs to the web
// frontend, which runs as a separate service.
func (h Handler) federationGuard(c echo.Context) (bool, error) {
	if h.config.Federation.Disabled {
		return false, c.String(http.StatusNotFound, "Federation disabled")
	}
	if !isActivityPubRequest(c.Request()) {
		return false, c.String(http.StatusNotAcceptable, "Not acceptable")
	}
	return true, nil
}

func isActivityPubRequest(req *http.Request) bool {
	accept := req.Header.Get("Accept")
	return strings.Contains(accept, "application/activity+json") ||
		strings.Contains(accept, "application/ld+json")
}

// respond writes an ActivityPub document with the shared caching and
// negotiation headers.
func (h Handler) respond(c echo.Context, doc any) error {
	header := c.Response().Header()
	header.Set(echo.HeaderContentType, mimeActivityJSON)
	header.Set("Cache-Control", "public, max-age=180")
	header.Set("Vary", "Accept")
	return c.JSON(http.StatusOK, doc)
}

// servableNote loads a note that may be exposed over federation: local
// author, public or home visibility, not local-only.
func (h Handler) servableNote(ctx context.Context, id string) (core.Note, core.Actor, error) {
	note, err := h.repo.GetNote(ctx, id)
	if err != nil {
		return core.Note{}, core.Actor{}, err
	}

	if note.LocalOnly || (note.Visibility != "public" && note.Visibility != "home") {
		return core.Note{}, core.Actor{}, core.NewErrorNotFound()
	}

	author, err := h.actor.Get(ctx, note.AuthorID)
	if err != nil {
		return core.Note{}, core.Actor{}, err
	}
	if !author.IsLocal() || author.IsSuspended {
		return core.Note{}, core.Actor{}, core.NewErrorNotFound()
	}

	return note, author, nil
}

func (h Handler) followCollection(c echo.Context, suffix string, count func(context.Context, string) (int64, error)) error {
	ctx, span := tracer.Start(c.Request().Context(), "Gateway.Handler.FollowCollection")
	defer span.End()

	if ok, err := h.federationGuard(c); !ok {
		return err
	}

	actor, err := h.actor.Get(ctx, c.Param("id"))
	if err != nil || !actor.IsLocal() {
		return c.String(http.StatusNotFound, "user not found")
	}

	total, err := count(ctx, actor.ID)
	if err != nil {
		return c.String(http.StatusInternalServerError, "Internal server error")
	}

	return h.respond(c, OrderedCollection{
		Context:    contextActivityStreams,
		ID:         actor.URI + suffix,
		Type:       core.TypeOrderedCollection,
		TotalItems: total,
	})
}
