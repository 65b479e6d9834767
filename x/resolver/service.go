// Package resolver dereferences ActivityPub object references.
// Embedded objects are validated in place; URI references go through
// an authenticated fetch. Each top-level Resolve call owns a private
// visited set, so cycle state never leaks between unrelated
// activities. Any revisit within a pass is treated as a cycle rather
// than served from memory.
package resolver

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"

	"github.com/hotaru-sns/hotaru/core"
	"github.com/hotaru-sns/hotaru/x/fetch"
)

var tracer = otel.Tracer("resolver")

const maxDepth = 8

type service struct {
	client *fetch.Client
}

func NewService(client *fetch.Client) core.ResolverService {
	return &service{client}
}

func (s *service) Resolve(ctx context.Context, ref core.Ref) (*core.Document, error) {
	ctx, span := tracer.Start(ctx, "Resolver.Resolve")
	defer span.End()

	pass := &session{
		client:  s.client,
		visited: make(map[string]struct{}),
	}

	doc, err := pass.resolve(ctx, ref, 0)
	if err != nil {
		span.RecordError(err)
	}
	return doc, err
}

// session is the state of one resolution pass.
type session struct {
	client  *fetch.Client
	visited map[string]struct{}
}

func (p *session) resolve(ctx context.Context, ref core.Ref, depth int) (*core.Document, error) {
	if depth > maxDepth {
		return nil, ResolutionError{Kind: KindDepth, URI: ref.ID()}
	}

	if doc, ok := ref.Embedded(); ok {
		return p.admit(ctx, doc, depth)
	}

	uri := ref.ID()
	if uri == "" {
		return nil, ResolutionError{Kind: KindParse, URI: uri}
	}

	if _, seen := p.visited[uri]; seen {
		return nil, ResolutionError{Kind: KindCycle, URI: uri}
	}

	body, err := p.client.FetchActivityJSON(ctx, uri)
	if err != nil {
		return nil, ResolutionError{Kind: KindNetwork, URI: uri, Err: err}
	}

	var doc core.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, ResolutionError{Kind: KindParse, URI: uri, Err: err}
	}
	if doc.Type == "" {
		return nil, ResolutionError{Kind: KindParse, URI: uri}
	}

	// a server must not return an object claiming a different
	// identity than was requested
	if doc.ID != uri {
		return nil, ResolutionError{Kind: KindMismatch, URI: uri}
	}

	return p.admit(ctx, &doc, depth)
}

// admit records the document as visited and walks embedded
// sub-references, so a chain of embedded objects that loops back on
// itself fails instead of recursing forever.
func (p *session) admit(ctx context.Context, doc *core.Document, depth int) (*core.Document, error) {
	if doc.Type == "" {
		return nil, ResolutionError{Kind: KindParse, URI: doc.ID}
	}

	if doc.ID != "" {
		if _, seen := p.visited[doc.ID]; seen {
			return nil, ResolutionError{Kind: KindCycle, URI: doc.ID}
		}
		p.visited[doc.ID] = struct{}{}
	}

	if !doc.Object.IsZero() {
		if _, ok := doc.Object.Embedded(); ok {
			if _, err := p.resolve(ctx, doc.Object, depth+1); err != nil {
				return nil, err
			}
		}
	}

	return doc, nil
}
