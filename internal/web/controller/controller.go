// Package controller binds the JSON:API routes of every registered resource type to the
// query parser, resolver, mutation handler and serializer.
package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/jsonapi-server/internal/apierr"
	"github.com/conduit-lang/jsonapi-server/internal/logger"
	"github.com/conduit-lang/jsonapi-server/internal/orm/schema"
	"github.com/conduit-lang/jsonapi-server/internal/orm/store"
	"github.com/conduit-lang/jsonapi-server/internal/web/mutation"
	"github.com/conduit-lang/jsonapi-server/internal/web/query"
	"github.com/conduit-lang/jsonapi-server/internal/web/request"
	"github.com/conduit-lang/jsonapi-server/internal/web/resolver"
	"github.com/conduit-lang/jsonapi-server/internal/web/response"
	"github.com/conduit-lang/jsonapi-server/internal/web/router"
)

// Options configures a Controller
type Options struct {
	Query          query.Options
	AllowClientIDs bool
	MaxBodyBytes   int64
}

// Controller serves the JSON:API endpoints of a registry
type Controller struct {
	reg        *schema.Registry
	resolver   *resolver.Resolver
	mutations  *mutation.Handler
	serializer *response.Serializer
	body       *request.BodyReader
	query      query.Options
	origin     string
}

// New creates a controller. baseURL is the absolute URL collections are mounted under,
// it is used for every link the documents carry.
func New(reg *schema.Registry, st store.Store, baseURL string, opts Options) (*Controller, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}

	res := resolver.New(reg, st)
	mutations, err := mutation.New(reg, st, res, mutation.Options{AllowClientIDs: opts.AllowClientIDs})
	if err != nil {
		return nil, fmt.Errorf("failed to create mutation handler: %w", err)
	}

	return &Controller{
		reg:        reg,
		resolver:   res,
		mutations:  mutations,
		serializer: response.NewSerializer(reg, baseURL),
		body:       request.NewBodyReaderWithMaxSize(opts.MaxBodyBytes),
		query:      opts.Query,
		origin:     u.Scheme + "://" + u.Host,
	}, nil
}

// Register registers the routes of every resource type with r
func (c *Controller) Register(r *router.Router) error {
	for _, rt := range c.reg.Types() {
		if err := r.RegisterResource(router.NewResourceDefinition(rt), c.Handlers(rt.Name())); err != nil {
			return fmt.Errorf("failed to register %s: %w", rt.Name(), err)
		}
	}
	return nil
}

// Handlers returns the handlers of one resource type
func (c *Controller) Handlers(typeName string) router.ResourceHandlers {
	return router.ResourceHandlers{
		List:                   c.list(typeName),
		Create:                 c.create(typeName),
		Show:                   c.show(typeName),
		Update:                 c.update(typeName),
		Delete:                 c.delete(typeName),
		Related:                c.related(typeName),
		Relationship:           c.relationship(typeName),
		ReplaceRelationship:    c.replaceRelationship(typeName),
		AddToRelationship:      c.addToRelationship(typeName),
		RemoveFromRelationship: c.removeFromRelationship(typeName),
	}
}

// list handles GET /{type}
func (c *Controller) list(typeName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := c.parse(r, typeName)
		if err != nil {
			c.fail(w, r, err)
			return
		}
		res, err := c.resolver.FetchCollection(r.Context(), d)
		if err != nil {
			c.fail(w, r, err)
			return
		}
		c.render(w, r, http.StatusOK, res, d, c.self(r))
	}
}

// create handles POST /{type}
func (c *Controller) create(typeName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := c.parse(r, typeName)
		if err != nil {
			c.fail(w, r, err)
			return
		}
		body, err := c.body.Read(w, r)
		if err != nil {
			c.fail(w, r, err)
			return
		}
		res, err := c.mutations.Create(r.Context(), d, body)
		if err != nil {
			c.fail(w, r, err)
			return
		}

		location := c.serializer.ResourceURL(typeName, res.Primary[0].ID)
		w.Header().Set("Location", location)
		c.render(w, r, http.StatusCreated, res, d, location)
	}
}

// show handles GET /{type}/{id}
func (c *Controller) show(typeName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := c.parse(r, typeName)
		if err != nil {
			c.fail(w, r, err)
			return
		}
		res, err := c.resolver.FetchOne(r.Context(), d, router.NewParamExtractor(r).ID())
		if err != nil {
			c.fail(w, r, err)
			return
		}
		c.render(w, r, http.StatusOK, res, d, c.self(r))
	}
}

// update handles PATCH /{type}/{id}
func (c *Controller) update(typeName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := c.parse(r, typeName)
		if err != nil {
			c.fail(w, r, err)
			return
		}
		body, err := c.body.Read(w, r)
		if err != nil {
			c.fail(w, r, err)
			return
		}
		res, err := c.mutations.Update(r.Context(), d, router.NewParamExtractor(r).ID(), body)
		if err != nil {
			c.fail(w, r, err)
			return
		}
		c.render(w, r, http.StatusOK, res, d, c.self(r))
	}
}

// delete handles DELETE /{type}/{id}
func (c *Controller) delete(typeName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := c.mutations.Delete(r.Context(), typeName, router.NewParamExtractor(r).ID()); err != nil {
			c.fail(w, r, err)
			return
		}
		response.RenderNoContent(w)
	}
}

// related handles GET /{type}/{id}/{relationship}. The query is parsed against the
// relationship's target type.
func (c *Controller) related(typeName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := router.NewParamExtractor(r)
		rel, err := c.lookupRelationship(typeName, params.Relationship())
		if err != nil {
			c.fail(w, r, err)
			return
		}
		d, err := c.parse(r, rel.Target)
		if err != nil {
			c.fail(w, r, err)
			return
		}
		res, err := c.resolver.FetchRelated(r.Context(), d, typeName, params.ID(), rel.Name)
		if err != nil {
			c.fail(w, r, err)
			return
		}
		c.render(w, r, http.StatusOK, res, d, c.self(r))
	}
}

// relationship handles GET /{type}/{id}/relationships/{relationship}
func (c *Controller) relationship(typeName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := router.NewParamExtractor(r)
		rel, err := c.lookupRelationship(typeName, params.Relationship())
		if err != nil {
			c.fail(w, r, err)
			return
		}
		res, err := c.resolver.FetchRelationship(r.Context(), typeName, params.ID(), rel.Name)
		if err != nil {
			c.fail(w, r, err)
			return
		}
		c.renderLinkage(w, r, res)
	}
}

// linkageMutation is the shape of the mutation handler's relationship operations
type linkageMutation func(ctx context.Context, typeName, id, relName string, body []byte) (*resolver.Result, error)

func (c *Controller) replaceRelationship(typeName string) http.HandlerFunc {
	return c.mutateRelationship(typeName, c.mutations.ReplaceRelationship)
}

func (c *Controller) addToRelationship(typeName string) http.HandlerFunc {
	return c.mutateRelationship(typeName, c.mutations.AddToMany)
}

func (c *Controller) removeFromRelationship(typeName string) http.HandlerFunc {
	return c.mutateRelationship(typeName, c.mutations.RemoveFromMany)
}

// mutateRelationship handles PATCH, POST and DELETE on a relationship endpoint and
// responds with the resulting linkage
func (c *Controller) mutateRelationship(typeName string, mutate linkageMutation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := router.NewParamExtractor(r)
		rel, err := c.lookupRelationship(typeName, params.Relationship())
		if err != nil {
			c.fail(w, r, err)
			return
		}
		body, err := c.body.Read(w, r)
		if err != nil {
			c.fail(w, r, err)
			return
		}
		res, err := mutate(r.Context(), typeName, params.ID(), rel.Name, body)
		if err != nil {
			c.fail(w, r, err)
			return
		}
		c.renderLinkage(w, r, res)
	}
}

func (c *Controller) parse(r *http.Request, typeName string) (*query.Descriptor, error) {
	return query.Parse(c.reg, typeName, router.NewParamExtractor(r).Query(), c.query)
}

// lookupRelationship resolves a relationship named in a path. An undeclared relationship
// is a missing resource, not a malformed request.
func (c *Controller) lookupRelationship(typeName, relName string) (schema.Relationship, error) {
	rel, err := c.reg.Relationship(typeName, relName)
	if err != nil {
		if apierr.IsKind(err, apierr.KindUnknownField) {
			return schema.Relationship{}, apierr.New(apierr.KindNotFound, "%s has no relationship %q", typeName, relName)
		}
		return schema.Relationship{}, err
	}
	return rel, nil
}

// self returns the absolute URL of the request
func (c *Controller) self(r *http.Request) string {
	return c.origin + r.URL.RequestURI()
}

func (c *Controller) render(w http.ResponseWriter, r *http.Request, status int, res *resolver.Result, d *query.Descriptor, self string) {
	doc, err := c.serializer.Document(res, d, self)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	if err := response.Render(w, status, doc); err != nil {
		logger.FromContext(r.Context()).Error("failed to render document", zap.Error(err))
	}
}

func (c *Controller) renderLinkage(w http.ResponseWriter, r *http.Request, res *resolver.Result) {
	if err := response.Render(w, http.StatusOK, c.serializer.RelationshipDocument(res)); err != nil {
		logger.FromContext(r.Context()).Error("failed to render document", zap.Error(err))
	}
}

// fail renders err as an error document. Server errors are logged with their cause;
// abandoned requests get no response.
func (c *Controller) fail(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())
	if errors.Is(err, context.Canceled) {
		log.Debug("request cancelled", zap.String("method", r.Method), zap.String("path", r.URL.Path))
		return
	}

	status := response.RenderError(w, err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.Int("status", status),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(internalCause(err)),
		)
	}
}

// internalCause digs the wrapped cause out of an internal error
func internalCause(err error) error {
	var causes []string
	for _, e := range apierr.From(err) {
		if e.Kind != apierr.KindInternal {
			continue
		}
		if cause := errors.Unwrap(e); cause != nil {
			causes = append(causes, cause.Error())
		}
	}
	if len(causes) == 0 {
		return err
	}
	return errors.New(strings.Join(causes, "; "))
}
