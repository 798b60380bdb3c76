// Package publish runs the pack publish workflow as an explicit state
// machine: verify, rate limit, decode, hash, create the release, upload the
// archive, update the index. An asset upload failure rolls back a release
// created by the same run; an index failure leaves the artifact published
// and is reported as PUBLISHED_NOT_INDEXED.
package publish

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"registryproxy/internal/identity"
	"registryproxy/internal/models"
	"registryproxy/internal/proxyerr"
	"registryproxy/internal/ratelimit"
	"registryproxy/internal/registry"
	"registryproxy/internal/release"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	assetContentType   = "application/gzip"
	defaultStepTimeout = 120 * time.Second
)

// Request is one publish attempt.
type Request struct {
	Identification string // client identification string, usually User-Agent
	ClientIP       string
	Name           string
	Version        string
	Languages      []string
	Description    string
	Author         string
	Tarball        string // standard base64
}

// Result is returned by a completed run.
type Result struct {
	PublishURL  string
	Version     string
	Checksum    string
	DownloadURL string
	States      Trail
}

// Error is a failed run. It wraps the classified cause and records where the
// run stopped.
type Error struct {
	State  State // state that failed
	States Trail
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("publish failed in %s: %v", e.State, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Tag returns the release tag for a pack version.
func Tag(name, version string) string {
	return name + "@" + version
}

// AssetName returns the archive file name of a first publish.
func AssetName(name, version string) string {
	return fmt.Sprintf("%s-%s.tar.gz", name, version)
}

// RepublishAssetName returns the archive file name used when a release is
// reused. The checksum prefix keeps earlier archives reachable.
func RepublishAssetName(name, version, checksum string) string {
	short := checksum
	if len(short) > 12 {
		short = short[:12]
	}
	return fmt.Sprintf("%s-%s-%s.tar.gz", name, version, short)
}

// Orchestrator wires the workflow's collaborators.
type Orchestrator struct {
	verifier    identity.ClientVerifier
	guard       *ratelimit.Guard
	registry    *registry.Service
	publisher   release.Publisher
	stepTimeout time.Duration
	now         func() time.Time
	tracer      trace.Tracer
	outcomes    metric.Int64Counter
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStepTimeout bounds each publisher call.
func WithStepTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.stepTimeout = d
		}
	}
}

// WithClock overrides the time used for publishedAt.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an orchestrator. A nil guard disables rate limiting.
func New(verifier identity.ClientVerifier, guard *ratelimit.Guard, reg *registry.Service, publisher release.Publisher, opts ...Option) *Orchestrator {
	outcomes, err := otel.Meter("registryproxy/publish").Int64Counter(
		"publish.outcomes",
		metric.WithDescription("Publish runs by final state and error kind"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		slog.Warn("Failed to create publish outcome counter", "error", err)
	}

	o := &Orchestrator{
		verifier:    verifier,
		guard:       guard,
		registry:    reg,
		publisher:   publisher,
		stepTimeout: defaultStepTimeout,
		now:         time.Now,
		tracer:      otel.Tracer("registryproxy/publish"),
		outcomes:    outcomes,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run is the mutable state of a single Publish call.
type run struct {
	o        *Orchestrator
	req      Request
	trail    Trail
	failedAt State
	failed   bool

	data        []byte
	checksum    string
	handle      release.Handle
	created     bool
	filename    string
	downloadURL string
}

func (r *run) enter(s State) {
	if len(r.trail) > 0 && !CanTransition(r.trail.Last(), s) {
		panic(fmt.Sprintf("illegal publish transition %s -> %s", r.trail.Last(), s))
	}
	r.trail = append(r.trail, s)
}

// step runs fn inside a span named after the current state.
func (r *run) step(ctx context.Context, s State, fn func(ctx context.Context) error) error {
	r.enter(s)
	ctx, span := r.o.tracer.Start(ctx, "publish."+s.String(),
		trace.WithAttributes(
			attribute.String("pack.name", r.req.Name),
			attribute.String("pack.version", r.req.Version),
		),
	)
	defer span.End()

	if err := fn(ctx); err != nil {
		if !r.failed {
			r.failed = true
			r.failedAt = s
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, s.String()+" failed")
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// Publish runs the workflow. Once started, a run is not cancelled by the
// caller going away; each publisher call is bounded by the step timeout.
func (o *Orchestrator) Publish(ctx context.Context, req Request) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	r := &run{o: o, req: req}

	res, err := r.execute(ctx)
	if err != nil {
		r.trail = append(r.trail, StateFailed)
		o.record(ctx, r.failedAt, proxyerr.KindOf(err).String())
		return nil, &Error{State: r.failedAt, States: r.trail, Err: err}
	}
	o.record(ctx, StateDone, "none")
	return res, nil
}

func (r *run) execute(ctx context.Context) (*Result, error) {
	o := r.o
	req := r.req

	if err := r.step(ctx, StateVerifying, func(ctx context.Context) error {
		if !o.verifier.IsRecognizedClient(req.Identification) {
			return proxyerr.NewInvalidClient()
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := r.step(ctx, StateRateLimiting, func(ctx context.Context) error {
		_, err := o.guard.Check(ctx, req.ClientIP, models.EndpointRegistryPublish)
		return err
	}); err != nil {
		return nil, err
	}

	if err := r.step(ctx, StateDecoding, func(ctx context.Context) error {
		data, err := base64.StdEncoding.DecodeString(req.Tarball)
		if err != nil {
			return proxyerr.NewBadRequest("Invalid tarball encoding", err)
		}
		r.data = data
		return nil
	}); err != nil {
		return nil, err
	}

	r.step(ctx, StateHashing, func(ctx context.Context) error {
		r.checksum = models.Checksum(r.data)
		return nil
	})

	tag := Tag(req.Name, req.Version)
	var exists bool
	if err := r.step(ctx, StateReleaseCreate, func(ctx context.Context) error {
		sctx, cancel := context.WithTimeout(ctx, o.stepTimeout)
		defer cancel()

		h, err := o.publisher.CreateRelease(sctx, tag, releaseTitle(req), releaseNotes(req, r.checksum), release.IsPrerelease(req.Version))
		if err == nil {
			r.handle = h
			r.created = true
			r.filename = AssetName(req.Name, req.Version)
			return nil
		}
		if !errors.Is(err, release.ErrReleaseExists) {
			return classifyPublisherError(err, "Failed to create release")
		}

		indexed, lerr := o.registry.Contains(ctx, models.EntryKey{Name: req.Name, Version: req.Version})
		if lerr != nil {
			return lerr
		}
		if !indexed {
			return proxyerr.NewConflict(fmt.Sprintf("Pack %s already exists", tag), err)
		}
		exists = true
		return nil
	}); err != nil {
		return nil, err
	}

	if exists {
		if err := r.step(ctx, StateReleaseReuse, func(ctx context.Context) error {
			sctx, cancel := context.WithTimeout(ctx, o.stepTimeout)
			defer cancel()

			h, err := o.publisher.FindRelease(sctx, tag)
			if err != nil {
				if errors.Is(err, release.ErrReleaseNotFound) {
					return proxyerr.NewConflict(fmt.Sprintf("Pack %s already exists", tag), err)
				}
				return classifyPublisherError(err, "Failed to look up release")
			}
			r.handle = h
			r.filename = RepublishAssetName(req.Name, req.Version, r.checksum)
			return nil
		}); err != nil {
			return nil, err
		}
	}

	if err := r.step(ctx, StateAssetUpload, func(ctx context.Context) error {
		sctx, cancel := context.WithTimeout(ctx, o.stepTimeout)
		defer cancel()

		url, err := o.publisher.UploadAsset(sctx, r.handle, r.filename, assetContentType, r.data)
		if err == nil {
			r.downloadURL = url
			return nil
		}
		// Same name on a reused release means the same checksum, hence the
		// same bytes: the stored archive is already the one requested.
		if !r.created && errors.Is(err, release.ErrAssetExists) {
			r.downloadURL = o.publisher.DownloadURL(r.handle, r.filename)
			return nil
		}
		return classifyPublisherError(err, "Failed to upload pack archive")
	}); err != nil {
		if r.created {
			r.rollback(ctx, err)
		}
		return nil, err
	}

	if err := r.step(ctx, StateIndexUpdate, func(ctx context.Context) error {
		entry := models.RegistryEntry{
			Name:        req.Name,
			Version:     req.Version,
			Languages:   languages(req.Languages),
			Description: req.Description,
			DownloadURL: r.downloadURL,
			Checksum:    r.checksum,
			PublishedAt: o.now().UTC(),
			Author:      req.Author,
		}
		if err := o.registry.Upsert(ctx, entry, fmt.Sprintf("Publish %s", tag)); err != nil {
			slog.Error("Pack published but registry index not updated",
				"pack", tag,
				"download_url", r.downloadURL,
				"error", err,
			)
			return proxyerr.NewPublishedNotIndexed(r.downloadURL, err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	r.enter(StateDone)
	slog.Info("Pack published",
		"pack", tag,
		"checksum", r.checksum,
		"client_ip", req.ClientIP,
		"reused_release", !r.created,
	)

	return &Result{
		PublishURL:  r.handle.URL,
		Version:     req.Version,
		Checksum:    r.checksum,
		DownloadURL: r.downloadURL,
		States:      r.trail,
	}, nil
}

// rollback deletes the release this run created. Its own failure is logged
// and never replaces cause.
func (r *run) rollback(ctx context.Context, cause error) {
	r.step(ctx, StateReleaseRollback, func(ctx context.Context) error {
		sctx, cancel := context.WithTimeout(ctx, r.o.stepTimeout)
		defer cancel()

		if err := r.o.publisher.DeleteRelease(sctx, r.handle); err != nil {
			slog.Warn("Failed to roll back release after upload failure",
				"tag", r.handle.Tag,
				"upload_error", cause,
				"error", err,
			)
			return err
		}
		slog.Info("Rolled back release after upload failure", "tag", r.handle.Tag)
		return nil
	})
}

func (o *Orchestrator) record(ctx context.Context, final State, kind string) {
	if o.outcomes == nil {
		return
	}
	o.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", final.String()),
		attribute.String("kind", kind),
	))
}

func classifyPublisherError(err error, message string) error {
	switch {
	case errors.Is(err, release.ErrNotConfigured):
		return proxyerr.NewMisconfigured("Server configuration error")
	case errors.Is(err, context.DeadlineExceeded):
		return proxyerr.NewUnavailable(message, err)
	default:
		return proxyerr.NewInternal(message, err)
	}
}

func releaseTitle(req Request) string {
	return fmt.Sprintf("%s v%s", req.Name, req.Version)
}

func releaseNotes(req Request, checksum string) string {
	return fmt.Sprintf("Pack: %s\nVersion: %s\nAuthor: %s\n\n%s\n\nSHA-256: %s\n",
		req.Name, req.Version, req.Author, req.Description, checksum)
}

func languages(l []string) []string {
	if l == nil {
		return []string{}
	}
	return l
}
