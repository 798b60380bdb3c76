package observability

import (
	"context"
	"registryproxy/internal/docstore"
	"registryproxy/internal/release"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// instruments are the span and metric handles shared by the wrappers.
type instruments struct {
	prefix   string
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

func newInstruments(prefix string) (*instruments, error) {
	tracer := otel.Tracer("registryproxy/" + prefix)
	meter := otel.Meter("registryproxy/" + prefix)

	duration, err := meter.Float64Histogram(
		prefix+".operation.duration",
		metric.WithDescription("Duration of "+prefix+" operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		prefix+".operation.errors",
		metric.WithDescription("Number of "+prefix+" operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &instruments{prefix: prefix, tracer: tracer, duration: duration, errors: errCounter}, nil
}

func (in *instruments) start(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	ctx, span := in.tracer.Start(ctx, in.prefix+"."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String(in.prefix+".operation", operation),
		}, attrs...)...),
	)
	return ctx, span, time.Now()
}

func (in *instruments) finish(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("operation", operation))
	in.duration.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		in.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InstrumentedStore wraps a docstore.Store with spans, a latency histogram
// and an error counter.
type InstrumentedStore struct {
	inner docstore.Store
	in    *instruments
}

func NewInstrumentedStore(inner docstore.Store) (*InstrumentedStore, error) {
	in, err := newInstruments("docstore")
	if err != nil {
		return nil, err
	}
	return &InstrumentedStore{inner: inner, in: in}, nil
}

func (s *InstrumentedStore) Read(ctx context.Context) (docstore.Document, error) {
	ctx, span, start := s.in.start(ctx, "Read")
	doc, err := s.inner.Read(ctx)
	span.SetAttributes(attribute.Bool("document.exists", doc.Exists))
	s.in.finish(ctx, span, "Read", start, err)
	return doc, err
}

func (s *InstrumentedStore) Write(ctx context.Context, content []byte, token, message string) (string, error) {
	ctx, span, start := s.in.start(ctx, "Write",
		attribute.Int("document.size", len(content)),
		attribute.Bool("document.create", token == ""),
	)
	newToken, err := s.inner.Write(ctx, content, token, message)
	s.in.finish(ctx, span, "Write", start, err)
	return newToken, err
}

// InstrumentedPublisher wraps a release.Publisher the same way.
type InstrumentedPublisher struct {
	inner release.Publisher
	in    *instruments
}

func NewInstrumentedPublisher(inner release.Publisher) (*InstrumentedPublisher, error) {
	in, err := newInstruments("release")
	if err != nil {
		return nil, err
	}
	return &InstrumentedPublisher{inner: inner, in: in}, nil
}

func (p *InstrumentedPublisher) CreateRelease(ctx context.Context, tag, title, notes string, prerelease bool) (release.Handle, error) {
	ctx, span, start := p.in.start(ctx, "CreateRelease",
		attribute.String("release.tag", tag),
		attribute.Bool("release.prerelease", prerelease),
	)
	h, err := p.inner.CreateRelease(ctx, tag, title, notes, prerelease)
	p.in.finish(ctx, span, "CreateRelease", start, err)
	return h, err
}

func (p *InstrumentedPublisher) FindRelease(ctx context.Context, tag string) (release.Handle, error) {
	ctx, span, start := p.in.start(ctx, "FindRelease", attribute.String("release.tag", tag))
	h, err := p.inner.FindRelease(ctx, tag)
	p.in.finish(ctx, span, "FindRelease", start, err)
	return h, err
}

func (p *InstrumentedPublisher) UploadAsset(ctx context.Context, h release.Handle, filename, contentType string, data []byte) (string, error) {
	ctx, span, start := p.in.start(ctx, "UploadAsset",
		attribute.String("release.tag", h.Tag),
		attribute.String("asset.name", filename),
		attribute.Int("asset.size", len(data)),
	)
	url, err := p.inner.UploadAsset(ctx, h, filename, contentType, data)
	p.in.finish(ctx, span, "UploadAsset", start, err)
	return url, err
}

func (p *InstrumentedPublisher) DeleteRelease(ctx context.Context, h release.Handle) error {
	ctx, span, start := p.in.start(ctx, "DeleteRelease", attribute.String("release.tag", h.Tag))
	err := p.inner.DeleteRelease(ctx, h)
	p.in.finish(ctx, span, "DeleteRelease", start, err)
	return err
}

func (p *InstrumentedPublisher) DownloadURL(h release.Handle, filename string) string {
	return p.inner.DownloadURL(h, filename)
}
