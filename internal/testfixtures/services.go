package testfixtures

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/conduit-ecg/annotator/internal/application"
)

// AdminPrincipal is the principal used by tests for administrative calls.
var AdminPrincipal = application.Principal{Username: "admin", IsAdmin: true}

// ServiceFactory assists tests with constructing application services over a
// Harness using deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Audit       *AuditRecorder
	Retry       application.RetryConfig
	Limits      application.PageLimits
	Logger      *slog.Logger
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults. Retries are
// immediate so tests exercising contention stay fast.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(ReferenceTime()),
		IDGenerator: NewIDGenerator(time.Time{}),
		Audit:       &AuditRecorder{},
		Retry:       application.RetryConfig{MaxRetries: 5, BackoffFactor: 1},
		Limits:      application.DefaultPageLimits(),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(ReferenceTime())
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator(time.Time{})
	}
	if factory.Audit == nil {
		factory.Audit = &AuditRecorder{}
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// WithPageLimits overrides the segment page sizes.
func WithPageLimits(limits application.PageLimits) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Limits = limits
	}
}

// WithRetry overrides the retry policy of the atomic units.
func WithRetry(config application.RetryConfig) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Retry = config
	}
}

// NewSegmentService builds a segment service over h.
func (f *ServiceFactory) NewSegmentService(h *Harness) *application.SegmentService {
	return application.NewSegmentServiceWithLogger(h.Segments, h.Tx, f.IDGenerator.NextFunc(), f.Clock.NowFunc(), f.Limits, f.Audit, f.Logger)
}

// NewAnnotatorService builds an annotator service over h. Passwords are
// "hashed" by prefixing them, keeping tests independent of argon2 cost.
func (f *ServiceFactory) NewAnnotatorService(h *Harness) *application.AnnotatorService {
	return application.NewAnnotatorServiceWithLogger(h.Annotators, FakeHash, f.IDGenerator.NextFunc(), f.Clock.NowFunc(), f.Audit, f.Logger)
}

// NewCampaignService builds a campaign service over h.
func (f *ServiceFactory) NewCampaignService(h *Harness) *application.CampaignService {
	return application.NewCampaignServiceWithLogger(h.Annotators, h.Tx, application.NewRetryHelper(f.Retry), f.IDGenerator.NextFunc(), f.Clock.NowFunc(), f.Audit, f.Logger)
}

// NewAnnotationService builds an annotation service over h with the default vocabulary.
func (f *ServiceFactory) NewAnnotationService(h *Harness) *application.AnnotationService {
	return application.NewAnnotationServiceWithLogger(h.Tx, application.DefaultVocabulary(), application.NewRetryHelper(f.Retry), f.Clock.NowFunc(), f.Audit, f.Logger)
}

// NewAuthService builds an auth service over h whose session cache follows
// the factory clock. Passwords are checked against FakeHash.
func (f *ServiceFactory) NewAuthService(h *Harness, ttl time.Duration, admins ...string) *application.AuthService {
	sessions := application.NewSessionCache(ttl, 16, f.Clock.NowFunc())
	return application.NewAuthServiceWithLogger(h.Annotators, FakeVerify, sessions, admins, f.Logger)
}

// FakeHash is a reversible stand-in for password hashing.
func FakeHash(password string) (string, error) {
	return "fake$" + password, nil
}

// FakeVerify checks passwords produced by FakeHash.
func FakeVerify(hash, password string) error {
	if hash != "fake$"+password {
		return application.ErrInvalidCredentials
	}
	return nil
}

// AuditRecorder collects audit entries emitted by services.
type AuditRecorder struct {
	mu      sync.Mutex
	entries []application.AuditEntry
}

// Record implements application.AuditSink.
func (r *AuditRecorder) Record(_ context.Context, entry application.AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

// Entries returns a snapshot of the recorded entries.
func (r *AuditRecorder) Entries() []application.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]application.AuditEntry(nil), r.entries...)
}

// Operations returns the operation names in recording order.
func (r *AuditRecorder) Operations() []string {
	entries := r.Entries()
	out := make([]string, len(entries))
	for i, entry := range entries {
		out[i] = entry.Operation
	}
	return out
}
