package testfixtures

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/conduit-ecg/annotator/internal/ids"
	"github.com/conduit-ecg/annotator/internal/persistence"
)

var (
	segmentCounter   uint64
	annotatorCounter uint64
	campaignCounter  uint64
)

// Distinct sequence values keep fixture identifiers of different kinds from
// colliding with each other or with IDGenerator output.
const (
	segmentSeq   = 1
	campaignSeq  = 2
	annotatorSeq = 3
)

var referenceTime = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

func fixtureID(counter *uint64, seq uint16) (ids.ID, uint64) {
	idx := atomic.AddUint64(counter, 1)
	return ids.At(referenceTime.Add(time.Duration(idx)*time.Millisecond), seq), idx
}

// ---------------------------- Segment fixtures ----------------------------

// SegmentFixture represents a deterministic segment record.
type SegmentFixture struct {
	ID          ids.ID
	CaseID      string
	Pool        ids.PoolRef
	StartIdx    int
	StopIdx     int
	ZeroPadded  bool
	Signals     map[string]json.RawMessage
	Annotations map[string]persistence.Annotation
	CreatedAt   time.Time
}

// SegmentOption configures the generated segment fixture.
type SegmentOption func(*SegmentFixture)

// NewSegmentFixture returns a deterministic segment fixture with optional overrides.
func NewSegmentFixture(opts ...SegmentOption) SegmentFixture {
	id, idx := fixtureID(&segmentCounter, segmentSeq)
	fixture := SegmentFixture{
		ID:        id,
		CaseID:    fmt.Sprintf("case-%03d", idx),
		StartIdx:  0,
		StopIdx:   2400,
		Signals:   map[string]json.RawMessage{"I": json.RawMessage(`[0,0.5,1,0.5,0]`)},
		CreatedAt: referenceTime.Add(time.Duration(idx) * time.Minute),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithSegmentID overrides the generated segment ID.
func WithSegmentID(id ids.ID) SegmentOption {
	return func(f *SegmentFixture) { f.ID = id }
}

// WithSegmentCase overrides the case identifier.
func WithSegmentCase(caseID string) SegmentOption {
	return func(f *SegmentFixture) { f.CaseID = caseID }
}

// WithSegmentPool sets the pool reference.
func WithSegmentPool(pool ids.PoolRef) SegmentOption {
	return func(f *SegmentFixture) { f.Pool = pool }
}

// WithSegmentWindow sets the sample window and padding flag.
func WithSegmentWindow(start, stop int, zeroPadded bool) SegmentOption {
	return func(f *SegmentFixture) {
		f.StartIdx = start
		f.StopIdx = stop
		f.ZeroPadded = zeroPadded
	}
}

// WithSegmentSignals replaces the channel data.
func WithSegmentSignals(signals map[string]json.RawMessage) SegmentOption {
	return func(f *SegmentFixture) { f.Signals = signals }
}

// WithSegmentAnnotation attaches an annotation for username.
func WithSegmentAnnotation(username string, annotation persistence.Annotation) SegmentOption {
	return func(f *SegmentFixture) {
		if f.Annotations == nil {
			f.Annotations = make(map[string]persistence.Annotation)
		}
		f.Annotations[username] = annotation
	}
}

// Persistence converts the fixture into a persistence record.
func (f SegmentFixture) Persistence() persistence.Segment {
	return persistence.CloneSegment(persistence.Segment{
		ID:          f.ID,
		CaseID:      f.CaseID,
		Pool:        f.Pool,
		StartIdx:    f.StartIdx,
		StopIdx:     f.StopIdx,
		ZeroPadded:  f.ZeroPadded,
		Signals:     f.Signals,
		Annotations: f.Annotations,
		CreatedAt:   f.CreatedAt,
	})
}

// ---------------------------- Campaign fixtures ---------------------------

// CampaignFixture represents a deterministic campaign.
type CampaignFixture struct {
	ID            ids.ID
	Name          string
	Segments      []ids.ID
	LastAnnotated *ids.ID
	CreatedAt     time.Time
}

// CampaignOption configures the generated campaign fixture.
type CampaignOption func(*CampaignFixture)

// NewCampaignFixture returns a deterministic campaign fixture with optional overrides.
func NewCampaignFixture(opts ...CampaignOption) CampaignFixture {
	id, idx := fixtureID(&campaignCounter, campaignSeq)
	fixture := CampaignFixture{
		ID:        id,
		Name:      fmt.Sprintf("campaign-%03d", idx),
		Segments:  []ids.ID{},
		CreatedAt: referenceTime.Add(time.Duration(idx) * time.Minute),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithCampaignName overrides the campaign name.
func WithCampaignName(name string) CampaignOption {
	return func(f *CampaignFixture) { f.Name = name }
}

// WithCampaignSegments sets the member segments in order.
func WithCampaignSegments(segmentIDs ...ids.ID) CampaignOption {
	return func(f *CampaignFixture) { f.Segments = append([]ids.ID{}, segmentIDs...) }
}

// WithCampaignLastAnnotated sets the progress pointer.
func WithCampaignLastAnnotated(id ids.ID) CampaignOption {
	return func(f *CampaignFixture) { f.LastAnnotated = &id }
}

// Persistence converts the fixture into a persistence record.
func (f CampaignFixture) Persistence() persistence.Campaign {
	return persistence.CloneCampaign(persistence.Campaign{
		ID:            f.ID,
		Name:          f.Name,
		Segments:      f.Segments,
		LastAnnotated: f.LastAnnotated,
		CreatedAt:     f.CreatedAt,
	})
}

// --------------------------- Annotator fixtures ---------------------------

// AnnotatorFixture represents a deterministic annotator account.
type AnnotatorFixture struct {
	ID                ids.ID
	Name              string
	Username          string
	Designation       string
	PasswordHash      string
	CurrentCampaign   *CampaignFixture
	PreviousCampaigns []CampaignFixture
	CreatedAt         time.Time
}

// AnnotatorOption configures the generated annotator fixture.
type AnnotatorOption func(*AnnotatorFixture)

// NewAnnotatorFixture returns a deterministic annotator with an empty current
// campaign unless overridden.
func NewAnnotatorFixture(opts ...AnnotatorOption) AnnotatorFixture {
	id, idx := fixtureID(&annotatorCounter, annotatorSeq)
	empty := NewCampaignFixture(WithCampaignName("empty"))
	fixture := AnnotatorFixture{
		ID:              id,
		Name:            fmt.Sprintf("Annotator %03d", idx),
		Username:        fmt.Sprintf("annotator%03d", idx),
		Designation:     "MD",
		PasswordHash:    fmt.Sprintf("hash-%03d", idx),
		CurrentCampaign: &empty,
		CreatedAt:       referenceTime.Add(time.Duration(idx) * time.Minute),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithAnnotatorUsername overrides the username.
func WithAnnotatorUsername(username string) AnnotatorOption {
	return func(f *AnnotatorFixture) { f.Username = username }
}

// WithAnnotatorName overrides the display name.
func WithAnnotatorName(name string) AnnotatorOption {
	return func(f *AnnotatorFixture) { f.Name = name }
}

// WithAnnotatorDesignation overrides the designation.
func WithAnnotatorDesignation(designation string) AnnotatorOption {
	return func(f *AnnotatorFixture) { f.Designation = designation }
}

// WithAnnotatorPasswordHash overrides the stored credential hash.
func WithAnnotatorPasswordHash(hash string) AnnotatorOption {
	return func(f *AnnotatorFixture) { f.PasswordHash = hash }
}

// WithAnnotatorCampaign installs campaign as the current campaign.
func WithAnnotatorCampaign(campaign CampaignFixture) AnnotatorOption {
	return func(f *AnnotatorFixture) { f.CurrentCampaign = &campaign }
}

// WithoutCampaign leaves the annotator with no current campaign.
func WithoutCampaign() AnnotatorOption {
	return func(f *AnnotatorFixture) { f.CurrentCampaign = nil }
}

// WithAnnotatorHistory sets archived campaigns, most recent first.
func WithAnnotatorHistory(campaigns ...CampaignFixture) AnnotatorOption {
	return func(f *AnnotatorFixture) { f.PreviousCampaigns = append([]CampaignFixture{}, campaigns...) }
}

// Persistence converts the fixture into a persistence record.
func (f AnnotatorFixture) Persistence() persistence.Annotator {
	out := persistence.Annotator{
		ID:                f.ID,
		Name:              f.Name,
		Username:          f.Username,
		Designation:       f.Designation,
		PasswordHash:      f.PasswordHash,
		PreviousCampaigns: make([]persistence.Campaign, 0, len(f.PreviousCampaigns)),
		CreatedAt:         f.CreatedAt,
		UpdatedAt:         f.CreatedAt,
	}
	if f.CurrentCampaign != nil {
		current := f.CurrentCampaign.Persistence()
		out.CurrentCampaign = &current
	}
	for _, campaign := range f.PreviousCampaigns {
		out.PreviousCampaigns = append(out.PreviousCampaigns, campaign.Persistence())
	}
	return out
}
