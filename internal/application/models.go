package application

import (
	"encoding/json"
	"time"

	"github.com/conduit-ecg/annotator/internal/ids"
	"github.com/conduit-ecg/annotator/internal/persistence"
)

// Principal represents the authenticated annotator invoking a service method.
type Principal struct {
	Username string
	IsAdmin  bool
}

// Annotation is one annotator's verdict on a segment.
type Annotation struct {
	Label      string
	Confidence float64
	Comments   *string
	UpdatedAt  time.Time
}

// Segment is a waveform window with the annotations recorded against it.
type Segment struct {
	ID          ids.ID
	CaseID      string
	Pool        ids.PoolRef
	StartIdx    int
	StopIdx     int
	ZeroPadded  bool
	Signals     map[string]json.RawMessage
	Annotations map[string]Annotation
	CreatedAt   time.Time
}

// SegmentDetail is what an annotator sees when opening a segment.
type SegmentDetail struct {
	Signals    map[string]json.RawMessage
	Annotation *Annotation
}

// SegmentCount reports how many segments sit after a cursor and in total.
type SegmentCount struct {
	Since int
	Total int
}

// Campaign is a named batch of segments assigned to an annotator.
type Campaign struct {
	Name          string
	Segments      []ids.ID
	LastAnnotated *ids.ID
	CreatedAt     time.Time
	ArchivedAt    *time.Time
}

// Annotator is a reviewer account. PasswordHash is only populated when
// explicitly requested.
type Annotator struct {
	Name              string
	Username          string
	Designation       string
	PasswordHash      string
	CurrentCampaign   *Campaign
	PreviousCampaigns []Campaign
	CreatedAt         time.Time
}

// SegmentInput captures caller provided segment fields.
type SegmentInput struct {
	ID         *ids.ID
	CaseID     string
	Pool       ids.PoolRef
	StartIdx   int
	StopIdx    int
	ZeroPadded bool
	Signals    map[string]json.RawMessage
}

// PageRequest selects a window of segments. Cursors are identifier strings;
// a nil Limit selects the configured default page size.
type PageRequest struct {
	Before string
	After  string
	Limit  *int
}

// AnnotationInput captures a submitted annotation. A nil Confidence means 1.0.
type AnnotationInput struct {
	Label      string
	Confidence *float64
	Comments   *string
}

// SubmitAnnotationParams identifies the segment and annotator of a submission.
type SubmitAnnotationParams struct {
	Principal Principal
	SegmentID string
	Annotator string
	Input     AnnotationInput
}

// CreateAnnotatorParams wraps the data required to create an annotator.
type CreateAnnotatorParams struct {
	Principal   Principal
	Name        string
	Username    string
	Designation string
	Password    string
}

// ResetCredentialParams wraps a password change.
type ResetCredentialParams struct {
	Principal Principal
	Username  string
	Password  string
}

// AssignCampaignParams installs a new current campaign for an annotator.
type AssignCampaignParams struct {
	Principal  Principal
	Username   string
	Name       string
	SegmentIDs []string
}

// AppendSegmentParams adds a segment to an annotator's current campaign.
type AppendSegmentParams struct {
	Principal Principal
	Username  string
	SegmentID string
}

// CampaignBatch is one annotator's campaign from a bulk import. Segments are
// identifier strings in file order.
type CampaignBatch struct {
	Username string
	Name     string
	Segments []string
}

// ImportCampaignsParams wraps a bulk import.
type ImportCampaignsParams struct {
	Principal Principal
	Batches   []CampaignBatch
}

// CampaignImportOutcome reports the result for one batch of an import.
type CampaignImportOutcome struct {
	Username string
	Name     string
	Segments int
	Err      error
}

// CampaignImportResult collects per-batch outcomes in input order.
type CampaignImportResult struct {
	Outcomes []CampaignImportOutcome
}

// Failed returns the outcomes that did not apply.
func (r CampaignImportResult) Failed() []CampaignImportOutcome {
	var failed []CampaignImportOutcome
	for _, outcome := range r.Outcomes {
		if outcome.Err != nil {
			failed = append(failed, outcome)
		}
	}
	return failed
}

func segmentFromRecord(record persistence.Segment) Segment {
	segment := Segment{
		ID:          record.ID,
		CaseID:      record.CaseID,
		Pool:        record.Pool,
		StartIdx:    record.StartIdx,
		StopIdx:     record.StopIdx,
		ZeroPadded:  record.ZeroPadded,
		Signals:     record.Signals,
		Annotations: make(map[string]Annotation, len(record.Annotations)),
		CreatedAt:   record.CreatedAt,
	}
	for annotator, annotation := range record.Annotations {
		segment.Annotations[annotator] = annotationFromRecord(annotation)
	}
	return segment
}

func segmentsFromRecords(records []persistence.Segment) []Segment {
	out := make([]Segment, len(records))
	for i, record := range records {
		out[i] = segmentFromRecord(record)
	}
	return out
}

func annotationFromRecord(record persistence.Annotation) Annotation {
	return Annotation{
		Label:      record.Label,
		Confidence: record.Confidence,
		Comments:   record.Comments,
		UpdatedAt:  record.UpdatedAt,
	}
}

func campaignFromRecord(record persistence.Campaign) Campaign {
	return Campaign{
		Name:          record.Name,
		Segments:      record.Segments,
		LastAnnotated: record.LastAnnotated,
		CreatedAt:     record.CreatedAt,
		ArchivedAt:    record.ArchivedAt,
	}
}

func annotatorFromRecord(record persistence.Annotator, includeCredential bool) Annotator {
	annotator := Annotator{
		Name:              record.Name,
		Username:          record.Username,
		Designation:       record.Designation,
		PreviousCampaigns: make([]Campaign, len(record.PreviousCampaigns)),
		CreatedAt:         record.CreatedAt,
	}
	if includeCredential {
		annotator.PasswordHash = record.PasswordHash
	}
	if record.CurrentCampaign != nil {
		current := campaignFromRecord(*record.CurrentCampaign)
		annotator.CurrentCampaign = &current
	}
	for i, campaign := range record.PreviousCampaigns {
		annotator.PreviousCampaigns[i] = campaignFromRecord(campaign)
	}
	return annotator
}
