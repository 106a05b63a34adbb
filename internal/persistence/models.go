package persistence

import (
	"encoding/json"
	"time"

	"github.com/conduit-ecg/annotator/internal/ids"
)

// Annotation is one annotator's label for a segment.
type Annotation struct {
	Label      string
	Confidence float64
	Comments   *string
	UpdatedAt  time.Time
}

// Segment is a stored waveform window together with the annotations recorded
// against it, keyed by annotator username.
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

// Campaign is a named batch of segments assigned to one annotator.
type Campaign struct {
	ID            ids.ID
	Name          string
	Segments      []ids.ID
	LastAnnotated *ids.ID
	CreatedAt     time.Time
	ArchivedAt    *time.Time
}

// Annotator is a reviewer account with its campaign state. Version increases
// on every campaign swap and backs compare-and-swap updates.
type Annotator struct {
	ID                ids.ID
	Name              string
	Username          string
	Designation       string
	PasswordHash      string
	CurrentCampaign   *Campaign
	PreviousCampaigns []Campaign
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AuditEvent records one mutating call.
type AuditEvent struct {
	ID         ids.ID
	Actor      string
	Operation  string
	Params     map[string]any
	Outcome    string
	OccurredAt time.Time
}

// CloneSegment returns a deep copy of segment.
func CloneSegment(segment Segment) Segment {
	out := segment
	if segment.Signals != nil {
		out.Signals = make(map[string]json.RawMessage, len(segment.Signals))
		for channel, raw := range segment.Signals {
			out.Signals[channel] = append(json.RawMessage(nil), raw...)
		}
	}
	out.Annotations = make(map[string]Annotation, len(segment.Annotations))
	for annotator, annotation := range segment.Annotations {
		out.Annotations[annotator] = CloneAnnotation(annotation)
	}
	return out
}

// CloneAnnotation returns a deep copy of annotation.
func CloneAnnotation(annotation Annotation) Annotation {
	out := annotation
	if annotation.Comments != nil {
		comments := *annotation.Comments
		out.Comments = &comments
	}
	return out
}

// CloneCampaign returns a deep copy of campaign.
func CloneCampaign(campaign Campaign) Campaign {
	out := campaign
	out.Segments = append(make([]ids.ID, 0, len(campaign.Segments)), campaign.Segments...)
	if campaign.LastAnnotated != nil {
		last := *campaign.LastAnnotated
		out.LastAnnotated = &last
	}
	if campaign.ArchivedAt != nil {
		archived := *campaign.ArchivedAt
		out.ArchivedAt = &archived
	}
	return out
}

// CloneAnnotator returns a deep copy of annotator.
func CloneAnnotator(annotator Annotator) Annotator {
	out := annotator
	if annotator.CurrentCampaign != nil {
		current := CloneCampaign(*annotator.CurrentCampaign)
		out.CurrentCampaign = &current
	}
	out.PreviousCampaigns = make([]Campaign, len(annotator.PreviousCampaigns))
	for i, campaign := range annotator.PreviousCampaigns {
		out.PreviousCampaigns[i] = CloneCampaign(campaign)
	}
	return out
}
