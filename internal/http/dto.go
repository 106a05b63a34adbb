package http

import (
	"encoding/json"
	"time"

	"github.com/conduit-ecg/annotator/internal/application"
	"github.com/conduit-ecg/annotator/internal/ids"
)

type segmentDTO struct {
	ID          string                     `json:"id"`
	CaseID      string                     `json:"case_id"`
	PoolKind    string                     `json:"pool_kind"`
	PoolSegment string                     `json:"pool_segment"`
	StartIdx    int                        `json:"start_idx"`
	StopIdx     int                        `json:"stop_idx"`
	ZeroPadded  bool                       `json:"zero_padded"`
	Signals     map[string]json.RawMessage `json:"signals"`
	Annotations map[string]annotationDTO   `json:"annotations"`
}

func toSegmentDTO(segment application.Segment) segmentDTO {
	kind, ref := segment.Pool.Encode()
	dto := segmentDTO{
		ID:          segment.ID.String(),
		CaseID:      segment.CaseID,
		PoolKind:    kind,
		PoolSegment: ref,
		StartIdx:    segment.StartIdx,
		StopIdx:     segment.StopIdx,
		ZeroPadded:  segment.ZeroPadded,
		Signals:     segment.Signals,
		Annotations: make(map[string]annotationDTO, len(segment.Annotations)),
	}
	if dto.Signals == nil {
		dto.Signals = map[string]json.RawMessage{}
	}
	for annotator, annotation := range segment.Annotations {
		dto.Annotations[annotator] = toAnnotationDTO(annotation)
	}
	return dto
}

func toSegmentDTOs(segments []application.Segment) []segmentDTO {
	out := make([]segmentDTO, 0, len(segments))
	for _, segment := range segments {
		out = append(out, toSegmentDTO(segment))
	}
	return out
}

type annotationDTO struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Comments   *string `json:"comments"`
	UpdatedAt  string  `json:"updated_at,omitempty"`
}

func toAnnotationDTO(annotation application.Annotation) annotationDTO {
	dto := annotationDTO{
		Label:      annotation.Label,
		Confidence: annotation.Confidence,
		Comments:   annotation.Comments,
	}
	if !annotation.UpdatedAt.IsZero() {
		dto.UpdatedAt = annotation.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return dto
}

type segmentDetailResponse struct {
	Signals    map[string]json.RawMessage `json:"signals"`
	Annotation *annotationDTO             `json:"annotation"`
}

type campaignDTO struct {
	Name                 string   `json:"name"`
	Segments             []string `json:"segments"`
	LastAnnotatedSegment *string  `json:"last_annotated_segment"`
}

func toCampaignDTO(campaign application.Campaign) campaignDTO {
	dto := campaignDTO{
		Name:     campaign.Name,
		Segments: ids.Strings(campaign.Segments),
	}
	if dto.Segments == nil {
		dto.Segments = []string{}
	}
	if campaign.LastAnnotated != nil {
		last := campaign.LastAnnotated.String()
		dto.LastAnnotatedSegment = &last
	}
	return dto
}

type annotatorDTO struct {
	Name              string        `json:"name"`
	Username          string        `json:"username"`
	Designation       string        `json:"designation"`
	CurrentCampaign   *campaignDTO  `json:"current_campaign"`
	PreviousCampaigns []campaignDTO `json:"previous_campaigns"`
}

func toAnnotatorDTO(annotator application.Annotator) annotatorDTO {
	dto := annotatorDTO{
		Name:              annotator.Name,
		Username:          annotator.Username,
		Designation:       annotator.Designation,
		PreviousCampaigns: make([]campaignDTO, 0, len(annotator.PreviousCampaigns)),
	}
	if annotator.CurrentCampaign != nil {
		current := toCampaignDTO(*annotator.CurrentCampaign)
		dto.CurrentCampaign = &current
	}
	for _, campaign := range annotator.PreviousCampaigns {
		dto.PreviousCampaigns = append(dto.PreviousCampaigns, toCampaignDTO(campaign))
	}
	return dto
}

func toAnnotatorDTOs(annotators []application.Annotator) []annotatorDTO {
	out := make([]annotatorDTO, 0, len(annotators))
	for _, annotator := range annotators {
		out = append(out, toAnnotatorDTO(annotator))
	}
	return out
}
