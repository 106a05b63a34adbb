// Package importer reads the administrative bulk files: campaign
// assignments as CSV and recordings to be cut into segments as JSON.
package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/conduit-ecg/annotator/internal/application"
)

// Campaign CSV column headers.
const (
	ColumnUser     = "User Name"
	ColumnCampaign = "Campaign"
	ColumnSegment  = "Segment Id"
)

// ErrMissingColumn is returned when the CSV header lacks a required column.
var ErrMissingColumn = errors.New("importer: missing column")

// RowError reports a malformed CSV row. Line counts the header as line 1.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("importer: line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// ReadCampaigns parses a campaign CSV. Consecutive rows naming the same user
// form one batch whose campaign name is taken from the first of those rows.
// A user appearing again after another user starts a new batch.
func ReadCampaigns(r io.Reader) ([]application.CampaignBatch, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty file", ErrMissingColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("importer: read header: %w", err)
	}
	columns, err := locateColumns(header)
	if err != nil {
		return nil, err
	}

	var batches []application.CampaignBatch
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				return nil, &RowError{Line: parseErr.Line, Err: parseErr.Err}
			}
			return nil, err
		}
		line, _ := reader.FieldPos(0)
		if blank(record) {
			continue
		}

		user := field(record, columns.user)
		campaign := field(record, columns.campaign)
		segment := field(record, columns.segment)
		switch {
		case user == "":
			return nil, &RowError{Line: line, Err: fmt.Errorf("%q is empty", ColumnUser)}
		case segment == "":
			return nil, &RowError{Line: line, Err: fmt.Errorf("%q is empty", ColumnSegment)}
		}

		if n := len(batches); n > 0 && batches[n-1].Username == user {
			batches[n-1].Segments = append(batches[n-1].Segments, segment)
			continue
		}
		if campaign == "" {
			return nil, &RowError{Line: line, Err: fmt.Errorf("%q is empty", ColumnCampaign)}
		}
		batches = append(batches, application.CampaignBatch{
			Username: user,
			Name:     campaign,
			Segments: []string{segment},
		})
	}
	return batches, nil
}

type campaignColumns struct {
	user, campaign, segment int
}

func locateColumns(header []string) (campaignColumns, error) {
	columns := campaignColumns{user: -1, campaign: -1, segment: -1}
	for i, name := range header {
		switch normalizeHeader(name) {
		case normalizeHeader(ColumnUser):
			columns.user = i
		case normalizeHeader(ColumnCampaign):
			columns.campaign = i
		case normalizeHeader(ColumnSegment):
			columns.segment = i
		}
	}
	var missing []string
	if columns.user < 0 {
		missing = append(missing, ColumnUser)
	}
	if columns.campaign < 0 {
		missing = append(missing, ColumnCampaign)
	}
	if columns.segment < 0 {
		missing = append(missing, ColumnSegment)
	}
	if len(missing) > 0 {
		return columns, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return columns, nil
}

func normalizeHeader(name string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
}

func field(record []string, index int) string {
	if index >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[index])
}

func blank(record []string) bool {
	for _, value := range record {
		if strings.TrimSpace(value) != "" {
			return false
		}
	}
	return true
}
