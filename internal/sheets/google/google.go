// Package google writes rollup and aggregation reports to a Google
// spreadsheet using service-account credentials.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	ports "obras/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"obras/internal/core"
)

type Client struct {
	svc              *gsheet.Service
	spreadsheetID    string
	rollupSheet      string
	aggregationSheet string
}

var _ ports.ReportWriter = (*Client)(nil)

// NewFromEnv creates a report client from environment variables.
// Required: GOOGLE_SPREADSHEET_ID.
// Optional sheet names: ROLLUP_SHEET_NAME (default "Rollups"),
// AGGREGATIONS_SHEET_NAME (default "Aggregations").
func NewFromEnv(ctx context.Context) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	rollupSheet := strings.TrimSpace(os.Getenv("ROLLUP_SHEET_NAME"))
	if rollupSheet == "" {
		rollupSheet = "Rollups"
	}
	aggregationSheet := strings.TrimSpace(os.Getenv("AGGREGATIONS_SHEET_NAME"))
	if aggregationSheet == "" {
		aggregationSheet = "Aggregations"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		svc:              svc,
		spreadsheetID:    spreadsheetID,
		rollupSheet:      rollupSheet,
		aggregationSheet: aggregationSheet,
	}, nil
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
// Uses GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	slog.InfoContext(ctx, "Google Sheets service created")
	return service, nil
}

// WriteRollups replaces the rollup sheet with the current project state.
func (c *Client) WriteRollups(ctx context.Context, projects []core.Project) error {
	values := [][]any{{
		"Project", "Office", "Municipality", "Category",
		"Completed", "Delayed", "On Track", "Breakdowns",
		"Allocated (PHP)", "Utilized (PHP)", "Budget (PHP)", "Updated",
	}}
	for _, p := range projects {
		values = append(values, []any{
			p.Name, p.Office, p.Municipality, p.Category,
			p.Completed, p.Delayed, p.OnTrack, p.BreakdownCount,
			p.TotalAllocated.Pesos(), p.TotalUtilized.Pesos(), p.Budget.Pesos(),
			p.UpdatedAt.Format("2006-01-02 15:04"),
		})
	}

	if err := c.overwrite(ctx, c.rollupSheet, values); err != nil {
		return fmt.Errorf("write rollups: %w", err)
	}
	slog.InfoContext(ctx, "Rollup report exported",
		"spreadsheet_id", c.spreadsheetID,
		"sheet", c.rollupSheet,
		"projects", len(projects))
	return nil
}

// WriteAggregations replaces the aggregation sheet with the given snapshots.
func (c *Client) WriteAggregations(ctx context.Context, records []core.AggregationRecord) error {
	values := [][]any{{
		"Entity", "Aggregation", "Group", "Label", "Rows", "Values", "Updated",
	}}
	for _, rec := range records {
		named, err := json.Marshal(rec.NamedValues)
		if err != nil {
			return fmt.Errorf("encode named values: %w", err)
		}
		values = append(values, []any{
			rec.EntityType, rec.AggregationType,
			strings.Join(rec.GroupKeys, " | "),
			rec.DisplayLabel, rec.RowCount, string(named),
			rec.UpdatedAt.Format("2006-01-02 15:04"),
		})
	}

	if err := c.overwrite(ctx, c.aggregationSheet, values); err != nil {
		return fmt.Errorf("write aggregations: %w", err)
	}
	slog.InfoContext(ctx, "Aggregation report exported",
		"spreadsheet_id", c.spreadsheetID,
		"sheet", c.aggregationSheet,
		"records", len(records))
	return nil
}

func (c *Client) overwrite(ctx context.Context, sheet string, values [][]any) error {
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, sheet, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear sheet %s: %w", sheet, err)
	}

	rng := fmt.Sprintf("%s!A1", sheet)
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, &gsheet.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update sheet %s: %w", sheet, err)
	}
	return nil
}
