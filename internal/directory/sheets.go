package directory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jobrelay/sms-relay/internal/domain"
)

const (
	defaultSheetsTimeout = 10 * time.Second

	// providerSheet is the tab holding the directory. Columns in fixed
	// order: Name, Phone, Location, Status (optional).
	providerSheet = "Providers"
	providerRange = providerSheet + "!A2:D"

	// providerRows start at row 2; row 1 is the header.
	firstProviderRow = 2
	statusColumn     = "D"
)

// Directory is the provider lookup port consumed by the orchestrator.
type Directory interface {
	// ListProviders returns providers matching location in spreadsheet
	// row order. Matching is case-insensitive exact equality.
	ListProviders(ctx context.Context, location string) ([]domain.Provider, error)
	// UpdateStatus writes the Status cell for the provider identified by
	// phone. Best-effort; callers log and continue on failure.
	UpdateStatus(ctx context.Context, phone string, status string) error
}

type valuesResponse struct {
	Range  string     `json:"range"`
	Values [][]string `json:"values"`
}

type valuesUpdateRequest struct {
	Range          string     `json:"range"`
	MajorDimension string     `json:"majorDimension"`
	Values         [][]string `json:"values"`
}

// SheetsDirectory reads the provider directory from the Google Sheets
// values API. Rows are fetched fresh per call; nothing is cached.
type SheetsDirectory struct {
	client        *resty.Client
	spreadsheetID string
	apiKey        string
}

func NewSheetsDirectory(baseURL string, spreadsheetID string, apiKey string) (*SheetsDirectory, error) {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	client.SetTimeout(defaultSheetsTimeout)
	client.SetRetryCount(0)

	return NewSheetsDirectoryWithClient(spreadsheetID, apiKey, client)
}

func NewSheetsDirectoryWithClient(spreadsheetID string, apiKey string, client *resty.Client) (*SheetsDirectory, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("sheets api key is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if _, err := url.ParseRequestURI(client.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid sheets base url: %w", err)
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSheetsTimeout)
	}
	client.SetRetryCount(0)

	return &SheetsDirectory{
		client:        client,
		spreadsheetID: strings.TrimSpace(spreadsheetID),
		apiKey:        strings.TrimSpace(apiKey),
	}, nil
}

func (d *SheetsDirectory) ListProviders(ctx context.Context, location string) ([]domain.Provider, error) {
	rows, err := d.fetchRows(ctx)
	if err != nil {
		return nil, err
	}

	providers := make([]domain.Provider, 0, len(rows))
	for _, row := range rows {
		provider, ok := providerFromRow(row)
		if !ok {
			continue
		}
		if !domain.SameLocation(provider.Location, location) {
			continue
		}
		providers = append(providers, provider)
	}

	return providers, nil
}

func (d *SheetsDirectory) UpdateStatus(ctx context.Context, phone string, status string) error {
	normalized := domain.NormalizePhone(phone)
	if normalized == "" {
		return fmt.Errorf("provider phone is required")
	}
	if strings.TrimSpace(status) == "" {
		return fmt.Errorf("status is required")
	}

	rows, err := d.fetchRows(ctx)
	if err != nil {
		return err
	}

	rowNumber := -1
	for i, row := range rows {
		if len(row) < 2 {
			continue
		}
		if domain.NormalizePhone(row[1]) == normalized {
			rowNumber = firstProviderRow + i
			break
		}
	}
	if rowNumber < 0 {
		return fmt.Errorf("%w: provider with phone %q", domain.ErrNotFound, phone)
	}

	cellRange := fmt.Sprintf("%s!%s%d", providerSheet, statusColumn, rowNumber)
	body := valuesUpdateRequest{
		Range:          cellRange,
		MajorDimension: "ROWS",
		Values:         [][]string{{strings.TrimSpace(status)}},
	}

	response, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetQueryParam("key", d.apiKey).
		SetQueryParam("valueInputOption", "RAW").
		SetBody(body).
		Put(fmt.Sprintf("/v4/spreadsheets/%s/values/%s", d.spreadsheetID, url.PathEscape(cellRange)))
	if err != nil {
		return transportError(err)
	}
	if code := response.StatusCode(); code < http.StatusOK || code >= http.StatusMultipleChoices {
		return statusError(code, response.String())
	}

	return nil
}

func (d *SheetsDirectory) fetchRows(ctx context.Context) ([][]string, error) {
	if d == nil || d.client == nil {
		return nil, fmt.Errorf("directory is not initialized")
	}

	var decoded valuesResponse
	response, err := d.client.R().
		SetContext(ctx).
		SetQueryParam("key", d.apiKey).
		SetResult(&decoded).
		Get(fmt.Sprintf("/v4/spreadsheets/%s/values/%s", d.spreadsheetID, url.PathEscape(providerRange)))
	if err != nil {
		return nil, transportError(err)
	}
	if code := response.StatusCode(); code < http.StatusOK || code >= http.StatusMultipleChoices {
		return nil, statusError(code, response.String())
	}

	return decoded.Values, nil
}

// providerFromRow maps a sheet row to a Provider. Rows missing a phone or
// location are skipped; an empty Status cell means active.
func providerFromRow(row []string) (domain.Provider, bool) {
	if len(row) < 3 {
		return domain.Provider{}, false
	}

	provider := domain.Provider{
		Name:     strings.TrimSpace(row[0]),
		Phone:    strings.TrimSpace(row[1]),
		Location: strings.TrimSpace(row[2]),
		Status:   domain.DefaultProviderStatus,
	}
	if len(row) > 3 && strings.TrimSpace(row[3]) != "" {
		provider.Status = strings.TrimSpace(row[3])
	}

	if provider.Phone == "" || provider.Location == "" {
		return domain.Provider{}, false
	}

	return provider, true
}

func transportError(err error) error {
	return &DirectoryError{
		Message:   "sheets request failed",
		Transient: !errors.Is(err, context.Canceled),
		Cause:     err,
	}
}

func statusError(statusCode int, body string) error {
	message := fmt.Sprintf("sheets returned status %d", statusCode)
	if trimmed := strings.TrimSpace(body); trimmed != "" {
		message = fmt.Sprintf("%s: %s", message, trimmed)
	}

	return &DirectoryError{
		StatusCode: statusCode,
		Message:    message,
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}
