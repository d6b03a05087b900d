package marketplace

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/dimchansky/utfbom"
	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

const (
	releaseReportPath = "/v1/account/release_report"

	releaseReportPollAttempts = 10
	releaseReportPollDelay    = 3 * time.Second
)

// BRDate is a DD-MM-YYYY calendar date as the marketplace exports render it.
type BRDate struct {
	time.Time
}

func (d *BRDate) UnmarshalCSV(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parsed, err := utils.ParseBRDate(raw)
	if err != nil {
		return err
	}
	d.Time = parsed
	return nil
}

// BRDecimal is an amount with decimal comma and thousands dots, as the
// marketplace exports render it.
type BRDecimal struct {
	decimal.Decimal
}

func (d *BRDecimal) UnmarshalCSV(raw string) error {
	parsed, err := utils.ParseBRAmount(raw)
	if err != nil {
		return err
	}
	d.Decimal = parsed
	return nil
}

// ReleaseReportRow is one movement line of the marketplace's release report.
// The seller-facing bank statement export shares the same layout, so the
// statement ingester parses uploads with this type too.
type ReleaseReportRow struct {
	ReleaseDate     BRDate    `csv:"RELEASE_DATE"`
	TransactionType string    `csv:"TRANSACTION_TYPE"`
	ReferenceID     string    `csv:"REFERENCE_ID"`
	NetAmount       BRDecimal `csv:"TRANSACTION_NET_AMOUNT"`
	PartialBalance  BRDecimal `csv:"PARTIAL_BALANCE"`
}

// ParseReleaseReport decodes a release report (or bank statement) CSV. The
// export opens with an aggregate-balances line and a blank line; data starts
// at the RELEASE_DATE column header. Semicolon separated, decimal comma,
// optionally BOM-prefixed.
func ParseReleaseReport(r io.Reader) ([]ReleaseReportRow, error) {
	content, err := io.ReadAll(utfbom.SkipOnly(r))
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}

	headerIdx := bytes.Index(content, []byte("RELEASE_DATE"))
	if headerIdx < 0 {
		return nil, fmt.Errorf("report has no RELEASE_DATE column header")
	}

	csvReader := csv.NewReader(bytes.NewReader(content[headerIdx:]))
	csvReader.Comma = ';'
	csvReader.LazyQuotes = true
	csvReader.TrimLeadingSpace = true

	rows := []ReleaseReportRow{}
	if err = gocsv.UnmarshalCSV(csvReader, &rows); err != nil {
		return nil, fmt.Errorf("decoding report rows: %w", err)
	}

	return rows, nil
}

type releaseReportFile struct {
	FileName  string `json:"file_name"`
	BeginDate string `json:"begin_date"`
	EndDate   string `json:"end_date"`
	CreatedOn string `json:"created_on"`
}

// CreateReleaseReport asks the marketplace to generate a release report for
// [beginDate, endDate] and polls the report list until the file shows up.
// Returns the generated file name for DownloadReleaseReport.
func (client *Client) CreateReleaseReport(ctx context.Context, seller *data.Seller, beginDate, endDate time.Time) (string, error) {
	beginStr := utils.FormatISODate(beginDate)
	endStr := utils.FormatISODate(endDate)

	body, err := json.Marshal(map[string]string{
		"begin_date": beginStr,
		"end_date":   endStr,
	})
	if err != nil {
		return "", fmt.Errorf("marshalling report request: %w", err)
	}

	resp, err := client.request(ctx, seller, http.MethodPost, releaseReportPath, nil, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("requesting release report for seller %s: %w", seller.ID, err)
	}
	defer resp.Body.Close()

	// 409 means a report for this window was already generated; the poll
	// below will find it.
	if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode != http.StatusConflict {
		apiError, parseErr := parseAPIError(resp)
		if parseErr != nil {
			return "", fmt.Errorf("parsing API error: %w", parseErr)
		}
		return "", fmt.Errorf("requesting release report for seller %s: %w", seller.ID, apiError)
	}

	fileName, err := retry.DoWithData(
		func() (string, error) {
			var files []releaseReportFile
			if listErr := client.getJSON(ctx, seller, releaseReportPath, nil, &files); listErr != nil {
				return "", retry.Unrecoverable(listErr)
			}
			for _, file := range files {
				if strings.HasPrefix(file.BeginDate, beginStr) && strings.HasPrefix(file.EndDate, endStr) {
					return file.FileName, nil
				}
			}
			return "", fmt.Errorf("report %s..%s not listed yet", beginStr, endStr)
		},
		retry.Context(ctx),
		retry.Attempts(releaseReportPollAttempts),
		retry.Delay(releaseReportPollDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			log.Ctx(ctx).Debugf("waiting for release report %s..%s of seller %s (attempt %d): %v", beginStr, endStr, seller.ID, attempt+1, err)
		}),
	)
	if err != nil {
		return "", fmt.Errorf("waiting for release report for seller %s: %w", seller.ID, err)
	}

	return fileName, nil
}

// DownloadReleaseReport fetches a generated report file and parses its rows.
func (client *Client) DownloadReleaseReport(ctx context.Context, seller *data.Seller, fileName string) ([]ReleaseReportRow, error) {
	resp, err := client.request(ctx, seller, http.MethodGet, releaseReportPath+"/"+fileName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("downloading release report %s for seller %s: %w", fileName, seller.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiError, parseErr := parseAPIError(resp)
		if parseErr != nil {
			return nil, fmt.Errorf("parsing API error: %w", parseErr)
		}
		return nil, fmt.Errorf("downloading release report %s for seller %s: %w", fileName, seller.ID, apiError)
	}

	rows, err := ParseReleaseReport(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing release report %s for seller %s: %w", fileName, seller.ID, err)
	}

	return rows, nil
}
