package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/message"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

// AlertNotifier emails the operations inbox when reconciliation needs a
// human: dead jobs piling up, statement lines without a ledger entry, days
// that would not close. Sending is best effort; a down mail provider must
// never stall the pipeline, so failures are logged and dropped.
type AlertNotifier struct {
	MessengerClient message.MessengerClient
	OpsEmail        string
}

func NewAlertNotifier(messengerClient message.MessengerClient, opsEmail string) *AlertNotifier {
	return &AlertNotifier{MessengerClient: messengerClient, OpsEmail: opsEmail}
}

func (a *AlertNotifier) enabled() bool {
	return a != nil && a.MessengerClient != nil && a.OpsEmail != ""
}

func (a *AlertNotifier) send(ctx context.Context, title, body string) {
	if !a.enabled() {
		log.Ctx(ctx).Debugf("ops alert suppressed (no messenger configured): %s", title)
		return
	}
	err := a.MessengerClient.SendMessage(ctx, message.Message{
		ToEmail: a.OpsEmail,
		Title:   title,
		Body:    body,
	})
	if err != nil {
		log.Ctx(ctx).Errorf("sending ops alert %q: %v", title, err)
	}
}

// NotifyDeadJobs reports jobs that exhausted their attempts and need a
// manual requeue or a fix upstream.
func (a *AlertNotifier) NotifyDeadJobs(ctx context.Context, count int64, oldest *time.Time) {
	body := fmt.Sprintf("%d jobs are dead and will not retry on their own.", count)
	if oldest != nil {
		body += fmt.Sprintf(" Oldest has been waiting since %s.", oldest.Format(time.RFC3339))
	}
	body += "\n\nInspect /queue/dead and requeue with /queue/retry-all-dead once the cause is fixed."
	a.send(ctx, fmt.Sprintf("[reconciler] %d dead jobs", count), body)
}

// NotifyCoverageGap reports statement lines with no local counterpart.
func (a *AlertNotifier) NotifyCoverageGap(ctx context.Context, report *CoverageReport) {
	body := fmt.Sprintf("Seller %s: %s%% coverage for %s..%s, %d of %d statement lines unexplained.",
		report.SellerID, report.CoveragePercent, report.WindowFrom, report.WindowTo, report.Uncovered, report.TotalLines)
	if len(report.UncoveredSample) > 0 {
		body += "\n\nSample reference ids:\n" + strings.Join(report.UncoveredSample, "\n")
	}
	a.send(ctx, fmt.Sprintf("[reconciler] coverage gap for seller %s", report.SellerID), body)
}

// NotifyClosingFailure reports a seller-day that did not close.
func (a *AlertNotifier) NotifyClosingFailure(ctx context.Context, result *ClosingResult) {
	body := fmt.Sprintf("Seller %s, day %s did not close:\n%s",
		result.SellerID, result.Day, strings.Join(result.Reasons(), "\n"))
	a.send(ctx, fmt.Sprintf("[reconciler] day %s open for seller %s", result.Day, result.SellerID), body)
}

// NotifyPipelineFailure reports a nightly run that finished with failed steps.
func (a *AlertNotifier) NotifyPipelineFailure(ctx context.Context, report *PipelineReport) {
	failures := []string{}
	for _, seller := range report.Sellers {
		for _, step := range seller.Steps {
			if !step.OK {
				failures = append(failures, fmt.Sprintf("seller %s, step %s: %s", seller.SellerID, step.Name, step.Detail))
			}
		}
	}
	body := fmt.Sprintf("Nightly run for %s..%s finished with failures:\n\n%s",
		report.WindowFrom, report.WindowTo, strings.Join(failures, "\n"))
	a.send(ctx, "[reconciler] nightly run finished with failures", body)
}
