package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/message"
)

func Test_AlertNotifier_disabledNotifiersDropAlerts(t *testing.T) {
	ctx := context.Background()

	// None of these may panic or send anything.
	var nilNotifier *AlertNotifier
	nilNotifier.NotifyDeadJobs(ctx, 3, nil)

	NewAlertNotifier(nil, "ops@test.com").NotifyDeadJobs(ctx, 3, nil)

	messengerMock := &message.MessengerClientMock{}
	NewAlertNotifier(messengerMock, "").NotifyDeadJobs(ctx, 3, nil)
	messengerMock.AssertNotCalled(t, "SendMessage")
}

func Test_AlertNotifier_NotifyDeadJobs(t *testing.T) {
	ctx := context.Background()

	t.Run("🎉 sends the dead-job alert with the oldest age", func(t *testing.T) {
		messengerMock := &message.MessengerClientMock{}
		oldest := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
		messengerMock.
			On("SendMessage", ctx, mock.MatchedBy(func(m message.Message) bool {
				return m.ToEmail == "ops@test.com" &&
					m.Title == "[reconciler] 4 dead jobs" &&
					strings.Contains(m.Body, "4 jobs are dead and will not retry on their own.") &&
					strings.Contains(m.Body, "2026-02-10T12:00:00Z") &&
					strings.Contains(m.Body, "/queue/retry-all-dead")
			})).
			Return(nil).
			Once()

		NewAlertNotifier(messengerMock, "ops@test.com").NotifyDeadJobs(ctx, 4, &oldest)
		messengerMock.AssertExpectations(t)
	})

	t.Run("a failing messenger is logged and dropped", func(t *testing.T) {
		messengerMock := &message.MessengerClientMock{}
		messengerMock.
			On("SendMessage", ctx, mock.Anything).
			Return(errors.New("smtp relay down")).
			Once()

		NewAlertNotifier(messengerMock, "ops@test.com").NotifyDeadJobs(ctx, 1, nil)
		messengerMock.AssertExpectations(t)
	})
}

func Test_AlertNotifier_NotifyCoverageGap(t *testing.T) {
	ctx := context.Background()

	messengerMock := &message.MessengerClientMock{}
	messengerMock.
		On("SendMessage", ctx, mock.MatchedBy(func(m message.Message) bool {
			return m.Title == "[reconciler] coverage gap for seller gap-seller" &&
				strings.Contains(m.Body, "75% coverage for 2026-02-01..2026-02-03") &&
				strings.Contains(m.Body, "2 of 8 statement lines unexplained") &&
				strings.Contains(m.Body, "900100\n900200")
		})).
		Return(nil).
		Once()

	NewAlertNotifier(messengerMock, "ops@test.com").NotifyCoverageGap(ctx, &CoverageReport{
		SellerID:        "gap-seller",
		WindowFrom:      "2026-02-01",
		WindowTo:        "2026-02-03",
		TotalLines:      8,
		Uncovered:       2,
		CoveragePercent: decimal.NewFromInt(75),
		UncoveredSample: []string{"900100", "900200"},
	})
	messengerMock.AssertExpectations(t)
}

func Test_AlertNotifier_NotifyClosingFailure(t *testing.T) {
	ctx := context.Background()

	messengerMock := &message.MessengerClientMock{}
	messengerMock.
		On("SendMessage", ctx, mock.MatchedBy(func(m message.Message) bool {
			return m.Title == "[reconciler] day 2026-02-10 open for seller close-seller" &&
				strings.Contains(m.Body, "2 payments not synced") &&
				strings.Contains(m.Body, "1 dead jobs")
		})).
		Return(nil).
		Once()

	NewAlertNotifier(messengerMock, "ops@test.com").NotifyClosingFailure(ctx, &ClosingResult{
		SellerID:         "close-seller",
		Day:              "2026-02-10",
		UnsyncedPayments: 2,
		DeadJobs:         1,
	})
	messengerMock.AssertExpectations(t)
}
