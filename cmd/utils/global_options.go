package utils

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/crashtracker"
)

// GlobalOptionsType holds the global CLI options that apply to every command
// and subcommand.
type GlobalOptionsType struct {
	LogLevel    logrus.Level
	SentryDSN   string
	Environment string
	Version     string
	GitCommit   string
	DatabaseURL string
	BaseURL     string
	// OperationalZone is the fixed offset used for business-day arithmetic,
	// from the --operational-utc-offset option.
	OperationalZone *time.Location
}

// PopulateCrashTrackerOptions fills the crash tracker options from the global
// options. The Sentry DSN is only injected when the Sentry client is selected.
func (g GlobalOptionsType) PopulateCrashTrackerOptions(crashTrackerOptions *crashtracker.CrashTrackerOptions) {
	if crashTrackerOptions.CrashTrackerType == crashtracker.CrashTrackerTypeSentry {
		crashTrackerOptions.SentryDSN = g.SentryDSN
	}
	crashTrackerOptions.Environment = g.Environment
	crashTrackerOptions.GitCommit = g.GitCommit
}
