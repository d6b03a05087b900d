package utils

import (
	"fmt"
	"go/types"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/crashtracker"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/message"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/config"
)

// MarketplaceAPIOptions carries the marketplace application credentials shared
// by every command that talks to the marketplace API.
type MarketplaceAPIOptions struct {
	AuthURL      string
	APIBaseURL   string
	ClientID     string
	ClientSecret string
}

// MarketplaceConfigOptions returns the config options for the marketplace
// API: `MARKETPLACE_*`.
func MarketplaceConfigOptions(opts *MarketplaceAPIOptions) []*config.ConfigOption {
	return []*config.ConfigOption{
		{
			Name:           "marketplace-auth-url",
			Usage:          "The URL of the marketplace OAuth token endpoint, used to refresh per-seller tokens.",
			OptType:        types.String,
			CustomSetValue: SetConfigOptionURLString,
			ConfigKey:      &opts.AuthURL,
			Required:       true,
		},
		{
			Name:           "marketplace-api-base-url",
			Usage:          "The base URL of the marketplace REST API.",
			OptType:        types.String,
			CustomSetValue: SetConfigOptionURLString,
			ConfigKey:      &opts.APIBaseURL,
			Required:       true,
		},
		{
			Name:      "marketplace-client-id",
			Usage:     "The client ID of the marketplace application all sellers authorized.",
			OptType:   types.String,
			ConfigKey: &opts.ClientID,
			Required:  true,
		},
		{
			Name:      "marketplace-client-secret",
			Usage:     "The client secret of the marketplace application.",
			OptType:   types.String,
			ConfigKey: &opts.ClientSecret,
			Required:  true,
		},
	}
}

// ERPAPIOptions carries the ERP credentials shared by every command that
// posts to or reads from the ERP.
type ERPAPIOptions struct {
	AuthURL          string
	APIBaseURL       string
	ClientID         string
	ClientSecret     string
	SeedRefreshToken string
}

// ERPConfigOptions returns the config options for the ERP API: `ERP_*`.
func ERPConfigOptions(opts *ERPAPIOptions) []*config.ConfigOption {
	return []*config.ConfigOption{
		{
			Name:           "erp-auth-url",
			Usage:          "The URL of the ERP identity provider's token endpoint.",
			OptType:        types.String,
			CustomSetValue: SetConfigOptionURLString,
			ConfigKey:      &opts.AuthURL,
			Required:       true,
		},
		{
			Name:           "erp-api-base-url",
			Usage:          "The base URL of the ERP REST API.",
			OptType:        types.String,
			CustomSetValue: SetConfigOptionURLString,
			ConfigKey:      &opts.APIBaseURL,
			Required:       true,
		},
		{
			Name:      "erp-client-id",
			Usage:     "The client ID of the ERP integration.",
			OptType:   types.String,
			ConfigKey: &opts.ClientID,
			Required:  true,
		},
		{
			Name:      "erp-client-secret",
			Usage:     "The client secret of the ERP integration.",
			OptType:   types.String,
			ConfigKey: &opts.ClientSecret,
			Required:  true,
		},
		{
			Name: "erp-seed-refresh-token",
			Usage: "A refresh token used to bootstrap the ERP token row on first boot. " +
				"Ignored once a token has been persisted.",
			OptType:   types.String,
			ConfigKey: &opts.SeedRefreshToken,
			Required:  false,
		},
	}
}

// AWSConfigOptions returns the config options for AWS SES, used by the ops
// alert messenger: `AWS_*`.
func AWSConfigOptions(opts *message.MessengerOptions) []*config.ConfigOption {
	return []*config.ConfigOption{
		{
			Name:      "aws-access-key-id",
			Usage:     "The AWS access key ID",
			OptType:   types.String,
			ConfigKey: &opts.AWSAccessKeyID,
			Required:  false,
		},
		{
			Name:      "aws-secret-access-key",
			Usage:     "The AWS secret access key",
			OptType:   types.String,
			ConfigKey: &opts.AWSSecretAccessKey,
			Required:  false,
		},
		{
			Name:      "aws-region",
			Usage:     "The AWS region",
			OptType:   types.String,
			ConfigKey: &opts.AWSRegion,
			Required:  false,
		},
		{
			Name:      "aws-ses-sender-id",
			Usage:     "The email address that AWS will use to send the ops alerts. Uses AWS SES.",
			OptType:   types.String,
			ConfigKey: &opts.AWSSESSenderID,
			Required:  false,
		},
	}
}

// AlertOptions selects the messenger the ops alerts go out through and who
// receives them.
type AlertOptions struct {
	EmailSenderType message.MessengerType
	OpsEmail        string
}

// AlertConfigOptions returns the config options for the ops alert emails sent
// when the nightly pipeline finds dead jobs or a closing fails.
func AlertConfigOptions(opts *AlertOptions) []*config.ConfigOption {
	return []*config.ConfigOption{
		{
			Name:           "email-sender-type",
			Usage:          fmt.Sprintf("Email Sender Type. Options: %+v", message.MessengerType("").ValidEmailTypes()),
			OptType:        types.String,
			CustomSetValue: SetConfigOptionMessengerType,
			ConfigKey:      &opts.EmailSenderType,
			FlagDefault:    string(message.MessengerTypeDryRun),
			Required:       true,
		},
		{
			Name:      "ops-alert-email-address",
			Usage:     "The email address the operational alerts are sent to. When empty, alerts are only logged.",
			OptType:   types.String,
			ConfigKey: &opts.OpsEmail,
			Required:  false,
		},
	}
}

func CrashTrackerTypeConfigOption(targetPointer interface{}) *config.ConfigOption {
	return &config.ConfigOption{
		Name:           "crash-tracker-type",
		Usage:          `Crash tracker type. Options: "SENTRY", "DRY_RUN"`,
		OptType:        types.String,
		CustomSetValue: SetConfigOptionCrashTrackerType,
		ConfigKey:      targetPointer,
		FlagDefault:    string(crashtracker.CrashTrackerTypeDryRun),
		Required:       true,
	}
}
