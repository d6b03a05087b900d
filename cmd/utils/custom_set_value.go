package utils

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/crashtracker"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/message"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/monitor"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/config"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

func SetConfigOptionLogLevel(co *config.ConfigOption) error {
	// parse string to logLevel object
	logLevelStr := viper.GetString(co.Name)
	logLevel, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		return fmt.Errorf("couldn't parse log level: %w", err)
	}

	// update the configKey
	key, ok := co.ConfigKey.(*logrus.Level)
	if !ok {
		return fmt.Errorf("configKey has an invalid type %T", co.ConfigKey)
	}
	*key = logLevel

	// Log for debugging
	if config.IsExplicitlySet(co) {
		log.Debugf("Setting log level to: %q", logLevel)
		log.SetLevel(*key)
	} else {
		log.Debugf("Using default log level: %q", logLevel)
	}
	return nil
}

func SetConfigOptionMetricType(co *config.ConfigOption) error {
	metricType := viper.GetString(co.Name)

	metricTypeParsed, err := monitor.ParseMetricType(metricType)
	if err != nil {
		return fmt.Errorf("couldn't parse metric type: %w", err)
	}

	*(co.ConfigKey.(*monitor.MetricType)) = metricTypeParsed
	return nil
}

func SetConfigOptionCrashTrackerType(co *config.ConfigOption) error {
	ctType := viper.GetString(co.Name)

	ctTypeParsed, err := crashtracker.ParseCrashTrackerType(ctType)
	if err != nil {
		return fmt.Errorf("couldn't parse crash tracker type: %w", err)
	}

	*(co.ConfigKey.(*crashtracker.CrashTrackerType)) = ctTypeParsed
	return nil
}

func SetConfigOptionMessengerType(co *config.ConfigOption) error {
	senderType := viper.GetString(co.Name)

	messengerType, err := message.ParseMessengerType(senderType)
	if err != nil {
		return fmt.Errorf("couldn't parse messenger type: %w", err)
	}

	*(co.ConfigKey.(*message.MessengerType)) = messengerType
	return nil
}

func SetCorsAllowedOrigins(co *config.ConfigOption) error {
	corsAllowedOriginsOptions := viper.GetString(co.Name)

	if corsAllowedOriginsOptions == "" {
		return fmt.Errorf("cors allowed addresses cannot be empty")
	}

	corsAllowedOrigins := strings.Split(corsAllowedOriginsOptions, ",")

	// validate addresses
	for _, address := range corsAllowedOrigins {
		if address == "*" {
			log.Warn(`The value "*" for the CORS Allowed Origins is too permissive and not recommended.`)
			continue
		}
		_, err := url.ParseRequestURI(address)
		if err != nil {
			return fmt.Errorf("error parsing cors addresses: %w", err)
		}
	}

	key, ok := co.ConfigKey.(*[]string)
	if !ok {
		return fmt.Errorf("the expected type for this config key is a string slice, but got a %T instead", co.ConfigKey)
	}
	*key = corsAllowedOrigins

	return nil
}

func SetConfigOptionURLString(co *config.ConfigOption) error {
	u := viper.GetString(co.Name)

	if u == "" {
		return fmt.Errorf("%s cannot be empty", co.Name)
	}

	_, err := url.ParseRequestURI(u)
	if err != nil {
		return fmt.Errorf("error parsing %s: %w", co.Name, err)
	}

	key, ok := co.ConfigKey.(*string)
	if !ok {
		return fmt.Errorf("the expected type for this config key is a string, but got a %T instead", co.ConfigKey)
	}
	*key = u

	return nil
}

// SetConfigOptionUTCOffset parses a fixed offset in the "-03:00" form and
// points the operational clock at it. All business-day arithmetic (statement
// windows, settlement catch-up, closing attestations) runs in this zone.
func SetConfigOptionUTCOffset(co *config.ConfigOption) error {
	offsetStr := viper.GetString(co.Name)

	parsed, err := time.Parse("-07:00", offsetStr)
	if err != nil {
		return fmt.Errorf("invalid UTC offset %q, expected something like -03:00: %w", offsetStr, err)
	}
	_, offsetSeconds := parsed.Zone()
	zone := time.FixedZone("UTC"+offsetStr, offsetSeconds)

	key, ok := co.ConfigKey.(**time.Location)
	if !ok {
		return fmt.Errorf("the expected type for this config key is a location pointer, but got a %T instead", co.ConfigKey)
	}
	*key = zone

	if config.IsExplicitlySet(co) {
		log.Debugf("Setting operational zone to: %q", zone)
		utils.OperationalZone = zone
	}
	return nil
}

// SetConfigOptionOperationalHour validates an hour-of-day option, used for
// the settlement and pipeline start hours.
func SetConfigOptionOperationalHour(co *config.ConfigOption) error {
	hour := viper.GetInt(co.Name)

	if hour < 0 || hour > 23 {
		return fmt.Errorf("%s must be between 0 and 23, got %d", co.Name, hour)
	}

	key, ok := co.ConfigKey.(*int)
	if !ok {
		return fmt.Errorf("the expected type for this config key is an int, but got a %T instead", co.ConfigKey)
	}
	*key = hour

	return nil
}

// SetConfigOptionAPIKeyPermissions parses a comma-separated permission list
// into typed API key permissions, validating each against the known set.
func SetConfigOptionAPIKeyPermissions(co *config.ConfigOption) error {
	permissionsStr := viper.GetString(co.Name)

	if strings.TrimSpace(permissionsStr) == "" {
		return fmt.Errorf("api key permissions cannot be empty")
	}

	var permissions []data.APIKeyPermission
	for _, p := range strings.Split(permissionsStr, ",") {
		permissions = append(permissions, data.APIKeyPermission(strings.TrimSpace(p)))
	}
	if err := data.ValidatePermissions(permissions); err != nil {
		return fmt.Errorf("validating api key permissions: %w", err)
	}

	key, ok := co.ConfigKey.(*[]data.APIKeyPermission)
	if !ok {
		return fmt.Errorf("the expected type for this config key is a permission slice, but got a %T instead", co.ConfigKey)
	}
	*key = permissions

	return nil
}
