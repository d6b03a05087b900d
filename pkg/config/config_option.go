// Package config implements the declarative ConfigOption idiom used by every
// command in this repo: each option maps one cobra flag plus one environment
// variable (upper-snake of the flag name) onto a typed destination, with an
// optional custom setter for values that need parsing or validation.
package config

import (
	"fmt"
	"go/types"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

// CustomSetValue parses the raw viper value for the option into its
// ConfigKey. It runs instead of the default typed assignment.
type CustomSetValue func(co *ConfigOption) error

// ConfigOption declares a single configuration knob.
type ConfigOption struct {
	// Name is the flag name, e.g. "database-url". The bound environment
	// variable is DATABASE_URL.
	Name  string
	Usage string
	// OptType selects the flag type. Supported: types.String, types.Int,
	// types.Bool.
	OptType types.BasicKind
	// ConfigKey points at the destination the value is written into.
	ConfigKey      interface{}
	CustomSetValue CustomSetValue
	FlagDefault    interface{}
	Required       bool

	flag *pflag.Flag
}

// ConfigOptions is the set of options a command accepts.
type ConfigOptions []*ConfigOption

// Init registers every option as a persistent flag on cmd and binds it to
// viper and its environment variable.
func (cos ConfigOptions) Init(cmd *cobra.Command) error {
	for _, co := range cos {
		if err := co.init(cmd); err != nil {
			return fmt.Errorf("initializing config option %q: %w", co.Name, err)
		}
	}
	return nil
}

func (co *ConfigOption) init(cmd *cobra.Command) error {
	flags := cmd.PersistentFlags()

	switch co.OptType {
	case types.String:
		defaultValue, _ := co.FlagDefault.(string)
		flags.String(co.Name, defaultValue, co.UsageText())
	case types.Int:
		defaultValue, _ := co.FlagDefault.(int)
		flags.Int(co.Name, defaultValue, co.UsageText())
	case types.Bool:
		defaultValue, _ := co.FlagDefault.(bool)
		flags.Bool(co.Name, defaultValue, co.UsageText())
	default:
		return fmt.Errorf("unsupported option type %v", co.OptType)
	}

	co.flag = flags.Lookup(co.Name)
	if err := viper.BindPFlag(co.Name, co.flag); err != nil {
		return fmt.Errorf("binding flag: %w", err)
	}
	if err := viper.BindEnv(co.Name, co.EnvVarName()); err != nil {
		return fmt.Errorf("binding env var: %w", err)
	}
	return nil
}

// EnvVarName returns the environment variable bound to the option.
func (co *ConfigOption) EnvVarName() string {
	return strings.ToUpper(strings.ReplaceAll(co.Name, "-", "_"))
}

// UsageText is the flag usage shown in --help, with the bound environment
// variable appended.
func (co *ConfigOption) UsageText() string {
	return fmt.Sprintf("%s (%s)", co.Usage, co.EnvVarName())
}

// Require fatals when a required option resolved to an empty value. It runs
// after flag parsing, in PersistentPreRun.
func (cos ConfigOptions) Require() {
	for _, co := range cos {
		if co.Required && viper.GetString(co.Name) == "" {
			log.Fatalf("Missing config: %s is required. Set the --%s flag or the %s environment variable.", co.Name, co.Name, co.EnvVarName())
		}
	}
}

// SetValues writes each option's resolved value into its ConfigKey, running
// the CustomSetValue hook when one is declared.
func (cos ConfigOptions) SetValues() error {
	for _, co := range cos {
		if err := co.setValue(); err != nil {
			return fmt.Errorf("setting value of config option %q: %w", co.Name, err)
		}
	}
	return nil
}

func (co *ConfigOption) setValue() error {
	if co.CustomSetValue != nil {
		return co.CustomSetValue(co)
	}
	if co.ConfigKey == nil {
		return nil
	}

	switch co.OptType {
	case types.String:
		key, ok := co.ConfigKey.(*string)
		if !ok {
			return fmt.Errorf("expected *string config key, got %T", co.ConfigKey)
		}
		*key = viper.GetString(co.Name)
	case types.Int:
		key, ok := co.ConfigKey.(*int)
		if !ok {
			return fmt.Errorf("expected *int config key, got %T", co.ConfigKey)
		}
		*key = viper.GetInt(co.Name)
	case types.Bool:
		key, ok := co.ConfigKey.(*bool)
		if !ok {
			return fmt.Errorf("expected *bool config key, got %T", co.ConfigKey)
		}
		*key = viper.GetBool(co.Name)
	default:
		return fmt.Errorf("unsupported option type %v", co.OptType)
	}
	return nil
}

// IsExplicitlySet reports whether the option was provided by flag or
// environment, as opposed to falling back to its default.
func IsExplicitlySet(co *ConfigOption) bool {
	if co.flag != nil && co.flag.Changed {
		return true
	}
	_, ok := os.LookupEnv(co.EnvVarName())
	return ok
}
