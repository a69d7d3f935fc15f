package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/pkg/errors"

	"github.com/tsmigrate/tsm/pkg/logger"
)

type TransmissionConfiguration struct {
	// Compat29x writes <caption>.<hash16> base names for Transmission 2.9x.
	Compat29x bool
	// WriteFiles emits the optional resume "files" list of absolute paths.
	WriteFiles bool
}

type Configuration struct {
	MaxThreads   int
	NoBackup     bool
	DryRun       bool
	Filter       string
	LogPath      string
	Transmission TransmissionConfiguration
}

/* Vars */

var (
	cfgPath = ""

	Delimiter = "."
	Config    *Configuration
	K         = koanf.New(Delimiter)

	// Internal
	log = logger.GetLogger("cfg")
)

/* Public */

func Init(configFilePath string) error {
	// set package variables
	cfgPath = configFilePath

	Config = &Configuration{}

	// load config file when present
	if configFilePath != "" {
		if _, err := os.Stat(configFilePath); err == nil {
			if err := K.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
				return errors.Wrap(err, "load file")
			}
		}
	}

	// load environment variables
	if err := K.Load(env.Provider("TSM__", Delimiter, func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "TSM__")), "_", Delimiter, -1)
	}), nil); err != nil {
		return errors.Wrap(err, "load env")
	}

	// unmarshal config
	if err := K.Unmarshal("", &Config); err != nil {
		return errors.Wrap(err, "unmarshal")
	}

	return nil
}

func ShowUsing() {
	if cfgPath != "" {
		log.Infof("Using CONFIG = %q", cfgPath)
	}
}
