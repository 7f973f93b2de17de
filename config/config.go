// Package config defines ercoordctl's on-disk configuration: which
// named sets exist, what scheme each uses, where their group directory
// and files live, and the ambient logging/monitoring/control settings
// every job needs. Parsing follows the teacher's config package: YAML
// via go.yaml.in/yaml/v4, enum fields dispatched on a "type" key through
// a custom UnmarshalYAML, struct-tag validation via
// go-playground/validator/v10 with the validator reading the yaml tag
// name (not the Go field name) in error messages, and defaults applied
// with github.com/creasty/defaults before validation runs.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	yaml "go.yaml.in/yaml/v4"
)

// Config is the top-level ercoordctl configuration file.
type Config struct {
	Global *Global     `yaml:"global,omitempty"`
	Sets   []SetConfig `yaml:"sets" validate:"min=1,dive"`
}

// SetConfig describes one named, persistently-tracked set: what files
// it protects, under which scheme, and on what cadence the watch
// command should retry a rebuild if it finds the set CORRUPT.
type SetConfig struct {
	Name          string   `yaml:"name" validate:"required"`
	FailureDomain string   `yaml:"failure_domain,omitempty" default:"default"`
	DataBlocks    int      `yaml:"data_blocks" validate:"required,min=1"`
	ErasureBlocks int      `yaml:"erasure_blocks" validate:"min=0"`
	Files         []string `yaml:"files" validate:"required,min=1,dive,required"`
	RebuildCron   string   `yaml:"rebuild_cron,omitempty" default:"@every 5m"`
}

func (s *SetConfig) SetDefault() {
	if s.FailureDomain == "" {
		s.FailureDomain = "default"
	}
	if s.RebuildCron == "" {
		s.RebuildCron = "@every 5m"
	}
}

// Global holds settings shared by every set: where group-shared
// metadata lives, how it's logged, and how it's monitored.
type Global struct {
	GroupDir   string                 `yaml:"group_dir" validate:"required"`
	Logging    *LoggingOutletEnumList `yaml:"logging,omitempty" default:"[]"`
	Monitoring []MonitoringEnum       `yaml:"monitoring,omitempty" validate:"dive"`
	Control    *Control               `yaml:"control,omitempty"`
}

// Control holds the path of a local control socket. It is parsed and
// defaulted here; no ercoordctl command reads it.
type Control struct {
	SockPath string `yaml:"sockpath" default:"/var/run/ercoord/control"`
}

func NewGlobal() *Global {
	return &Global{GroupDir: "/var/lib/ercoord"}
}

// LoggingOutletEnumList defaults to a single human-formatted stdout
// outlet when the config file omits logging entirely.
type LoggingOutletEnumList []LoggingOutletEnum

func (l *LoggingOutletEnumList) SetDefault() {
	*l = []LoggingOutletEnum{{Ret: &StdoutLoggingOutlet{
		LoggingOutletCommon: LoggingOutletCommon{Type: "stdout", Level: "info", Format: "human"},
	}}}
}

type LoggingOutletEnum struct{ Ret any }

type LoggingOutletCommon struct {
	Type   string `yaml:"type" validate:"required"`
	Level  string `yaml:"level" validate:"required"`
	Format string `yaml:"format" validate:"required"`
}

type StdoutLoggingOutlet struct {
	LoggingOutletCommon `yaml:",inline"`
	Color               bool `yaml:"color" default:"true"`
}

type FileLoggingOutlet struct {
	LoggingOutletCommon `yaml:",inline"`
	FileName            string `yaml:"filename" validate:"required"`
}

type SyslogLoggingOutlet struct {
	LoggingOutletCommon `yaml:",inline"`
	Facility            string `yaml:"facility,omitempty" default:"local0"`
}

type MonitoringEnum struct{ Ret any }

type PrometheusMonitoring struct {
	Type   string `yaml:"type" validate:"required"`
	Listen string `yaml:"listen" validate:"required,hostname_port"`
}

type NagiosMonitoring struct {
	Type string `yaml:"type" validate:"required"`
}

func enumUnmarshal(value *yaml.Node, types map[string]any) (any, error) {
	var probe struct {
		Type string `yaml:"type"`
	}
	if err := value.Decode(&probe); err != nil {
		return nil, err
	}
	if probe.Type == "" {
		return nil, fmt.Errorf("must specify type")
	}
	v, ok := types[probe.Type]
	if !ok {
		return nil, fmt.Errorf("invalid type name %q", probe.Type)
	}
	if err := value.Decode(v); err != nil {
		return nil, err
	}
	return v, nil
}

func (t *LoggingOutletEnum) UnmarshalYAML(value *yaml.Node) (err error) {
	t.Ret, err = enumUnmarshal(value, map[string]any{
		"stdout": &StdoutLoggingOutlet{},
		"file":   &FileLoggingOutlet{},
		"syslog": &SyslogLoggingOutlet{},
	})
	return
}

func (t *MonitoringEnum) UnmarshalYAML(value *yaml.Node) (err error) {
	t.Ret, err = enumUnmarshal(value, map[string]any{
		"prometheus": &PrometheusMonitoring{},
		"nagios":     &NagiosMonitoring{},
	})
	return
}

// Env overlays environment variables on top of a parsed Config, for
// container deployments that prefer ERCOORD_* env vars to a file on
// disk — layered the same way the teacher's CLI layers config-file and
// flag-provided values, just via caarlos0/env instead of pflag binding.
type Env struct {
	GroupDir string `env:"ERCOORD_GROUP_DIR"`
}

func ParseConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return ParseConfigBytes(data)
}

func ParseConfigBytes(data []byte) (*Config, error) {
	c := &Config{Global: NewGlobal()}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := defaults.Set(c); err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}

	var envOverride Env
	if err := env.Parse(&envOverride); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}
	if envOverride.GroupDir != "" {
		c.Global.GroupDir = envOverride.GroupDir
	}

	if err := Validator().Struct(c); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return c, nil
}

func Validator() *validator.Validate {
	if validate == nil {
		validate = newValidator()
	}
	return validate
}

var validate *validator.Validate

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// RebuildInterval parses a SetConfig's RebuildCron "@every" shorthand
// into a time.Duration for callers that don't want to depend on the
// cron package just to know the retry cadence.
func (s *SetConfig) RebuildInterval() (time.Duration, error) {
	const prefix = "@every "
	if !strings.HasPrefix(s.RebuildCron, prefix) {
		return 0, fmt.Errorf("config: unsupported cron spec %q for RebuildInterval", s.RebuildCron)
	}
	return time.ParseDuration(strings.TrimPrefix(s.RebuildCron, prefix))
}
