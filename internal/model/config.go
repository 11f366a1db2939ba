package model

import (
	"context"
	"fmt"
	"io"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"
	"github.com/spf13/viper"

	_ "embed"
)

const (
	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"

	DefaultTick        = 100 * time.Millisecond
	DefaultFailureRate = 0.02
	DefaultJobsFile    = "jobs.json"
	DefaultNATSSubject = "factory.machine"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

type Config struct {
	Version int     `json:"version" yaml:"version"` // fixed 0 for now
	Machine Machine `json:"machine" yaml:"machine"`
	Store   Store   `json:"store" yaml:"store"`
	Service Service `json:"service" yaml:"service"`
	Events  Events  `json:"events" yaml:"events"`
}

// Machine tunes the production loop.
type Machine struct {
	Tick        string  `json:"tick,omitempty" yaml:"tick,omitempty"` // Go duration, e.g. 100ms
	FailureRate float64 `json:"failure_rate" yaml:"failure_rate"`     // per tick, 0..1
}

// Store says where the job file lives.
type Store struct {
	Dir  string `json:"dir,omitempty" yaml:"dir,omitempty"`
	File string `json:"file,omitempty" yaml:"file,omitempty"`
}

type Service struct {
	Verbose bool    `json:"verbose" yaml:"verbose"`
	Log     string  `json:"log,omitempty" yaml:"log,omitempty"` // "stderr"|"stdout"|"discard"
	Report  *Report `json:"report,omitempty" yaml:"report,omitempty"`
}

// Report schedules periodic machine status reports. Exactly one of the
// fields is set.
type Report struct {
	Cron     string `json:"cron,omitempty" yaml:"cron,omitempty"`
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"` // ISO8601, e.g. PT1M
}

type Events struct {
	NATS *NATS `json:"nats,omitempty" yaml:"nats,omitempty"`
}

type NATS struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	URL     string `json:"url" yaml:"url"`
	Subject string `json:"subject" yaml:"subject"`
}

// TickDuration returns the configured tick or DefaultTick.
func (m Machine) TickDuration() (time.Duration, error) {
	if m.Tick == "" {
		return DefaultTick, nil
	}
	d, err := time.ParseDuration(m.Tick)
	if err != nil {
		return 0, fmt.Errorf("parsing machine.tick: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("machine.tick must be positive, got %s", d)
	}
	return d, nil
}

// DefaultConfig is written to disk when no config file exists.
func DefaultConfig(_ context.Context) Config {
	return Config{
		Version: 0,
		Machine: Machine{
			Tick:        DefaultTick.String(),
			FailureRate: DefaultFailureRate,
		},
		Store: Store{
			Dir:  ".",
			File: DefaultJobsFile,
		},
		Service: Service{
			Log: LogStderr,
		},
		Events: Events{
			NATS: &NATS{
				Enabled: false,
				URL:     "nats://127.0.0.1:4222",
				Subject: DefaultNATSSubject,
			},
		},
	}
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
// Omitted sections get the values from DefaultConfig, except failure_rate
// which is taken as given when the machine section sets a tick.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("factory.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),
		cue.Concrete(true),
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}
	hasRate := unified.LookupPath(cue.ParsePath("machine.failure_rate")).Exists()
	out.applyDefaults(hasRate)
	return out, nil
}

func (c *Config) applyDefaults(hasRate bool) {
	dflt := DefaultConfig(context.Background())
	if c.Machine.Tick == "" {
		c.Machine.Tick = dflt.Machine.Tick
	}
	if !hasRate {
		c.Machine.FailureRate = dflt.Machine.FailureRate
	}
	if c.Store.Dir == "" {
		c.Store.Dir = dflt.Store.Dir
	}
	if c.Store.File == "" {
		c.Store.File = dflt.Store.File
	}
	if c.Service.Log == "" {
		c.Service.Log = dflt.Service.Log
	}
}

// Override applies values set in v (flags bound to it or FACTORY_* env
// variables) on top of the loaded file.
func (c *Config) Override(v *viper.Viper) {
	if v.IsSet("verbose") && v.GetBool("verbose") {
		c.Service.Verbose = true
	}
	if v.IsSet("tick") && v.GetString("tick") != "" {
		c.Machine.Tick = v.GetString("tick")
	}
	if v.IsSet("failure_rate") {
		c.Machine.FailureRate = v.GetFloat64("failure_rate")
	}
	if v.IsSet("store_dir") && v.GetString("store_dir") != "" {
		c.Store.Dir = v.GetString("store_dir")
	}
	if v.IsSet("nats_url") && v.GetString("nats_url") != "" {
		if c.Events.NATS == nil {
			c.Events.NATS = &NATS{Subject: DefaultNATSSubject}
		}
		c.Events.NATS.Enabled = true
		c.Events.NATS.URL = v.GetString("nats_url")
	}
}
