package model_test

import (
	"strings"
	"testing"
	"time"

	"github.com/CZERTAINLY/Factory/internal/model"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	const full = `
version: 0
machine:
    tick: 250ms
    failure_rate: 0
store:
    dir: /var/lib/factory
    file: line1.json
service:
    verbose: true
    log: discard
    report:
        duration: PT30S
events:
    nats:
        enabled: true
        url: nats://nats:4222
        subject: plant.line1
`
	cfg, err := model.LoadConfig(strings.NewReader(full))
	require.NoError(t, err)
	require.Equal(t, model.Config{
		Version: 0,
		Machine: model.Machine{Tick: "250ms", FailureRate: 0},
		Store:   model.Store{Dir: "/var/lib/factory", File: "line1.json"},
		Service: model.Service{
			Verbose: true,
			Log:     model.LogDiscard,
			Report:  &model.Report{Duration: "PT30S"},
		},
		Events: model.Events{
			NATS: &model.NATS{Enabled: true, URL: "nats://nats:4222", Subject: "plant.line1"},
		},
	}, cfg)

	tick, err := cfg.Machine.TickDuration()
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, tick)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := model.LoadConfig(strings.NewReader("version: 0\n"))
	require.NoError(t, err)
	require.Equal(t, model.DefaultTick.String(), cfg.Machine.Tick)
	require.Equal(t, model.DefaultFailureRate, cfg.Machine.FailureRate)
	require.Equal(t, ".", cfg.Store.Dir)
	require.Equal(t, model.DefaultJobsFile, cfg.Store.File)
	require.Equal(t, model.LogStderr, cfg.Service.Log)
	require.Nil(t, cfg.Service.Report)
	require.Nil(t, cfg.Events.NATS)
}

func TestLoadConfigInvalid(t *testing.T) {
	t.Parallel()

	var testCases = []struct {
		scenario string
		given    string
	}{
		{"wrong version", "version: 1\n"},
		{"failure rate above one", "version: 0\nmachine:\n    failure_rate: 1.5\n"},
		{"bad tick", "version: 0\nmachine:\n    tick: soon\n"},
		{"unknown field", "version: 0\nmachine:\n    speed: 3\n"},
		{"unknown log", "version: 0\nservice:\n    log: syslog\n"},
		{"nats without url", "version: 0\nevents:\n    nats:\n        subject: x\n"},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			_, err := model.LoadConfig(strings.NewReader(tt.given))
			require.Error(t, err)
			details := model.CueErrDetails(err)
			require.NotEmpty(t, details)
			for _, d := range details {
				require.NotEmpty(t, d.Code)
				require.NotEmpty(t, d.String())
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := model.DefaultConfig(t.Context())
	tick, err := cfg.Machine.TickDuration()
	require.NoError(t, err)
	require.Equal(t, model.DefaultTick, tick)
	require.NotNil(t, cfg.Events.NATS)
	require.False(t, cfg.Events.NATS.Enabled)
}

func TestTickDuration(t *testing.T) {
	t.Parallel()

	d, err := model.Machine{}.TickDuration()
	require.NoError(t, err)
	require.Equal(t, model.DefaultTick, d)

	_, err = model.Machine{Tick: "0s"}.TickDuration()
	require.Error(t, err)
	_, err = model.Machine{Tick: "fast"}.TickDuration()
	require.Error(t, err)
}

func TestConfigOverride(t *testing.T) {
	t.Parallel()

	cfg := model.DefaultConfig(t.Context())
	v := viper.New()
	cfg.Override(v)
	require.Equal(t, model.DefaultConfig(t.Context()), cfg)

	v.Set("verbose", true)
	v.Set("tick", "5ms")
	v.Set("failure_rate", 0.5)
	v.Set("store_dir", "/tmp/jobs")
	v.Set("nats_url", "nats://127.0.0.1:4333")
	cfg.Override(v)

	require.True(t, cfg.Service.Verbose)
	require.Equal(t, "5ms", cfg.Machine.Tick)
	require.Equal(t, 0.5, cfg.Machine.FailureRate)
	require.Equal(t, "/tmp/jobs", cfg.Store.Dir)
	require.True(t, cfg.Events.NATS.Enabled)
	require.Equal(t, "nats://127.0.0.1:4333", cfg.Events.NATS.URL)
	require.Equal(t, model.DefaultNATSSubject, cfg.Events.NATS.Subject)
}
