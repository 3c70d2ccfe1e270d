package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/microsim/utils/config"
	"gopkg.in/yaml.v2"
)

const sample = `
input:
  network: data/network.yaml
  demand: data/demand.yaml
control:
  step:
    start: 0
    total: 3600
  seed: 7
  end_when_empty: true
`

func TestDefaults(t *testing.T) {
	var c config.Config
	require.NoError(t, yaml.UnmarshalStrict([]byte(sample), &c))
	rc, err := config.NewRuntimeConfig(c)
	require.NoError(t, err)
	assert.Equal(t, 1.0, rc.C.Step.Interval)
	assert.Equal(t, 250.0, rc.C.Lookahead)
	assert.Equal(t, int32(300), rc.C.Insertion.MaxRetries)
	assert.Equal(t, config.RouterGraph, rc.C.Router)
	assert.Equal(t, config.PedestrianStriping, rc.C.PedestrianModel)
	assert.Equal(t, uint64(7), rc.C.Seed)
	assert.True(t, rc.C.EndWhenEmpty)
}

func TestMaxRetries(t *testing.T) {
	cases := []struct {
		in, want int32
	}{
		{0, 300},
		{5, 5},
		{-1, config.UnlimitedRetries},
		{-20, config.UnlimitedRetries},
	}
	for _, c := range cases {
		var cfg config.Config
		require.NoError(t, yaml.UnmarshalStrict([]byte(sample), &cfg))
		cfg.Control.Insertion.MaxRetries = c.in
		rc, err := config.NewRuntimeConfig(cfg)
		require.NoError(t, err)
		assert.Equal(t, c.want, rc.C.Insertion.MaxRetries, "max_retries %d", c.in)
	}
}

func TestInvalid(t *testing.T) {
	base := func() config.Config {
		var c config.Config
		require.NoError(t, yaml.UnmarshalStrict([]byte(sample), &c))
		return c
	}
	cases := map[string]func(c *config.Config){
		"zero total":      func(c *config.Config) { c.Control.Step.Total = 0 },
		"unknown router":  func(c *config.Config) { c.Control.Router = "astar" },
		"fiblab no map":   func(c *config.Config) { c.Control.Router = config.RouterFiblab },
		"unknown ped":     func(c *config.Config) { c.Control.PedestrianModel = "social-force" },
		"no network":      func(c *config.Config) { c.Input.Network = "" },
		"network and map": func(c *config.Config) { c.Input.Map = &config.InputPath{File: "m.pb"} },
		"negative tp":     func(c *config.Config) { c.Control.TeleportAfter = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(&c)
			_, err := config.NewRuntimeConfig(c)
			assert.ErrorIs(t, err, config.ErrInvalidConfig)
		})
	}
}

func TestStrictRejectsUnknownKey(t *testing.T) {
	var c config.Config
	err := yaml.UnmarshalStrict([]byte("control:\n  stepp: {}\n"), &c)
	assert.Error(t, err)
}
