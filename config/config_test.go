package config

import (
	"path"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleConfigsAreParsedWithoutErrors(t *testing.T) {
	paths, err := filepath.Glob("./samples/*")
	if err != nil {
		t.Errorf("glob failed: %+v", err)
	}

	for _, p := range paths {
		if path.Ext(p) != ".yml" {
			t.Logf("skipping file %s", p)
			continue
		}

		t.Run(p, func(t *testing.T) {
			c, err := ParseConfig(p)
			if err != nil {
				t.Errorf("error parsing %s:\n%+v", p, err)
			}
			t.Logf("file: %s", p)
			t.Logf("%#v", c)
		})
	}
}

func testValidConfig(t *testing.T, input string) *Config {
	t.Helper()
	conf, err := ParseConfigBytes([]byte(input))
	require.NoError(t, err)
	require.NotNil(t, conf)
	return conf
}

func TestEmptyConfig(t *testing.T) {
	cases := []string{
		"",
		"\n",
		"---",
		"---\n",
	}
	for _, input := range cases {
		_, err := ParseConfigBytes([]byte(input))
		t.Log(err)
		require.Error(t, err)
	}
}

func TestMinimalSet(t *testing.T) {
	c := testValidConfig(t, `
global:
  group_dir: /var/lib/ercoord
sets:
  - name: "checkpoints"
    data_blocks: 3
    erasure_blocks: 1
    files:
      - "ckpt.0"
`)

	require.Len(t, c.Sets, 1)
	s := c.Sets[0]
	assert.Equal(t, "checkpoints", s.Name)
	assert.Equal(t, "default", s.FailureDomain)
	assert.Equal(t, "@every 5m", s.RebuildCron)
}

func TestSetOverridesDefaults(t *testing.T) {
	c := testValidConfig(t, `
global:
  group_dir: /var/lib/ercoord
sets:
  - name: "checkpoints"
    failure_domain: "rack"
    data_blocks: 4
    erasure_blocks: 2
    files:
      - "ckpt.0"
      - "ckpt.1"
    rebuild_cron: "@every 30s"
`)

	require.Len(t, c.Sets, 1)
	s := c.Sets[0]
	assert.Equal(t, "rack", s.FailureDomain)
	assert.Equal(t, 4, s.DataBlocks)
	assert.Equal(t, 2, s.ErasureBlocks)
	assert.Len(t, s.Files, 2)

	d, err := s.RebuildInterval()
	require.NoError(t, err)
	assert.Equal(t, "30s", d.String())
}

func TestSetRequiresAtLeastOneFile(t *testing.T) {
	_, err := ParseConfigBytes([]byte(`
global:
  group_dir: /var/lib/ercoord
sets:
  - name: "checkpoints"
    data_blocks: 3
    files: []
`))
	require.Error(t, err)
}

func TestLoggingOutletDefaultsToStdout(t *testing.T) {
	c := testValidConfig(t, `
global:
  group_dir: /var/lib/ercoord
sets:
  - name: "checkpoints"
    data_blocks: 1
    files:
      - "ckpt.0"
`)

	require.NotNil(t, c.Global.Logging)
	require.Len(t, *c.Global.Logging, 1)
	outlet, ok := (*c.Global.Logging)[0].Ret.(*StdoutLoggingOutlet)
	require.True(t, ok)
	assert.Equal(t, "info", outlet.Level)
}

func TestMonitoringEnum(t *testing.T) {
	c := testValidConfig(t, `
global:
  group_dir: /var/lib/ercoord
  monitoring:
    - type: "prometheus"
      listen: ":9090"
sets:
  - name: "checkpoints"
    data_blocks: 1
    files:
      - "ckpt.0"
`)

	require.Len(t, c.Global.Monitoring, 1)
	prom, ok := c.Global.Monitoring[0].Ret.(*PrometheusMonitoring)
	require.True(t, ok)
	assert.Equal(t, ":9090", prom.Listen)
}

func TestEnvOverridesGroupDir(t *testing.T) {
	t.Setenv("ERCOORD_GROUP_DIR", "/mnt/ercoord")
	c := testValidConfig(t, `
global:
  group_dir: /var/lib/ercoord
sets:
  - name: "checkpoints"
    data_blocks: 1
    files:
      - "ckpt.0"
`)
	assert.Equal(t, "/mnt/ercoord", c.Global.GroupDir)
}
