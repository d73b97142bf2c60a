package usagestats

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tracklane/tracklane/internal/config"
	"go.uber.org/zap"
)

func TestNewPusherDisabledOutsideCloudMode(t *testing.T) {
	pusher := NewPusher(config.Config{
		Mode: config.ModeOSS,
		Cloud: config.CloudConfig{
			Metrics: config.CloudMetricsConfig{
				Enabled:  true,
				Exporter: "prometheus_remote_write",
				Endpoint: "https://metrics.example.com/api/v1/write",
			},
		},
	}, zap.NewNop())

	assert.Nil(t, pusher)
}

func TestNewPusherRequiresEndpoint(t *testing.T) {
	pusher := NewPusher(config.Config{
		Mode: config.ModeCloud,
		Cloud: config.CloudConfig{
			Metrics: config.CloudMetricsConfig{
				Enabled:  true,
				Exporter: "prometheus_remote_write",
			},
		},
	}, zap.NewNop())

	assert.Nil(t, pusher)
}

func TestNewPusherSelectsExporter(t *testing.T) {
	remote := NewPusher(config.Config{
		Mode: config.ModeCloud,
		Cloud: config.CloudConfig{
			Metrics: config.CloudMetricsConfig{
				Enabled:  true,
				Exporter: "prometheus_remote_write",
				Endpoint: "https://metrics.example.com/api/v1/write",
			},
		},
	}, zap.NewNop())
	assert.IsType(t, &RemoteWritePusher{}, remote)

	gateway := NewPusher(config.Config{
		Mode:    config.ModeCloud,
		AppName: "tracklane",
		Cloud: config.CloudConfig{
			Metrics: config.CloudMetricsConfig{
				Enabled:  true,
				Exporter: "prometheus_pushgateway",
				Endpoint: "pushgateway.example.com:9091",
			},
		},
	}, zap.NewNop())
	assert.IsType(t, &PushgatewayPusher{}, gateway)
}

func TestStatsNilReceiverIsSafe(t *testing.T) {
	var stats *Stats
	stats.IncTaskCreated("1")
	stats.IncTaskMove("1")
	stats.IncRebalance("1", "column")
	stats.SetOrganizationsTotal(3)
	assert.NoError(t, stats.Push(nil))
}

func TestBuildRemoteWriteSeries(t *testing.T) {
	registry := prometheus.NewRegistry()
	stats := New(registry, nil, "install-1", "0.1.0", zap.NewNop())

	stats.IncTaskCreated("42")
	stats.IncTaskCreated("42")
	stats.IncRebalance("42", "column")
	stats.SetOrganizationsTotal(3)

	families, err := registry.Gather()
	require.NoError(t, err)

	series := buildRemoteWriteSeries(families, 1700000000000)
	require.NotEmpty(t, series)

	byName := map[string]float64{}
	for _, ts := range series {
		var name string
		for _, label := range ts.Labels {
			if label.Name == "__name__" {
				name = label.Value
			}
		}
		require.NotEmpty(t, name)
		require.Len(t, ts.Samples, 1)
		byName[name] = ts.Samples[0].Value
		assert.Equal(t, int64(1700000000000), ts.Samples[0].Timestamp)
	}

	assert.Equal(t, float64(2), byName["tracklane_usage_tasks_created_total"])
	assert.Equal(t, float64(1), byName["tracklane_usage_rebalances_total"])
	assert.Equal(t, float64(3), byName["tracklane_usage_organizations"])
}

func TestRemoteWriteSeriesLabelsSorted(t *testing.T) {
	registry := prometheus.NewRegistry()
	stats := New(registry, nil, "install-1", "0.1.0", zap.NewNop())
	stats.IncRebalance("42", "column")

	families, err := registry.Gather()
	require.NoError(t, err)

	series := buildRemoteWriteSeries(families, 1)
	require.NotEmpty(t, series)
	for _, ts := range series {
		for i := 1; i < len(ts.Labels); i++ {
			assert.LessOrEqual(t, ts.Labels[i-1].Name, ts.Labels[i].Name)
		}
	}
}
