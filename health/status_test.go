package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/firestige/Otus/component"
)

func TestStatusPredicates(t *testing.T) {
	assert.True(t, Status{Status: "healthy"}.IsHealthy())
	assert.True(t, Status{Status: "degraded"}.IsDegraded())
	assert.True(t, Status{Status: "unhealthy"}.IsUnhealthy())
	assert.False(t, Status{Status: "healthy"}.IsUnhealthy())
}

func TestAggregateAllHealthy(t *testing.T) {
	overall := Aggregate("console", []Status{
		{Component: "a", Status: "healthy"},
		{Component: "b", Status: "healthy"},
	})
	assert.True(t, overall.Healthy)
	assert.Equal(t, "healthy", overall.Status)
	assert.Len(t, overall.SubStatuses, 2)
}

func TestAggregateUnhealthyWins(t *testing.T) {
	overall := Aggregate("console", []Status{
		{Component: "a", Status: "degraded"},
		{Component: "b", Status: "unhealthy"},
	})
	assert.False(t, overall.Healthy)
	assert.Equal(t, "unhealthy", overall.Status)
	assert.Contains(t, overall.Message, "b")
}

func TestAggregateDegraded(t *testing.T) {
	overall := Aggregate("console", []Status{
		{Component: "a", Status: "healthy"},
		{Component: "b", Status: "degraded"},
	})
	assert.False(t, overall.Healthy)
	assert.Equal(t, "degraded", overall.Status)
}

func TestAggregateEmpty(t *testing.T) {
	overall := Aggregate("console", nil)
	assert.True(t, overall.Healthy)
}

func TestWithSubStatusDoesNotShare(t *testing.T) {
	base := Status{Component: "root", Status: "healthy"}
	a := base.WithSubStatus(Status{Component: "a"})
	b := base.WithSubStatus(Status{Component: "b"})

	assert.Len(t, base.SubStatuses, 0)
	assert.Equal(t, "a", a.SubStatuses[0].Component)
	assert.Equal(t, "b", b.SubStatuses[0].Component)
}

func TestFromComponentHealth(t *testing.T) {
	s := FromComponentHealth("consumer-uas", component.HealthStatus{
		Healthy:    true,
		ErrorCount: 3,
		Uptime:     time.Minute,
	})
	assert.Equal(t, "consumer-uas", s.Component)
	assert.Equal(t, "healthy", s.Status)
	assert.Equal(t, 3, s.Metrics.ErrorCount)

	s = FromComponentHealth("consumer-uac", component.HealthStatus{Healthy: false})
	assert.Equal(t, "unhealthy", s.Status)
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"http url", "failed to reach http://broker.internal/x", "failed to reach [URL]"},
		{"kafka url", "dial kafka://broker-1 failed", "dial [URL] failed"},
		{"unix path", "open /etc/otus/config.json failed", "open [PATH] failed"},
		{"ip address", "connect to 192.168.1.100 refused", "connect to [IP] refused"},
		{"port", "listen on :8080 failed", "listen on [PORT] failed"},
		{"credential", "auth password=hunter2 rejected", "auth [REDACTED] rejected"},
		{"plain", "schema mismatch", "schema mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeErrorMessage(tt.input))
		})
	}
}
