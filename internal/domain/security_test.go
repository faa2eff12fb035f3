package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeverityOrdering(t *testing.T) {
	assert.Less(t, SeverityLow.Rank(), SeverityMedium.Rank())
	assert.Less(t, SeverityMedium.Rank(), SeverityHigh.Rank())
	assert.Less(t, SeverityHigh.Rank(), SeverityCritical.Rank())

	assert.Equal(t, SeverityHigh, MaxSeverity(SeverityMedium, SeverityHigh))
	assert.Equal(t, SeverityHigh, MaxSeverity(SeverityHigh, SeverityLow))
}

func TestSeverityPolicy(t *testing.T) {
	assert.False(t, SeverityLow.ShouldBlock())
	assert.False(t, SeverityHigh.ShouldBlock())
	assert.True(t, SeverityCritical.ShouldBlock())

	assert.False(t, SeverityLow.ShouldAlert())
	assert.True(t, SeverityMedium.ShouldAlert())
	assert.True(t, SeverityCritical.ShouldAlert())
}

func TestThrottleDelays(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, SeverityLow.ThrottleDelay())
	assert.Equal(t, 2*time.Second, SeverityMedium.ThrottleDelay())
	assert.Equal(t, 5*time.Second, SeverityHigh.ThrottleDelay())
	assert.Equal(t, time.Duration(0), SeverityCritical.ThrottleDelay())
}

func TestRiskWeights(t *testing.T) {
	tests := []struct {
		eventType SecurityEventType
		weight    int64
	}{
		{ThreatOrderSpoofing, 15},
		{ThreatWashTrading, 25},
		{ThreatLayering, 20},
		{ThreatPriceManipulation, 30},
		{ThreatRapidFireSpam, 5},
		{ThreatSuspiciousPattern, 3},
		{ThreatCoordinatedTrading, 18},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.weight, tt.eventType.RiskWeight().IntPart(), string(tt.eventType))
	}
}
