package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/outbound-gateway/oagw/internal/oagw/model"
)

func TestWindowUnit_Duration(t *testing.T) {
	assert.Equal(t, time.Second, model.WindowSecond.Duration())
	assert.Equal(t, time.Minute, model.WindowMinute.Duration())
	assert.Equal(t, time.Hour, model.WindowHour.Duration())
	assert.Equal(t, 24*time.Hour, model.WindowDay.Duration())
	assert.Equal(t, time.Minute, model.WindowUnit("bogus").Duration())
}

func TestRateLimitSpec_EffectiveBurst_DefaultsToRate(t *testing.T) {
	spec := model.RateLimitSpec{Rate: 500}
	assert.Equal(t, 500.0, spec.EffectiveBurst())

	spec.Burst = 120
	assert.Equal(t, 120.0, spec.EffectiveBurst())
}

func TestRateLimitSpec_EffectiveCost_DefaultsToOne(t *testing.T) {
	spec := model.RateLimitSpec{}
	assert.Equal(t, 1.0, spec.EffectiveCost())

	spec.Cost = 3
	assert.Equal(t, 3.0, spec.EffectiveCost())
}

func TestRateLimitSpec_RatePerSecond(t *testing.T) {
	spec := model.RateLimitSpec{Rate: 600, Window: model.WindowMinute}
	assert.InDelta(t, 10.0, spec.RatePerSecond(), 0.0001)
}

func TestRoute_IsHTTP(t *testing.T) {
	rt := model.Route{HTTP: &model.HTTPMatch{Path: "/v1/chat"}}
	assert.True(t, rt.IsHTTP())

	rt = model.Route{GRPC: &model.GRPCMatch{Service: "svc", Method: "Call"}}
	assert.False(t, rt.IsHTTP())
}

func TestPluginDefinition_GCEligibleAt(t *testing.T) {
	lastUsed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	def := model.PluginDefinition{LastUsed: lastUsed, GCEligibleTTL: 24 * time.Hour}
	assert.Equal(t, lastUsed.Add(24*time.Hour), def.GCEligibleAt())
}

func TestPluginDefinition_IsCustom(t *testing.T) {
	assert.True(t, model.PluginDefinition{Script: "reject()"}.IsCustom())
	assert.False(t, model.PluginDefinition{}.IsCustom())
}
