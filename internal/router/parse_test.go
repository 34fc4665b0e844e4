package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const interfaceBrief = `Interface                   PHY     Protocol  InUti OutUti
GigabitEthernet0/1/0        up      up        1.2.3.4
GigabitEthernet0/1/1        down    down      uplink to core
Eth-Trunk1                  up      up
------------------------------------------------------------`

func TestParseInterfaces(t *testing.T) {
	records := ParseInterfaces(interfaceBrief)
	require.Len(t, records, 3)

	assert.Equal(t, "GigabitEthernet0/1/0", records[0].Name)
	assert.Equal(t, "up", records[0].Status)
	assert.Equal(t, "up", records[0].Protocol)
	assert.Equal(t, "1.2.3.4", records[0].IPAddress)

	assert.Equal(t, "GigabitEthernet0/1/1", records[1].Name)
	assert.Equal(t, "down", records[1].Status)
	assert.Equal(t, "uplink to core", records[1].Description)

	assert.Equal(t, "Eth-Trunk1", records[2].Name)
	assert.Empty(t, records[2].IPAddress)
}

func TestParseInterfacesDegradesOnError(t *testing.T) {
	assert.Empty(t, ParseInterfaces("Error: Unrecognized command found at '^' position."))
	assert.Empty(t, ParseInterfaces(""))
	assert.Empty(t, ParseInterfaces("complete garbage"))
}

func TestAddUtilization(t *testing.T) {
	records := ParseInterfaces(interfaceBrief)
	AddUtilization(records, `GigabitEthernet0/1/0 current state : UP
  Last 300 seconds input utility rate: 42.5%
  Last 300 seconds output utility rate: 7.1%
GigabitEthernet0/1/1 current state : DOWN
  Last 300 seconds input utility rate: 0%
  Last 300 seconds output utility rate: 0%`)

	assert.Equal(t, 42.5, records[0].InUtil)
	assert.Equal(t, 7.1, records[0].OutUtil)
	assert.Equal(t, 0.0, records[1].InUtil)
}

func TestParsePppoeStats(t *testing.T) {
	stats := ParsePppoeStats([]string{
		"Total users                     : 1523",
		"Online peak time users          : 1890\nAuthentication users : 1520",
	})
	assert.Equal(t, 1523, stats.Total)
	assert.Equal(t, 1890, stats.Peak)
	assert.Equal(t, 1520, stats.Authenticated)
	assert.False(t, stats.LastUpdate.IsZero())
}

func TestParsePppoeStatsWithErrors(t *testing.T) {
	stats := ParsePppoeStats([]string{"Error: command not found", ""})
	assert.Zero(t, stats.Total)
	assert.Zero(t, stats.Active)
}

func TestParseSystemMetrics(t *testing.T) {
	metrics := ParseSystemMetrics([]string{
		"CPU Usage            : 23% Max: 99%",
		"Memory Using Percentage Is: 61%",
		"NE8000 M8 Board\nTemperature  45 C",
		"VRP (R) software, Version 8.210 (NE8000 V800R021C10)\nHUAWEI NE8000 M8 uptime is 120 days, 3 hours",
	})
	assert.Equal(t, 23.0, metrics.CPUPercent)
	assert.Equal(t, 61.0, metrics.MemoryPercent)
	assert.Equal(t, 45.0, metrics.Temperature)
	assert.Contains(t, metrics.Version, "Version 8.210")
	assert.Equal(t, "120 days, 3 hours", metrics.Uptime)
	assert.Contains(t, metrics.Model, "NE8000")
}

func TestParseSystemMetricsPartial(t *testing.T) {
	metrics := ParseSystemMetrics([]string{"Error: timeout"})
	assert.Zero(t, metrics.CPUPercent)
	assert.Zero(t, metrics.MemoryPercent)
	assert.Empty(t, metrics.Version)
}

func TestParseTraffic(t *testing.T) {
	stats := ParseTraffic([]string{
		"GE0/1/0  in: 10.0%  out: 20.0%\nGE0/1/1  in: 30.0%  out: 40.0%",
	})
	assert.Equal(t, 20.0, stats.Inbound)
	assert.Equal(t, 30.0, stats.Outbound)
	assert.Equal(t, 50.0, stats.Total)
	assert.Equal(t, 30.0, stats.PeakIn)
	assert.Equal(t, 40.0, stats.PeakOut)
}

func TestParseTrafficEmpty(t *testing.T) {
	stats := ParseTraffic([]string{"Error: nope"})
	assert.Zero(t, stats.Inbound)
	assert.Zero(t, stats.Outbound)
	assert.Zero(t, stats.Total)
}

func TestFirstInt(t *testing.T) {
	n, ok := firstInt("Total users : 1523 online")
	require.True(t, ok)
	assert.Equal(t, 1523, n)

	_, ok = firstInt("no digits here")
	assert.False(t, ok)
}

func TestPercentToken(t *testing.T) {
	v, ok := percentToken("input utility rate: 42.5%")
	require.True(t, ok)
	assert.Equal(t, 42.5, v)

	_, ok = percentToken("no percent")
	assert.False(t, ok)
}
