package router

import (
	"strconv"
	"strings"
	"time"

	"github.com/Br10Consultoria/webhuawei/internal/models"
)

// The parsers are pure functions from cleaned command output to the
// dashboard value objects. Device error replies ("Error: ...") and
// unrecognizable text degrade to zero values, never to a panic.

// ParseInterfaces reads `display interface brief` output into records.
func ParseInterfaces(output string) []models.InterfaceRecord {
	var records []models.InterfaceRecord
	if deviceError(output) {
		return records
	}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || headerLine(line) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		rec := models.InterfaceRecord{
			Name:     fields[0],
			Status:   fields[1],
			Protocol: fields[2],
		}
		if len(fields) > 3 {
			if strings.Contains(fields[3], ".") || strings.Contains(fields[3], ":") {
				rec.IPAddress = fields[3]
			} else {
				rec.Description = strings.Join(fields[3:], " ")
			}
		}
		if len(fields) > 4 && rec.IPAddress != "" {
			rec.Description = strings.Join(fields[4:], " ")
		}
		records = append(records, rec)
	}
	return records
}

// AddUtilization fills in/out utilization percentages from
// `display interface` statistics output, matched by interface name.
func AddUtilization(records []models.InterfaceRecord, output string) {
	if deviceError(output) {
		return
	}
	var current string
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		for i := range records {
			if strings.HasPrefix(trimmed, records[i].Name) {
				current = records[i].Name
			}
		}
		if current == "" {
			continue
		}
		lower := strings.ToLower(trimmed)
		if strings.Contains(lower, "input utility") || strings.Contains(lower, "in-utilization") {
			if v, ok := percentToken(trimmed); ok {
				setUtilization(records, current, v, true)
			}
		}
		if strings.Contains(lower, "output utility") || strings.Contains(lower, "out-utilization") {
			if v, ok := percentToken(trimmed); ok {
				setUtilization(records, current, v, false)
			}
		}
	}
}

func setUtilization(records []models.InterfaceRecord, name string, v float64, in bool) {
	for i := range records {
		if records[i].Name == name {
			if in {
				records[i].InUtil = v
			} else {
				records[i].OutUtil = v
			}
			return
		}
	}
}

// ParsePppoeStats reads access-user summary outputs into session counts.
func ParsePppoeStats(outputs []string) models.PppoeStats {
	stats := models.PppoeStats{LastUpdate: time.Now().UTC()}
	for _, output := range outputs {
		if deviceError(output) {
			continue
		}
		for _, line := range strings.Split(output, "\n") {
			lower := strings.ToLower(line)
			switch {
			case strings.Contains(lower, "peak"):
				if n, ok := firstInt(line); ok {
					stats.Peak = n
				}
			case strings.Contains(lower, "total") && strings.Contains(lower, "user"):
				if n, ok := firstInt(line); ok {
					stats.Total = n
				}
			case strings.Contains(lower, "authen"):
				if n, ok := firstInt(line); ok {
					stats.Authenticated = n
				}
			case strings.Contains(lower, "active") || strings.Contains(lower, "online"):
				if n, ok := firstInt(line); ok && stats.Active == 0 {
					stats.Active = n
				}
			}
		}
	}
	if stats.Active == 0 && stats.Total > 0 {
		stats.Active = stats.Total
	}
	return stats
}

// ParseSystemMetrics reads cpu, memory, device and version outputs,
// in that order, into a system snapshot. Missing sections stay zero.
func ParseSystemMetrics(outputs []string) models.SystemMetrics {
	m := models.SystemMetrics{LastUpdate: time.Now().UTC()}
	get := func(i int) string {
		if i < len(outputs) && !deviceError(outputs[i]) {
			return outputs[i]
		}
		return ""
	}

	for _, line := range strings.Split(get(0), "\n") {
		if strings.Contains(strings.ToLower(line), "cpu") {
			if v, ok := percentToken(line); ok {
				m.CPUPercent = v
				break
			}
		}
	}
	for _, line := range strings.Split(get(1), "\n") {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "memory") || strings.Contains(lower, "usage") {
			if v, ok := percentToken(line); ok {
				m.MemoryPercent = v
				break
			}
		}
	}
	for _, line := range strings.Split(get(2), "\n") {
		lower := strings.ToLower(line)
		if m.Model == "" && strings.Contains(lower, "ne8000") {
			m.Model = strings.TrimSpace(line)
		}
		if strings.Contains(lower, "temperature") {
			if n, ok := firstInt(line); ok {
				m.Temperature = float64(n)
			}
		}
	}
	for _, line := range strings.Split(get(3), "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		if m.Version == "" && strings.Contains(lower, "version") && strings.Contains(lower, "vrp") {
			m.Version = trimmed
		}
		if strings.Contains(lower, "uptime is") {
			if idx := strings.Index(lower, "uptime is"); idx >= 0 {
				m.Uptime = strings.TrimSpace(trimmed[idx+len("uptime is"):])
			}
		}
	}
	return m
}

// ParseTraffic aggregates per-interface utilization lines into overall
// inbound/outbound percentages (averaged across reporting interfaces).
func ParseTraffic(outputs []string) models.TrafficStats {
	stats := models.TrafficStats{LastUpdate: time.Now().UTC()}
	var inSum, outSum float64
	var inN, outN int
	for _, output := range outputs {
		if deviceError(output) {
			continue
		}
		for _, line := range strings.Split(output, "\n") {
			lower := strings.ToLower(line)
			inIdx := strings.Index(lower, "in:")
			outIdx := strings.Index(lower, "out:")
			if inIdx >= 0 {
				if v, ok := percentToken(line[inIdx:]); ok {
					inSum += v
					inN++
					if v > stats.PeakIn {
						stats.PeakIn = v
					}
				}
			}
			if outIdx >= 0 {
				if v, ok := percentToken(line[outIdx:]); ok {
					outSum += v
					outN++
					if v > stats.PeakOut {
						stats.PeakOut = v
					}
				}
			}
		}
	}
	if inN > 0 {
		stats.Inbound = inSum / float64(inN)
	}
	if outN > 0 {
		stats.Outbound = outSum / float64(outN)
	}
	stats.Total = stats.Inbound + stats.Outbound
	return stats
}

// ── helpers ──────────────────────────────────────────────────────────────────

func deviceError(output string) bool {
	trimmed := strings.TrimSpace(output)
	return strings.HasPrefix(trimmed, "Error:") || strings.HasPrefix(trimmed, "^")
}

func headerLine(line string) bool {
	lower := strings.ToLower(line)
	if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") {
		return true
	}
	return strings.HasPrefix(lower, "interface") ||
		strings.HasPrefix(lower, "phy:") ||
		strings.Contains(lower, "down: administratively")
}

// firstInt returns the first run of digits in the line as an int.
func firstInt(line string) (int, bool) {
	start := -1
	for i, r := range line {
		if r >= '0' && r <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			n, err := strconv.Atoi(line[start:i])
			return n, err == nil
		}
	}
	if start >= 0 {
		n, err := strconv.Atoi(line[start:])
		return n, err == nil
	}
	return 0, false
}

// percentToken returns the first number followed by '%' in the line.
func percentToken(line string) (float64, bool) {
	for _, field := range strings.Fields(line) {
		field = strings.TrimRight(field, ",;")
		if !strings.HasSuffix(field, "%") {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSuffix(field, "%"), 64)
		if err == nil {
			return v, true
		}
	}
	return 0, false
}
