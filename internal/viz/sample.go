package viz

// Deterministic sample data served when the analytics store is
// unreachable. The values are fixed so dashboards render the same shape
// on every load and tests can assert on them.

func sampleHeatmap() []HeatmapCell {
	cells := make([]HeatmapCell, 0, 7*24)
	for weekday := 1; weekday <= 7; weekday++ {
		for hour := 0; hour < 24; hour++ {
			// Business-hours bulge on weekdays, quiet nights and weekends
			flows := int64(200 + 40*hour%400)
			if hour >= 9 && hour <= 17 && weekday <= 5 {
				flows += 1500
			}
			cells = append(cells, HeatmapCell{Weekday: weekday, Hour: hour, Flows: flows})
		}
	}
	return cells
}

func sampleTopTalkers(limit int) []TopTalker {
	talkers := []TopTalker{
		{SourceIP: "10.0.4.21", Flows: 48210, Bytes: 92_400_000_000},
		{SourceIP: "10.0.4.22", Flows: 39112, Bytes: 71_050_000_000},
		{SourceIP: "192.168.12.7", Flows: 28740, Bytes: 44_800_000_000},
		{SourceIP: "10.0.9.3", Flows: 21003, Bytes: 30_200_000_000},
		{SourceIP: "172.16.2.44", Flows: 18550, Bytes: 22_700_000_000},
		{SourceIP: "10.0.4.80", Flows: 12404, Bytes: 15_300_000_000},
		{SourceIP: "192.168.30.5", Flows: 9921, Bytes: 9_100_000_000},
		{SourceIP: "10.0.11.17", Flows: 7013, Bytes: 6_400_000_000},
		{SourceIP: "172.16.8.2", Flows: 5226, Bytes: 4_900_000_000},
		{SourceIP: "10.0.15.9", Flows: 3887, Bytes: 2_100_000_000},
	}
	if limit < len(talkers) {
		return talkers[:limit]
	}
	return talkers
}

func sampleThreatCategories() []ThreatCategory {
	return []ThreatCategory{
		{Category: "port_scan", Count: 412, Severity: "medium"},
		{Category: "brute_force", Count: 186, Severity: "high"},
		{Category: "malware_callback", Count: 37, Severity: "critical"},
		{Category: "dns_tunneling", Count: 24, Severity: "high"},
		{Category: "policy_violation", Count: 293, Severity: "low"},
	}
}
