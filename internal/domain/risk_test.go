package domain

import "testing"

func TestClassifyRisk(t *testing.T) {
	tests := []struct {
		name         string
		vehicleCount int
		totalValue   float64
		duration     int
		want         RiskLevel
	}{
		{name: "small fleet low value", vehicleCount: 25, totalValue: 45000, duration: 12, want: RiskLow},
		{name: "mid fleet mid value", vehicleCount: 75, totalValue: 360000, duration: 24, want: RiskMedium},
		{name: "boundary score five", vehicleCount: 100, totalValue: 500000, duration: 36, want: RiskMedium},
		{name: "boundary score six", vehicleCount: 101, totalValue: 500000, duration: 36, want: RiskHigh},
		{name: "tiny contract", vehicleCount: 5, totalValue: 10000, duration: 6, want: RiskLow},
		{name: "long duration only", vehicleCount: 10, totalValue: 20000, duration: 48, want: RiskLow},
		{name: "value just over medium", vehicleCount: 21, totalValue: 100001, duration: 25, want: RiskMedium},
		{name: "everything maxed", vehicleCount: 500, totalValue: 2000000, duration: 60, want: RiskHigh},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyRisk(tc.vehicleCount, tc.totalValue, tc.duration)
			if got != tc.want {
				t.Fatalf("ClassifyRisk(%d, %v, %d) = %s, want %s", tc.vehicleCount, tc.totalValue, tc.duration, got, tc.want)
			}
		})
	}
}

func TestClassifyRiskDeterministic(t *testing.T) {
	first := ClassifyRisk(75, 360000, 24)
	for i := 0; i < 100; i++ {
		if got := ClassifyRisk(75, 360000, 24); got != first {
			t.Fatalf("classification changed between calls: %s != %s", got, first)
		}
	}
}
