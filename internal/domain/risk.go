package domain

// RiskLevel is a coarse contract risk classification used to select eligible
// approvers.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// ClassifyRisk scores a contract from its size, value, and duration. The
// function is pure: identical inputs always yield the identical tier, which
// audit replays rely on.
func ClassifyRisk(vehicleCount int, totalValue float64, durationMonths int) RiskLevel {
	score := 0

	switch {
	case vehicleCount > 100:
		score += 3
	case vehicleCount > 50:
		score += 2
	case vehicleCount > 20:
		score += 1
	}

	switch {
	case totalValue > 500000:
		score += 3
	case totalValue > 100000:
		score += 2
	case totalValue > 50000:
		score += 1
	}

	switch {
	case durationMonths > 36:
		score += 2
	case durationMonths > 24:
		score += 1
	}

	switch {
	case score >= 6:
		return RiskHigh
	case score >= 3:
		return RiskMedium
	default:
		return RiskLow
	}
}
