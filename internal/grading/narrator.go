package grading

import "github.com/noah-isme/student-results-api/internal/models"

// Statuses produced by the narrator.
const (
	StatusPass      = "Pass"
	StatusFail      = "Fail"
	StatusGraduated = "Graduated"
	StatusPassed    = "Passed"
	StatusFailed    = "Failed"
	StatusAtRisk    = "At Risk"
	StatusProbation = "Probation"
)

// BorderlineCompletion is the earned/attempted credit ratio that separates at-risk from probation.
const BorderlineCompletion = 0.75

type remarkBand struct {
	min    float64
	status string
	remark string
}

var percentageBands = []remarkBand{
	{min: 80, remark: "Excellent - Keep it up!"},
	{min: 70, remark: "Very Good"},
	{min: 60, remark: "Good"},
	{min: 50, remark: "Average - Needs improvement"},
	{min: 40, remark: "Below Average"},
}

var creditBands = []remarkBand{
	{min: 9, status: StatusGraduated, remark: "Excellent - First Class with Distinction"},
	{min: 8, status: StatusPassed, remark: "Very Good - First Class"},
	{min: 7, status: StatusPassed, remark: "Good - Higher Second Class"},
	{min: 6, status: StatusPassed, remark: "Above Average - Second Class"},
	{min: 5, status: StatusPassed, remark: "Average - Pass Class"},
}

// Narration is the qualitative reading of an aggregate.
type Narration struct {
	Status string
	Remark string
}

// Narrate maps an aggregate to status and remark. Bands are evaluated top-down against the stored
// (rounded) average or CGPA and the first match wins.
func Narrate(policy Policy, agg Aggregate) Narration {
	if agg.Count == 0 {
		return Narration{Status: models.StatusNotEvaluated, Remark: models.RemarkNoMarks}
	}
	if policy.Dialect == DialectCredit {
		return narrateCredit(policy, agg)
	}
	return narratePercentage(policy, agg)
}

func narratePercentage(policy Policy, agg Aggregate) Narration {
	out := Narration{Status: StatusFail, Remark: "Poor"}
	for _, band := range percentageBands {
		if agg.Average >= band.min {
			out.Remark = band.remark
			break
		}
	}
	if agg.Average >= policy.PassThreshold {
		out.Status = StatusPass
	}
	if policy.StrictPass && agg.FailedSubjects > 0 {
		out.Status = StatusFail
	}
	return out
}

func narrateCredit(policy Policy, agg Aggregate) Narration {
	var out Narration
	matched := false
	for _, band := range creditBands {
		if agg.CGPA >= band.min {
			out = Narration{Status: band.status, Remark: band.remark}
			matched = true
			break
		}
	}
	if !matched {
		switch {
		case agg.CGPA > 0:
			out = Narration{Status: StatusPassed, Remark: "Below Average - Requires improvement"}
		case CreditCompletion(agg.EarnedCredits, agg.TotalCredits) >= BorderlineCompletion:
			out = Narration{Status: StatusAtRisk, Remark: "Borderline - At risk of academic probation"}
		default:
			out = Narration{Status: StatusProbation, Remark: "Critical - Academic probation"}
		}
	}
	if policy.StrictPass && agg.FailedSubjects > 0 && out.Status != StatusProbation && out.Status != StatusAtRisk {
		out.Status = StatusFailed
	}
	return out
}

// CreditCompletion is earned over attempted credits, 0 when nothing was attempted.
func CreditCompletion(earned, total int) float64 {
	return ratio(float64(earned), float64(total))
}
