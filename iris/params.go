package iris

import (
	"math"

	"github.com/hhcho/irismpc/mpc"
	"go.dedis.ch/onet/v3/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// PrecisionReport compares the fixed-point threshold against the exact
// fractional Hamming distance test for every possible number of valid
// bits. A gap of g at m valid bits means g Hamming distances are decided
// differently.
type PrecisionReport struct {
	MaxAbsGap  float64
	MeanGap    float64
	StdGap     float64
	Mismatches int
	// RangeOK reports that m*A - c*B never leaves the signed range of the
	// comparison ring.
	RangeOK bool
}

// AnalyzePrecision evaluates params against ratio for 1..maxBits valid
// bits.
func AnalyzePrecision(params mpc.ThresholdParams, ratio float64, maxBits int) PrecisionReport {
	if maxBits < 1 {
		return PrecisionReport{RangeOK: true}
	}
	gaps := make([]float64, maxBits)
	absGaps := make([]float64, maxBits)
	mismatches := 0

	b := params.B()
	for m := uint64(1); m <= uint64(maxBits); m++ {
		// first Hamming distance that does not match
		exact := math.Ceil(ratio * float64(m))
		num, den := m*(b-params.A), 2*b
		fixed := float64((num + den - 1) / den)

		gap := fixed - exact
		gaps[m-1] = gap
		absGaps[m-1] = math.Abs(gap)
		mismatches += int(math.Abs(gap))
	}

	report := PrecisionReport{
		MaxAbsGap:  floats.Max(absGaps),
		MeanGap:    stat.Mean(gaps, nil),
		Mismatches: mismatches,
		RangeOK:    rangeOK(params, uint64(maxBits)),
	}
	if maxBits > 1 {
		report.StdGap = stat.StdDev(gaps, nil)
	}
	log.Lvl3("Threshold precision:", params.BBits, "bits, max gap", report.MaxAbsGap, "mismatches", report.Mismatches)
	return report
}

func rangeOK(params mpc.ThresholdParams, maxBits uint64) bool {
	bound := maxBits * (params.A + params.B())
	return bound < uint64(1)<<(params.RingBits()-1)
}
