package iris

import (
	"testing"

	"github.com/hhcho/irismpc/mpc"
	"github.com/stretchr/testify/require"
)

func TestDefaultPrecisionIsExact(t *testing.T) {
	report := AnalyzePrecision(mpc.DefaultThresholdParams(), mpc.MatchThresholdRatio, IrisCodeBits)
	require.True(t, report.RangeOK)
	require.Zero(t, report.Mismatches)
	require.Zero(t, report.MaxAbsGap)
	require.Zero(t, report.MeanGap)
	require.Zero(t, report.StdGap)
}

func TestCoarsePrecision(t *testing.T) {
	params, err := mpc.NewThresholdParams(0.34, 4)
	require.NoError(t, err)
	report := AnalyzePrecision(params, 0.34, IrisCodeBits)
	require.Positive(t, report.Mismatches)
	require.Positive(t, report.MaxAbsGap)
	require.True(t, report.RangeOK)
}

func TestPrecisionRange(t *testing.T) {
	params, err := mpc.NewThresholdParams(0.375, 48)
	require.NoError(t, err)
	require.True(t, AnalyzePrecision(params, 0.375, IrisCodeBits).RangeOK)

	require.True(t, AnalyzePrecision(params, 0.375, 0).RangeOK)
}
