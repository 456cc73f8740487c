package simulation

import (
	"math"
	"testing"

	"casterly-rock/config"
	"casterly-rock/internal/database"

	"github.com/google/uuid"
)

func TestComputeKPIsCompoundsTotalROI(t *testing.T) {
	kpis := computeKPIs([]float64{0.10, -0.05, 0.02})

	want := 1.10*0.95*1.02 - 1
	if diff := kpis.TotalROI - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected total_roi %v, got %v", want, kpis.TotalROI)
	}
	wantAvg := (0.10 - 0.05 + 0.02) / 3
	if diff := kpis.AvgROI - wantAvg; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected avg_roi %v, got %v", wantAvg, kpis.AvgROI)
	}
	wantWinRate := 2.0 / 3.0
	if kpis.WinRate != wantWinRate {
		t.Errorf("expected win_rate %v, got %v", wantWinRate, kpis.WinRate)
	}
	if kpis.SharpeRatio == nil {
		t.Fatal("expected a sharpe ratio for a series with nonzero variance")
	}
}

func TestComputeKPIsMaxDrawdownIsNonPositive(t *testing.T) {
	// equity curve: 1.0 -> 1.10 -> 0.99 -> 1.03; worst dip is at day 2.
	kpis := computeKPIs([]float64{0.10, -0.10, 0.04})

	if kpis.MaxDrawdown > 0 {
		t.Fatalf("expected max_drawdown <= 0, got %v", kpis.MaxDrawdown)
	}
	peak := 1.10
	trough := 1.10 * 0.90
	want := (trough - peak) / peak
	if diff := kpis.MaxDrawdown - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected max_drawdown %v, got %v", want, kpis.MaxDrawdown)
	}
}

func TestComputeKPIsSharpeAbsentForSingleDay(t *testing.T) {
	kpis := computeKPIs([]float64{0.05})
	if kpis.SharpeRatio != nil {
		t.Errorf("expected no sharpe ratio for a single-day series, got %v", *kpis.SharpeRatio)
	}
}

func TestComputeKPIsEmptySeriesIsZeroValue(t *testing.T) {
	kpis := computeKPIs(nil)
	if kpis.TotalROI != 0 || kpis.AvgROI != 0 || kpis.WinRate != 0 {
		t.Errorf("expected zero-value KPIs for an empty series, got %+v", kpis)
	}
}

func TestValidateRejectsRangeUnderTwoDays(t *testing.T) {
	o := &Orchestrator{simCfg: config.SimulationConfig{SupportedWindows: []int{3, 5, 7}}}
	err := o.validate(RunRequest{StartDate: "2026-01-01", EndDate: "2026-01-02", WindowDays: 3})
	if err == nil {
		t.Fatal("expected an error for a one-day range")
	}
}

func TestValidateRejectsUnsupportedWindow(t *testing.T) {
	o := &Orchestrator{simCfg: config.SimulationConfig{SupportedWindows: []int{3, 5, 7}}}
	err := o.validate(RunRequest{StartDate: "2026-01-01", EndDate: "2026-01-10", WindowDays: 4})
	if err == nil {
		t.Fatal("expected an error for an unsupported window")
	}
}

func TestValidateAcceptsWellFormedRequest(t *testing.T) {
	o := &Orchestrator{simCfg: config.SimulationConfig{SupportedWindows: []int{3, 5, 7}}}
	err := o.validate(RunRequest{StartDate: "2026-01-01", EndDate: "2026-01-10", WindowDays: 7})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestAccountStatsSkipsUnassigned(t *testing.T) {
	accts := []database.ClientAccount{
		{AccountID: "CL1", CurrentAgentID: "a", CurrentBalance: 500},
		{AccountID: "CL2", CurrentAgentID: "a", CurrentBalance: 300},
		{AccountID: "CL3", CurrentAgentID: ""},
	}
	counts, aum := accountStats(accts)
	if counts["a"] != 2 {
		t.Errorf("expected 2 accounts for a, got %d", counts["a"])
	}
	if aum["a"] != 800 {
		t.Errorf("expected aum 800 for a, got %v", aum["a"])
	}
}

func TestSeedAccountsDeterministicIDs(t *testing.T) {
	simID := uuid.New()
	accts := seedAccounts(simID, 3, 1000)
	if len(accts) != 3 {
		t.Fatalf("expected 3 accounts, got %d", len(accts))
	}
	for _, a := range accts {
		if a.InitialBalance != 1000 || a.CurrentBalance != 1000 {
			t.Errorf("expected fresh accounts seeded at 1000, got %+v", a)
		}
	}
}

func TestLastNTruncatesFromTail(t *testing.T) {
	got := lastN([]float64{1, 2, 3, 4, 5}, 3)
	want := []float64{3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestLastNShorterThanRequested(t *testing.T) {
	got := lastN([]float64{1, 2}, 3)
	if len(got) != 2 {
		t.Errorf("expected the full short slice back, got %v", got)
	}
}

func TestRoiValuesExtractsFullOrderedSeries(t *testing.T) {
	rows := []database.DailyROI{
		{Date: "2026-01-01", ROI: 0.01},
		{Date: "2026-01-02", ROI: -0.02},
		{Date: "2026-01-03", ROI: 0.03},
	}
	got := roiValues(rows)
	want := []float64{0.01, -0.02, 0.03}
	if len(got) != len(want) {
		t.Fatalf("expected %d values, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestRoiValuesNilForEmptyHistory(t *testing.T) {
	if got := roiValues(nil); got != nil {
		t.Errorf("expected nil for an empty history, got %v", got)
	}
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
