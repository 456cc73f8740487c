package ranking

import "testing"

// TestROIStrategyScoresWindowTotal checks that the default strategy scores a
// row by its roi_window_total as given. The input 0.1495 is spec scenario S3's
// compounded value (1.10*0.95*1.10 - 1); no compounding happens here.
func TestROIStrategyScoresWindowTotal(t *testing.T) {
	s := NewROIStrategy()
	row := AgentRow{ROIWindowTotal: 0.1495}
	if got := s.Score(row); got != 0.1495 {
		t.Errorf("expected 0.1495, got %v", got)
	}
}

func TestWinRateStrategy(t *testing.T) {
	s := NewWinRateStrategy()
	row := AgentRow{PositiveDays: 2, WindowDays: 3}
	if got := s.Score(row); got < 0.666 || got > 0.667 {
		t.Errorf("expected ~0.6667, got %v", got)
	}
}

func TestSharpeRatioStrategyInsufficientHistory(t *testing.T) {
	s := NewSharpeRatioStrategy()
	row := AgentRow{DailyROIs: []float64{0.05}}
	if got := s.Score(row); got != 0 {
		t.Errorf("expected 0 for fewer than two observed days, got %v", got)
	}
}

func TestSharpeRatioStrategyZeroVariance(t *testing.T) {
	s := NewSharpeRatioStrategy()
	row := AgentRow{DailyROIs: []float64{0.01, 0.01, 0.01}}
	if got := s.Score(row); got != 0 {
		t.Errorf("expected 0 for zero variance, got %v", got)
	}
}

func TestCompositeStrategyNormalizesWeights(t *testing.T) {
	composite := NewCompositeStrategy([]WeightedStrategy{
		{Inner: NewROIStrategy(), Weight: 1.0},
		{Inner: NewTotalPnLStrategy(), Weight: 1.0},
	})
	row := AgentRow{ROIWindowTotal: 0.10, TotalPnLWindow: 100}
	// weights 1.0/1.0 normalize to 0.5/0.5, so score = 0.5*0.10 + 0.5*100 = 50.05
	if got := composite.Score(row); got != 50.05 {
		t.Errorf("expected normalized composite score 50.05, got %v", got)
	}
}

func TestCompositeStrategyKeepsWeightsAlreadySummingToOne(t *testing.T) {
	composite := NewCompositeStrategy([]WeightedStrategy{
		{Inner: NewROIStrategy(), Weight: 0.7},
		{Inner: NewWinRateStrategy(), Weight: 0.3},
	})
	row := AgentRow{ROIWindowTotal: 0.10, PositiveDays: 5, WindowDays: 10}
	want := 0.7*0.10 + 0.3*0.5
	got := composite.Score(row)
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected %v, got %v", want, got)
	}
}
