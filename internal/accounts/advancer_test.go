package accounts

import (
	"testing"

	"casterly-rock/internal/database"
)

func TestApplyDailyROIUpdatesBalanceAndROI(t *testing.T) {
	acc := database.ClientAccount{InitialBalance: 1000, CurrentBalance: 1000}
	acc = applyDailyROI(acc, 0.10)

	if acc.CurrentBalance != 1100 {
		t.Errorf("expected balance 1100, got %v", acc.CurrentBalance)
	}
	if diff := acc.CumulativeROI - 0.10; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected cumulative ROI 0.10, got %v", acc.CumulativeROI)
	}
	if acc.TotalDays != 1 || acc.PositiveDays != 1 {
		t.Errorf("expected 1 total day and 1 positive day, got total=%d positive=%d", acc.TotalDays, acc.PositiveDays)
	}
	if acc.WinRate != 1.0 {
		t.Errorf("expected win rate 1.0, got %v", acc.WinRate)
	}
}

func TestApplyDailyROINegativeDayDoesNotCountAsWin(t *testing.T) {
	acc := database.ClientAccount{InitialBalance: 1000, CurrentBalance: 1000}
	acc = applyDailyROI(acc, -0.05)

	if acc.CurrentBalance != 950 {
		t.Errorf("expected balance 950, got %v", acc.CurrentBalance)
	}
	if acc.PositiveDays != 0 {
		t.Errorf("expected 0 positive days, got %d", acc.PositiveDays)
	}
	if acc.WinRate != 0 {
		t.Errorf("expected win rate 0, got %v", acc.WinRate)
	}
}

func TestApplyDailyROIWinRateAcrossMultipleDays(t *testing.T) {
	acc := database.ClientAccount{InitialBalance: 1000, CurrentBalance: 1000}
	acc = applyDailyROI(acc, 0.10)
	acc = applyDailyROI(acc, -0.05)
	acc = applyDailyROI(acc, 0.02)

	if acc.TotalDays != 3 || acc.PositiveDays != 2 {
		t.Fatalf("expected 3 total days and 2 positive days, got total=%d positive=%d", acc.TotalDays, acc.PositiveDays)
	}
	want := 2.0 / 3.0
	if acc.WinRate != want {
		t.Errorf("expected win rate %v, got %v", want, acc.WinRate)
	}

	wantBalance := 1000.0 * 1.10 * 0.95 * 1.02
	if diff := acc.CurrentBalance - wantBalance; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected balance %v, got %v", wantBalance, acc.CurrentBalance)
	}
}

func TestApplyDailyROIZeroROIFlatDay(t *testing.T) {
	acc := database.ClientAccount{InitialBalance: 1000, CurrentBalance: 1000}
	acc = applyDailyROI(acc, 0.0)

	if acc.CurrentBalance != 1000 {
		t.Errorf("expected unchanged balance 1000, got %v", acc.CurrentBalance)
	}
	if acc.PositiveDays != 0 {
		t.Errorf("a zero-ROI day must not count as a win, got %d", acc.PositiveDays)
	}
}
