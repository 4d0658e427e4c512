package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(v string) *string   { return &v }
func intPtr(v int) *int         { return &v }
func f64Ptr(v float64) *float64 { return &v }

func TestUserDefaults(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertUser(42, UserUpdate{}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	u, err := s.GetUser(42)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if u == nil {
		t.Fatal("expected user, got nil")
	}
	if u.Pairs != DefaultPairs {
		t.Errorf("pairs = %q, want %q", u.Pairs, DefaultPairs)
	}
	if u.FrequencySeconds != DefaultFrequencySeconds {
		t.Errorf("frequency = %d, want %d", u.FrequencySeconds, DefaultFrequencySeconds)
	}
	if u.Sensitivity != DefaultSensitivity {
		t.Errorf("sensitivity = %q, want %q", u.Sensitivity, DefaultSensitivity)
	}
	if u.Category != DefaultCategory {
		t.Errorf("category = %q, want %q", u.Category, DefaultCategory)
	}
}

func TestGetUserUnknown(t *testing.T) {
	s := openTestStore(t)

	u, err := s.GetUser(999)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if u != nil {
		t.Errorf("expected nil for unknown user, got %+v", u)
	}
}

func TestUpsertUserPartialUpdate(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertUser(1, UserUpdate{Pairs: strPtr("ETHUSDT"), FrequencySeconds: intPtr(300)}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	if err := s.UpsertUser(1, UserUpdate{Sensitivity: strPtr("high")}); err != nil {
		t.Fatalf("second UpsertUser failed: %v", err)
	}

	u, err := s.GetUser(1)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if u.Pairs != "ETHUSDT" {
		t.Errorf("pairs clobbered by partial update: %q", u.Pairs)
	}
	if u.FrequencySeconds != 300 {
		t.Errorf("frequency clobbered by partial update: %d", u.FrequencySeconds)
	}
	if u.Sensitivity != "high" {
		t.Errorf("sensitivity = %q, want high", u.Sensitivity)
	}
	if u.Category != DefaultCategory {
		t.Errorf("category = %q, want default", u.Category)
	}
}

func TestAllUsers(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []int64{1, 2, 3} {
		if err := s.UpsertUser(id, UserUpdate{}); err != nil {
			t.Fatalf("UpsertUser(%d) failed: %v", id, err)
		}
	}
	users, err := s.AllUsers()
	if err != nil {
		t.Fatalf("AllUsers failed: %v", err)
	}
	if len(users) != 3 {
		t.Errorf("got %d users, want 3", len(users))
	}
}

func logTestSignal(t *testing.T, s *Store, userID int64, symbol string, conf, entry, tp, sl float64, age time.Duration) {
	t.Helper()
	err := s.LogSignal(SignalRecord{
		SignalID:    uuid.NewString(),
		UserID:      userID,
		Symbol:      symbol,
		SignalType:  "buy",
		Confidence:  nullFloat(conf),
		Entry:       nullFloat(entry),
		TakeProfit:  nullFloat(tp),
		StopLoss:    nullFloat(sl),
		ExitHorizon: nullString("1-3 days"),
		CreatedAt:   time.Now().Add(-age).Unix(),
	})
	if err != nil {
		t.Fatalf("LogSignal failed: %v", err)
	}
}

func TestLogAndLastSignal(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertUser(7, UserUpdate{}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	logTestSignal(t, s, 7, "BTCUSDT", 0.70, 50000, 55000, 48000, 2*time.Hour)
	logTestSignal(t, s, 7, "BTCUSDT", 0.80, 51000, 56000, 49000, 1*time.Hour)

	last, err := s.LastSignal(7, "BTCUSDT")
	if err != nil {
		t.Fatalf("LastSignal failed: %v", err)
	}
	if last == nil {
		t.Fatal("expected last signal, got nil")
	}
	if !last.Confidence.Valid || last.Confidence.Float64 != 0.80 {
		t.Errorf("last confidence = %+v, want 0.80", last.Confidence)
	}
	if last.SignalID == "" {
		t.Error("signal_id not persisted")
	}
}

func TestRecentSignalsOrderAndLimit(t *testing.T) {
	s := openTestStore(t)

	logTestSignal(t, s, 7, "BTCUSDT", 0.70, 50000, 55000, 48000, 3*time.Hour)
	logTestSignal(t, s, 7, "ETHUSDT", 0.75, 3000, 3300, 2800, 2*time.Hour)
	logTestSignal(t, s, 7, "TRXUSDT", 0.65, 0.12, 0.14, 0.11, 1*time.Hour)

	recs, err := s.RecentSignals(7, 2)
	if err != nil {
		t.Fatalf("RecentSignals failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].Symbol != "TRXUSDT" {
		t.Errorf("newest first: got %s", recs[0].Symbol)
	}
}

func TestIsDuplicateSignal(t *testing.T) {
	s := openTestStore(t)
	cfg := DefaultDedupConfig()

	logTestSignal(t, s, 9, "BTCUSDT", 0.70, 50000, 55000, 48000, 1*time.Hour)

	// Same prices and confidence within tolerance.
	dup, err := s.IsDuplicateSignal(9, "BTCUSDT", f64Ptr(0.71), f64Ptr(50100), f64Ptr(55100), f64Ptr(48100), cfg)
	if err != nil {
		t.Fatalf("IsDuplicateSignal failed: %v", err)
	}
	if !dup {
		t.Error("expected duplicate within tolerances")
	}

	// Entry outside the 0.5% band.
	dup, err = s.IsDuplicateSignal(9, "BTCUSDT", f64Ptr(0.70), f64Ptr(51000), f64Ptr(55000), f64Ptr(48000), cfg)
	if err != nil {
		t.Fatalf("IsDuplicateSignal failed: %v", err)
	}
	if dup {
		t.Error("entry drifted beyond tolerance, should not be duplicate")
	}

	// Confidence outside the absolute tolerance.
	dup, err = s.IsDuplicateSignal(9, "BTCUSDT", f64Ptr(0.80), f64Ptr(50000), f64Ptr(55000), f64Ptr(48000), cfg)
	if err != nil {
		t.Fatalf("IsDuplicateSignal failed: %v", err)
	}
	if dup {
		t.Error("confidence moved beyond tolerance, should not be duplicate")
	}

	// No prior signal for the symbol.
	dup, err = s.IsDuplicateSignal(9, "ETHUSDT", f64Ptr(0.70), f64Ptr(3000), f64Ptr(3300), f64Ptr(2800), cfg)
	if err != nil {
		t.Fatalf("IsDuplicateSignal failed: %v", err)
	}
	if dup {
		t.Error("no prior signal, cannot be duplicate")
	}
}

func TestIsDuplicateSignalCooldownExpired(t *testing.T) {
	s := openTestStore(t)
	cfg := DefaultDedupConfig()

	logTestSignal(t, s, 9, "BTCUSDT", 0.70, 50000, 55000, 48000, 7*time.Hour)

	dup, err := s.IsDuplicateSignal(9, "BTCUSDT", f64Ptr(0.70), f64Ptr(50000), f64Ptr(55000), f64Ptr(48000), cfg)
	if err != nil {
		t.Fatalf("IsDuplicateSignal failed: %v", err)
	}
	if dup {
		t.Error("cooldown expired, should not be duplicate")
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	s := openTestStore(t)

	// Running the migration pass again on a current schema must be a no-op.
	if err := RunMigrations(s.db); err != nil {
		t.Fatalf("RunMigrations on current schema failed: %v", err)
	}
}

func TestStats(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertUser(1, UserUpdate{}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	logTestSignal(t, s, 1, "BTCUSDT", 0.70, 50000, 55000, 48000, time.Hour)
	logTestSignal(t, s, 1, "ETHUSDT", 0.70, 3000, 3300, 2800, time.Hour)

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats["users"] != 1 {
		t.Errorf("users count = %d, want 1", stats["users"])
	}
	if stats["signals"] != 2 {
		t.Errorf("signals count = %d, want 2", stats["signals"])
	}
}
