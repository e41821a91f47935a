package model

import "testing"

func TestStorageClass_Next(t *testing.T) {
	tests := []struct {
		class StorageClass
		next  StorageClass
		ok    bool
	}{
		{ClassHot, ClassWarmIA, true},
		{ClassWarmIA, ClassCold, true},
		{ClassCold, ClassDeepCold, true},
		{ClassDeepCold, ClassDeepCold, false},
	}

	for _, tt := range tests {
		next, ok := tt.class.Next()
		if next != tt.next || ok != tt.ok {
			t.Errorf("%s.Next() = (%s, %v), want (%s, %v)", tt.class, next, ok, tt.next, tt.ok)
		}
	}
}

func TestStorageClass_Before(t *testing.T) {
	if !ClassHot.Before(ClassWarmIA) {
		t.Error("hot should come before warm-ia")
	}
	if ClassDeepCold.Before(ClassCold) {
		t.Error("deep-cold should not come before cold")
	}
	if ClassCold.Before(ClassCold) {
		t.Error("a class should not come before itself")
	}
}

func TestStorageClass_Cold(t *testing.T) {
	for class, want := range map[StorageClass]bool{
		ClassHot:      false,
		ClassWarmIA:   false,
		ClassCold:     true,
		ClassDeepCold: true,
	} {
		if got := class.Cold(); got != want {
			t.Errorf("%s.Cold() = %v, want %v", class, got, want)
		}
	}
}

func TestRetrievalStatus_Terminal(t *testing.T) {
	for status, want := range map[RetrievalStatus]bool{
		RetrievalRequested:  false,
		RetrievalInProgress: false,
		RetrievalCompleted:  true,
		RetrievalFailed:     true,
		RetrievalExpired:    true,
	} {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestRetrievalTier_Valid(t *testing.T) {
	for _, tier := range []RetrievalTier{TierExpedited, TierStandard, TierBulk} {
		if !tier.Valid() {
			t.Errorf("%s should be valid", tier)
		}
	}
	if RetrievalTier("instant").Valid() {
		t.Error("unknown tier should not be valid")
	}
}
