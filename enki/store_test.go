package enki

import (
	"testing"
	"time"
)

func TestStoreSnapshotBeforeSeed(t *testing.T) {
	store := NewStore()
	if _, ok := store.Snapshot(); ok {
		t.Error("snapshot reported seeded before first write")
	}
	if _, ok := store.ErrorReport(); ok {
		t.Error("error report reported seeded before first write")
	}
}

func TestStoreNotifiesOnNewReport(t *testing.T) {
	store := NewStore()
	ch, cancel := store.Subscribe()
	defer cancel()

	reported := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	if changed := store.SetState(DeviceState{NodeID: "node-1", LastReportedDate: reported}); !changed {
		t.Error("first write should report a change")
	}
	select {
	case <-ch:
	default:
		t.Fatal("expected a notification after first write")
	}

	// Same timestamp again: state did not advance.
	if changed := store.SetState(DeviceState{NodeID: "node-1", LastReportedDate: reported}); changed {
		t.Error("unchanged report timestamp should not count as a change")
	}
	select {
	case <-ch:
		t.Fatal("unexpected notification for unchanged state")
	default:
	}

	if changed := store.SetState(DeviceState{NodeID: "node-1", LastReportedDate: reported.Add(30 * time.Second)}); !changed {
		t.Error("advanced report timestamp should count as a change")
	}
	select {
	case <-ch:
	default:
		t.Fatal("expected a notification after the report advanced")
	}
}

func TestStoreNotificationsCoalesce(t *testing.T) {
	store := NewStore()
	ch, cancel := store.Subscribe()
	defer cancel()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		store.SetState(DeviceState{LastReportedDate: base.Add(time.Duration(i) * time.Minute)})
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			if received != 1 {
				t.Errorf("pending notifications = %d, want 1", received)
			}
			return
		}
	}
}

func TestStoreCancelledSubscriptionStopsNotifying(t *testing.T) {
	store := NewStore()
	ch, cancel := store.Subscribe()
	cancel()

	store.SetState(DeviceState{LastReportedDate: time.Now()})
	select {
	case <-ch:
		t.Error("cancelled subscription still received a notification")
	default:
	}
}

func TestStoreErrorReport(t *testing.T) {
	store := NewStore()
	store.SetErrorReport(ErrorReport{NodeID: "node-1", Code: ErrorCode("E5")})

	report, ok := store.ErrorReport()
	if !ok {
		t.Fatal("error report not seeded")
	}
	if report.Code != ErrorCode("E5") {
		t.Errorf("code = %q", report.Code)
	}
}
