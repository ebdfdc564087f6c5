package readings

import (
	"context"
	"errors"
	"testing"
	"time"

	implementation "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Repository/Implementation"
	interfaces "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Repository/Interfaces"
	validation "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Validation"
)

func newTestService(t *testing.T, now time.Time) (*ReadingService, *implementation.MemoryReadingRepository) {
	t.Helper()
	repo := implementation.NewMemoryReadingRepository()
	return NewReadingService(repo, validation.NewWithClock(func() time.Time { return now })), repo
}

func TestIngestDefaultsTimestamp(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	svc, _ := newTestService(t, now)

	stored, err := svc.Ingest(context.Background(), validation.Candidate{DeviceID: "dev-1", Temperature: 22.5})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if stored.Timestamp != now.UnixMilli() {
		t.Errorf("Timestamp = %d, want %d", stored.Timestamp, now.UnixMilli())
	}
	if stored.ID == "" {
		t.Error("stored reading has no id")
	}
}

func TestIngestRejectsWithoutInserting(t *testing.T) {
	svc, repo := newTestService(t, time.Now())

	_, err := svc.Ingest(context.Background(), validation.Candidate{DeviceID: "dev-1", Temperature: "abc"})
	var verr *validation.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if !verr.Has(validation.FieldTemperature, validation.KindInvalidNumber) {
		t.Errorf("fields = %+v, want temperature InvalidNumber", verr.Fields)
	}
	if repo.Count() != 0 {
		t.Errorf("Count = %d, want 0", repo.Count())
	}
}

func TestLatest(t *testing.T) {
	svc, _ := newTestService(t, time.Now())
	ctx := context.Background()

	for _, ts := range []int64{300, 100, 200} {
		if _, err := svc.Ingest(ctx, validation.Candidate{DeviceID: "dev-1", Temperature: float64(ts), Timestamp: ts}); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}

	latest, err := svc.Latest(ctx, " dev-1 ")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Timestamp != 300 {
		t.Errorf("Timestamp = %d, want 300", latest.Timestamp)
	}

	if _, err := svc.Latest(ctx, "nope"); !errors.Is(err, interfaces.ErrReadingNotFound) {
		t.Errorf("err = %v, want ErrReadingNotFound", err)
	}

	_, err = svc.Latest(ctx, "   ")
	var verr *validation.ValidationError
	if !errors.As(err, &verr) || !verr.Has(validation.FieldDeviceID, validation.KindMissingField) {
		t.Errorf("blank device: err = %v, want deviceId MissingField", err)
	}
}
