package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bher20/telebill/internal/storage"
	"github.com/bher20/telebill/internal/tariff"
)

var testLoc = time.FixedZone("BRT", -3*3600)

func newTestService(t *testing.T, now time.Time) (*Service, storage.Storage) {
	t.Helper()
	store := storage.NewMemory()
	t.Cleanup(func() { store.Close() })

	svc := NewService(store, tariff.NewCalculator(tariff.DefaultRate(), testLoc), testLoc)
	svc.now = func() time.Time { return now }
	return svc, store
}

func saveCall(t *testing.T, store storage.Storage, callID, source, destination string, start, end time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.SaveCallRecord(ctx, storage.CallRecord{
		CallID:      callID,
		Type:        storage.RecordTypeStart,
		Timestamp:   start,
		Source:      source,
		Destination: destination,
	}))
	require.NoError(t, store.SaveCallRecord(ctx, storage.CallRecord{
		CallID:    callID,
		Type:      storage.RecordTypeEnd,
		Timestamp: end,
	}))
}

func TestBuildBillMatchedAndOrphanRecords(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2023, 12, 5, 12, 0, 0, 0, testLoc)
	svc, store := newTestService(t, now)

	// One complete call.
	saveCall(t, store, "70", "99988526423", "9933468278",
		time.Date(2023, 10, 12, 8, 0, 0, 0, testLoc),
		time.Date(2023, 10, 12, 8, 10, 0, 0, testLoc))

	// An end record with no matching start contributes nothing.
	require.NoError(t, store.SaveCallRecord(ctx, storage.CallRecord{
		CallID:    "71",
		Type:      storage.RecordTypeEnd,
		Timestamp: time.Date(2023, 10, 13, 9, 0, 0, 0, testLoc),
	}))

	bill, err := svc.BuildBill(ctx, "99988526423", "2023-10")
	require.NoError(t, err)

	require.Len(t, bill.Calls, 1)
	assert.Equal(t, "99988526423", bill.PhoneNumber)
	assert.Equal(t, "2023-10", bill.Period)
	assert.Equal(t, "9933468278", bill.Calls[0].Destination)
	assert.Equal(t, "0h10m0s", bill.Calls[0].Duration)
	assert.Equal(t, "1.26", bill.Calls[0].Price.StringFixed(2))
	assert.Equal(t, "1.26", bill.Total.StringFixed(2))
}

func TestBuildBillSkipsOtherSubscribers(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2023, 12, 5, 12, 0, 0, 0, testLoc)
	svc, store := newTestService(t, now)

	saveCall(t, store, "80", "11911111111", "11922222222",
		time.Date(2023, 10, 3, 10, 0, 0, 0, testLoc),
		time.Date(2023, 10, 3, 10, 5, 0, 0, testLoc))

	bill, err := svc.BuildBill(ctx, "11933333333", "2023-10")
	require.NoError(t, err)
	assert.Empty(t, bill.Calls)
	assert.True(t, bill.Total.IsZero())
}

func TestBuildBillPeriodMatchesEndRecord(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 5, 12, 0, 0, 0, testLoc)
	svc, store := newTestService(t, now)

	// Starts in October, ends in November: bills in November only.
	saveCall(t, store, "90", "11911111111", "11922222222",
		time.Date(2023, 10, 31, 21, 57, 13, 0, testLoc),
		time.Date(2023, 11, 1, 22, 17, 53, 0, testLoc))

	oct, err := svc.BuildBill(ctx, "11911111111", "2023-10")
	require.NoError(t, err)
	assert.Empty(t, oct.Calls)

	nov, err := svc.BuildBill(ctx, "11911111111", "2023-11")
	require.NoError(t, err)
	require.Len(t, nov.Calls, 1)
	assert.Equal(t, "24h20m40s", nov.Calls[0].Duration)
}

func TestBuildBillOrdersAndTotals(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2023, 12, 5, 12, 0, 0, 0, testLoc)
	svc, store := newTestService(t, now)

	// Saved out of order on purpose.
	saveCall(t, store, "2", "11911111111", "11922222222",
		time.Date(2023, 10, 20, 23, 0, 0, 0, testLoc),
		time.Date(2023, 10, 20, 23, 10, 0, 0, testLoc)) // reduced: 0.36
	saveCall(t, store, "1", "11911111111", "11933333333",
		time.Date(2023, 10, 10, 8, 0, 0, 0, testLoc),
		time.Date(2023, 10, 10, 8, 10, 0, 0, testLoc)) // standard: 1.26
	saveCall(t, store, "3", "11911111111", "11944444444",
		time.Date(2023, 10, 25, 21, 59, 0, 0, testLoc),
		time.Date(2023, 10, 25, 22, 1, 0, 0, testLoc)) // boundary: 0.45

	bill, err := svc.BuildBill(ctx, "11911111111", "2023-10")
	require.NoError(t, err)

	require.Len(t, bill.Calls, 3)
	assert.Equal(t, "11933333333", bill.Calls[0].Destination)
	assert.Equal(t, "11922222222", bill.Calls[1].Destination)
	assert.Equal(t, "11944444444", bill.Calls[2].Destination)
	assert.Equal(t, "2.07", bill.Total.StringFixed(2))
}

func TestBuildBillCachesClosedPeriods(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2023, 12, 5, 12, 0, 0, 0, testLoc)
	svc, store := newTestService(t, now)

	saveCall(t, store, "100", "11911111111", "11922222222",
		time.Date(2023, 10, 10, 8, 0, 0, 0, testLoc),
		time.Date(2023, 10, 10, 8, 10, 0, 0, testLoc))

	_, err := svc.BuildBill(ctx, "11911111111", "2023-10")
	require.NoError(t, err)

	snap, err := store.GetBillSnapshot(ctx, "11911111111", "2023-10")
	require.NoError(t, err)
	require.NotNil(t, snap, "closed period should be snapshotted")

	// Second build is served from the snapshot.
	bill, err := svc.BuildBill(ctx, "11911111111", "2023-10")
	require.NoError(t, err)
	assert.Equal(t, "1.26", bill.Total.StringFixed(2))
}

func TestBuildBillDoesNotCacheOpenPeriods(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2023, 10, 20, 12, 0, 0, 0, testLoc)
	svc, store := newTestService(t, now)

	saveCall(t, store, "110", "11911111111", "11922222222",
		time.Date(2023, 10, 10, 8, 0, 0, 0, testLoc),
		time.Date(2023, 10, 10, 8, 10, 0, 0, testLoc))

	_, err := svc.BuildBill(ctx, "11911111111", "2023-10")
	require.NoError(t, err)

	snap, err := store.GetBillSnapshot(ctx, "11911111111", "2023-10")
	require.NoError(t, err)
	assert.Nil(t, snap, "open period must not be snapshotted")
}

func TestResolvePeriod(t *testing.T) {
	now := time.Date(2023, 11, 18, 10, 0, 0, 0, testLoc)
	svc, _ := newTestService(t, now)

	from, to, label, err := svc.ResolvePeriod("")
	require.NoError(t, err)
	assert.Equal(t, "2023-10", label)
	assert.Equal(t, time.Date(2023, 10, 1, 0, 0, 0, 0, testLoc), from)
	assert.Equal(t, time.Date(2023, 11, 1, 0, 0, 0, 0, testLoc), to)

	_, _, label, err = svc.ResolvePeriod("2023-02")
	require.NoError(t, err)
	assert.Equal(t, "2023-02", label)

	for _, bad := range []string{"2023", "2023-13", "10/2023", "latest"} {
		_, _, _, err := svc.ResolvePeriod(bad)
		assert.ErrorIs(t, err, ErrInvalidPeriod, "period %q", bad)
	}
}

func TestBuildBillRejectsBadPhoneNumber(t *testing.T) {
	svc, _ := newTestService(t, time.Date(2023, 12, 5, 12, 0, 0, 0, testLoc))

	for _, bad := range []string{"", "123", "abcdefghij", "119876543210123"} {
		_, err := svc.BuildBill(context.Background(), bad, "2023-10")
		assert.ErrorIs(t, err, ErrInvalidRecord, "phone %q", bad)
	}
}

func TestRecordCallValidation(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, time.Date(2023, 12, 5, 12, 0, 0, 0, testLoc))

	ts := time.Date(2023, 10, 10, 8, 0, 0, 0, testLoc)
	cases := []struct {
		name string
		rec  storage.CallRecord
	}{
		{"missing call id", storage.CallRecord{Type: storage.RecordTypeStart, Timestamp: ts, Source: "11911111111", Destination: "11922222222"}},
		{"missing timestamp", storage.CallRecord{CallID: "1", Type: storage.RecordTypeStart, Source: "11911111111", Destination: "11922222222"}},
		{"bad type", storage.CallRecord{CallID: "1", Type: "hangup", Timestamp: ts}},
		{"bad source", storage.CallRecord{CallID: "1", Type: storage.RecordTypeStart, Timestamp: ts, Source: "9", Destination: "11922222222"}},
		{"bad destination", storage.CallRecord{CallID: "1", Type: storage.RecordTypeStart, Timestamp: ts, Source: "11911111111", Destination: "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, svc.RecordCall(ctx, tc.rec), ErrInvalidRecord)
		})
	}

	require.NoError(t, svc.RecordCall(ctx, storage.CallRecord{
		CallID: "1", Type: storage.RecordTypeStart, Timestamp: ts,
		Source: "11911111111", Destination: "11922222222",
	}))
	// End records need no phone numbers; duplicates surface the storage error.
	require.NoError(t, svc.RecordCall(ctx, storage.CallRecord{
		CallID: "1", Type: storage.RecordTypeEnd, Timestamp: ts.Add(time.Minute),
	}))
	assert.ErrorIs(t, svc.RecordCall(ctx, storage.CallRecord{
		CallID: "1", Type: storage.RecordTypeEnd, Timestamp: ts.Add(time.Minute),
	}), storage.ErrDuplicateRecord)

	rec, err := store.GetCallRecord(ctx, "1", storage.RecordTypeStart)
	require.NoError(t, err)
	require.NotNil(t, rec)
}

func TestSubscribersForPeriod(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2023, 12, 5, 12, 0, 0, 0, testLoc)
	svc, store := newTestService(t, now)

	saveCall(t, store, "1", "11911111111", "11922222222",
		time.Date(2023, 10, 10, 8, 0, 0, 0, testLoc),
		time.Date(2023, 10, 10, 8, 10, 0, 0, testLoc))
	saveCall(t, store, "2", "11933333333", "11922222222",
		time.Date(2023, 10, 11, 8, 0, 0, 0, testLoc),
		time.Date(2023, 10, 11, 8, 10, 0, 0, testLoc))
	saveCall(t, store, "3", "11911111111", "11944444444",
		time.Date(2023, 10, 12, 8, 0, 0, 0, testLoc),
		time.Date(2023, 10, 12, 8, 10, 0, 0, testLoc))

	from, to, _, err := svc.ResolvePeriod("2023-10")
	require.NoError(t, err)

	subs, err := svc.SubscribersForPeriod(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, []string{"11911111111", "11933333333"}, subs)
}
