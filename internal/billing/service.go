package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bher20/telebill/internal/storage"
	"github.com/bher20/telebill/internal/tariff"
)

var (
	// ErrInvalidRecord is returned when a call record fails validation.
	ErrInvalidRecord = errors.New("invalid call record")
	// ErrInvalidPeriod is returned when a billing period cannot be parsed.
	ErrInvalidPeriod = errors.New("invalid period")
)

// phoneRe matches two-digit area code plus an 8 or 9 digit number.
var phoneRe = regexp.MustCompile(`^\d{2}\d{8,9}$`)

// Service records call events and builds subscriber bills.
type Service struct {
	store storage.Storage
	calc  *tariff.Calculator
	loc   *time.Location

	// now is swappable for tests.
	now func() time.Time
}

// NewService creates a billing service. A nil location falls back to
// time.Local.
func NewService(store storage.Storage, calc *tariff.Calculator, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{store: store, calc: calc, loc: loc, now: time.Now}
}

// Location returns the reference timezone bills are computed in.
func (s *Service) Location() *time.Location {
	return s.loc
}

// RecordCall validates and stores one call event. Timestamps are normalized
// to the service timezone before storage.
func (s *Service) RecordCall(ctx context.Context, rec storage.CallRecord) error {
	if rec.CallID == "" {
		return fmt.Errorf("%w: call_id is required", ErrInvalidRecord)
	}
	if rec.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidRecord)
	}
	switch rec.Type {
	case storage.RecordTypeStart:
		if !phoneRe.MatchString(rec.Source) {
			return fmt.Errorf("%w: source %q is not a valid phone number", ErrInvalidRecord, rec.Source)
		}
		if !phoneRe.MatchString(rec.Destination) {
			return fmt.Errorf("%w: destination %q is not a valid phone number", ErrInvalidRecord, rec.Destination)
		}
	case storage.RecordTypeEnd:
		// End records carry no phone numbers.
		rec.Source = ""
		rec.Destination = ""
	default:
		return fmt.Errorf("%w: type must be %q or %q", ErrInvalidRecord, storage.RecordTypeStart, storage.RecordTypeEnd)
	}
	rec.Timestamp = rec.Timestamp.In(s.loc)
	return s.store.SaveCallRecord(ctx, rec)
}

// ResolvePeriod parses a "YYYY-MM" period into its half-open window
// [from, to) in the service timezone. An empty period means the previous
// month, the latest period guaranteed to be closed.
func (s *Service) ResolvePeriod(period string) (from, to time.Time, label string, err error) {
	if period == "" {
		n := s.now().In(s.loc)
		from = time.Date(n.Year(), n.Month()-1, 1, 0, 0, 0, 0, s.loc)
	} else {
		from, err = time.ParseInLocation("2006-01", period, s.loc)
		if err != nil {
			return time.Time{}, time.Time{}, "", fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
		}
	}
	to = from.AddDate(0, 1, 0)
	return from, to, from.Format("2006-01"), nil
}

// BuildBill computes the bill for one subscriber and period. Bills for closed
// periods are cached as snapshots since their inputs can no longer change.
func (s *Service) BuildBill(ctx context.Context, phoneNumber, period string) (*Bill, error) {
	if !phoneRe.MatchString(phoneNumber) {
		return nil, fmt.Errorf("%w: phone number %q", ErrInvalidRecord, phoneNumber)
	}
	from, to, label, err := s.ResolvePeriod(period)
	if err != nil {
		return nil, err
	}

	closed := !to.After(s.now().In(s.loc))
	if closed {
		snap, err := s.store.GetBillSnapshot(ctx, phoneNumber, label)
		if err != nil {
			return nil, fmt.Errorf("load bill snapshot: %w", err)
		}
		if snap != nil {
			var bill Bill
			if err := json.Unmarshal(snap.Payload, &bill); err == nil {
				return &bill, nil
			}
			// Corrupt snapshot: recompute and overwrite below.
			log.Printf("billing: discarding unreadable snapshot for %s %s", phoneNumber, label)
		}
	}

	bill, err := s.computeBill(ctx, phoneNumber, label, from, to)
	if err != nil {
		return nil, err
	}

	if closed {
		payload, err := json.Marshal(bill)
		if err != nil {
			return nil, fmt.Errorf("encode bill snapshot: %w", err)
		}
		if err := s.store.SaveBillSnapshot(ctx, storage.BillSnapshot{
			PhoneNumber: phoneNumber,
			Period:      label,
			Payload:     payload,
		}); err != nil {
			// Caching is best effort; the computed bill is still good.
			log.Printf("billing: save snapshot for %s %s: %v", phoneNumber, label, err)
		}
	}
	return bill, nil
}

// computeBill walks the end records of the window, pairs each with its start
// record and prices the call. A call belongs to the period its end record
// falls in. End records without a start, or whose start belongs to another
// subscriber, are skipped.
func (s *Service) computeBill(ctx context.Context, phoneNumber, label string, from, to time.Time) (*Bill, error) {
	ends, err := s.store.ListEndRecords(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list end records: %w", err)
	}

	bill := &Bill{
		PhoneNumber: phoneNumber,
		Period:      label,
		Total:       decimal.Zero,
		Calls:       []LineItem{},
	}
	for _, end := range ends {
		start, err := s.store.GetCallRecord(ctx, end.CallID, storage.RecordTypeStart)
		if err != nil {
			return nil, fmt.Errorf("load start record for call %s: %w", end.CallID, err)
		}
		if start == nil || start.Source != phoneNumber {
			continue
		}
		startedAt := start.Timestamp.In(s.loc)
		endedAt := end.Timestamp.In(s.loc)

		price, err := s.calc.Price(startedAt, endedAt)
		if err != nil {
			return nil, fmt.Errorf("price call %s: %w", end.CallID, err)
		}
		bill.Calls = append(bill.Calls, LineItem{
			Destination: start.Destination,
			StartedAt:   startedAt,
			Duration:    tariff.FormatDuration(endedAt.Sub(startedAt)),
			Price:       price,
		})
		bill.Total = bill.Total.Add(price)
	}
	sort.SliceStable(bill.Calls, func(i, j int) bool {
		return bill.Calls[i].StartedAt.Before(bill.Calls[j].StartedAt)
	})
	return bill, nil
}

// SubscribersForPeriod returns the distinct subscribers with at least one
// billable call ending inside [from, to). Used by the batch workers to fan
// out bill generation.
func (s *Service) SubscribersForPeriod(ctx context.Context, from, to time.Time) ([]string, error) {
	ends, err := s.store.ListEndRecords(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list end records: %w", err)
	}
	seen := make(map[string]bool)
	var subscribers []string
	for _, end := range ends {
		start, err := s.store.GetCallRecord(ctx, end.CallID, storage.RecordTypeStart)
		if err != nil {
			return nil, fmt.Errorf("load start record for call %s: %w", end.CallID, err)
		}
		if start == nil || start.Source == "" || seen[start.Source] {
			continue
		}
		seen[start.Source] = true
		subscribers = append(subscribers, start.Source)
	}
	sort.Strings(subscribers)
	return subscribers, nil
}
