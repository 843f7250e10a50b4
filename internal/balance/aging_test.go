package balance

import (
	"testing"

	"condominio/internal/core"
)

func TestBucketFor(t *testing.T) {
	tests := []struct {
		days int
		want string
	}{
		{0, Bucket0To30},
		{30, Bucket0To30},
		{31, Bucket31To60},
		{60, Bucket31To60},
		{61, Bucket61To90},
		{90, Bucket61To90},
		{91, BucketOver90},
		{400, BucketOver90},
	}
	for _, tt := range tests {
		if got := bucketFor(tt.days); got != tt.want {
			t.Errorf("bucketFor(%d) = %s, want %s", tt.days, got, tt.want)
		}
	}
}

func TestAgeApartmentSingleCharge(t *testing.T) {
	apt := core.Apartment{ID: 1, Number: 1}
	entries := []core.LedgerEntry{
		{Amount: 250_00, Type: core.EntryChargeIssued, Date: core.NewDate(2025, 1, 15)},
	}

	item, indebted := ageApartment(apt, entries, core.NewDate(2025, 3, 1))
	if !indebted {
		t.Fatalf("apartment with an unpaid charge must be indebted")
	}
	if item.Outstanding != 250_00 {
		t.Errorf("outstanding = %d, want 25000", item.Outstanding)
	}
	if item.AgeDays != 45 {
		t.Errorf("age = %d days, want 45", item.AgeDays)
	}
	if item.Bucket != Bucket31To60 {
		t.Errorf("bucket = %s, want %s", item.Bucket, Bucket31To60)
	}
}

func TestAgeApartmentFIFOPartialPayment(t *testing.T) {
	apt := core.Apartment{ID: 1, Number: 1}
	entries := []core.LedgerEntry{
		{Amount: 100_00, Type: core.EntryChargeIssued, Date: core.NewDate(2025, 1, 1)},
		{Amount: 100_00, Type: core.EntryChargeIssued, Date: core.NewDate(2025, 2, 1)},
		{Amount: -100_00, Type: core.EntryPaymentReceived, Date: core.NewDate(2025, 2, 10)},
		{Amount: -40_00, Type: core.EntryPaymentReceived, Date: core.NewDate(2025, 2, 20)},
	}

	// Payments cover January fully and February partially, so the debt
	// ages from February's charge.
	item, indebted := ageApartment(apt, entries, core.NewDate(2025, 3, 1))
	if !indebted {
		t.Fatalf("apartment must be indebted")
	}
	if item.Outstanding != 60_00 {
		t.Errorf("outstanding = %d, want 6000", item.Outstanding)
	}
	if !item.OldestUnpaid.Equal(core.NewDate(2025, 2, 1).Time) {
		t.Errorf("oldest unpaid = %s, want 2025-02-01", item.OldestUnpaid.Format("2006-01-02"))
	}
	if item.Bucket != Bucket0To30 {
		t.Errorf("bucket = %s, want %s", item.Bucket, Bucket0To30)
	}
}

func TestAgeApartmentTokenPaymentsKeepOriginalAge(t *testing.T) {
	// Four equal apartments share a 400.00 expense charged 120 days ago,
	// each later paying a token 1.00 at a different age. A payment that does
	// not retire the oldest charge never resets the clock: every apartment
	// stays aged from the original charge date, regardless of when its
	// payment landed.
	asOf := core.NewDate(2025, 5, 1)
	charged := core.Date{Time: asOf.AddDate(0, 0, -120)}
	paymentAges := []int{10, 40, 70, 120}

	for i, age := range paymentAges {
		apt := core.Apartment{ID: int64(i + 1), Number: i + 1}
		entries := []core.LedgerEntry{
			{Amount: 100_00, Type: core.EntryChargeIssued, Date: charged},
			{Amount: -1_00, Type: core.EntryPaymentReceived, Date: core.Date{Time: asOf.AddDate(0, 0, -age)}},
		}
		item, indebted := ageApartment(apt, entries, asOf)
		if !indebted {
			t.Fatalf("apartment %d must be indebted", apt.Number)
		}
		if item.Outstanding != 99_00 {
			t.Errorf("apartment %d outstanding = %d, want 9900", apt.Number, item.Outstanding)
		}
		if !item.OldestUnpaid.Equal(charged.Time) {
			t.Errorf("apartment %d oldest unpaid = %s, want the original charge date",
				apt.Number, item.OldestUnpaid.Format("2006-01-02"))
		}
		if item.Bucket != BucketOver90 {
			t.Errorf("apartment %d bucket = %s, want %s", apt.Number, item.Bucket, BucketOver90)
		}
	}
}

func TestAgeApartmentIgnoresFutureEntries(t *testing.T) {
	apt := core.Apartment{ID: 1, Number: 1}
	entries := []core.LedgerEntry{
		{Amount: 100_00, Type: core.EntryChargeIssued, Date: core.NewDate(2025, 1, 1)},
		{Amount: -100_00, Type: core.EntryPaymentReceived, Date: core.NewDate(2025, 4, 1)},
	}

	item, indebted := ageApartment(apt, entries, core.NewDate(2025, 2, 1))
	if !indebted {
		t.Fatalf("payment after the report date must not settle the debt")
	}
	if item.Outstanding != 100_00 {
		t.Errorf("outstanding = %d, want 10000", item.Outstanding)
	}
}

func TestAgeApartmentSettled(t *testing.T) {
	apt := core.Apartment{ID: 1, Number: 1}
	entries := []core.LedgerEntry{
		{Amount: 100_00, Type: core.EntryChargeIssued, Date: core.NewDate(2025, 1, 1)},
		{Amount: -100_00, Type: core.EntryPaymentReceived, Date: core.NewDate(2025, 1, 15)},
	}
	if _, indebted := ageApartment(apt, entries, core.NewDate(2025, 2, 1)); indebted {
		t.Errorf("settled apartment must not appear in the report")
	}

	credit := []core.LedgerEntry{
		{Amount: 100_00, Type: core.EntryChargeIssued, Date: core.NewDate(2025, 1, 1)},
		{Amount: -120_00, Type: core.EntryPaymentReceived, Date: core.NewDate(2025, 1, 15)},
	}
	if _, indebted := ageApartment(apt, credit, core.NewDate(2025, 2, 1)); indebted {
		t.Errorf("apartment in credit must not appear in the report")
	}
}
