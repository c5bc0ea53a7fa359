package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tickethub/tms/internal/domain"
)

func testCampaign() domain.Campaign {
	return domain.Campaign{
		ID:        "camp-1",
		SellerID:  "seller-1",
		Title:     "Summer Fest",
		Status:    domain.CampaignStatusActive,
		EventDate: time.Now().Add(30 * 24 * time.Hour),
		TicketTypes: map[string]domain.TicketType{
			"GA":  {PriceMinor: 5000, Quantity: 100},
			"VIP": {PriceMinor: 15000, Quantity: 10},
		},
	}
}

func TestWithinTxCommit(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	err := store.WithinTx(ctx, func(tx domain.Tx) error {
		if err := tx.Campaigns().Create(testCampaign()); err != nil {
			return err
		}
		return tx.Bookings().Create(domain.Booking{
			ID:         "bk-1",
			CampaignID: "camp-1",
			CustomerID: "cust-1",
			TicketType: "GA",
			Quantity:   2,
			Status:     domain.BookingStatusPending,
		})
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}

	err = store.WithinTx(ctx, func(tx domain.Tx) error {
		if _, err := tx.Campaigns().Get("camp-1"); err != nil {
			return err
		}
		_, err := tx.Bookings().Get("bk-1")
		return err
	})
	if err != nil {
		t.Fatalf("read after commit: %v", err)
	}
}

func TestWithinTxRollback(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if err := store.WithinTx(ctx, func(tx domain.Tx) error {
		return tx.Campaigns().Create(testCampaign())
	}); err != nil {
		t.Fatalf("seed campaign: %v", err)
	}

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(tx domain.Tx) error {
		campaign, err := tx.Campaigns().Get("camp-1")
		if err != nil {
			return err
		}
		if err := campaign.AdjustInventory("GA", 5); err != nil {
			return err
		}
		if err := tx.Campaigns().Save(campaign); err != nil {
			return err
		}
		if err := tx.Bookings().Create(domain.Booking{ID: "bk-rollback", CampaignID: "camp-1"}); err != nil {
			return err
		}
		if _, err := tx.Outbox().Enqueue(domain.OutboxMessage{EventType: "booking.created"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error to surface, got %v", err)
	}

	// Ни одна запись транзакции не должна пережить откат.
	err = store.WithinTx(ctx, func(tx domain.Tx) error {
		campaign, err := tx.Campaigns().Get("camp-1")
		if err != nil {
			return err
		}
		if sold := campaign.TicketTypes["GA"].Sold; sold != 0 {
			t.Errorf("expected GA sold rolled back to 0, got %d", sold)
		}
		if _, err := tx.Bookings().Get("bk-rollback"); !errors.Is(err, domain.ErrBookingNotFound) {
			t.Errorf("expected booking rolled back, got err=%v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read after rollback: %v", err)
	}

	if pending := store.Outbox().(*outboxView).AllPending(); len(pending) != 0 {
		t.Fatalf("expected outbox rolled back, got %d pending", len(pending))
	}
}

func TestWithinTxContextCancelled(t *testing.T) {
	store := NewStore()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.WithinTx(ctx, func(tx domain.Tx) error {
		t.Fatal("fn must not run with cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCampaignSaveVersionConflict(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if err := store.WithinTx(ctx, func(tx domain.Tx) error {
		return tx.Campaigns().Create(testCampaign())
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := store.WithinTx(ctx, func(tx domain.Tx) error {
		campaign, err := tx.Campaigns().Get("camp-1")
		if err != nil {
			return err
		}
		campaign.Version = 42
		return tx.Campaigns().Save(campaign)
	})
	if !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

// Конкурентные выводы средств: успешными могут стать только заявки,
// префиксная сумма которых укладывается в available.
func TestConcurrentWithdrawalHolds(t *testing.T) {
	store := NewStore()
	store.SeedBalance(domain.SellerBalance{SellerID: "seller-1", AvailableMinor: 10000})
	ctx := context.Background()

	const workers = 8
	const amount = 3000

	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.WithinTx(ctx, func(tx domain.Tx) error {
				_, err := tx.Ledger().HoldForWithdrawal("seller-1", amount)
				return err
			})
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		if !domain.IsInsufficientBalance(err) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 3 {
		t.Fatalf("expected exactly 3 holds to succeed, got %d", succeeded)
	}

	err := store.WithinTx(ctx, func(tx domain.Tx) error {
		balance, err := tx.Ledger().GetBalance("seller-1")
		if err != nil {
			return err
		}
		if balance.AvailableMinor != 1000 {
			t.Errorf("expected available 1000, got %d", balance.AvailableMinor)
		}
		if balance.PendingMinor != 9000 {
			t.Errorf("expected pending 9000, got %d", balance.PendingMinor)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read balance: %v", err)
	}
}

func TestLedgerDebitNeverNegative(t *testing.T) {
	store := NewStore()
	store.SeedBalance(domain.SellerBalance{SellerID: "seller-1", AvailableMinor: 500})
	ctx := context.Background()

	err := store.WithinTx(ctx, func(tx domain.Tx) error {
		_, err := tx.Ledger().DebitAvailable("seller-1", 501)
		return err
	})
	if !domain.IsInsufficientBalance(err) {
		t.Fatalf("expected InsufficientBalanceError, got %v", err)
	}

	var insufficient *domain.InsufficientBalanceError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected typed InsufficientBalanceError, got %T", err)
	}
	if insufficient.AvailableMinor != 500 || insufficient.RequestedMinor != 501 {
		t.Fatalf("unexpected error payload: %+v", insufficient)
	}
}

func TestWaitlistListActiveOrdering(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	entries := []domain.WaitlistEntry{
		{ID: "w-low-old", CampaignID: "camp-1", TicketType: "GA", Priority: 0, Status: domain.WaitlistStatusActive, CreatedAt: base},
		{ID: "w-high", CampaignID: "camp-1", TicketType: "GA", Priority: 5, Status: domain.WaitlistStatusActive, CreatedAt: base.Add(time.Hour)},
		{ID: "w-low-new", CampaignID: "camp-1", TicketType: "GA", Priority: 0, Status: domain.WaitlistStatusActive, CreatedAt: base.Add(2 * time.Hour)},
		{ID: "w-other-type", CampaignID: "camp-1", TicketType: "VIP", Priority: 9, Status: domain.WaitlistStatusActive, CreatedAt: base},
		{ID: "w-notified", CampaignID: "camp-1", TicketType: "GA", Priority: 9, Status: domain.WaitlistStatusNotified, CreatedAt: base},
	}

	if err := store.WithinTx(ctx, func(tx domain.Tx) error {
		for _, e := range entries {
			if err := tx.Waitlist().Add(e); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("seed waitlist: %v", err)
	}

	err := store.WithinTx(ctx, func(tx domain.Tx) error {
		active, err := tx.Waitlist().ListActive("camp-1", "GA")
		if err != nil {
			return err
		}
		want := []string{"w-high", "w-low-old", "w-low-new"}
		if len(active) != len(want) {
			t.Fatalf("expected %d entries, got %d", len(want), len(active))
		}
		for i, id := range want {
			if active[i].ID != id {
				t.Errorf("position %d: expected %s, got %s", i, id, active[i].ID)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
}

func TestOutboxLifecycle(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	var enqueued domain.OutboxMessage
	err := store.WithinTx(ctx, func(tx domain.Tx) error {
		msg, err := tx.Outbox().Enqueue(domain.OutboxMessage{
			AggregateType: "booking",
			AggregateID:   "bk-1",
			EventType:     "booking.created",
			Payload:       []byte(`{"booking_id":"bk-1"}`),
		})
		enqueued = msg
		return err
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if enqueued.ID == "" {
		t.Fatal("expected generated message ID")
	}

	outbox := store.Outbox()
	pending, err := outbox.PullPending(10)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != enqueued.ID {
		t.Fatalf("unexpected pending set: %+v", pending)
	}

	stats, err := outbox.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 1 || stats.OldestPendingAt.IsZero() {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if err := outbox.MarkSent(enqueued.ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	pending, err = outbox.PullPending(10)
	if err != nil {
		t.Fatalf("pull after mark sent: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty pending set, got %d", len(pending))
	}

	if err := outbox.MarkSent("missing"); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("expected ErrOutboxPublish for unknown id, got %v", err)
	}
}

func TestListExpiredPendingOrder(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	bookings := []domain.Booking{
		{ID: "bk-late", Status: domain.BookingStatusPending, PaymentDeadline: now.Add(-time.Minute)},
		{ID: "bk-early", Status: domain.BookingStatusPending, PaymentDeadline: now.Add(-time.Hour)},
		{ID: "bk-future", Status: domain.BookingStatusPending, PaymentDeadline: now.Add(time.Hour)},
		{ID: "bk-paid", Status: domain.BookingStatusConfirmed, PaymentDeadline: now.Add(-time.Hour)},
	}
	if err := store.WithinTx(ctx, func(tx domain.Tx) error {
		for _, b := range bookings {
			if err := tx.Bookings().Create(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := store.WithinTx(ctx, func(tx domain.Tx) error {
		expired, err := tx.Bookings().ListExpiredPending(now, 10)
		if err != nil {
			return err
		}
		if len(expired) != 2 {
			t.Fatalf("expected 2 expired bookings, got %d", len(expired))
		}
		if expired[0].ID != "bk-early" || expired[1].ID != "bk-late" {
			t.Fatalf("unexpected order: %s, %s", expired[0].ID, expired[1].ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
}
