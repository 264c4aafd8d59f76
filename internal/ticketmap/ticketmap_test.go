package ticketmap

import "testing"

func TestPutAndLookupActive(t *testing.T) {
	s := New()
	s.PutActive("SLAVE_1", 100, 9000)
	got, ok := s.Active("SLAVE_1", 100)
	if !ok || got != 9000 {
		t.Fatalf("expected (9000, true), got (%d, %v)", got, ok)
	}
	if _, ok := s.Active("SLAVE_2", 100); ok {
		t.Fatal("expected no entry for a different slave")
	}
}

func TestPendingPromotion(t *testing.T) {
	s := New()
	s.PutPending("SLAVE_1", 100, 9001)

	master, ok := s.MasterTicketForPendingSlaveTicket("SLAVE_1", 9001)
	if !ok || master != 100 {
		t.Fatalf("expected (100, true), got (%d, %v)", master, ok)
	}

	s.PromotePending("SLAVE_1", 100, 9002)

	if _, ok := s.Pending("SLAVE_1", 100); ok {
		t.Fatal("expected pending entry removed after promotion")
	}
	got, ok := s.Active("SLAVE_1", 100)
	if !ok || got != 9002 {
		t.Fatalf("expected (9002, true), got (%d, %v)", got, ok)
	}
}

func TestRemoveActiveAndPending(t *testing.T) {
	s := New()
	s.PutActive("SLAVE_1", 1, 2)
	s.PutPending("SLAVE_1", 3, 4)
	s.RemoveActive("SLAVE_1", 1)
	s.RemovePending("SLAVE_1", 3)
	if _, ok := s.Active("SLAVE_1", 1); ok {
		t.Fatal("expected active entry removed")
	}
	if _, ok := s.Pending("SLAVE_1", 3); ok {
		t.Fatal("expected pending entry removed")
	}
}

func TestListActiveIsASnapshotCopy(t *testing.T) {
	s := New()
	s.PutActive("SLAVE_1", 1, 2)
	list := s.ListActive("SLAVE_1")
	list[99] = 99
	if _, ok := s.Active("SLAVE_1", 99); ok {
		t.Fatal("mutating the returned snapshot must not affect the store")
	}
}

func TestDropSlaveClearsBothMaps(t *testing.T) {
	s := New()
	s.PutActive("SLAVE_1", 1, 2)
	s.PutPending("SLAVE_1", 3, 4)
	s.DropSlave("SLAVE_1")
	if _, ok := s.Active("SLAVE_1", 1); ok {
		t.Fatal("expected active map cleared")
	}
	if _, ok := s.Pending("SLAVE_1", 3); ok {
		t.Fatal("expected pending map cleared")
	}
}
