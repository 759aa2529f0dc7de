package discovery

import "testing"

func TestStoreAddRemoveMembers(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if err := s.AddMember(Peer{ID: "n1", Host: "10.0.0.1", Port: 7000}); err != nil {
		t.Fatalf("AddMember() error = %v", err)
	}
	if err := s.AddMember(Peer{ID: "n2", Host: "10.0.0.2", Port: 7000}); err != nil {
		t.Fatalf("AddMember() error = %v", err)
	}

	members, err := s.Members()
	if err != nil {
		t.Fatalf("Members() error = %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("Members() = %v, want 2 entries", members)
	}

	if err := s.RemoveMember("n1"); err != nil {
		t.Fatalf("RemoveMember() error = %v", err)
	}
	members, err = s.Members()
	if err != nil {
		t.Fatalf("Members() error = %v", err)
	}
	if len(members) != 1 || members[0].ID != "n2" {
		t.Errorf("Members() after removing n1 = %v, want only n2", members)
	}
}

func TestStoreAddMemberUpserts(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if err := s.AddMember(Peer{ID: "n1", Host: "10.0.0.1", Port: 7000}); err != nil {
		t.Fatalf("AddMember() error = %v", err)
	}
	if err := s.AddMember(Peer{ID: "n1", Host: "10.0.0.9", Port: 8000}); err != nil {
		t.Fatalf("AddMember() error = %v", err)
	}
	members, err := s.Members()
	if err != nil {
		t.Fatalf("Members() error = %v", err)
	}
	if len(members) != 1 || members[0].Host != "10.0.0.9" || members[0].Port != 8000 {
		t.Errorf("Members() after re-adding n1 = %v, want a single upserted entry", members)
	}
}

func TestStaticDirectory(t *testing.T) {
	d := NewStatic([]Peer{{ID: "n1", Host: "h1", Port: 1}, {ID: "n2", Host: "h2", Port: 2}})
	members, err := d.Members()
	if err != nil {
		t.Fatalf("Members() error = %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("Members() = %v, want 2", members)
	}
	if err := d.RemoveMember("n1"); err != nil {
		t.Fatalf("RemoveMember() error = %v", err)
	}
	members, err = d.Members()
	if err != nil {
		t.Fatalf("Members() error = %v", err)
	}
	if len(members) != 1 || members[0].ID != "n2" {
		t.Errorf("Members() after removing n1 = %v, want only n2", members)
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
}
