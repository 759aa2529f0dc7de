// Package discovery implements nexachain's peer membership directory: the
// collaborator a node consults to find peers to dial at boot. It is
// grounded on original_source/ccoin/discovery.py's PeerDiscoveryService,
// with its sqlite3-backed member table replaced by the same
// goleveldb store the chain and world-state components already use (see
// DESIGN.md), and a small interface so the node package can swap in a
// fake for tests.
package discovery

import (
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Peer is one directory entry: a node's address, its dial-in host/port.
type Peer struct {
	ID   string `json:"id"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Directory is the membership collaborator every node implementation of
// §4.8's boot-time sync protocol dials peers through.
type Directory interface {
	AddMember(p Peer) error
	RemoveMember(id string) error
	Members() ([]Peer, error)
	Close() error
}

const memberKeyPrefix = "member-"

func memberKey(id string) []byte {
	return []byte(memberKeyPrefix + id)
}

// Store is a goleveldb-backed Directory.
type Store struct {
	db *leveldb.DB
}

// Open opens (creating if necessary) a directory store at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// AddMember upserts p, matching exec_insert's "INSERT OR REPLACE" behaviour.
func (s *Store) AddMember(p Peer) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.db.Put(memberKey(p.ID), data, nil)
}

// RemoveMember deletes the member with the given id, if present.
func (s *Store) RemoveMember(id string) error {
	return s.db.Delete(memberKey(id), nil)
}

// Members streams every registered peer, matching get_members.
func (s *Store) Members() ([]Peer, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(memberKeyPrefix)), nil)
	defer iter.Release()

	var out []Peer
	for iter.Next() {
		var p Peer
		if err := json.Unmarshal(iter.Value(), &p); err != nil {
			return nil, fmt.Errorf("discovery: decode member: %w", err)
		}
		out = append(out, p)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// StaticDirectory is an in-memory Directory seeded once at construction,
// for tests and for the "known validator set" case described in §6 where
// peers are declared statically rather than discovered.
type StaticDirectory struct {
	peers map[string]Peer
}

// NewStatic builds a StaticDirectory from peers.
func NewStatic(peers []Peer) *StaticDirectory {
	d := &StaticDirectory{peers: make(map[string]Peer, len(peers))}
	for _, p := range peers {
		d.peers[p.ID] = p
	}
	return d
}

func (d *StaticDirectory) AddMember(p Peer) error {
	d.peers[p.ID] = p
	return nil
}

func (d *StaticDirectory) RemoveMember(id string) error {
	delete(d.peers, id)
	return nil
}

func (d *StaticDirectory) Members() ([]Peer, error) {
	out := make([]Peer, 0, len(d.peers))
	for _, p := range d.peers {
		out = append(out, p)
	}
	return out, nil
}

func (d *StaticDirectory) Close() error { return nil }
