package session

import (
	"sort"
	"sync"
	"time"

	"gridtown/internal/channel"
)

// Peer is one connected participant as surfaced to the UI layer.
type Peer struct {
	ID       string
	Name     string
	Color    string
	JoinedAt time.Time
}

// Roster tracks the live peer list for one room. A full presence sync
// rebuilds it wholesale; join/leave events patch it incrementally. The
// local peer is always present regardless of what the transport reports.
type Roster struct {
	mu       sync.Mutex
	local    Peer
	peers    map[string]Peer
	onChange func([]Peer)
}

func NewRoster(local Peer, onChange func([]Peer)) *Roster {
	r := &Roster{local: local, peers: make(map[string]Peer), onChange: onChange}
	r.peers[local.ID] = local
	return r
}

// Sync replaces the roster with the transport's full member list,
// re-inserting the local peer.
func (r *Roster) Sync(members []channel.Member) {
	r.mu.Lock()
	r.peers = make(map[string]Peer, len(members)+1)
	for _, m := range members {
		r.peers[m.ID] = peerFromMember(m)
	}
	r.peers[r.local.ID] = r.local
	peers := r.peersLocked()
	r.mu.Unlock()
	r.notify(peers)
}

// Join patches in one new peer.
func (r *Roster) Join(m channel.Member) {
	r.mu.Lock()
	if m.ID == r.local.ID {
		r.mu.Unlock()
		return
	}
	r.peers[m.ID] = peerFromMember(m)
	peers := r.peersLocked()
	r.mu.Unlock()
	r.notify(peers)
}

// Leave removes one peer. The local peer is never removed.
func (r *Roster) Leave(m channel.Member) {
	r.mu.Lock()
	if m.ID == r.local.ID {
		r.mu.Unlock()
		return
	}
	if _, ok := r.peers[m.ID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.peers, m.ID)
	peers := r.peersLocked()
	r.mu.Unlock()
	r.notify(peers)
}

// Peers returns the roster ordered by join time, then id for stability.
func (r *Roster) Peers() []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peersLocked()
}

// Count reports the roster size including the local peer.
func (r *Roster) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

func (r *Roster) peersLocked() []Peer {
	peers := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool {
		if !peers[i].JoinedAt.Equal(peers[j].JoinedAt) {
			return peers[i].JoinedAt.Before(peers[j].JoinedAt)
		}
		return peers[i].ID < peers[j].ID
	})
	return peers
}

func (r *Roster) notify(peers []Peer) {
	if r.onChange != nil {
		r.onChange(peers)
	}
}

func peerFromMember(m channel.Member) Peer {
	p := Peer{ID: m.ID, Name: m.Name, Color: m.Color}
	if m.JoinedAt > 0 {
		p.JoinedAt = time.UnixMilli(m.JoinedAt)
	}
	return p
}
