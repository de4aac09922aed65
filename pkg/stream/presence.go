package stream

import (
	"sort"
	"sync"
	"time"
)

// Presence tracks which users are currently viewing a board. Entries expire
// after the TTL unless refreshed by a heartbeat.
type Presence struct {
	mu     sync.Mutex
	ttl    time.Duration
	boards map[string]map[string]time.Time
	now    func() time.Time
}

func NewPresence(ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Presence{
		ttl:    ttl,
		boards: map[string]map[string]time.Time{},
		now:    time.Now,
	}
}

// Touch records a heartbeat for a user on a board.
func (p *Presence) Touch(board, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	users, ok := p.boards[board]
	if !ok {
		users = map[string]time.Time{}
		p.boards[board] = users
	}
	users[userID] = p.now()
}

// Leave removes a user from a board immediately.
func (p *Presence) Leave(board, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if users, ok := p.boards[board]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(p.boards, board)
		}
	}
}

// Viewers returns the users with a live heartbeat on a board, sorted for
// stable output. Expired entries are pruned on read.
func (p *Presence) Viewers(board string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	users, ok := p.boards[board]
	if !ok {
		return nil
	}
	cutoff := p.now().Add(-p.ttl)
	out := make([]string, 0, len(users))
	for id, seen := range users {
		if seen.Before(cutoff) {
			delete(users, id)
			continue
		}
		out = append(out, id)
	}
	if len(users) == 0 {
		delete(p.boards, board)
	}
	sort.Strings(out)
	return out
}

// Sweep prunes expired entries across all boards.
func (p *Presence) Sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := p.now().Add(-p.ttl)
	for board, users := range p.boards {
		for id, seen := range users {
			if seen.Before(cutoff) {
				delete(users, id)
			}
		}
		if len(users) == 0 {
			delete(p.boards, board)
		}
	}
}
