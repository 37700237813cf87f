package ws

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeMember struct {
	id     string
	userID int64

	mu     sync.Mutex
	frames [][]byte
	full   bool
	closed bool
}

func newFakeMember(id string, userID int64) *fakeMember {
	return &fakeMember{id: id, userID: userID}
}

func (f *fakeMember) ID() string    { return f.id }
func (f *fakeMember) UserID() int64 { return f.userID }

func (f *fakeMember) Deliver(payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full || f.closed {
		return false
	}
	f.frames = append(f.frames, payload)
	return true
}

func (f *fakeMember) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeMember) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

func (f *fakeMember) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestRegistryAddAndRemove(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	a := newFakeMember("a", 1)

	r.Add(1, a)
	r.Add(1, a)
	assert.Len(t, r.Members(1), 1)
	assert.Equal(t, []int64{1}, r.Rooms(a))
	assert.True(t, r.InRoom(1, a))

	r.Remove(1, a)
	assert.Empty(t, r.Members(1))
	assert.Empty(t, r.Snapshot())
	assert.False(t, r.InRoom(1, a))
}

func TestRegistryRemoveAllIsIdempotent(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	a := newFakeMember("a", 1)
	b := newFakeMember("b", 2)

	r.Add(3, a)
	r.Add(1, a)
	r.Add(1, b)

	assert.Equal(t, []int64{1, 3}, r.RemoveAll(a))
	assert.Empty(t, r.RemoveAll(a))
	assert.Empty(t, r.RemoveAll(newFakeMember("unknown", 9)))

	snap := r.Snapshot()
	assert.Len(t, snap, 1)
	assert.Equal(t, int64(1), snap[0].ChatID)
	assert.Equal(t, []MemberSnapshot{{ConnID: "b", UserID: 2}}, snap[0].Members)
}

func TestRegistryBroadcastIsolatesRooms(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	a := newFakeMember("a", 1)
	b := newFakeMember("b", 2)
	other := newFakeMember("c", 3)

	r.Add(1, a)
	r.Add(1, b)
	r.Add(2, other)

	n := r.Broadcast(1, []byte("hello"))

	assert.Equal(t, 2, n)
	assert.Len(t, a.received(), 1)
	assert.Len(t, b.received(), 1)
	assert.Empty(t, other.received())
}

func TestRegistryBroadcastEvictsSlowMembers(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	fast := newFakeMember("fast", 1)
	slow := newFakeMember("slow", 2)
	slow.full = true

	r.Add(1, fast)
	r.Add(1, slow)
	r.Add(2, slow)

	n := r.Broadcast(1, []byte("hello"))

	assert.Equal(t, 1, n)
	assert.True(t, slow.isClosed())
	assert.Empty(t, r.Rooms(slow))
	assert.Len(t, r.Members(1), 1)
	assert.Empty(t, r.Members(2))
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := newFakeMember(string(rune('a'+i)), int64(i))
			r.Add(int64(i%3), m)
			r.Broadcast(int64(i%3), []byte("x"))
			r.RemoveAll(m)
		}(i)
	}
	wg.Wait()
	assert.Empty(t, r.Snapshot())
}
