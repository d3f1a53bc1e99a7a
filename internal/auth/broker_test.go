package auth_test

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pkordes/tripsync/internal/auth"
)

// recorder collects identities a listener received.
type recorder struct {
	mu  sync.Mutex
	got []string
}

func (r *recorder) handle(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, identity)
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func TestBroker_RegisterCallsImmediately(t *testing.T) {
	b := auth.NewBroker()
	signedOut := &recorder{}
	b.OnIdentityChanged(signedOut.handle)

	b.SignIn("u1")
	signedIn := &recorder{}
	b.OnIdentityChanged(signedIn.handle)

	assert.Equal(t, []string{"", "u1"}, signedOut.events())
	assert.Equal(t, []string{"u1"}, signedIn.events())
}

func TestBroker_EventsInOrder(t *testing.T) {
	b := auth.NewBroker()
	r := &recorder{}
	b.OnIdentityChanged(r.handle)

	b.SignIn("u1")
	b.SignIn("u2")
	b.SignOut()
	b.SignIn("u1")

	assert.Equal(t, []string{"", "u1", "u2", "", "u1"}, r.events())
	assert.Equal(t, "u1", b.Current())
}

func TestBroker_SameIdentityIsNotRepeated(t *testing.T) {
	b := auth.NewBroker()
	r := &recorder{}
	b.OnIdentityChanged(r.handle)

	b.SignIn("u1")
	b.SignIn("u1")
	b.SignOut()
	b.SignOut()

	assert.Equal(t, []string{"", "u1", ""}, r.events())
}

func TestBroker_Unsubscribe(t *testing.T) {
	b := auth.NewBroker()
	r := &recorder{}
	unsubscribe := b.OnIdentityChanged(r.handle)

	unsubscribe()
	b.SignIn("u1")

	assert.Equal(t, []string{""}, r.events())
}

// TestBroker_ListenersNeverOverlap signs in from many goroutines and checks
// that no two deliveries run at the same time.
func TestBroker_ListenersNeverOverlap(t *testing.T) {
	b := auth.NewBroker()

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	listener := func(string) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		runtime.Gosched()

		mu.Lock()
		inFlight--
		mu.Unlock()
	}
	b.OnIdentityChanged(listener)
	b.OnIdentityChanged(listener)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				b.SignIn("u1")
			} else {
				b.SignOut()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInFlight)
}
