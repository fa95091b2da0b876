package rfcomm

import "sync"

// fakeIO is an in-memory rawIO for tests: Write appends to Sent, and
// Read drains Inbound in order, returning errPollTimeout once it is
// exhausted (mirroring the production fdIO's poll-timeout behavior).
type fakeIO struct {
	mu       sync.Mutex
	Inbound  [][]byte
	Sent     [][]byte
	closed   bool
	readOnce sync.Once
}

func newFakeIO(lines ...string) *fakeIO {
	f := &fakeIO{}
	for _, l := range lines {
		f.Inbound = append(f.Inbound, []byte(l))
	}
	return f
}

func (f *fakeIO) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Inbound) == 0 {
		return 0, errPollTimeout
	}
	next := f.Inbound[0]
	f.Inbound = f.Inbound[1:]
	n := copy(p, next)
	return n, nil
}

func (f *fakeIO) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte{}, p...)
	f.Sent = append(f.Sent, cp)
	return len(p), nil
}

func (f *fakeIO) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
