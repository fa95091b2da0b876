package shell

import (
	"context"
	"strings"
	"sync"
)

// FakeRunner maps exact command lines to canned Results for tests. A
// command line not present in Responses falls back to DefaultResult.
// Calls are recorded in order for assertion.
type FakeRunner struct {
	mu            sync.Mutex
	Responses     map[string]Result
	DefaultResult Result
	Calls         []string
}

// NewFakeRunner returns an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{Responses: map[string]Result{}}
}

// Run records the call and returns the canned response for line, or
// DefaultResult if none was registered.
func (f *FakeRunner) Run(_ context.Context, line string) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, line)
	if res, ok := f.Responses[line]; ok {
		return res, nil
	}
	return f.DefaultResult, nil
}

// CalledWithPrefix reports whether any recorded call starts with prefix.
func (f *FakeRunner) CalledWithPrefix(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}
