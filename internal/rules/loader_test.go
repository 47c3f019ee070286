package rules

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sliceRows iterates a fixed slice of rule texts.
type sliceRows struct {
	texts []string
	pos   int
	err   error
}

func (r *sliceRows) Next() bool {
	if r.pos >= len(r.texts) {
		return false
	}
	r.pos++
	return true
}

func (r *sliceRows) RuleText() (string, error) { return r.texts[r.pos-1], nil }
func (r *sliceRows) Err() error                { return r.err }
func (r *sliceRows) Close() error              { return nil }

// memSource is a mutable in-memory Source.
type memSource struct {
	mu      sync.Mutex
	texts   []string
	iterErr error
	openErr error
	onOpen  func()
}

func (s *memSource) EnactedRules(_ context.Context) (Rows, error) {
	if s.onOpen != nil {
		s.onOpen()
	}
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	texts := make([]string, len(s.texts))
	copy(texts, s.texts)
	return &sliceRows{texts: texts, err: s.iterErr}, nil
}

// set replaces the texts one row at a time, sleeping between rows, so a
// reader that is not excluded would observe a partial rule set.
func (s *memSource) set(texts []string) {
	s.mu.Lock()
	s.texts = s.texts[:0]
	s.mu.Unlock()
	for _, t := range texts {
		time.Sleep(time.Millisecond)
		s.mu.Lock()
		s.texts = append(s.texts, t)
		s.mu.Unlock()
	}
}

type recordingSink struct {
	global []Rule
	apps   map[UID][]Rule
	names  []string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{apps: make(map[UID][]Rule)}
}

func (s *recordingSink) AddGlobalRule(r Rule)       { s.global = append(s.global, r) }
func (s *recordingSink) AddAppRule(uid UID, r Rule) { s.apps[uid] = append(s.apps[uid], r) }
func (s *recordingSink) AllowApp(name string)       { s.names = append(s.names, name) }

// plainSink does not implement AppSink.
type plainSink struct{ n int }

func (s *plainSink) AddGlobalRule(Rule)   { s.n++ }
func (s *plainSink) AddAppRule(UID, Rule) { s.n++ }

func TestLoader_RoutesRules(t *testing.T) {
	src := &memSource{texts: []string{
		"# comment line",
		"allow host:example.com",
		"allow ipv4:1.2.3.4",
		"allow packagename:com.example host:a.com",
		"allow packagename:com.example ipv4:10.0.0.0/8",
		"allow host:a.com ipv4:1.2.3.4",
		"allow packagename:com.missing host:b.com",
		"allow packagename:com.example",
		"deny host:c.com",
	}}
	l := NewLoader(src, testResolver(map[string]UID{"com.example": 42}), testLogger())
	sink := newRecordingSink()

	stats, err := l.Load(context.Background(), sink)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := LoadStats{Rows: 9, Global: 2, App: 2, AppsOnly: 1, NotRules: 2, Rejected: 2}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
	if len(sink.global) != 2 {
		t.Fatalf("global rules = %d, want 2", len(sink.global))
	}
	if sink.global[0] != (DomainRule{Pattern: "example.com", Priority: 1}) {
		t.Errorf("global[0] = %v", sink.global[0])
	}
	if sink.global[1] != (IPRule{Pattern: "1.2.3.4", Priority: 1}) {
		t.Errorf("global[1] = %v", sink.global[1])
	}
	if len(sink.apps[42]) != 2 {
		t.Errorf("app rules for uid 42 = %d, want 2", len(sink.apps[42]))
	}
	if len(sink.names) != 1 || sink.names[0] != "com.example" {
		t.Errorf("allowed apps = %v, want [com.example]", sink.names)
	}
}

func TestLoader_AppOnlyRejectedWithoutAppSink(t *testing.T) {
	src := &memSource{texts: []string{"allow packagename:com.example"}}
	l := NewLoader(src, testResolver(map[string]UID{"com.example": 42}), testLogger())

	stats, err := l.Load(context.Background(), &plainSink{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if stats.Rejected != 1 || stats.AppsOnly != 0 {
		t.Errorf("stats = %+v, want 1 rejected", stats)
	}
}

func TestLoader_DuplicateFieldAbortsOnlyThatLine(t *testing.T) {
	src := &memSource{texts: []string{
		"allow host:a.com",
		"allow host:b.com host:c.com",
		"allow ipv4:1.2.3.4",
		"allow ipv4:1.1.1.1 ipv4:2.2.2.2",
	}}
	l := NewLoader(src, nil, testLogger())
	sink := newRecordingSink()

	stats, err := l.Load(context.Background(), sink)
	if !errors.Is(err, ErrDuplicateField) {
		t.Fatalf("Load() error = %v, want ErrDuplicateField", err)
	}
	var ie *InvariantError
	if !errors.As(err, &ie) {
		t.Fatalf("Load() error does not carry *InvariantError: %v", err)
	}
	if stats.Violations != 2 {
		t.Errorf("Violations = %d, want 2", stats.Violations)
	}
	if len(sink.global) != 2 {
		t.Errorf("global rules = %d, want 2 (valid lines still loaded)", len(sink.global))
	}
}

func TestLoader_SourceErrors(t *testing.T) {
	openErr := errors.New("db closed")
	l := NewLoader(&memSource{openErr: openErr}, nil, testLogger())
	if _, err := l.Load(context.Background(), newRecordingSink()); !errors.Is(err, openErr) {
		t.Errorf("Load() error = %v, want %v", err, openErr)
	}

	iterErr := errors.New("cursor broken")
	l = NewLoader(&memSource{texts: []string{"allow host:a.com"}, iterErr: iterErr}, nil, testLogger())
	if _, err := l.Load(context.Background(), newRecordingSink()); !errors.Is(err, iterErr) {
		t.Errorf("Load() error = %v, want %v", err, iterErr)
	}
}

func TestLoader_ConcurrentReadersDoNotBlockEachOther(t *testing.T) {
	const readers = 8

	var entered sync.WaitGroup
	entered.Add(readers)
	src := &memSource{
		texts: []string{"allow host:a.com", "allow ipv4:1.2.3.4"},
		onOpen: func() {
			// Every reader waits here until all readers are inside Load,
			// which only completes if the shared permit admits them together.
			entered.Done()
			entered.Wait()
		},
	}
	l := NewLoader(src, nil, testLogger())

	results := make(chan LoadStats, readers)
	for i := 0; i < readers; i++ {
		go func() {
			stats, _ := l.Load(context.Background(), newRecordingSink())
			results <- stats
		}()
	}

	timeout := time.After(5 * time.Second)
	var first LoadStats
	for i := 0; i < readers; i++ {
		select {
		case got := <-results:
			if i == 0 {
				first = got
			} else if got != first {
				t.Errorf("reader %d stats = %+v, want %+v", i, got, first)
			}
		case <-timeout:
			t.Fatal("readers blocked each other")
		}
	}
}

func TestLoader_ReaderNeverSeesPartialRuleSet(t *testing.T) {
	oldGen := []string{"allow host:old-1.com", "allow host:old-2.com"}
	newGen := []string{"allow host:new-1.com", "allow host:new-2.com", "allow host:new-3.com", "allow host:new-4.com"}

	src := &memSource{texts: append([]string(nil), oldGen...)}
	l := NewLoader(src, nil, testLogger())

	stop := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan string, 64)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				sink := newRecordingSink()
				stats, err := l.Load(context.Background(), sink)
				if err != nil {
					errs <- err.Error()
					return
				}
				if stats.Global != len(oldGen) && stats.Global != len(newGen) {
					errs <- "observed partial rule set"
					return
				}
			}
		}()
	}

	for i := 0; i < 5; i++ {
		gen := newGen
		if i%2 == 1 {
			gen = oldGen
		}
		if err := l.Exclusive(func() error {
			src.set(gen)
			return nil
		}); err != nil {
			t.Fatalf("Exclusive() error = %v", err)
		}
	}
	close(stop)
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Error(e)
	}
}

func TestLoader_ExclusiveReturnsError(t *testing.T) {
	l := NewLoader(&memSource{}, nil, testLogger())
	want := errors.New("write failed")
	if err := l.Exclusive(func() error { return want }); !errors.Is(err, want) {
		t.Errorf("Exclusive() error = %v, want %v", err, want)
	}
}
