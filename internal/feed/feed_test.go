package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// the limiter's memory store only stops its cleaner from a finalizer
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("github.com/ulule/limiter/v3/drivers/store/memory.(*cleaner).Run"))
}

type row struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// fakeStream hands out events pushed by the test. Ending it makes Next fail
// like a dropped connection.
type fakeStream struct {
	events chan Event
	ended  chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan Event, 16), ended: make(chan struct{})}
}

func (s *fakeStream) Next(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case <-s.ended:
		return Event{}, errors.New("connection reset")
	case e := <-s.events:
		return e, nil
	}
}

func (s *fakeStream) end() {
	s.once.Do(func() { close(s.ended) })
}

func (s *fakeStream) Close() error {
	s.end()
	return nil
}

func (s *fakeStream) push(t *testing.T, eventType string, r row) {
	t.Helper()
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	s.events <- Event{Type: eventType, Data: data}
}

type fakeSource struct {
	mutex    sync.Mutex
	streams  chan *fakeStream
	failures int
	connects int
}

func newFakeSource() *fakeSource {
	return &fakeSource{streams: make(chan *fakeStream, 8)}
}

func (src *fakeSource) Connect(ctx context.Context) (Stream, error) {
	src.mutex.Lock()
	src.connects++
	if src.failures > 0 {
		src.failures--
		src.mutex.Unlock()
		return nil, errors.New("dial refused")
	}
	src.mutex.Unlock()

	s := newFakeStream()
	src.streams <- s
	return s, nil
}

func (src *fakeSource) next(t *testing.T) *fakeStream {
	t.Helper()
	select {
	case s := <-src.streams:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("feed never connected")
		return nil
	}
}

type changes struct {
	ch chan []row
}

func newChanges() *changes {
	return &changes{ch: make(chan []row, 32)}
}

func (c *changes) onChange(rows []row) {
	c.ch <- rows
}

// waitFor returns the first list satisfying ok.
func (c *changes) waitFor(t *testing.T, ok func([]row) bool) []row {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case rows := <-c.ch:
			if ok(rows) {
				return rows
			}
		case <-timeout:
			t.Fatal("timed out waiting for the list to change")
			return nil
		}
	}
}

func texts(rows []row) string {
	s := ""
	for _, r := range rows {
		s += r.Text + ","
	}
	return s
}

func testOptions(src Source, fetch func(context.Context) ([]row, error), c *changes) Options[row] {
	return Options[row]{
		ID:     func(r row) string { return r.ID },
		Fetch:  fetch,
		Source: src,
		Actions: map[string]Action{
			"Created":  Append,
			"Modified": Upsert,
			"Deleted":  Remove,
		},
		MaxRetries: 3,
		Backoff:    func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) },
		OnChange:   c.onChange,
	}
}

func staticFetch(rows ...row) func(context.Context) ([]row, error) {
	return func(context.Context) ([]row, error) {
		return append([]row(nil), rows...), nil
	}
}

func TestPushesAppendAndDedupe(t *testing.T) {
	src := newFakeSource()
	c := newChanges()

	f := Open(context.Background(), testOptions(src, staticFetch(row{"1", "a"}, row{"2", "b"}), c))
	defer f.Close()

	stream := src.next(t)
	c.waitFor(t, func(rows []row) bool { return len(rows) == 2 })

	// already on the initial page
	stream.push(t, "Created", row{"2", "b"})
	stream.push(t, "Created", row{"4", "d"})
	stream.push(t, "Created", row{"3", "c"})
	stream.push(t, "Ignored", row{"5", "e"})

	got := c.waitFor(t, func(rows []row) bool { return len(rows) == 4 })
	if texts(got) != "a,b,d,c," {
		t.Errorf("list got %s, want a,b,d,c, in arrival order", texts(got))
	}
}

func TestUpsertAndRemove(t *testing.T) {
	src := newFakeSource()
	c := newChanges()

	f := Open(context.Background(), testOptions(src, staticFetch(row{"1", "a"}, row{"2", "b"}, row{"3", "c"}), c))
	defer f.Close()

	stream := src.next(t)
	c.waitFor(t, func(rows []row) bool { return len(rows) == 3 })

	tests := []struct {
		name      string
		eventType string
		row       row
		want      string
	}{
		{"Edit in place", "Modified", row{"2", "B"}, "a,B,c,"},
		{"Upsert unknown appends", "Modified", row{"9", "z"}, "a,B,c,z,"},
		{"Remove", "Deleted", row{"1", ""}, "B,c,z,"},
		{"Edit after remove", "Modified", row{"3", "C"}, "B,C,z,"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream.push(t, tt.eventType, tt.row)
			got := c.waitFor(t, func(rows []row) bool { return texts(rows) == tt.want })
			if texts(got) != tt.want {
				t.Errorf("list got %s, want %s", texts(got), tt.want)
			}
		})
	}
}

func TestLateFetchAfterClose(t *testing.T) {
	src := newFakeSource()
	c := newChanges()

	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(context.Context) ([]row, error) {
		close(started)
		<-release
		return []row{{"1", "a"}}, nil
	}

	f := Open(context.Background(), testOptions(src, fetch, c))
	<-started

	closed := make(chan struct{})
	go func() {
		f.Close()
		close(closed)
	}()

	// let Close mark the feed before the response lands
	time.Sleep(20 * time.Millisecond)
	close(release)
	<-closed

	if items := f.Items(); len(items) != 0 {
		t.Errorf("expected late fetch to be dropped, got %v", items)
	}
	if f.Err() != nil {
		t.Errorf("expected no error after close, got %v", f.Err())
	}
}

func TestReconnectMerges(t *testing.T) {
	src := newFakeSource()
	c := newChanges()

	var mutex sync.Mutex
	page := []row{{"1", "a"}}
	fetch := func(context.Context) ([]row, error) {
		mutex.Lock()
		defer mutex.Unlock()
		return append([]row(nil), page...), nil
	}

	f := Open(context.Background(), testOptions(src, fetch, c))
	defer f.Close()

	first := src.next(t)
	c.waitFor(t, func(rows []row) bool { return len(rows) == 1 })

	// a row is written and another edited while the connection is down
	mutex.Lock()
	page = []row{{"1", "A"}, {"2", "b"}}
	mutex.Unlock()
	src.mutex.Lock()
	src.failures = 2
	src.mutex.Unlock()
	first.end()

	second := src.next(t)
	got := c.waitFor(t, func(rows []row) bool { return len(rows) == 2 })
	if texts(got) != "A,b," {
		t.Errorf("list after reconnect got %s, want A,b,", texts(got))
	}

	second.push(t, "Created", row{"3", "c"})
	c.waitFor(t, func(rows []row) bool { return len(rows) == 3 })

	select {
	case <-f.Dead():
		t.Error("feed shouldn't be dead after a successful reconnect")
	default:
	}
}

func TestGivesUp(t *testing.T) {
	src := newFakeSource()
	src.failures = 100
	c := newChanges()

	f := Open(context.Background(), testOptions(src, staticFetch(), c))
	defer f.Close()

	select {
	case <-f.Dead():
	case <-time.After(2 * time.Second):
		t.Fatal("feed never gave up")
	}

	if f.Err() == nil {
		t.Error("expected Err after giving up")
	}

	src.mutex.Lock()
	defer src.mutex.Unlock()
	// first try plus MaxRetries
	if src.connects != 4 {
		t.Errorf("connect attempts got %d, want 4", src.connects)
	}
}

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		want    string
		wantErr bool
	}{
		{"Event", "MessageCreated\n{\"id\":\"1\"}", "MessageCreated", false},
		{"No newline", "MessageCreated", "", true},
		{"No type", "\n{}", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := parseFrame([]byte(tt.frame))
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error, but there wasn't")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if event.Type != tt.want {
				t.Errorf("type got %q, want %q", event.Type, tt.want)
			}
			if len(event.Data) == 0 {
				t.Error("expected payload")
			}
		})
	}
}
