package feed

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"quantbot-go/internal/execution"
	"quantbot-go/internal/signal"
)

func TestCSVFeedReadsAndResets(t *testing.T) {
	f, err := NewCSVFeed("testdata/ticks.csv", "BTC-USDT")
	require.NoError(t, err)
	require.Equal(t, 3, f.Len())

	ctx := context.Background()
	first, err := f.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "BTC-USDT", first.InstrumentID)
	require.True(t, first.HasQuote())
	require.InDelta(t, 100.0, first.Mid(), 1e-9)

	second, err := f.Next(ctx)
	require.NoError(t, err)
	require.False(t, second.HasQuote())
	require.Equal(t, 101.0, second.Mid())

	_, err = f.Next(ctx)
	require.NoError(t, err)
	_, err = f.Next(ctx)
	require.ErrorIs(t, err, ErrExhausted)

	f.Reset()
	again, err := f.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, first, again)
}

func TestCSVFeedRejectsNonIncreasingTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	body := "ts,last\n1000,1\n1000,2\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	_, err := NewCSVFeed(path, "BTC-USDT")
	require.Error(t, err)
	require.Contains(t, err.Error(), "line 3")
}

func TestCSVFeedInterleavesInstruments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "basis.csv")
	body := "ts,inst_id,last\n1000,,100\n1000,BTC-USDT-SWAP,101\n2000,BTC-USDT,102\n2000,BTC-USDT-SWAP,103\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	f, err := NewCSVFeed(path, "BTC-USDT")
	require.NoError(t, err)
	require.Equal(t, []string{"BTC-USDT", "BTC-USDT-SWAP"}, f.Instruments())

	var got []string
	for {
		tick, err := f.Next(context.Background())
		if errors.Is(err, ErrExhausted) {
			break
		}
		require.NoError(t, err)
		got = append(got, tick.InstrumentID)
	}
	require.Equal(t, []string{"BTC-USDT", "BTC-USDT-SWAP", "BTC-USDT", "BTC-USDT-SWAP"}, got)
}

func TestCSVFeedOrdersTimestampsPerInstrument(t *testing.T) {
	cases := map[string]string{
		"repeat per instrument": "ts,inst_id,last\n1000,A,1\n1000,B,1\n1000,A,2\n",
		"backwards overall":     "ts,inst_id,last\n1000,A,1\n2000,B,1\n1500,A,2\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.csv")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := NewCSVFeed(path, "A")
			require.ErrorContains(t, err, "line 4")
		})
	}
}

func TestCSVFeedRequiresColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nolast.csv")
	require.NoError(t, os.WriteFile(path, []byte("ts,price\n1,2\n"), 0o644))
	_, err := NewCSVFeed(path, "BTC-USDT")
	require.ErrorContains(t, err, `missing "last" column`)
}

func TestStubFeedIsDeterministic(t *testing.T) {
	ctx := context.Background()
	a := NewStubFeed([]string{"BTC-USDT", "ETH-USDT"}, 100, 0.1, 4)
	b := NewStubFeed([]string{"BTC-USDT", "ETH-USDT"}, 100, 0.1, 4)
	for i := 0; i < 4; i++ {
		ta, err := a.Next(ctx)
		require.NoError(t, err)
		tb, _ := b.Next(ctx)
		require.Equal(t, ta, tb)
	}
	_, err := a.Next(ctx)
	require.ErrorIs(t, err, ErrExhausted)

	c := NewStubFeed([]string{"BTC-USDT", "ETH-USDT"}, 100, 0.5, 0)
	t1, _ := c.Next(ctx)
	t2, _ := c.Next(ctx)
	t3, _ := c.Next(ctx)
	require.Equal(t, t1.Last, t2.Last)
	require.InDelta(t, 100.5, t3.Last, 1e-9)
	require.True(t, t3.Ts.After(t1.Ts))
}

type fakeTickerSource struct {
	mu    sync.Mutex
	calls int
	errs  map[string]error
}

func (s *fakeTickerSource) Ticker(_ context.Context, id string) (signal.Tick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := s.errs[id]; err != nil {
		return signal.Tick{}, err
	}
	return signal.Tick{InstrumentID: id, Ts: time.Now(), Last: 100 + float64(s.calls)}, nil
}

func TestPollingFeedSkipsTransientErrors(t *testing.T) {
	src := &fakeTickerSource{errs: map[string]error{"ETH-USDT": execution.Transient("ticker", errors.New("503"))}}
	f := NewPollingFeed(src, []string{"BTC-USDT", "ETH-USDT"}, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		tick, err := f.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, "BTC-USDT", tick.InstrumentID)
	}
	require.NoError(t, f.Close())
	_, err := f.Next(ctx)
	require.ErrorIs(t, err, ErrExhausted)
}

func TestPollingFeedReturnsPermanentErrors(t *testing.T) {
	src := &fakeTickerSource{errs: map[string]error{"BTC-USDT": errors.New("instrument not found")}}
	f := NewPollingFeed(src, []string{"BTC-USDT"}, time.Millisecond, zerolog.Nop())
	_, err := f.Next(context.Background())
	require.ErrorContains(t, err, "instrument not found")
}

func TestPollingFeedHonoursContext(t *testing.T) {
	src := &fakeTickerSource{}
	f := NewPollingFeed(src, []string{"BTC-USDT"}, time.Hour, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	_, err := f.Next(ctx)
	require.NoError(t, err)
	cancel()
	_, err = f.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestQueueDropOldest(t *testing.T) {
	q := NewQueue("test", 3, DropOldest)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		require.NoError(t, q.Push(ctx, signal.Tick{InstrumentID: "X", Last: float64(i)}))
	}
	require.Equal(t, uint64(2), q.Dropped())
	require.Equal(t, 3, q.Len())
	for _, want := range []float64{3, 4, 5} {
		tick, err := q.Pop(ctx)
		require.NoError(t, err)
		require.Equal(t, want, tick.Last)
	}
}

func TestQueueBlockWaitsForConsumer(t *testing.T) {
	q := NewQueue("test", 1, Block)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, signal.Tick{Last: 1}))

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, q.Push(short, signal.Tick{Last: 2}), context.DeadlineExceeded)

	pushed := make(chan error, 1)
	go func() { pushed <- q.Push(ctx, signal.Tick{Last: 3}) }()
	tick, err := q.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, 1.0, tick.Last)
	require.NoError(t, <-pushed)
	require.Zero(t, q.Dropped())
}

func TestParseOverflowPolicy(t *testing.T) {
	p, err := ParseOverflowPolicy("")
	require.NoError(t, err)
	require.Equal(t, DropOldest, p)
	p, err = ParseOverflowPolicy("BLOCK")
	require.NoError(t, err)
	require.Equal(t, Block, p)
	_, err = ParseOverflowPolicy("lifo")
	require.Error(t, err)
}

func TestStreamFeedDrainsThenExhausts(t *testing.T) {
	run := func(ctx context.Context, emit func(signal.Tick) error) error {
		for _, tick := range PriceSeries("BTC-USDT", 1, 2, 3) {
			if err := emit(tick); err != nil {
				return err
			}
		}
		return nil
	}
	f := NewStreamFeed(context.Background(), "test", run, NewQueue("test", 8, Block), zerolog.Nop())
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, want := range []float64{1, 2, 3} {
		tick, err := f.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, want, tick.Last)
	}
	_, err := f.Next(ctx)
	require.ErrorIs(t, err, ErrExhausted)
}

func TestStreamFeedPropagatesSourceError(t *testing.T) {
	boom := errors.New("handshake failed")
	run := func(context.Context, func(signal.Tick) error) error { return boom }
	f := NewStreamFeed(context.Background(), "test", run, NewQueue("test", 1, DropOldest), zerolog.Nop())
	_, err := f.Next(context.Background())
	require.ErrorIs(t, err, boom)
	require.NoError(t, f.Close())
}

func TestStreamFeedCloseStopsSource(t *testing.T) {
	started := make(chan struct{})
	run := func(ctx context.Context, emit func(signal.Tick) error) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	f := NewStreamFeed(context.Background(), "test", run, NewQueue("test", 1, DropOldest), zerolog.Nop())
	<-started
	require.NoError(t, f.Close())
	_, err := f.Next(context.Background())
	require.ErrorIs(t, err, ErrExhausted)
}
