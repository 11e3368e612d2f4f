package msgctx_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fxsml/msgctx"
)

// countingFactory wraps BasicFactory and counts creations.
type countingFactory struct {
	msgctx.BasicFactory
	calls atomic.Int32
}

func (f *countingFactory) NewContext(ctx context.Context, id uuid.UUID) (msgctx.Basic, error) {
	f.calls.Add(1)
	return f.BasicFactory.NewContext(ctx, id)
}

func newTestProvider(t *testing.T) (*msgctx.Provider[msgctx.Basic], *msgctx.MemoryStore[msgctx.Basic], *countingFactory) {
	t.Helper()
	store := msgctx.NewMemoryStore[msgctx.Basic](msgctx.MemoryStoreConfig{})
	factory := &countingFactory{BasicFactory: msgctx.BasicFactory{Source: "/test"}}
	p := msgctx.NewProvider(msgctx.ProviderConfig[msgctx.Basic]{
		Store:   store,
		Factory: factory,
	})
	return p, store, factory
}

func headerFor(t *testing.T, mc msgctx.Basic) []byte {
	t.Helper()
	data, err := json.Marshal(mc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func decodeHeader(t *testing.T, header []byte) msgctx.Basic {
	t.Helper()
	var mc msgctx.Basic
	if err := json.Unmarshal(header, &mc); err != nil {
		t.Fatalf("unmarshal header %q: %v", header, err)
	}
	return mc
}

func TestProvider_Extract(t *testing.T) {
	t.Run("round-trips every field", func(t *testing.T) {
		p, store, _ := newTestProvider(t)

		want := msgctx.Basic{
			ID:        uuid.New(),
			Source:    "/orders",
			CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			Trace:     map[string]string{"traceparent": "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01"},
		}

		_, got, err := p.Extract(context.Background(), headerFor(t, want))
		if err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		if got.ID != want.ID || got.Source != want.Source || !got.CreatedAt.Equal(want.CreatedAt) {
			t.Errorf("expected %+v, got %+v", want, got)
		}
		if got.Trace["traceparent"] != want.Trace["traceparent"] {
			t.Errorf("expected trace %v, got %v", want.Trace, got.Trace)
		}
		if store.Len() != 1 {
			t.Errorf("expected 1 stored context, got %d", store.Len())
		}
	})

	t.Run("sets ambient correlation", func(t *testing.T) {
		p, _, _ := newTestProvider(t)
		id := uuid.New()

		ctx, _, err := p.Extract(context.Background(), headerFor(t, msgctx.Basic{ID: id}))
		if err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		if got := msgctx.CorrelationIDFromContext(ctx); got != id {
			t.Errorf("expected ambient id %s, got %s", id, got)
		}
		mc, ok := msgctx.MessageContextFromContext[msgctx.Basic](ctx)
		if !ok || mc.ID != id {
			t.Errorf("expected message context %s in ctx, got %+v (ok=%v)", id, mc, ok)
		}
	})

	t.Run("keeps first registered context", func(t *testing.T) {
		p, store, _ := newTestProvider(t)
		id := uuid.New()

		if _, _, err := p.Extract(context.Background(), headerFor(t, msgctx.Basic{ID: id, Source: "first"})); err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		_, got, err := p.Extract(context.Background(), headerFor(t, msgctx.Basic{ID: id, Source: "second"}))
		if err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		if got.Source != "second" {
			t.Errorf("expected decoded context returned, got source %q", got.Source)
		}

		stored, ok, _ := store.Get(context.Background(), id)
		if !ok || stored.Source != "first" {
			t.Errorf("expected stored source 'first', got %q (ok=%v)", stored.Source, ok)
		}
		if store.Len() != 1 {
			t.Errorf("expected 1 stored context, got %d", store.Len())
		}
	})
}

func TestProvider_Extract_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"nil", nil},
		{"invalid utf-8", []byte{0xff, 0xfe, 0xfd}},
		{"not json", []byte("not a context")},
		{"json null", []byte("null")},
		{"missing id", []byte(`{"Source":"/orders"}`)},
		{"nil id", []byte(`{"GlobalRequestId":"00000000-0000-0000-0000-000000000000"}`)},
		{"bad id", []byte(`{"GlobalRequestId":"abc"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, store, _ := newTestProvider(t)

			ctx, _, err := p.Extract(context.Background(), tt.raw)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, msgctx.ErrMalformedContext) {
				t.Errorf("expected ErrMalformedContext, got %v", err)
			}
			var mErr *msgctx.MalformedContextError
			if !errors.As(err, &mErr) {
				t.Errorf("expected *MalformedContextError, got %T", err)
			}
			if store.Len() != 0 {
				t.Errorf("expected empty store, got %d entries", store.Len())
			}
			if id := msgctx.CorrelationIDFromContext(ctx); id != uuid.Nil {
				t.Errorf("expected no ambient id, got %s", id)
			}
		})
	}
}

func TestProvider_Extract_PointerContext(t *testing.T) {
	p := msgctx.NewProvider(msgctx.ProviderConfig[*msgctx.Basic]{})

	if _, _, err := p.Extract(context.Background(), []byte("null")); !errors.Is(err, msgctx.ErrMalformedContext) {
		t.Errorf("expected ErrMalformedContext for null pointer context, got %v", err)
	}

	id := uuid.New()
	_, mc, err := p.Extract(context.Background(), headerFor(t, msgctx.Basic{ID: id}))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if mc == nil || mc.ID != id {
		t.Errorf("expected context %s, got %+v", id, mc)
	}
}

func TestProvider_OutboundHeader(t *testing.T) {
	t.Run("get-or-create is idempotent", func(t *testing.T) {
		p, store, factory := newTestProvider(t)
		id := uuid.New()

		first, err := p.OutboundHeader(context.Background(), id)
		if err != nil {
			t.Fatalf("OutboundHeader failed: %v", err)
		}
		second, err := p.OutboundHeader(context.Background(), id)
		if err != nil {
			t.Fatalf("OutboundHeader failed: %v", err)
		}

		if a, b := decodeHeader(t, first), decodeHeader(t, second); a.ID != id || b.ID != id {
			t.Errorf("expected both headers for %s, got %s and %s", id, a.ID, b.ID)
		}
		if string(first) != string(second) {
			t.Errorf("expected identical headers, got %s and %s", first, second)
		}
		if n := factory.calls.Load(); n != 1 {
			t.Errorf("expected 1 factory call, got %d", n)
		}
		if store.Len() != 1 {
			t.Errorf("expected 1 stored context, got %d", store.Len())
		}
	})

	t.Run("uses registered context", func(t *testing.T) {
		p, _, factory := newTestProvider(t)
		id := uuid.New()

		if _, _, err := p.Extract(context.Background(), headerFor(t, msgctx.Basic{ID: id, Source: "/inbound"})); err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		header, err := p.OutboundHeader(context.Background(), id)
		if err != nil {
			t.Fatalf("OutboundHeader failed: %v", err)
		}
		if mc := decodeHeader(t, header); mc.Source != "/inbound" {
			t.Errorf("expected registered context, got %+v", mc)
		}
		if n := factory.calls.Load(); n != 0 {
			t.Errorf("expected no factory call, got %d", n)
		}
	})

	t.Run("resolves ambient id", func(t *testing.T) {
		p, store, _ := newTestProvider(t)
		id := uuid.New()

		ctx, _, err := p.Extract(context.Background(), headerFor(t, msgctx.Basic{ID: id}))
		if err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		header, got, err := p.OutboundHeaderWithID(ctx)
		if err != nil {
			t.Fatalf("OutboundHeaderWithID failed: %v", err)
		}
		if got != id {
			t.Errorf("expected ambient id %s, got %s", id, got)
		}
		if mc := decodeHeader(t, header); mc.ID != id {
			t.Errorf("expected header for %s, got %s", id, mc.ID)
		}
		if store.Len() != 1 {
			t.Errorf("expected 1 stored context, got %d", store.Len())
		}
	})

	t.Run("explicit id wins over ambient", func(t *testing.T) {
		p, _, _ := newTestProvider(t)
		ambient, explicit := uuid.New(), uuid.New()

		ctx := msgctx.WithCorrelationID(context.Background(), ambient)
		header, err := p.OutboundHeader(ctx, explicit)
		if err != nil {
			t.Fatalf("OutboundHeader failed: %v", err)
		}
		if mc := decodeHeader(t, header); mc.ID != explicit {
			t.Errorf("expected explicit id %s, got %s", explicit, mc.ID)
		}
	})

	t.Run("generates id without ambient", func(t *testing.T) {
		p, store, factory := newTestProvider(t)

		header, id, err := p.OutboundHeaderWithID(context.Background())
		if err != nil {
			t.Fatalf("OutboundHeaderWithID failed: %v", err)
		}
		if id == uuid.Nil {
			t.Fatal("expected generated id")
		}
		if mc := decodeHeader(t, header); mc.ID != id || mc.Source != "/test" {
			t.Errorf("expected new context for %s, got %+v", id, mc)
		}
		if factory.calls.Load() != 1 || store.Len() != 1 {
			t.Errorf("expected one created context, got calls=%d len=%d", factory.calls.Load(), store.Len())
		}
	})
}

func TestProvider_OutboundHeader_Errors(t *testing.T) {
	t.Run("factory error is returned unchanged", func(t *testing.T) {
		factoryErr := errors.New("factory down")
		store := msgctx.NewMemoryStore[msgctx.Basic](msgctx.MemoryStoreConfig{})
		p := msgctx.NewProvider(msgctx.ProviderConfig[msgctx.Basic]{
			Store: store,
			Factory: msgctx.FactoryFunc[msgctx.Basic](func(ctx context.Context, id uuid.UUID) (msgctx.Basic, error) {
				return msgctx.Basic{}, factoryErr
			}),
		})

		_, err := p.OutboundHeader(context.Background(), uuid.New())
		if err != factoryErr {
			t.Errorf("expected %v, got %v", factoryErr, err)
		}
		if store.Len() != 0 {
			t.Errorf("expected empty store, got %d", store.Len())
		}
	})

	t.Run("factory id mismatch", func(t *testing.T) {
		p := msgctx.NewProvider(msgctx.ProviderConfig[msgctx.Basic]{
			Factory: msgctx.FactoryFunc[msgctx.Basic](func(ctx context.Context, id uuid.UUID) (msgctx.Basic, error) {
				return msgctx.Basic{ID: uuid.New()}, nil
			}),
		})

		_, err := p.OutboundHeader(context.Background(), uuid.New())
		if !errors.Is(err, msgctx.ErrIDMismatch) {
			t.Errorf("expected ErrIDMismatch, got %v", err)
		}
	})

	t.Run("no factory", func(t *testing.T) {
		p := msgctx.NewProvider(msgctx.ProviderConfig[msgctx.Basic]{})

		_, err := p.OutboundHeader(context.Background(), uuid.New())
		if !errors.Is(err, msgctx.ErrNoFactory) {
			t.Errorf("expected ErrNoFactory, got %v", err)
		}
	})
}

func TestProvider_ConcurrentCreate(t *testing.T) {
	p, store, factory := newTestProvider(t)
	id := uuid.New()

	const goroutines = 64
	headers := make([][]byte, goroutines)
	errs := make([]error, goroutines)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			headers[i], errs[i] = p.OutboundHeader(context.Background(), id)
		}()
	}
	close(start)
	wg.Wait()

	for i := range goroutines {
		if errs[i] != nil {
			t.Fatalf("goroutine %d: %v", i, errs[i])
		}
		if string(headers[i]) != string(headers[0]) {
			t.Errorf("goroutine %d: header %s differs from %s", i, headers[i], headers[0])
		}
	}
	if n := factory.calls.Load(); n != 1 {
		t.Errorf("expected 1 factory call, got %d", n)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 stored context, got %d", store.Len())
	}
}

func TestProvider_FlowIsolation(t *testing.T) {
	p, _, _ := newTestProvider(t)

	const flows = 32
	ids := make([]uuid.UUID, flows)
	headers := make([][]byte, flows)
	for i := range flows {
		ids[i] = uuid.New()
		headers[i] = headerFor(t, msgctx.Basic{ID: ids[i]})
	}

	var wg sync.WaitGroup
	errs := make(chan error, flows)
	for i := range flows {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, _, err := p.Extract(context.Background(), headers[i])
			if err != nil {
				errs <- err
				return
			}
			_, got, err := p.OutboundHeaderWithID(ctx)
			if err != nil {
				errs <- err
				return
			}
			if got != ids[i] {
				errs <- fmt.Errorf("flow %d observed id %s, want %s", i, got, ids[i])
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestProvider_Scenario(t *testing.T) {
	p, store, _ := newTestProvider(t)
	idA := uuid.New()

	// flow 1 receives A
	flow1, _, err := p.Extract(context.Background(), headerFor(t, msgctx.Basic{ID: idA}))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected store {A}, got %d entries", store.Len())
	}

	// flow 2 publishes without any correlation
	_, idB, err := p.OutboundHeaderWithID(context.Background())
	if err != nil {
		t.Fatalf("OutboundHeaderWithID failed: %v", err)
	}
	if idB == uuid.Nil || idB == idA {
		t.Fatalf("expected new id B, got %s", idB)
	}
	if store.Len() != 2 {
		t.Fatalf("expected store {A, B}, got %d entries", store.Len())
	}

	// flow 1 publishes within its correlation
	_, got, err := p.OutboundHeaderWithID(flow1)
	if err != nil {
		t.Fatalf("OutboundHeaderWithID failed: %v", err)
	}
	if got != idA {
		t.Errorf("expected flow 1 to resolve %s, got %s", idA, got)
	}
	if store.Len() != 2 {
		t.Errorf("expected store still {A, B}, got %d entries", store.Len())
	}
}

func TestProvider_LookupCurrentComplete(t *testing.T) {
	p, store, factory := newTestProvider(t)
	id := uuid.New()

	if _, ok, _ := p.Lookup(context.Background(), id); ok {
		t.Fatal("expected unknown id")
	}

	ctx, _, err := p.Extract(context.Background(), headerFor(t, msgctx.Basic{ID: id, Source: "/in"}))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	mc, ok, err := p.Current(ctx)
	if err != nil || !ok || mc.ID != id {
		t.Fatalf("expected current %s, got %+v ok=%v err=%v", id, mc, ok, err)
	}

	// id-only ambient resolves through the store
	mc, ok, err = p.Current(msgctx.WithCorrelationID(context.Background(), id))
	if err != nil || !ok || mc.Source != "/in" {
		t.Fatalf("expected stored context for %s, got %+v ok=%v err=%v", id, mc, ok, err)
	}

	if err := p.Complete(ctx, uuid.Nil); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("expected empty store after Complete, got %d", store.Len())
	}

	// completed id is created afresh
	if _, err := p.OutboundHeader(context.Background(), id); err != nil {
		t.Fatalf("OutboundHeader failed: %v", err)
	}
	if n := factory.calls.Load(); n != 1 {
		t.Errorf("expected 1 factory call after Complete, got %d", n)
	}

	if err := p.Complete(context.Background(), uuid.Nil); err != nil {
		t.Errorf("Complete without correlation should be a no-op, got %v", err)
	}
}
