package pool

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHandle_DoneSelectable(t *testing.T) {
	p := newTestPool(t, 1)

	h, err := p.Submit(func(ctx context.Context) (any, error) { return "v", nil })
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	select {
	case <-h.Done():
		if v, err := h.Get(); err != nil || v.(string) != "v" {
			t.Errorf("Get() = %v, %v, want v, nil", v, err)
		}
	case <-time.After(time.Second):
		t.Fatal("Done() never closed")
	}
}

func TestHandle_GetContextExpiry(t *testing.T) {
	p := newTestPool(t, 1)

	gate := make(chan struct{})
	h, err := p.Submit(func(ctx context.Context) (any, error) {
		<-gate
		return "late", nil
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := h.GetContext(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("GetContext() error = %v, want DeadlineExceeded", err)
	}

	// The outcome stays retrievable after an expired read.
	close(gate)
	if v, err := h.Get(); err != nil || v.(string) != "late" {
		t.Errorf("Get() = %v, %v, want late, nil", v, err)
	}
}

func TestHandle_ConcurrentReaders(t *testing.T) {
	p := newTestPool(t, 1)

	h, err := p.Submit(func(ctx context.Context) (any, error) { return 7, nil })
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	results := make(chan int, 3)
	for i := 0; i < 3; i++ {
		go func() {
			v, err := h.Get()
			if err != nil {
				results <- -1
				return
			}
			results <- v.(int)
		}()
	}
	for i := 0; i < 3; i++ {
		select {
		case v := <-results:
			if v != 7 {
				t.Errorf("reader got %d, want 7", v)
			}
		case <-time.After(time.Second):
			t.Fatal("reader never returned")
		}
	}
}

func TestHandle_UnnamedString(t *testing.T) {
	h := newHandle("")
	if h.String() != h.ID().String() {
		t.Errorf("String() = %q, want the ID %q", h.String(), h.ID().String())
	}
}
