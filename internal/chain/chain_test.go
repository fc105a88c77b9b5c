package chain

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/openwager/wagerd/internal/domain"
	"github.com/openwager/wagerd/internal/state/memory"
)

func TestHeightStartsAtZero(t *testing.T) {
	src := NewSource(memory.New())

	h, err := src.Height(context.Background())
	if err != nil {
		t.Fatalf("height: %v", err)
	}
	if h != 0 {
		t.Errorf("height = %d, want 0", h)
	}
}

func TestAdvance(t *testing.T) {
	src := NewSource(memory.New())
	ctx := context.Background()

	h, err := src.Advance(ctx, 5)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if h != 5 {
		t.Errorf("height = %d, want 5", h)
	}

	h, err = src.Advance(ctx, 1)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if h != 6 {
		t.Errorf("height = %d, want 6", h)
	}

	if _, err := src.Advance(ctx, math.MaxUint64); !errors.Is(err, domain.ErrInvalidParams) {
		t.Errorf("overflow advance: got %v, want ErrInvalidParams", err)
	}

	// Failed advance leaves the height unchanged.
	h, err = src.Height(ctx)
	if err != nil {
		t.Fatalf("height: %v", err)
	}
	if h != 6 {
		t.Errorf("height = %d, want 6", h)
	}
}
