package providers

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"ragpipe/internal/util"
)

type scriptedProvider struct {
	calls  [][]string
	failAt int
	short  bool
}

func (s *scriptedProvider) Embed(_ context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	s.calls = append(s.calls, req.Inputs)
	if len(s.calls)-1 == s.failAt {
		return nil, ProviderInfo{Name: "scripted"}, errors.New("upstream 503")
	}
	n := len(req.Inputs)
	if s.short {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		var v float32
		fmt.Sscanf(req.Inputs[i], "t%f", &v)
		out[i] = []float32{v}
	}
	return out, ProviderInfo{Name: "scripted"}, nil
}

func inputs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("t%d", i)
	}
	return out
}

func TestBatchClientPreservesOrder(t *testing.T) {
	p := &scriptedProvider{failAt: -1}
	c := NewBatchClient(p, 32, 1, nil)
	vectors, err := c.Embed(context.Background(), "ingest", inputs(70))
	require.NoError(t, err)
	require.Len(t, p.calls, 3)
	require.Len(t, p.calls[2], 6)
	require.Len(t, vectors, 70)
	for i, v := range vectors {
		require.Equal(t, float32(i), v[0])
	}
}

func TestBatchClientFailsFastWithBatchIndex(t *testing.T) {
	p := &scriptedProvider{failAt: 1}
	c := NewBatchClient(p, 32, 1, nil)
	var seen []int
	err := c.EmbedBatches(context.Background(), "ingest", inputs(100), func(start int, _ [][]float32) error {
		seen = append(seen, start)
		return nil
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, util.ErrProvider))
	var pe *util.ProviderError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, 1, pe.Batch)
	require.Equal(t, []int{0}, seen)
	require.Len(t, p.calls, 2)
}

func TestBatchClientRejectsCountMismatch(t *testing.T) {
	p := &scriptedProvider{failAt: -1, short: true}
	_, err := NewBatchClient(p, 8, 1, nil).Embed(context.Background(), "ingest", inputs(3))
	require.ErrorIs(t, err, util.ErrProvider)
}

func TestBatchClientEmbedQuery(t *testing.T) {
	c := NewBatchClient(NewMockProvider(8), 32, 8, nil)
	v, err := c.EmbedQuery(context.Background(), "what is chunking")
	require.NoError(t, err)
	require.Len(t, v, 8)
}
