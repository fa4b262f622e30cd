package sourcemanager

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"testing"

	"github.com/AsgerHL/Bachelor-POC/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerOpenCaches(t *testing.T) {
	opens := 0
	model.RegisterOpener("test-cache", func(ctx context.Context, s model.Source, _ model.SourceManager) (any, func() error, error) {
		opens++
		return "cookie", nil, nil
	})

	m := New()
	s := &stubSource{typ: "test-cache", key: "a"}

	c1, err := m.Open(context.Background(), s)
	require.NoError(t, err)
	c2, err := m.Open(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, "cookie", c1)
	assert.Equal(t, c1, c2)
	assert.Equal(t, 1, opens)
	assert.Equal(t, 1, m.Len())
}

func TestManagerClearTearsDownInReverseOrder(t *testing.T) {
	var order []string
	model.RegisterOpener("test-lifo", func(ctx context.Context, s model.Source, _ model.SourceManager) (any, func() error, error) {
		key := s.(*stubSource).key
		return key, func() error {
			order = append(order, key)
			return nil
		}, nil
	})

	m := New()
	_, err := m.Open(context.Background(), &stubSource{typ: "test-lifo", key: "first"})
	require.NoError(t, err)
	_, err = m.Open(context.Background(), &stubSource{typ: "test-lifo", key: "second"})
	require.NoError(t, err)
	_, err = m.Open(context.Background(), &stubSource{typ: "test-lifo", key: "third"})
	require.NoError(t, err)

	errs := m.Clear()
	assert.Empty(t, errs)
	assert.Equal(t, []string{"third", "second", "first"}, order)
	assert.Equal(t, 0, m.Len())
}

func TestManagerOpenUnregisteredType(t *testing.T) {
	m := New()
	_, err := m.Open(context.Background(), &stubSource{typ: "no-such-type", key: "x"})
	assert.Error(t, err)
}

type stubSource struct {
	typ string
	key string
}

func (s *stubSource) Type() string                       { return s.typ }
func (s *stubSource) EqualityProperties() map[string]any { return map[string]any{"key": s.key} }
func (s *stubSource) Censor() model.Source                { return s }
func (s *stubSource) YieldsIndependentSources() bool      { return false }
func (s *stubSource) Handles(ctx context.Context, sm model.SourceManager) iter.Seq2[model.Handle, error] {
	return func(yield func(model.Handle, error) bool) {}
}
func (s *stubSource) ToJSON() (json.RawMessage, error) {
	return json.RawMessage(fmt.Sprintf(`{"type":%q,"key":%q}`, s.typ, s.key)), nil
}
