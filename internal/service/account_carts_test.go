package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/go_cart/cart-engine/internal/cache"
	"github.com/fjod/go_cart/cart-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepository struct {
	m     sync.RWMutex
	lines []domain.CartLine
	err   error
	reads atomic.Int32
	// gate, when set, holds ReadAll until closed
	gate chan struct{}
	// afterSnapshot, when set, runs once ReadAll has copied the lines
	afterSnapshot func()
}

func (m *mockRepository) ReadAll(context.Context, string) ([]domain.CartLine, error) {
	m.reads.Add(1)
	if m.gate != nil {
		<-m.gate
	}
	m.m.RLock()
	lines, err := domain.CloneLines(m.lines), m.err
	m.m.RUnlock()
	if m.afterSnapshot != nil {
		m.afterSnapshot()
	}
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func (m *mockRepository) OverwriteAll(_ context.Context, _ string, lines []domain.CartLine) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	m.lines = domain.CloneLines(lines)
	return nil
}

func (m *mockRepository) DeleteAll(context.Context, string) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	m.lines = nil
	return nil
}

func (m *mockRepository) UpsertLine(_ context.Context, _ string, line domain.CartLine) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	if i := domain.IndexOf(m.lines, line.ProductID); i >= 0 {
		m.lines[i] = line
		return nil
	}
	m.lines = append(m.lines, line)
	return nil
}

func (m *mockRepository) DeleteLines(_ context.Context, _ string, productIDs ...int64) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, id := range productIDs {
		if i := domain.IndexOf(m.lines, id); i >= 0 {
			m.lines = append(m.lines[:i], m.lines[i+1:]...)
		}
	}
	return nil
}

type mockCache struct {
	m       sync.RWMutex
	lines   []domain.CartLine
	present bool
	version int64
	err     error
}

func (m *mockCache) Get(context.Context, string) ([]domain.CartLine, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	if !m.present {
		return nil, cache.ErrCacheMiss
	}
	return domain.CloneLines(m.lines), nil
}

func (m *mockCache) Version(context.Context, string) (int64, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.version, m.err
}

func (m *mockCache) Set(_ context.Context, _ string, lines []domain.CartLine, version int64) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	if version != m.version {
		return cache.ErrStaleVersion
	}
	m.lines = domain.CloneLines(lines)
	m.present = true
	return nil
}

func (m *mockCache) Delete(context.Context, string) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.version++
	m.lines = nil
	m.present = false
	return m.err
}

func (m *mockCache) cached() bool {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.present
}

func TestReadAll_CacheMissReadsRepositoryAndFillsCache(t *testing.T) {
	repo := &mockRepository{lines: []domain.CartLine{
		{ProductID: 1, Quantity: 5},
		{ProductID: 2, Quantity: 10},
	}}
	mockC := &mockCache{}

	sut := NewAccountCarts(repo, mockC, nil)
	got, err := sut.ReadAll(context.Background(), "123")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ProductID)
	assert.Equal(t, 10, got[1].Quantity)
	assert.True(t, mockC.cached(), "lines were not set in cache")
}

func TestReadAll_CacheHit(t *testing.T) {
	repo := &mockRepository{}
	mockC := &mockCache{present: true, lines: []domain.CartLine{{ProductID: 1, Quantity: 3}}}

	sut := NewAccountCarts(repo, mockC, nil)
	got, err := sut.ReadAll(context.Background(), "123")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Zero(t, repo.reads.Load(), "repository must not be read on a hit")
}

func TestReadAll_CacheErrorFallsBackToRepository(t *testing.T) {
	repo := &mockRepository{lines: []domain.CartLine{{ProductID: 1, Quantity: 1}}}
	mockC := &mockCache{err: errors.New("redis down")}

	sut := NewAccountCarts(repo, mockC, nil)
	got, err := sut.ReadAll(context.Background(), "123")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestReadAll_RepoError(t *testing.T) {
	repo := &mockRepository{err: fmt.Errorf("database error")}
	mockC := &mockCache{}

	sut := NewAccountCarts(repo, mockC, nil)
	got, err := sut.ReadAll(context.Background(), "123")
	require.ErrorContains(t, err, "database error")
	assert.Nil(t, got)
	assert.False(t, mockC.cached())
}

func TestReadAll_ConcurrentMissesShareOneRead(t *testing.T) {
	repo := &mockRepository{lines: []domain.CartLine{{ProductID: 1, Quantity: 1}}, gate: make(chan struct{})}
	sut := NewAccountCarts(repo, &mockCache{}, nil)

	const callers = 10
	var wg sync.WaitGroup
	results := make([][]domain.CartLine, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = sut.ReadAll(context.Background(), "123")
		}(i)
	}

	require.Eventually(t, func() bool { return repo.reads.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(repo.gate)
	wg.Wait()

	assert.LessOrEqual(t, repo.reads.Load(), int32(2))
	results[0][0].Quantity = 99
	assert.Equal(t, 1, results[1][0].Quantity, "callers must get independent slices")
}

func TestWritesInvalidateCache(t *testing.T) {
	line := domain.CartLine{ProductID: 1, Quantity: 2}
	writes := map[string]func(s *AccountCarts) error{
		"overwrite": func(s *AccountCarts) error {
			return s.OverwriteAll(context.Background(), "123", []domain.CartLine{line})
		},
		"delete all": func(s *AccountCarts) error { return s.DeleteAll(context.Background(), "123") },
		"upsert":     func(s *AccountCarts) error { return s.UpsertLine(context.Background(), "123", line) },
		"delete lines": func(s *AccountCarts) error {
			return s.DeleteLines(context.Background(), "123", 1)
		},
	}

	for name, write := range writes {
		t.Run(name, func(t *testing.T) {
			mockC := &mockCache{present: true}
			sut := NewAccountCarts(&mockRepository{}, mockC, nil)

			require.NoError(t, write(sut))
			assert.False(t, mockC.cached(), "cache was not invalidated")
		})

		t.Run(name+" failing", func(t *testing.T) {
			mockC := &mockCache{present: true}
			sut := NewAccountCarts(&mockRepository{err: errors.New("database error")}, mockC, nil)

			require.ErrorContains(t, write(sut), "database error")
			assert.False(t, mockC.cached(), "cache was not invalidated")
		})
	}
}

func TestReadAfterWriteSeesNewLines(t *testing.T) {
	repo := &mockRepository{lines: []domain.CartLine{{ProductID: 1, Quantity: 1}}}
	sut := NewAccountCarts(repo, &mockCache{}, nil)
	ctx := context.Background()

	_, err := sut.ReadAll(ctx, "123")
	require.NoError(t, err)
	require.NoError(t, sut.UpsertLine(ctx, "123", domain.CartLine{ProductID: 1, Quantity: 4}))

	got, err := sut.ReadAll(ctx, "123")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 4, got[0].Quantity)
}

func TestReadAll_FillSkippedWhenWriteLandsDuringRead(t *testing.T) {
	var once sync.Once
	snapshotTaken, resume := make(chan struct{}), make(chan struct{})
	repo := &mockRepository{afterSnapshot: func() {
		once.Do(func() {
			close(snapshotTaken)
			<-resume
		})
	}}
	mockC := &mockCache{}
	sut := NewAccountCarts(repo, mockC, nil)
	ctx := context.Background()

	first := make(chan []domain.CartLine, 1)
	go func() {
		lines, _ := sut.ReadAll(ctx, "42")
		first <- lines
	}()

	<-snapshotTaken
	require.NoError(t, sut.UpsertLine(ctx, "42", domain.CartLine{ProductID: 7, Quantity: 1}))
	close(resume)
	assert.Empty(t, <-first, "the read started before the write")
	assert.False(t, mockC.cached(), "lines read before the write must not be cached")

	got, err := sut.ReadAll(ctx, "42")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(7), got[0].ProductID)
}
