package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridcal/internal/model"
)

func capture(i int) model.Capture {
	return model.Capture{
		URL:       "https://schedule.example.edu/sas_events.jsp",
		Method:    "GET",
		Timestamp: time.Date(2026, 3, 5, 10, i, 0, 0, time.UTC),
		Body:      `[{"id":` + string(rune('0'+i)) + `}]`,
		Status:    200,
	}
}

func stores(t *testing.T, retention int) map[string]Store {
	t.Helper()
	f, err := NewFile(filepath.Join(t.TempDir(), "nested", "captures.json"), retention)
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemory(retention),
		"file":   f,
	}
}

func TestStoreRetention(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t, 2) {
		t.Run(name, func(t *testing.T) {
			for i := 1; i <= 4; i++ {
				require.NoError(t, s.Append(ctx, capture(i)))
			}

			got, err := s.Latest(ctx, 10)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, capture(3).Body, got[0].Body)
			assert.Equal(t, capture(4).Body, got[1].Body)
			assert.True(t, capture(4).Timestamp.Equal(got[1].Timestamp))
		})
	}
}

func TestStoreLatestBounds(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t, 5) {
		t.Run(name, func(t *testing.T) {
			got, err := s.Latest(ctx, 2)
			require.NoError(t, err)
			assert.Empty(t, got)

			for i := 1; i <= 3; i++ {
				require.NoError(t, s.Append(ctx, capture(i)))
			}
			got, err = s.Latest(ctx, 1)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, capture(3).Body, got[0].Body)

			got, err = s.Latest(ctx, 0)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestStoreHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for name, s := range stores(t, 2) {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, s.Append(ctx, capture(1)), context.Canceled)
			_, err := s.Latest(ctx, 1)
			assert.ErrorIs(t, err, context.Canceled)
		})
	}
}

func TestFileStorePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "captures.json")

	s1, err := NewFile(path, 2)
	require.NoError(t, err)
	require.NoError(t, s1.Append(ctx, capture(1)))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	s2, err := NewFile(path, 2)
	require.NoError(t, err)
	got, err := s2.Latest(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, capture(1).Body, got[0].Body)
	assert.Equal(t, 200, got[0].Status)
}

func TestFileStoreCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "captures.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s, err := NewFile(path, 2)
	require.NoError(t, err)
	_, err = s.Latest(context.Background(), 1)
	assert.Error(t, err)
}

func TestNewFileRejectsEmptyPath(t *testing.T) {
	_, err := NewFile("", 2)
	assert.Error(t, err)
}
