package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pointroom/pointroom/internal/storage"
)

func TestLoadMissingKey(t *testing.T) {
	s := storage.NewMemoryStore()
	_, err := s.Load(context.Background(), "nope")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSaveThenLoad(t *testing.T) {
	s := storage.NewMemoryStore()
	require.NoError(t, s.Save(context.Background(), "k", []byte("v1")))

	blob, err := s.Load(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), blob)
}

func TestUpdateSeesCurrentValue(t *testing.T) {
	s := storage.NewMemoryStore()
	require.NoError(t, s.Save(context.Background(), "k", []byte("v1")))

	err := s.Update(context.Background(), "k", func(old []byte) ([]byte, bool, error) {
		assert.Equal(t, []byte("v1"), old)
		return []byte("v2"), true, nil
	})
	require.NoError(t, err)

	blob, err := s.Load(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), blob)
}

func TestUpdateMissingKeyPassesNil(t *testing.T) {
	s := storage.NewMemoryStore()
	err := s.Update(context.Background(), "k", func(old []byte) ([]byte, bool, error) {
		assert.Nil(t, old)
		return []byte("v1"), true, nil
	})
	require.NoError(t, err)

	blob, err := s.Load(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), blob)
}

func TestUpdateDeclinedWrite(t *testing.T) {
	s := storage.NewMemoryStore()
	require.NoError(t, s.Save(context.Background(), "k", []byte("v1")))

	err := s.Update(context.Background(), "k", func(old []byte) ([]byte, bool, error) {
		return nil, false, nil
	})
	require.NoError(t, err)

	blob, err := s.Load(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), blob, "declined update must not write")
}

func TestUpdateErrorAborts(t *testing.T) {
	s := storage.NewMemoryStore()
	require.NoError(t, s.Save(context.Background(), "k", []byte("v1")))

	boom := errors.New("boom")
	err := s.Update(context.Background(), "k", func([]byte) ([]byte, bool, error) {
		return nil, false, boom
	})
	require.ErrorIs(t, err, boom)

	blob, err := s.Load(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), blob)
}
