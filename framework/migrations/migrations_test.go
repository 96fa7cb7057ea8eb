package migrations

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/taskflow/framework/core"
)

func TestVersions(t *testing.T) {
	fsys := fstest.MapFS{
		"00002_indexes.sql": {Data: []byte("-- +goose Up\n")},
		"00001_init.sql":    {Data: []byte("-- +goose Up\n")},
		"README.md":         {Data: []byte("notes")},
	}
	versions, err := Versions(fsys)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, versions)
}

func TestVersions_Invalid(t *testing.T) {
	_, err := Versions(fstest.MapFS{"init.sql": {Data: []byte("")}})
	assert.True(t, core.IsErrorCode(err, core.ErrInvalidConfig))

	_, err = Versions(fstest.MapFS{
		"00001_a.sql": {Data: []byte("")},
		"1_b.sql":     {Data: []byte("")},
	})
	assert.True(t, core.IsErrorCode(err, core.ErrDuplicateName))
}

func TestUp_NilDatabase(t *testing.T) {
	_, err := Up(context.Background(), nil, fstest.MapFS{})
	assert.True(t, core.IsErrorCode(err, core.ErrInvalidConfig))
}
