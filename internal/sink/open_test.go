package sink

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geosweep/internal/config"
)

func TestOpen_File(t *testing.T) {
	s, err := Open(context.Background(), config.SinkConfig{
		Drivers: []string{config.DriverFile},
		Dir:     t.TempDir(),
	})
	require.NoError(t, err)
	fs, ok := s.(*FileSink)
	require.True(t, ok)
	assert.Equal(t, "product_list", fs.listName)
	assert.Equal(t, "product", fs.detailPrefix)
	assert.NoError(t, s.Close())
}

func TestOpen_FileAndSQLite(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(context.Background(), config.SinkConfig{
		Drivers:      []string{config.DriverFile, config.DriverSQLite},
		Dir:          dir,
		SQLitePath:   filepath.Join(dir, "sweep.db"),
		ListName:     "list",
		DetailPrefix: "poi",
	})
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	m, ok := s.(Multi)
	require.True(t, ok)
	require.Len(t, m, 2)
	assert.IsType(t, &FileSink{}, m[0])
	assert.IsType(t, &SQLiteSink{}, m[1])

	require.NoError(t, s.SaveList(context.Background(), testKey, testRecords()))
	got, err := m[1].(*SQLiteSink).ListRecords(context.Background(), testKey)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.FileExists(t, m[0].(*FileSink).ListPath(testKey))
}

func TestOpen_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.SinkConfig
	}{
		{"no drivers", config.SinkConfig{}},
		{"unknown driver", config.SinkConfig{Drivers: []string{"s3"}}},
		{"sqlite without path", config.SinkConfig{Drivers: []string{config.DriverSQLite}}},
		{"postgres without url", config.SinkConfig{Drivers: []string{config.DriverPostgres}}},
		{"bad postgres url", config.SinkConfig{Drivers: []string{config.DriverPostgres}, DatabaseURL: "postgres://%zz"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(context.Background(), tt.cfg)
			assert.Error(t, err)
			assert.Nil(t, s)
		})
	}
}
