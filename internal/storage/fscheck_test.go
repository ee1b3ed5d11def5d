package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckLocalFilesystem(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fsType  string
		detErr  error
		wantErr string
	}{
		{name: "local apfs", fsType: "apfs"},
		{name: "linux magic hex", fsType: "0xef53"},
		{name: "smb", fsType: "smbfs", wantErr: `network filesystem "smbfs"`},
		{name: "nfs uppercase", fsType: "NFS", wantErr: "set state.path (or -db)"},
		{name: "9p share", fsType: "9p", wantErr: `network filesystem "9p"`},
		{name: "detector error", detErr: errors.New("statfs failed"), wantErr: "detect filesystem"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dbPath := filepath.Join(t.TempDir(), "testrelay.db")
			err := checkLocalFilesystem(dbPath, func(string) (string, error) {
				return tt.fsType, tt.detErr
			})
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCheckLocalFilesystemInspectsNearestExistingPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dbPath := filepath.Join(root, "nested", "dir", "testrelay.db")

	var inspected string
	err := checkLocalFilesystem(dbPath, func(path string) (string, error) {
		inspected = path
		return "apfs", nil
	})
	require.NoError(t, err)
	assert.Equal(t, root, inspected)
}

func TestIsNetworkFilesystem(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"nfs":    true,
		" cifs ": true,
		"webdav": true,
		"ext4":   false,
		"0x6969": false,
		"":       false,
	}
	for fs, want := range cases {
		assert.Equal(t, want, isNetworkFilesystem(fs), fs)
	}
}
