package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/pvdd/internal/infrastructure/sqlite"
	"github.com/zjrosen/pvdd/internal/presentation"
	"github.com/zjrosen/pvdd/internal/provisioning"
	"github.com/zjrosen/pvdd/internal/pvd"
)

func TestRunList_MissingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pvdd.db")

	var buf bytes.Buffer
	require.NoError(t, runList(context.Background(), &buf, path, "", presentation.FormatTable))
	require.Equal(t, "No PvDs.\n", buf.String())
	require.False(t, fileExists(path), "list must not create the database")
}

func TestRunList_PersistedSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pvdd.db")
	db, err := sqlite.NewDB(path)
	require.NoError(t, err)
	require.NoError(t, db.PvDRepository().Save(context.Background(), provisioning.Snapshot{
		Identity:   "example.com.",
		Attributes: []pvd.Attribute{{Key: "mtu", Value: "1500"}},
		Source:     provisioning.SourceAPI,
		UpdatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}))
	require.NoError(t, db.Close())

	var buf bytes.Buffer
	require.NoError(t, runList(context.Background(), &buf, path, "", presentation.FormatJSON))

	var got []presentation.PvDDTO
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, "example.com.", got[0].ID)
	require.Equal(t, []pvd.Attribute{{Key: "mtu", Value: "1500"}}, got[0].Attributes)

	buf.Reset()
	require.NoError(t, runList(context.Background(), &buf, path, "", presentation.FormatTable))
	require.Contains(t, buf.String(), "mtu=1500")
}

func TestRunList_SinglePvD(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pvdd.db")
	db, err := sqlite.NewDB(path)
	require.NoError(t, err)
	repo := db.PvDRepository()
	for _, id := range []pvd.Identity{"net-a.example.com.", "net-b.example.com."} {
		require.NoError(t, repo.Save(context.Background(), provisioning.Snapshot{
			Identity:   id,
			Attributes: []pvd.Attribute{{Key: "mtu", Value: "1500"}},
			Source:     provisioning.SourceAPI,
		}))
	}
	require.NoError(t, db.Close())

	var buf bytes.Buffer
	require.NoError(t, runList(context.Background(), &buf, path, "NET-B.example.com", presentation.FormatJSON))

	var got []presentation.PvDDTO
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, "net-b.example.com.", got[0].ID)

	err = runList(context.Background(), &buf, path, "absent.example.com", presentation.FormatJSON)
	require.ErrorIs(t, err, pvd.ErrNotFound)
}

func TestRunList_MissingDatabaseWithID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pvdd.db")

	var buf bytes.Buffer
	err := runList(context.Background(), &buf, path, "net-a.example.com", presentation.FormatTable)
	require.ErrorIs(t, err, pvd.ErrNotFound)
	require.False(t, fileExists(path))
}

// TestRunList_LeavesLiveDatabaseUntouched lists while the daemon's connection
// is still open and checks that neither the backup nor the data change.
func TestRunList_LeavesLiveDatabaseUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pvdd.db")
	db, err := sqlite.NewDB(path)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.PvDRepository().Save(context.Background(), provisioning.Snapshot{
		Identity:   "net-a.example.com.",
		Attributes: []pvd.Attribute{{Key: "mtu", Value: "1500"}},
		Source:     provisioning.SourceAPI,
	}))
	require.NoError(t, os.WriteFile(path+".bak", []byte("pre-migration backup"), 0o600))

	var buf bytes.Buffer
	require.NoError(t, runList(context.Background(), &buf, path, "", presentation.FormatJSON))

	var got []presentation.PvDDTO
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 1, "rows still in the WAL are visible")

	data, err := os.ReadFile(path + ".bak")
	require.NoError(t, err)
	require.Equal(t, "pre-migration backup", string(data))
}
