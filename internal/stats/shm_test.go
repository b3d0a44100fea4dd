package stats

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func testShmName(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("/netd_stats_test_%s", t.Name())
}

func openTestExporter(t *testing.T) *Exporter {
	t.Helper()
	name := testShmName(t)
	e, err := Open(name)
	if err != nil {
		t.Skipf("shared memory unavailable in this environment: %v", err)
	}
	t.Cleanup(func() {
		e.Close()
		Unlink(name)
	})
	return e
}

func TestOpenStampsStartTime(t *testing.T) {
	e := openTestExporter(t)
	snap := e.Read()
	require.False(t, snap.StartTime.IsZero())
}

func TestIncPacketsReceivedAndProcessed(t *testing.T) {
	e := openTestExporter(t)

	e.IncPacketsReceived()
	e.IncPacketsReceived()
	e.IncPacketsProcessed()

	snap := e.Read()
	require.Equal(t, uint64(2), snap.PktReceived)
	require.Equal(t, uint64(1), snap.PktProcessed)
}

func TestAddActiveLeasesAppliesSignedDelta(t *testing.T) {
	e := openTestExporter(t)

	e.AddActiveLeases(3)
	e.AddActiveLeases(-1)

	snap := e.Read()
	require.Equal(t, uint64(2), snap.LeasesActive)
}

func TestSetActiveLeasesOverwrites(t *testing.T) {
	e := openTestExporter(t)

	e.AddActiveLeases(10)
	e.SetActiveLeases(4)

	snap := e.Read()
	require.Equal(t, uint64(4), snap.LeasesActive)
}

func TestIncErrors(t *testing.T) {
	e := openTestExporter(t)
	e.IncErrors()
	e.IncErrors()

	snap := e.Read()
	require.Equal(t, uint64(2), snap.ErrorsCount)
}

func TestIncDropped(t *testing.T) {
	e := openTestExporter(t)
	e.IncDropped()
	e.IncDropped()
	e.IncDropped()

	snap := e.Read()
	require.Equal(t, uint64(3), snap.PktDropped)
}

func TestOpenReadOnlySeesWriterUpdates(t *testing.T) {
	name := testShmName(t)
	writer, err := Open(name)
	if err != nil {
		t.Skipf("shared memory unavailable in this environment: %v", err)
	}
	defer writer.Close()
	defer Unlink(name)

	writer.IncPacketsReceived()
	writer.SetActiveLeases(9)

	reader, err := OpenReadOnly(name)
	require.NoError(t, err)
	defer reader.Close()

	snap := reader.Read()
	require.Equal(t, uint64(1), snap.PktReceived)
	require.Equal(t, uint64(9), snap.LeasesActive)
}
