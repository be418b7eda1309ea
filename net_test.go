package ttsched

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNetworkLoadValidation(t *testing.T) {
	_, err := CreateNetwork(-1)
	require.ErrorIs(t, err, ErrInvalidAttribute)

	nw, err := CreateNetwork(4)
	require.NoError(t, err)

	require.NoError(t, nw.AddLink(0, 1000, LinkWired))
	require.Error(t, nw.AddLink(0, 1000, LinkWired), "reused link ids must be rejected")
	require.ErrorIs(t, nw.AddLink(1, 0, LinkWired), ErrInvalidAttribute)
	require.NoError(t, nw.AddLink(1, 125, LinkWireless))

	require.Equal(t, 2, nw.NumLinks())
	require.Equal(t, []int{0, 1}, nw.LinkIds())
	require.Equal(t, LinkWireless, nw.Link(1).Medium())

	require.Error(t, nw.AddPath(10, 20, []int{}), "empty paths must be rejected")
	require.Error(t, nw.AddPath(10, 20, []int{0, 9}), "paths naming unknown links must be rejected")
	require.NoError(t, nw.AddPath(10, 20, []int{0, 1}))
	require.Equal(t, 1, nw.NumPaths(10, 20))
	require.Equal(t, 0, nw.NumPaths(10, 21))
}

// The path catalog is keyed by the (sender, receiver) pair, so two
// receivers of the same sender keep separate path lists.
func TestPathCatalogKeyedByReceiver(t *testing.T) {
	nw, err := CreateNetwork(0)
	require.NoError(t, err)
	for lkId := 0; lkId < 3; lkId++ {
		require.NoError(t, nw.AddLink(lkId, 1000, LinkWired))
	}
	require.NoError(t, nw.AddPath(1, 2, []int{0, 1}))
	require.NoError(t, nw.AddPath(1, 3, []int{0, 2}))

	path, err := nw.GetPath(1, 3, 0)
	require.NoError(t, err)
	require.Equal(t, 2, path.Len())
	require.Equal(t, 2, path.Link(1), "the second receiver's path ends on its own link")

	_, err = nw.GetPath(1, 2, 1)
	require.Error(t, err, "path ids beyond the catalog must be rejected")
}

func TestHyperPeriodIsLCMOfPeriods(t *testing.T) {
	nw, err := CreateNetwork(0)
	require.NoError(t, err)

	for _, period := range []int64{100, 150} {
		frame := CreateFrame(1)
		require.NoError(t, frame.SetPeriod(period))
		require.NoError(t, nw.AddFrame(frame))
	}
	require.Equal(t, int64(300), nw.HyperPeriod())

	require.ErrorIs(t, nw.AddFrame(CreateFrame(1)), ErrNotInitialized,
		"frames without a period must be rejected")
}

func TestCheckPathsRejectsRepeatedLink(t *testing.T) {
	nw, err := CreateNetwork(0)
	require.NoError(t, err)
	require.NoError(t, nw.AddLink(0, 1000, LinkWired))
	require.NoError(t, nw.AddLink(1, 1000, LinkWired))
	require.NoError(t, nw.AddPath(1, 2, []int{0, 1, 0}))

	require.Error(t, nw.checkPaths())
}

func TestMaxLinkUtilization(t *testing.T) {
	nw, err := CreateNetwork(0)
	require.NoError(t, err)
	require.NoError(t, nw.AddLink(0, 1000, LinkWired))

	frame := CreateFrame(1)
	require.NoError(t, frame.SetPeriod(100))
	require.NoError(t, nw.AddFrame(frame))

	ofs, err := frame.AddOffsetIfAbsent(0)
	require.NoError(t, err)
	require.NoError(t, ofs.SetNumInstances(1))
	require.NoError(t, ofs.SetNumReplicas(0))
	require.NoError(t, ofs.SetTimeslotSize(25))
	require.NoError(t, ofs.Prepare())

	require.InDelta(t, 0.25, nw.MaxLinkUtilization(), 1e-9)
}
