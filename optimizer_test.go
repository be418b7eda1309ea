package ttsched

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// recordingBackend captures emitted variables and relations so tests can
// inspect exactly what the builder produced
type recordingBackend struct {
	names     []string
	asserts   []Relation
	anys      [][]Relation
	whens     []Relation
	orEquals  [][]VarID
	sumEquals [][]VarID
	sumValues []int64
	objTerms  int
}

func (rb *recordingBackend) newVar(name string) (VarID, error) {
	rb.names = append(rb.names, name)
	return VarID(len(rb.names)), nil
}

func (rb *recordingBackend) NewIntVar(name string, min, max int64) (VarID, error) {
	return rb.newVar(name)
}

func (rb *recordingBackend) NewBoolVar(name string) (VarID, error) {
	return rb.newVar(name)
}

func (rb *recordingBackend) Assert(rel Relation) error {
	rb.asserts = append(rb.asserts, rel)
	return nil
}

func (rb *recordingBackend) AssertAny(rels []Relation) error {
	rb.anys = append(rb.anys, rels)
	return nil
}

func (rb *recordingBackend) AssertWhen(sel VarID, selTrue bool, rel Relation) error {
	rb.whens = append(rb.whens, rel)
	return nil
}

func (rb *recordingBackend) AssertOrEquals(out VarID, ins []VarID) error {
	rb.orEquals = append(rb.orEquals, ins)
	return nil
}

func (rb *recordingBackend) AssertSumEquals(bools []VarID, value int64) error {
	rb.sumEquals = append(rb.sumEquals, bools)
	rb.sumValues = append(rb.sumValues, value)
	return nil
}

func (rb *recordingBackend) AddObjectiveTerm(v VarID, weight float64) error {
	rb.objTerms++
	return nil
}

func (rb *recordingBackend) Solve(timeLimitSeconds int) SolveResult {
	return SolveResult{Status: SolverError, Detail: "recording only"}
}

func (rb *recordingBackend) Tune(timeLimitSeconds int) (int, error) {
	return 0, nil
}

func (rb *recordingBackend) Value(v VarID) (int64, error) {
	return 0, fmt.Errorf("%w: recording only", ErrBackend)
}

// testFrame builds a frame with the usual attribute chain applied
func testFrame(t *testing.T, numLinks, size int, period, deadline, endToEnd, starting int64, sender int, receivers []int) *Frame {
	t.Helper()
	frame := CreateFrame(numLinks)
	require.NoError(t, frame.SetSize(size))
	require.NoError(t, frame.SetPeriod(period))
	require.NoError(t, frame.SetDeadline(deadline))
	require.NoError(t, frame.SetEndToEndDelay(endToEnd))
	require.NoError(t, frame.SetStarting(starting))
	require.NoError(t, frame.SetSender(sender))
	require.NoError(t, frame.SetReceivers(receivers))
	return frame
}

func loadOptimizer(t *testing.T, nw *Network, be Backend, cfg *SchedCfg) *Optimizer {
	t.Helper()
	opt := CreateOptimizer(nw, be, cfg, CreateTraceManager("test", true))
	require.NoError(t, opt.LoadTopology())
	require.NoError(t, opt.LoadFrames())
	return opt
}

func TestOffsetsShareIntervalIsSymmetric(t *testing.T) {
	spans := [][4]int64{
		{0, 100, 0, 150},
		{0, 100, 150, 300},
		{100, 200, 0, 150},
		{100, 200, 150, 300},
		{200, 300, 0, 150},
		{0, 50, 50, 100},
		{0, 50, 45, 100},
	}
	for _, s := range spans {
		forward := offsetsShareInterval(s[0], s[1], s[2], s[3])
		backward := offsetsShareInterval(s[2], s[3], s[0], s[1])
		require.Equal(t, forward, backward, "spans [%d,%d) and [%d,%d)", s[0], s[1], s[2], s[3])
	}
}

// Occupancy spans that abut exactly do not overlap; spans that cross by
// a single nanosecond do.
func TestOffsetsShareIntervalEdges(t *testing.T) {
	require.False(t, offsetsShareInterval(0, 50, 50, 100))
	require.True(t, offsetsShareInterval(0, 50, 49, 100))
	require.True(t, offsetsShareInterval(45, 100, 0, 50))
}

func TestStateMachineOrder(t *testing.T) {
	nw, err := CreateNetwork(0)
	require.NoError(t, err)
	require.NoError(t, nw.AddLink(0, 1000, LinkWired))
	require.NoError(t, nw.AddPath(1, 2, []int{0}))
	require.NoError(t, nw.AddFrame(testFrame(t, 1, 10, 100, 100, 100, 0, 1, []int{2})))

	opt := CreateOptimizer(nw, CreateSMTBackend(), &SchedCfg{}, CreateTraceManager("test", false))
	require.Equal(t, StateUninitialized, opt.State())

	_, err = opt.ContentionFree()
	require.ErrorIs(t, err, ErrNotInitialized, "emission before variable creation must fail")
	_, err = opt.Solve(1)
	require.ErrorIs(t, err, ErrNotInitialized, "solving before emission must fail")

	require.NoError(t, opt.LoadTopology())
	require.Equal(t, StateTopologyLoaded, opt.State())
	require.NoError(t, opt.LoadFrames())
	require.Equal(t, StateFramesLoaded, opt.State())
	require.NoError(t, opt.CreateVariables())
	require.Equal(t, StateVariablesCreated, opt.State())
	require.NoError(t, opt.EmitConstraints())
	require.Equal(t, StateConstraintsEmitted, opt.State())
}

// Two frames with periods 100 and 150 ns on one link, deadlines equal to
// their periods and timeslots of 10 ns, over the 300 ns hyperperiod.  The
// faster frame occupies the link inside [0,100), [100,200), [200,300);
// the slower one inside [0,150), [150,300).  Exactly four instance pairs
// overlap: (0,0), (1,0), (1,1) and (2,1).
func TestContentionFreeEmitsOnlyOverlappingPairs(t *testing.T) {
	nw, err := CreateNetwork(0)
	require.NoError(t, err)
	require.NoError(t, nw.AddLink(0, 1000, LinkWired))
	require.NoError(t, nw.AddPath(1, 2, []int{0}))
	require.NoError(t, nw.AddPath(3, 2, []int{0}))
	require.NoError(t, nw.AddFrame(testFrame(t, 1, 10, 100, 100, 100, 0, 1, []int{2})))
	require.NoError(t, nw.AddFrame(testFrame(t, 1, 10, 150, 150, 150, 0, 3, []int{2})))
	require.Equal(t, int64(300), nw.HyperPeriod())

	rb := &recordingBackend{}
	opt := loadOptimizer(t, nw, rb, &SchedCfg{})
	_, err = opt.CreateOffsetVariables()
	require.NoError(t, err)

	count, err := opt.ContentionFree()
	require.NoError(t, err)
	require.Equal(t, 4, count)
	require.Len(t, rb.anys, 4)
	for _, disjuncts := range rb.anys {
		require.Len(t, disjuncts, 2, "without path selection the exclusion has two clauses")
	}
}

// A frame over a two-link path with end-to-end delay 500 ns and 10 ns
// timeslots must bound the last offset at most 490 ns past the first.
func TestEndToEndMaxDistance(t *testing.T) {
	nw, err := CreateNetwork(0)
	require.NoError(t, err)
	require.NoError(t, nw.AddLink(0, 1000, LinkWired))
	require.NoError(t, nw.AddLink(1, 1000, LinkWired))
	require.NoError(t, nw.AddPath(1, 2, []int{0, 1}))
	require.NoError(t, nw.AddFrame(testFrame(t, 2, 10, 1000, 1000, 500, 0, 1, []int{2})))

	rb := &recordingBackend{}
	opt := loadOptimizer(t, nw, rb, &SchedCfg{})
	_, err = opt.CreateOffsetVariables()
	require.NoError(t, err)

	count, err := opt.FrameEndToEndDelay()
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Len(t, rb.asserts, 1)

	rel := rb.asserts[0]
	require.Equal(t, RelLE, rel.Op)
	require.Equal(t, int64(490), rel.Dist)
}

func TestPathSelectorExactlyOneAcrossThreePaths(t *testing.T) {
	nw, err := CreateNetwork(0)
	require.NoError(t, err)
	for lkId := 0; lkId < 3; lkId++ {
		require.NoError(t, nw.AddLink(lkId, 1000, LinkWired))
	}
	for lkId := 0; lkId < 3; lkId++ {
		require.NoError(t, nw.AddPath(1, 2, []int{lkId}))
	}
	require.NoError(t, nw.AddFrame(testFrame(t, 3, 10, 100, 100, 100, 0, 1, []int{2})))

	rb := &recordingBackend{}
	opt := loadOptimizer(t, nw, rb, &SchedCfg{SelectPath: true})
	_, err = opt.CreateOffsetVariables()
	require.NoError(t, err)

	count, err := opt.InitPathSelector()
	require.NoError(t, err)
	require.Equal(t, 3, count)
	require.Len(t, rb.sumEquals, 1)
	require.Len(t, rb.sumEquals[0], 3)
	require.Equal(t, int64(1), rb.sumValues[0])
}

// Loading a small topology, emitting and solving with a wide-open horizon
// must produce a model where every extracted time sits inside its window.
func TestRoundTripSolvedWithinWindows(t *testing.T) {
	for name, create := range backendsUnderTest() {
		t.Run(name, func(t *testing.T) {
			nw, err := CreateNetwork(2)
			require.NoError(t, err)
			require.NoError(t, nw.AddLink(0, 1000, LinkWired))
			require.NoError(t, nw.AddLink(1, 1000, LinkWired))
			require.NoError(t, nw.AddPath(1, 2, []int{0, 1}))
			require.NoError(t, nw.AddPath(3, 4, []int{1}))
			require.NoError(t, nw.AddFrame(testFrame(t, 2, 10, 1000, 1000, 500, 0, 1, []int{2})))
			require.NoError(t, nw.AddFrame(testFrame(t, 2, 20, 500, 400, 300, 0, 3, []int{4})))

			cfg := &SchedCfg{Backend: name}
			opt := loadOptimizer(t, nw, create(), cfg)
			require.NoError(t, opt.CreateVariables())
			require.NoError(t, opt.EmitConstraints())

			res, err := opt.Solve(30)
			require.NoError(t, err)
			require.Equal(t, Solved, res.Status)
			require.Equal(t, StateSolved, opt.State())

			for fIdx := 0; fIdx < nw.NumFrames(); fIdx++ {
				frame := nw.Frame(fIdx)
				for oIdx := 0; oIdx < frame.NumOffsets(); oIdx++ {
					ofs := frame.Offset(oIdx)
					for i := 0; i < ofs.NumInstances(); i++ {
						winMin, winMax := offsetWindow(frame, ofs, i)
						value, err := ofs.Time(i, 0)
						require.NoError(t, err)
						require.GreaterOrEqual(t, value, winMin)
						require.LessOrEqual(t, value, winMax)
					}
				}
			}
		})
	}
}

// Two frames each needing 15 ns inside a shared 20 ns window cannot be
// ordered either way, so the run must report infeasibility rather than
// an engine failure.
func TestZeroSlackIsInfeasibleNotSolverError(t *testing.T) {
	for name, create := range backendsUnderTest() {
		t.Run(name, func(t *testing.T) {
			nw, err := CreateNetwork(0)
			require.NoError(t, err)
			require.NoError(t, nw.AddLink(0, 1000, LinkWired))
			require.NoError(t, nw.AddPath(1, 2, []int{0}))
			require.NoError(t, nw.AddPath(3, 2, []int{0}))
			require.NoError(t, nw.AddFrame(testFrame(t, 1, 15, 20, 20, 20, 0, 1, []int{2})))
			require.NoError(t, nw.AddFrame(testFrame(t, 1, 15, 20, 20, 20, 0, 3, []int{2})))

			cfg := &SchedCfg{Backend: name}
			opt := loadOptimizer(t, nw, create(), cfg)
			require.NoError(t, opt.CreateVariables())
			require.NoError(t, opt.EmitConstraints())

			res, err := opt.Solve(30)
			require.NoError(t, err)
			require.Equal(t, Infeasible, res.Status)
			require.Equal(t, StateInfeasible, opt.State())
		})
	}
}

// A transmission started at its window maximum still occupies the link
// for a full timeslot, so windows that only abut within one timeslot
// still contend.  Frame 0 may start no later than 40 ns and occupies
// until 50; frame 1 may start as early as 45.
func TestContentionAtWindowEdges(t *testing.T) {
	build := func(t *testing.T) *Network {
		t.Helper()
		nw, err := CreateNetwork(0)
		require.NoError(t, err)
		require.NoError(t, nw.AddLink(0, 1000, LinkWired))
		require.NoError(t, nw.AddPath(1, 2, []int{0}))
		require.NoError(t, nw.AddPath(3, 2, []int{0}))
		require.NoError(t, nw.AddFrame(testFrame(t, 1, 10, 100, 50, 50, 0, 1, []int{2})))
		require.NoError(t, nw.AddFrame(testFrame(t, 1, 10, 100, 100, 100, 45, 3, []int{2})))
		return nw
	}

	rb := &recordingBackend{}
	opt := loadOptimizer(t, build(t), rb, &SchedCfg{})
	_, err := opt.CreateOffsetVariables()
	require.NoError(t, err)
	count, err := opt.ContentionFree()
	require.NoError(t, err)
	require.Equal(t, 1, count, "the abutting pair receives an exclusion")

	for name, create := range backendsUnderTest() {
		t.Run(name, func(t *testing.T) {
			nw := build(t)
			opt := loadOptimizer(t, nw, create(), &SchedCfg{Backend: name})
			require.NoError(t, opt.CreateVariables())
			require.NoError(t, opt.EmitConstraints())

			res, err := opt.Solve(30)
			require.NoError(t, err)
			require.Equal(t, Solved, res.Status)

			first, err := nw.Frame(0).OffsetForLink(0).Time(0, 0)
			require.NoError(t, err)
			second, err := nw.Frame(1).OffsetForLink(0).Time(0, 0)
			require.NoError(t, err)
			require.True(t, first+10 <= second || second+10 <= first,
				"transmissions at %d and %d overlap on the shared link", first, second)
		})
	}
}

// With path selection on a used offset cannot hide behind the unused
// sentinel: two frames that both must cross the same link and cannot be
// ordered inside their windows are infeasible, not schedulable at 0.
func TestSelectPathSharedLinkIsInfeasible(t *testing.T) {
	for name, create := range backendsUnderTest() {
		t.Run(name, func(t *testing.T) {
			nw, err := CreateNetwork(0)
			require.NoError(t, err)
			require.NoError(t, nw.AddLink(0, 1000, LinkWired))
			require.NoError(t, nw.AddPath(1, 2, []int{0}))
			require.NoError(t, nw.AddPath(3, 2, []int{0}))
			require.NoError(t, nw.AddFrame(testFrame(t, 1, 15, 20, 20, 20, 0, 1, []int{2})))
			require.NoError(t, nw.AddFrame(testFrame(t, 1, 15, 20, 20, 20, 0, 3, []int{2})))

			cfg := &SchedCfg{Backend: name, SelectPath: true}
			opt := loadOptimizer(t, nw, create(), cfg)
			require.NoError(t, opt.CreateVariables())
			require.NoError(t, opt.EmitConstraints())

			res, err := opt.Solve(30)
			require.NoError(t, err)
			require.Equal(t, Infeasible, res.Status)
			require.Equal(t, StateInfeasible, opt.State())
		})
	}
}

// Under path selection a genuine transmission at time 0 stays distinct
// from the unused sentinel.  The window [0,0] forces the only cell to
// 0 ns, and extraction reports exactly that.
func TestSelectPathTransmitsAtTimeZero(t *testing.T) {
	for name, create := range backendsUnderTest() {
		t.Run(name, func(t *testing.T) {
			nw, err := CreateNetwork(0)
			require.NoError(t, err)
			require.NoError(t, nw.AddLink(0, 1000, LinkWired))
			require.NoError(t, nw.AddPath(1, 2, []int{0}))
			require.NoError(t, nw.AddFrame(testFrame(t, 1, 10, 10, 10, 10, 0, 1, []int{2})))

			cfg := &SchedCfg{Backend: name, SelectPath: true}
			opt := loadOptimizer(t, nw, create(), cfg)
			require.NoError(t, opt.CreateVariables())
			require.NoError(t, opt.EmitConstraints())

			res, err := opt.Solve(30)
			require.NoError(t, err)
			require.Equal(t, Solved, res.Status)

			value, err := nw.Frame(0).OffsetForLink(0).Time(0, 0)
			require.NoError(t, err)
			require.Equal(t, int64(0), value)
		})
	}
}

// With path selection on, the model picks exactly one of two disjoint
// candidate paths and drives the other path's offsets to the unused
// sentinel.
func TestSelectPathPicksOneCandidate(t *testing.T) {
	for name, create := range backendsUnderTest() {
		t.Run(name, func(t *testing.T) {
			nw, err := CreateNetwork(0)
			require.NoError(t, err)
			require.NoError(t, nw.AddLink(0, 1000, LinkWired))
			require.NoError(t, nw.AddLink(1, 1000, LinkWired))
			require.NoError(t, nw.AddPath(1, 2, []int{0}))
			require.NoError(t, nw.AddPath(1, 2, []int{1}))
			require.NoError(t, nw.AddFrame(testFrame(t, 2, 10, 100, 100, 100, 5, 1, []int{2})))

			cfg := &SchedCfg{Backend: name, SelectPath: true}
			opt := loadOptimizer(t, nw, create(), cfg)
			require.NoError(t, opt.CreateVariables())
			require.NoError(t, opt.EmitConstraints())

			res, err := opt.Solve(30)
			require.NoError(t, err)
			require.Equal(t, Solved, res.Status)

			chosen, err := opt.ChosenPath(0, 0)
			require.NoError(t, err)
			require.Contains(t, []int{0, 1}, chosen)

			frame := nw.Frame(0)
			chosenTime, err := frame.OffsetForLink(chosen).Time(0, 0)
			require.NoError(t, err)
			require.GreaterOrEqual(t, chosenTime, frame.Starting(),
				"the chosen path's offset sits inside its window")

			otherTime, err := frame.OffsetForLink(1 - chosen).Time(0, 0)
			require.NoError(t, err)
			require.Equal(t, int64(0), otherTime, "the unchosen path's offset is the unused sentinel")
		})
	}
}

// Wireless hops get the configured replica count; the replica columns of
// one instance stay rigidly pinned together.  Whether zero replicas mean
// none or one is settled here as one: the grid never has fewer than one
// column per instance.
func TestWirelessReplicasExpandTheGrid(t *testing.T) {
	nw, err := CreateNetwork(0)
	require.NoError(t, err)
	require.NoError(t, nw.AddLink(0, 1000, LinkWireless))
	require.NoError(t, nw.AddPath(1, 2, []int{0}))
	require.NoError(t, nw.AddFrame(testFrame(t, 1, 10, 100, 100, 100, 0, 1, []int{2})))

	cfg := &SchedCfg{Backend: BackendSMT, WirelessReplicas: 2}
	opt := loadOptimizer(t, nw, CreateSMTBackend(), cfg)

	ofs := nw.Frame(0).OffsetForLink(0)
	require.NotNil(t, ofs)
	require.Equal(t, 2, ofs.NumReplicas())
	require.Equal(t, 2, ofs.replicaRange())

	require.NoError(t, opt.CreateVariables())
	require.NoError(t, opt.EmitConstraints())
	res, err := opt.Solve(30)
	require.NoError(t, err)
	require.Equal(t, Solved, res.Status)

	first, err := ofs.Time(0, 0)
	require.NoError(t, err)
	second, err := ofs.Time(0, 1)
	require.NoError(t, err)
	require.Equal(t, first, second, "replicas of one instance are pinned to the same distance")
}

func TestTraceRecordsPhases(t *testing.T) {
	nw, err := CreateNetwork(0)
	require.NoError(t, err)
	require.NoError(t, nw.AddLink(0, 1000, LinkWired))
	require.NoError(t, nw.AddPath(1, 2, []int{0}))
	require.NoError(t, nw.AddPath(3, 2, []int{0}))
	require.NoError(t, nw.AddFrame(testFrame(t, 1, 10, 100, 100, 100, 0, 1, []int{2})))
	require.NoError(t, nw.AddFrame(testFrame(t, 1, 10, 150, 150, 150, 0, 3, []int{2})))

	tm := CreateTraceManager("trace", true)
	opt := CreateOptimizer(nw, CreateSMTBackend(), &SchedCfg{Backend: BackendSMT}, tm)
	require.NoError(t, opt.LoadTopology())
	require.NoError(t, opt.LoadFrames())
	require.NoError(t, opt.CreateVariables())
	require.NoError(t, opt.EmitConstraints())
	require.Equal(t, 4, tm.PhaseConstraints("contention-free"))

	_, err = opt.Solve(30)
	require.NoError(t, err)
	require.NotNil(t, tm.Solve)
	require.Equal(t, "solved", tm.Solve.Status)
}
