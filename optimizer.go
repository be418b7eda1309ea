package ttsched

// optimizer.go holds the constraint builder.  Given a loaded Network it
// derives the per-instance transmission windows, the rigid distances
// between repetitions of the same frame, the mutual-exclusion constraints
// between frames sharing a link, the ordering of hops along each path,
// and the end-to-end latency bounds, emitting all of them through the
// Backend contract.  Emission is a deterministic sequential walk over
// frames, offsets and paths; the solve call at the end is the only
// long-running step.

import (
	"fmt"
	"time"
)

// SchedState tracks the progress of one scheduling run.  Phases only ever
// advance; a run that reaches a terminal state is finished
type SchedState int

const (
	StateUninitialized SchedState = iota
	StateTopologyLoaded
	StateFramesLoaded
	StateVariablesCreated
	StateConstraintsEmitted
	StateSolving
	StateSolved
	StateInfeasible
	StateSolverError
)

var schedStateToStr map[SchedState]string = map[SchedState]string{
	StateUninitialized: "uninitialized", StateTopologyLoaded: "topology-loaded",
	StateFramesLoaded: "frames-loaded", StateVariablesCreated: "variables-created",
	StateConstraintsEmitted: "constraints-emitted", StateSolving: "solving",
	StateSolved: "solved", StateInfeasible: "infeasible", StateSolverError: "solver-error"}

func (ss SchedState) String() string {
	return schedStateToStr[ss]
}

// Optimizer walks the network and emits the scheduling model into a
// backend.  All counters are scoped to the instance; one Optimizer serves
// exactly one scheduling run
type Optimizer struct {
	nw      *Network
	backend Backend
	cfg     *SchedCfg
	tm      *TraceManager
	state   SchedState

	// selector[f][r][p] chooses path p for frame f towards receiver r,
	// populated only under path selection
	selector [][][]VarID

	// used[f][link] flags whether frame f transmits on the link at all,
	// populated only under path selection
	used []map[int]VarID

	// distance accessory variables, one per frame and one per link
	frameDist []VarID
	linkDist  map[int]VarID
}

// CreateOptimizer is a constructor.  The network carries the topology and
// frames; the configuration selects backend-independent emission options
func CreateOptimizer(nw *Network, backend Backend, cfg *SchedCfg, tm *TraceManager) *Optimizer {
	opt := new(Optimizer)
	opt.nw = nw
	opt.backend = backend
	opt.cfg = cfg
	opt.tm = tm
	opt.state = StateUninitialized
	opt.linkDist = make(map[int]VarID)
	return opt
}

// State reports the progress of the run
func (opt *Optimizer) State() SchedState {
	return opt.state
}

func (opt *Optimizer) requireState(expected SchedState, op string) error {
	if opt.state != expected {
		return fmt.Errorf("%w: %s requires state %s, run is in state %s",
			ErrNotInitialized, op, expected, opt.state)
	}
	return nil
}

// LoadTopology validates the links and path catalog of the network
func (opt *Optimizer) LoadTopology() error {
	if err := opt.requireState(StateUninitialized, "topology load"); err != nil {
		return err
	}
	if opt.nw.NumLinks() == 0 {
		return fmt.Errorf("%w: network has no links", ErrInvalidAttribute)
	}
	if err := opt.nw.checkPaths(); err != nil {
		return err
	}
	opt.state = StateTopologyLoaded
	return nil
}

// timeslotNs converts a frame size in bytes over a link speed in MB/s
// into a transmission duration in ns, never below one
func timeslotNs(sizeBytes, speedMBs int) int64 {
	ts := int64(sizeBytes) * 1000 / int64(speedMBs)
	if ts < 1 {
		ts = 1
	}
	return ts
}

// LoadFrames walks every frame's candidate paths and creates the offsets
// the frame needs, one per traversed link, sized for the hyperperiod.
// Wireless and access-point hops get the configured replica count
func (opt *Optimizer) LoadFrames() error {
	if err := opt.requireState(StateTopologyLoaded, "frame load"); err != nil {
		return err
	}
	if opt.nw.NumFrames() == 0 {
		return fmt.Errorf("%w: network has no frames", ErrInvalidAttribute)
	}

	for fIdx := 0; fIdx < opt.nw.NumFrames(); fIdx++ {
		frame := opt.nw.Frame(fIdx)
		if frame.Period() < 1 {
			return fmt.Errorf("frame %d: %w: period not set", fIdx, ErrNotInitialized)
		}
		for rIdx := 0; rIdx < frame.NumReceivers(); rIdx++ {
			receiver := frame.Receiver(rIdx)
			numPaths := opt.nw.NumPaths(frame.Sender(), receiver)
			if numPaths == 0 {
				return fmt.Errorf("frame %d: %w: no candidate path from sender %d to receiver %d",
					fIdx, ErrInvalidAttribute, frame.Sender(), receiver)
			}
			for pIdx := 0; pIdx < numPaths; pIdx++ {
				path, err := opt.nw.GetPath(frame.Sender(), receiver, pIdx)
				if err != nil {
					return err
				}
				for hop := 0; hop < path.Len(); hop++ {
					if err := opt.prepareOffset(frame, path.Link(hop)); err != nil {
						return fmt.Errorf("frame %d link %d: %w", fIdx, path.Link(hop), err)
					}
				}
			}
		}
	}
	opt.state = StateFramesLoaded
	return nil
}

// prepareOffset creates the offset of a frame on one link, if absent, and
// allocates its instance grid
func (opt *Optimizer) prepareOffset(frame *Frame, link int) error {
	lk := opt.nw.Link(link)
	if lk == nil {
		return fmt.Errorf("%w: unknown link", ErrInvalidAttribute)
	}
	ofs, err := frame.AddOffsetIfAbsent(link)
	if err != nil {
		return err
	}
	if ofs.prepared() {
		return nil
	}
	if err := ofs.SetNumInstances(int(opt.nw.HyperPeriod() / frame.Period())); err != nil {
		return err
	}
	replicas := 0
	if lk.Medium() != LinkWired {
		replicas = opt.cfg.WirelessReplicas
	}
	if err := ofs.SetNumReplicas(replicas); err != nil {
		return err
	}
	if err := ofs.SetTimeslotSize(timeslotNs(frame.Size(), lk.Speed())); err != nil {
		return err
	}
	return ofs.Prepare()
}

// offsetWindow derives the admissible transmission window of one instance
// of an offset.  Replicas of the instance share the window
func offsetWindow(frame *Frame, ofs *Offset, instance int) (int64, int64) {
	shift := frame.Period() * int64(instance)
	return frame.Starting() + shift, frame.Deadline() - ofs.TimeslotSize() + shift
}

// offsetsShareInterval tests whether two link occupancies can overlap.
// A transmission started anywhere in its window still occupies the link
// for one timeslot past the window maximum, so the test runs over the
// half-open occupancy spans [min, end).  The test is symmetric in its
// two spans
func offsetsShareInterval(min1, end1, min2, end2 int64) bool {
	return (min1 <= min2 && min2 < end1) || (min2 <= min1 && min1 < end2)
}

// CreateOffsetVariables emits one backend variable per offset grid cell,
// bounded by the instance's admissible window, and pins every cell other
// than (0,0) at a rigid multiple of the period from the (0,0) cell.  Under
// path selection cell values carry a +1 shift and the window binds only
// when the frame uses the link; an unused cell is pinned to 0, which the
// shift keeps distinct from a transmission at time 0.  The shift cancels
// in every difference relation and is removed at extraction.  The return
// is the number of variables created
func (opt *Optimizer) CreateOffsetVariables() (int, error) {
	if err := opt.requireState(StateFramesLoaded, "offset variable creation"); err != nil {
		return 0, err
	}
	start := time.Now()
	nVars, nCons := 0, 0

	if opt.cfg.SelectPath {
		opt.used = make([]map[int]VarID, opt.nw.NumFrames())
	}

	for fIdx := 0; fIdx < opt.nw.NumFrames(); fIdx++ {
		frame := opt.nw.Frame(fIdx)
		if opt.cfg.SelectPath {
			opt.used[fIdx] = make(map[int]VarID)
		}
		for oIdx := 0; oIdx < frame.NumOffsets(); oIdx++ {
			ofs := frame.Offset(oIdx)

			var usedVar VarID
			if opt.cfg.SelectPath {
				v, err := opt.backend.NewBoolVar(fmt.Sprintf("U_%d_%d", fIdx, ofs.Link()))
				if err != nil {
					return 0, err
				}
				usedVar = v
				opt.used[fIdx][ofs.Link()] = v
				nVars++
			}

			var cell00 VarID
			for i := 0; i < ofs.NumInstances(); i++ {
				// the window is per instance, replicas share it
				winMin, winMax := offsetWindow(frame, ofs, i)
				for r := 0; r < ofs.replicaRange(); r++ {
					name := fmt.Sprintf("O_%d_%d_%d_%d", fIdx, i, r, ofs.Link())
					var v VarID
					var err error
					if opt.cfg.SelectPath {
						v, err = opt.backend.NewIntVar(name, 0, winMax+1)
						if err != nil {
							return 0, err
						}
						if err = opt.backend.AssertWhen(usedVar, true, RelAtLeastConst(v, winMin+1)); err != nil {
							return 0, err
						}
						if err = opt.backend.AssertWhen(usedVar, false, RelEqualsConst(v, 0)); err != nil {
							return 0, err
						}
						nCons += 2
					} else {
						v, err = opt.backend.NewIntVar(name, winMin, winMax)
						if err != nil {
							return 0, err
						}
					}
					nVars++
					if err = ofs.setVar(i, r, v); err != nil {
						return 0, err
					}

					if i == 0 && r == 0 {
						cell00 = v
						continue
					}
					rigid := RelEquals(v, cell00, frame.Period()*int64(i))
					if opt.cfg.SelectPath {
						err = opt.backend.AssertWhen(usedVar, true, rigid)
					} else {
						err = opt.backend.Assert(rigid)
					}
					if err != nil {
						return 0, err
					}
					nCons++
				}
			}
		}
	}
	opt.state = StateVariablesCreated
	opt.tm.AddPhase("offset-variables", nVars, nCons, time.Since(start))
	return nVars, nil
}

// InitPathSelector creates one 0/1 selector per candidate path of every
// (frame, receiver) pair and constrains exactly one selector per pair to
// be chosen.  The return is the number of selectors created
func (opt *Optimizer) InitPathSelector() (int, error) {
	if err := opt.requireState(StateVariablesCreated, "path selector creation"); err != nil {
		return 0, err
	}
	start := time.Now()
	nVars, nCons := 0, 0

	opt.selector = make([][][]VarID, opt.nw.NumFrames())
	for fIdx := 0; fIdx < opt.nw.NumFrames(); fIdx++ {
		frame := opt.nw.Frame(fIdx)
		opt.selector[fIdx] = make([][]VarID, frame.NumReceivers())
		for rIdx := 0; rIdx < frame.NumReceivers(); rIdx++ {
			numPaths := opt.nw.NumPaths(frame.Sender(), frame.Receiver(rIdx))
			sels := make([]VarID, numPaths)
			for pIdx := 0; pIdx < numPaths; pIdx++ {
				v, err := opt.backend.NewBoolVar(fmt.Sprintf("X_%d_%d_%d", fIdx, rIdx, pIdx))
				if err != nil {
					return 0, err
				}
				sels[pIdx] = v
				nVars++
			}
			if err := opt.backend.AssertSumEquals(sels, 1); err != nil {
				return 0, err
			}
			nCons++
			opt.selector[fIdx][rIdx] = sels
		}
	}
	opt.tm.AddPhase("path-selectors", nVars, nCons, time.Since(start))
	return nVars, nil
}

// InitDistances creates the distance accessory variables, one per frame
// bounded by its end-to-end delay and one per link bounded by the
// hyperperiod.  With distance optimization off they are pinned to 0; with
// it on they join the maximization objective under the configured
// weights.  The return is the number of variables created
func (opt *Optimizer) InitDistances() (int, error) {
	if err := opt.requireState(StateVariablesCreated, "distance creation"); err != nil {
		return 0, err
	}
	start := time.Now()
	nVars, nCons := 0, 0

	register := func(v VarID, weight float64) error {
		nVars++
		if !opt.cfg.OptimizeDistances {
			nCons++
			return opt.backend.Assert(RelEqualsConst(v, 0))
		}
		return opt.backend.AddObjectiveTerm(v, weight)
	}

	opt.frameDist = make([]VarID, opt.nw.NumFrames())
	for fIdx := 0; fIdx < opt.nw.NumFrames(); fIdx++ {
		frame := opt.nw.Frame(fIdx)
		v, err := opt.backend.NewIntVar(fmt.Sprintf("FrameDistance_%d", fIdx),
			0, frame.EndToEndDelay())
		if err != nil {
			return 0, err
		}
		opt.frameDist[fIdx] = v
		if err = register(v, opt.cfg.FrameWeight); err != nil {
			return 0, err
		}
	}
	for _, link := range opt.nw.LinkIds() {
		v, err := opt.backend.NewIntVar(fmt.Sprintf("LinkDistance_%d", link),
			0, opt.nw.HyperPeriod())
		if err != nil {
			return 0, err
		}
		opt.linkDist[link] = v
		if err = register(v, opt.cfg.LinkWeight); err != nil {
			return 0, err
		}
	}
	opt.tm.AddPhase("distances", nVars, nCons, time.Since(start))
	return nVars, nil
}

// ChoosePath ties each frame's per-link usage flag to the path selectors:
// a frame transmits on a link exactly when some chosen path towards some
// of its receivers crosses that link.  The return is the number of
// constraints emitted
func (opt *Optimizer) ChoosePath() (int, error) {
	if err := opt.requireState(StateVariablesCreated, "path choice emission"); err != nil {
		return 0, err
	}
	if !opt.cfg.SelectPath {
		return 0, fmt.Errorf("%w: path choice emission without path selection", ErrNotInitialized)
	}
	start := time.Now()
	nCons := 0

	for fIdx := 0; fIdx < opt.nw.NumFrames(); fIdx++ {
		frame := opt.nw.Frame(fIdx)
		for oIdx := 0; oIdx < frame.NumOffsets(); oIdx++ {
			link := frame.Offset(oIdx).Link()
			sels := []VarID{}
			for rIdx := 0; rIdx < frame.NumReceivers(); rIdx++ {
				numPaths := opt.nw.NumPaths(frame.Sender(), frame.Receiver(rIdx))
				for pIdx := 0; pIdx < numPaths; pIdx++ {
					path, err := opt.nw.GetPath(frame.Sender(), frame.Receiver(rIdx), pIdx)
					if err != nil {
						return 0, err
					}
					for hop := 0; hop < path.Len(); hop++ {
						if path.Link(hop) == link {
							sels = append(sels, opt.selector[fIdx][rIdx][pIdx])
							break
						}
					}
				}
			}
			if err := opt.backend.AssertOrEquals(opt.used[fIdx][link], sels); err != nil {
				return 0, err
			}
			nCons++
		}
	}
	opt.tm.AddPhase("choose-path", 0, nCons, time.Since(start))
	return nCons, nil
}

// ContentionFree emits the mutual-exclusion constraints.  For every pair
// of frames sharing a link, every grid cell of the later frame is checked
// against every grid cell of the earlier one; only cell pairs whose
// link occupancies can overlap receive the exclusion disjunction.  The
// return is the number of disjunctions emitted
func (opt *Optimizer) ContentionFree() (int, error) {
	if err := opt.requireState(StateVariablesCreated, "contention emission"); err != nil {
		return 0, err
	}
	start := time.Now()
	nCons := 0

	for fIdx := 1; fIdx < opt.nw.NumFrames(); fIdx++ {
		frame := opt.nw.Frame(fIdx)
		for oIdx := 0; oIdx < frame.NumOffsets(); oIdx++ {
			ofs := frame.Offset(oIdx)
			for prevIdx := 0; prevIdx < fIdx; prevIdx++ {
				prevFrame := opt.nw.Frame(prevIdx)
				prevOfs := prevFrame.OffsetForLink(ofs.Link())
				if prevOfs == nil {
					continue
				}
				n, err := opt.excludePair(frame, ofs, prevFrame, prevOfs)
				if err != nil {
					return 0, err
				}
				nCons += n
			}
		}
	}
	opt.tm.AddPhase("contention-free", 0, nCons, time.Since(start))
	return nCons, nil
}

// excludePair emits exclusion disjunctions between the grid cells of two
// offsets on the same link, pruned by the occupancy overlap test
func (opt *Optimizer) excludePair(frame *Frame, ofs *Offset, prevFrame *Frame, prevOfs *Offset) (int, error) {
	nCons := 0
	for i := 0; i < ofs.NumInstances(); i++ {
		winMin, winMax := offsetWindow(frame, ofs, i)
		for pi := 0; pi < prevOfs.NumInstances(); pi++ {
			prevMin, prevMax := offsetWindow(prevFrame, prevOfs, pi)
			if !offsetsShareInterval(winMin, winMax+ofs.TimeslotSize(),
				prevMin, prevMax+prevOfs.TimeslotSize()) {
				continue
			}
			for r := 0; r < ofs.replicaRange(); r++ {
				cell, err := ofs.Var(i, r)
				if err != nil {
					return 0, err
				}
				for pr := 0; pr < prevOfs.replicaRange(); pr++ {
					prevCell, err := prevOfs.Var(pi, pr)
					if err != nil {
						return 0, err
					}
					// one of the two transmissions finishes before the
					// other starts
					disjuncts := []Relation{
						RelAtMost(cell, prevCell, -ofs.TimeslotSize()),
						RelAtMost(prevCell, cell, -prevOfs.TimeslotSize()),
					}
					if opt.cfg.SelectPath {
						// a frame that never uses the link escapes via
						// the unused sentinel
						disjuncts = append(disjuncts, RelEqualsConst(cell, 0))
					}
					if err := opt.backend.AssertAny(disjuncts); err != nil {
						return 0, err
					}
					nCons++
				}
			}
		}
	}
	return nCons, nil
}

// FramePathDependent emits the hop ordering of every candidate path: each
// next hop starts only after the previous hop's transmission plus the
// switch residence minimum.  Under path selection the ordering binds only
// when that path is the chosen one.  The return is the number of
// constraints emitted
func (opt *Optimizer) FramePathDependent() (int, error) {
	if err := opt.requireState(StateVariablesCreated, "path ordering emission"); err != nil {
		return 0, err
	}
	start := time.Now()
	nCons := 0

	err := opt.walkPaths(func(fIdx, rIdx, pIdx int, path *Path) error {
		frame := opt.nw.Frame(fIdx)
		for hop := 0; hop+1 < path.Len(); hop++ {
			cur := frame.OffsetForLink(path.Link(hop))
			next := frame.OffsetForLink(path.Link(hop + 1))
			curCell, err := cur.Var(0, 0)
			if err != nil {
				return err
			}
			nextCell, err := next.Var(0, 0)
			if err != nil {
				return err
			}
			rel := RelAtLeast(nextCell, curCell, cur.TimeslotSize()+opt.nw.SwitchMinTime())
			if opt.cfg.SelectPath {
				err = opt.backend.AssertWhen(opt.selector[fIdx][rIdx][pIdx], true, rel)
			} else {
				err = opt.backend.Assert(rel)
			}
			if err != nil {
				return err
			}
			nCons++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	opt.tm.AddPhase("path-dependent", 0, nCons, time.Since(start))
	return nCons, nil
}

// FrameEndToEndDelay emits the latency bound of every candidate path: the
// last hop's transmission starts within the end-to-end delay of the first
// hop, less the last timeslot.  The frame distance accessory is coupled
// below the slack before the first transmission, so maximizing it delays
// frames as far as their windows allow.  The return is the number of
// constraints emitted
func (opt *Optimizer) FrameEndToEndDelay() (int, error) {
	if err := opt.requireState(StateVariablesCreated, "end-to-end emission"); err != nil {
		return 0, err
	}
	start := time.Now()
	nCons := 0

	err := opt.walkPaths(func(fIdx, rIdx, pIdx int, path *Path) error {
		frame := opt.nw.Frame(fIdx)
		first := frame.OffsetForLink(path.Link(0))
		last := frame.OffsetForLink(path.Link(path.Len() - 1))
		firstCell, err := first.Var(0, 0)
		if err != nil {
			return err
		}
		lastCell, err := last.Var(0, 0)
		if err != nil {
			return err
		}
		rels := []Relation{
			RelAtMost(lastCell, firstCell, frame.EndToEndDelay()-last.TimeslotSize()),
		}
		if opt.cfg.OptimizeDistances {
			slack := -frame.Starting()
			if opt.cfg.SelectPath {
				// the first cell carries the sentinel shift, the
				// accessory does not
				slack--
			}
			rels = append(rels, RelAtMost(opt.frameDist[fIdx], firstCell, slack))
		}
		for _, rel := range rels {
			if opt.cfg.SelectPath {
				err = opt.backend.AssertWhen(opt.selector[fIdx][rIdx][pIdx], true, rel)
			} else {
				err = opt.backend.Assert(rel)
			}
			if err != nil {
				return err
			}
			nCons++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	opt.tm.AddPhase("end-to-end", 0, nCons, time.Since(start))
	return nCons, nil
}

// walkPaths visits every candidate path of every (frame, receiver) pair
// in emission order
func (opt *Optimizer) walkPaths(visit func(fIdx, rIdx, pIdx int, path *Path) error) error {
	for fIdx := 0; fIdx < opt.nw.NumFrames(); fIdx++ {
		frame := opt.nw.Frame(fIdx)
		for rIdx := 0; rIdx < frame.NumReceivers(); rIdx++ {
			numPaths := opt.nw.NumPaths(frame.Sender(), frame.Receiver(rIdx))
			for pIdx := 0; pIdx < numPaths; pIdx++ {
				path, err := opt.nw.GetPath(frame.Sender(), frame.Receiver(rIdx), pIdx)
				if err != nil {
					return err
				}
				if err := visit(fIdx, rIdx, pIdx, path); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// CreateVariables runs the variable-creation phases in order
func (opt *Optimizer) CreateVariables() error {
	if _, err := opt.CreateOffsetVariables(); err != nil {
		return err
	}
	if opt.cfg.SelectPath {
		if _, err := opt.InitPathSelector(); err != nil {
			return err
		}
	}
	_, err := opt.InitDistances()
	return err
}

// EmitConstraints runs the constraint-emission phases in order and
// advances the run to the emitted state
func (opt *Optimizer) EmitConstraints() error {
	if err := opt.requireState(StateVariablesCreated, "constraint emission"); err != nil {
		return err
	}
	if opt.cfg.SelectPath {
		if _, err := opt.ChoosePath(); err != nil {
			return err
		}
	}
	if _, err := opt.ContentionFree(); err != nil {
		return err
	}
	if _, err := opt.FramePathDependent(); err != nil {
		return err
	}
	if _, err := opt.FrameEndToEndDelay(); err != nil {
		return err
	}
	opt.state = StateConstraintsEmitted
	return nil
}

// Solve hands the emitted model to the backend and, on success, extracts
// every grid cell's transmission time back into the offsets.  The run
// ends in the state matching the solve status; an infeasible model is a
// valid outcome, not an error
func (opt *Optimizer) Solve(timeLimitSeconds int) (SolveResult, error) {
	if err := opt.requireState(StateConstraintsEmitted, "solve"); err != nil {
		return SolveResult{}, err
	}
	opt.state = StateSolving
	start := time.Now()
	res := opt.backend.Solve(timeLimitSeconds)
	opt.tm.AddSolve(opt.cfg.Backend, res.Status, time.Since(start))

	switch res.Status {
	case Solved:
		opt.state = StateSolved
	case Infeasible:
		opt.state = StateInfeasible
	default:
		opt.state = StateSolverError
	}
	if res.Status != Solved {
		return res, nil
	}

	for fIdx := 0; fIdx < opt.nw.NumFrames(); fIdx++ {
		frame := opt.nw.Frame(fIdx)
		for oIdx := 0; oIdx < frame.NumOffsets(); oIdx++ {
			ofs := frame.Offset(oIdx)
			for i := 0; i < ofs.NumInstances(); i++ {
				for r := 0; r < ofs.replicaRange(); r++ {
					v, err := ofs.Var(i, r)
					if err != nil {
						return res, err
					}
					value, err := opt.backend.Value(v)
					if err != nil {
						return res, err
					}
					if opt.cfg.SelectPath && value > 0 {
						// remove the sentinel shift; zero stays "unused"
						value--
					}
					if err := ofs.SetTime(i, r, value); err != nil {
						return res, err
					}
				}
			}
		}
	}
	return res, nil
}

// ChosenPath reports which candidate path the solved model picked for a
// (frame, receiver) pair.  Without path selection the catalog's only
// path is the answer
func (opt *Optimizer) ChosenPath(frameIdx, receiverIdx int) (int, error) {
	if err := opt.requireState(StateSolved, "path extraction"); err != nil {
		return 0, err
	}
	if !opt.cfg.SelectPath {
		return 0, nil
	}
	for pIdx, sel := range opt.selector[frameIdx][receiverIdx] {
		value, err := opt.backend.Value(sel)
		if err != nil {
			return 0, err
		}
		if value == 1 {
			return pIdx, nil
		}
	}
	return 0, fmt.Errorf("%w: no path chosen for frame %d receiver %d",
		ErrBackend, frameIdx, receiverIdx)
}
