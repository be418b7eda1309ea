package ttsched

// smt.go implements the exact-arithmetic constraint backend.  The boolean
// structure of the model (path selectors, disjunction choices, conditional
// guards) is handed to the gophersat SAT engine; the arithmetic side is a
// system of difference constraints over the integer variables, checked by
// negative-cycle detection on the constraint graph.  The two cooperate in
// the usual lazy fashion: the SAT engine proposes an assignment of the
// guards, the difference system is checked under that assignment, and an
// infeasible assignment is blocked with a clause built from the guards on
// the offending cycle.

import (
	"fmt"
	"os"
	"time"

	"github.com/crillab/gophersat/solver"
	"gopkg.in/yaml.v3"
)

// smtVarKind separates the two variable families the backend issues
type smtVarKind int

const (
	smtInt smtVarKind = iota
	smtBool
)

type smtVar struct {
	name     string
	kind     smtVarKind
	min, max int64 // domain, int variables only
	satVar   int   // 1-based SAT index, bool variables only
}

// guardedRel couples a relation with the signed SAT literal that activates
// it.  A zero literal means the relation is unconditional
type guardedRel struct {
	lit int
	rel Relation
}

// SMTParams are the tunable knobs of the lazy solving loop.  Tune probes
// combinations of these and persists the ones that solve fastest
type SMTParams struct {
	// BlockFullAssignment blocks the entire guard assignment on a theory
	// conflict instead of only the guards on the detected cycle
	BlockFullAssignment bool `json:"blockfullassignment" yaml:"blockfullassignment"`

	// MaxConflicts caps the number of theory conflicts before giving up
	MaxConflicts int `json:"maxconflicts" yaml:"maxconflicts"`
}

func defaultSMTParams() SMTParams {
	return SMTParams{BlockFullAssignment: false, MaxConflicts: 1 << 20}
}

// SMTBackend implements the Backend contract with a SAT core and a
// difference-constraint theory.  All counters and handles are scoped to the
// instance; a fresh backend is created per scheduling run
type SMTBackend struct {
	// ParamsFile names the file tuned parameters are persisted to and
	// loaded from.  Empty disables parameter persistence
	ParamsFile string

	vars     []smtVar    // VarID v lives at vars[v-1]
	nSatVars int         // SAT variables issued so far
	clauses  [][]int     // boolean skeleton
	rels     []guardedRel

	values map[VarID]int64 // determinate values after a Solved outcome
}

// CreateSMTBackend is a constructor
func CreateSMTBackend() *SMTBackend {
	sb := new(SMTBackend)
	sb.vars = []smtVar{}
	sb.clauses = [][]int{}
	sb.rels = []guardedRel{}
	return sb
}

// NewIntVar creates an integer variable with inclusive domain [min, max].
// Domains with min above max are legal to create; they surface as
// infeasibility, the way an empty transmission window should
func (sb *SMTBackend) NewIntVar(name string, min, max int64) (VarID, error) {
	if min < 0 {
		return 0, fmt.Errorf("%w: variable %s with negative domain minimum %d", ErrBackend, name, min)
	}
	sb.vars = append(sb.vars, smtVar{name: name, kind: smtInt, min: min, max: max})
	return VarID(len(sb.vars)), nil
}

// NewBoolVar creates a 0/1 decision variable backed by a SAT variable
func (sb *SMTBackend) NewBoolVar(name string) (VarID, error) {
	sb.nSatVars++
	sb.vars = append(sb.vars, smtVar{name: name, kind: smtBool, satVar: sb.nSatVars})
	// a tautology registers the variable with the SAT engine even when no
	// other clause mentions it
	sb.clauses = append(sb.clauses, []int{sb.nSatVars, -sb.nSatVars})
	return VarID(len(sb.vars)), nil
}

// freshSatVar issues an internal SAT variable with no VarID of its own,
// used for disjunction choices
func (sb *SMTBackend) freshSatVar() int {
	sb.nSatVars++
	return sb.nSatVars
}

func (sb *SMTBackend) intVar(v VarID) (*smtVar, error) {
	if v < 1 || int(v) > len(sb.vars) || sb.vars[v-1].kind != smtInt {
		return nil, fmt.Errorf("%w: no integer variable with id %d", ErrBackend, v)
	}
	return &sb.vars[v-1], nil
}

func (sb *SMTBackend) satLit(v VarID) (int, error) {
	if v < 1 || int(v) > len(sb.vars) || sb.vars[v-1].kind != smtBool {
		return 0, fmt.Errorf("%w: no boolean variable with id %d", ErrBackend, v)
	}
	return sb.vars[v-1].satVar, nil
}

// checkRel validates that a relation only references integer variables
func (sb *SMTBackend) checkRel(rel Relation) error {
	if _, err := sb.intVar(rel.X); err != nil {
		return err
	}
	if rel.Y != 0 {
		if _, err := sb.intVar(rel.Y); err != nil {
			return err
		}
	}
	return nil
}

// Assert adds one unconditional relation
func (sb *SMTBackend) Assert(rel Relation) error {
	if err := sb.checkRel(rel); err != nil {
		return err
	}
	sb.rels = append(sb.rels, guardedRel{lit: 0, rel: rel})
	return nil
}

// AssertAny adds a disjunction of relations.  Each disjunct gets a choice
// variable; a clause forces at least one choice, and each choice activates
// its relation
func (sb *SMTBackend) AssertAny(rels []Relation) error {
	if len(rels) == 0 {
		return fmt.Errorf("%w: empty disjunction", ErrBackend)
	}
	if len(rels) == 1 {
		return sb.Assert(rels[0])
	}
	clause := make([]int, 0, len(rels))
	for _, rel := range rels {
		if err := sb.checkRel(rel); err != nil {
			return err
		}
		choice := sb.freshSatVar()
		clause = append(clause, choice)
		sb.rels = append(sb.rels, guardedRel{lit: choice, rel: rel})
	}
	sb.clauses = append(sb.clauses, clause)
	return nil
}

// AssertWhen adds a relation active only when the selector has the given
// truth value
func (sb *SMTBackend) AssertWhen(sel VarID, selTrue bool, rel Relation) error {
	lit, err := sb.satLit(sel)
	if err != nil {
		return err
	}
	if err := sb.checkRel(rel); err != nil {
		return err
	}
	if !selTrue {
		lit = -lit
	}
	sb.rels = append(sb.rels, guardedRel{lit: lit, rel: rel})
	return nil
}

// AssertOrEquals constrains out to be true exactly when at least one of
// the ins is true
func (sb *SMTBackend) AssertOrEquals(out VarID, ins []VarID) error {
	outLit, err := sb.satLit(out)
	if err != nil {
		return err
	}
	if len(ins) == 0 {
		return fmt.Errorf("%w: empty disjunction for %s", ErrBackend, sb.vars[out-1].name)
	}
	backward := make([]int, 0, len(ins)+1)
	backward = append(backward, -outLit)
	for _, in := range ins {
		inLit, err := sb.satLit(in)
		if err != nil {
			return err
		}
		// any true input forces the output
		sb.clauses = append(sb.clauses, []int{-inLit, outLit})
		backward = append(backward, inLit)
	}
	// a true output needs at least one true input
	sb.clauses = append(sb.clauses, backward)
	return nil
}

// AssertSumEquals constrains the number of true variables among bools.
// The scheduling model only ever needs the exactly-zero and exactly-one
// forms, so those are what the SAT encoding provides
func (sb *SMTBackend) AssertSumEquals(bools []VarID, value int64) error {
	lits := make([]int, 0, len(bools))
	for _, b := range bools {
		lit, err := sb.satLit(b)
		if err != nil {
			return err
		}
		lits = append(lits, lit)
	}
	switch value {
	case 0:
		for _, lit := range lits {
			sb.clauses = append(sb.clauses, []int{-lit})
		}
	case 1:
		sb.clauses = append(sb.clauses, append([]int{}, lits...))
		for i := 0; i < len(lits); i++ {
			for j := i + 1; j < len(lits); j++ {
				sb.clauses = append(sb.clauses, []int{-lits[i], -lits[j]})
			}
		}
	default:
		return fmt.Errorf("%w: sum-equals %d not supported by the SAT encoding", ErrBackend, value)
	}
	return nil
}

// AddObjectiveTerm accepts and ignores the term.  The exact-arithmetic
// engine decides satisfiability; distance maximization is the MILP
// engine's business
func (sb *SMTBackend) AddObjectiveTerm(v VarID, weight float64) error {
	if v < 1 || int(v) > len(sb.vars) {
		return fmt.Errorf("%w: no variable with id %d", ErrBackend, v)
	}
	return nil
}

// loadParams reads persisted tuning parameters, falling back to defaults
func (sb *SMTBackend) loadParams() SMTParams {
	params := defaultSMTParams()
	if sb.ParamsFile == "" {
		return params
	}
	dict, err := os.ReadFile(sb.ParamsFile)
	if err != nil {
		return params
	}
	var stored []SMTParams
	if yaml.Unmarshal(dict, &stored) != nil || len(stored) == 0 {
		return params
	}
	return stored[0]
}

// Solve runs the lazy SAT-plus-theory loop within the time budget
func (sb *SMTBackend) Solve(timeLimitSeconds int) SolveResult {
	params := sb.loadParams()
	return sb.solveWith(params, timeLimitSeconds)
}

func (sb *SMTBackend) solveWith(params SMTParams, timeLimitSeconds int) SolveResult {
	deadline := time.Now().Add(time.Duration(timeLimitSeconds) * time.Second)

	// with no boolean structure the model is one difference system
	if sb.nSatVars == 0 {
		feasible, dist, _ := sb.checkTheory(func(int) bool { return false })
		if !feasible {
			return SolveResult{Status: Infeasible}
		}
		sb.storeValues(dist, func(int) bool { return false })
		return SolveResult{Status: Solved}
	}

	// the solver owns a private copy of the skeleton; blocking clauses
	// accumulate there and never touch the emitted model
	pb := solver.ParseSlice(sb.clauses)
	s := solver.New(pb)

	for conflicts := 0; conflicts < params.MaxConflicts; conflicts++ {
		if time.Now().After(deadline) {
			return SolveResult{Status: SolverError, Detail: "time limit reached before an answer"}
		}
		status := s.Solve()
		if status != solver.Sat {
			return SolveResult{Status: Infeasible}
		}
		model := s.Model()
		assigned := func(satVar int) bool {
			idx := satVar - 1
			return idx >= 0 && idx < len(model) && model[idx]
		}

		feasible, dist, conflictLits := sb.checkTheory(assigned)
		if feasible {
			sb.storeValues(dist, assigned)
			return SolveResult{Status: Solved}
		}
		if len(conflictLits) == 0 {
			// the cycle is built from unconditional constraints only, so
			// no other assignment can repair it
			return SolveResult{Status: Infeasible}
		}
		if params.BlockFullAssignment {
			conflictLits = sb.allGuardLits(assigned)
		}
		blocking := make([]int32, 0, len(conflictLits))
		for _, lit := range conflictLits {
			blocking = append(blocking, int32(-lit))
		}
		s.AppendClause(solver.NewClause(solver.IntsToLits(blocking...)))
	}
	return SolveResult{Status: SolverError, Detail: "conflict budget exhausted"}
}

// allGuardLits collects the satisfied guard literals of every guarded
// relation under the current assignment
func (sb *SMTBackend) allGuardLits(assigned func(int) bool) []int {
	seen := map[int]bool{}
	lits := []int{}
	for _, gr := range sb.rels {
		if gr.lit == 0 || !litHolds(gr.lit, assigned) || seen[gr.lit] {
			continue
		}
		seen[gr.lit] = true
		lits = append(lits, gr.lit)
	}
	return lits
}

func litHolds(lit int, assigned func(int) bool) bool {
	if lit > 0 {
		return assigned(lit)
	}
	return !assigned(-lit)
}

// dcEdge is one edge of the difference-constraint graph: an edge from
// u to v with weight w encodes value(v) <= value(u) + w.  Node 0 is the
// origin with fixed value 0
type dcEdge struct {
	from, to int
	weight   int64
	lit      int // guard literal that put the edge in the graph, 0 if none
}

// checkTheory builds the difference-constraint graph for the relations
// active under the assignment and runs Bellman-Ford over it.  The returns
// are feasibility, the node potentials of a satisfying assignment, and on
// infeasibility the guard literals found on a negative cycle
func (sb *SMTBackend) checkTheory(assigned func(int) bool) (bool, []int64, []int) {
	// node index per int variable, origin excluded
	node := make(map[VarID]int)
	nodes := 1
	for idx := range sb.vars {
		if sb.vars[idx].kind == smtInt {
			node[VarID(idx+1)] = nodes
			nodes++
		}
	}

	edges := []dcEdge{}
	for v, n := range node {
		sv := sb.vars[v-1]
		// domain bounds anchor every variable to the origin
		edges = append(edges, dcEdge{from: 0, to: n, weight: sv.max})
		edges = append(edges, dcEdge{from: n, to: 0, weight: -sv.min})
	}
	for _, gr := range sb.rels {
		if gr.lit != 0 && !litHolds(gr.lit, assigned) {
			continue
		}
		x := node[gr.rel.X]
		y := 0
		if gr.rel.Y != 0 {
			y = node[gr.rel.Y]
		}
		switch gr.rel.Op {
		case RelLE:
			edges = append(edges, dcEdge{from: y, to: x, weight: gr.rel.Dist, lit: gr.lit})
		case RelGE:
			edges = append(edges, dcEdge{from: x, to: y, weight: -gr.rel.Dist, lit: gr.lit})
		case RelEq:
			edges = append(edges, dcEdge{from: y, to: x, weight: gr.rel.Dist, lit: gr.lit})
			edges = append(edges, dcEdge{from: x, to: y, weight: -gr.rel.Dist, lit: gr.lit})
		}
	}

	// Bellman-Ford from a uniform zero potential; any negative cycle is
	// reachable under this initialization
	dist := make([]int64, nodes)
	pred := make([]int, nodes) // index into edges, -1 when unset
	for n := range pred {
		pred[n] = -1
	}
	relaxedNode := -1
	for pass := 0; pass < nodes; pass++ {
		relaxedNode = -1
		for eIdx, e := range edges {
			if dist[e.from]+e.weight < dist[e.to] {
				dist[e.to] = dist[e.from] + e.weight
				pred[e.to] = eIdx
				relaxedNode = e.to
			}
		}
		if relaxedNode == -1 {
			break
		}
	}
	if relaxedNode == -1 {
		return true, dist, nil
	}

	// a relaxation survived every pass, so a negative cycle exists; walk
	// the predecessor chain into the cycle and gather its guards
	onStack := make([]bool, nodes)
	at := relaxedNode
	for !onStack[at] {
		onStack[at] = true
		at = edges[pred[at]].from
	}
	start := at
	seen := map[int]bool{}
	lits := []int{}
	for {
		e := edges[pred[at]]
		if e.lit != 0 && litHolds(e.lit, assigned) && !seen[e.lit] {
			seen[e.lit] = true
			lits = append(lits, e.lit)
		}
		at = e.from
		if at == start {
			break
		}
	}
	return false, nil, lits
}

// storeValues turns node potentials into determinate variable values
func (sb *SMTBackend) storeValues(dist []int64, assigned func(int) bool) {
	sb.values = make(map[VarID]int64)
	n := 1
	for idx := range sb.vars {
		v := VarID(idx + 1)
		switch sb.vars[idx].kind {
		case smtInt:
			sb.values[v] = dist[n] - dist[0]
			n++
		case smtBool:
			if assigned(sb.vars[idx].satVar) {
				sb.values[v] = 1
			} else {
				sb.values[v] = 0
			}
		}
	}
}

// Value extracts a determinate value from the last Solved model
func (sb *SMTBackend) Value(v VarID) (int64, error) {
	if sb.values == nil {
		return 0, fmt.Errorf("%w: no model to extract values from", ErrBackend)
	}
	value, present := sb.values[v]
	if !present {
		return 0, fmt.Errorf("%w: no variable with id %d", ErrBackend, v)
	}
	return value, nil
}

// Tune probes the parameter space of the lazy loop against the emitted
// model, persists every parameter set that solved within its slice, and
// returns the count of sets found.  Zero means no parameter set finished
// inside the budget, a valid outcome
func (sb *SMTBackend) Tune(timeLimitSeconds int) (int, error) {
	candidates := []SMTParams{
		{BlockFullAssignment: false, MaxConflicts: 1 << 20},
		{BlockFullAssignment: true, MaxConflicts: 1 << 20},
		{BlockFullAssignment: false, MaxConflicts: 1 << 12},
	}
	slice := timeLimitSeconds / len(candidates)
	if slice < 1 {
		slice = 1
	}

	found := []SMTParams{}
	for _, params := range candidates {
		res := sb.solveWith(params, slice)
		if res.Status == Solved || res.Status == Infeasible {
			found = append(found, params)
		}
	}
	if len(found) > 0 && sb.ParamsFile != "" {
		dict, merr := yaml.Marshal(found)
		if merr != nil {
			return 0, fmt.Errorf("%w: %v", ErrBackend, merr)
		}
		if werr := os.WriteFile(sb.ParamsFile, dict, 0644); werr != nil {
			return 0, fmt.Errorf("%w: %v", ErrBackend, werr)
		}
	}
	return len(found), nil
}
