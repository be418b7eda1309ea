package ttsched

// milp.go implements the mixed-integer backend.  Relations become linear
// rows, conditional relations become big-M rows driven by 0/1 selector
// columns, and solving is branch and bound over LP relaxations handled by
// gonum's simplex.  Once every binary is fixed the remaining rows form a
// difference system, so the LP vertices land on integers and the search
// only ever branches on the binaries.

import (
	"fmt"
	"math"
	"os"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
	"gopkg.in/yaml.v3"
)

type milpVar struct {
	name     string
	min, max float64
	integer  bool
	obj      float64
}

// milpRow is one linear row, sum of coeff*var compared against rhs
type milpRow struct {
	coeffs map[VarID]float64
	rhs    float64
}

// MILPParams are the tunable knobs of the branch and bound search
type MILPParams struct {
	// Tol is the simplex pivot tolerance
	Tol float64 `json:"tol" yaml:"tol"`

	// BranchUpFirst explores the ceiling branch before the floor branch
	BranchUpFirst bool `json:"branchupfirst" yaml:"branchupfirst"`

	// MaxNodes caps the number of explored search nodes
	MaxNodes int `json:"maxnodes" yaml:"maxnodes"`
}

func defaultMILPParams() MILPParams {
	return MILPParams{Tol: 1e-9, BranchUpFirst: true, MaxNodes: 1 << 20}
}

// MILPBackend implements the Backend contract as a mixed-integer linear
// program.  All state is scoped to the instance
type MILPBackend struct {
	// ParamsFile names the file tuned parameters are persisted to and
	// loaded from.  Empty disables parameter persistence
	ParamsFile string

	vars []milpVar // VarID v lives at vars[v-1]
	ineq []milpRow // rows with sum <= rhs
	eq   []milpRow // rows with sum == rhs

	hasObjective bool
	values       map[VarID]int64
}

// CreateMILPBackend is a constructor
func CreateMILPBackend() *MILPBackend {
	mb := new(MILPBackend)
	mb.vars = []milpVar{}
	mb.ineq = []milpRow{}
	mb.eq = []milpRow{}
	return mb
}

// NewIntVar creates an integer variable with inclusive domain [min, max]
func (mb *MILPBackend) NewIntVar(name string, min, max int64) (VarID, error) {
	if min < 0 {
		return 0, fmt.Errorf("%w: variable %s with negative domain minimum %d", ErrBackend, name, min)
	}
	mb.vars = append(mb.vars, milpVar{name: name, min: float64(min), max: float64(max), integer: true})
	return VarID(len(mb.vars)), nil
}

// NewBoolVar creates a 0/1 decision column
func (mb *MILPBackend) NewBoolVar(name string) (VarID, error) {
	mb.vars = append(mb.vars, milpVar{name: name, min: 0, max: 1, integer: true})
	return VarID(len(mb.vars)), nil
}

func (mb *MILPBackend) checkVar(v VarID) error {
	if v < 1 || int(v) > len(mb.vars) {
		return fmt.Errorf("%w: no variable with id %d", ErrBackend, v)
	}
	return nil
}

// relRows translates a relation into inequality rows in sum <= rhs form
func relRows(rel Relation) []milpRow {
	le := milpRow{coeffs: map[VarID]float64{rel.X: 1}, rhs: float64(rel.Dist)}
	ge := milpRow{coeffs: map[VarID]float64{rel.X: -1}, rhs: -float64(rel.Dist)}
	if rel.Y != 0 {
		// accumulate so a relation between a variable and itself cancels
		le.coeffs[rel.Y] -= 1
		ge.coeffs[rel.Y] += 1
	}
	switch rel.Op {
	case RelLE:
		return []milpRow{le}
	case RelGE:
		return []milpRow{ge}
	default:
		return []milpRow{le, ge}
	}
}

func (mb *MILPBackend) checkRel(rel Relation) error {
	if err := mb.checkVar(rel.X); err != nil {
		return err
	}
	if rel.Y != 0 {
		return mb.checkVar(rel.Y)
	}
	return nil
}

// Assert adds one unconditional relation
func (mb *MILPBackend) Assert(rel Relation) error {
	if err := mb.checkRel(rel); err != nil {
		return err
	}
	mb.ineq = append(mb.ineq, relRows(rel)...)
	return nil
}

// slack bounds the left side of an inequality row so a big-M constant can
// deactivate it
func (mb *MILPBackend) slack(row milpRow) float64 {
	worst := 0.0
	for v, c := range row.coeffs {
		if c > 0 {
			worst += c * mb.vars[v-1].max
		} else {
			worst += c * mb.vars[v-1].min
		}
	}
	m := worst - row.rhs
	if m < 0 {
		m = 0
	}
	return m
}

// guardRow attaches a selector column to a row so the row only binds when
// the selector takes the given value
func (mb *MILPBackend) guardRow(row milpRow, sel VarID, selTrue bool) milpRow {
	m := mb.slack(row)
	coeffs := map[VarID]float64{}
	for v, c := range row.coeffs {
		coeffs[v] = c
	}
	if selTrue {
		// sum + M*sel <= rhs + M: slack M when sel is 0, tight when 1
		coeffs[sel] += m
		return milpRow{coeffs: coeffs, rhs: row.rhs + m}
	}
	// sum - M*sel <= rhs: slack M when sel is 1, tight when 0
	coeffs[sel] -= m
	return milpRow{coeffs: coeffs, rhs: row.rhs}
}

// AssertAny adds a disjunction of relations via choice binaries, at least
// one of which must hold
func (mb *MILPBackend) AssertAny(rels []Relation) error {
	if len(rels) == 0 {
		return fmt.Errorf("%w: empty disjunction", ErrBackend)
	}
	if len(rels) == 1 {
		return mb.Assert(rels[0])
	}
	atLeastOne := milpRow{coeffs: map[VarID]float64{}, rhs: -1}
	for i, rel := range rels {
		if err := mb.checkRel(rel); err != nil {
			return err
		}
		choice, err := mb.NewBoolVar(fmt.Sprintf("Choice_%d_%d", len(mb.ineq), i))
		if err != nil {
			return err
		}
		atLeastOne.coeffs[choice] = -1
		for _, row := range relRows(rel) {
			mb.ineq = append(mb.ineq, mb.guardRow(row, choice, true))
		}
	}
	mb.ineq = append(mb.ineq, atLeastOne)
	return nil
}

// AssertWhen adds a relation that only binds when the selector has the
// given truth value
func (mb *MILPBackend) AssertWhen(sel VarID, selTrue bool, rel Relation) error {
	if err := mb.checkVar(sel); err != nil {
		return err
	}
	if err := mb.checkRel(rel); err != nil {
		return err
	}
	for _, row := range relRows(rel) {
		mb.ineq = append(mb.ineq, mb.guardRow(row, sel, selTrue))
	}
	return nil
}

// AssertOrEquals constrains a 0/1 column to be 1 exactly when at least one
// of the input columns is 1
func (mb *MILPBackend) AssertOrEquals(out VarID, ins []VarID) error {
	if err := mb.checkVar(out); err != nil {
		return err
	}
	if len(ins) == 0 {
		return fmt.Errorf("%w: empty disjunction for %s", ErrBackend, mb.vars[out-1].name)
	}
	// out <= sum(ins)
	upper := milpRow{coeffs: map[VarID]float64{out: 1}, rhs: 0}
	for _, in := range ins {
		if err := mb.checkVar(in); err != nil {
			return err
		}
		upper.coeffs[in] -= 1
		// in <= out
		mb.ineq = append(mb.ineq, milpRow{coeffs: map[VarID]float64{in: 1, out: -1}, rhs: 0})
	}
	mb.ineq = append(mb.ineq, upper)
	return nil
}

// AssertSumEquals constrains the sum of 0/1 columns to a constant
func (mb *MILPBackend) AssertSumEquals(bools []VarID, value int64) error {
	row := milpRow{coeffs: map[VarID]float64{}, rhs: float64(value)}
	for _, b := range bools {
		if err := mb.checkVar(b); err != nil {
			return err
		}
		row.coeffs[b] += 1
	}
	mb.eq = append(mb.eq, row)
	return nil
}

// AddObjectiveTerm adds weight*v to the maximization objective
func (mb *MILPBackend) AddObjectiveTerm(v VarID, weight float64) error {
	if err := mb.checkVar(v); err != nil {
		return err
	}
	mb.vars[v-1].obj += weight
	if weight != 0 {
		mb.hasObjective = true
	}
	return nil
}

// bbNode is one branch and bound node, holding the bound overrides
// accumulated by branching decisions
type bbNode struct {
	lower map[VarID]float64
	upper map[VarID]float64
}

func (node bbNode) child() bbNode {
	c := bbNode{lower: map[VarID]float64{}, upper: map[VarID]float64{}}
	for v, b := range node.lower {
		c.lower[v] = b
	}
	for v, b := range node.upper {
		c.upper[v] = b
	}
	return c
}

// solveLP builds the standard-form LP of a node and runs simplex.  Bound
// rows carry the variable domains, overridden by the node's branching
// decisions.  The returns are the objective value (maximization sense),
// the variable values, and feasibility
func (mb *MILPBackend) solveLP(node bbNode, tol float64) (float64, []float64, bool) {
	n := len(mb.vars)

	rows := make([]milpRow, 0, len(mb.ineq)+2*n)
	rows = append(rows, mb.ineq...)
	for idx := range mb.vars {
		v := VarID(idx + 1)
		lo, hi := mb.vars[idx].min, mb.vars[idx].max
		if b, ok := node.lower[v]; ok && b > lo {
			lo = b
		}
		if b, ok := node.upper[v]; ok && b < hi {
			hi = b
		}
		if lo > hi {
			return 0, nil, false
		}
		rows = append(rows, milpRow{coeffs: map[VarID]float64{v: 1}, rhs: hi})
		if lo > 0 {
			rows = append(rows, milpRow{coeffs: map[VarID]float64{v: -1}, rhs: -lo})
		}
	}

	nRows := len(rows) + len(mb.eq)
	nCols := n + len(rows) // one slack column per inequality row
	dense := mat.NewDense(nRows, nCols, nil)
	b := make([]float64, nRows)
	set := func(r int, row milpRow, slackCol int) {
		sign := 1.0
		if row.rhs < 0 {
			// simplex wants nonnegative right sides
			sign = -1.0
		}
		for v, c := range row.coeffs {
			dense.Set(r, int(v)-1, sign*c)
		}
		if slackCol >= 0 {
			dense.Set(r, slackCol, sign)
		}
		b[r] = sign * row.rhs
	}
	for r, row := range rows {
		set(r, row, n+r)
	}
	for i, row := range mb.eq {
		set(len(rows)+i, row, -1)
	}

	// simplex minimizes, the objective maximizes
	c := make([]float64, nCols)
	for idx := range mb.vars {
		c[idx] = -mb.vars[idx].obj
	}

	optF, optX, err := lp.Simplex(c, dense, b, tol, nil)
	if err != nil {
		return 0, nil, false
	}
	return -optF, optX[:n], true
}

// loadParams reads persisted tuning parameters, falling back to defaults
func (mb *MILPBackend) loadParams() MILPParams {
	params := defaultMILPParams()
	if mb.ParamsFile == "" {
		return params
	}
	dict, err := os.ReadFile(mb.ParamsFile)
	if err != nil {
		return params
	}
	var stored []MILPParams
	if yaml.Unmarshal(dict, &stored) != nil || len(stored) == 0 {
		return params
	}
	return stored[0]
}

// Solve runs branch and bound within the time budget
func (mb *MILPBackend) Solve(timeLimitSeconds int) SolveResult {
	return mb.solveWith(mb.loadParams(), timeLimitSeconds)
}

func (mb *MILPBackend) solveWith(params MILPParams, timeLimitSeconds int) SolveResult {
	deadline := time.Now().Add(time.Duration(timeLimitSeconds) * time.Second)
	const intTol = 1e-6

	stack := []bbNode{{lower: map[VarID]float64{}, upper: map[VarID]float64{}}}
	var bestX []float64
	bestObj := math.Inf(-1)
	truncated := false

	for nodesSeen := 0; len(stack) > 0; nodesSeen++ {
		if nodesSeen >= params.MaxNodes {
			truncated = true
			break
		}
		if time.Now().After(deadline) {
			if bestX != nil {
				break
			}
			return SolveResult{Status: SolverError, Detail: "time limit reached before an answer"}
		}
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		obj, x, feasible := mb.solveLP(node, params.Tol)
		if !feasible {
			continue
		}
		if bestX != nil && obj <= bestObj+intTol {
			// the relaxation cannot beat the incumbent
			continue
		}

		branchVar := VarID(0)
		branchFrac := 0.0
		for idx := range mb.vars {
			if !mb.vars[idx].integer {
				continue
			}
			frac := math.Abs(x[idx] - math.Round(x[idx]))
			if frac > intTol && frac > branchFrac {
				branchFrac = frac
				branchVar = VarID(idx + 1)
			}
		}
		if branchVar == 0 {
			bestObj = obj
			bestX = append([]float64{}, x...)
			if !mb.hasObjective {
				// satisfiability only, the first integral point settles it
				break
			}
			continue
		}

		floor := node.child()
		floor.upper[branchVar] = math.Floor(x[branchVar-1])
		ceil := node.child()
		ceil.lower[branchVar] = math.Ceil(x[branchVar-1])
		if params.BranchUpFirst {
			stack = append(stack, floor, ceil)
		} else {
			stack = append(stack, ceil, floor)
		}
	}

	if bestX == nil {
		if truncated {
			return SolveResult{Status: SolverError, Detail: "node budget exhausted"}
		}
		return SolveResult{Status: Infeasible}
	}
	mb.values = make(map[VarID]int64)
	for idx, value := range bestX {
		mb.values[VarID(idx+1)] = int64(math.Round(value))
	}
	return SolveResult{Status: Solved}
}

// Value extracts a determinate value from the last Solved model
func (mb *MILPBackend) Value(v VarID) (int64, error) {
	if mb.values == nil {
		return 0, fmt.Errorf("%w: no model to extract values from", ErrBackend)
	}
	value, present := mb.values[v]
	if !present {
		return 0, fmt.Errorf("%w: no variable with id %d", ErrBackend, v)
	}
	return value, nil
}

// Tune probes the search parameter space against the emitted model,
// persists every parameter set that finished within its slice, and
// returns the count of sets found
func (mb *MILPBackend) Tune(timeLimitSeconds int) (int, error) {
	candidates := []MILPParams{
		{Tol: 1e-9, BranchUpFirst: true, MaxNodes: 1 << 20},
		{Tol: 1e-9, BranchUpFirst: false, MaxNodes: 1 << 20},
		{Tol: 1e-7, BranchUpFirst: true, MaxNodes: 1 << 16},
	}
	slice := timeLimitSeconds / len(candidates)
	if slice < 1 {
		slice = 1
	}

	found := []MILPParams{}
	for _, params := range candidates {
		res := mb.solveWith(params, slice)
		if res.Status == Solved || res.Status == Infeasible {
			found = append(found, params)
		}
	}
	if len(found) > 0 && mb.ParamsFile != "" {
		dict, merr := yaml.Marshal(found)
		if merr != nil {
			return 0, fmt.Errorf("%w: %v", ErrBackend, merr)
		}
		if werr := os.WriteFile(mb.ParamsFile, dict, 0644); werr != nil {
			return 0, fmt.Errorf("%w: %v", ErrBackend, werr)
		}
	}
	return len(found), nil
}
