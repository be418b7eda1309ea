package ttsched

// trace.go collects a record of a scheduling run: how many variables and
// constraints each emission phase contributed, how long each phase took,
// and how the solve itself went.  The record serializes to yaml or json
// for offline inspection.

import (
	"time"
)

// PhaseRecord reports one emission phase
type PhaseRecord struct {
	Phase       string  `json:"phase" yaml:"phase"`
	Variables   int     `json:"variables" yaml:"variables"`
	Constraints int     `json:"constraints" yaml:"constraints"`
	ElapsedSecs float64 `json:"elapsedsecs" yaml:"elapsedsecs"`
}

// SolveRecord reports the terminal solve
type SolveRecord struct {
	Backend     string  `json:"backend" yaml:"backend"`
	Status      string  `json:"status" yaml:"status"`
	ElapsedSecs float64 `json:"elapsedsecs" yaml:"elapsedsecs"`
}

// TraceManager gathers phase and solve records for one run
type TraceManager struct {
	// ExpName is the name attached to the run
	ExpName string `json:"expname" yaml:"expname"`

	// Phases holds one record per emission phase, in emission order
	Phases []PhaseRecord `json:"phases" yaml:"phases"`

	// Solve is the terminal record, nil until the solve happens
	Solve *SolveRecord `json:"solve" yaml:"solve"`

	// InUse flags whether the manager is gathering records
	InUse bool `json:"-" yaml:"-"`
}

// CreateTraceManager is a constructor
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.ExpName = expName
	tm.InUse = active
	tm.Phases = []PhaseRecord{}
	return tm
}

// Active tells whether the manager is gathering records
func (tm *TraceManager) Active() bool {
	return tm.InUse
}

// AddPhase appends a record for one emission phase
func (tm *TraceManager) AddPhase(phase string, variables, constraints int, elapsed time.Duration) {
	if !tm.InUse {
		return
	}
	tm.Phases = append(tm.Phases,
		PhaseRecord{Phase: phase, Variables: variables, Constraints: constraints,
			ElapsedSecs: elapsed.Seconds()})
}

// AddSolve records the terminal solve
func (tm *TraceManager) AddSolve(backend string, status SolveStatus, elapsed time.Duration) {
	if !tm.InUse {
		return
	}
	tm.Solve = &SolveRecord{Backend: backend, Status: status.String(), ElapsedSecs: elapsed.Seconds()}
}

// PhaseConstraints reports the constraint count recorded for a phase,
// zero when the phase was never recorded
func (tm *TraceManager) PhaseConstraints(phase string) int {
	for _, rec := range tm.Phases {
		if rec.Phase == phase {
			return rec.Constraints
		}
	}
	return 0
}

// WriteToFile stores the record, choosing the format by file extension
func (tm *TraceManager) WriteToFile(filename string) error {
	return writeDesc(filename, *tm)
}
