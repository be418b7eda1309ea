package ttsched

// scheduler.go drives a complete scheduling run from descriptions on
// disk: read the network and configuration, build the model, emit the
// constraints, solve, and persist the schedule.  The driver owns the
// phase ordering; each phase lives in optimizer.go.

import (
	"fmt"
	"path"
)

// isYAMLFile picks the description format by file extension
func isYAMLFile(filename string) bool {
	pathExt := path.Ext(filename)
	return pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml"
}

// buildRun performs the shared front half of a run: descriptions in,
// model emitted, ready to solve or tune
func buildRun(networkFile, cfgFile string) (*Optimizer, Backend, *SchedCfg, *TraceManager, error) {
	cfg, err := ReadSchedCfg(cfgFile, isYAMLFile(cfgFile), nil)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	nd, err := ReadNetworkDesc(networkFile, isYAMLFile(networkFile), nil)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	nw, err := BuildNetwork(nd)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	backend, err := createBackend(cfg)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	tm := CreateTraceManager(cfg.Name, cfg.TraceFile != "")
	opt := CreateOptimizer(nw, backend, cfg, tm)

	if err := opt.LoadTopology(); err != nil {
		return nil, nil, nil, nil, err
	}
	if err := opt.LoadFrames(); err != nil {
		return nil, nil, nil, nil, err
	}
	if err := opt.CreateVariables(); err != nil {
		return nil, nil, nil, nil, err
	}
	if err := opt.EmitConstraints(); err != nil {
		return nil, nil, nil, nil, err
	}
	return opt, backend, cfg, tm, nil
}

// OneShotScheduling runs a complete scheduling pass.  On a Solved outcome
// the extracted schedule is written to scheduleFile.  With the Tune
// option set in the configuration the emitted model is used to probe
// engine parameters instead; the result carries the Tuned status and the
// count of surviving parameter sets in its detail.  Infeasible is a valid
// outcome and returns no error
func OneShotScheduling(networkFile, cfgFile, scheduleFile string) (SolveResult, error) {
	opt, backend, cfg, tm, err := buildRun(networkFile, cfgFile)
	if err != nil {
		return SolveResult{}, err
	}

	if cfg.Tune {
		count, terr := backend.Tune(cfg.TuneTimeLimit)
		if terr != nil {
			return SolveResult{}, terr
		}
		return SolveResult{Status: Tuned,
			Detail: fmt.Sprintf("tuning kept %d parameter sets", count)}, nil
	}

	res, err := opt.Solve(cfg.TimeLimit)
	if err != nil {
		return res, err
	}
	if tm.Active() {
		if werr := tm.WriteToFile(cfg.TraceFile); werr != nil {
			return res, werr
		}
	}
	if res.Status != Solved {
		return res, nil
	}

	sd, err := BuildScheduleDesc(cfg.Name, opt.nw, opt)
	if err != nil {
		return res, err
	}
	if scheduleFile != "" {
		if werr := sd.WriteToFile(scheduleFile); werr != nil {
			return res, werr
		}
	}
	return res, nil
}
