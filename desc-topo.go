package ttsched

// desc-topo.go holds the serializable descriptions a scheduling run reads
// and writes: the network description (links, path catalog, frame set),
// the run configuration, and the schedule produced by a solved run.  Each
// description type marshals to yaml or json, chosen by file extension on
// write and by flag on read.

import (
	"encoding/json"
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

// LinkDesc describes one link of the network
type LinkDesc struct {
	// Id is the link identifier, expected to be dense starting at 0
	Id int `json:"id" yaml:"id"`

	// Speed is the transmission rate in MB/s
	Speed int `json:"speed" yaml:"speed"`

	// Medium names the media type, one of "wired", "wireless",
	// "access-point".  Empty means wired
	Medium string `json:"medium" yaml:"medium"`
}

// PathDesc describes one candidate path of the catalog
type PathDesc struct {
	Sender   int   `json:"sender" yaml:"sender"`
	Receiver int   `json:"receiver" yaml:"receiver"`
	Links    []int `json:"links" yaml:"links"`
}

// FrameDesc describes one periodic frame.  A zero deadline defaults to
// the period, a zero end-to-end delay defaults to the deadline
type FrameDesc struct {
	Name      string `json:"name" yaml:"name"`
	Size      int    `json:"size" yaml:"size"`
	Period    int64  `json:"period" yaml:"period"`
	Deadline  int64  `json:"deadline" yaml:"deadline"`
	EndToEnd  int64  `json:"endtoend" yaml:"endtoend"`
	Starting  int64  `json:"starting" yaml:"starting"`
	Sender    int    `json:"sender" yaml:"sender"`
	Receivers []int  `json:"receivers" yaml:"receivers"`
}

// NetworkDesc is the serializable form of a network
type NetworkDesc struct {
	Name          string      `json:"name" yaml:"name"`
	SwitchMinTime int64       `json:"switchmintime" yaml:"switchmintime"`
	Links         []LinkDesc  `json:"links" yaml:"links"`
	Paths         []PathDesc  `json:"paths" yaml:"paths"`
	Frames        []FrameDesc `json:"frames" yaml:"frames"`
}

// ReadNetworkDesc deserializes a network description, from the named file
// if the dict is empty
func ReadNetworkDesc(filename string, useYAML bool, dict []byte) (*NetworkDesc, error) {
	var err error
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := NetworkDesc{}
	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}
	if err != nil {
		return nil, err
	}
	return &example, nil
}

// WriteToFile stores the description, choosing the format by file extension
func (nd *NetworkDesc) WriteToFile(filename string) error {
	return writeDesc(filename, *nd)
}

// BuildNetwork turns a description into a loaded Network.  Frames are
// created in description order, with the zero-value defaulting applied
// before the validated setters run
func BuildNetwork(nd *NetworkDesc) (*Network, error) {
	nw, err := CreateNetwork(nd.SwitchMinTime)
	if err != nil {
		return nil, err
	}

	maxLinkId := -1
	for _, ld := range nd.Links {
		medium, present := strToLt[ld.Medium]
		if ld.Medium == "" {
			medium = LinkWired
		} else if !present {
			return nil, fmt.Errorf("link %d: %w: unknown medium %s", ld.Id, ErrInvalidAttribute, ld.Medium)
		}
		if err := nw.AddLink(ld.Id, ld.Speed, medium); err != nil {
			return nil, err
		}
		if ld.Id > maxLinkId {
			maxLinkId = ld.Id
		}
	}
	for _, pd := range nd.Paths {
		if err := nw.AddPath(pd.Sender, pd.Receiver, pd.Links); err != nil {
			return nil, err
		}
	}

	for idx, fd := range nd.Frames {
		deadline := fd.Deadline
		if deadline == 0 {
			deadline = fd.Period
		}
		endToEnd := fd.EndToEnd
		if endToEnd == 0 {
			endToEnd = deadline
		}
		frame := CreateFrame(maxLinkId + 1)
		// the setter order matters, each validates against the ones before
		steps := []error{
			frame.SetSize(fd.Size),
			frame.SetPeriod(fd.Period),
			frame.SetDeadline(deadline),
			frame.SetEndToEndDelay(endToEnd),
			frame.SetStarting(fd.Starting),
			frame.SetSender(fd.Sender),
			frame.SetReceivers(fd.Receivers),
		}
		for _, serr := range steps {
			if serr != nil {
				return nil, fmt.Errorf("frame %d (%s): %w", idx, fd.Name, serr)
			}
		}
		if err := nw.AddFrame(frame); err != nil {
			return nil, err
		}
	}
	return nw, nil
}

// backend names accepted by a run configuration
const (
	BackendSMT  string = "smt"
	BackendMILP string = "milp"
)

// SchedCfg selects the options of a scheduling run
type SchedCfg struct {
	// Name labels the run in traces and output
	Name string `json:"name" yaml:"name"`

	// Backend picks the constraint engine, "smt" or "milp"
	Backend string `json:"backend" yaml:"backend"`

	// TimeLimit bounds the solve in seconds
	TimeLimit int `json:"timelimit" yaml:"timelimit"`

	// OptimizeDistances turns the distance maximization objective on
	OptimizeDistances bool `json:"optimizedistances" yaml:"optimizedistances"`

	// FrameWeight and LinkWeight weigh the distance objective terms
	FrameWeight float64 `json:"frameweight" yaml:"frameweight"`
	LinkWeight  float64 `json:"linkweight" yaml:"linkweight"`

	// SelectPath lets the model pick one candidate path per receiver
	// instead of scheduling along every path
	SelectPath bool `json:"selectpath" yaml:"selectpath"`

	// WirelessReplicas is the retransmission count applied to wireless
	// and access-point hops
	WirelessReplicas int `json:"wirelessreplicas" yaml:"wirelessreplicas"`

	// Tune probes engine parameters against the emitted model instead of
	// solving, within TuneTimeLimit seconds
	Tune          bool `json:"tune" yaml:"tune"`
	TuneTimeLimit int  `json:"tunetimelimit" yaml:"tunetimelimit"`

	// ParamsFile is where tuned engine parameters persist between runs
	ParamsFile string `json:"paramsfile" yaml:"paramsfile"`

	// TraceFile, when set, receives the phase and solve record of the run
	TraceFile string `json:"tracefile" yaml:"tracefile"`
}

// ReadSchedCfg deserializes a run configuration, from the named file if
// the dict is empty, and fills in defaults for omitted fields
func ReadSchedCfg(filename string, useYAML bool, dict []byte) (*SchedCfg, error) {
	var err error
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := SchedCfg{}
	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}
	if err != nil {
		return nil, err
	}

	if example.Backend == "" {
		example.Backend = BackendSMT
	}
	if example.TimeLimit < 1 {
		example.TimeLimit = 300
	}
	if example.TuneTimeLimit < 1 {
		example.TuneTimeLimit = example.TimeLimit
	}
	return &example, nil
}

// WriteToFile stores the configuration, choosing the format by file extension
func (cfg *SchedCfg) WriteToFile(filename string) error {
	return writeDesc(filename, *cfg)
}

// createBackend instantiates the engine the configuration names
func createBackend(cfg *SchedCfg) (Backend, error) {
	switch cfg.Backend {
	case BackendSMT:
		sb := CreateSMTBackend()
		sb.ParamsFile = cfg.ParamsFile
		return sb, nil
	case BackendMILP:
		mb := CreateMILPBackend()
		mb.ParamsFile = cfg.ParamsFile
		return mb, nil
	}
	return nil, fmt.Errorf("%w: unknown backend %s", ErrInvalidAttribute, cfg.Backend)
}

// OffsetScheduleDesc reports the solved transmission times of one frame
// on one link, a grid of instances by replicas
type OffsetScheduleDesc struct {
	Link         int       `json:"link" yaml:"link"`
	TimeslotSize int64     `json:"timeslotsize" yaml:"timeslotsize"`
	Times        [][]int64 `json:"times" yaml:"times"`
}

// ChosenPathDesc reports the path the model picked towards one receiver
type ChosenPathDesc struct {
	Receiver int `json:"receiver" yaml:"receiver"`
	PathId   int `json:"pathid" yaml:"pathid"`
}

// FrameScheduleDesc reports the solved schedule of one frame
type FrameScheduleDesc struct {
	Frame   int                  `json:"frame" yaml:"frame"`
	Offsets []OffsetScheduleDesc `json:"offsets" yaml:"offsets"`
	Paths   []ChosenPathDesc     `json:"paths" yaml:"paths"`
}

// ScheduleDesc is the serializable form of a solved schedule
type ScheduleDesc struct {
	Name        string              `json:"name" yaml:"name"`
	HyperPeriod int64               `json:"hyperperiod" yaml:"hyperperiod"`
	Frames      []FrameScheduleDesc `json:"frames" yaml:"frames"`
}

// BuildScheduleDesc extracts the solved schedule of a run.  The run must
// have ended in the solved state
func BuildScheduleDesc(name string, nw *Network, opt *Optimizer) (*ScheduleDesc, error) {
	if opt.State() != StateSolved {
		return nil, fmt.Errorf("%w: schedule extraction requires a solved run, state %s",
			ErrNotInitialized, opt.State())
	}
	sd := &ScheduleDesc{Name: name, HyperPeriod: nw.HyperPeriod(),
		Frames: []FrameScheduleDesc{}}

	for fIdx := 0; fIdx < nw.NumFrames(); fIdx++ {
		frame := nw.Frame(fIdx)
		fsd := FrameScheduleDesc{Frame: fIdx,
			Offsets: []OffsetScheduleDesc{}, Paths: []ChosenPathDesc{}}
		for oIdx := 0; oIdx < frame.NumOffsets(); oIdx++ {
			ofs := frame.Offset(oIdx)
			times := make([][]int64, ofs.NumInstances())
			for i := range times {
				times[i] = make([]int64, ofs.replicaRange())
				for r := range times[i] {
					value, err := ofs.Time(i, r)
					if err != nil {
						return nil, err
					}
					times[i][r] = value
				}
			}
			fsd.Offsets = append(fsd.Offsets,
				OffsetScheduleDesc{Link: ofs.Link(), TimeslotSize: ofs.TimeslotSize(), Times: times})
		}
		for rIdx := 0; rIdx < frame.NumReceivers(); rIdx++ {
			pathId, err := opt.ChosenPath(fIdx, rIdx)
			if err != nil {
				return nil, err
			}
			fsd.Paths = append(fsd.Paths,
				ChosenPathDesc{Receiver: frame.Receiver(rIdx), PathId: pathId})
		}
		sd.Frames = append(sd.Frames, fsd)
	}
	return sd, nil
}

// WriteToFile stores the schedule, choosing the format by file extension
func (sd *ScheduleDesc) WriteToFile(filename string) error {
	return writeDesc(filename, *sd)
}

// writeDesc marshals a description by file extension and stores it
func writeDesc(filename string, desc any) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(desc)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(desc, "", "\t")
	}

	if merr != nil {
		panic(merr)
	}

	f, cerr := os.Create(filename)
	if cerr != nil {
		panic(cerr)
	}
	defer f.Close()

	_, werr := f.WriteString(string(bytes))
	if werr != nil {
		panic(werr)
	}
	return nil
}
