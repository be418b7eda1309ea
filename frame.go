package ttsched

// frame.go holds the frame and offset data structures.  A frame is one
// periodic message flow from a sender end system to one or more receivers.
// An offset is the set of transmission-time variables of one frame on one
// link, with one cell per (instance, replica) pair.  The frame keeps its
// offsets both as an insertion-ordered list and behind a link-indexed
// accelerator so that lookup by link id costs O(1).

import (
	"errors"
	"fmt"
)

// Errors raised while attributing frames and preparing offsets.
// ErrInvalidAttribute marks violations of the timing invariant chain
// starting < deadline <= period and e2e <= deadline; they surface at the
// moment the violating setter is called, so setters must be invoked with
// their dependencies already in place (period before deadline, deadline
// before end-to-end delay and starting time)
var (
	ErrInvalidAttribute = errors.New("invalid attribute")
	ErrNotInitialized   = errors.New("not initialized")
)

// Offset holds the transmission times of one frame on one link.
// The grid is dense: one row per instance (periodic repetition within the
// hyperperiod) and one column per replica (wireless retransmission of the
// same instance)
type Offset struct {
	link         int       // identifier of the link this offset transmits on
	numInstances int       // hyperperiod / frame period
	numReplicas  int       // retransmissions per instance, 0 when none are tracked
	timeslotSize int64     // ns needed to put the frame on this link
	times        [][]int64 // scheduled transmission times, in ns
	vars         [][]VarID // backend variable handle per grid cell
}

// Link returns the identifier of the link the offset transmits on
func (ofs *Offset) Link() int {
	return ofs.link
}

// NumInstances returns the number of periodic repetitions of the offset
func (ofs *Offset) NumInstances() int {
	return ofs.numInstances
}

// SetNumInstances stores the repetition count, which must be at least 1
func (ofs *Offset) SetNumInstances(numInstances int) error {
	if numInstances < 1 {
		return fmt.Errorf("offset on link %d: %w: %d instances", ofs.link, ErrInvalidAttribute, numInstances)
	}
	ofs.numInstances = numInstances
	return nil
}

// NumReplicas returns the number of retransmissions tracked per instance
func (ofs *Offset) NumReplicas() int {
	return ofs.numReplicas
}

// SetNumReplicas stores the retransmission count.  Zero is allowed and
// means no replication is tracked for this offset
func (ofs *Offset) SetNumReplicas(numReplicas int) error {
	if numReplicas < 0 {
		return fmt.Errorf("offset on link %d: %w: %d replicas", ofs.link, ErrInvalidAttribute, numReplicas)
	}
	ofs.numReplicas = numReplicas
	return nil
}

// replicaRange gives the number of replica columns the grid carries.
// An offset with no tracked replication still transmits once, so zero
// replicas ranges as one
func (ofs *Offset) replicaRange() int {
	return max(ofs.numReplicas, 1)
}

// TimeslotSize returns the ns the frame occupies this link per transmission
func (ofs *Offset) TimeslotSize() int64 {
	return ofs.timeslotSize
}

// SetTimeslotSize stores the transmission duration on this link
func (ofs *Offset) SetTimeslotSize(size int64) error {
	if size <= 0 {
		return fmt.Errorf("offset on link %d: %w: timeslot %d", ofs.link, ErrInvalidAttribute, size)
	}
	ofs.timeslotSize = size
	return nil
}

// Prepare allocates the dense instances x replicas grids for transmission
// times and backend variable handles.  It fails if the instance count was
// never set; the replica count may legitimately still be zero
func (ofs *Offset) Prepare() error {
	if ofs.numInstances < 1 {
		return fmt.Errorf("offset on link %d: %w: instances not set before prepare", ofs.link, ErrNotInitialized)
	}
	ofs.times = make([][]int64, ofs.numInstances)
	ofs.vars = make([][]VarID, ofs.numInstances)
	for inst := 0; inst < ofs.numInstances; inst++ {
		ofs.times[inst] = make([]int64, ofs.replicaRange())
		ofs.vars[inst] = make([]VarID, ofs.replicaRange())
	}
	return nil
}

// prepared tells whether the value grid has been allocated
func (ofs *Offset) prepared() bool {
	return ofs.times != nil
}

// Time returns the scheduled transmission time of one grid cell
func (ofs *Offset) Time(instance, replica int) (int64, error) {
	if !ofs.prepared() {
		return 0, fmt.Errorf("offset on link %d: %w: grid not prepared", ofs.link, ErrNotInitialized)
	}
	if instance < 0 || instance >= ofs.numInstances || replica < 0 || replica >= ofs.replicaRange() {
		return 0, fmt.Errorf("offset on link %d: cell (%d,%d) out of range", ofs.link, instance, replica)
	}
	return ofs.times[instance][replica], nil
}

// SetTime stores the transmission time of one grid cell
func (ofs *Offset) SetTime(instance, replica int, value int64) error {
	if !ofs.prepared() {
		return fmt.Errorf("offset on link %d: %w: grid not prepared", ofs.link, ErrNotInitialized)
	}
	if instance < 0 || instance >= ofs.numInstances || replica < 0 || replica >= ofs.replicaRange() {
		return fmt.Errorf("offset on link %d: cell (%d,%d) out of range", ofs.link, instance, replica)
	}
	ofs.times[instance][replica] = value
	return nil
}

// Var returns the backend variable handle of one grid cell.  A zero VarID
// means the cell was never bound to a variable, which is a builder error
func (ofs *Offset) Var(instance, replica int) (VarID, error) {
	if !ofs.prepared() {
		return 0, fmt.Errorf("offset on link %d: %w: grid not prepared", ofs.link, ErrNotInitialized)
	}
	v := ofs.vars[instance][replica]
	if v == 0 {
		return 0, fmt.Errorf("offset on link %d: cell (%d,%d) has no variable", ofs.link, instance, replica)
	}
	return v, nil
}

// setVar binds a backend variable handle to one grid cell
func (ofs *Offset) setVar(instance, replica int, v VarID) error {
	if !ofs.prepared() {
		return fmt.Errorf("offset on link %d: %w: grid not prepared", ofs.link, ErrNotInitialized)
	}
	ofs.vars[instance][replica] = v
	return nil
}

// Frame carries the timing attributes of one periodic message flow and the
// offsets it has on the links it traverses
type Frame struct {
	size        int     // size of the frame in bytes
	period      int64   // period in ns
	deadline    int64   // deadline in ns, at most the period
	endToEnd    int64   // maximum delay from first to last transmission, in ns
	starting    int64   // earliest transmission time within the period, in ns
	sender      int     // id of the sending end system
	receivers   []int   // ids of the receiving end systems
	offsets     []*Offset // offsets in creation order
	offsetHash  []*Offset // link-indexed accelerator, entry nil when the frame skips the link
}

// CreateFrame is a constructor.  The accelerator is sized to the total
// link count of the network; entries fill in lazily as offsets are created
func CreateFrame(numLinks int) *Frame {
	frame := new(Frame)
	frame.offsets = []*Offset{}
	frame.offsetHash = make([]*Offset, numLinks)
	frame.receivers = []int{}
	return frame
}

// Size returns the frame size in bytes
func (frame *Frame) Size() int {
	return frame.size
}

// SetSize stores the frame size in bytes
func (frame *Frame) SetSize(size int) error {
	if size <= 0 {
		return fmt.Errorf("%w: frame size %d", ErrInvalidAttribute, size)
	}
	frame.size = size
	return nil
}

// Period returns the frame period in ns
func (frame *Frame) Period() int64 {
	return frame.period
}

// SetPeriod stores the frame period in ns
func (frame *Frame) SetPeriod(period int64) error {
	if period <= 0 {
		return fmt.Errorf("%w: frame period %d", ErrInvalidAttribute, period)
	}
	frame.period = period
	return nil
}

// Deadline returns the frame deadline in ns
func (frame *Frame) Deadline() int64 {
	return frame.deadline
}

// SetDeadline stores the frame deadline.  The period must already be set;
// a deadline above it is rejected here, not deferred
func (frame *Frame) SetDeadline(deadline int64) error {
	if deadline <= 0 {
		return fmt.Errorf("%w: frame deadline %d", ErrInvalidAttribute, deadline)
	}
	if deadline > frame.period {
		return fmt.Errorf("%w: deadline %d larger than period %d", ErrInvalidAttribute, deadline, frame.period)
	}
	frame.deadline = deadline
	return nil
}

// EndToEndDelay returns the maximum first-to-last transmission delay in ns
func (frame *Frame) EndToEndDelay() int64 {
	return frame.endToEnd
}

// SetEndToEndDelay stores the end-to-end delay bound, which cannot exceed
// the deadline already in place
func (frame *Frame) SetEndToEndDelay(delay int64) error {
	if delay <= 0 {
		return fmt.Errorf("%w: end to end delay %d", ErrInvalidAttribute, delay)
	}
	if delay > frame.deadline {
		return fmt.Errorf("%w: end to end delay %d larger than deadline %d", ErrInvalidAttribute, delay, frame.deadline)
	}
	frame.endToEnd = delay
	return nil
}

// Starting returns the earliest transmission time of the frame in ns
func (frame *Frame) Starting() int64 {
	return frame.starting
}

// SetStarting stores the starting time, which must leave room before the
// deadline already in place
func (frame *Frame) SetStarting(starting int64) error {
	if starting < 0 {
		return fmt.Errorf("%w: starting time %d", ErrInvalidAttribute, starting)
	}
	if starting >= frame.deadline {
		return fmt.Errorf("%w: starting time %d not before deadline %d", ErrInvalidAttribute, starting, frame.deadline)
	}
	frame.starting = starting
	return nil
}

// Sender returns the id of the sending end system
func (frame *Frame) Sender() int {
	return frame.sender
}

// SetSender stores the id of the sending end system
func (frame *Frame) SetSender(sender int) error {
	if sender < 0 {
		return fmt.Errorf("%w: sender id %d", ErrInvalidAttribute, sender)
	}
	frame.sender = sender
	return nil
}

// NumReceivers returns the number of receiving end systems
func (frame *Frame) NumReceivers() int {
	return len(frame.receivers)
}

// Receiver returns the id of the receiver at the given position
func (frame *Frame) Receiver(idx int) int {
	return frame.receivers[idx]
}

// SetReceivers stores the receiver id set, which cannot be empty
func (frame *Frame) SetReceivers(receivers []int) error {
	if len(receivers) == 0 {
		return fmt.Errorf("%w: frame with no receivers", ErrInvalidAttribute)
	}
	for _, recv := range receivers {
		if recv < 0 {
			return fmt.Errorf("%w: receiver id %d", ErrInvalidAttribute, recv)
		}
	}
	frame.receivers = append([]int{}, receivers...)
	return nil
}

// NumOffsets returns the number of links the frame has offsets on
func (frame *Frame) NumOffsets() int {
	return len(frame.offsets)
}

// Offset returns the offset at the given creation position
func (frame *Frame) Offset(idx int) *Offset {
	return frame.offsets[idx]
}

// OffsetForLink looks an offset up by link id through the accelerator.
// The return is nil when the frame has no offset on that link
func (frame *Frame) OffsetForLink(link int) *Offset {
	if link < 0 || link >= len(frame.offsetHash) {
		return nil
	}
	return frame.offsetHash[link]
}

// AddOffsetIfAbsent creates the offset of the frame on the given link, or
// returns the existing one when the link is already covered.  A second call
// for the same link is a no-op returning the same handle
func (frame *Frame) AddOffsetIfAbsent(link int) (*Offset, error) {
	if link < 0 || link >= len(frame.offsetHash) {
		return nil, fmt.Errorf("link id %d outside the accelerator range of %d links", link, len(frame.offsetHash))
	}
	if existing := frame.offsetHash[link]; existing != nil {
		return existing, nil
	}
	ofs := &Offset{link: link}
	frame.offsets = append(frame.offsets, ofs)
	frame.offsetHash[link] = ofs
	return ofs, nil
}
