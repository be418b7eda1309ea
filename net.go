package ttsched

// net.go holds the topology side of a scheduling run: the links frames are
// transmitted over, and the catalog of candidate paths between end systems.
// Both are populated once, when the network description is loaded, and are
// read-only for the rest of the run.

import (
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// LinkType enumerates the transmission media a link can use
type LinkType int

const (
	LinkWired LinkType = iota
	LinkWireless
	LinkAccessPoint
)

var ltToStr map[LinkType]string = map[LinkType]string{
	LinkWired: "wired", LinkWireless: "wireless", LinkAccessPoint: "access-point"}

var strToLt map[string]LinkType = map[string]LinkType{
	"wired": LinkWired, "wireless": LinkWireless, "access-point": LinkAccessPoint}

func (lt LinkType) String() string {
	return ltToStr[lt]
}

// Link describes one point-to-point transmission resource.
// Speed is the transmission rate in MB/s, used to turn frame sizes
// into timeslot lengths
type Link struct {
	number int      // identifier of the link, its index in the network link array
	speed  int      // transmission rate in MB/s
	medium LinkType // wired, wireless, or access point
}

// createLink is a constructor, it validates the speed before storing it
func createLink(number, speed int, medium LinkType) (*Link, error) {
	if speed <= 0 {
		return nil, fmt.Errorf("link %d: %w: speed %d not positive", number, ErrInvalidAttribute, speed)
	}
	return &Link{number: number, speed: speed, medium: medium}, nil
}

// Number returns the link identifier
func (lk *Link) Number() int {
	return lk.number
}

// Speed returns the transmission rate of the link in MB/s
func (lk *Link) Speed() int {
	return lk.speed
}

// Medium returns the media type of the link
func (lk *Link) Medium() LinkType {
	return lk.medium
}

// A Path is an ordered sequence of link identifiers a frame follows
// from its sender to one receiver.  Paths are immutable once added
type Path struct {
	links []int
}

// Len returns the number of links in the path
func (p *Path) Len() int {
	return len(p.links)
}

// Link returns the identifier of the idx-th link of the path
func (p *Path) Link(idx int) int {
	return p.links[idx]
}

// pathKey indexes the path catalog by the (sender, receiver) pair
type pathKey struct {
	sender, receiver int
}

// Network is the topology store of one scheduling run.  It owns the links,
// the path catalog, and the run-wide timing parameters derived at load
// (the hyperperiod) or read in with the description (the minimum time a
// frame spends in a switch between two hops)
type Network struct {
	linkById      map[int]*Link       // links, keyed by their identifier
	paths         map[pathKey][]*Path // candidate paths per (sender, receiver) pair
	switchMinTime int64               // minimum residence time in a switch, in ns
	hyperPeriod   int64               // LCM of all frame periods, in ns
	frames        []*Frame            // frames in load order
}

// CreateNetwork is a constructor
func CreateNetwork(switchMinTime int64) (*Network, error) {
	if switchMinTime < 0 {
		return nil, fmt.Errorf("%w: switch minimum time %d negative", ErrInvalidAttribute, switchMinTime)
	}
	nw := new(Network)
	nw.linkById = make(map[int]*Link)
	nw.paths = make(map[pathKey][]*Path)
	nw.switchMinTime = switchMinTime
	nw.frames = []*Frame{}
	return nw, nil
}

// AddLink creates a link with the given identifier, speed and media type
// and stores it in the network.  Reusing an identifier is a description error
func (nw *Network) AddLink(number, speed int, medium LinkType) error {
	_, present := nw.linkById[number]
	if present {
		return fmt.Errorf("link id %d over-used in network", number)
	}
	lk, err := createLink(number, speed, medium)
	if err != nil {
		return err
	}
	nw.linkById[number] = lk
	return nil
}

// Link returns the link with the given identifier, or nil if absent
func (nw *Network) Link(number int) *Link {
	return nw.linkById[number]
}

// NumLinks returns the number of links in the network
func (nw *Network) NumLinks() int {
	return len(nw.linkById)
}

// LinkIds returns all link identifiers in increasing order, so that walks
// over the topology are deterministic
func (nw *Network) LinkIds() []int {
	ids := maps.Keys(nw.linkById)
	slices.Sort(ids)
	return ids
}

// AddPath appends a candidate path from sender to receiver to the catalog.
// Every link named by the path must already be present in the network, and
// the path must hold at least one link
func (nw *Network) AddPath(sender, receiver int, links []int) error {
	if len(links) == 0 {
		return fmt.Errorf("path from %d to %d: %w: empty link sequence", sender, receiver, ErrInvalidAttribute)
	}
	for _, lkId := range links {
		if nw.linkById[lkId] == nil {
			return fmt.Errorf("path from %d to %d names unknown link %d", sender, receiver, lkId)
		}
	}
	key := pathKey{sender: sender, receiver: receiver}
	p := &Path{links: slices.Clone(links)}
	nw.paths[key] = append(nw.paths[key], p)
	return nil
}

// NumPaths returns the number of candidate paths from sender to receiver
func (nw *Network) NumPaths(sender, receiver int) int {
	return len(nw.paths[pathKey{sender: sender, receiver: receiver}])
}

// GetPath returns the path with the given id from sender to receiver.
// The receiver position indexes the receiver axis of the catalog
func (nw *Network) GetPath(sender, receiver, pathId int) (*Path, error) {
	pl := nw.paths[pathKey{sender: sender, receiver: receiver}]
	if pathId < 0 || pathId >= len(pl) {
		return nil, fmt.Errorf("no path %d from sender %d to receiver %d", pathId, sender, receiver)
	}
	return pl[pathId], nil
}

// SwitchMinTime returns the minimum time in ns a frame stays in a switch
// between the reception on one link and the transmission on the next
func (nw *Network) SwitchMinTime() int64 {
	return nw.switchMinTime
}

// HyperPeriod returns the scheduling horizon, the LCM of all frame periods.
// It is zero until the frames are loaded
func (nw *Network) HyperPeriod() int64 {
	return nw.hyperPeriod
}

// AddFrame stores a fully attributed frame in the network and extends the
// hyperperiod to cover its period
func (nw *Network) AddFrame(frame *Frame) error {
	if frame.period <= 0 {
		return fmt.Errorf("%w: frame added before its period was set", ErrNotInitialized)
	}
	nw.frames = append(nw.frames, frame)
	if nw.hyperPeriod == 0 {
		nw.hyperPeriod = frame.period
	} else {
		nw.hyperPeriod = lcm(nw.hyperPeriod, frame.period)
	}
	return nil
}

// NumFrames returns the number of frames loaded into the network
func (nw *Network) NumFrames() int {
	return len(nw.frames)
}

// Frame returns the frame at the given load position
func (nw *Network) Frame(idx int) *Frame {
	return nw.frames[idx]
}

// MaxLinkUtilization reports, over all links, the largest fraction of the
// hyperperiod consumed by transmissions scheduled on that link.  A value
// over 1.0 means the link is overcommitted and no schedule can exist
func (nw *Network) MaxLinkUtilization() float64 {
	var maxUtil float64
	for _, lkId := range nw.LinkIds() {
		var occupied int64
		for _, frame := range nw.frames {
			offset := frame.OffsetForLink(lkId)
			if offset == nil {
				continue
			}
			occupied += offset.TimeslotSize() * int64(offset.NumInstances()) * int64(max(offset.NumReplicas(), 1))
		}
		if nw.hyperPeriod > 0 {
			util := float64(occupied) / float64(nw.hyperPeriod)
			if util > maxUtil {
				maxUtil = util
			}
		}
	}
	return maxUtil
}

// checkPaths verifies the path catalog once the topology is complete.
// Path discovery itself happens upstream; this only validates what was
// supplied: links exist and no link appears twice in one path
func (nw *Network) checkPaths() error {
	for _, key := range sortedPathKeys(nw.paths) {
		for pathId, p := range nw.paths[key] {
			seen := map[int]bool{}
			for idx := 0; idx < p.Len(); idx++ {
				lkId := p.Link(idx)
				if seen[lkId] {
					return fmt.Errorf("path %d from %d to %d visits link %d twice",
						pathId, key.sender, key.receiver, lkId)
				}
				seen[lkId] = true
			}
		}
	}
	return nil
}

// sortedPathKeys gives a deterministic order for the path catalog keys
func sortedPathKeys(paths map[pathKey][]*Path) []pathKey {
	keys := maps.Keys(paths)
	slices.SortFunc(keys, func(a, b pathKey) int {
		if a.sender != b.sender {
			return a.sender - b.sender
		}
		return a.receiver - b.receiver
	})
	return keys
}

// gcd and lcm support the hyperperiod computation
func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int64) int64 {
	return a / gcd(a, b) * b
}
