// Package topology resolves the physical core layout of the host CPU from
// /proc/cpuinfo style processor records.
//
// Logical processors that report the same (physical id, core id) pair are
// SMT siblings of one physical core. Physical cores are re-indexed densely
// from zero so that callers can address them without knowing the kernel's
// (often sparse) core numbering.
package topology

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
)

// DefaultSource is the kernel's processor information file.
const DefaultSource = "/proc/cpuinfo"

// ErrNoTopologySource is returned when the processor information source
// cannot be read. No partial topology is returned alongside it.
var ErrNoTopologySource = errors.New("topology source unavailable")

// ErrUnknownCore is returned by lookups for a physical core id that is not
// part of the resolved topology.
var ErrUnknownCore = errors.New("unknown physical core")

// PhysicalCore is one physical core and its representative logical CPU.
type PhysicalCore struct {
	ID        int     `json:"id"`
	LogicalID int     `json:"logical_id"`
	Siblings  int     `json:"siblings"`
	ModelName string  `json:"model_name"`
	MHz       float64 `json:"mhz"`
}

// LogicalProcessor is a single stanza that survived parsing.
type LogicalProcessor struct {
	Processor int     `json:"processor"`
	CoreID    int     `json:"core_id"` // dense physical core id
	MHz       float64 `json:"mhz"`
}

// Topology is the resolved processor layout.
type Topology struct {
	Cores         []PhysicalCore     `json:"cores"`
	Logical       []LogicalProcessor `json:"logical"`
	PhysicalCount int                `json:"physical_count"`
	LogicalCount  int                `json:"logical_count"`

	// Skipped counts stanzas dropped for lacking a processor index or core id.
	Skipped int `json:"skipped"`
}

// Core returns the physical core with the given dense id.
func (t *Topology) Core(id int) (PhysicalCore, bool) {
	if id < 0 || id >= len(t.Cores) {
		return PhysicalCore{}, false
	}
	return t.Cores[id], true
}

// LogicalIDFor returns the representative logical CPU of a physical core.
func (t *Topology) LogicalIDFor(coreID int) (int, error) {
	core, ok := t.Core(coreID)
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownCore, coreID)
	}
	return core.LogicalID, nil
}

// CurrentMHz returns the frequency the source reported for a logical CPU.
func (t *Topology) CurrentMHz(logicalID int) (float64, bool) {
	for _, lp := range t.Logical {
		if lp.Processor == logicalID {
			return lp.MHz, true
		}
	}
	return 0, false
}

// SelectableCount is the number of physical cores that can be addressed by
// id. The summary count is per package and may disagree with the parsed
// groups, so the smaller of the two wins.
func (t *Topology) SelectableCount() int {
	if t.PhysicalCount < len(t.Cores) {
		return t.PhysicalCount
	}
	return len(t.Cores)
}

// ModelName returns the model name of the first core, or "" if unknown.
func (t *Topology) ModelName() string {
	if len(t.Cores) == 0 {
		return ""
	}
	return t.Cores[0].ModelName
}

// Resolver reads a topology from a file path.
type Resolver struct {
	path   string
	logger *slog.Logger
}

// NewResolver creates a Resolver for path. An empty path selects DefaultSource.
func NewResolver(path string, logger *slog.Logger) *Resolver {
	if path == "" {
		path = DefaultSource
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{path: path, logger: logger}
}

// Path returns the source path.
func (r *Resolver) Path() string {
	return r.path
}

// Resolve reads and parses the source.
func (r *Resolver) Resolve() (*Topology, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoTopologySource, err)
	}
	defer f.Close()

	topo, err := Parse(f)
	if err != nil {
		return nil, err
	}
	if topo.Skipped > 0 {
		r.logger.Debug("cpuinfo_stanzas_skipped",
			"path", r.path,
			"skipped", topo.Skipped,
		)
	}
	return topo, nil
}

// stanza holds the fields of one processor record we care about.
type stanza struct {
	processor    int
	hasProcessor bool
	coreID       int
	hasCoreID    bool
	packageID    int
	model        string
	mhz          float64
}

type groupKey struct {
	pkg  int
	core int
}

// Parse parses /proc/cpuinfo formatted text.
func Parse(r io.Reader) (*Topology, error) {
	var (
		stanzas     []stanza
		cur         stanza
		inStanza    bool
		summaryPhys = -1
		summaryLog  = -1
	)

	flush := func() {
		if inStanza {
			stanzas = append(stanzas, cur)
		}
		cur = stanza{}
		inStanza = false
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		inStanza = true

		switch key {
		case "processor":
			if n, err := strconv.Atoi(value); err == nil {
				cur.processor = n
				cur.hasProcessor = true
			}
		case "core id":
			if n, err := strconv.Atoi(value); err == nil {
				cur.coreID = n
				cur.hasCoreID = true
			}
		case "physical id":
			if n, err := strconv.Atoi(value); err == nil {
				cur.packageID = n
			}
		case "model name":
			cur.model = value
		case "cpu MHz":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				cur.mhz = f
			}
		case "cpu cores":
			if n, err := strconv.Atoi(value); err == nil && summaryPhys < 0 {
				summaryPhys = n
			}
		case "siblings":
			if n, err := strconv.Atoi(value); err == nil && summaryLog < 0 {
				summaryLog = n
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read cpuinfo: %w", err)
	}
	flush()

	topo := &Topology{}
	groups := make(map[groupKey][]stanza)
	for _, s := range stanzas {
		if !s.hasProcessor || !s.hasCoreID {
			topo.Skipped++
			continue
		}
		k := groupKey{pkg: s.packageID, core: s.coreID}
		groups[k] = append(groups[k], s)
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].pkg != keys[j].pkg {
			return keys[i].pkg < keys[j].pkg
		}
		return keys[i].core < keys[j].core
	})

	for id, k := range keys {
		members := groups[k]
		sort.Slice(members, func(i, j int) bool {
			return members[i].processor < members[j].processor
		})
		rep := members[0]
		topo.Cores = append(topo.Cores, PhysicalCore{
			ID:        id,
			LogicalID: rep.processor,
			Siblings:  len(members),
			ModelName: rep.model,
			MHz:       rep.mhz,
		})
		for _, m := range members {
			topo.Logical = append(topo.Logical, LogicalProcessor{
				Processor: m.processor,
				CoreID:    id,
				MHz:       m.mhz,
			})
		}
	}
	sort.Slice(topo.Logical, func(i, j int) bool {
		return topo.Logical[i].Processor < topo.Logical[j].Processor
	})

	topo.PhysicalCount = len(topo.Cores)
	if summaryPhys > 0 {
		topo.PhysicalCount = summaryPhys
	}
	topo.LogicalCount = len(topo.Logical)
	if summaryLog > 0 {
		topo.LogicalCount = summaryLog
	}

	return topo, nil
}
