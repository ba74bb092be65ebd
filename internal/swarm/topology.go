package swarm

import "github.com/claude-flow/core/pkg/flow"

// Strategy answers the three questions every topology must support: who are
// an agent's peers, who is its parent (empty string if none), and which
// member is the next hop when routing a broadcast toward a target. members
// is the ordered list of agent ids currently in the topology (join order),
// which position-based topologies (ring, star, hierarchical) use to derive
// structure.
type Strategy interface {
	Name() flow.Topology
	Peers(agentID string, members []string) []string
	Parent(agentID string, members []string) string
	NextHop(from, to string, members []string) string
}

func indexOf(members []string, id string) int {
	for i, m := range members {
		if m == id {
			return i
		}
	}
	return -1
}

// Mesh: every agent is directly reachable from every other.
type Mesh struct{}

func (Mesh) Name() flow.Topology { return flow.TopologyMesh }

func (Mesh) Peers(agentID string, members []string) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		if m != agentID {
			out = append(out, m)
		}
	}
	return out
}

func (Mesh) Parent(agentID string, members []string) string { return "" }

func (Mesh) NextHop(from, to string, members []string) string { return to }

// Ring: each agent's only peer is its successor; broadcasts walk the ring
// one hop at a time.
type Ring struct{}

func (Ring) Name() flow.Topology { return flow.TopologyRing }

func (Ring) Peers(agentID string, members []string) []string {
	i := indexOf(members, agentID)
	if i < 0 || len(members) < 2 {
		return nil
	}
	return []string{members[(i+1)%len(members)]}
}

func (Ring) Parent(agentID string, members []string) string { return "" }

func (Ring) NextHop(from, to string, members []string) string {
	i := indexOf(members, from)
	if i < 0 || len(members) < 2 {
		return ""
	}
	return members[(i+1)%len(members)]
}

// Star: the first member (join order) is the hub every other agent routes
// through.
type Star struct{}

func (Star) Name() flow.Topology { return flow.TopologyStar }

func (s Star) hub(members []string) string {
	if len(members) == 0 {
		return ""
	}
	return members[0]
}

func (s Star) Peers(agentID string, members []string) []string {
	hub := s.hub(members)
	if agentID == hub {
		out := make([]string, 0, len(members)-1)
		for _, m := range members {
			if m != hub {
				out = append(out, m)
			}
		}
		return out
	}
	if hub == "" {
		return nil
	}
	return []string{hub}
}

func (s Star) Parent(agentID string, members []string) string {
	hub := s.hub(members)
	if agentID == hub {
		return ""
	}
	return hub
}

func (s Star) NextHop(from, to string, members []string) string {
	hub := s.hub(members)
	if from == hub {
		return to
	}
	return hub
}

// Hierarchical: a binary tree over join order; an agent's parent is
// floor((i-1)/2), its peers are its parent and its up-to-two children.
type Hierarchical struct{}

func (Hierarchical) Name() flow.Topology { return flow.TopologyHierarchical }

func (Hierarchical) Parent(agentID string, members []string) string {
	i := indexOf(members, agentID)
	if i <= 0 {
		return ""
	}
	return members[(i-1)/2]
}

func (h Hierarchical) Peers(agentID string, members []string) []string {
	i := indexOf(members, agentID)
	if i < 0 {
		return nil
	}
	var out []string
	if p := h.Parent(agentID, members); p != "" {
		out = append(out, p)
	}
	for _, c := range []int{2*i + 1, 2*i + 2} {
		if c < len(members) {
			out = append(out, members[c])
		}
	}
	return out
}

func (h Hierarchical) NextHop(from, to string, members []string) string {
	fi, ti := indexOf(members, from), indexOf(members, to)
	if fi < 0 || ti < 0 {
		return ""
	}
	if ti == (fi-1)/2 && fi > 0 {
		return to // direct to parent
	}
	if ti == 2*fi+1 || ti == 2*fi+2 {
		return to // direct to a child
	}
	// route up toward the root; the root then routes down.
	if p := (Hierarchical{}).Parent(from, members); p != "" {
		return p
	}
	if 2*fi+1 < len(members) {
		return members[2*fi+1]
	}
	return ""
}

// HierarchicalMesh: the same tree shape as Hierarchical, but every agent is
// additionally a direct peer of its siblings, modeling clusters of
// closely-coupled agents under a shared parent.
type HierarchicalMesh struct{ Hierarchical }

func (HierarchicalMesh) Name() flow.Topology { return flow.TopologyHierarchicalMesh }

func (hm HierarchicalMesh) Peers(agentID string, members []string) []string {
	base := hm.Hierarchical.Peers(agentID, members)
	parent := hm.Hierarchical.Parent(agentID, members)
	if parent == "" {
		return base
	}
	seen := make(map[string]bool, len(base))
	for _, p := range base {
		seen[p] = true
	}
	for _, m := range members {
		if m == agentID || seen[m] {
			continue
		}
		if hm.Hierarchical.Parent(m, members) == parent {
			base = append(base, m)
			seen[m] = true
		}
	}
	return base
}

// NewStrategy constructs the strategy object for a topology name. Adaptive
// resolves to Mesh as its initial concrete behavior; the coordinator swaps
// the active concrete strategy on sustained unhealthy signals rather than
// this constructor branching on runtime health.
func NewStrategy(t flow.Topology) Strategy {
	switch t {
	case flow.TopologyRing:
		return Ring{}
	case flow.TopologyStar:
		return Star{}
	case flow.TopologyHierarchical:
		return Hierarchical{}
	case flow.TopologyHierarchicalMesh:
		return HierarchicalMesh{Hierarchical{}}
	case flow.TopologyAdaptive:
		return Mesh{}
	default:
		return Mesh{}
	}
}
