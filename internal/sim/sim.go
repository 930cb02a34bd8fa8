// Package sim runs a swarm of agents against each other in memory. Transfers just move block
// counts around.
package sim

import (
	"cmp"
	"fmt"
	"slices"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	"github.com/cespare/xxhash"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/anacrolix/reciprocity"
	"github.com/anacrolix/reciprocity/allocation"
	"github.com/anacrolix/reciprocity/types"
)

type PeerSpec struct {
	Id           types.PeerId
	Strategy     allocation.Kind
	UploadBudget int
	// Starts with every piece.
	Seed bool
}

type Config struct {
	NumPieces      int
	BlocksPerPiece int
	MaxRounds      int
	// Agents are seeded from this and a hash of their id, so adding peers doesn't disturb the
	// others.
	Seed  int64
	Peers []PeerSpec

	Logger     log.Logger
	Registerer prometheus.Registerer
	// Applied to each agent's config after the swarm defaults are filled in.
	ConfigureAgent func(PeerSpec, *reciprocity.Config)
}

func (cfg *Config) Validate() error {
	if cfg.NumPieces <= 0 {
		return errors.Errorf("number of pieces must be positive, got %d", cfg.NumPieces)
	}
	if cfg.BlocksPerPiece <= 0 {
		return errors.Errorf("blocks per piece must be positive, got %d", cfg.BlocksPerPiece)
	}
	if cfg.MaxRounds <= 0 {
		return errors.Errorf("max rounds must be positive, got %d", cfg.MaxRounds)
	}
	seen := make(map[types.PeerId]struct{}, len(cfg.Peers))
	for _, p := range cfg.Peers {
		if _, ok := seen[p.Id]; ok {
			return errors.Errorf("duplicate peer id %q", p.Id)
		}
		seen[p.Id] = struct{}{}
	}
	return nil
}

type PeerStats struct {
	Id       types.PeerId
	Strategy allocation.Kind
	Seed     bool
	// The round after which the peer had every piece. -1 for seeds.
	Completed g.Option[int]
	// Blocks actually transferred.
	Uploaded   int
	Downloaded int
	// Units allocated, whether or not they could be used.
	Allocated int
}

type Stats struct {
	Rounds int
	// In id order.
	Peers []*PeerStats
}

func (me *Stats) Peer(id types.PeerId) *PeerStats {
	for _, p := range me.Peers {
		if p.Id == id {
			return p
		}
	}
	return nil
}

func (me *Stats) AllComplete() bool {
	for _, p := range me.Peers {
		if !p.Completed.Ok {
			return false
		}
	}
	return true
}

// Round history shared by every agent. Agents pick out the downloads addressed to them.
type History struct {
	rounds [][]types.Download
}

func (me *History) Downloads(round int) []types.Download {
	if round < 0 || round >= len(me.rounds) {
		return nil
	}
	return me.rounds[round]
}

func (me *History) Len() int {
	return len(me.rounds)
}

type peer struct {
	spec   PeerSpec
	agent  *reciprocity.Agent
	blocks []int
	stats  *PeerStats
}

type Swarm struct {
	cfg     Config
	logger  log.Logger
	peers   []*peer
	byId    map[types.PeerId]*peer
	history History
	round   int
}

func New(cfg Config) (*Swarm, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating swarm config")
	}
	s := &Swarm{
		cfg:    cfg,
		logger: cfg.Logger.WithNames("sim"),
		byId:   make(map[types.PeerId]*peer, len(cfg.Peers)),
	}
	specs := slices.SortedFunc(slices.Values(cfg.Peers), func(a, b PeerSpec) int {
		return cmp.Compare(a.Id, b.Id)
	})
	for _, spec := range specs {
		ac := reciprocity.NewDefaultConfig()
		ac.Strategy = spec.Strategy
		ac.UploadBudget = spec.UploadBudget
		ac.BlocksPerPiece = cfg.BlocksPerPiece
		ac.Seed = cfg.Seed ^ int64(xxhash.Sum64String(string(spec.Id)))
		ac.Logger = cfg.Logger
		ac.Registerer = cfg.Registerer
		if cfg.ConfigureAgent != nil {
			cfg.ConfigureAgent(spec, &ac)
		}
		agent, err := reciprocity.NewAgent(spec.Id, ac)
		if err != nil {
			return nil, errors.Wrapf(err, "creating agent %q", spec.Id)
		}
		p := &peer{
			spec:   spec,
			agent:  agent,
			blocks: make([]int, cfg.NumPieces),
			stats: &PeerStats{
				Id:       spec.Id,
				Strategy: spec.Strategy,
				Seed:     spec.Seed,
			},
		}
		if spec.Seed {
			for i := range p.blocks {
				p.blocks[i] = cfg.BlocksPerPiece
			}
			p.stats.Completed = g.Some(-1)
		}
		s.peers = append(s.peers, p)
		s.byId[spec.Id] = p
	}
	return s, nil
}

func (s *Swarm) self(p *peer) types.Self {
	return types.Self{
		Id:             p.spec.Id,
		Blocks:         slices.Clone(p.blocks),
		BlocksPerPiece: s.cfg.BlocksPerPiece,
	}
}

// What every peer holds in full at the start of the round.
func (s *Swarm) availability() (ret []types.Availability) {
	for _, p := range s.peers {
		a := types.Availability{Peer: p.spec.Id}
		for i, b := range p.blocks {
			if b >= s.cfg.BlocksPerPiece {
				a.Pieces.Add(i)
			}
		}
		ret = append(ret, a)
	}
	return
}

func (s *Swarm) complete() bool {
	for _, p := range s.peers {
		if !p.stats.Completed.Ok {
			return false
		}
	}
	return true
}

// Runs one round. Returns false once every peer is complete or the round limit is reached.
func (s *Swarm) Step() bool {
	if s.complete() || s.round >= s.cfg.MaxRounds {
		return false
	}
	round := s.round
	view := s.availability()
	incoming := make(map[types.PeerId][]types.Request)
	for _, p := range s.peers {
		for _, r := range p.agent.Requests(round, s.self(p), view) {
			incoming[r.Target] = append(incoming[r.Target], r)
		}
	}
	var downloads []types.Download
	for _, p := range s.peers {
		ups := p.agent.Uploads(round, incoming[p.spec.Id], view, &s.history)
		for _, u := range ups {
			p.stats.Allocated += u.Bandwidth
		}
		downloads = append(downloads, s.transfer(p, ups, incoming[p.spec.Id], view)...)
	}
	s.history.rounds = append(s.history.rounds, downloads)
	for _, p := range s.peers {
		if !p.stats.Completed.Ok && s.self(p).Complete() {
			p.stats.Completed = g.Some(round)
			s.logger.Levelf(log.Info, "%v completed in round %v", p.spec.Id, round)
		}
	}
	s.round++
	return true
}

// Moves blocks from uploader to each upload's recipient, serving the recipient's requests in the
// order they were made. Only pieces the uploader held at the start of the round are served.
func (s *Swarm) transfer(
	from *peer,
	ups []types.Upload,
	requests []types.Request,
	view []types.Availability,
) (ret []types.Download) {
	held := view[slices.IndexFunc(view, func(a types.Availability) bool {
		return a.Peer == from.spec.Id
	})].Pieces
	for _, u := range ups {
		to, ok := s.byId[u.To]
		if !ok {
			s.logger.Levelf(log.Warning, "%v uploaded to unknown peer %v", from.spec.Id, u.To)
			continue
		}
		left := u.Bandwidth
		for _, r := range requests {
			if left <= 0 {
				break
			}
			if r.Requester != u.To || !held.Contains(r.Piece) || r.Piece < 0 || r.Piece >= len(to.blocks) {
				continue
			}
			n := min(left, s.cfg.BlocksPerPiece-to.blocks[r.Piece])
			if n <= 0 {
				continue
			}
			to.blocks[r.Piece] += n
			left -= n
			from.stats.Uploaded += n
			to.stats.Downloaded += n
			ret = append(ret, types.Download{From: from.spec.Id, To: u.To, Piece: r.Piece, Blocks: n})
		}
	}
	return
}

// Steps until every peer is complete or the round limit is reached.
func (s *Swarm) Run() *Stats {
	for s.Step() {
	}
	return s.Stats()
}

func (s *Swarm) Stats() *Stats {
	ret := &Stats{Rounds: s.round}
	for _, p := range s.peers {
		ps := *p.stats
		ret.Peers = append(ret.Peers, &ps)
	}
	return ret
}

func (s *Swarm) History() *History {
	return &s.history
}

func (s *Swarm) Agent(id types.PeerId) *reciprocity.Agent {
	if p, ok := s.byId[id]; ok {
		return p.agent
	}
	return nil
}

func (me PeerStats) String() string {
	return fmt.Sprintf("%v (%v): up %v, down %v", me.Id, me.Strategy, me.Uploaded, me.Downloaded)
}
