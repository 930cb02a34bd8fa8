// Runs an in-memory swarm of agents and reports how each one fared.
package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"text/tabwriter"

	"github.com/alexflint/go-arg"
	"github.com/anacrolix/envpprof"
	"github.com/anacrolix/log"
	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"golang.org/x/sync/errgroup"

	"github.com/anacrolix/reciprocity"
	"github.com/anacrolix/reciprocity/allocation"
	"github.com/anacrolix/reciprocity/internal/sim"
	requestStrategy "github.com/anacrolix/reciprocity/request-strategy"
	"github.com/anacrolix/reciprocity/types"
)

func main() {
	err := mainErr()
	if err != nil {
		log.Levelf(log.Error, "fatal error: %v", err)
		os.Exit(1)
	}
}

func mainErr() error {
	defer envpprof.Stop()
	var args = struct {
		Strategies     []allocation.Kind        `arg:"positional" help:"strategy for each leecher: propshare, tft or tyrant"`
		Seeds          int                      `default:"1" help:"peers that start with every piece"`
		SeedStrategy   allocation.Kind          `help:"strategy used by seeds"`
		Pieces         int                      `default:"128"`
		BlocksPerPiece int                      `default:"32"`
		UploadBudget   int                      `default:"4" help:"upload bandwidth units per peer per round"`
		MaxRounds      int                      `default:"1000"`
		RandSeed       int64                    `default:"1"`
		TieBreak       requestStrategy.TieBreak `help:"global or per-peer"`
		Quiet          bool                     `help:"disable logging"`
		DumpStats      bool                     `help:"dump the raw stats at the end"`
		Metrics        bool                     `help:"print collected metrics at the end"`
		Runs           int                      `default:"1" help:"independent swarms to run, each with its own seed"`
	}{
		SeedStrategy: allocation.KindTitForTat,
	}
	arg.MustParse(&args)
	if len(args.Strategies) == 0 {
		args.Strategies = []allocation.Kind{
			allocation.KindTitForTat,
			allocation.KindTitForTat,
			allocation.KindPropShare,
			allocation.KindTyrant,
		}
	}
	logger := log.Default.WithNames("swarm-sim")
	if args.Quiet {
		logger = log.Discard
	}
	reg := prometheus.NewRegistry()
	cfg := sim.Config{
		NumPieces:      args.Pieces,
		BlocksPerPiece: args.BlocksPerPiece,
		MaxRounds:      args.MaxRounds,
		Seed:           args.RandSeed,
		Logger:         logger,
		Registerer:     reg,
		ConfigureAgent: func(_ sim.PeerSpec, ac *reciprocity.Config) {
			ac.Selector.TieBreak = args.TieBreak
		},
	}
	for i := range args.Seeds {
		cfg.Peers = append(cfg.Peers, sim.PeerSpec{
			Id:           types.PeerId(fmt.Sprintf("seed%d", i)),
			Strategy:     args.SeedStrategy,
			UploadBudget: args.UploadBudget,
			Seed:         true,
		})
	}
	for i, k := range args.Strategies {
		cfg.Peers = append(cfg.Peers, sim.PeerSpec{
			Id:           types.PeerId(fmt.Sprintf("%v%d", k, i)),
			Strategy:     k,
			UploadBudget: args.UploadBudget,
		})
	}
	runs := make([]*sim.Stats, max(args.Runs, 1))
	var eg errgroup.Group
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for i := range runs {
		runCfg := cfg
		runCfg.Seed = args.RandSeed + int64(i)
		runCfg.Logger = logger.WithNames(fmt.Sprintf("run%d", i))
		eg.Go(func() error {
			swarm, err := sim.New(runCfg)
			if err != nil {
				return err
			}
			runs[i] = swarm.Run()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	incomplete := 0
	for i, stats := range runs {
		if len(runs) > 1 {
			fmt.Printf("run %v (seed %v): ", i, args.RandSeed+int64(i))
		}
		printStats(os.Stdout, stats)
		if args.DumpStats {
			spew.Fdump(os.Stdout, stats)
		}
		if !stats.AllComplete() {
			incomplete++
		}
	}
	if args.Metrics {
		mfs, err := reg.Gather()
		if err != nil {
			return errors.Wrap(err, "gathering metrics")
		}
		for _, mf := range mfs {
			if _, err := expfmt.MetricFamilyToText(os.Stdout, mf); err != nil {
				return err
			}
		}
	}
	if incomplete != 0 {
		return errors.Errorf("%v of %v swarms incomplete after %v rounds", incomplete, len(runs), args.MaxRounds)
	}
	return nil
}

func printStats(w io.Writer, stats *sim.Stats) {
	fmt.Fprintf(w, "%v rounds\n", humanize.Comma(int64(stats.Rounds)))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "peer\tstrategy\tcompleted\tuploaded\tdownloaded\tallocated")
	for _, p := range stats.Peers {
		completed := "never"
		switch {
		case p.Seed:
			completed = "seed"
		case p.Completed.Ok:
			completed = humanize.Ordinal(p.Completed.Value) + " round"
		}
		fmt.Fprintf(tw, "%v\t%v\t%v\t%v\t%v\t%v\n",
			p.Id,
			p.Strategy,
			completed,
			humanize.Comma(int64(p.Uploaded)),
			humanize.Comma(int64(p.Downloaded)),
			humanize.Comma(int64(p.Allocated)),
		)
	}
	tw.Flush()
}
