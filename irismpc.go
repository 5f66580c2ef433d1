package main

import (
	"errors"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/hhcho/irismpc/crypto"
	"github.com/hhcho/irismpc/iris"
	"github.com/hhcho/irismpc/mpc"
	"github.com/raulk/go-watchdog"
	"github.com/urfave/cli"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/sync/errgroup"
)

const (
	Name    = "irismpc"
	Version = "0.1.0"
)

// Default config path
var CONFIG_PATH = "config/"

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = Name
	cliApp.Version = Version
	cliApp.Usage = "Three-party secure iris code matching"

	debugFlags := []cli.Flag{
		cli.IntFlag{Usage: "logging-level : 1 to 5", Name: "debug,d", Value: 1},
	}
	harnessFlags := []cli.Flag{
		cli.StringFlag{Name: "seed", Value: "irismpc", Usage: "Seed of the generated batch, identical on all parties"},
		cli.IntFlag{Name: "queries, q", Value: 8, Usage: "Number of query codes"},
		cli.IntFlag{Name: "db", Value: 64, Usage: "Number of database codes"},
	}

	cliApp.Commands = []cli.Command{
		{
			Name:    "run",
			Aliases: []string{"r"},
			Usage:   "Run one party against the others",
			Action:  runParty,
			Flags: append([]cli.Flag{
				cli.StringFlag{Name: "config, c", Value: CONFIG_PATH, Usage: "Directory holding configGlobal.toml and configLocal.Party<pid>.toml"},
				cli.IntFlag{Name: "pid, p", EnvVar: "PID", Value: -1, Usage: "Party id in 0..2"},
			}, harnessFlags...),
		},
		{
			Name:   "simulate",
			Usage:  "Run all three parties in one process",
			Action: runSimulation,
			Flags: append([]cli.Flag{
				cli.IntFlag{Name: "devices", Value: 2, Usage: "Devices per party"},
			}, harnessFlags...),
		},
		{
			Name:  "keygen",
			Usage: "Write the global and pairwise seed files",
			Action: func(ctx *cli.Context) error {
				dir := ctx.String("out")
				if err := os.MkdirAll(dir, 0755); err != nil {
					return err
				}
				if err := crypto.WriteSharedKeys(dir, mpc.NumParties); err != nil {
					return err
				}
				log.Lvl1("Shared keys written to", dir)
				return nil
			},
			Flags: []cli.Flag{
				cli.StringFlag{Name: "out, o", Value: "keys/", Usage: "Output directory"},
			},
		},
	}

	cliApp.Flags = debugFlags
	cliApp.Before = func(ctx *cli.Context) error {
		log.SetDebugVisible(ctx.GlobalInt("debug"))
		return nil
	}

	err := cliApp.Run(os.Args)
	if err != nil {
		log.ErrFatal(err, "Error while running app ")
	}
}

func runParty(ctx *cli.Context) error {
	pid := mpc.PartyID(ctx.Int("pid"))
	if !pid.Valid() {
		return errors.New("party id must be 0, 1 or 2, got " + strconv.Itoa(int(pid)))
	}

	config, err := iris.LoadConfig(ctx.String("config"), pid)
	if err != nil {
		return err
	}

	// Set max number of threads
	if config.LocalNumThreads > 0 {
		runtime.GOMAXPROCS(config.LocalNumThreads)
	}

	// Invoke memory manager
	if config.MemoryLimit > 0 {
		err, stopFn := watchdog.HeapDriven(config.MemoryLimit, 40, watchdog.NewAdaptivePolicy(0.5))
		if err != nil {
			return err
		}
		defer stopFn()
	}

	prot, err := iris.InitializeIrisProtocol(config, pid)
	if err != nil {
		return err
	}

	start := time.Now()
	mismatches, err := prot.RunHarness([]byte(ctx.String("seed")), ctx.Int("queries"), ctx.Int("db"))
	if err != nil {
		return err
	}
	if _, err := prot.SyncStorage(); err != nil {
		return err
	}
	log.LLvl1(pid, "finished in", time.Since(start), "with", mismatches, "mismatches")
	prot.Networks().PrintNetworkLog()

	return prot.SyncAndTerminate(true)
}

func runSimulation(ctx *cli.Context) error {
	config := iris.DefaultConfig()
	config.NumDevices = ctx.Int("devices")
	config.DebugLevel = ctx.GlobalInt("debug")

	prots, err := iris.NewLocalProtocols(config)
	if err != nil {
		return err
	}

	seed := []byte(ctx.String("seed"))
	var g errgroup.Group
	for _, prot := range prots {
		prot := prot
		g.Go(func() error {
			mismatches, err := prot.RunHarness(seed, ctx.Int("queries"), ctx.Int("db"))
			if err != nil {
				return err
			}
			if mismatches > 0 {
				return errors.New(prot.Pid().String() + ": " + strconv.Itoa(mismatches) + " mismatching pairs")
			}
			if _, err := prot.SyncStorage(); err != nil {
				return err
			}
			return prot.SyncAndTerminate(true)
		})
	}
	return g.Wait()
}
