// Command vssim orchestrates variable-structure co-simulations: it loads a
// declarative configuration, builds the Context Petri Net, and runs the
// mode-switching engine against the registered FMI provider.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"github.com/sunholo/vssim/internal/config"
	"github.com/sunholo/vssim/internal/cpn"
	"github.com/sunholo/vssim/internal/errors"
	"github.com/sunholo/vssim/internal/fmi"
	"github.com/sunholo/vssim/internal/repl"
	"github.com/sunholo/vssim/internal/sim"
)

var (
	// Version info - set by ldflags during build
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"

	// Color output
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	cyan  = color.New(color.FgCyan).SprintFunc()
	bold  = color.New(color.Bold).SprintFunc()
)

func main() {
	var (
		versionFlag = flag.Bool("version", false, "Print version information")
		helpFlag    = flag.Bool("help", false, "Show help")
		outFlag     = flag.String("out", "", "Write the time-series trace as CSV to this file")
		modesFlag   = flag.String("modes", "", "Write the mode trace as CSV to this file")
		quietFlag   = flag.Bool("quiet", false, "Suppress progress logging")
	)

	flag.Parse()

	if *versionFlag {
		printVersion()
		return
	}

	if *helpFlag || flag.NArg() == 0 {
		printHelp()
		return
	}

	command := flag.Arg(0)

	switch command {
	case "run":
		if flag.NArg() < 2 {
			fmt.Fprintf(os.Stderr, "%s: missing configuration argument\n", red("Error"))
			fmt.Println("Usage: vssim run <config.yaml>")
			os.Exit(errors.ExitFailure)
		}
		os.Exit(runSimulation(flag.Arg(1), *outFlag, *modesFlag, *quietFlag))

	case "check":
		if flag.NArg() < 2 {
			fmt.Fprintf(os.Stderr, "%s: missing configuration argument\n", red("Error"))
			fmt.Println("Usage: vssim check <config.yaml>")
			os.Exit(errors.ExitFailure)
		}
		os.Exit(checkConfig(flag.Arg(1)))

	case "repl":
		repl.New(Version).Start(os.Stdout)

	default:
		fmt.Fprintf(os.Stderr, "%s: unknown command '%s'\n", red("Error"), command)
		printHelp()
		os.Exit(errors.ExitFailure)
	}
}

func runSimulation(path, outPath, modesPath string, quiet bool) int {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if quiet {
		logger = zerolog.Nop()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fail(err)
	}

	engine, err := sim.New(cfg, fmi.Registered(), logger)
	if err != nil {
		return fail(err)
	}

	// Interruption unwinds through the mode scope, closing the active FMU.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	runErr := engine.Run(ctx)
	if err := writeTraces(engine.Recorder(), outPath, modesPath); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return fail(runErr)
	}

	fmt.Printf("%s t=%g, %d mode switches\n",
		green("Finished:"), engine.Time(), len(engine.Recorder().Modes()))
	return errors.ExitOK
}

func checkConfig(path string) int {
	cfg, err := config.Load(path)
	if err != nil {
		return fail(err)
	}
	net, err := cpn.Build(&cfg.Contexts)
	if err != nil {
		return fail(err)
	}

	fmt.Printf("%s %s\n", green("OK:"), path)
	fmt.Printf("  %d contexts, %d transitions, %d modes\n",
		len(cfg.Contexts.Places), len(net.Transitions()), len(cfg.Simulation.Modes))
	fmt.Printf("  initial marking: %s\n", net.MarkingString())
	return errors.ExitOK
}

func writeTraces(rec *sim.Recorder, outPath, modesPath string) error {
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := rec.WriteCSV(f); err != nil {
			return err
		}
	}
	if modesPath != "" {
		f, err := os.Create(modesPath)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := rec.WriteModeTrace(f); err != nil {
			return err
		}
	}
	return nil
}

func fail(err error) int {
	fmt.Fprintf(os.Stderr, "%s: %v\n", red("Error"), err)
	return errors.ExitCode(err)
}

func printVersion() {
	fmt.Printf("vssim %s\n", bold(Version))
	if Commit != "unknown" {
		fmt.Printf("Commit: %s\n", Commit)
	}
	if BuildTime != "unknown" {
		fmt.Printf("Built:  %s\n", BuildTime)
	}
}

func printHelp() {
	fmt.Println(bold("vssim - variable-structure co-simulation orchestrator"))
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  vssim [flags] <command> [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Printf("  %s <config>    Run a co-simulation\n", cyan("run"))
	fmt.Printf("  %s <config>  Validate a configuration and build its net\n", cyan("check"))
	fmt.Printf("  %s           Start the interactive guard console\n", cyan("repl"))
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -out <file>     Write the time-series trace as CSV")
	fmt.Println("  -modes <file>   Write the mode trace as CSV")
	fmt.Println("  -quiet          Suppress progress logging")
	fmt.Println("  -version        Print version information")
}
