// Package repl implements an interactive console for guard expressions and
// Context Petri Nets: set globals, evaluate guards against them, inspect a
// loaded net's marking, and fire it to quiescence by hand.
package repl

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/peterh/liner"

	"github.com/sunholo/vssim/internal/config"
	"github.com/sunholo/vssim/internal/cpn"
	"github.com/sunholo/vssim/internal/guard"
)

// Color functions for pretty output
var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
	dim    = color.New(color.Faint).SprintFunc()
)

// REPL holds the console state: a global environment and an optional net.
type REPL struct {
	env     guard.Env
	net     *cpn.Net
	version string
}

// New creates a new REPL instance.
func New(version string) *REPL {
	if version == "" {
		version = "dev"
	}
	return &REPL{env: make(guard.Env), version: version}
}

var replCommands = []string{":help", ":quit", ":set", ":unset", ":env", ":load", ":marking", ":fire"}

// Start begins the read-eval-print loop.
func (r *REPL) Start(out io.Writer) {
	line := liner.NewLiner()
	defer line.Close()

	historyFile := filepath.Join(os.TempDir(), ".vssim_history")
	if f, err := os.Open(historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}

	line.SetCompleter(func(input string) (c []string) {
		if strings.HasPrefix(input, ":") {
			for _, cmd := range replCommands {
				if strings.HasPrefix(cmd, input) {
					c = append(c, cmd)
				}
			}
		}
		return
	})

	fmt.Fprintf(out, "%s %s\n", bold("vssim"), bold(r.version))
	fmt.Fprintln(out, dim("Type a guard expression to evaluate it, :help for help"))
	fmt.Fprintln(out)

	for {
		input, err := line.Prompt("vssim> ")
		if err == io.EOF {
			fmt.Fprintln(out, green("\nGoodbye!"))
			break
		}
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", red("Error"), err)
			continue
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if input == ":quit" || input == ":q" {
			fmt.Fprintln(out, green("Goodbye!"))
			break
		}
		r.dispatch(input, out)
	}

	if f, err := os.Create(historyFile); err == nil {
		_, _ = line.WriteHistory(f)
		f.Close()
	}
}

func (r *REPL) dispatch(input string, out io.Writer) {
	if !strings.HasPrefix(input, ":") {
		r.evaluate(input, out)
		return
	}

	fields := strings.Fields(input)
	switch fields[0] {
	case ":help", ":h":
		r.printHelp(out)

	case ":set":
		if len(fields) != 3 {
			fmt.Fprintf(out, "%s: usage :set <name> <value>\n", red("Error"))
			return
		}
		value, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			fmt.Fprintf(out, "%s: %q is not a number\n", red("Error"), fields[2])
			return
		}
		r.env[fields[1]] = value
		fmt.Fprintf(out, "%s = %g\n", cyan(fields[1]), value)

	case ":unset":
		if len(fields) != 2 {
			fmt.Fprintf(out, "%s: usage :unset <name>\n", red("Error"))
			return
		}
		delete(r.env, fields[1])

	case ":env":
		names := make([]string, 0, len(r.env))
		for name := range r.env {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(out, "  %s = %g\n", cyan(name), r.env[name])
		}

	case ":load":
		if len(fields) != 2 {
			fmt.Fprintf(out, "%s: usage :load <config.yaml>\n", red("Error"))
			return
		}
		r.load(fields[1], out)

	case ":marking":
		if r.net == nil {
			fmt.Fprintf(out, "%s: no net loaded, use :load\n", red("Error"))
			return
		}
		fmt.Fprintf(out, "  %s\n", r.net.MarkingString())

	case ":fire":
		if r.net == nil {
			fmt.Fprintf(out, "%s: no net loaded, use :load\n", red("Error"))
			return
		}
		fired, capped, err := r.net.FireToQuiescence(r.env)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", red("Error"), err)
			return
		}
		if capped {
			fmt.Fprintf(out, "%s: firing cap reached, oscillatory guards\n", yellow("Warning"))
		}
		fmt.Fprintf(out, "fired %d, marking: %s\n", fired, r.net.MarkingString())

	default:
		fmt.Fprintf(out, "%s: unknown command %s\n", red("Error"), fields[0])
	}
}

func (r *REPL) evaluate(input string, out io.Writer) {
	expr, err := guard.Compile(input)
	if err != nil {
		fmt.Fprintf(out, "%s: %v\n", red("Error"), err)
		return
	}
	value, err := guard.Eval(expr, r.env)
	if err != nil {
		fmt.Fprintf(out, "%s: %v\n", red("Error"), err)
		return
	}
	if value {
		fmt.Fprintln(out, green("true"))
	} else {
		fmt.Fprintln(out, red("false"))
	}
}

func (r *REPL) load(path string, out io.Writer) {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(out, "%s: %v\n", red("Error"), err)
		return
	}
	net, err := cpn.Build(&cfg.Contexts)
	if err != nil {
		fmt.Fprintf(out, "%s: %v\n", red("Error"), err)
		return
	}
	r.net = net
	for _, name := range cfg.Contexts.Globals {
		if _, ok := r.env[name]; !ok {
			r.env[name] = 0
		}
	}
	fmt.Fprintf(out, "loaded %s: %d places, %d transitions\n",
		cyan(path), len(net.Places()), len(net.Transitions()))
	fmt.Fprintf(out, "marking: %s\n", net.MarkingString())
}

func (r *REPL) printHelp(out io.Writer) {
	fmt.Fprintln(out, bold("Commands:"))
	fmt.Fprintf(out, "  %s <name> <value>   set a global\n", cyan(":set"))
	fmt.Fprintf(out, "  %s <name>         unset a global\n", cyan(":unset"))
	fmt.Fprintf(out, "  %s                show the environment\n", cyan(":env"))
	fmt.Fprintf(out, "  %s <file>        load a configuration and build its net\n", cyan(":load"))
	fmt.Fprintf(out, "  %s            show the current marking\n", cyan(":marking"))
	fmt.Fprintf(out, "  %s               fire the net to quiescence\n", cyan(":fire"))
	fmt.Fprintf(out, "  %s               quit\n", cyan(":quit"))
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Anything else is evaluated as a guard expression.")
}
