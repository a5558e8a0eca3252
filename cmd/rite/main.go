// rite runs compiled bytecode bundles.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/chazu/rite/config"
	"github.com/chazu/rite/vm"
	"github.com/chazu/rite/vm/bundle"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

// Exit codes.
const (
	exitOK = iota
	exitRaise
	exitFatal
	exitUsage
)

var log = commonlog.GetLogger("rite")

func main() {
	os.Exit(run())
}

func run() int {
	verbose := flag.Int("v", -1, "Log verbosity (overrides rite.toml)")
	configDir := flag.String("config", ".", "Directory to search upwards for rite.toml")
	maxDepth := flag.Int("max-depth", 0, "Frame depth limit (overrides rite.toml)")
	stepLimit := flag.Uint64("step-limit", 0, "Instruction limit, 0 for none (overrides rite.toml)")
	timeout := flag.Duration("timeout", 0, "Interrupt the run after this long")
	disasm := flag.Bool("d", false, "Disassemble the bundle instead of running it")
	digest := flag.Bool("digest", false, "Print the bundle's SHA-256 and exit")
	printResult := flag.Bool("p", false, "Print the inspected result of the run")
	sample := flag.String("write-sample", "", "Write a sample bundle (fib 20) to this path and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: rite [options] bundle.rite\n\n")
		fmt.Fprintf(os.Stderr, "Runs the root procedure of a CBOR bytecode bundle.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  rite -write-sample fib.rite   # Write a sample bundle\n")
		fmt.Fprintf(os.Stderr, "  rite -p fib.rite              # Run it and print the result\n")
		fmt.Fprintf(os.Stderr, "  rite -d fib.rite              # Disassemble it\n")
	}
	flag.Parse()

	cfg, err := config.FindAndLoad(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if *verbose >= 0 {
		cfg.Log.Verbosity = *verbose
	}
	if *maxDepth > 0 {
		cfg.VM.MaxDepth = *maxDepth
	}
	if *stepLimit > 0 {
		cfg.VM.StepLimit = *stepLimit
	}
	commonlog.Configure(cfg.Log.Verbosity, cfg.LogPath())

	if *sample != "" {
		syms := vm.NewSymbolTable()
		if err := bundle.WriteFile(*sample, sampleProgram(syms, 20), syms); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitFatal
		}
		return exitOK
	}

	if flag.NArg() != 1 {
		flag.Usage()
		return exitUsage
	}
	path := flag.Arg(0)

	engine := vm.New(cfg.Options())
	defer engine.Close()

	ir, err := bundle.ReadFile(path, engine.Symbols)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFatal
	}
	log.Infof("loaded %s (%d child procedures)", path, len(ir.Reps))

	switch {
	case *digest:
		sum, err := bundle.Digest(ir, engine.Symbols)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitFatal
		}
		fmt.Printf("%x  %s\n", sum, path)
		return exitOK
	case *disasm:
		disassemble(ir, engine.Symbols, "root")
		return exitOK
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := engine.Run(ctx, ir)
	log.Debugf("run finished in %s", time.Since(start))
	return report(engine, result, err, *printResult)
}

// report prints the outcome of a run and picks the exit code.
func report(engine *vm.VM, result vm.Value, err error, printResult bool) int {
	var re *vm.RaiseError
	switch {
	case err == nil:
		if printResult {
			fmt.Println(engine.Inspect(result))
		}
		return exitOK
	case errors.As(err, &re):
		fmt.Fprintln(os.Stderr, re.Detail())
		return exitRaise
	case errors.Is(err, vm.ErrStackOverflow):
		log.Warningf("%v", err)
		fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
		return exitFatal
	}
	fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
	return exitFatal
}

func disassemble(ir *vm.Irep, syms *vm.SymbolTable, name string) {
	fmt.Printf("== %s (%s, locals %d, regs %d)\n", name, ir.Filename, ir.NLocals, ir.NRegs)
	fmt.Println(ir.Disassemble(syms))
	for i, child := range ir.Reps {
		disassemble(child, syms, fmt.Sprintf("%s/%d", name, i))
	}
}

// sampleProgram builds "def fib(n) = n < 2 ? n : fib(n-1) + fib(n-2); fib(n)".
func sampleProgram(syms *vm.SymbolTable, n int64) *vm.Irep {
	fb := vm.NewIrepBuilder(syms)
	fb.SetFilename("sample.rb")
	fb.SetAspec(vm.Aspec{Req: 1})
	fb.SetLocals(2)
	fb.Line(1)
	fb.Emit(vm.OpENTER)
	recurse := fb.NewLabel()
	fb.Emit(vm.OpMOVE, 2, 1)
	fb.LoadInt(3, 2)
	fb.Emit(vm.OpLT, 2)
	fb.JumpIf(vm.OpJMPNOT, 2, recurse)
	fb.Emit(vm.OpRETURN, 1)
	fb.Mark(recurse)
	fb.Emit(vm.OpMOVE, 3, 1)
	fb.Emit(vm.OpSUBI, 3, 1)
	fb.SSend(2, "fib", 1)
	fb.Emit(vm.OpMOVE, 4, 1)
	fb.Emit(vm.OpSUBI, 4, 2)
	fb.SSend(3, "fib", 1)
	fb.Emit(vm.OpADD, 2)
	fb.Emit(vm.OpRETURN, 2)

	b := vm.NewIrepBuilder(syms)
	b.SetFilename("sample.rb")
	b.Line(1)
	b.Emit(vm.OpTCLASS, 1)
	b.Emit(vm.OpMETHOD, 2, b.Child(fb.Build()))
	b.Emit(vm.OpDEF, 1, b.Sym("fib"))
	b.Line(2)
	b.LoadInt(2, n)
	b.SSend(1, "fib", 1)
	b.Emit(vm.OpRETURN, 1)
	return b.Build()
}
