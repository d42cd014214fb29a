package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mdwoicke/dentix-ortho-sub013/driver"
	"github.com/mdwoicke/dentix-ortho-sub013/engine"
	"github.com/mdwoicke/dentix-ortho-sub013/judge"
	"github.com/mdwoicke/dentix-ortho-sub013/logger"
	"github.com/mdwoicke/dentix-ortho-sub013/model"
	"github.com/mdwoicke/dentix-ortho-sub013/persona"
	"github.com/mdwoicke/dentix-ortho-sub013/report"
	"github.com/mdwoicke/dentix-ortho-sub013/store"
	"github.com/mdwoicke/dentix-ortho-sub013/templates"
	"github.com/mdwoicke/dentix-ortho-sub013/version"
)

const (
	AppName = "dentix-compare"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the engine configuration file (YAML)")
	casesPath := flag.String("cases", "", "Path to a test case file or directory to import (YAML)")
	runTests := flag.String("run", "", "Comma-separated test case ids to run (empty with -run-all runs every active case)")
	runAll := flag.Bool("run-all", false, "Run every non-archived test case")
	prod := flag.Bool("prod", false, "Include the production endpoint in the run")
	sandboxA := flag.Bool("sandbox-a", false, "Include the sandbox A endpoint in the run")
	sandboxB := flag.Bool("sandbox-b", false, "Include the sandbox B endpoint in the run")
	validateOnly := flag.Bool("validate", false, "Validate imported test cases and exit")
	listCases := flag.Bool("list", false, "List stored test cases and exit")
	history := flag.Int("history", 0, "Show the most recent N comparison runs and exit")
	show := flag.String("show", "", "Show one comparison run by id and exit")
	reportPath := flag.String("report", "", "Path to write the Markdown report to")
	jsonPath := flag.String("json", "", "Path to write the JSON report to")
	logPath := flag.String("l", "", "Path to the log file (if not set, logs to stdout)")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	showVersion := flag.Bool("v", false, "Show version and exit")

	flag.Parse()

	fmt.Printf("Version: %s\nCommit: %s\nBuildDate: %s\n",
		version.Version, version.Commit, version.BuildDate)
	if *showVersion {
		return
	}

	logWriter, logFile, err := logger.SetupLogWriter(*logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to setup logging: %v\n", err)
		os.Exit(1)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	logger.SetupLogger(logWriter, *verbose)
	templates.NewTemplateEngine()

	cfg, err := engine.LoadConfig(*configPath)
	if err != nil {
		logger.Logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	caseStore, err := store.OpenTestCaseStore(cfg.Settings.StoreRoot)
	if err != nil {
		logger.Logger.Error("Failed to open test case store", "error", err)
		os.Exit(1)
	}
	historyStore, err := store.OpenHistoryStore(cfg.Settings.StoreRoot)
	if err != nil {
		logger.Logger.Error("Failed to open run history", "error", err)
		os.Exit(1)
	}

	if *casesPath != "" {
		if err := importCases(caseStore, *casesPath, *validateOnly); err != nil {
			logger.Logger.Error("Case import failed", "error", err)
			os.Exit(1)
		}
		if *validateOnly {
			return
		}
	}

	switch {
	case *listCases:
		for _, tc := range caseStore.List(false) {
			fmt.Printf("%-28s v%-3d %-16s %s\n", tc.CaseID, tc.Version, tc.Category, tc.Name)
		}
		return
	case *history > 0:
		for _, s := range historyStore.GetComparisonHistory(*history) {
			fmt.Printf("%s  %-10s %s  tests=%d\n",
				s.ComparisonID, s.Status, s.StartedAt.Format("2006-01-02 15:04:05"), s.TestCount)
		}
		return
	case *show != "":
		run, err := historyStore.GetComparisonRun(*show)
		if err != nil {
			logger.Logger.Error("Run not found", "comparison_id", *show, "error", err)
			os.Exit(1)
		}
		report.WriteConsole(os.Stdout, run)
		return
	}

	if *runTests == "" && !*runAll {
		fmt.Fprintf(os.Stderr, "Error: -run <ids>, -run-all, -list, -history or -show is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	compareCfg := model.ComparisonConfig{
		RunProduction: *prod,
		RunSandboxA:   *sandboxA,
		RunSandboxB:   *sandboxB,
	}
	if compareCfg.EnabledCount() == 0 {
		// default to every configured endpoint
		compareCfg.RunProduction = cfg.Endpoints.Production.URL != ""
		compareCfg.RunSandboxA = cfg.Endpoints.SandboxA.URL != ""
		compareCfg.RunSandboxB = cfg.Endpoints.SandboxB.URL != ""
	}

	var testIDs []string
	if *runAll {
		for _, tc := range caseStore.List(false) {
			testIDs = append(testIDs, tc.CaseID)
		}
	} else {
		for _, id := range strings.Split(*runTests, ",") {
			if id = strings.TrimSpace(id); id != "" {
				testIDs = append(testIDs, id)
			}
		}
	}

	var j judge.Judge
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Judge.Type != "" {
		llm, err := judge.CreateProvider(ctx, cfg.Judge)
		if err != nil {
			logger.Logger.Error("Failed to create judge provider", "error", err)
			os.Exit(1)
		}
		llmJudge := judge.NewLLMJudge(llm)
		if d := cfg.Settings.JudgeTimeoutDuration(); d > 0 {
			llmJudge = llmJudge.WithTimeout(d)
		}
		j = llmJudge
	} else {
		logger.Logger.Warn("No judge configured, semantic checks will be inconclusive")
	}

	var resolver *persona.Resolver
	if cfg.Settings.Seed != 0 {
		resolver = persona.NewSeededResolver(cfg.Settings.Seed)
	} else {
		resolver = persona.NewResolver()
	}

	orch := engine.NewOrchestrator(driver.NewHTTPChatClient(), j, resolver, caseStore, historyStore, cfg.Endpoints)
	if d := cfg.Settings.StepTimeoutDuration(); d > 0 {
		orch = orch.WithStepTimeout(d)
	}
	orch.OnProgress(func(ev model.ProgressEvent) {
		fmt.Printf("[%s] %d/%d %s\n", ev.Stage, ev.TestIndex, ev.TotalTests, ev.TestID)
	})

	logger.Logger.Info("Starting application",
		"app", AppName,
		"config", *configPath,
		"tests", len(testIDs),
		"verbose", *verbose)

	run, err := orch.RunComparison(ctx, testIDs, compareCfg)
	if err != nil {
		logger.Logger.Error("Comparison failed", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	report.WriteConsole(os.Stdout, run)

	if *reportPath != "" {
		if err := report.GenerateMarkdownToFile(run, *reportPath); err != nil {
			logger.Logger.Error("Failed to write Markdown report", "error", err)
			os.Exit(1)
		}
	}
	if *jsonPath != "" {
		if err := report.GenerateJSONToFile(run, *jsonPath); err != nil {
			logger.Logger.Error("Failed to write JSON report", "error", err)
			os.Exit(1)
		}
	}

	if run.Status != model.RunCompleted {
		os.Exit(1)
	}
}

// importCases loads test case YAML files into the store. A path may be a
// single file or a directory of .yaml/.yml files.
func importCases(caseStore *store.TestCaseStore, path string, validateOnly bool) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
				continue
			}
			files = append(files, path+string(os.PathSeparator)+name)
		}
	} else {
		files = []string{path}
	}

	for _, file := range files {
		tc, err := model.ParseTestCase(file)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", file, err)
		}

		if validateOnly {
			errs := caseStore.Validate(*tc)
			if len(errs) == 0 {
				fmt.Printf("%s: OK\n", tc.CaseID)
				continue
			}
			for _, ve := range errs {
				fmt.Printf("%s: %s: %s\n", tc.CaseID, ve.Field, ve.Message)
			}
			continue
		}

		_, errs, err := caseStore.Create(*tc)
		if err != nil {
			return err
		}
		if len(errs) > 0 {
			// a case that already exists gets updated instead
			if _, uerrs, uerr := caseStore.Update(*tc); uerr == nil && len(uerrs) == 0 {
				continue
			}
			for _, ve := range errs {
				fmt.Printf("%s: %s: %s\n", tc.CaseID, ve.Field, ve.Message)
			}
			return fmt.Errorf("test case %s failed validation", tc.CaseID)
		}
	}
	return nil
}
