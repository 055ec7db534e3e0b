package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/vampirenirmal/novelist/internal/agent"
	"github.com/vampirenirmal/novelist/internal/pipeline"
	"github.com/vampirenirmal/novelist/internal/project"
	"github.com/vampirenirmal/novelist/internal/provider"
	"github.com/vampirenirmal/novelist/internal/rag"
	"github.com/vampirenirmal/novelist/internal/session"
	nverrors "github.com/vampirenirmal/novelist/pkg/novelist/errors"
)

// Exit codes: 1 for config and validation problems, 2 for provider and
// IO failures.
const (
	exitConfig = 1
	exitIO     = 2
)

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: novelist <command> [options]

Commands:
  create <path> [name]     scaffold a new project directory
  scene <intention>        generate one scene in the current project
  index                    rebuild the retrieval index
  status                   show project and memory state
  providers                show configured providers and health
  session list             list sessions, newest first
  session delete <id>      delete a session and its run log

Options:
  -project <path>          project directory (default ".")
  -session <id>            resume an existing session
  -verbose                 debug logging`)
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitConfig
	}

	command := args[0]
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	projectPath := fs.String("project", ".", "project directory")
	sessionID := fs.String("session", "", "session id to resume")
	verbose := fs.Bool("verbose", false, "debug logging")

	// Subcommand positionals come before flags: novelist scene "..." -project x
	var positional []string
	rest := args[1:]
	for len(rest) > 0 && !strings.HasPrefix(rest[0], "-") {
		positional = append(positional, rest[0])
		rest = rest[1:]
	}
	if err := fs.Parse(rest); err != nil {
		return exitConfig
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	_ = godotenv.Load()
	ctx := context.Background()

	switch command {
	case "create":
		return cmdCreate(ctx, positional)
	case "scene":
		return cmdScene(ctx, *projectPath, *sessionID, strings.Join(positional, " "))
	case "index":
		return cmdIndex(ctx, *projectPath)
	case "status":
		return cmdStatus(ctx, *projectPath)
	case "providers":
		return cmdProviders(ctx, *projectPath)
	case "session":
		return cmdSession(ctx, *projectPath, positional)
	case "help", "-h", "--help":
		usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		usage()
		return exitConfig
	}
}

func fail(err error) int {
	fmt.Fprintln(os.Stderr, "error:", err)
	if nverrors.IsFatal(err) || errors.Is(err, nverrors.ErrProjectNotFound) {
		return exitConfig
	}
	return exitIO
}

// failOpen reports a project.Open failure, which is always a config or
// validation problem.
func failOpen(err error) int {
	fmt.Fprintln(os.Stderr, "error:", err)
	return exitConfig
}

func cmdCreate(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: novelist create <path> [name]")
		return exitConfig
	}
	path := args[0]
	name := path
	if len(args) > 1 {
		name = args[1]
	}

	if err := project.Create(ctx, path, name); err != nil {
		return fail(err)
	}
	fmt.Printf("Project created at %s\n", path)
	fmt.Println("Edit bible.md and characters/, then run: novelist scene \"...\"")
	return 0
}

func cmdScene(ctx context.Context, projectPath, sessionID, intention string) int {
	if strings.TrimSpace(intention) == "" {
		fmt.Fprintln(os.Stderr, "usage: novelist scene <intention>")
		return exitConfig
	}

	store, cfg, err := project.Open(projectPath)
	if err != nil {
		return failOpen(err)
	}

	sess := session.New()
	if sessionID != "" {
		sess, err = session.Load(ctx, store, sessionID)
		if err != nil {
			return fail(err)
		}
	}

	router := provider.NewRouter(cfg)
	p := pipeline.New(cfg, store, router)

	retriever := rag.NewRetriever()
	if err := retriever.Load(ctx, store); err == nil && retriever.Fitted() {
		p.SetRetriever(retriever)
	}

	trace, err := p.RunScene(ctx, sess, intention)
	if err != nil {
		return fail(err)
	}

	fmt.Printf("Chapter %d, scene %d (run %s)\n\n", trace.Chapter, trace.Scene, trace.RunID)
	fmt.Println(trace.FinalText)
	fmt.Println()
	if trace.IssuesFound > 0 {
		fmt.Printf("Issues remaining: %d (revised: %v)\n", trace.IssuesFound, trace.RevisionMade)
	}
	if trace.PendingDecision {
		fmt.Println("Issues persist after revision; the scene was committed as written. Review it manually.")
	}
	if trace.Commit != nil {
		fmt.Printf("Committed: %d facts, %d foreshadowing planted, %d resolved\n",
			len(trace.Commit.FactsAdded),
			len(trace.Commit.ForeshadowingPlanted),
			len(trace.Commit.ForeshadowingResolved))
	}
	fmt.Printf("Session: %s (resume with -session %s)\n", sess.SessionID, sess.SessionID)
	fmt.Print(p.Costs().FormatSummary())
	return 0
}

func cmdIndex(ctx context.Context, projectPath string) int {
	store, _, err := project.Open(projectPath)
	if err != nil {
		return failOpen(err)
	}

	indexer := rag.NewIndexer(store)
	retriever, err := indexer.Build(ctx)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("Index built: %d documents\n", len(retriever.Documents()))
	return 0
}

func cmdStatus(ctx context.Context, projectPath string) int {
	store, cfg, err := project.Open(projectPath)
	if err != nil {
		return failOpen(err)
	}

	ok, issues := project.Validate(ctx, projectPath)
	fmt.Printf("Project: %s\n", cfg.ProjectName)
	if ok {
		fmt.Println("Structure: ok")
	} else {
		fmt.Println("Structure problems:")
		for _, issue := range issues {
			fmt.Println("  -", issue)
		}
	}

	p := pipeline.New(cfg, store, provider.NewRouter(cfg))
	chapters, err := p.Chapters().List(ctx)
	if err == nil {
		fmt.Printf("Chapters: %d\n", len(chapters))
	}

	sessions, err := session.NewManager(store).List(ctx)
	if err == nil {
		fmt.Printf("Sessions: %d\n", len(sessions))
	}
	return 0
}

func cmdProviders(ctx context.Context, projectPath string) int {
	_, cfg, err := project.Open(projectPath)
	if err != nil {
		return failOpen(err)
	}

	router := provider.NewRouter(cfg)
	infos := router.GetAllProviders(ctx)
	names := make([]string, 0, len(infos))
	for name := range infos {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		info := infos[name]
		marker := " "
		if name == cfg.Provider.Default {
			marker = "*"
		}
		if info.Error != "" {
			fmt.Printf("%s %-16s %s\n", marker, name, info.Error)
			continue
		}
		health := "unreachable"
		if info.Healthy {
			health = "healthy"
		}
		fmt.Printf("%s %-16s %s/%s  %s\n", marker, name, info.Type, info.Model, health)
	}

	fmt.Println("\nRouting:")
	for _, role := range []string{agent.RoleDirector, agent.RoleWriter, agent.RoleChecker, agent.RoleEditor, agent.RoleCommitter} {
		name, entry, err := cfg.ProviderFor(role)
		if err != nil {
			fmt.Printf("  %-10s (unroutable: %v)\n", role, err)
			continue
		}
		fmt.Printf("  %-10s -> %s (%s)\n", role, name, entry.Model)
	}
	return 0
}

func cmdSession(ctx context.Context, projectPath string, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: novelist session list | session delete <id>")
		return exitConfig
	}

	store, _, err := project.Open(projectPath)
	if err != nil {
		return failOpen(err)
	}
	manager := session.NewManager(store)

	switch args[0] {
	case "list":
		sessions, err := manager.List(ctx)
		if err != nil {
			return fail(err)
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions.")
			return 0
		}
		for _, s := range sessions {
			fmt.Printf("%s  chapter %d scene %d  %s\n",
				s.SessionID, s.CurrentChapter, s.CurrentScene, s.CreatedAt)
		}
		return 0
	case "delete":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: novelist session delete <id>")
			return exitConfig
		}
		if err := manager.Delete(ctx, args[1]); err != nil {
			return fail(err)
		}
		fmt.Println("Deleted", args[1])
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown session command: %s\n", args[0])
		return exitConfig
	}
}
