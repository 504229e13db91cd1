// Command pagestore operates on a page repository from the command line:
// saving, reading and deleting pages, inspecting history, and querying
// the search index.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sa/pagestore/internal/backend"
	"github.com/sa/pagestore/internal/config"
	"github.com/sa/pagestore/internal/index"
	"github.com/sa/pagestore/internal/store"
)

// noParent marks the -parent flag as unset.
const noParent = -2

func main() {
	var (
		repoPath = flag.String("repo", "", "repository path (overrides REPOSITORY)")
		author   = flag.String("author", "", "author recorded on writes")
		comment  = flag.String("comment", "", "comment recorded on writes")
		parent   = flag.Int("parent", noParent, "page revision the edit is based on; -1 for a fresh page")
		rev      = flag.Int("rev", -1, "page revision to read; latest when negative")
		limit    = flag.Int("limit", 0, "bound the number of commits listed by history; 0 lists all")
	)
	flag.Usage = usage
	flag.Parse()

	cfg := config.Load()
	if *repoPath != "" {
		cfg.Repository = *repoPath
	}
	if err := cfg.Validate(); err != nil {
		fatal("invalid configuration", err)
	}
	initLogger(cfg)

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	b, err := backend.Open(cfg.Repository, true)
	if err != nil {
		fatal("failed to open repository", err)
	}
	st := store.New(cfg, b)

	cmd, args := args[0], args[1:]
	switch cmd {
	case "save":
		runSave(st, args, *author, *comment, *parent)
	case "cat":
		runCat(st, args, *rev)
	case "rm":
		runRemove(st, args, *author, *comment)
	case "log":
		runLog(st, args)
	case "history":
		runHistory(st, *limit)
	case "changed":
		runChanged(st, args)
	case "titles":
		runTitles(st)
	case "head":
		runHead(st)
	case "reindex", "search", "backlinks", "orphans", "wanted":
		runIndex(cfg, st, cmd, args)
	default:
		fatal("unknown command", fmt.Errorf("%q", cmd))
	}
}

func runSave(st *store.Store, args []string, author, comment string, parent int) {
	if len(args) != 1 {
		fatal("usage", fmt.Errorf("save <title> (content on stdin)"))
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		fatal("failed to read stdin", err)
	}
	var pr store.PageRevision
	if parent == noParent {
		pr, err = st.Save(args[0], data, author, comment)
	} else {
		pr, err = st.SaveAt(args[0], data, author, comment, parent)
	}
	if err != nil {
		fatal("failed to save page", err)
	}
	fmt.Printf("%s %d %s\n", pr.Title, pr.Rev, pr.Node)
}

func runCat(st *store.Store, args []string, rev int) {
	if len(args) != 1 {
		fatal("usage", fmt.Errorf("cat <title>"))
	}
	var (
		pr  store.PageRevision
		err error
	)
	if rev < 0 {
		pr, err = st.Read(args[0])
	} else {
		pr, err = st.ReadAt(args[0], rev)
	}
	if err != nil {
		fatal("failed to read page", err)
	}
	if pr.Deleted() {
		fatal("failed to read page", fmt.Errorf("%q is deleted at revision %d", pr.Title, pr.Rev))
	}
	os.Stdout.Write(pr.Data)
}

func runRemove(st *store.Store, args []string, author, comment string) {
	if len(args) != 1 {
		fatal("usage", fmt.Errorf("rm <title>"))
	}
	pr, err := st.Delete(args[0], author, comment)
	if err != nil {
		fatal("failed to delete page", err)
	}
	fmt.Printf("%s %d %s\n", pr.Title, pr.Rev, pr.Node)
}

func runLog(st *store.Store, args []string) {
	if len(args) != 1 {
		fatal("usage", fmt.Errorf("log <title>"))
	}
	history, err := st.PageHistory(args[0])
	if err != nil {
		fatal("failed to read page history", err)
	}
	for _, pr := range history {
		state := ""
		if pr.Deleted() {
			state = " (deleted)"
		}
		fmt.Printf("%d\t%s\t%s\t%s\t%s%s\n",
			pr.Rev, pr.Node[:7], pr.Date.Format("2006-01-02 15:04"), pr.Author, pr.Comment, state)
	}
}

func runHistory(st *store.Store, limit int) {
	history, err := st.WholeHistory(limit)
	if err != nil {
		fatal("failed to read history", err)
	}
	for _, pr := range history {
		fmt.Printf("%s\t%s\t%s\t%s\t%s\n",
			pr.Node[:7], pr.Date.Format("2006-01-02 15:04"), pr.Title, pr.Author, pr.Comment)
	}
}

func runChanged(st *store.Store, args []string) {
	since := ""
	if len(args) > 0 {
		since = args[0]
	}
	titles, err := st.ChangedSince(since)
	if err != nil {
		fatal("failed to list changed pages", err)
	}
	for _, t := range titles {
		fmt.Println(t)
	}
}

func runTitles(st *store.Store) {
	titles, err := st.AllTitles()
	if err != nil {
		fatal("failed to list pages", err)
	}
	for _, t := range titles {
		fmt.Println(t)
	}
}

func runHead(st *store.Store) {
	head, err := st.HeadRevision()
	if err != nil {
		fatal("failed to read head", err)
	}
	fmt.Println(head)
}

func runIndex(cfg *config.Config, st *store.Store, cmd string, args []string) {
	dbPath := cfg.IndexDB
	if dbPath == "" {
		dbPath = cfg.DefaultIndexDB()
	}
	ix, err := index.Open(dbPath, st, nil)
	if err != nil {
		fatal("failed to open search index", err)
	}
	defer ix.Close()

	ctx := context.Background()
	if err := ix.Update(ctx); err != nil {
		fatal("failed to update search index", err)
	}

	var titles []string
	switch cmd {
	case "reindex":
		return
	case "search":
		if len(args) == 0 {
			fatal("usage", fmt.Errorf("search <word>..."))
		}
		titles, err = ix.Find(ctx, args)
	case "backlinks":
		if len(args) != 1 {
			fatal("usage", fmt.Errorf("backlinks <title>"))
		}
		titles, err = ix.Backlinks(ctx, args[0])
	case "orphans":
		titles, err = ix.Orphans(ctx)
	case "wanted":
		titles, err = ix.Wanted(ctx)
	}
	if err != nil {
		fatal("index query failed", err)
	}
	for _, t := range titles {
		fmt.Println(t)
	}
}

func initLogger(cfg *config.Config) {
	var level slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN", "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: pagestore [flags] <command> [args]

Commands:
  save <title>        save a page, content read from stdin
  cat <title>         print a page's content
  rm <title>          delete a page
  log <title>         show a page's revision history
  history             show the whole repository history
  changed [rev]       list pages changed since a revision
  titles              list all page titles
  head                print the current head revision
  reindex             update the search index
  search <word>...    find pages containing all words
  backlinks <title>   list pages linking to a page
  orphans             list pages nothing links to
  wanted              list linked-to pages that do not exist

Flags:
`)
	flag.PrintDefaults()
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "pagestore: %s: %v\n", msg, err)
	os.Exit(1)
}
