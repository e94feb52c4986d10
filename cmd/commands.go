package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ergochat/readline"
	"github.com/natefinch/atomic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/tailscale/hujson"

	"github.com/RethinkEngine/rethinkengine"
	"github.com/RethinkEngine/rethinkengine/utils"
)

var (
	HelpCreate = errors.New("create <table> [primary-key]")
	HelpDrop   = errors.New("drop <table>")
	HelpInsert = errors.New(`insert <table> {"title": "On Documents"}`)
	HelpGet    = errors.New("get <table> <key>")
	HelpFilter = errors.New(`filter <table> [{"author": "ada"}]`)
	HelpDelete = errors.New("delete <table> <key>")
	HelpDump   = errors.New("dump <file.json>")
)

const usage = `  tables                        list tables
  create <table> [primary-key]  create a table
  drop <table>                  drop a table and its documents
  insert <table> {doc}          store a document, comments and trailing commas ok
  get <table> <key>             fetch one document
  filter <table> [{doc}]        list documents, optionally matching every field
  delete <table> <key>          delete one document
  dump <file.json>              export all tables to a JSON file
  metrics                       print collected metrics
  help                          this text
  exit                          leave`

// Shell drives one storage connection from a readline loop.
type Shell struct {
	conn rethinkengine.Conn
	reg  *prometheus.Registry
	log  utils.Logger
	rl   *readline.Instance
}

func (sh *Shell) Open() (err error) {
	sh.rl, err = readline.NewEx(&readline.Config{
		Prompt:          "◌ ",
		HistoryFile:     ".rethink_cmd_log.txt",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return
	}
	sh.rl.CaptureExitSignal()
	return
}

func (sh *Shell) Close() error {
	if sh.rl != nil {
		_ = sh.rl.Close()
		sh.rl = nil
	}
	return nil
}

// Dispatch runs one command line. io.EOF means the user asked to leave.
func (sh *Shell) Dispatch(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "help":
		fmt.Println(usage)
	case "tables":
		return sh.CommandTables(ctx)
	case "create":
		return sh.CommandCreate(ctx, rest)
	case "drop":
		return sh.CommandDrop(ctx, rest)
	case "insert":
		return sh.CommandInsert(ctx, rest)
	case "get":
		return sh.CommandGet(ctx, rest)
	case "filter":
		return sh.CommandFilter(ctx, rest)
	case "delete":
		return sh.CommandDelete(ctx, rest)
	case "dump":
		return sh.CommandDump(ctx, rest)
	case "metrics":
		return sh.CommandMetrics()
	case "exit", "quit":
		return io.EOF
	default:
		_, _ = fmt.Fprintf(os.Stderr, "command unknown: %s\n", cmd)
	}
	return nil
}

func (sh *Shell) CommandTables(ctx context.Context) error {
	rows, err := sh.readAll(ctx, rethinkengine.Operation{Kind: rethinkengine.OpTableList})
	if err != nil {
		return err
	}
	for _, row := range rows {
		fmt.Println(row["name"])
	}
	return nil
}

func (sh *Shell) CommandCreate(ctx context.Context, arg string) error {
	args := strings.Fields(arg)
	op := rethinkengine.Operation{Kind: rethinkengine.OpTableCreate}
	switch len(args) {
	case 1:
		op.Table = args[0]
	case 2:
		op.Table, op.PrimaryKey = args[0], args[1]
	default:
		return HelpCreate
	}
	res, err := sh.conn.RunWrite(ctx, op)
	if err != nil {
		return err
	}
	printResult(res)
	return nil
}

func (sh *Shell) CommandDrop(ctx context.Context, arg string) error {
	if arg == "" || strings.ContainsAny(arg, " \t") {
		return HelpDrop
	}
	res, err := sh.conn.RunWrite(ctx, rethinkengine.Operation{
		Kind:  rethinkengine.OpTableDrop,
		Table: arg,
	})
	if err != nil {
		return err
	}
	printResult(res)
	return nil
}

func (sh *Shell) CommandInsert(ctx context.Context, arg string) error {
	table, text, _ := strings.Cut(arg, " ")
	doc, err := parseDoc(text)
	if table == "" || err != nil {
		if err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err.Error())
		}
		return HelpInsert
	}
	res, err := sh.conn.RunWrite(ctx, rethinkengine.Operation{
		Kind:  rethinkengine.OpInsert,
		Table: table,
		Doc:   doc,
	})
	if err != nil {
		return err
	}
	printResult(res)
	return nil
}

func (sh *Shell) CommandGet(ctx context.Context, arg string) error {
	args := strings.Fields(arg)
	if len(args) != 2 {
		return HelpGet
	}
	rows, err := sh.readAll(ctx, rethinkengine.Operation{
		Kind:  rethinkengine.OpGet,
		Table: args[0],
		Key:   args[1],
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("null")
		return nil
	}
	printDoc(rows[0])
	return nil
}

func (sh *Shell) CommandFilter(ctx context.Context, arg string) error {
	table, text, _ := strings.Cut(arg, " ")
	if table == "" {
		return HelpFilter
	}
	op := rethinkengine.Operation{Kind: rethinkengine.OpScan, Table: table}
	if strings.TrimSpace(text) != "" {
		filter, err := parseDoc(text)
		if err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err.Error())
			return HelpFilter
		}
		op.Filter = filter
	}
	rows, err := sh.readAll(ctx, op)
	if err != nil {
		return err
	}
	for _, row := range rows {
		printDoc(row)
	}
	return nil
}

func (sh *Shell) CommandDelete(ctx context.Context, arg string) error {
	args := strings.Fields(arg)
	if len(args) != 2 {
		return HelpDelete
	}
	res, err := sh.conn.RunWrite(ctx, rethinkengine.Operation{
		Kind:  rethinkengine.OpDelete,
		Table: args[0],
		Key:   args[1],
	})
	if err != nil {
		return err
	}
	printResult(res)
	return nil
}

// CommandDump exports every table to one JSON file, written atomically
// so a crash mid-dump never leaves a torn file behind.
func (sh *Shell) CommandDump(ctx context.Context, arg string) error {
	if arg == "" || strings.ContainsAny(arg, " \t") {
		return HelpDump
	}
	tables, err := sh.readAll(ctx, rethinkengine.Operation{Kind: rethinkengine.OpTableList})
	if err != nil {
		return err
	}
	export := make(map[string][]rethinkengine.D, len(tables))
	for _, t := range tables {
		name, _ := t["name"].(string)
		rows, err := sh.readAll(ctx, rethinkengine.Operation{Kind: rethinkengine.OpScan, Table: name})
		if err != nil {
			return err
		}
		if rows == nil {
			rows = []rethinkengine.D{}
		}
		export[name] = rows
	}
	out, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return err
	}
	if err = atomic.WriteFile(arg, bytes.NewReader(out)); err != nil {
		return err
	}
	sh.log.Info("dump written", "path", arg, "tables", len(export), "bytes", len(out))
	return nil
}

func (sh *Shell) CommandMetrics() error {
	families, err := sh.reg.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(os.Stdout, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err = enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

func (sh *Shell) readAll(ctx context.Context, op rethinkengine.Operation) ([]rethinkengine.D, error) {
	cur, err := sh.conn.Run(ctx, op)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close() }()
	var rows []rethinkengine.D
	var row rethinkengine.D
	for cur.Next(&row) {
		rows = append(rows, row)
	}
	return rows, cur.Err()
}

// parseDoc reads a document literal. hujson tolerates comments and
// trailing commas before the strict JSON pass.
func parseDoc(text string) (rethinkengine.D, error) {
	data, err := hujson.Standardize([]byte(text))
	if err != nil {
		return nil, err
	}
	var doc rethinkengine.D
	if err = json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func printDoc(doc rethinkengine.D) {
	out, err := json.Marshal(doc)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		return
	}
	fmt.Println(string(out))
}

func printResult(res rethinkengine.WriteResult) {
	out, err := json.Marshal(res)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		return
	}
	fmt.Println(string(out))
}
