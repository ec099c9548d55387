package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"codejudge/internal/cli/command"
	httpclient "codejudge/internal/cli/http"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const prompt = "codejudge> "

// ErrExit is returned by Exec for the exit command.
var ErrExit = errors.New("exit")

// PromptFunc asks the user for a missing value.
type PromptFunc func(label string) (string, error)

// Options tune a session.
type Options struct {
	PrettyJSON   bool
	PollInterval time.Duration
	WaitTimeout  time.Duration
	// Prompt fills required fields left out of a command. Nil makes them errors.
	Prompt PromptFunc
}

// Session holds REPL state.
type Session struct {
	client   *httpclient.Client
	commands map[string]command.Command
	out      io.Writer
	opts     Options
}

func New(client *httpclient.Client, commands map[string]command.Command, out io.Writer, opts Options) *Session {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = time.Minute
	}
	return &Session{
		client:   client,
		commands: commands,
		out:      out,
		opts:     opts,
	}
}

// Run reads commands until exit or EOF.
func (s *Session) Run(ctx context.Context, historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		AutoComplete:    s.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline failed: %w", err)
	}
	defer func() { _ = rl.Close() }()

	s.out = rl.Stdout()
	s.opts.Prompt = func(label string) (string, error) {
		rl.SetPrompt(label + ": ")
		defer rl.SetPrompt(prompt)
		line, err := rl.Readline()
		if err != nil {
			return "", fmt.Errorf("read input failed: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		tokens, err := shlex.Split(line)
		if err != nil {
			s.printLine("error: parse command failed: %v", err)
			continue
		}
		if err := s.Exec(ctx, tokens); err != nil {
			if errors.Is(err, ErrExit) {
				s.printLine("bye")
				return nil
			}
			s.printLine("error: %v", err)
		}
	}
}

// Exec runs one tokenized command line.
func (s *Session) Exec(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	switch tokens[0] {
	case "exit", "quit":
		return ErrExit
	case "help":
		s.printHelp()
		return nil
	case "set":
		return s.handleSet(tokens[1:])
	case "show":
		s.printLine("base: %s", s.client.BaseURL())
		return nil
	}
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <service> <action> key=value ...")
	}
	cmd, ok := s.commands[tokens[0]+" "+tokens[1]]
	if !ok {
		return fmt.Errorf("unknown command: %s %s", tokens[0], tokens[1])
	}
	params, err := command.ParseArgs(tokens[2:])
	if err != nil {
		return err
	}
	params.Canonicalize(cmd.Fields)
	if err := s.promptMissing(cmd, params); err != nil {
		return err
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	if cmd.Poll {
		return s.wait(ctx, req, params)
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	return nil
}

func (s *Session) handleSet(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: set base <url> | set timeout <duration>")
	}
	switch args[0] {
	case "base":
		s.client.SetBaseURL(args[1])
		s.printLine("base set to %s", args[1])
	case "timeout":
		dur, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	default:
		return fmt.Errorf("unknown set command: %s", args[0])
	}
	return nil
}

func (s *Session) promptMissing(cmd command.Command, params command.Params) error {
	for _, field := range cmd.Fields {
		if !field.Required || command.Satisfied(cmd, field, params) {
			continue
		}
		if s.opts.Prompt == nil {
			return fmt.Errorf("%s is required", field.Name)
		}
		value, err := s.opts.Prompt(field.Prompt)
		if err != nil {
			return err
		}
		params.Set(field.Name, value)
	}
	return nil
}

// wait polls a result endpoint until the job reports done.
func (s *Session) wait(ctx context.Context, req command.RequestSpec, params command.Params) error {
	interval := s.opts.PollInterval
	timeout := s.opts.WaitTimeout
	if raw := params.Get("interval"); raw != "" {
		d, err := command.ParseDuration(raw)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid interval: %s", raw)
		}
		interval = d
	}
	if raw := params.Get("timeout"); raw != "" {
		d, err := command.ParseDuration(raw)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid timeout: %s", raw)
		}
		timeout = d
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != 200 || jobDone(resp.Body) {
			s.renderResponse(resp)
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("job %s still running after %s", params.Get("id"), timeout)
		case <-ticker.C:
		}
	}
}

func jobDone(body []byte) bool {
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}
	return payload.Status == "done"
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration)
	if len(resp.Body) == 0 {
		return
	}
	if s.opts.PrettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) completer() *readline.PrefixCompleter {
	services := map[string][]readline.PrefixCompleterInterface{}
	var order []string
	for _, key := range command.Keys(s.commands) {
		cmd := s.commands[key]
		if _, ok := services[cmd.Service]; !ok {
			order = append(order, cmd.Service)
		}
		services[cmd.Service] = append(services[cmd.Service], readline.PcItem(cmd.Action))
	}
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("exit"),
		readline.PcItem("show"),
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("timeout")),
	}
	for _, service := range order {
		items = append(items, readline.PcItem(service, services[service]...))
	}
	return readline.NewPrefixCompleter(items...)
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | show | set base <url> | set timeout <duration>")
	s.printLine("commands:")
	for _, key := range command.Keys(s.commands) {
		s.printLine("  %s", key)
	}
	s.printLine("examples:")
	s.printLine("  job submit file=./main.cpp input=\"1 2\"")
	s.printLine("  job wait id=<job id> interval=200ms")
	s.printLine("  question save file=./two-sum.json")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}
