// Command courtctl talks to a court server as one participant.
//
//	courtctl token -user user_alice
//	courtctl state
//	courtctl act serve -partner user_bob -judge logical
//	courtctl watch
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"courtroom/api/internal/auth"
	"courtroom/api/internal/client"
	"courtroom/api/internal/court"
	"courtroom/api/internal/logging"
)

const usage = `usage: courtctl <command> [flags]

commands:
  token   mint a development token
  state   print the current view
  act     send one action, e.g. "act submitEvidence -evidence ..."
  watch   print every view pushed by the server
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Getenv, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "courtctl:", err)
		os.Exit(1)
	}
}

type common struct {
	server string
	token  string
	user   string
}

func (c *common) register(fs *flag.FlagSet, getenv func(string) string) {
	server := getenv("COURT_SERVER")
	if server == "" {
		server = "http://localhost:8787"
	}
	fs.StringVar(&c.server, "server", server, "court server base URL")
	fs.StringVar(&c.token, "token", getenv("COURT_TOKEN"), "bearer token")
	fs.StringVar(&c.user, "user", getenv("COURT_USER"), "user id, read from the token when empty")
}

func (c *common) userID() (string, error) {
	if c.user != "" {
		return c.user, nil
	}
	if c.token == "" {
		return "", errors.New("-token or -user is required")
	}
	// The server verifies the signature; the CLI only needs the subject.
	return auth.UnverifiedSubject(c.token)
}

func run(ctx context.Context, args []string, getenv func(string) string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New(strings.TrimSpace(usage))
	}
	switch args[0] {
	case "token":
		return runToken(args[1:], getenv, out)
	case "state":
		return runState(ctx, args[1:], getenv, out)
	case "act":
		return runAct(ctx, args[1:], getenv, out)
	case "watch":
		return runWatch(ctx, args[1:], getenv, out)
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func runToken(args []string, getenv func(string) string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	user := fs.String("user", "", "user id to put in the token")
	name := fs.String("name", "", "display name")
	secret := fs.String("secret", getenv("COURT_JWT_SECRET"), "signing secret")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secret == "" {
		return errors.New("-secret is required")
	}
	token, err := auth.IssueToken([]byte(*secret), *user, *name, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func runState(ctx context.Context, args []string, getenv func(string) string, out io.Writer) error {
	fs := flag.NewFlagSet("state", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var c common
	c.register(fs, getenv)
	if err := fs.Parse(args); err != nil {
		return err
	}
	view, err := client.NewRESTTransport(c.server, c.token).Fetch(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, view)
}

func runAct(ctx context.Context, args []string, getenv func(string) string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("act requires an action name")
	}
	kind, err := court.ParseActionKind(args[0])
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("act", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var c common
	c.register(fs, getenv)
	action := court.Action{Kind: kind}
	var flow string
	fs.StringVar(&action.PartnerID, "partner", "", "partner user id (serve)")
	fs.StringVar(&action.JudgeType, "judge", "", "judge persona (serve)")
	fs.StringVar(&flow, "flow", "", "classic or guided (serve)")
	fs.StringVar(&action.Evidence, "evidence", "", "what happened (submitEvidence)")
	fs.StringVar(&action.Feelings, "feelings", "", "how it felt (submitEvidence)")
	fs.StringVar(&action.Needs, "needs", "", "what you need (submitEvidence)")
	fs.StringVar(&action.Text, "text", "", "addendum text (submitAddendum)")
	fs.StringVar(&action.OptionID, "option", "", "resolution option id (submitResolutionPick)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	action.Flow = court.Flow(flow)

	store := client.NewStore(client.NewRESTTransport(c.server, c.token), client.WithLogger(logging.Discard()), client.WithWatchdog(0))
	snap, err := store.Dispatch(ctx, action)
	if err != nil {
		return err
	}
	return printJSON(out, snap.View)
}

func runWatch(ctx context.Context, args []string, getenv func(string) string, out io.Writer) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var c common
	c.register(fs, getenv)
	if err := fs.Parse(args); err != nil {
		return err
	}
	userID, err := c.userID()
	if err != nil {
		return err
	}

	log, err := logging.New("warn", "text")
	if err != nil {
		return err
	}
	store := client.NewStore(client.NewRESTTransport(c.server, c.token), client.WithLogger(log))
	store.OnChange(func(snap client.Snapshot) {
		_ = printJSON(out, snap.View)
	})
	dial := client.WSDialer(client.WSConfig{
		URL:    wsURL(c.server),
		Origin: c.server,
		Token:  c.token,
		UserID: userID,
	})
	err = client.NewConnector(dial, store, client.WithConnectorLogger(log)).Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func wsURL(server string) string {
	server = strings.TrimRight(server, "/")
	switch {
	case strings.HasPrefix(server, "https://"):
		return "wss://" + strings.TrimPrefix(server, "https://") + "/ws"
	case strings.HasPrefix(server, "http://"):
		return "ws://" + strings.TrimPrefix(server, "http://") + "/ws"
	}
	return server + "/ws"
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
