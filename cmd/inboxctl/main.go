package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/matheus3301/smsinbox/internal/api"
	"github.com/matheus3301/smsinbox/internal/client"
	"github.com/matheus3301/smsinbox/internal/lock"
	"github.com/matheus3301/smsinbox/internal/profile"
	"golang.org/x/term"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type options struct {
	account string
	folder  string
	search  string
	json    bool
}

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	accountFlag := flag.String("account", "", "account number (default: the active account)")
	folderFlag := flag.String("folder", "inbox", "contact folder: inbox, favorite or archived")
	searchFlag := flag.String("search", "", "filter contacts by name or number")
	autostartFlag := flag.Bool("autostart", true, "start inboxd when it is not running")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fatal(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	if args[0] == "profiles" {
		cmdProfiles(*jsonFlag)
		return
	}

	socketPath := profile.SocketPath(profileName)
	if !probeDaemon(socketPath) {
		if !*autostartFlag {
			fatal(fmt.Errorf("daemon not running for profile %q", profileName))
		}
		fmt.Fprintf(os.Stderr, "daemon not running for profile %q, starting...\n", profileName)
		if err := startDaemon(profileName); err != nil {
			fatal(fmt.Errorf("failed to start daemon: %w", err))
		}
		if !waitForDaemon(socketPath, 10*time.Second) {
			fatal(errors.New("daemon did not become ready"))
		}
	}

	c, err := client.New(socketPath)
	if err != nil {
		fatal(fmt.Errorf("cannot connect to daemon for profile %q: %w", profileName, err))
	}
	defer func() { _ = c.Close() }()

	opts := options{account: *accountFlag, folder: *folderFlag, search: *searchFlag, json: *jsonFlag}
	if args[0] == "watch" {
		cmdWatch(c, args[1:], opts)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := run(ctx, c, args, opts); err != nil {
		fatal(err)
	}
}

func run(ctx context.Context, c *client.Client, args []string, opts options) error {
	call := func(method string, req map[string]any) (map[string]any, error) {
		if req == nil {
			req = map[string]any{}
		}
		if opts.account != "" {
			if _, set := req["account"]; !set {
				req["account"] = opts.account
			}
		}
		resp, err := c.Call(ctx, method, req)
		if err != nil {
			return nil, err
		}
		return resp.AsMap(), nil
	}
	need := func(n int, usage string) error {
		if len(args)-1 < n {
			return fmt.Errorf("usage: inboxctl %s", usage)
		}
		return nil
	}

	var (
		resp map[string]any
		err  error
		show func(map[string]any)
	)
	switch args[0] {
	case "status":
		resp, err = call(api.MethodStatus, nil)
		show = printStatus
	case "login":
		if err := need(1, "login <email>"); err != nil {
			return err
		}
		password, perr := readPassword()
		if perr != nil {
			return perr
		}
		resp, err = call(api.MethodLogin, map[string]any{"email": args[1], "password": password})
		show = func(m map[string]any) { fmt.Printf("Logged in as %v\n", m["name"]) }
	case "logout":
		resp, err = call(api.MethodLogout, nil)
		show = func(map[string]any) { fmt.Println("Logged out.") }
	case "accounts":
		resp, err = call(api.MethodListAccounts, nil)
		show = printAccounts
	case "use":
		if err := need(1, "use <account>"); err != nil {
			return err
		}
		resp, err = call(api.MethodSelectAccount, map[string]any{"account": args[1]})
		show = func(m map[string]any) { fmt.Printf("Active account: %v\n", m["active"]) }
	case "contacts":
		resp, err = call(api.MethodListContacts, map[string]any{"folder": opts.folder, "search": opts.search})
		show = printContacts
	case "open":
		if err := need(1, "open <number>"); err != nil {
			return err
		}
		resp, err = call(api.MethodSelectContact, map[string]any{"contact": args[1]})
		show = func(m map[string]any) { fmt.Printf("Opened %v\n", m["contact"]) }
	case "close":
		resp, err = call(api.MethodSelectContact, map[string]any{"contact": ""})
		show = func(map[string]any) {}
	case "thread":
		req := map[string]any{}
		if len(args) > 1 {
			req["contact"] = args[1]
		}
		resp, err = call(api.MethodThread, req)
		show = printThread
	case "send":
		if err := need(2, "send <number> <text>"); err != nil {
			return err
		}
		resp, err = call(api.MethodSendMessage, map[string]any{"contact": args[1], "text": strings.Join(args[2:], " ")})
		show = func(m map[string]any) {
			msg, _ := m["message"].(map[string]any)
			fmt.Printf("Sent (%v)\n", msg["id"])
		}
	case "add":
		if err := need(2, "add <name> <number>"); err != nil {
			return err
		}
		resp, err = call(api.MethodAddContact, map[string]any{"name": args[1], "number": args[2]})
		show = func(m map[string]any) {
			ct, _ := m["contact"].(map[string]any)
			fmt.Printf("Added %v (%v)\n", ct["name"], ct["number"])
		}
	case "rm":
		if err := need(1, "rm <number>"); err != nil {
			return err
		}
		resp, err = call(api.MethodRemoveContact, map[string]any{"number": args[1]})
		show = func(m map[string]any) {
			fmt.Println("Removed.")
			if n, _ := m["notice"].(string); n != "" {
				fmt.Println(n)
			}
		}
	case "archive", "unarchive", "favorite", "unfavorite":
		if err := need(1, args[0]+" <number>"); err != nil {
			return err
		}
		resp, err = call(api.MethodSetFolder, map[string]any{"number": args[1], "action": args[0]})
		show = func(map[string]any) { fmt.Println("OK") }
	case "refresh":
		req := map[string]any{}
		if len(args) > 1 {
			req["account"] = args[1]
		}
		resp, err = call(api.MethodRefresh, req)
		show = func(map[string]any) { fmt.Println("Refreshed.") }
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
	if err != nil {
		return err
	}
	if opts.json {
		outputJSON(resp)
		return nil
	}
	show(resp)
	return nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: inboxctl [--profile <name>] [--account <number>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                 Show daemon status")
	fmt.Fprintln(os.Stderr, "  login <email>          Log in (password is read from the terminal)")
	fmt.Fprintln(os.Stderr, "  logout                 Forget the stored token")
	fmt.Fprintln(os.Stderr, "  accounts               List owned numbers")
	fmt.Fprintln(os.Stderr, "  use <account>          Switch the active account")
	fmt.Fprintln(os.Stderr, "  contacts               List contacts (--folder, --search)")
	fmt.Fprintln(os.Stderr, "  open <number>          Open a thread and mark it read")
	fmt.Fprintln(os.Stderr, "  close                  Close the open thread")
	fmt.Fprintln(os.Stderr, "  thread [number]        Show a conversation")
	fmt.Fprintln(os.Stderr, "  send <number> <text>   Send a message")
	fmt.Fprintln(os.Stderr, "  add <name> <number>    Add a contact")
	fmt.Fprintln(os.Stderr, "  rm <number>            Delete a contact from this account")
	fmt.Fprintln(os.Stderr, "  archive|unarchive <number>")
	fmt.Fprintln(os.Stderr, "  favorite|unfavorite <number>")
	fmt.Fprintln(os.Stderr, "  refresh [account]      Reload from the server")
	fmt.Fprintln(os.Stderr, "  watch [prefix...]      Stream events")
	fmt.Fprintln(os.Stderr, "  profiles               List local profiles")
}

func printStatus(m map[string]any) {
	fmt.Printf("Profile:  %v\n", m["profile"])
	fmt.Printf("State:    %v\n", m["state"])
	fmt.Printf("Account:  %v\n", m["active_account"])
	fmt.Printf("Realtime: %v\n", m["realtime_connected"])
	fmt.Printf("Messages: %v  Contacts: %v\n", m["message_count"], m["contact_count"])
	fmt.Printf("Uptime:   %vs\n", m["uptime_seconds"])
	if d, _ := m["events_dropped"].(float64); d > 0 {
		fmt.Printf("Dropped:  %v events\n", d)
	}
	if n, _ := m["notice"].(string); n != "" {
		fmt.Printf("Notice:   %s\n", n)
	}
}

func printAccounts(m map[string]any) {
	accounts, _ := m["accounts"].([]any)
	if len(accounts) == 0 {
		fmt.Println("No accounts.")
		return
	}
	for _, a := range accounts {
		marker := " "
		if a == m["active"] {
			marker = "*"
		}
		fmt.Printf("%s %v\n", marker, a)
	}
}

func printContacts(m map[string]any) {
	contacts, _ := m["contacts"].([]any)
	if len(contacts) == 0 {
		fmt.Println("No contacts.")
		return
	}
	for _, v := range contacts {
		ct, _ := v.(map[string]any)
		marker := " "
		if ct["active"] == true {
			marker = ">"
		}
		unread := ""
		if n, _ := ct["unread"].(float64); n > 0 {
			unread = fmt.Sprintf(" (%d)", int(n))
		}
		fmt.Printf("%s %-24v %v%s\n", marker, ct["name"], ct["number"], unread)
	}
}

func printThread(m map[string]any) {
	msgs, _ := m["messages"].([]any)
	if len(msgs) == 0 {
		fmt.Println("No messages.")
		return
	}
	account := m["account"]
	for _, v := range msgs {
		msg, _ := v.(map[string]any)
		who := msg["from"]
		if who == account {
			who = "me"
		}
		fmt.Printf("[%v] %v: %v\n", msg["created_at"], who, msg["text"])
	}
}

func cmdWatch(c *client.Client, prefixes []string, opts options) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	w, err := c.Watch(ctx, prefixes...)
	if err != nil {
		fatal(err)
	}
	for {
		evt, err := w.Recv()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			fatal(err)
		}
		if opts.json {
			outputJSON(evt.AsMap())
			continue
		}
		printEvent(evt)
	}
}

func printEvent(evt *structpb.Struct) {
	f := evt.GetFields()
	payload, _ := json.Marshal(f["payload"].AsInterface())
	fmt.Printf("%s %-24s %s\n", f["timestamp"].GetStringValue(), f["kind"].GetStringValue(), payload)
}

// cmdProfiles lists profile directories and whether a daemon holds each one.
func cmdProfiles(jsonOut bool) {
	entries, err := os.ReadDir(filepath.Join(profile.BaseDir(), "profiles"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		fatal(err)
	}
	var out []map[string]any
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := map[string]any{"name": e.Name(), "path": profile.Dir(e.Name()), "running": false}
		if probeDaemon(profile.SocketPath(e.Name())) {
			p["running"] = true
			if h, err := lock.ReadHolder(profile.LockPath(e.Name())); err == nil {
				p["pid"] = h.PID
			}
		}
		out = append(out, p)
	}
	if jsonOut {
		outputJSON(out)
		return
	}
	if len(out) == 0 {
		fmt.Println("No profiles found.")
		return
	}
	for _, p := range out {
		state := "stopped"
		if p["running"] == true {
			state = fmt.Sprintf("running, pid %v", p["pid"])
		}
		fmt.Printf("%-20s %s (%s)\n", p["name"], p["path"], state)
	}
}

// probeDaemon checks if a daemon is running and responsive on the socket.
func probeDaemon(socketPath string) bool {
	if _, err := os.Stat(socketPath); err != nil {
		return false
	}
	c, err := client.New(socketPath)
	if err != nil {
		return false
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = c.Call(ctx, api.MethodStatus, nil)
	return err == nil
}

func startDaemon(profileName string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	inboxd := filepath.Join(filepath.Dir(executable), "inboxd")

	if _, err := os.Stat(inboxd); err != nil {
		inboxd = "inboxd"
	}

	cmd := exec.Command(inboxd, "--profile", profileName)
	// Inherit stderr so daemon startup errors are visible.
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

// waitForDaemon polls the daemon with a real gRPC call (not just socket connect).
func waitForDaemon(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if probeDaemon(socketPath) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}

func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return string(b), err
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

// fatal prints err and exits. Server messages are shown without the gRPC code.
func fatal(err error) {
	if st, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "error: %s\n", st.Message())
	} else {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(1)
}
