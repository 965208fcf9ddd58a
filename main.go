// Command boxen is a disposable-inbox message store. It ingests incoming
// messages into deduplicated MIME part trees and reconstructs them again
// for export, as single messages, mbox files or a full liberation
// archive.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/inboxen/boxen/config"
	"github.com/inboxen/boxen/export"
	"github.com/inboxen/boxen/ingest"
	"github.com/inboxen/boxen/mlog"
	"github.com/inboxen/boxen/store"
)

var commands = []struct {
	cmd string
	fn  func(c *cmd)
}{
	{"deliver", cmdDeliver},
	{"inbox add", cmdInboxAdd},
	{"inbox list", cmdInboxList},
	{"email list", cmdEmailList},
	{"email print", cmdEmailPrint},
	{"email flag", cmdEmailFlag},
	{"email delete", cmdEmailDelete},
	{"email searchtext", cmdEmailSearchtext},
	{"export mbox", cmdExportMbox},
	{"liberate", cmdLiberate},
	{"sweep", cmdSweep},
	{"config test", cmdConfigTest},
	{"config describe", cmdConfigDescribe},
	{"help", cmdHelp},
}

var cmds []cmd

func init() {
	for _, xc := range commands {
		cmds = append(cmds, cmd{words: strings.Split(xc.cmd, " "), fn: xc.fn})
	}
}

type cmd struct {
	words []string
	fn    func(c *cmd)

	// Set before calling command.
	flag     *flag.FlagSet
	flagArgs []string
	_gather  bool // Set when using Parse to gather usage for a command.

	// Set by invoked command or Parse.
	params string // Arguments to command.
	help   string // First line is the synopsis.
	args   []string

	log mlog.Log
}

func (c *cmd) Parse() []string {
	// To gather params and usage information, we run the command but cause
	// this panic once it has registered its flags and help text.
	if c._gather {
		panic("gather")
	}

	c.flag.Usage = c.Usage
	c.flag.Parse(c.flagArgs)
	c.args = c.flag.Args()
	return c.args
}

func (c *cmd) gather() {
	c.flag = flag.NewFlagSet("boxen "+strings.Join(c.words, " "), flag.ExitOnError)
	c._gather = true
	defer func() {
		x := recover()
		if x != "gather" {
			panic(x)
		}
	}()
	c.fn(c)
}

func (c *cmd) makeUsage() string {
	var r strings.Builder
	cs := "boxen " + strings.Join(c.words, " ")
	for i, line := range strings.Split(strings.TrimSpace(c.params), "\n") {
		s := ""
		if i == 0 {
			s = "usage:"
		}
		if line != "" {
			line = " " + line
		}
		fmt.Fprintf(&r, "%6s %s%s\n", s, cs, line)
	}
	c.flag.SetOutput(&r)
	c.flag.PrintDefaults()
	return r.String()
}

func (c *cmd) Usage() {
	fmt.Fprint(os.Stderr, c.makeUsage())
	if c.help != "" {
		fmt.Fprint(os.Stderr, "\n"+c.help+"\n")
	}
	os.Exit(2)
}

func cmdHelp(c *cmd) {
	c.params = "[command ...]"
	c.help = `Prints help about matching commands.`
	args := c.Parse()
	if len(args) == 0 {
		c.Usage()
	}

	prefix := func(l, pre []string) bool {
		return len(pre) <= len(l) && slices.Equal(pre, l[:len(pre)])
	}

	var partial []cmd
	for _, xc := range cmds {
		if slices.Equal(xc.words, args) {
			xc.gather()
			fmt.Print(xc.makeUsage())
			if xc.help != "" {
				fmt.Print("\n" + xc.help + "\n")
			}
			return
		} else if prefix(xc.words, args) {
			partial = append(partial, xc)
		}
	}
	if len(partial) == 0 {
		fmt.Fprintf(os.Stderr, "%s: unknown command\n", strings.Join(args, " "))
		os.Exit(2)
	}
	for _, xc := range partial {
		xc.gather()
		fmt.Printf("boxen %s\n", strings.Join(xc.words, " "))
		if xc.help != "" {
			fmt.Printf("\t%s\n", strings.Split(xc.help, "\n")[0])
		}
	}
}

func usage(l []cmd) {
	lines := []string{"boxen [-config boxen.conf] [-loglevel level] ..."}
	for _, c := range l {
		c.gather()
		for _, line := range strings.Split(c.params, "\n") {
			x := append([]string{"boxen"}, c.words...)
			if line != "" {
				x = append(x, line)
			}
			lines = append(lines, strings.Join(x, " "))
		}
	}
	for i, line := range lines {
		pre := "       "
		if i == 0 {
			pre = "usage: "
		}
		fmt.Fprintln(os.Stderr, pre+line)
	}
	os.Exit(2)
}

var configPath string
var loglevel string
var conf config.Config

func envString(k, def string) string {
	if s := os.Getenv(k); s != "" {
		return s
	}
	return def
}

// mustLoadConfig loads the config file, falling back to defaults when the
// default path does not exist and no explicit -config was given.
func mustLoadConfig() {
	c, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && configPath == defaultConfigPath {
			c = config.Defaults()
		} else {
			log.Fatalf("loading config: %v", err)
		}
	}
	conf = c

	ll := loglevel
	if ll == "" {
		ll = conf.LogLevel
	}
	if ll == "" {
		ll = "info"
	}
	if !mlog.SetLevel(ll) {
		log.Fatalf("unknown loglevel %q", ll)
	}
}

const defaultConfigPath = "boxen.conf"

func main() {
	log.SetFlags(0)

	flag.StringVar(&configPath, "config", envString("BOXENCONF", filepath.FromSlash(defaultConfigPath)), "configuration file, defaults to $BOXENCONF with a fallback to boxen.conf")
	flag.StringVar(&loglevel, "loglevel", "", "if non-empty, overrides the configured log level")

	flag.Usage = func() { usage(cmds) }
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage(cmds)
	}

	var partial []cmd
next:
	for _, c := range cmds {
		for i, w := range c.words {
			if i >= len(args) || w != args[i] {
				if i > 0 {
					partial = append(partial, c)
				}
				continue next
			}
		}
		c.flag = flag.NewFlagSet("boxen "+strings.Join(c.words, " "), flag.ExitOnError)
		c.flagArgs = args[len(c.words):]
		c.log = mlog.New(strings.Join(c.words, ""))
		c.fn(&c)
		return
	}
	if len(partial) > 0 {
		usage(partial)
	}
	usage(cmds)
}

func xcheckf(err error, format string, args ...any) {
	if err == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	log.Fatalf("%s: %s", msg, err)
}

func xopenStore(ctx context.Context) *store.Store {
	mustLoadConfig()
	err := conf.EnsureDataDir()
	xcheckf(err, "ensuring data directory")
	st, err := store.Open(ctx, conf.Database())
	xcheckf(err, "opening database")
	return st
}

func xparseAddress(s string) (localpart, domain string) {
	i := strings.LastIndex(s, "@")
	if i <= 0 || i == len(s)-1 {
		log.Fatalf("invalid address %q, need localpart@domain", s)
	}
	return s[:i], s[i+1:]
}

func xparseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	xcheckf(err, "parsing id %q", s)
	return id
}

func cmdDeliver(c *cmd) {
	c.params = "address"
	c.help = `Deliver a message read from stdin to the inbox for address.

The inbox is created if it does not exist yet. The message is parsed,
normalized and stored as a deduplicated part tree; the raw bytes are not
kept.`
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	localpart, domain := xparseAddress(args[0])

	ctx := context.Background()
	st := xopenStore(ctx)
	defer st.Close()

	ib, err := st.InboxEnsure(ctx, localpart, domain)
	xcheckf(err, "ensuring inbox")

	svc := ingest.NewService(st, nil)
	e, err := svc.Deliver(ctx, ib.ID, os.Stdin)
	xcheckf(err, "delivering message")
	fmt.Printf("delivered as email %d\n", e.ID)
}

func cmdInboxAdd(c *cmd) {
	c.params = "address"
	c.help = `Create an inbox for address.`
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	localpart, domain := xparseAddress(args[0])

	ctx := context.Background()
	st := xopenStore(ctx)
	defer st.Close()

	ib, err := st.InboxEnsure(ctx, localpart, domain)
	xcheckf(err, "creating inbox")
	fmt.Printf("inbox %d: %s\n", ib.ID, ib.Address())
}

func cmdInboxList(c *cmd) {
	c.help = `List all inboxes.`
	args := c.Parse()
	if len(args) != 0 {
		c.Usage()
	}

	ctx := context.Background()
	st := xopenStore(ctx)
	defer st.Close()

	inboxes, err := st.Inboxes(ctx)
	xcheckf(err, "listing inboxes")
	for _, ib := range inboxes {
		status := ""
		if ib.Deleted {
			status = " (deleted)"
		}
		fmt.Printf("%d\t%s\tcreated %s%s\n", ib.ID, ib.Address(), ib.Created.Format("2006-01-02"), status)
	}
}

func cmdEmailList(c *cmd) {
	c.params = "address"
	c.help = `List the emails of an inbox, most recent first.`
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	localpart, domain := xparseAddress(args[0])

	ctx := context.Background()
	st := xopenStore(ctx)
	defer st.Close()

	ib, err := st.InboxFind(ctx, localpart, domain)
	xcheckf(err, "looking up inbox")
	emails, err := st.InboxEmails(ctx, ib.ID)
	xcheckf(err, "listing emails")
	for _, e := range emails {
		var flags []string
		if e.Flags.Read {
			flags = append(flags, "read")
		}
		if e.Flags.Seen {
			flags = append(flags, "seen")
		}
		if e.Flags.Important {
			flags = append(flags, "important")
		}
		fmt.Printf("%d\t%s\t%s\n", e.ID, e.Received.Format("2006-01-02 15:04:05"), strings.Join(flags, ","))
	}
}

func cmdEmailPrint(c *cmd) {
	c.params = "emailid"
	c.help = `Reconstruct an email as a MIME message and print it to stdout.`
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	id := xparseID(args[0])

	ctx := context.Background()
	st := xopenStore(ctx)
	defer st.Close()

	r := export.NewReconstructor(st)
	m, err := r.Message(ctx, id)
	xcheckf(err, "reconstructing email")
	_, err = m.WriteTo(os.Stdout)
	xcheckf(err, "writing message")
}

func cmdEmailFlag(c *cmd) {
	c.params = "emailid flag on|off"
	c.help = `Set or clear an email flag: read, seen, important or deleted.`
	args := c.Parse()
	if len(args) != 3 {
		c.Usage()
	}
	id := xparseID(args[0])
	var on bool
	switch args[2] {
	case "on":
		on = true
	case "off":
	default:
		c.Usage()
	}

	ctx := context.Background()
	st := xopenStore(ctx)
	defer st.Close()

	_, err := st.UpdateFlags(ctx, id, func(f store.Flags) store.Flags {
		switch args[1] {
		case "read":
			f.Read = on
		case "seen":
			f.Seen = on
		case "important":
			f.Important = on
		case "deleted":
			f.Deleted = on
		default:
			log.Fatalf("unknown flag %q", args[1])
		}
		return f
	})
	xcheckf(err, "updating flags")
}

func cmdEmailDelete(c *cmd) {
	c.params = "emailid"
	c.help = `Delete an email and its part tree.

Shared body and header content is left behind for other emails; run
"boxen sweep" to reclaim unreferenced content.`
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	id := xparseID(args[0])

	ctx := context.Background()
	st := xopenStore(ctx)
	defer st.Close()

	err := st.DeleteEmail(ctx, id)
	xcheckf(err, "deleting email")
}

func cmdEmailSearchtext(c *cmd) {
	c.params = "emailid"
	c.help = `Print the search-index text of an email: its plain-text leaves, decoded.`
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	id := xparseID(args[0])

	ctx := context.Background()
	st := xopenStore(ctx)
	defer st.Close()

	text, err := st.SearchText(ctx, id)
	xcheckf(err, "extracting search text")
	fmt.Println(text)
}

func cmdExportMbox(c *cmd) {
	c.params = "address"
	c.help = `Write an inbox as an mbox file to stdout, oldest message first.`
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	localpart, domain := xparseAddress(args[0])

	ctx := context.Background()
	st := xopenStore(ctx)
	defer st.Close()

	ib, err := st.InboxFind(ctx, localpart, domain)
	xcheckf(err, "looking up inbox")
	r := export.NewReconstructor(st)
	err = r.WriteMbox(ctx, os.Stdout, ib)
	xcheckf(err, "writing mbox")
}

func cmdLiberate(c *cmd) {
	c.params = "[address ...]"
	c.help = `Write a liberation archive to stdout: a gzipped tar with one mbox per
inbox, a profile.json and an errors.txt for emails that could not be
reconstructed. Without addresses, all inboxes are included.`
	args := c.Parse()

	ctx := context.Background()
	st := xopenStore(ctx)
	defer st.Close()

	var inboxes []store.Inbox
	if len(args) == 0 {
		var err error
		inboxes, err = st.Inboxes(ctx)
		xcheckf(err, "listing inboxes")
	} else {
		for _, a := range args {
			localpart, domain := xparseAddress(a)
			ib, err := st.InboxFind(ctx, localpart, domain)
			xcheckf(err, "looking up inbox %q", a)
			inboxes = append(inboxes, ib)
		}
	}

	r := export.NewReconstructor(st)
	err := r.Liberate(ctx, os.Stdout, inboxes)
	xcheckf(err, "writing liberation archive")
}

func cmdSweep(c *cmd) {
	c.help = `Remove body and header content no email references anymore.`
	args := c.Parse()
	if len(args) != 0 {
		c.Usage()
	}

	ctx := context.Background()
	st := xopenStore(ctx)
	defer st.Close()

	stats, err := st.SweepOrphans(ctx)
	xcheckf(err, "sweeping orphans")
	fmt.Printf("removed %d bodies, %d header names, %d header values\n", stats.Bodies, stats.HeaderNames, stats.HeaderDatas)
}

func cmdConfigTest(c *cmd) {
	c.help = `Parse the config file and report any problems.`
	args := c.Parse()
	if len(args) != 0 {
		c.Usage()
	}
	_, err := config.Load(configPath)
	xcheckf(err, "checking config")
	fmt.Println("config OK")
}

func cmdConfigDescribe(c *cmd) {
	c.help = `Print an annotated example config file.`
	args := c.Parse()
	if len(args) != 0 {
		c.Usage()
	}
	err := config.Describe(os.Stdout)
	xcheckf(err, "describing config")
}
