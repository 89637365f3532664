// Command sessionctl opens one tab of the session manager in a terminal.
// Tabs started against the same --dir share their storage, so several
// sessionctl processes behave like several tabs of one browser.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-session-guard/auth"
	"github.com/jrsteele09/go-session-guard/broadcast"
	"github.com/jrsteele09/go-session-guard/inactivity"
	"github.com/jrsteele09/go-session-guard/internal/clock"
	"github.com/jrsteele09/go-session-guard/internal/config"
	"github.com/jrsteele09/go-session-guard/internal/logging"
	"github.com/jrsteele09/go-session-guard/preferences"
	"github.com/jrsteele09/go-session-guard/sso"
	"github.com/jrsteele09/go-session-guard/storage/filestore"
	"github.com/jrsteele09/go-session-guard/users"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	c := config.New()

	dir := pflag.StringP("dir", "d", c.GetStorageDir(), "storage directory shared by all tabs")
	name := pflag.StringP("name", "n", "", "tab name used in logs (default random)")
	endpoint := pflag.StringP("identity", "i", c.GetIdentityEndpoint(), "identity backend base URL")
	quiet := pflag.BoolP("quiet", "q", false, "skip the banner")
	pflag.Parse()

	logging.Setup(c.GetEnv(), c.GetLogLevel())
	if !*quiet {
		displayAppname(c.GetAppName())
	}

	if err := run(c, *dir, *name, strings.TrimRight(*endpoint, "/")); err != nil {
		log.Fatal().Err(err).Msg("sessionctl failed")
	}
}

func run(c config.Config, dir, name, endpoint string) error {
	if name == "" {
		name = "tab-" + uuid.NewString()[:8]
	}

	kv, err := filestore.Open(dir)
	if err != nil {
		return err
	}
	defer kv.Close()

	clk := clock.Real()
	bc := broadcast.NewStorageBroadcaster(kv, name, clk)
	defer bc.Close()

	out := &syncWriter{w: os.Stdout}
	source := newLineSource()
	tab, err := auth.NewTab(auth.Deps{
		Store:       kv,
		Broadcaster: bc,
		Exchanger:   sso.NewHTTPExchanger(endpoint+"/auth/sso", nil),
		Passwords:   auth.NewHTTPPasswordAuthenticator(endpoint+"/auth/login", nil),
		Activity:    source,
		Gateway: auth.GatewayFuncs{
			LogoutFunc: func(reason auth.LogoutReason) { out.Printf("signed out (%s)\n", reason) },
			LoginFunc:  func(identity users.Identity) { out.Printf("signed in as %s <%s>\n", identity.Name, identity.Email) },
		},
	},
		auth.WithName(name),
		auth.WithClock(clk),
		auth.WithSettings(auth.SettingsFromConfig(c)),
		auth.WithProviders(sso.ProvidersFromConfig(c)),
	)
	if err != nil {
		return err
	}
	defer tab.Close()

	unsubscribe := tab.OnWarning(func(ws inactivity.WarningState) {
		if ws.Visible {
			out.Printf("you will be signed out in %ds, type 'stay' to remain signed in\n", ws.RemainingSeconds)
		}
	})
	defer unsubscribe()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := tab.Start(ctx); err != nil {
		return err
	}
	if identity, ok := tab.CurrentUser(); ok {
		out.Printf("restored session for %s\n", identity.Email)
	}

	sh := &shell{tab: tab, prefs: preferences.New(kv), out: out}
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	out.Printf("%s ready, type 'help' for commands\n", name)
	for {
		select {
		case <-ctx.Done():
			source.close()
			return nil
		case line, ok := <-lines:
			if !ok {
				source.close()
				return nil
			}
			source.keyDown()
			if quit := sh.exec(ctx, line); quit {
				source.close()
				return nil
			}
		}
	}
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
