package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/jrsteele09/go-session-guard/activity"
	"github.com/jrsteele09/go-session-guard/auth"
	"github.com/jrsteele09/go-session-guard/preferences"
	"github.com/jrsteele09/go-session-guard/sso"
)

const helpText = `commands:
  login <email> <password>    password login
  providers                   list configured SSO providers
  sso <provider> [email]      start an SSO login and print the authorization URL
  callback <url>              finish an SSO login with the URL the provider redirected to
  activity [kind]             record user activity (pointermove, keydown, ...)
  stay                        dismiss the inactivity warning
  status                      show the session state
  agents [id,id,...]          show or save the selected agents
  logout                      sign out
  clear                       remove the stored session without signing out siblings first
  quit                        close the tab
`

type shell struct {
	tab   *auth.Tab
	prefs *preferences.Store
	out   *syncWriter
}

// exec runs one command line. It reports whether the shell should exit.
func (s *shell) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		s.out.Printf("%s", helpText)
	case "quit", "exit":
		return true
	case "login":
		if len(args) != 2 {
			s.out.Printf("usage: login <email> <password>\n")
			return false
		}
		if _, err := s.tab.Login(ctx, args[0], args[1]); err != nil {
			s.out.Printf("login failed: %v\n", err)
		}
	case "providers":
		s.out.Printf("%s\n", strings.Join(s.tab.SSOProviders(), " "))
	case "sso":
		s.sso(ctx, args)
	case "callback":
		s.callback(ctx, args)
	case "activity":
		kind := activity.Manual
		if len(args) == 1 {
			parsed, ok := activity.ParseEventKind(args[0])
			if !ok {
				s.out.Printf("unknown activity %q\n", args[0])
				return false
			}
			kind = parsed
		}
		s.tab.RecordActivity(kind)
	case "stay":
		if !s.tab.StaySignedIn() {
			s.out.Printf("no active session\n")
		}
	case "status":
		s.status()
	case "agents":
		s.agents(args)
	case "logout":
		s.tab.Logout(auth.ReasonUser)
	case "clear":
		if err := s.tab.ClearSessionData(); err != nil {
			s.out.Printf("clear failed: %v\n", err)
		}
	default:
		s.out.Printf("unknown command %q, type 'help'\n", cmd)
	}
	return false
}

func (s *shell) sso(ctx context.Context, args []string) {
	if len(args) < 1 {
		s.out.Printf("usage: sso <provider> [email]\n")
		return
	}
	authURL, err := s.tab.InitiateSSOLogin(ctx, args[0])
	if err != nil {
		s.out.Printf("%s\n", sso.UserMessage(err))
		return
	}
	if len(args) == 2 {
		if u, err := url.Parse(authURL); err == nil {
			q := u.Query()
			q.Set("login_hint", args[1])
			u.RawQuery = q.Encode()
			authURL = u.String()
		}
	}
	s.out.Printf("open %s\n", authURL)
}

func (s *shell) callback(ctx context.Context, args []string) {
	if len(args) != 1 {
		s.out.Printf("usage: callback <url>\n")
		return
	}
	u, err := url.Parse(args[0])
	if err != nil {
		s.out.Printf("invalid url: %v\n", err)
		return
	}
	q := u.Query()
	_, err = s.tab.HandleSSOCallback(ctx, sso.CallbackParams{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})
	if err != nil {
		s.out.Printf("%s\n", sso.UserMessage(err))
	}
}

func (s *shell) status() {
	identity, signedIn := s.tab.CurrentUser()
	if !signedIn || !s.tab.IsSessionValid() {
		s.out.Printf("signed out\n")
		return
	}
	session, _ := s.tab.Session()
	s.out.Printf("user:          %s <%s>\n", identity.Name, identity.Email)
	s.out.Printf("session:       %s\n", session.ID)
	s.out.Printf("expires:       %s\n", session.ExpiresAt.Format("2006-01-02 15:04:05"))
	s.out.Printf("last activity: %s\n", s.tab.LastActivity().Format("15:04:05"))
	if deadline, ok := s.tab.InactivityDeadline(); ok {
		s.out.Printf("idle deadline: %s\n", deadline.Format("15:04:05"))
	}
	if prompt := s.tab.WarningPrompt(); prompt.Visible {
		s.out.Printf("warning:       %ds remaining\n", prompt.RemainingSeconds)
	}
}

func (s *shell) agents(args []string) {
	identity, ok := s.tab.CurrentUser()
	if !ok {
		s.out.Printf("signed out\n")
		return
	}
	if len(args) == 0 {
		agents, err := s.prefs.SelectedAgents(identity.UserID)
		if err != nil {
			s.out.Printf("read failed: %v\n", err)
			return
		}
		s.out.Printf("%v\n", agents)
		return
	}
	var agents []int
	for _, part := range strings.Split(args[0], ",") {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			s.out.Printf("invalid agent id %q\n", part)
			return
		}
		agents = append(agents, id)
	}
	if err := s.prefs.SaveSelectedAgents(identity.UserID, agents); err != nil {
		s.out.Printf("save failed: %v\n", err)
	}
}

// lineSource turns every line typed into the terminal into a keydown event
type lineSource struct {
	events chan activity.Event
	once   sync.Once
}

func newLineSource() *lineSource {
	return &lineSource{events: make(chan activity.Event, 16)}
}

func (l *lineSource) Events() <-chan activity.Event { return l.events }

func (l *lineSource) keyDown() {
	select {
	case l.events <- activity.Event{Kind: activity.KeyDown}:
	default:
	}
}

func (l *lineSource) close() {
	l.once.Do(func() { close(l.events) })
}

// syncWriter serialises output from the shell and the tab's callbacks
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, args...)
}
