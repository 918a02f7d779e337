package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/pilot-net/edos-console/console/internal/client"
	"github.com/pilot-net/edos-console/console/internal/notify"
	"github.com/pilot-net/edos-console/pkg/types"
)

// errQuit ends Run without error.
var errQuit = errors.New("quit")

const helpText = `commands:
  v        view the alert behind the current toast
  l [level] [unread|read|all]
           list alerts (default: unread, any level)
  r <id>   mark one alert read
  m        mark all alerts read
  s        toggle alert sound
  w        show the signed-in user
  i        sign in
  o        sign out
  t        show status and alert counts
  q        quit`

// runCommands reads one command per line. End of input leaves the console
// running without a keyboard.
func (c *Console) runCommands(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				c.logger.Debug("command input closed")
				<-ctx.Done()
				return ctx.Err()
			}
			if err := c.execute(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return err
				}
				pterm.Error.WithWriter(c.out).Println(err.Error())
			}
		}
	}
}

// execute runs a single command line.
func (c *Console) execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "v", "view":
		if err := c.dispatcher.Select(ctx, ""); err != nil {
			if errors.Is(err, notify.ErrNoToast) {
				c.info("no alert to view")
				return nil
			}
			return err
		}

	case "l", "list":
		filter, err := parseFilter(fields[1:])
		if err != nil {
			return err
		}
		filter.Limit = c.cfg.Poller.Limit
		alerts, err := c.client.FindAlerts(ctx, filter)
		if err != nil {
			return fmt.Errorf("listing alerts: %w", err)
		}
		return c.printAlerts(alerts, filter)

	case "r", "read":
		if len(fields) < 2 {
			return fmt.Errorf("usage: r <alert id>")
		}
		if err := c.client.MarkRead(ctx, fields[1]); err != nil {
			return fmt.Errorf("marking alert read: %w", err)
		}
		c.info("marked %s read", fields[1])

	case "m", "mark":
		if err := c.client.MarkAllRead(ctx); err != nil {
			return fmt.Errorf("marking alerts read: %w", err)
		}
		c.dispatcher.DismissAll()
		c.info("all alerts marked read")

	case "s", "sound":
		enabled, err := c.prefs.Toggle(ctx)
		if err != nil {
			return fmt.Errorf("saving sound preference: %w", err)
		}
		c.info("sound %s", onOff(enabled))

	case "w", "whoami":
		user, err := c.client.Me(ctx)
		if err != nil {
			return fmt.Errorf("fetching user: %w", err)
		}
		c.info("signed in as %s <%s>", user.Name, user.Email)

	case "i", "login":
		if c.login == nil {
			return fmt.Errorf("no login source configured")
		}
		if err := c.signIn(ctx); err != nil {
			return fmt.Errorf("sign-in failed: %w", err)
		}
		c.info("signed in")

	case "o", "logout":
		if err := c.client.Logout(ctx); err != nil {
			return fmt.Errorf("signing out: %w", err)
		}
		c.dispatcher.DismissAll()
		c.info("signed out")

	case "t", "status":
		if err := c.printStats(); err != nil {
			return err
		}
		stats, err := c.client.AlertStats(ctx)
		if err != nil {
			return fmt.Errorf("fetching alert stats: %w", err)
		}
		return c.printAlertStats(stats)

	case "q", "quit", "exit":
		return errQuit

	case "h", "help", "?":
		fmt.Fprintln(c.out, helpText)

	default:
		return fmt.Errorf("unknown command %q (h for help)", fields[0])
	}
	return nil
}

// parseFilter reads "l" arguments in any order.
func parseFilter(args []string) (client.AlertFilter, error) {
	unread := false
	filter := client.AlertFilter{Read: &unread}
	for _, arg := range args {
		switch strings.ToLower(arg) {
		case "all":
			filter.Read = nil
		case "read":
			read := true
			filter.Read = &read
		case "unread":
			filter.Read = &unread
		default:
			level, err := types.ParseLevel(arg)
			if err != nil {
				return client.AlertFilter{}, fmt.Errorf("usage: l [level] [unread|read|all]: %w", err)
			}
			filter.Level = level
		}
	}
	return filter, nil
}

// printAlerts renders the alerts passing filter as a table. The filter is
// applied locally too in case the backend ignores it.
func (c *Console) printAlerts(alerts []types.Alert, filter client.AlertFilter) error {
	data := pterm.TableData{{"ID", "Level", "Title", "Source", "Time", "Read"}}
	for _, a := range alerts {
		if !filter.Match(a) {
			continue
		}
		data = append(data, []string{a.ID, a.Level, a.Title, a.Source, a.Timestamp, yesNo(a.Read)})
	}
	if len(data) == 1 {
		c.info("no matching alerts")
		return nil
	}

	table, err := pterm.DefaultTable.WithHasHeader(true).WithData(data).Srender()
	if err != nil {
		return fmt.Errorf("rendering table: %w", err)
	}
	fmt.Fprintln(c.out, table)
	return nil
}

func (c *Console) printAlertStats(s *types.AlertStats) error {
	data := pterm.TableData{
		{"total alerts", strconv.Itoa(s.TotalAlerts)},
		{"unread", strconv.Itoa(s.UnreadAlerts)},
		{"last 24h", strconv.Itoa(s.RecentAlerts24h)},
	}
	for _, level := range []types.Level{types.LevelCritical, types.LevelHigh, types.LevelMedium, types.LevelLow} {
		data = append(data, []string{strings.ToLower(string(level)), strconv.Itoa(s.Count(level))})
	}
	table, err := pterm.DefaultTable.WithData(data).Srender()
	if err != nil {
		return fmt.Errorf("rendering table: %w", err)
	}
	fmt.Fprintln(c.out, table)
	return nil
}

func (c *Console) printStats() error {
	s := c.Stats()
	data := pterm.TableData{
		{"uptime", s.Uptime.Round(time.Second).String()},
		{"sound", onOff(s.SoundEnabled)},
		{"refresh state", s.Refresh.State},
		{"renewals", fmt.Sprint(s.Refresh.Renewals)},
		{"renewal failures", fmt.Sprint(s.Refresh.Failures)},
		{"polls", fmt.Sprint(s.Poller.Polls)},
		{"poll failures", fmt.Sprint(s.Poller.Failures)},
		{"notifications", fmt.Sprint(s.Poller.Notifications)},
	}
	table, err := pterm.DefaultTable.WithData(data).Srender()
	if err != nil {
		return fmt.Errorf("rendering table: %w", err)
	}
	fmt.Fprintln(c.out, table)
	return nil
}

func (c *Console) info(format string, args ...any) {
	pterm.Info.WithWriter(c.out).Printfln(format, args...)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
