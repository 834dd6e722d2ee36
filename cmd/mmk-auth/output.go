package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	domainauth "github.com/target/mmk-auth/internal/domain/auth"
	"github.com/target/mmk-auth/internal/events"
	"github.com/target/mmk-auth/internal/observability/statsd"
)

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func writeln(w io.Writer, args ...any) error {
	_, err := fmt.Fprintln(w, args...)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// maskToken keeps the first and last four characters of long tokens.
func maskToken(tok string) string {
	switch {
	case tok == "":
		return ""
	case len(tok) <= 12:
		return strings.Repeat("*", len(tok))
	default:
		return tok[:4] + "..." + tok[len(tok)-4:]
	}
}

func toSessionState(st domainauth.AuthState) sessionState {
	out := sessionState{
		State:   st.State,
		Method:  st.Method,
		Access:  maskToken(st.AccessToken),
		Refresh: st.RefreshToken != "",
		Error:   st.Error,
	}
	if st.User != nil {
		out.Email = st.User.Email
		out.UserID = st.User.ID
	}
	if !st.ExpiresAt.IsZero() {
		out.ExpiresAt = st.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return out
}

func printState(w io.Writer, st domainauth.AuthState, asJSON bool) error {
	view := toSessionState(st)
	if asJSON {
		return writeJSON(w, view)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := [][2]string{{"State", string(view.State)}}
	if view.Email != "" {
		rows = append(rows, [2]string{"User", fmt.Sprintf("%s (%s)", view.Email, view.UserID)})
	}
	if view.Method != "" {
		rows = append(rows, [2]string{"Method", string(view.Method)})
	}
	if view.Access != "" {
		rows = append(rows, [2]string{"Access token", view.Access})
		rows = append(rows, [2]string{"Refresh token", fmt.Sprintf("%t", view.Refresh)})
	}
	if view.ExpiresAt != "" {
		rows = append(rows, [2]string{"Expires", view.ExpiresAt})
	}
	if view.Error != "" {
		rows = append(rows, [2]string{"Error", view.Error})
	}
	for _, r := range rows {
		if err := writef(tw, "%s:\t%s\n", r[0], r[1]); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func printCheckUser(w io.Writer, email string, res domainauth.CheckUserResult) error {
	if !res.Exists {
		return writef(w, "%s: no account\n", email)
	}
	passkey := "no passkey"
	if res.HasPasskey {
		passkey = "passkey registered"
	}
	return writef(w, "%s: account %s, %s\n", email, res.UserID, passkey)
}

type eventPrinter struct {
	out  io.Writer
	json bool
}

type eventView struct {
	Event  events.Name           `json:"event"`
	At     string                `json:"at"`
	Method domainauth.AuthMethod `json:"method,omitempty"`
	Email  string                `json:"email,omitempty"`
	Error  string                `json:"error,omitempty"`
	Data   map[string]any        `json:"data,omitempty"`
}

func (p *eventPrinter) print(ev events.Event) {
	view := eventView{
		Event:  ev.Name,
		At:     ev.At.UTC().Format(time.RFC3339),
		Method: ev.Method,
		Error:  ev.Error,
		Data:   ev.Data,
	}
	if ev.User != nil {
		view.Email = ev.User.Email
	}
	if p.json {
		_ = json.NewEncoder(p.out).Encode(view)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", view.At, view.Event)
	if view.Method != "" {
		fmt.Fprintf(&b, " method=%s", view.Method)
	}
	if view.Email != "" {
		fmt.Fprintf(&b, " user=%s", view.Email)
	}
	if view.Error != "" {
		fmt.Fprintf(&b, " error=%q", view.Error)
	}
	keys := make([]string, 0, len(view.Data))
	for k := range view.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, view.Data[k])
	}
	_ = writeln(p.out, b.String())
}

func printMetrics(w io.Writer, rec *statsd.Recorder) error {
	lines := rec.Lines()
	if len(lines) == 0 {
		return nil
	}
	if err := writeln(w, "# metrics"); err != nil {
		return err
	}
	for _, l := range lines {
		if err := writeln(w, l); err != nil {
			return err
		}
	}
	return nil
}
