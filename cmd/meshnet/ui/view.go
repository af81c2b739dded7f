package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"meshnet/internal/console"
	"meshnet/internal/failure"
	"meshnet/internal/node"
)

// View renders the operator menu on w.
type View struct {
	w io.Writer
}

var _ console.View = (*View)(nil)

func NewView(w io.Writer) *View {
	return &View{w: w}
}

func (v *View) Menu(items []console.MenuItem) {
	var sb strings.Builder
	sb.WriteString("\n" + TitleStyle.Render("meshnet") + "\n")
	for _, item := range items {
		sb.WriteString("  " + Accent(item.Key) + "  " + item.Action.String() + "\n")
	}
	fmt.Fprint(v.w, sb.String())
}

func (v *View) Info(msg string)    { fmt.Fprintln(v.w, InfoMsg("%s", msg)) }
func (v *View) Success(msg string) { fmt.Fprintln(v.w, SuccessMsg("%s", msg)) }

func (v *View) Error(err error) {
	fmt.Fprintln(v.w, ErrorMsg("%v", err))
	if hint := failure.HintOf(err); hint != "" {
		fmt.Fprintln(v.w, "  "+Muted(hint))
	}
}

func (v *View) Status(listing string, nodes []node.Record) {
	if s := strings.TrimSpace(listing); s != "" {
		fmt.Fprintln(v.w, Bold("Services"))
		fmt.Fprintln(v.w, s)
	}
	if len(nodes) == 0 {
		fmt.Fprintln(v.w, Muted("no nodes launched yet"))
		return
	}
	rows := make([][]string, 0, len(nodes))
	for _, n := range nodes {
		rows = append(rows, []string{
			n.Name,
			string(n.Role),
			n.TunAddress,
			n.Server,
			n.LaunchedAt.Local().Format(time.DateTime),
		})
	}
	fmt.Fprintln(v.w, Bold("Nodes"))
	fmt.Fprintln(v.w, Table([]string{"NAME", "ROLE", "TUNNEL", "SERVER", "LAUNCHED"}, rows))
}
