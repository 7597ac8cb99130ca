package node

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/template"
	"github.com/fatih/color"
	colorable "github.com/mattn/go-colorable"

	"github.com/filemesh/filemesh/pkg/overlay/types"
)

// Shell is the interactive leaf CLI from spec §6: "print", "register",
// "deregister", "search", "refresh", "exit". Output is colorized the way
// a terminal-facing CLI tool in this corpus does it: success in green,
// failure in red, informational text uncolored, routed through
// go-colorable so the same color codes render correctly on Windows
// terminals as well as real ttys.
type Shell struct {
	node *LeafNode
	out  io.Writer
	in   *bufio.Scanner

	ok   *color.Color
	fail *color.Color
}

// NewShell builds a shell reading commands from in and writing output
// (colorized) to stdout.
func NewShell(node *LeafNode, in io.Reader) *Shell {
	return &Shell{
		node: node,
		out:  colorable.NewColorableStdout(),
		in:   bufio.NewScanner(in),
		ok:   color.New(color.FgGreen),
		fail: color.New(color.FgRed),
	}
}

// Run drives the read-eval-print loop until "exit" or EOF. It returns the
// process exit code per spec §6: 0 on normal shutdown, non-zero on an
// unhandled I/O failure.
func (s *Shell) Run() int {
	for {
		fmt.Fprint(s.out, "> ")
		if !s.in.Scan() {
			if err := s.in.Err(); err != nil {
				fmt.Fprintf(s.out, "%s\n", s.fail.Sprintf("shell read failed: %v", err))
				return 1
			}
			return 0
		}
		line := strings.TrimSpace(s.in.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd := fields[0]
		var arg string
		if len(fields) > 1 {
			arg = fields[1]
		}

		switch cmd {
		case "exit":
			return 0
		case "print":
			s.doPrint()
		case "register":
			s.doRegisterDeregister(arg, true)
		case "deregister":
			s.doRegisterDeregister(arg, false)
		case "search":
			s.doSearch(arg)
		case "refresh":
			s.doRefresh(arg)
		default:
			fmt.Fprintf(s.out, "%s\n", s.fail.Sprintf("unrecognized command %q", cmd))
		}
	}
}

const printTemplate = `node:      {{.Address}}
owned:     {{.OwnedDir}}
downloads: {{.DownloadsDir}}
ttl:       {{.TTL}}
pull:      {{.Pull}}{{if .Pull}}
ttr:       {{.TTR}}m{{end}}
registry:
{{range .Entries}}  {{.Name}}  origin={{.Origin}}  v={{.Version}}  valid={{.Valid}}
{{end}}`

type printView struct {
	Address      string
	OwnedDir     string
	DownloadsDir string
	TTL          int
	Pull         bool
	TTR          int
	Entries      []printEntry
}

type printEntry struct {
	Name    string
	Origin  string
	Version uint64
	Valid   bool
}

func (s *Shell) doPrint() {
	l := s.node.Leaf
	view := printView{
		Address:      l.Self.String(),
		OwnedDir:     l.OwnedDir(),
		DownloadsDir: l.DownloadsDir(),
		TTL:          l.TTL,
		Pull:         l.Model.Pull,
		TTR:          l.Model.TTR,
	}
	for _, fi := range l.Registry().Snapshot() {
		view.Entries = append(view.Entries, printEntry{
			Name: fi.Name, Origin: fi.Origin.String(), Version: fi.Version, Valid: fi.Valid,
		})
	}
	tmpl := template.Must(template.New("print").Parse(printTemplate))
	if err := tmpl.Execute(s.out, view); err != nil {
		fmt.Fprintf(s.out, "%s\n", s.fail.Sprintf("print failed: %v", err))
	}
}

func (s *Shell) doRegisterDeregister(name string, register bool) {
	if name == "" {
		fmt.Fprintf(s.out, "%s\n", s.fail.Sprint("usage: register|deregister <name>"))
		return
	}
	l := s.node.Leaf
	if register {
		status, err := l.Register(types.NewOwnedFileInfo(name, l.Self))
		s.reportStatus("register", name, status, err)
		return
	}
	fi, hadEntry := l.Registry().Get(name)
	status, err := l.Deregister(name)
	s.reportStatus("deregister", name, status, err)
	if err == nil && status == 0 && hadEntry && !l.Model.Pull && fi.IsOriginatedBy(l.Self) {
		_ = l.Invalidate(fi)
	}
}

func (s *Shell) reportStatus(verb, name string, status int, err error) {
	if err != nil {
		fmt.Fprintf(s.out, "%s\n", s.fail.Sprintf("%s %s failed: %v", verb, name, err))
		return
	}
	if status == 0 {
		fmt.Fprintf(s.out, "%s\n", s.ok.Sprintf("%s %s ok", verb, name))
		return
	}
	fmt.Fprintf(s.out, "%s\n", s.fail.Sprintf("%s %s rejected, status=%d", verb, name, status))
}

func (s *Shell) doSearch(name string) {
	if name == "" {
		fmt.Fprintf(s.out, "%s\n", s.fail.Sprint("usage: search <name>"))
		return
	}
	if err := s.node.Leaf.Search(name); err != nil {
		fmt.Fprintf(s.out, "%s\n", s.fail.Sprintf("search %s failed: %v", name, err))
		return
	}
	fmt.Fprintf(s.out, "%s\n", s.ok.Sprintf("search %s sent", name))
}

func (s *Shell) doRefresh(name string) {
	if name == "" {
		fmt.Fprintf(s.out, "%s\n", s.fail.Sprint("usage: refresh <name>"))
		return
	}
	if !s.node.Leaf.Model.Pull {
		fmt.Fprintf(s.out, "%s\n", s.fail.Sprint("refresh is only meaningful under the pull model"))
		return
	}
	if err := s.node.Leaf.Refresh(name); err != nil {
		fmt.Fprintf(s.out, "%s\n", s.fail.Sprintf("refresh %s failed: %v", name, err))
		return
	}
	fmt.Fprintf(s.out, "%s\n", s.ok.Sprintf("refresh %s sent", name))
}
