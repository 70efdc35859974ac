package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/sia-project/analyst/internal/auth"
	"github.com/sia-project/analyst/internal/chat"
	"github.com/sia-project/analyst/internal/documents"
)

const shellHelp = `Commands:
  list                 refresh and show your documents
  upload <path>        upload a .pdf or .txt file
  delete <id>          delete a document
  open <id>            ask questions about a document (/back to return)
  whoami               show the signed-in account
  logout               sign out and leave
  help                 show this help
  quit                 leave without signing out`

const deleteWarning = "This will permanently delete the document and all associated analysis history."

// watchBanner prints the store's banner whenever it changes.
func watchBanner(store *documents.Store) {
	var (
		mu   sync.Mutex
		last documents.Status
	)
	store.Watch(func() {
		st := store.Status()
		mu.Lock()
		defer mu.Unlock()
		if st.Message != "" && st.Message != last.Message {
			printStep("%s", st.Message)
		}
		if st.Error != "" && st.Error != last.Error {
			printError("%s", st.Error)
		}
		last = st
	})
}

func renderDocuments(out io.Writer, docs []documents.Document) {
	if len(docs) == 0 {
		fmt.Fprintln(out, "You haven't uploaded any documents yet.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILE\tUPLOADED ON")
	for _, d := range docs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.ID, d.FileName, d.UploadedAt.Local().Format("2006-01-02"))
	}
	tw.Flush()
}

func confirm(in *bufio.Reader, out io.Writer, question string) bool {
	answer, err := readLine(in, out, question+" [y/N] ")
	if err != nil {
		return false
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes"
}

// runShell is the dashboard: it loads the list once, then reads commands
// until quit, logout, end of input, or the session ends.
func runShell(ctx context.Context, c *client, in *bufio.Reader, out io.Writer) error {
	id, err := c.app.Guard(ctx)
	if err != nil {
		return err
	}
	store := c.app.Documents()
	watchBanner(store)

	var (
		mu        sync.Mutex
		signedOut bool
	)
	c.session.Watch(func(st auth.State) {
		mu.Lock()
		signedOut = !st.Loading && st.User == nil
		mu.Unlock()
	})
	ended := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return signedOut
	}

	fmt.Fprintf(out, "Strategic Insight Analyst, signed in as %s. Type 'help' for commands.\n", id.Email())
	if err := store.FetchAll(ctx); err == nil {
		renderDocuments(out, store.Documents())
	}

	for !ended() {
		line, err := readLine(in, out, "analyst> ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)

		switch cmd {
		case "":
		case "help", "?":
			fmt.Fprintln(out, shellHelp)
		case "list", "ls":
			if err := store.FetchAll(ctx); err == nil {
				renderDocuments(out, store.Documents())
			}
		case "upload":
			if arg == "" {
				printError("usage: upload <path>")
				continue
			}
			f, err := documents.OpenFile(arg)
			if err != nil {
				printError("%v", err)
				continue
			}
			if err := store.Upload(ctx, f); err == nil {
				renderDocuments(out, store.Documents())
			}
		case "delete", "rm":
			if arg == "" {
				printError("usage: delete <id>")
				continue
			}
			if !confirm(in, out, deleteWarning+" Continue?") {
				continue
			}
			if err := store.Delete(ctx, arg); err == nil {
				printSuccess("Deleted %s", arg)
			}
			renderDocuments(out, store.Documents())
		case "open", "analyze":
			if arg == "" {
				printError("usage: open <id>")
				continue
			}
			if err := chatLoop(ctx, c.app.Chat(arg), in, out); err != nil {
				return err
			}
		case "whoami":
			printStatus("Email", "%s", id.Email())
			printStatus("UID", "%s", id.UID())
		case "logout":
			if err := c.session.SignOut(ctx); err != nil {
				return fmt.Errorf("signing out: %w", err)
			}
		case "quit", "exit":
			return nil
		default:
			printWarning("unknown command %q, type 'help'", cmd)
		}
	}
	printSuccess("Signed out")
	return nil
}

// chatLoop sends each line as a question and prints replies as the
// transcript grows. /back or end of input returns.
func chatLoop(ctx context.Context, session *chat.Session, in *bufio.Reader, out io.Writer) error {
	fmt.Fprintf(out, "Analyze Document %s. Ask a question, or /back to return.\n", session.DocumentID())

	var (
		mu      sync.Mutex
		printed int
		busy    bool
	)
	session.Watch(func(s chat.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if s.Sending && !busy {
			printStep("Thinking...")
		}
		busy = s.Sending
		for _, m := range s.Messages[printed:] {
			if m.Kind == chat.AI {
				fmt.Fprintf(out, "%s %s\n", colorize(green, "ai:"), m.Content)
			}
		}
		printed = len(s.Messages)
	})

	for {
		line, err := readLine(in, out, "you> ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch line {
		case "/back", "/quit":
			return nil
		case "":
			continue
		}
		session.SetDraft(line)
		session.SubmitDraft(ctx)
	}
}
