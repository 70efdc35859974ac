package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sia-project/analyst/internal/chat"
	"github.com/sia-project/analyst/internal/documents"
	"github.com/sia-project/analyst/internal/gateway"
)

// --- login / signup / whoami / shell ---

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and open the interactive dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		return authenticate(cmd, false)
	},
}

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account and open the interactive dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		return authenticate(cmd, true)
	},
}

// authenticate is the login form: it prompts for whatever the flags and
// environment did not supply, then hands over to the shell.
func authenticate(cmd *cobra.Command, signUp bool) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.cfg.RequireIdentity(); err != nil {
		printWarning("%v", err)
	}

	in := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	email := emailFor(cmd)
	if email == "" {
		if email, err = readLine(in, out, "Email: "); err != nil {
			return fmt.Errorf("reading email: %w", err)
		}
	}
	password := envPassword()
	if password == "" {
		if password, err = readLine(in, out, "Password: "); err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
	}

	ctx := cmd.Context()
	if signUp {
		_, err = c.session.SignUp(ctx, email, password)
	} else {
		_, err = c.session.SignIn(ctx, email, password)
	}
	if err != nil {
		return authFailure(err)
	}
	if signUp {
		printSuccess("Account created for %s", email)
	} else {
		printSuccess("Signed in as %s", email)
	}
	return runShell(ctx, c, in, out)
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in account",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := protected(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		id := c.session.Current()
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id.UID(), id.Email())
		return nil
	},
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Open the interactive dashboard using credentials from the environment",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := protected(cmd)
		if err != nil {
			return err
		}
		defer c.Close()
		return runShell(cmd.Context(), c, bufio.NewReader(cmd.InOrStdin()), cmd.OutOrStdout())
	},
}

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List, upload or delete documents",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your documents, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := protected(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		docs, err := c.app.Dashboard(cmd.Context())
		if err != nil {
			if msg := c.app.Documents().Status().Error; msg != "" {
				return errors.New(msg)
			}
			return err
		}
		renderDocuments(cmd.OutOrStdout(), docs)
		return nil
	},
}

var docsUploadCmd = &cobra.Command{
	Use:   "upload <path>...",
	Short: "Upload .pdf or .txt files (10 MB each at most)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files := make([]*documents.File, 0, len(args))
		for _, path := range args {
			f, err := documents.OpenFile(path)
			if err != nil {
				return err
			}
			files = append(files, f)
		}

		c, err := protected(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		store := c.app.Documents()
		watchBanner(store)
		failed := 0
		for _, f := range files {
			if err := store.Upload(cmd.Context(), f); err != nil {
				failed++
				continue
			}
			printSuccess("Uploaded %s", f.Name)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d uploads failed", failed, len(files))
		}
		renderDocuments(cmd.OutOrStdout(), store.Documents())
		return nil
	},
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete documents and their analysis history",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			printWarning("%s Use --yes to proceed.", deleteWarning)
			return nil
		}

		c, err := protected(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		store := c.app.Documents()
		var (
			mu     sync.Mutex
			failed []string
		)
		g, ctx := errgroup.WithContext(cmd.Context())
		for _, id := range args {
			g.Go(func() error {
				if err := store.Delete(ctx, id); err != nil {
					mu.Lock()
					failed = append(failed, id)
					mu.Unlock()
					printError("%s: %s", id, gateway.Message(err))
					return nil
				}
				printSuccess("Deleted %s", id)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if len(failed) > 0 {
			return fmt.Errorf("failed to delete %s", strings.Join(failed, ", "))
		}
		return nil
	},
}

func init() {
	docsDeleteCmd.Flags().Bool("yes", false, "confirm deletion")
	docsCmd.AddCommand(docsListCmd, docsUploadCmd, docsDeleteCmd)
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <document-id> [question...]",
	Short: "Ask questions about a document",
	Long: `Ask questions about a document.

With a question, prints the answer and exits. Without one, reads questions
line by line until /back or end of input.

Examples:
  analyst chat 7d1c... "Summarize the key strategic initiatives"
  analyst chat 7d1c...`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := protected(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		session := c.app.Chat(args[0])
		out := cmd.OutOrStdout()
		if len(args) == 1 {
			return chatLoop(cmd.Context(), session, bufio.NewReader(cmd.InOrStdin()), out)
		}

		reply, sent := session.Send(cmd.Context(), strings.Join(args[1:], " "))
		if !sent {
			return errors.New("question is empty")
		}
		fmt.Fprintln(out, reply.Content)
		if reply.Content == chat.Fallback {
			return fmt.Errorf("the backend could not answer")
		}
		return nil
	},
}
