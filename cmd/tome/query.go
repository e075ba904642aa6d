package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tomehq/tome/pkg/client"
	"github.com/tomehq/tome/pkg/query"
)

var queryCmd = &cobra.Command{
	Use:   "query QUESTION",
	Short: "Ask a question against a domain",
	Long: `Run the retrieval pipeline and print the cited answer. The first
query opens a chat session; pass --session to continue one, which lets
the pipeline use the conversation history.

With --stream the answer arrives token by token over a websocket.
Streaming attaches to an existing session, so start one with a plain
query first.

Examples:
  tome query "How do I rotate the API key?" --domain support
  tome query "And for service accounts?" --session SESSION_ID --stream`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Retrieve matching chunks without LLM synthesis",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect chat sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your chat sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		c, err := connect()
		if err != nil {
			return err
		}
		sessions, err := c.ListSessions(cmd.Context(), limit, 0)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %v", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TITLE\tMESSAGES\tLAST ACTIVITY\tID")
		for _, s := range sessions {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
				s.Title, s.MessageCount, s.LastActivity.Format("2006-01-02 15:04"), s.ID)
		}
		return w.Flush()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Print a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, err := parseID("session", args[0])
		if err != nil {
			return err
		}
		c, err := connect()
		if err != nil {
			return err
		}
		messages, err := c.ListMessages(cmd.Context(), sessionID, 0, 0)
		if err != nil {
			return fmt.Errorf("failed to list messages: %v", err)
		}
		for _, m := range messages {
			fmt.Printf("[%s] %s\n", m.Type, m.Content)
			fmt.Println()
		}
		return nil
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the organization audit trail",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		c, err := connect()
		if err != nil {
			return err
		}
		events, err := c.AuditTrail(cmd.Context(), limit, offset)
		if err != nil {
			return fmt.Errorf("failed to fetch audit trail: %v", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tACTION\tRESOURCE\tSEVERITY\tDETAIL")
		for _, e := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				e.CreatedAt.Format("2006-01-02 15:04:05"), e.Action, e.Resource, e.Severity, e.Detail)
		}
		return w.Flush()
	},
}

func init() {
	queryCmd.Flags().String("domain", "", "Domain to query (name or id); required unless --session is set")
	queryCmd.Flags().String("session", "", "Continue an existing chat session")
	queryCmd.Flags().Bool("stream", false, "Stream the answer over a websocket")

	searchCmd.Flags().String("domain", "", "Domain to search (name or id)")
	searchCmd.Flags().String("mode", "", "Retrieval mode: hybrid or vector")
	searchCmd.Flags().Int("limit", 10, "Maximum results")
	_ = searchCmd.MarkFlagRequired("domain")

	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionListCmd.Flags().Int("limit", 20, "Maximum rows to return")

	auditCmd.Flags().Int("limit", 50, "Maximum rows to return")
	auditCmd.Flags().Int("offset", 0, "Rows to skip")
}

func runQuery(cmd *cobra.Command, args []string) error {
	domainRef, _ := cmd.Flags().GetString("domain")
	sessionRef, _ := cmd.Flags().GetString("session")
	stream, _ := cmd.Flags().GetBool("stream")

	c, err := connect()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	sessionID := uuid.Nil
	if sessionRef != "" {
		if sessionID, err = parseID("session", sessionRef); err != nil {
			return err
		}
	}

	if stream {
		if sessionID == uuid.Nil {
			return fmt.Errorf("--stream attaches to an existing session; run a plain query first and pass its session id")
		}
		answer, err := c.StreamChat(ctx, sessionID, args[0], func(delta string) {
			fmt.Print(delta)
		})
		if err != nil {
			fmt.Println()
			return fmt.Errorf("query failed: %v", err)
		}
		fmt.Println()
		printAnswerMeta(answer)
		return nil
	}

	domainID := uuid.Nil
	if domainRef != "" {
		if domainID, err = resolveDomain(ctx, c, domainRef); err != nil {
			return err
		}
	} else if sessionID == uuid.Nil {
		return fmt.Errorf("--domain is required for a new session")
	}

	answer, err := c.Chat(ctx, domainID, sessionID, args[0])
	if err != nil {
		return fmt.Errorf("query failed: %v", err)
	}
	fmt.Println(answer.Content)
	printAnswerMeta(answer)
	return nil
}

// printAnswerMeta renders citations on stdout and the run details on
// stderr, keeping plain answers pipeable.
func printAnswerMeta(a *query.Answer) {
	if len(a.Citations) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for _, cit := range a.Citations {
			fmt.Printf("  [%d] %s\n", cit.Index, cit.Title)
		}
	}
	if a.Handoff {
		fmt.Println()
		fmt.Println("Confidence is low; consider escalating to a human.")
	}
	fmt.Fprintf(os.Stderr, "\nsession=%s intent=%s confidence=%.2f\n", a.SessionID, a.Intent, a.Confidence)
}

func runSearch(cmd *cobra.Command, args []string) error {
	domainRef, _ := cmd.Flags().GetString("domain")
	mode, _ := cmd.Flags().GetString("mode")
	limit, _ := cmd.Flags().GetInt("limit")

	c, err := connect()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	domainID, err := resolveDomain(ctx, c, domainRef)
	if err != nil {
		return err
	}
	results, err := c.Search(ctx, client.SearchRequest{
		Query:    args[0],
		DomainID: domainID,
		Mode:     mode,
		Limit:    limit,
	})
	if err != nil {
		return fmt.Errorf("search failed: %v", err)
	}
	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}
	for i, res := range results {
		fmt.Printf("%2d. %s (score %.3f)\n", i+1, res.Title, res.Score)
		fmt.Printf("    %s\n", res.Snippet)
		fmt.Printf("    document=%s chunk=%d\n", res.DocumentID, res.ChunkIndex)
	}
	return nil
}
