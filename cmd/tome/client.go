package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tomehq/tome/pkg/client"
	"github.com/tomehq/tome/pkg/types"
)

// Auth commands

var loginCmd = &cobra.Command{
	Use:   "login SERVER",
	Short: "Log in to a Tome server and store credentials",
	Long: `Authenticate against a Tome server and save the token pair to
~/.tome/credentials.json for the other client commands.

Examples:
  tome login https://tome.example.com --email jo@example.com
  TOME_PASSWORD=secret tome login http://localhost:8080 --email jo@example.com`,
	Args: cobra.ExactArgs(1),
	RunE: runLogin,
}

var registerCmd = &cobra.Command{
	Use:   "register SERVER",
	Short: "Create an account and log in",
	Long: `Register a new account on a Tome server. Registration also creates
a personal organization owned by the new user, then logs in.`,
	Args: cobra.ExactArgs(1),
	RunE: runRegister,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.ClearCredentials(); err != nil {
			return fmt.Errorf("failed to clear credentials: %v", err)
		}
		fmt.Println("✓ Logged out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, creds, err := client.Connect()
		if err != nil {
			return fmt.Errorf("not logged in (run 'tome login SERVER' first): %v", err)
		}
		me, err := c.Me(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to resolve identity: %v", err)
		}
		fmt.Printf("Server:       %s\n", creds.BaseURL)
		fmt.Printf("User:         %s\n", me.User.Email)
		fmt.Printf("Organization: %s\n", me.OrgID)
		fmt.Printf("Role:         %s\n", me.Role)
		fmt.Printf("Permissions:  %s\n", strings.Join(me.Permissions, ", "))
		return nil
	},
}

func init() {
	loginCmd.Flags().String("email", "", "Account email")
	loginCmd.Flags().String("password", "", "Account password (falls back to TOME_PASSWORD, then a prompt)")
	_ = loginCmd.MarkFlagRequired("email")

	registerCmd.Flags().String("email", "", "Account email")
	registerCmd.Flags().String("password", "", "Account password (falls back to TOME_PASSWORD, then a prompt)")
	_ = registerCmd.MarkFlagRequired("email")
}

// readPassword resolves the password from the flag, the environment, or an
// interactive prompt, in that order.
func readPassword(cmd *cobra.Command) (string, error) {
	password, _ := cmd.Flags().GetString("password")
	if password != "" {
		return password, nil
	}
	if env := os.Getenv("TOME_PASSWORD"); env != "" {
		return env, nil
	}
	fmt.Print("Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read password: %v", err)
	}
	return strings.TrimSpace(line), nil
}

func saveSession(c *client.Client, baseURL, email string) error {
	access, refresh := c.Tokens()
	return client.SaveCredentials(&client.Credentials{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		Email:        email,
		AccessToken:  access,
		RefreshToken: refresh,
	})
}

func runLogin(cmd *cobra.Command, args []string) error {
	email, _ := cmd.Flags().GetString("email")
	password, err := readPassword(cmd)
	if err != nil {
		return err
	}

	c, err := client.New(args[0])
	if err != nil {
		return fmt.Errorf("invalid server address: %v", err)
	}
	user, err := c.Login(cmd.Context(), email, password)
	if err != nil {
		return fmt.Errorf("login failed: %v", err)
	}
	if err := saveSession(c, args[0], user.Email); err != nil {
		return fmt.Errorf("failed to save credentials: %v", err)
	}
	fmt.Printf("✓ Logged in as %s\n", user.Email)
	return nil
}

func runRegister(cmd *cobra.Command, args []string) error {
	email, _ := cmd.Flags().GetString("email")
	password, err := readPassword(cmd)
	if err != nil {
		return err
	}

	c, err := client.New(args[0])
	if err != nil {
		return fmt.Errorf("invalid server address: %v", err)
	}
	ctx := cmd.Context()
	user, org, err := c.Register(ctx, email, password)
	if err != nil {
		return fmt.Errorf("registration failed: %v", err)
	}
	fmt.Printf("✓ Registered %s\n", user.Email)
	fmt.Printf("✓ Created organization %s\n", org.Name)

	if _, err := c.Login(ctx, email, password); err != nil {
		return fmt.Errorf("account created but login failed: %v", err)
	}
	if err := saveSession(c, args[0], user.Email); err != nil {
		return fmt.Errorf("failed to save credentials: %v", err)
	}
	fmt.Printf("✓ Logged in as %s\n", user.Email)
	return nil
}

// Domain commands

var domainCmd = &cobra.Command{
	Use:   "domain",
	Short: "Manage knowledge domains",
}

var domainListCmd = &cobra.Command{
	Use:   "list",
	Short: "List domains in your organization",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		orgID, err := currentOrg(ctx, c)
		if err != nil {
			return err
		}
		domains, err := c.ListDomains(ctx, orgID)
		if err != nil {
			return fmt.Errorf("failed to list domains: %v", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDISPLAY NAME\tTEMPLATE\tACCESS\tID")
		for _, d := range domains {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.Name, d.DisplayName, d.Template, d.AccessMode, d.ID)
		}
		return w.Flush()
	},
}

var domainCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		displayName, _ := cmd.Flags().GetString("display-name")
		template, _ := cmd.Flags().GetString("template")
		accessMode, _ := cmd.Flags().GetString("access-mode")

		c, err := connect()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		orgID, err := currentOrg(ctx, c)
		if err != nil {
			return err
		}
		domain, err := c.CreateDomain(ctx, orgID, client.DomainSpec{
			Name:        args[0],
			DisplayName: displayName,
			Template:    template,
			AccessMode:  accessMode,
		})
		if err != nil {
			return fmt.Errorf("failed to create domain: %v", err)
		}
		fmt.Printf("✓ Created domain %s (%s)\n", domain.Name, domain.ID)
		return nil
	},
}

var domainDeleteCmd = &cobra.Command{
	Use:   "delete DOMAIN",
	Short: "Delete a domain and everything in it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		domainID, err := resolveDomain(ctx, c, args[0])
		if err != nil {
			return err
		}
		if err := c.DeleteDomain(ctx, domainID); err != nil {
			return fmt.Errorf("failed to delete domain: %v", err)
		}
		fmt.Printf("✓ Deleted domain %s\n", args[0])
		return nil
	},
}

func init() {
	domainCmd.AddCommand(domainListCmd)
	domainCmd.AddCommand(domainCreateCmd)
	domainCmd.AddCommand(domainDeleteCmd)

	domainCreateCmd.Flags().String("display-name", "", "Human-readable name (defaults to NAME)")
	domainCreateCmd.Flags().String("template", "custom", "Domain template: support, docs, internal, or custom")
	domainCreateCmd.Flags().String("access-mode", "public", "Access mode: public, private, or restricted")
}

// File commands

var fileCmd = &cobra.Command{
	Use:   "file",
	Short: "Manage uploaded documents",
}

var fileUploadCmd = &cobra.Command{
	Use:   "upload PATH",
	Short: "Upload a document for ingestion",
	Long: `Upload a document into a domain. Processing is asynchronous: the
command returns as soon as the file is stored, and 'tome file list'
shows the status moving from pending to ready.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		domainRef, _ := cmd.Flags().GetString("domain")

		c, err := connect()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		domainID, err := resolveDomain(ctx, c, domainRef)
		if err != nil {
			return err
		}
		doc, err := c.UploadFile(ctx, domainID, args[0])
		if err != nil {
			return fmt.Errorf("failed to upload: %v", err)
		}
		fmt.Printf("✓ Uploaded %s (%s)\n", doc.Filename, doc.ID)
		fmt.Printf("  Status: %s\n", doc.Status)
		return nil
	},
}

var fileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		domainRef, _ := cmd.Flags().GetString("domain")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		c, err := connect()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		domainID := uuid.Nil
		if domainRef != "" {
			if domainID, err = resolveDomain(ctx, c, domainRef); err != nil {
				return err
			}
		}
		docs, total, err := c.ListFiles(ctx, domainID, types.DocumentStatus(status), limit, offset)
		if err != nil {
			return fmt.Errorf("failed to list files: %v", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FILENAME\tSTATUS\tSIZE\tCHUNKS\tID")
		for _, d := range docs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				d.Filename, d.Status, formatBytes(d.SizeBytes), d.ChunkCount, d.ID)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if total > len(docs) {
			fmt.Printf("\nShowing %d of %d\n", len(docs), total)
		}
		return nil
	},
}

var fileDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a document and its chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fileID, err := parseID("document", args[0])
		if err != nil {
			return err
		}
		c, err := connect()
		if err != nil {
			return err
		}
		if err := c.DeleteFile(cmd.Context(), fileID); err != nil {
			return fmt.Errorf("failed to delete file: %v", err)
		}
		fmt.Printf("✓ Deleted %s\n", fileID)
		return nil
	},
}

var fileDownloadCmd = &cobra.Command{
	Use:   "download ID",
	Short: "Print a presigned download URL for the original file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fileID, err := parseID("document", args[0])
		if err != nil {
			return err
		}
		c, err := connect()
		if err != nil {
			return err
		}
		url, expiresIn, err := c.DownloadURL(cmd.Context(), fileID)
		if err != nil {
			return fmt.Errorf("failed to presign download: %v", err)
		}
		fmt.Println(url)
		fmt.Fprintf(os.Stderr, "Expires in %s\n", expiresIn)
		return nil
	},
}

func init() {
	fileCmd.AddCommand(fileUploadCmd)
	fileCmd.AddCommand(fileListCmd)
	fileCmd.AddCommand(fileDeleteCmd)
	fileCmd.AddCommand(fileDownloadCmd)

	fileUploadCmd.Flags().String("domain", "", "Target domain (name or id)")
	_ = fileUploadCmd.MarkFlagRequired("domain")

	fileListCmd.Flags().String("domain", "", "Filter by domain (name or id)")
	fileListCmd.Flags().String("status", "", "Filter by status: pending, processing, ready, failed")
	fileListCmd.Flags().Int("limit", 50, "Maximum rows to return")
	fileListCmd.Flags().Int("offset", 0, "Rows to skip")
}

// formatBytes renders a size the way humans read them.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
