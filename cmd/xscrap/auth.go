package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"xscrap/pkg/auth"
	"xscrap/pkg/ui"
)

var (
	cookieFile string
	showGuide  bool
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage source account credentials",
	Long: `Manage stored account credentials securely.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (XSCRAP_LOGIN, XSCRAP_PASSWORD, XSCRAP_COOKIE_FILE)

Never share your credentials or cookie files!`,
}

// loginCmd represents the auth login command
var loginCmd = &cobra.Command{
	Use:   "login [login]",
	Short: "Store account credentials securely",
	Long: `Store a login with either its password or an exported cookie file.

A cookie file lets collection skip the login form entirely, which avoids
most verification challenges. Run with --guide for export instructions.`,
	Example: `  # Interactive login with a password
  xscrap auth login me@example.com

  # Use an exported browser session
  xscrap auth login me@example.com --cookie-file ~/x-cookies.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

// logoutCmd represents the auth logout command
var logoutCmd = &cobra.Command{
	Use:   "logout <login>",
	Short: "Remove stored credentials",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogout,
}

// listCmd represents the auth list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored accounts",
	Long:  `List all stored accounts, newest first. The first one is used when --account is not given.`,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)

	loginCmd.Flags().StringVar(&cookieFile, "cookie-file", "", "exported browser cookies (JSON) instead of a password")
	loginCmd.Flags().BoolVar(&showGuide, "guide", false, "print cookie export instructions and exit")
}

func runLogin(cmd *cobra.Command, args []string) error {
	if showGuide {
		auth.WriteCookieExportGuide(os.Stdout)
		return nil
	}

	manager, err := auth.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	reader := bufio.NewReader(os.Stdin)

	var login string
	if len(args) > 0 {
		login = strings.TrimSpace(args[0])
	} else {
		fmt.Print("Login (username, email or phone): ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read login: %w", err)
		}
		login = strings.TrimSpace(input)
	}
	if login == "" {
		return errors.New("login is required")
	}

	if existing, _ := manager.Retrieve(login); existing != nil {
		fmt.Printf("Account '%s' already exists. Update credentials? (y/N): ", login)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	account := &auth.Account{Login: login}
	if cookieFile != "" {
		path, err := auth.ResolveCookieFile(cookieFile)
		if err != nil {
			return err
		}
		account.CookieFile = path
	} else {
		fmt.Print("Password (hidden): ")
		password, err := readPassword(reader)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		account.Password = password
	}

	if err := manager.Store(account); err != nil {
		return err
	}

	ui.PrintSuccess("Account saved: " + login)
	fmt.Println("\nCollect a profile with:")
	fmt.Printf("  xscrap collect <profile> --account %s\n", login)
	fmt.Println("\nNever share your credentials or cookie files!")
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	login := strings.TrimSpace(args[0])
	if err := manager.Delete(login); err != nil {
		return fmt.Errorf("failed to remove account: %w", err)
	}
	ui.PrintSuccess("Account removed: " + login)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	accounts, err := manager.List()
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}
	if len(accounts) == 0 {
		ui.PrintInfo("No stored accounts", "Use 'xscrap auth login' to add an account")
		return nil
	}

	for i, account := range accounts {
		sanitized := auth.SanitizeAccount(account)
		fmt.Printf("%d. %s\n", i+1, ui.Bold(sanitized.Login))
		if sanitized.CookieFile != "" {
			fmt.Printf("   Cookie file: %s\n", sanitized.CookieFile)
		}
		if sanitized.Password != "" {
			fmt.Printf("   Password: %s\n", sanitized.Password)
		}
		fmt.Printf("   Last modified: %s\n", sanitized.LastModified.Format("2006-01-02 15:04:05"))
	}
	return nil
}

// readPassword reads a password from stdin without echoing when stdin is
// a terminal
func readPassword(reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		password, err := term.ReadPassword(fd)
		fmt.Println()
		if err == nil {
			return string(password), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
