package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anonto42/proofing/backend/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	token     string
	shareLink string
	name      string
	logLevel  string
	projectID string
)

var rootCmd = &cobra.Command{
	Use:   "proofctl",
	Short: "Live client for the proofing backend",
	Long: `proofctl connects to a proofing server as an admin (--token) or as a client
holding a review link (--share-link), watches a project live and runs single
review operations from the shell.`,
	SilenceUsage: true,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the live events of a project until interrupted",
	RunE:  runWatch,
}

var annotateCmd = &cobra.Command{
	Use:   "annotate <content>",
	Short: "Pin an annotation on a file",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAnnotate,
}

var replyCmd = &cobra.Command{
	Use:   "reply <annotation-id> <content>",
	Short: "Reply to an annotation",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runReply,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <annotation-id>",
	Short: "Resolve an annotation, or reject it with --reject",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

var elementStatusCmd = &cobra.Command{
	Use:   "element-status <element-id> <PENDING|APPROVED|REJECTED|NEEDS_REVISION>",
	Short: "Change the status of an element",
	Args:  cobra.ExactArgs(2),
	RunE:  runElementStatus,
}

var reviewStatusCmd = &cobra.Command{
	Use:   "review-status <PENDING|IN_PROGRESS|APPROVED|REJECTED>",
	Short: "Move the project's review forward",
	Args:  cobra.ExactArgs(1),
	RunE:  runReviewStatus,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a local admin token for development",
	RunE:  runToken,
}

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Sign in as an admin and print the token",
	Long: `login signs in with an email and password and prints a bearer token for
--token or PROOFING_TOKEN. The password is read from --password or
PROOFING_PASSWORD. With --signup the account is created first.`,
	Args: cobra.ExactArgs(1),
	RunE: runLogin,
}

var (
	watchElement string

	annotateFile string
	annotateX    float64
	annotateY    float64

	rejectAnnotation bool
	statusComment    string
	reviewMessage    string

	tokenSecret string
	tokenID     string
	tokenTTL    time.Duration

	loginPassword string
	loginSignup   bool
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&serverURL, "server", envOr("PROOFING_SERVER", "http://localhost:8080"), "server base URL")
	flags.StringVar(&token, "token", os.Getenv("PROOFING_TOKEN"), "admin bearer token")
	flags.StringVar(&shareLink, "share-link", os.Getenv("PROOFING_SHARE_LINK"), "review share link, acts as the client")
	flags.StringVar(&name, "name", envOr("PROOFING_NAME", "Client"), "display name when using a share link")
	flags.StringVar(&logLevel, "log-level", "warn", "log level")
	flags.StringVarP(&projectID, "project", "p", os.Getenv("PROOFING_PROJECT"), "project id")

	watchCmd.Flags().StringVarP(&watchElement, "element", "e", "", "also follow the comment stream of this element")

	annotateCmd.Flags().StringVarP(&annotateFile, "file", "f", "", "file (element) id the pin sits on")
	annotateCmd.Flags().Float64Var(&annotateX, "x", -1, "horizontal position in percent")
	annotateCmd.Flags().Float64Var(&annotateY, "y", -1, "vertical position in percent")
	_ = annotateCmd.MarkFlagRequired("file")

	resolveCmd.Flags().BoolVar(&rejectAnnotation, "reject", false, "reject instead of resolving")
	elementStatusCmd.Flags().StringVarP(&statusComment, "comment", "m", "", "comment stored with the status")
	reviewStatusCmd.Flags().StringVarP(&reviewMessage, "message", "m", "", "message sent with the status")

	tokenCmd.Flags().StringVar(&tokenSecret, "secret", envOr("JWT_SECRET", "supersecretjwtkey"), "signing secret of the server")
	tokenCmd.Flags().StringVar(&tokenID, "id", "admin", "admin user id")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")

	loginCmd.Flags().StringVar(&loginPassword, "password", os.Getenv("PROOFING_PASSWORD"), "account password")
	loginCmd.Flags().BoolVar(&loginSignup, "signup", false, "create the account, using --name as its display name")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(annotateCmd)
	rootCmd.AddCommand(replyCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(elementStatusCmd)
	rootCmd.AddCommand(reviewStatusCmd)
	rootCmd.AddCommand(tokenCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func wsURL(base string) string {
	base = strings.TrimSuffix(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	}
	return base + "/ws"
}

func main() {
	logData, err := logger.New().FromBuffer(os.Stderr).Level(logLevel).Pretty(true).Make()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log = logData.Logger
	cobra.OnInitialize(func() { log = log.Level(logger.ParseLevel(logLevel)) })

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
