package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/anf-aiops/opsbot/pkg/auth"
	"github.com/anf-aiops/opsbot/pkg/catalog"
	"github.com/anf-aiops/opsbot/pkg/config"
	"github.com/anf-aiops/opsbot/pkg/intent"
	"github.com/anf-aiops/opsbot/pkg/registry"
)

const version = "0.1.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests
var startServer = func(stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runServer(ctx, config.Load(), stdout, stderr)
}

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(stdout, stderr)
	}

	switch args[1] {
	case "serve", "server":
		return startServer(stdout, stderr)
	case "health":
		return runHealthCmd(args[2:], stdout, stderr)
	case "roles":
		return runRolesCmd(args[2:], stdout, stderr)
	case "resolve":
		return runResolveCmd(args[2:], stdout, stderr)
	case "token":
		return runTokenCmd(args[2:], stdout, stderr)
	case "version":
		_, _ = fmt.Fprintf(stdout, "opsbot %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if strings.HasPrefix(args[1], "-") {
			return startServer(stdout, stderr)
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorRed   = "\033[31m"
	ColorGreen = "\033[32m"
	ColorBlue  = "\033[34m"
	ColorCyan  = "\033[36m"
	ColorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sANF ops bot %s%s\n", ColorBold+ColorBlue, version, ColorReset)
	fmt.Fprintf(w, "%sChat commands in, authorized storage operations out.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  opsbot <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "SERVER")
	printCommand(w, "serve", "Run the bot endpoint (default)")
	printCommand(w, "health", "Check server health (HTTP)")

	printSection(w, "TOOLS")
	printCommand(w, "roles", "Print the role/permission table (--json)")
	printCommand(w, "resolve", "Show how a message resolves to an intent")
	printCommand(w, "token", "Mint a development bearer token")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-12s%s %s\n", ColorGreen, name, ColorReset, desc)
}

func runHealthCmd(args []string, out, errOut io.Writer) int {
	cmd := flag.NewFlagSet("health", flag.ContinueOnError)
	cmd.SetOutput(errOut)
	url := cmd.String("url", "http://localhost:"+config.Load().Port+"/health", "health endpoint")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*url)
	if err != nil {
		fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(errOut, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}

	fmt.Fprintln(out, "OK")
	return 0
}

func runRolesCmd(args []string, out, errOut io.Writer) int {
	cmd := flag.NewFlagSet("roles", flag.ContinueOnError)
	cmd.SetOutput(errOut)
	jsonOutput := cmd.Bool("json", false, "Output as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cat, err := loadCatalog(config.Load())
	if err != nil {
		fmt.Fprintf(errOut, "%sError:%s %v\n", ColorRed, ColorReset, err)
		return 1
	}

	if *jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{
			"adminRole": cat.AdminRole(),
			"roles":     cat.Roles(),
			"actions":   cat.Rules(),
		}); err != nil {
			fmt.Fprintf(errOut, "%sError:%s %v\n", ColorRed, ColorReset, err)
			return 1
		}
		return 0
	}

	fmt.Fprintf(out, "Admin role: %s%s%s\n\n", ColorBold, cat.AdminRole(), ColorReset)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROLE\tPERMISSIONS")
	for _, r := range cat.Roles() {
		fmt.Fprintf(tw, "%s\t%s\n", r.Name, strings.Join(r.Permissions, ", "))
	}
	_ = tw.Flush()
	return 0
}

func runResolveCmd(args []string, out, errOut io.Writer) int {
	cmd := flag.NewFlagSet("resolve", flag.ContinueOnError)
	cmd.SetOutput(errOut)
	namespace := cmd.String("namespace", config.Load().CommandNamespace, "slash command namespace")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	text := strings.Join(cmd.Args(), " ")
	if strings.TrimSpace(text) == "" {
		fmt.Fprintln(errOut, "Usage: opsbot resolve [--namespace anf] <message>")
		return 2
	}

	reg := registry.Default()
	resolver, err := intent.NewResolver(
		intent.Vocabulary{Actions: reg.Actions(), Entities: reg.Entities()},
		intent.WithNamespace(*namespace),
	)
	if err != nil {
		fmt.Fprintf(errOut, "%sError:%s %v\n", ColorRed, ColorReset, err)
		return 1
	}

	modality := intent.NaturalLanguage
	if strings.HasPrefix(strings.TrimSpace(text), "/") {
		modality = intent.StructuredCommand
	}
	in := resolver.Resolve(intent.RawInput{Modality: modality, RawText: text})

	res := map[string]any{"intent": in}
	if desc, ok := reg.Lookup(in.Action, in.Entity); ok {
		res["operation"] = desc.Name
		res["destructive"] = desc.Destructive
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(res)
	return 0
}

func runTokenCmd(args []string, out, errOut io.Writer) int {
	cmd := flag.NewFlagSet("token", flag.ContinueOnError)
	cmd.SetOutput(errOut)
	var (
		user   string
		tenant string
		roles  string
		ttl    time.Duration
	)
	cmd.StringVar(&user, "user", "", "User ID (REQUIRED)")
	cmd.StringVar(&tenant, "tenant", "default", "Tenant ID")
	cmd.StringVar(&roles, "roles", catalog.RoleReader, "Comma-separated roles")
	cmd.DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if user == "" {
		fmt.Fprintln(errOut, "Error: --user is required")
		return 2
	}

	keys, err := auth.DeriveKeys(config.Load().SigningSecret)
	if err != nil {
		fmt.Fprintf(errOut, "%sError:%s %v (set BOT_SIGNING_SECRET)\n", ColorRed, ColorReset, err)
		return 1
	}

	var roleList []string
	for _, r := range strings.Split(roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roleList = append(roleList, r)
		}
	}
	token, err := keys.Issue(user, tenant, roleList, ttl, time.Now())
	if err != nil {
		fmt.Fprintf(errOut, "%sError:%s %v\n", ColorRed, ColorReset, err)
		return 1
	}
	fmt.Fprintln(out, token)
	return 0
}
