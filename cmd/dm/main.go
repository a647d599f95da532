package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"dmlifecycle/internal/adjudicate"
	"dmlifecycle/internal/agreements"
	"dmlifecycle/internal/api"
	"dmlifecycle/internal/config"
	"dmlifecycle/internal/lifecycle"
	"dmlifecycle/internal/logging"
	"dmlifecycle/internal/mailer"
	"dmlifecycle/internal/notify"
	"dmlifecycle/internal/retention"
	"dmlifecycle/internal/runner"
	"dmlifecycle/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "dm",
	Short: "Digital Marketplace framework lifecycle scripts",
	Long: `dm drives framework applications through their lifecycle against the
Marketplace APIs: adjudicating supplier declarations at the standstill
boundary, publishing submitted services at go-live, countersigning
returned agreements, suspending the services of suppliers who never
signed, notifying affected users, and sweeping data past retention.

Every subcommand takes a stage (development, preview, staging,
production) as its first argument and reads credentials from the
environment (DM_DATA_API_TOKEN_<STAGE> and friends). Bulk subcommands
exit with the count of per-entity failures, so a non-zero exit means
"re-run me"; idempotency rules make re-runs touch only unfinished work.`,
	SilenceUsage: true,
}

// exitCode carries the failed-entity count out of bulk subcommands.
var exitCode int

func main() {
	cobra.OnInitialize(config.Init)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().Bool("dry-run", false, "log what would change without mutating anything")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().Int("workers", runner.DefaultWorkers, "bulk sweep worker count")
	rootCmd.PersistentFlags().String("updated-by", "", "actor recorded against mutations (default: '<command> script')")
	rootCmd.PersistentFlags().IntSlice("supplier-id", nil, "restrict to these supplier ids (repeatable)")
	rootCmd.PersistentFlags().String("supplier-ids-from", "", "file with one supplier id per line")
	for _, name := range []string{"dry-run", "json", "verbose", "workers", "updated-by", "supplier-id", "supplier-ids-from"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(frameworkCmd())
	rootCmd.AddCommand(agreementsCmd())
	rootCmd.AddCommand(notifyCmd())
	rootCmd.AddCommand(retentionCmd())
	rootCmd.AddCommand(supplierCmd())
	rootCmd.AddCommand(servicesCmd())
	rootCmd.AddCommand(documentsCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(searchCmd())
}

// env wires the remote clients for one stage.
type env struct {
	stage     string
	endpoints config.Endpoints
	creds     config.Credentials
	gateway   *api.Client
	log       *zap.Logger
}

func newEnv(stage string) (*env, error) {
	if !config.ValidStage(stage) {
		return nil, fmt.Errorf("unknown stage %q (expected one of %s)", stage, strings.Join(config.Stages, ", "))
	}
	endpoints, err := config.ForStage(stage)
	if err != nil {
		return nil, err
	}
	creds, err := config.CredentialsForStage(stage)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(stage, viper.GetBool("verbose"))
	if err != nil {
		return nil, err
	}
	return &env{
		stage:     stage,
		endpoints: endpoints,
		creds:     creds,
		gateway:   api.New(endpoints.DataAPI, creds.DataAPIToken),
		log:       log,
	}, nil
}

func (e *env) search() (*api.SearchClient, error) {
	if e.creds.SearchAPIToken == "" {
		return nil, fmt.Errorf("DM_SEARCH_API_TOKEN_%s is not set", strings.ToUpper(e.stage))
	}
	return api.NewSearch(e.endpoints.SearchAPI, e.creds.SearchAPIToken), nil
}

func (e *env) objectStore() (*store.Store, error) {
	cfg, err := config.ObjectStoreForStage(e.stage)
	if err != nil {
		return nil, err
	}
	return store.New(store.Config{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Bucket:    cfg.Bucket,
		UseSSL:    cfg.UseSSL,
	})
}

func (e *env) transactional() (*mailer.Transactional, error) {
	if e.creds.NotifyAPIKey == "" {
		return nil, fmt.Errorf("DM_NOTIFY_API_KEY_%s is not set", strings.ToUpper(e.stage))
	}
	return mailer.NewTransactional(e.endpoints.Notify, e.creds.NotifyAPIKey), nil
}

func (e *env) bulkMailer() (*mailer.Bulk, error) {
	if e.creds.BulkMailAPIKey == "" {
		return nil, fmt.Errorf("DM_BULK_MAIL_API_KEY_%s is not set", strings.ToUpper(e.stage))
	}
	return mailer.NewBulk(e.endpoints.BulkMail, e.creds.BulkMailAPIKey), nil
}

func actor(cmd *cobra.Command) string {
	if a := viper.GetString("updated-by"); a != "" {
		return a
	}
	return cmd.Name() + " script"
}

func supplierIDs() ([]int, error) {
	ids := viper.GetIntSlice("supplier-id")
	path := viper.GetString("supplier-ids-from")
	if path == "" {
		return ids, nil
	}
	fromFile, err := readIDs(path)
	if err != nil {
		return nil, err
	}
	return append(ids, fromFile...), nil
}

func readIDs(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var ids []int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a supplier id", path, line)
		}
		ids = append(ids, id)
	}
	return ids, scanner.Err()
}

// finish reports a bulk run and stages its failure count as the process
// exit code.
func finish(log *zap.Logger, summary runner.Summary) error {
	log.Info("run complete",
		zap.Int("processed", summary.Processed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped))
	if viper.GetBool("json") {
		if err := printJSON(summary); err != nil {
			return err
		}
	} else {
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"Processed", "Succeeded", "Failed", "Skipped"})
		tw.AppendRow(table.Row{summary.Processed, summary.Succeeded, summary.Failed, summary.Skipped})
		tw.Render()
	}
	exitCode = summary.ExitCode()
	return nil
}

func printJSONOrTable(v any, render func(tw table.Writer)) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	render(tw)
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func frameworkCmd() *cobra.Command {
	fw := &cobra.Command{Use: "framework", Short: "Drive a framework through its lifecycle"}
	fw.AddCommand(frameworkSetStatusCmd())
	fw.AddCommand(frameworkAdjudicateCmd())
	fw.AddCommand(frameworkPublishCmd())
	fw.AddCommand(frameworkStatsCmd())
	return fw
}

func frameworkSetStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <stage> <framework>",
		Short: "Move a framework one step along its lifecycle",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(args[0])
			if err != nil {
				return err
			}
			defer e.log.Sync()
			engine := lifecycle.New(e.gateway, nil, nil, e.log)
			return engine.SetStatus(cmd.Context(), args[1], status, actor(cmd), viper.GetBool("dry-run"))
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "target status")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func frameworkAdjudicateCmd() *cobra.Command {
	var rulesFile string
	var reassessPassed, reassessFailed bool
	var excluded []int
	cmd := &cobra.Command{
		Use:   "adjudicate <stage> <framework>",
		Short: "Decide onFramework for every interested supplier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(args[0])
			if err != nil {
				return err
			}
			defer e.log.Sync()
			rules, err := adjudicate.FromFile(rulesFile)
			if err != nil {
				return err
			}
			include, err := supplierIDs()
			if err != nil {
				return err
			}
			engine := lifecycle.New(e.gateway, nil, nil, e.log)
			engine.Workers = viper.GetInt("workers")
			summary, verdicts, err := engine.Adjudicate(cmd.Context(), lifecycle.AdjudicateOptions{
				FrameworkSlug:       args[1],
				Rules:               rules,
				Actor:               actor(cmd),
				ReassessPassed:      reassessPassed,
				ReassessFailed:      reassessFailed,
				SupplierIDs:         include,
				ExcludedSupplierIDs: excluded,
				DryRun:              viper.GetBool("dry-run"),
			})
			if err != nil {
				return err
			}
			if err := printJSONOrTable(verdicts, func(tw table.Writer) {
				tw.AppendHeader(table.Row{"Supplier", "Name", "Outcome", "Failed questions", "Applied"})
				for _, v := range verdicts {
					tw.AppendRow(table.Row{v.SupplierID, v.SupplierName, v.Result.Outcome, len(v.Result.Failures), v.Applied})
				}
			}); err != nil {
				return err
			}
			return finish(e.log, summary)
		},
	}
	cmd.Flags().StringVar(&rulesFile, "rules", "", "YAML declaration ruleset for the framework")
	cmd.Flags().BoolVar(&reassessPassed, "reassess-passed", false, "re-apply results to suppliers already marked passed")
	cmd.Flags().BoolVar(&reassessFailed, "reassess-failed", false, "re-apply results to suppliers already marked failed")
	cmd.Flags().IntSliceVar(&excluded, "excluded-supplier-id", nil, "leave these supplier ids untouched (repeatable)")
	_ = cmd.MarkFlagRequired("rules")
	return cmd
}

func frameworkPublishCmd() *cobra.Command {
	var index string
	cmd := &cobra.Command{
		Use:   "publish <stage> <framework>",
		Short: "Publish every submitted draft of every awarded supplier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(args[0])
			if err != nil {
				return err
			}
			defer e.log.Sync()
			search, err := e.search()
			if err != nil {
				return err
			}
			docs, err := e.objectStore()
			if err != nil {
				return err
			}
			include, err := supplierIDs()
			if err != nil {
				return err
			}
			if index == "" {
				index = args[1]
			}
			engine := lifecycle.New(e.gateway, search, docs, e.log)
			engine.Workers = viper.GetInt("workers")
			summary, err := engine.Publish(cmd.Context(), lifecycle.PublishOptions{
				FrameworkSlug: args[1],
				IndexName:     index,
				AssetsBaseURL: e.endpoints.Assets,
				Actor:         actor(cmd),
				SupplierIDs:   include,
				DryRun:        viper.GetBool("dry-run"),
			})
			if err != nil {
				return err
			}
			return finish(e.log, summary)
		},
	}
	cmd.Flags().StringVar(&index, "index", "", "search index or alias to write services into (default: the framework slug)")
	return cmd
}

func frameworkStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <stage> <framework>",
		Short: "Snapshot application counts as an audit event",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(args[0])
			if err != nil {
				return err
			}
			defer e.log.Sync()
			engine := lifecycle.New(e.gateway, nil, nil, e.log)
			stats, err := engine.SnapshotStats(cmd.Context(), args[1], actor(cmd), viper.GetBool("dry-run"))
			if err != nil {
				return err
			}
			return printJSONOrTable(stats, func(tw table.Writer) {
				tw.AppendHeader(table.Row{"Interested", "Started", "Complete", "Awarded", "Rejected", "Undecided"})
				tw.AppendRow(table.Row{stats.Interested, stats.Started, stats.Complete, stats.Awarded, stats.Rejected, stats.Undecided})
			})
		},
	}
}

func agreementsCmd() *cobra.Command {
	ag := &cobra.Command{Use: "agreements", Short: "Generate and countersign agreements, and police missing signatures"}
	ag.AddCommand(agreementsGenerateCmd())
	ag.AddCommand(agreementsCountersignCmd())
	ag.AddCommand(agreementsSuspendCmd())
	ag.AddCommand(agreementsUnsuspendCmd())
	return ag
}

func agreementsGenerateCmd() *cobra.Command {
	var renderCmd, mergeCmd string
	cmd := &cobra.Command{
		Use:   "generate <stage> <framework>",
		Short: "Render the signature copy of the agreement for awarded suppliers",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(args[0])
			if err != nil {
				return err
			}
			defer e.log.Sync()
			docs, err := e.objectStore()
			if err != nil {
				return err
			}
			include, err := supplierIDs()
			if err != nil {
				return err
			}
			p := agreements.New(e.gateway, docs,
				agreements.ExecRenderer{Command: renderCmd, Args: []string{"-", "-"}},
				agreements.ExecMerger{Command: mergeCmd},
				e.log)
			p.Workers = viper.GetInt("workers")
			summary, err := p.Generate(cmd.Context(), agreements.GenerateOptions{
				FrameworkSlug: args[1],
				Actor:         actor(cmd),
				SupplierIDs:   include,
				DryRun:        viper.GetBool("dry-run"),
			})
			if err != nil {
				return err
			}
			return finish(e.log, summary)
		},
	}
	cmd.Flags().StringVar(&renderCmd, "render-cmd", "wkhtmltopdf", "HTML-to-PDF converter (reads stdin, writes stdout)")
	cmd.Flags().StringVar(&mergeCmd, "merge-cmd", "pdfunite", "PDF concatenation tool")
	return cmd
}

func agreementsCountersignCmd() *cobra.Command {
	var renderCmd, mergeCmd string
	cmd := &cobra.Command{
		Use:   "countersign <stage> <framework>",
		Short: "Produce countersigned agreement documents",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(args[0])
			if err != nil {
				return err
			}
			defer e.log.Sync()
			docs, err := e.objectStore()
			if err != nil {
				return err
			}
			include, err := supplierIDs()
			if err != nil {
				return err
			}
			p := agreements.New(e.gateway, docs,
				agreements.ExecRenderer{Command: renderCmd, Args: []string{"-", "-"}},
				agreements.ExecMerger{Command: mergeCmd},
				e.log)
			p.Workers = viper.GetInt("workers")
			summary, err := p.Countersign(cmd.Context(), agreements.CountersignOptions{
				FrameworkSlug: args[1],
				Actor:         actor(cmd),
				SupplierIDs:   include,
				DryRun:        viper.GetBool("dry-run"),
			})
			if err != nil {
				return err
			}
			return finish(e.log, summary)
		},
	}
	cmd.Flags().StringVar(&renderCmd, "render-cmd", "wkhtmltopdf", "HTML-to-PDF converter (reads stdin, writes stdout)")
	cmd.Flags().StringVar(&mergeCmd, "merge-cmd", "pdfunite", "PDF concatenation tool")
	return cmd
}

func agreementsSuspendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "suspend <stage> <framework>",
		Short: "Disable the services of suppliers who never signed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(args[0])
			if err != nil {
				return err
			}
			defer e.log.Sync()
			tx, err := e.transactional()
			if err != nil {
				return err
			}
			include, err := supplierIDs()
			if err != nil {
				return err
			}
			p := agreements.New(e.gateway, nil, nil, nil, e.log)
			p.Workers = viper.GetInt("workers")
			p.Notifier = notify.New(e.gateway, tx, e.log)
			summary, err := p.Suspend(cmd.Context(), agreements.SuspendOptions{
				FrameworkSlug: args[1],
				SupplierIDs:   include,
				DryRun:        viper.GetBool("dry-run"),
			})
			if err != nil {
				return err
			}
			return finish(e.log, summary)
		},
	}
}

func agreementsUnsuspendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unsuspend <stage> <framework>",
		Short: "Re-publish services disabled by the suspension pass",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(args[0])
			if err != nil {
				return err
			}
			defer e.log.Sync()
			include, err := supplierIDs()
			if err != nil {
				return err
			}
			p := agreements.New(e.gateway, nil, nil, nil, e.log)
			p.Workers = viper.GetInt("workers")
			summary, err := p.Unsuspend(cmd.Context(), agreements.SuspendOptions{
				FrameworkSlug: args[1],
				SupplierIDs:   include,
				DryRun:        viper.GetBool("dry-run"),
			})
			if err != nil {
				return err
			}
			return finish(e.log, summary)
		},
	}
}

// notifyKinds maps subcommand names to template ids and supplier filters.
var notifyKinds = map[string]struct {
	template string
	filters  api.SupplierFrameworkFilters
}{
	"application-result": {template: notify.TemplateApplicationResult},
	"agreement-reminder": {
		template: notify.TemplateAgreementReminder,
		filters: api.SupplierFrameworkFilters{
			OnFramework:       boolPtr(true),
			AgreementReturned: boolPtr(false),
		},
	},
	"framework-live": {
		template: notify.TemplateFrameworkLive,
		filters:  api.SupplierFrameworkFilters{OnFramework: boolPtr(true)},
	},
}

func boolPtr(b bool) *bool { return &b }

func notifyCmd() *cobra.Command {
	nc := &cobra.Command{Use: "notify", Short: "Send lifecycle emails to supplier users"}
	for kind := range notifyKinds {
		nc.AddCommand(notifySendCmd(kind))
	}
	nc.AddCommand(notifyClarificationsCmd())
	nc.AddCommand(notifyDigestCmd())
	return nc
}

// questionSpec is one newly answered clarification question read from the
// --questions file.
type questionSpec struct {
	SupplierID int    `yaml:"supplierId"`
	Link       string `yaml:"link"`
}

func notifyClarificationsCmd() *cobra.Command {
	var questionsFile, runID string
	cmd := &cobra.Command{
		Use:   "clarifications <stage> <framework>",
		Short: "Email each supplier one digest of its new clarification answers",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(args[0])
			if err != nil {
				return err
			}
			defer e.log.Sync()
			tx, err := e.transactional()
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(questionsFile)
			if err != nil {
				return err
			}
			var questions []questionSpec
			if err := yaml.Unmarshal(raw, &questions); err != nil {
				return fmt.Errorf("%s: %w", questionsFile, err)
			}
			bySupplier := map[int][]string{}
			for _, q := range questions {
				bySupplier[q.SupplierID] = append(bySupplier[q.SupplierID], q.Link)
			}
			digests := make([]notify.Digest, 0, len(bySupplier))
			for id, links := range bySupplier {
				digests = append(digests, notify.Digest{SupplierID: id, Links: links})
			}
			d := notify.New(e.gateway, tx, e.log)
			d.Workers = viper.GetInt("workers")
			d.RunID = runID
			summary, err := d.DispatchDigests(cmd.Context(), notify.DigestOptions{
				FrameworkSlug: args[1],
				TemplateID:    notify.TemplateClarificationQA,
				Digests:       digests,
				DryRun:        viper.GetBool("dry-run"),
			})
			if err != nil {
				return err
			}
			return finish(e.log, summary)
		},
	}
	cmd.Flags().StringVar(&questionsFile, "questions", "", "YAML list of {supplierId, link} answered questions")
	cmd.Flags().StringVar(&runID, "run-id", "", "re-use a run id to de-duplicate against a crashed run")
	_ = cmd.MarkFlagRequired("questions")
	return cmd
}

func notifySendCmd(kind string) *cobra.Command {
	var runID string
	spec := notifyKinds[kind]
	cmd := &cobra.Command{
		Use:   kind + " <stage> <framework>",
		Short: "Email every affected supplier user (" + kind + ")",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(args[0])
			if err != nil {
				return err
			}
			defer e.log.Sync()
			tx, err := e.transactional()
			if err != nil {
				return err
			}
			d := notify.New(e.gateway, tx, e.log)
			d.Workers = viper.GetInt("workers")
			d.RunID = runID
			summary, err := d.Dispatch(cmd.Context(), notify.DispatchOptions{
				FrameworkSlug: args[1],
				TemplateID:    spec.template,
				Filters:       spec.filters,
				DryRun:        viper.GetBool("dry-run"),
			})
			if err != nil {
				return err
			}
			return finish(e.log, summary)
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "re-use a run id to de-duplicate against a crashed run")
	return cmd
}

// campaignSpec is one per-lot bulk campaign read from the --campaigns file.
type campaignSpec struct {
	Lot      string `yaml:"lot"`
	ListID   string `yaml:"listId"`
	Subject  string `yaml:"subject"`
	HTMLFile string `yaml:"htmlFile"`
}

func notifyDigestCmd() *cobra.Command {
	var campaignsFile string
	cmd := &cobra.Command{
		Use:   "digest <stage> <framework>",
		Short: "Send per-lot bulk campaigns to the framework mailing lists",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(args[0])
			if err != nil {
				return err
			}
			defer e.log.Sync()
			bulk, err := e.bulkMailer()
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(campaignsFile)
			if err != nil {
				return err
			}
			var specs []campaignSpec
			if err := yaml.Unmarshal(raw, &specs); err != nil {
				return fmt.Errorf("%s: %w", campaignsFile, err)
			}
			d := notify.New(e.gateway, nil, e.log)
			var summary runner.Summary
			for _, spec := range specs {
				html, err := os.ReadFile(spec.HTMLFile)
				if err != nil {
					e.log.Error("campaign content", zap.String("lot", spec.Lot), zap.Error(err))
					summary.Add(runner.Failed)
					continue
				}
				err = d.SendCampaign(cmd.Context(), bulk, notify.CampaignOptions{
					ListID:   spec.ListID,
					Subject:  spec.Subject,
					FromName: "Digital Marketplace",
					ReplyTo:  "do-not-reply@digitalmarketplace.service.gov.uk",
					HTML:     string(html),
					DryRun:   viper.GetBool("dry-run"),
				})
				if err != nil {
					e.log.Error("campaign", zap.String("lot", spec.Lot), zap.Error(err))
					summary.Add(runner.Failed)
					continue
				}
				summary.Add(runner.Succeeded)
			}
			return finish(e.log, summary)
		},
	}
	cmd.Flags().StringVar(&campaignsFile, "campaigns", "", "YAML list of {lot, listId, subject, htmlFile}")
	_ = cmd.MarkFlagRequired("campaigns")
	return cmd
}

func retentionCmd() *cobra.Command {
	rc := &cobra.Command{Use: "retention", Short: "Strip data past its retention window"}
	rc.AddCommand(retentionUsersCmd())
	rc.AddCommand(retentionFailedDeclarationsCmd())
	rc.AddCommand(retentionExpiredDeclarationsCmd())
	rc.AddCommand(retentionScrubContactsCmd())
	return rc
}

func newSweeper(cmd *cobra.Command, e *env, lists retention.ListRemover) *retention.Sweeper {
	s := retention.New(e.gateway, lists, e.log)
	s.Workers = viper.GetInt("workers")
	s.Actor = actor(cmd)
	s.DryRun = viper.GetBool("dry-run")
	return s
}

func retentionUsersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users <stage>",
		Short: "Scrub personal data of users inactive past the retention window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(args[0])
			if err != nil {
				return err
			}
			defer e.log.Sync()
			bulk, err := e.bulkMailer()
			if err != nil {
				return err
			}
			summary, err := newSweeper(cmd, e, bulk).SweepUsers(cmd.Context())
			if err != nil {
				return err
			}
			return finish(e.log, summary)
		},
	}
}

func retentionFailedDeclarationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "failed-declarations <stage> <framework>",
		Short: "Remove the declarations of failed applicants",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(args[0])
			if err != nil {
				return err
			}
			defer e.log.Sync()
			summary, err := newSweeper(cmd, e, nil).SweepFailedDeclarations(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			return finish(e.log, summary)
		},
	}
}

func retentionExpiredDeclarationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expired-declarations <stage>",
		Short: "Remove every declaration on long-expired frameworks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(args[0])
			if err != nil {
				return err
			}
			defer e.log.Sync()
			summary, err := newSweeper(cmd, e, nil).SweepExpiredDeclarations(cmd.Context())
			if err != nil {
				return err
			}
			return finish(e.log, summary)
		},
	}
}

func retentionScrubContactsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrub-contacts <stage>",
		Short: "Scrub contact records of suppliers whose users are all scrubbed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(args[0])
			if err != nil {
				return err
			}
			defer e.log.Sync()
			summary, err := newSweeper(cmd, e, nil).ScrubContacts(cmd.Context())
			if err != nil {
				return err
			}
			return finish(e.log, summary)
		},
	}
}

func supplierCmd() *cobra.Command {
	sc := &cobra.Command{Use: "supplier", Short: "One-off supplier maintenance"}
	sc.AddCommand(supplierSwapDUNSCmd())
	return sc
}

func supplierSwapDUNSCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "swap-duns <stage> <supplier-a> <supplier-b>",
		Short: "Exchange the DUNS numbers of two suppliers",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(args[0])
			if err != nil {
				return err
			}
			defer e.log.Sync()
			aID, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("supplier-a: %w", err)
			}
			bID, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("supplier-b: %w", err)
			}
			state, err := lifecycle.SwapDUNS(cmd.Context(), e.gateway, e.log, aID, bID, actor(cmd), viper.GetBool("dry-run"))
			if err != nil {
				if state.FirstParked && !state.SwapComplete {
					fmt.Fprintf(os.Stderr, "supplier %d is parked on placeholder DUNS %s; fix and re-run\n",
						bID, lifecycle.PlaceholderDUNS)
				}
				return err
			}
			return nil
		},
	}
}

func servicesCmd() *cobra.Command {
	sc := &cobra.Command{Use: "services", Short: "Reports over published services"}
	sc.AddCommand(servicesScanTermsCmd())
	return sc
}

func documentsCmd() *cobra.Command {
	dc := &cobra.Command{Use: "documents", Short: "Inspect and tidy stored supplier documents"}
	dc.AddCommand(documentsListCmd())
	dc.AddCommand(documentsRemoveCmd())
	return dc
}

func documentsListCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "list <stage> <framework> <supplier-id>",
		Short: "List a supplier's stored documents on a framework",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(args[0])
			if err != nil {
				return err
			}
			defer e.log.Sync()
			supplierID, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("supplier id %q: %w", args[2], err)
			}
			docs, err := e.objectStore()
			if err != nil {
				return err
			}
			prefix := store.SupplierPrefix(args[1], category, supplierID)
			objects, err := docs.List(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			return printJSONOrTable(objects, func(tw table.Writer) {
				tw.AppendHeader(table.Row{"Key", "Size", "Last modified"})
				for _, obj := range objects {
					tw.AppendRow(table.Row{obj.Key, obj.Size, obj.LastModified.Format(time.RFC3339)})
				}
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", store.CategoryDocuments, "documents or agreements")
	return cmd
}

func documentsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <stage> <key>",
		Short: "Remove one stored document by its canonical key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(args[0])
			if err != nil {
				return err
			}
			defer e.log.Sync()
			// Only canonical keys are deletable; mangled input must not
			// silently no-op against a key that never existed.
			key, err := store.ParseKey(args[1])
			if err != nil {
				return err
			}
			if viper.GetBool("dry-run") {
				e.log.Info("would remove document", zap.String("key", args[1]))
				return nil
			}
			docs, err := e.objectStore()
			if err != nil {
				return err
			}
			if err := docs.Delete(cmd.Context(), args[1]); err != nil {
				return err
			}
			e.log.Info("removed document",
				zap.String("key", args[1]),
				zap.Int("supplier_id", key.SupplierID))
			return nil
		},
	}
}

func servicesScanTermsCmd() *cobra.Command {
	var blocklistFile string
	cmd := &cobra.Command{
		Use:   "scan-terms <stage> <framework>",
		Short: "Report prohibited terms found in service free text (advisory)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(args[0])
			if err != nil {
				return err
			}
			defer e.log.Sync()
			blocklist, err := readLines(blocklistFile)
			if err != nil {
				return err
			}
			matches, err := lifecycle.ScanTerms(cmd.Context(), e.gateway, args[1], blocklist)
			if err != nil {
				return err
			}
			e.log.Info("term scan complete", zap.Int("matches", len(matches)))
			return printJSONOrTable(matches, func(tw table.Writer) {
				tw.AppendHeader(table.Row{"Service", "Supplier", "Field", "Term"})
				for _, m := range matches {
					tw.AppendRow(table.Row{m.Service, m.SupplierID, m.Field, m.Term})
				}
			})
		},
	}
	cmd.Flags().StringVar(&blocklistFile, "blocklist", "", "file with one prohibited term per line")
	_ = cmd.MarkFlagRequired("blocklist")
	return cmd
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

func auditCmd() *cobra.Command {
	ac := &cobra.Command{Use: "audit", Short: "Work through the audit event queue"}
	ac.AddCommand(auditAckCmd())
	return ac
}

func auditAckCmd() *cobra.Command {
	var eventType, objectType, objectID string
	cmd := &cobra.Command{
		Use:   "ack <stage>",
		Short: "Acknowledge matching unacknowledged audit events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(args[0])
			if err != nil {
				return err
			}
			defer e.log.Sync()
			unacked := false
			var summary runner.Summary
			for ev, err := range e.gateway.FindAuditEvents(cmd.Context(), api.AuditFilters{
				Type:         eventType,
				ObjectType:   objectType,
				ObjectID:     objectID,
				Acknowledged: &unacked,
			}) {
				if err != nil {
					return err
				}
				if viper.GetBool("dry-run") {
					e.log.Info("would acknowledge audit event", zap.Int("event_id", ev.ID), zap.String("type", ev.Type))
					summary.Add(runner.Succeeded)
					continue
				}
				if err := e.gateway.AcknowledgeAuditEvent(cmd.Context(), ev.ID, actor(cmd)); err != nil {
					e.log.Error("acknowledge audit event", zap.Int("event_id", ev.ID), zap.Error(err))
					summary.Add(runner.Failed)
					continue
				}
				summary.Add(runner.Succeeded)
			}
			return finish(e.log, summary)
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "audit event type filter")
	cmd.Flags().StringVar(&objectType, "object-type", "", "object type filter")
	cmd.Flags().StringVar(&objectID, "object-id", "", "object id filter")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func searchCmd() *cobra.Command {
	sc := &cobra.Command{Use: "search", Short: "Manage a framework's search index"}
	sc.AddCommand(searchCreateCmd())
	sc.AddCommand(searchSwapCmd())
	return sc
}

func searchCreateCmd() *cobra.Command {
	var mapping string
	cmd := &cobra.Command{
		Use:   "create <stage> <framework>",
		Short: "Create a dated index for the framework",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(args[0])
			if err != nil {
				return err
			}
			defer e.log.Sync()
			search, err := e.search()
			if err != nil {
				return err
			}
			name := api.TimestampedIndexName(args[1], time.Now())
			if viper.GetBool("dry-run") {
				e.log.Info("would create index", zap.String("index", name))
				return nil
			}
			if err := search.CreateIndex(cmd.Context(), name, mapping); err != nil {
				return err
			}
			fmt.Println(name)
			return nil
		},
	}
	cmd.Flags().StringVar(&mapping, "mapping", "services", "mapping name for the new index")
	return cmd
}

func searchSwapCmd() *cobra.Command {
	var index string
	cmd := &cobra.Command{
		Use:   "swap <stage> <framework>",
		Short: "Point the framework alias at an index, keeping the old one behind '-old'",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(args[0])
			if err != nil {
				return err
			}
			defer e.log.Sync()
			search, err := e.search()
			if err != nil {
				return err
			}
			if index == "" {
				index = api.TimestampedIndexName(args[1], time.Now())
			}
			if viper.GetBool("dry-run") {
				e.log.Info("would swap alias", zap.String("alias", args[1]), zap.String("index", index))
				return nil
			}
			return search.SwapAlias(cmd.Context(), args[1], index)
		},
	}
	cmd.Flags().StringVar(&index, "index", "", "target index (default: today's dated index name)")
	return cmd
}
