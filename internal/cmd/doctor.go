package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/fsnotify/fsnotify"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gotempus/internal/config"
	errwrap "github.com/3leaps/gotempus/internal/errors"
	"github.com/3leaps/gotempus/internal/observability"
	"github.com/3leaps/gotempus/pkg/manifest"
	"github.com/3leaps/gotempus/pkg/runstore"
)

var (
	doctorProvider string
	doctorRegion   string
)

// doctorSampleManifest is the smallest manifest the schema accepts; the
// schema self-test validates it after compiling the embedded schema.
const doctorSampleManifest = `{
  "version": "1.0",
  "source": {"type": "file", "path": "/var/log/jobs"},
  "match": {"includes": ["**/*.log"]}
}`

// imdsProbeTimeout bounds the advisory region probe; off EC2 the
// metadata endpoint does not answer.
const imdsProbeTimeout = 2 * time.Second

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the system and suggest fixes for common issues.

Examples:
  gotempus doctor                # Full environment check
  gotempus doctor --provider s3  # S3-specific checks`,
	Run: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorProvider, "provider", "", "Run provider-specific checks (s3)")
	doctorCmd.Flags().StringVar(&doctorRegion, "region", "", "AWS region for the S3 checks")
}

func runDoctor(cmd *cobra.Command, args []string) {
	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	observability.CLILogger.Info("=== " + bannerName + " ===")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Running diagnostic checks...")
	observability.CLILogger.Info("")

	allChecks := true
	checkNum := 1
	totalChecks := 8

	// Add S3 checks if provider specified
	if doctorProvider == "s3" {
		totalChecks = 10
	}

	// Check 1: Go version
	goVersion := runtime.Version()
	if goVersion >= "go1.23" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Go version... ✅ %s", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
	} else {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
		allChecks = false
	}
	checkNum++

	// Check 2: Crucible access
	version := crucible.GetVersion()
	if version.Crucible != "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Crucible access... ✅ v%s", checkNum, totalChecks, version.Crucible),
			zap.String("crucible_version", version.Crucible))
	} else {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Crucible access... ❌ Cannot access Crucible", checkNum, totalChecks))
		ExitWithCode(observability.CLILogger, foundry.ExitExternalServiceUnavailable, "Cannot access Crucible",
			errwrap.NewExternalServiceError("Crucible service unavailable"))
		allChecks = false
	}
	checkNum++

	// Check 3: Gofulmen access
	if version.Gofulmen != "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ✅ v%s", checkNum, totalChecks, version.Gofulmen),
			zap.String("gofulmen_version", version.Gofulmen))
	} else {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ❌ Cannot access Gofulmen", checkNum, totalChecks))
		allChecks = false
	}
	checkNum++

	// Check 4: Config resolution
	cfg, err := config.Load(cmd.Context())
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking config resolution... ❌ Cannot load configuration", checkNum, totalChecks),
			zap.Error(err))
		allChecks = false
	} else {
		configDir, dirErr := os.UserConfigDir()
		if dirErr != nil {
			configDir = "(unavailable)"
		}
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking config resolution... ✅ server %s:%d", checkNum, totalChecks, cfg.Server.Host, cfg.Server.Port),
			zap.String("config_dir", configDir),
			zap.String("log_level", cfg.Logging.Level),
			zap.Bool("history_enabled", cfg.History.Enabled))
	}
	checkNum++

	// Check 5: Manifest schema
	if err := manifest.ValidateRaw([]byte(doctorSampleManifest)); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking manifest schema... ❌ Embedded schema rejected the sample manifest", checkNum, totalChecks),
			zap.Error(err))
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking manifest schema... ✅ %s", checkNum, totalChecks, manifest.SchemaID),
			zap.String("schema_id", manifest.SchemaID))
	}
	checkNum++

	// Check 6: History store
	if err := checkHistoryStore(cmd.Context()); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking history store... ❌ SQLite unavailable", checkNum, totalChecks),
			zap.Error(err))
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking history store... ✅ open, migrate, ping", checkNum, totalChecks))
	}
	checkNum++

	// Check 7: Watcher support
	if watcher, err := fsnotify.NewWatcher(); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking watcher support... ❌ Cannot create watcher", checkNum, totalChecks),
			zap.Error(err))
		allChecks = false
	} else {
		_ = watcher.Close()
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking watcher support... ✅ fsnotify available", checkNum, totalChecks))
	}
	checkNum++

	// Check 8: Environment
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking environment... ✅ %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))
	checkNum++

	// S3-specific checks
	if doctorProvider == "s3" {
		allChecks = runS3Checks(cmd.Context(), checkNum, totalChecks, allChecks)
	}

	observability.CLILogger.Info("")
	if allChecks {
		observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	observability.CLILogger.Info("")
	observability.CLILogger.Info("=== End Diagnostics ===")
}

// checkHistoryStore opens an in-memory store, applies the schema, and
// pings it.
func checkHistoryStore(ctx context.Context) error {
	db, err := runstore.Open(ctx, runstore.Config{Path: ":memory:"})
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := runstore.Migrate(ctx, db); err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// runS3Checks runs S3-specific diagnostic checks.
func runS3Checks(ctx context.Context, checkNum, totalChecks int, allChecks bool) bool {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("S3 Provider Checks:")

	// Check 9: AWS credentials
	var opts []func(*awsconfig.LoadOptions) error
	if doctorRegion != "" {
		opts = append(opts, awsconfig.WithRegion(doctorRegion))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot load AWS config", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot retrieve credentials", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	// Mask the access key for display
	maskedKey := maskAccessKey(creds.AccessKeyID)
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ✅ Found credentials", checkNum, totalChecks),
		zap.String("access_key", maskedKey),
		zap.String("source", creds.Source))
	checkNum++

	// Check 10: Region resolution. Off EC2 a missing region stays a
	// warning; the run command also falls back to us-east-1.
	if cfg.Region != "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking region... ✅ %s", checkNum, totalChecks, cfg.Region),
			zap.String("region", cfg.Region))
		return allChecks
	}

	probeCtx, cancel := context.WithTimeout(ctx, imdsProbeTimeout)
	defer cancel()

	out, err := imds.NewFromConfig(cfg).GetRegion(probeCtx, &imds.GetRegionInput{})
	if err != nil {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking region... ⚠️  No region configured (set AWS_REGION or use --region)", checkNum, totalChecks),
			zap.Error(err))
		return allChecks
	}

	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking region... ✅ %s (instance metadata)", checkNum, totalChecks, out.Region),
		zap.String("region", out.Region))
	return allChecks
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure AWS credentials:")
	observability.CLILogger.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	observability.CLILogger.Info("  2. Run 'aws configure' to set up a profile, or")
	observability.CLILogger.Info("  3. Use IAM role when running on AWS infrastructure")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also set:")
	observability.CLILogger.Info("  - AWS_ENDPOINT_URL or use --endpoint flag")
	observability.CLILogger.Info("")
}
