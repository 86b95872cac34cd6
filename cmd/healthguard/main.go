package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/agenticai/healthguard/internal/api"
	"github.com/agenticai/healthguard/internal/auth"
	"github.com/agenticai/healthguard/internal/config"
	"github.com/agenticai/healthguard/internal/health"
	"github.com/agenticai/healthguard/internal/logging"
	"github.com/agenticai/healthguard/internal/notify"
	"github.com/agenticai/healthguard/internal/objectstore"
	"github.com/agenticai/healthguard/internal/patients"
	"github.com/agenticai/healthguard/internal/steps"
	"github.com/agenticai/healthguard/internal/store"
	"github.com/agenticai/healthguard/internal/workflow"
)

var (
	cfgFile string
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "healthguard",
	Short: "HealthGuard - Diagnosis Workflow Orchestrator",
	Long: `HealthGuard runs multi-step diagnosis workflows: imaging, history,
drug interaction, research and clinical decision analysis fan out in
dependency order and fan back into one aggregated report.

Quick Start:
  1. Start the server:     healthguard server
  2. Create a workflow:    healthguard create --subject patient-1 --step imaging --step history
  3. Watch its progress:   healthguard status <workflow-id>
  4. Fetch the report:     healthguard results <workflow-id>

Dedicated workers can be run separately with: healthguard worker`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var err error
		cfg, err = config.LoadConfig()
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	},
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the HealthGuard API server and embedded workers",
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start queue workers without the API server",
	Run: func(cmd *cobra.Command, args []string) {
		runWorker()
	},
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a diagnosis workflow",
	Long: `Create a diagnosis workflow for a subject.

Examples:
  # Routine workup with two steps
  healthguard create --subject patient-1 --step imaging --step history

  # Critical workup with clinical context
  healthguard create --subject patient-1 --priority critical \
    --step imaging --step history --step drug_interaction --step clinical_decision \
    --context '{"chief_complaint":"chest pain","medications":["warfarin","aspirin"]}'`,
	Run: func(cmd *cobra.Command, args []string) {
		createWorkflow(cmd)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [workflow-id]",
	Short: "Show workflow progress",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		showStatus(args[0])
	},
}

var resultsCmd = &cobra.Command{
	Use:   "results [workflow-id]",
	Short: "Fetch the aggregated report of a completed workflow",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		showResults(args[0])
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [workflow-id]",
	Short: "Request cancellation of a workflow",
	Long: `Request cooperative cancellation. Steps that have not started are
skipped; a step already executing finishes and has its outcome recorded,
but no report is generated. Cancelling a finished workflow is a no-op.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cancelWorkflow(args[0])
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflows for a subject",
	Run: func(cmd *cobra.Command, args []string) {
		listWorkflows(cmd)
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Exchange operator credentials for an API token",
	Run: func(cmd *cobra.Command, args []string) {
		login(cmd)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token signed with the configured secret",
	Run: func(cmd *cobra.Command, args []string) {
		issueToken(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.healthguard/config.yaml)")
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "HealthGuard API address")
	rootCmd.PersistentFlags().String("token", "", "API token (defaults to $HEALTHGUARD_TOKEN)")

	createCmd.Flags().StringP("subject", "s", "", "Subject (patient) identifier (required)")
	createCmd.Flags().StringSliceP("step", "S", []string{}, "Analysis step to run (repeatable)")
	createCmd.Flags().StringP("priority", "p", "routine", "Priority: routine, urgent, emergent or critical")
	createCmd.Flags().StringP("context", "c", "", "Clinical context as a JSON object")
	createCmd.MarkFlagRequired("subject")

	listCmd.Flags().StringP("subject", "s", "", "Subject identifier (required)")
	listCmd.MarkFlagRequired("subject")

	loginCmd.Flags().StringP("username", "u", "", "Operator username")
	loginCmd.Flags().StringP("password", "P", "", "Operator password")
	loginCmd.MarkFlagRequired("username")

	tokenCmd.Flags().StringP("subject", "s", "cli", "Token subject")
	tokenCmd.Flags().StringP("role", "r", "operator", "Token role")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resultsCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(tokenCmd)
}

// runtime bundles everything the server and worker commands share
type runtime struct {
	redisClient *redis.Client
	mongoClient *mongo.Client
	results     workflow.ResultStore
	status      *store.RedisStatusStore
	patientRepo patients.Repository
	registry    *workflow.Registry
	queue       *workflow.Queue
	pool        *workflow.WorkerPool
}

func buildRuntime(ctx context.Context) *runtime {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	logger, err := logging.NewLogger(redisClient, "", true)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	var results workflow.ResultStore
	var patientRepo patients.Repository
	var mongoClient *mongo.Client
	if cfg.Mongo.URI != "" {
		client, mongoStore, err := store.DialMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			log.Fatalf("Failed to connect to MongoDB: %v", err)
		}
		mongoClient = client
		results = mongoStore
		patientRepo = patients.NewMongoRepository(client.Database(cfg.Mongo.Database))
		log.Printf("[Server] Using MongoDB result store (%s)", cfg.Mongo.Database)
	} else {
		results = store.NewRedisResultStore(redisClient)
		patientRepo = patients.NewMemoryRepository()
		log.Printf("[Server] Using Redis result store")
	}

	var objects objectstore.Store
	if cfg.ObjectStore.AccessKey != "" || cfg.ObjectStore.Endpoint != "" {
		objects, err = objectstore.NewS3Store(ctx, objectstore.Config{
			Endpoint:  cfg.ObjectStore.Endpoint,
			Region:    cfg.ObjectStore.Region,
			Bucket:    cfg.ObjectStore.Bucket,
			AccessKey: cfg.ObjectStore.AccessKey,
			SecretKey: cfg.ObjectStore.SecretKey,
		})
		if err != nil {
			log.Fatalf("Failed to initialize object store: %v", err)
		}
	} else {
		objects = objectstore.NewMemoryStore()
	}

	registry, err := steps.NewRegistry(steps.Config{
		Objects:          objects,
		Patients:         patientRepo,
		InteractionsFile: cfg.Workflow.InteractionsFile,
		StepTimeout:      cfg.Workflow.StepTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to build step registry: %v", err)
	}

	statusStore := store.NewRedisStatusStore(redisClient)
	queue := workflow.NewQueue(redisClient)
	orchestrator := workflow.NewOrchestrator(registry, results, statusStore, cfg.Workflow.StatusTTL)

	return &runtime{
		redisClient: redisClient,
		mongoClient: mongoClient,
		results:     results,
		status:      statusStore,
		patientRepo: patientRepo,
		registry:    registry,
		queue:       queue,
		pool:        workflow.NewWorkerPool(queue, orchestrator, cfg.Workflow.Workers),
	}
}

func runServer() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt := buildRuntime(ctx)
	defer rt.redisClient.Close()

	logging.Info("server", "HealthGuard server starting", map[string]interface{}{
		"host":    cfg.Server.Host,
		"port":    cfg.Server.Port,
		"workers": cfg.Workflow.Workers,
	})

	rt.pool.Start(ctx)

	if purger, ok := rt.results.(store.Purger); ok {
		janitor := store.NewJanitor(purger, cfg.Workflow.Retention, "")
		if err := janitor.Start(ctx); err != nil {
			log.Printf("Failed to start retention janitor: %v", err)
		} else {
			defer janitor.Stop()
		}
	}

	hub := notify.NewHub()
	go hub.Run()
	relay := notify.NewRelay(hub, rt.status)
	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Printf("Status relay stopped: %v", err)
		}
	}()

	checks := []health.Check{health.RedisCheck(rt.redisClient)}
	if rt.mongoClient != nil {
		checks = append(checks, health.MongoCheck(rt.mongoClient))
	}
	monitor := health.NewMonitor(0, 0, checks...)
	monitor.Start()
	defer monitor.Stop()

	manager := workflow.NewManager(rt.registry, rt.results, rt.status, rt.queue, cfg.Workflow.StatusTTL)
	authenticator := auth.NewAuthenticator(cfg.Security.JWTSecret, cfg.Security.TokenTTL)
	server := api.NewServer(cfg, manager, rt.patientRepo, hub, authenticator)
	server.AttachMonitor(monitor)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("Shutting down server...")
	cancel()
	rt.pool.Wait()
}

func runWorker() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt := buildRuntime(ctx)
	defer rt.redisClient.Close()

	logging.Info("worker", "HealthGuard worker starting", map[string]interface{}{
		"workers": cfg.Workflow.Workers,
	})
	rt.pool.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("Shutting down workers...")
	cancel()
	rt.pool.Wait()
}

func issueToken(cmd *cobra.Command) {
	subject, _ := cmd.Flags().GetString("subject")
	role, _ := cmd.Flags().GetString("role")

	authenticator := auth.NewAuthenticator(cfg.Security.JWTSecret, cfg.Security.TokenTTL)
	token, err := authenticator.IssueToken(subject, role)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}
	fmt.Println(token)
}
