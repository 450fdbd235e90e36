package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/dental-frontdesk/cmd/mainconfig"
	appconfig "github.com/wolfman30/dental-frontdesk/internal/config"
	"github.com/wolfman30/dental-frontdesk/internal/conversation"
	"github.com/wolfman30/dental-frontdesk/internal/llm"
	"github.com/wolfman30/dental-frontdesk/internal/observability/metrics"
	"github.com/wolfman30/dental-frontdesk/internal/policy"
	"github.com/wolfman30/dental-frontdesk/internal/tasks"
	"github.com/wolfman30/dental-frontdesk/pkg/logging"
)

// cleanup collects shutdown hooks in reverse order of creation.
type cleanup []func()

func (c *cleanup) add(fn func()) { *c = append(*c, fn) }

func (c cleanup) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// awsLoader loads the AWS config once, and only if a component needs it.
type awsLoader struct {
	cfg    *appconfig.Config
	loaded *aws.Config
}

func (l *awsLoader) get(ctx context.Context) (aws.Config, error) {
	if l.loaded != nil {
		return *l.loaded, nil
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, l.cfg)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	l.loaded = &awsCfg
	return awsCfg, nil
}

// loadPolicy starts from the policy file (or the built-in defaults) and
// applies non-zero env overrides.
func loadPolicy(cfg *appconfig.Config) (policy.Policy, error) {
	p := policy.DefaultPolicy()
	if cfg.PolicyFile != "" {
		loaded, err := policy.LoadPolicyFile(cfg.PolicyFile)
		if err != nil {
			return policy.Policy{}, err
		}
		p = loaded
	}
	if cfg.MaxMessageLength > 0 {
		p.MaxMessageLength = cfg.MaxMessageLength
	}
	if cfg.MaxSlotRetries > 0 {
		p.MaxSlotRetries = cfg.MaxSlotRetries
	}
	if err := p.Validate(); err != nil {
		return policy.Policy{}, err
	}
	return p, nil
}

func setupMetrics() (http.Handler, *metrics.PolicyMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewPolicyMetrics(reg)
}

// connectPostgresPool returns nil when no URL is configured or the
// database is unreachable.
func connectPostgresPool(ctx context.Context, url string, logger *logging.Logger) *pgxpool.Pool {
	if url == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("failed to reach postgres", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

// openAuditDB returns nil without DATABASE_URL; audit logging is then off.
func openAuditDB(url string, logger *logging.Logger) *sql.DB {
	if url == "" {
		return nil
	}
	db, err := sql.Open("postgres", url)
	if err != nil {
		logger.Error("failed to open audit database", "error", err)
		return nil
	}
	db.SetMaxOpenConns(5)
	return db
}

// buildConversationStore also returns the cross-instance lock that goes
// with a shared store. The memory store needs none.
func buildConversationStore(cfg *appconfig.Config, hooks *cleanup) (conversation.Store, conversation.Locker, error) {
	switch cfg.ConversationStore {
	case "", "memory":
		return conversation.NewMemoryStore(), nil, nil
	case "redis":
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		client := redis.NewClient(opts)
		hooks.add(func() { _ = client.Close() })
		return conversation.NewRedisStore(client, cfg.ConversationTTL, nil),
			conversation.NewRedisLocker(client, cfg.ConversationLockTTL), nil
	default:
		return nil, nil, fmt.Errorf("unknown CONVERSATION_STORE %q", cfg.ConversationStore)
	}
}

func buildTaskStore(ctx context.Context, cfg *appconfig.Config, pool *pgxpool.Pool, awsCfg *awsLoader, logger *logging.Logger) (tasks.Store, error) {
	switch cfg.TaskStore {
	case "", "memory":
		return tasks.NewMemoryStore(), nil
	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("TASK_STORE=postgres needs a reachable DATABASE_URL")
		}
		return tasks.NewPostgresStore(pool), nil
	case "dynamodb":
		loaded, err := awsCfg.get(ctx)
		if err != nil {
			return nil, err
		}
		return tasks.NewDynamoStore(dynamodb.NewFromConfig(loaded), cfg.TasksTable, logger), nil
	default:
		return nil, fmt.Errorf("unknown TASK_STORE %q", cfg.TaskStore)
	}
}

// buildSafety returns the rule classifier, wrapped with a model check
// when SAFETY_MODEL_PROVIDER names one.
func buildSafety(ctx context.Context, cfg *appconfig.Config, p policy.Policy, awsCfg *awsLoader, hooks *cleanup) (policy.SafetyClassifier, error) {
	rules, err := policy.NewRuleSafetyClassifier(p.SafetyRules)
	if err != nil {
		return nil, err
	}

	var (
		client llm.Client
		model  string
	)
	switch cfg.SafetyModelProvider {
	case "", "none":
		return rules, nil
	case "bedrock":
		if cfg.BedrockModelID == "" {
			return nil, fmt.Errorf("BEDROCK_MODEL_ID is required for the bedrock safety model")
		}
		loaded, err := awsCfg.get(ctx)
		if err != nil {
			return nil, err
		}
		client, model = llm.NewBedrockClient(bedrockruntime.NewFromConfig(loaded)), cfg.BedrockModelID
	case "gemini":
		gemini, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, err
		}
		hooks.add(func() { _ = gemini.Close() })
		client, model = gemini, cfg.GeminiModelID
	default:
		return nil, fmt.Errorf("unknown SAFETY_MODEL_PROVIDER %q", cfg.SafetyModelProvider)
	}
	return &policy.HybridSafetyClassifier{
		Rules: rules,
		Model: policy.NewModelSafetyClassifier(client, model, cfg.SafetyModelTimeout),
	}, nil
}
