// Command worker wires the rules engine's pieces together: a control-plane
// rule source, the compiled rule index, the alert-dedup merger, the output
// buffer, the object-store writer, and the control surface that exposes
// health, metrics, and direct rule testing over HTTP.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/gin-gonic/gin"

	"github.com/panther-labs/rules-engine/internal/alertmerge"
	"github.com/panther-labs/rules-engine/internal/api"
	"github.com/panther-labs/rules-engine/internal/buffer"
	"github.com/panther-labs/rules-engine/internal/config"
	"github.com/panther-labs/rules-engine/internal/controlplane"
	"github.com/panther-labs/rules-engine/internal/dispatch"
	"github.com/panther-labs/rules-engine/internal/engine"
	"github.com/panther-labs/rules-engine/internal/ingest"
	"github.com/panther-labs/rules-engine/internal/kafkaxport"
	"github.com/panther-labs/rules-engine/internal/objectstore"
	"github.com/panther-labs/rules-engine/internal/opsnotify"
	"github.com/panther-labs/rules-engine/pkg/models"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("worker exited: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return fmt.Errorf("failed to create aws session: %w", err)
	}

	cpClient, err := controlplane.New(cfg.AnalysisAPIFQDN, cfg.AnalysisAPIPath, cfg.AWSRegion)
	if err != nil {
		return fmt.Errorf("failed to build control-plane client: %w", err)
	}

	ruleEngine, err := engine.New(cpClient, cfg.RuleRefreshTTL)
	if err != nil {
		return fmt.Errorf("failed to perform initial rule load: %w", err)
	}
	if cfg.SlackWebhookURL != "" {
		ruleEngine.SetNotifier(opsnotify.NewSlackNotifier(cfg.SlackWebhookURL))
	}
	ruleEngine.Start()
	defer ruleEngine.Stop()

	redisClient := alertmerge.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()
	merger := alertmerge.New(redisClient)

	writer := objectstore.New(sess, merger, cfg.S3Bucket, cfg.NotificationsTopic)

	outputBuffer := buffer.New(int(cfg.BufferMaxBytes), func(entry models.BufferEntry) error {
		return writer.Write(context.Background(), entry)
	})

	ingestor := ingest.New(&s3ObjectGetter{client: s3.New(sess)}, ruleEngine, outputBuffer)
	dispatcher := dispatch.New(ingestor)

	var consumer *kafkaxport.Consumer
	if cfg.EnableKafka {
		kafkaCfg := kafkaxport.DefaultConsumerConfig()
		kafkaCfg.Brokers = cfg.KafkaBrokers
		kafkaCfg.Topic = cfg.KafkaTopic
		consumer = kafkaxport.NewConsumer(kafkaCfg, dispatcher)
	}

	handlers := api.NewHandlers(dispatcher, ruleEngine, outputBuffer)
	router := gin.Default()
	handlers.SetupRoutes(router)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("http control surface listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server failed: %w", err)
		}
	}()

	if consumer != nil {
		go func() {
			if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("kafka consumer failed: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Println("shutdown signal received")
	case err := <-errCh:
		log.Printf("shutting down after error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("error during http server shutdown: %v", err)
	}
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			log.Printf("error closing kafka consumer: %v", err)
		}
	}

	return nil
}

// s3ObjectGetter adapts the AWS SDK's s3.S3 client to ingest.ObjectGetter.
type s3ObjectGetter struct {
	client *s3.S3
}

func (g *s3ObjectGetter) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := g.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}
