package config

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/illmade-knight/go-queueclient/pkg/backend/memory"
	"github.com/illmade-knight/go-queueclient/pkg/backend/pubsub"
	"github.com/illmade-knight/go-queueclient/pkg/backend/sns"
	"github.com/illmade-knight/go-queueclient/pkg/backend/sqs"
	"github.com/illmade-knight/go-queueclient/pkg/cache"
	"github.com/illmade-knight/go-queueclient/pkg/envelope"
	"github.com/illmade-knight/go-queueclient/pkg/offload"
	"github.com/illmade-knight/go-queueclient/pkg/queue"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// ErrUnknownClient is returned when a name is not in the registry.
var ErrUnknownClient = errors.New("config: unknown client")

const certFetchTimeout = 10 * time.Second

// Registry owns the clients and topics built from a Config.
type Registry struct {
	clients  map[string]*queue.Client
	topics   map[string]*queue.Topic
	closers  []func() error
	memStore *offload.MemoryStore
	gcpOpts  []option.ClientOption
	logger   zerolog.Logger
}

// NewRegistry builds every client in cfg. gcpOpts are passed to the Google Cloud
// clients in addition to any configured credentials file.
//
// Queue types (sqs, pubsub, mock) are available through Client. Types that can
// publish (sns, pubsub with a topic, mock) are available through Topic. A mock
// topic delivers to the mock queue of the same name.
func NewRegistry(ctx context.Context, cfg *Config, logger zerolog.Logger, gcpOpts ...option.ClientOption) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Registry{
		clients:  make(map[string]*queue.Client),
		topics:   make(map[string]*queue.Topic),
		memStore: offload.NewMemoryStore(),
		gcpOpts:  gcpOpts,
		logger:   logger.With().Str("component", "Registry").Logger(),
	}

	names := make([]string, 0, len(cfg.Clients))
	for name := range cfg.Clients {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := r.build(ctx, name, cfg.Clients[name], logger); err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("client %q: %w", name, err)
		}
		r.logger.Info().Str("client", name).Str("type", cfg.Clients[name].Type).Msg("Queue client configured.")
	}
	return r, nil
}

// Client returns the queue client registered under name.
func (r *Registry) Client(name string) (*queue.Client, error) {
	c, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClient, name)
	}
	return c, nil
}

// Topic returns the topic registered under name.
func (r *Registry) Topic(name string) (*queue.Topic, error) {
	t, ok := r.topics[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClient, name)
	}
	return t, nil
}

// Close releases every underlying SDK client.
func (r *Registry) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

func (r *Registry) build(ctx context.Context, name string, c ClientConfig, logger zerolog.Logger) error {
	offloader, err := r.offloader(ctx, c, logger)
	if err != nil {
		return err
	}
	unwrapper, err := r.unwrapper(ctx, c, logger)
	if err != nil {
		return err
	}
	clientCfg := &queue.ClientConfig{Name: name}

	switch c.Type {
	case TypeSQS:
		awsCfg, err := loadAWSConfig(ctx, c)
		if err != nil {
			return err
		}
		api := awssqs.NewFromConfig(awsCfg, func(o *awssqs.Options) {
			if c.Endpoint != "" {
				o.BaseEndpoint = aws.String(c.Endpoint)
			}
		})
		backend, err := sqs.NewBackend(&sqs.Config{QueueURL: c.Resource}, api, logger)
		if err != nil {
			return err
		}
		return r.addClient(name, clientCfg, backend, offloader, unwrapper, logger)

	case TypeSNS:
		awsCfg, err := loadAWSConfig(ctx, c)
		if err != nil {
			return err
		}
		api := awssns.NewFromConfig(awsCfg, func(o *awssns.Options) {
			if c.Endpoint != "" {
				o.BaseEndpoint = aws.String(c.Endpoint)
			}
		})
		publisher, err := sns.NewPublisher(&sns.Config{TopicARN: c.Resource}, api, logger)
		if err != nil {
			return err
		}
		return r.addTopic(name, publisher, offloader, logger)

	case TypePubsub:
		psCfg := &pubsub.Config{
			ProjectID:       c.ProjectID,
			TopicID:         c.Resource,
			SubscriptionID:  c.Subscription,
			CredentialsFile: c.CredentialsFile,
		}
		pub, sub, err := pubsub.NewClients(ctx, psCfg, r.gcpOpts...)
		if err != nil {
			return err
		}
		r.closers = append(r.closers, pub.Close, sub.Close)

		var pubAPI pubsub.PublisherAPI
		var subAPI pubsub.SubscriberAPI
		if c.Resource != "" {
			pubAPI = pub
		}
		if c.Subscription != "" {
			subAPI = sub
		}
		backend, err := pubsub.NewBackend(psCfg, pubAPI, subAPI, logger)
		if err != nil {
			return err
		}
		if err := r.addClient(name, clientCfg, backend, offloader, unwrapper, logger); err != nil {
			return err
		}
		if c.Resource != "" {
			return r.addTopic(name, backend, offloader, logger)
		}
		return nil

	case TypeMock:
		q := memory.NewQueue(memory.LoadDefaultConfig(), logger)
		if err := r.addClient(name, clientCfg, q, offloader, unwrapper, logger); err != nil {
			return err
		}
		return r.addTopic(name, memory.NewTopic(logger, q), offloader, logger)
	}
	return fmt.Errorf("unknown type %q", c.Type)
}

func (r *Registry) addClient(name string, cfg *queue.ClientConfig, backend queue.Backend, offloader *offload.Manager, unwrapper *envelope.Unwrapper, logger zerolog.Logger) error {
	client, err := queue.NewClient(cfg, backend, offloader, unwrapper, logger)
	if err != nil {
		return err
	}
	r.clients[name] = client
	return nil
}

func (r *Registry) addTopic(name string, backend queue.TopicBackend, offloader *offload.Manager, logger zerolog.Logger) error {
	topic, err := queue.NewTopic(backend, offloader, logger)
	if err != nil {
		return err
	}
	r.topics[name] = topic
	return nil
}

// offloader returns nil when large payloads are disabled.
func (r *Registry) offloader(ctx context.Context, c ClientConfig, logger zerolog.Logger) (*offload.Manager, error) {
	lp := c.LargePayload
	if !lp.Enabled {
		return nil, nil
	}

	var store offload.BlobStore
	switch lp.Store {
	case StoreMemory:
		store = r.memStore
	case StoreGCS:
		opts := append([]option.ClientOption{}, r.gcpOpts...)
		if c.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(c.CredentialsFile))
		}
		gcsClient, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		r.closers = append(r.closers, gcsClient.Close)
		gcs, err := offload.NewGCSStore(offload.NewStorageObjects(gcsClient), logger)
		if err != nil {
			return nil, err
		}
		store = gcs
	case StoreS3:
		awsCfg, err := loadAWSConfig(ctx, c)
		if err != nil {
			return nil, err
		}
		api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if c.Endpoint != "" {
				o.BaseEndpoint = aws.String(c.Endpoint)
				o.UsePathStyle = true
			}
		})
		s3Store, err := offload.NewS3Store(api, logger)
		if err != nil {
			return nil, err
		}
		store = s3Store
	default:
		return nil, fmt.Errorf("unknown large payload store %q", lp.Store)
	}

	mcfg := offload.LoadDefaultManagerConfig(lp.Location)
	if lp.KeyPrefix != "" {
		mcfg.KeyPrefix = lp.KeyPrefix
	}
	if lp.Threshold > 0 {
		mcfg.Threshold = lp.Threshold
	}
	return offload.NewManager(mcfg, store, logger)
}

// unwrapper returns an unwrapper with an SNS validator when validation is enabled,
// and a passthrough unwrapper otherwise.
func (r *Registry) unwrapper(ctx context.Context, c ClientConfig, logger zerolog.Logger) (*envelope.Unwrapper, error) {
	v := c.Validation
	ucfg := &envelope.UnwrapperConfig{RequireEnvelope: v.RequireEnvelope}
	if !v.Enabled {
		return envelope.NewUnwrapper(ucfg, nil, logger), nil
	}

	cacheCfg := envelope.LoadDefaultCertificateCacheConfig()
	if v.CertCacheSize > 0 {
		cacheCfg.LRUSize = v.CertCacheSize
	}
	if v.RedisAddr != "" {
		cacheCfg.Redis = &cache.RedisConfig{Addr: v.RedisAddr}
	}
	source := envelope.NewHTTPCertificateSource(&http.Client{Timeout: certFetchTimeout}, logger)
	certs, err := envelope.NewCachedCertificateFetcher(ctx, cacheCfg, source, logger)
	if err != nil {
		return nil, err
	}

	vcfg := envelope.LoadDefaultSNSValidatorConfig()
	if v.CertHostPattern != "" {
		vcfg.CertHostPattern = v.CertHostPattern
	}
	validator, err := envelope.NewSNSValidator(vcfg, certs, logger)
	if err != nil {
		_ = certs.Close()
		return nil, err
	}
	r.closers = append(r.closers, validator.Close)
	return envelope.NewUnwrapper(ucfg, validator, logger), nil
}

func loadAWSConfig(ctx context.Context, c ClientConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(c.Region)}
	if c.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load aws config: %w", err)
	}
	return awsCfg, nil
}
