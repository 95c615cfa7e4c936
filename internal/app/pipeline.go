package app

import (
	"fmt"
	"log/slog"

	"auth-go/internal/config"
	"auth-go/internal/domain"
	"auth-go/internal/mail"
	"auth-go/internal/messaging"
	"auth-go/internal/queue"
)

// Pipeline holds the typed producers and consumers of the registration
// domain: broadcasts go to the primary topic, the mail consumer reads
// them, failures climb the retry and dead-letter topics.
type Pipeline struct {
	Codec         messaging.Codec
	Registrations *messaging.Producer[domain.RegistrationBroadcast]
	Router        *messaging.FailureRouter
	Mail          *messaging.Consumer[domain.RegistrationBroadcast]
	Retry         *messaging.RetryConsumer
}

// NewPipeline builds the pipeline from the kafka configuration section.
func NewPipeline(
	cfg *config.KafkaConfig,
	publisher queue.Producer,
	subscriber queue.Subscriber,
	mailer *mail.Service,
	logger *slog.Logger,
) (*Pipeline, error) {
	codec, err := messaging.NewCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}

	registrations, err := messaging.NewProducer[domain.RegistrationBroadcast](
		ProducerProps(cfg, config.ProducerRegistration), publisher, codec, logger)
	if err != nil {
		return nil, err
	}
	retry, err := messaging.NewProducer[messaging.RetryMessage](
		ProducerProps(cfg, config.ProducerRetry), publisher, codec, logger)
	if err != nil {
		return nil, err
	}
	dlq, err := messaging.NewProducer[messaging.RetryMessage](
		ProducerProps(cfg, config.ProducerDLQ), publisher, codec, logger)
	if err != nil {
		return nil, err
	}

	policy := messaging.RetryPolicy{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		RetryEnabled: cfg.Retry.IsRetryEnabled() && retry.Enabled(),
		DLQEnabled:   cfg.Retry.IsDLQEnabled() && dlq.Enabled(),
		PoisonToDLQ:  cfg.Retry.PoisonToDLQ,
	}
	router, err := messaging.NewFailureRouter(policy, retry, dlq, logger.With("component", "failure-router"))
	if err != nil {
		return nil, err
	}

	mailConsumer, err := messaging.NewConsumer(
		ConsumerProps(cfg, config.ConsumerMail),
		subscriber,
		codec,
		mailer.Handler(router, codec),
		logger,
		messaging.WithPoisonHandler(router.PoisonHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail consumer: %w", err)
	}

	retryConsumer, err := messaging.NewRetryConsumer(
		ConsumerProps(cfg, config.ConsumerRetry),
		subscriber,
		codec,
		router,
		logger,
		mailConsumer,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry consumer: %w", err)
	}

	return &Pipeline{
		Codec:         codec,
		Registrations: registrations,
		Router:        router,
		Mail:          mailConsumer,
		Retry:         retryConsumer,
	}, nil
}

// Consumers returns every consumer of the pipeline in start order.
func (p *Pipeline) Consumers() []Consumer {
	return []Consumer{p.Mail, p.Retry}
}

// ConsumerProps converts the named consumer section into consumer props.
func ConsumerProps(cfg *config.KafkaConfig, name string) messaging.ConsumerProps {
	c := cfg.Consumers[name]
	return messaging.ConsumerProps{
		Name:           name,
		Topic:          c.Topic,
		GroupID:        c.GroupID,
		Brokers:        cfg.Brokers,
		Enabled:        c.IsEnabled(),
		Strategy:       messaging.Strategy(c.Strategy),
		BatchSize:      c.BatchSize,
		Delay:          c.Delay,
		MaxWait:        c.MaxWait,
		OffsetReset:    queue.OffsetReset(c.OffsetReset),
		CommitInterval: c.CommitInterval,
		MaxConcurrency: c.MaxConcurrency,
		Reconnect: messaging.ReconnectPolicy{
			Attempts:  cfg.Reconnect.Attempts,
			Period:    cfg.Reconnect.Period,
			MaxPeriod: cfg.Reconnect.MaxPeriod,
			Jitter:    cfg.Reconnect.Jitter,
		},
	}
}

// ProducerProps converts the named producer section into producer props.
func ProducerProps(cfg *config.KafkaConfig, name string) messaging.ProducerProps {
	p := cfg.Producers[name]
	return messaging.ProducerProps{
		Name:        name,
		Topic:       p.Topic,
		Enabled:     p.IsEnabled(),
		MaxInFlight: p.MaxInFlight,
	}
}
