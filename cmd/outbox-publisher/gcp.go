package main

import (
	"context"
	"errors"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

type topicSource interface {
	Publisher(name string) *gcppubsub.Publisher
}

// gcpPublishers adapts the pubsub client to the relay's publisher source.
func gcpPublishers(src topicSource) func(topic string) publisher {
	return func(topic string) publisher {
		p := src.Publisher(topic)
		if p == nil {
			return nil
		}
		return gcpPublisher{p}
	}
}

type gcpPublisher struct {
	p *gcppubsub.Publisher
}

func (g gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return gcpResult{g.p.Publish(ctx, msg)}
}

func (g gcpPublisher) ResumePublish(orderingKey string) {
	g.p.ResumePublish(orderingKey)
}

type gcpResult struct {
	r *gcppubsub.PublishResult
}

func (g gcpResult) Get(ctx context.Context) (string, error) {
	if g.r == nil {
		return "", errors.New("publish result is nil")
	}
	return g.r.Get(ctx)
}
