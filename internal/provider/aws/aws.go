// Package aws implements the EC2 provider backend.
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/yairfalse/tally/pkg/resource"
)

// Backend lists and acts on EC2 resources of one account and region.
type Backend struct {
	region    string
	ec2Client EC2API
}

// Config holds AWS backend configuration.
type Config struct {
	Region  string
	Profile string
}

// New creates a backend from the default credential chain.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewWithClient(cfg.Region, ec2.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates a backend with a custom client, for testing.
func NewWithClient(region string, client EC2API) *Backend {
	return &Backend{region: region, ec2Client: client}
}

// Name returns the provider identifier.
func (b *Backend) Name() string {
	return resource.ProviderAWS
}

// Region returns the AWS region.
func (b *Backend) Region() string {
	return b.region
}

// Types returns the EC2 types the backend lists.
func (b *Backend) Types() []resource.Type {
	return resource.TypesFor(resource.ProviderAWS)
}

// ListResources returns the complete listing for one type. Any page failure
// fails the whole listing.
func (b *Backend) ListResources(ctx context.Context, cloudContext string, t resource.Type) ([]resource.RemoteResource, error) {
	switch t {
	case resource.TypeInstance:
		return b.listInstances(ctx, cloudContext)
	case resource.TypeVolume:
		return b.listVolumes(ctx, cloudContext)
	case resource.TypeSnapshot:
		return b.listSnapshots(ctx, cloudContext)
	case resource.TypeSecurityGroup:
		return b.listSecurityGroups(ctx, cloudContext)
	case resource.TypeElasticIP:
		return b.listAddresses(ctx, cloudContext)
	case resource.TypeKeyPair:
		return b.listKeyPairs(ctx, cloudContext)
	case resource.TypeNetworkInterface:
		return b.listNetworkInterfaces(ctx, cloudContext)
	case resource.TypeImage:
		return b.listImages(ctx, cloudContext)
	default:
		return nil, fmt.Errorf("%w: %s", resource.ErrUnsupportedType, t)
	}
}

func convertTags(tags []ec2types.Tag) resource.Tags {
	var out resource.Tags
	for _, tag := range tags {
		out = out.Set(aws.ToString(tag.Key), aws.ToString(tag.Value))
	}
	return out
}

func base(cloudContext, id string, tags []ec2types.Tag) resource.BaseResource {
	labels := convertTags(tags)
	name, _ := labels.Get(resource.NameTag)
	return resource.BaseResource{
		ID:           id,
		CloudContext: cloudContext,
		Name:         name,
		Labels:       labels,
	}
}
