package main

import (
	"errors"
	"fmt"
	"regexp"

	ec2_classic "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/elasticache"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

const (
	redisPort           = 6379
	defaultSnapshotTime = "03:00"
)

var (
	errNoCacheEndpoint  = errors.New("cache reported no endpoint")
	errNoIngressSource  = errors.New("placement has no cidr block and no allowed sources were given")
	snapshotTimePattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)
)

type KeyValueStoreArgs struct {
	// Description defaults to a generic label when empty.
	Description string
	// SnapshotTime is the daily snapshot start in HH:MM (UTC).
	SnapshotTime string
	// Placement defaults to the account's default VPC.
	Placement *Placement
	// AllowedCidrBlocks defaults to the placement's address block.
	AllowedCidrBlocks     []string
	AllowedSecurityGroups []*ec2_classic.SecurityGroup
}

// KeyValueStore is a serverless Redis cache plus the security group guarding it.
type KeyValueStore struct {
	sg        *ec2_classic.SecurityGroup
	cache     *elasticache.ServerlessCache
	placement *Placement

	Endpoint      pulumi.StringOutput
	ConnectionURL pulumi.StringOutput
}

func NewKeyValueStore(ctx *pulumi.Context, namer Namer, args KeyValueStoreArgs) (*KeyValueStore, error) {
	var err error
	kv := &KeyValueStore{}

	snapshot := args.SnapshotTime
	if snapshot == "" {
		snapshot = defaultSnapshotTime
	}
	if !snapshotTimePattern.MatchString(snapshot) {
		return nil, fmt.Errorf("snapshot time %q is not HH:MM", snapshot)
	}
	description := args.Description
	if description == "" {
		description = "Serverless key-value store for application state"
	}

	kv.placement = args.Placement
	if kv.placement == nil {
		ctx.Log.Info("no placement given for key-value store, using the default vpc", nil)
		kv.placement, err = DefaultPlacement(ctx)
		if err != nil {
			return nil, err
		}
	}

	cidrs := args.AllowedCidrBlocks
	if len(cidrs) == 0 && len(args.AllowedSecurityGroups) == 0 {
		if kv.placement.CidrBlock == "" {
			return nil, errNoIngressSource
		}
		cidrs = []string{kv.placement.CidrBlock}
	}
	rules := []ingressRule{}
	if len(cidrs) > 0 {
		rules = append(rules, ingressFromCidrs(redisPort, "Redis from permitted networks", cidrs...))
	}
	if len(args.AllowedSecurityGroups) > 0 {
		rules = append(rules, ingressFromGroups(redisPort, "Redis from permitted groups", args.AllowedSecurityGroups...))
	}
	ingress, err := buildIngress(rules...)
	if err != nil {
		return nil, fmt.Errorf("Error building cache ingress: %w", err)
	}

	storageTags := map[string]string{
		"storage:component": "true",
		"storage:type":      "key-value",
		"storage:engine":    "redis",
	}
	kv.sg, err = ec2_classic.NewSecurityGroup(ctx, namer.Name("cache-sg"), &ec2_classic.SecurityGroupArgs{
		Description:         pulumi.String("Security group for key-value store"),
		VpcId:               kv.placement.VpcID,
		Ingress:             ingress,
		Egress:              egressAll(),
		RevokeRulesOnDelete: pulumi.Bool(true),
		Tags:                namer.Tags("cache-sg", storageTags),
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating cache security group: %w", err)
	}

	cacheTags := map[string]string{"storage:serverless": "true"}
	for k, v := range storageTags {
		cacheTags[k] = v
	}
	kv.cache, err = elasticache.NewServerlessCache(ctx, namer.Name("cache"), &elasticache.ServerlessCacheArgs{
		Engine:            pulumi.String("redis"),
		Name:              pulumi.String(sanitizeCacheName(namer.Name("cache"))),
		Description:       pulumi.String(description),
		DailySnapshotTime: pulumi.String(snapshot),
		SubnetIds:         subnetsOf(kv.placement),
		SecurityGroupIds:  pulumi.StringArray{kv.sg.ID()},
		Tags:              namer.Tags("cache", cacheTags),
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating serverless cache: %w", err)
	}

	kv.Endpoint = kv.cache.Endpoints.Index(pulumi.Int(0)).Address().ApplyT(endpointAddress).(pulumi.StringOutput)
	kv.ConnectionURL = pulumi.Sprintf("rediss://%s:%d", kv.Endpoint, redisPort)

	return kv, nil
}

// Placement returns where the cache lives so that clients can be put next to it.
func (kv *KeyValueStore) Placement() *Placement {
	return kv.placement
}

// endpointAddress turns the first reported endpoint address into a usable
// host. An empty address rejects the output rather than resolving to "".
func endpointAddress(v interface{}) (string, error) {
	switch addr := v.(type) {
	case string:
		if addr != "" {
			return addr, nil
		}
	case *string:
		if addr != nil && *addr != "" {
			return *addr, nil
		}
	}
	return "", errNoCacheEndpoint
}
