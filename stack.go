package main

import (
	"fmt"
	"strconv"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/cloudwatch"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// imageSourcePaths is everything app/Dockerfile copies into the build stage.
var imageSourcePaths = []string{"app", "internal", "go.mod", "go.sum"}

// Stack is one environment of the QR service. Outputs holds the values
// published as stack exports.
type Stack struct {
	cfg   AppConfig
	namer Namer

	Network      *Network
	Cache        *KeyValueStore
	DataStore    *DataStore
	Image        *ContainerImage
	LoadBalancer *LoadBalancer
	Service      *EcsService
	Function     *ComputeService
	Dashboard    *Dashboard

	Outputs map[string]pulumi.Input
}

func NewStack(ctx *pulumi.Context, cfg AppConfig) (*Stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	s := &Stack{
		cfg:     cfg,
		namer:   NewNamer(cfg),
		Outputs: map[string]pulumi.Input{},
	}
	ctx.Log.Info(fmt.Sprintf("declaring %s stack %s (tier %s, cache %t)",
		cfg.Variant, s.namer.Prefix(), cfg.Tier, cfg.EnableCache), nil)

	var err error
	switch cfg.Variant {
	case VariantServerless:
		err = s.declareServerless(ctx)
	case VariantContainer:
		err = s.declareContainer(ctx)
	default:
		err = fmt.Errorf("unknown variant %q", cfg.Variant)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Export publishes every output of the stack.
func (s *Stack) Export(ctx *pulumi.Context) {
	for k, v := range s.Outputs {
		ctx.Export(k, v)
	}
}

func (s *Stack) declareServerless(ctx *pulumi.Context) error {
	var err error
	env := map[string]pulumi.StringInput{
		"ENVIRONMENT": pulumi.String(s.cfg.Environment),
		"REGION":      pulumi.String(s.cfg.Region),
	}

	var placement *Placement
	if s.cfg.EnableCache {
		s.Cache, err = NewKeyValueStore(ctx, s.namer, KeyValueStoreArgs{})
		if err != nil {
			return err
		}
		placement = s.Cache.Placement()
		env["REDIS_URL"] = s.Cache.ConnectionURL
		s.Outputs["cacheEndpoint"] = s.Cache.Endpoint
	}

	codePath, err := BuildFunctionBundle(ctx, BundleArgs{OutDir: s.cfg.CodePath})
	if err != nil {
		return err
	}
	s.Function, err = NewComputeService(ctx, s.namer, ComputeServiceArgs{
		CodePath:         codePath,
		Environment:      env,
		LogRetentionDays: s.cfg.LogRetentionDays(),
		Placement:        placement,
	})
	if err != nil {
		return err
	}

	s.Dashboard, err = NewDashboard(ctx, s.namer, s.cfg.Region, lambdaWidgets(s.Function.FunctionName))
	if err != nil {
		return err
	}

	s.Outputs["functionName"] = s.Function.FunctionName
	s.Outputs["functionArn"] = s.Function.FunctionArn
	s.Outputs["functionUrl"] = s.Function.FunctionURL
	s.Outputs["serviceUrl"] = s.Function.FunctionURL
	s.Outputs["logGroupName"] = s.Function.LogGroupName
	s.Outputs["logStreamUrl"] = logStreamURL(s.cfg.Region, s.Function.LogGroupName)
	s.Outputs["dashboardUrl"] = s.Dashboard.URL
	return nil
}

func (s *Stack) declareContainer(ctx *pulumi.Context) error {
	var err error
	if s.cfg.NatStrategy == NatNone {
		ctx.Log.Warn("natStrategy None leaves the private subnets without internet egress; image pulls need VPC endpoints", nil)
	}
	s.Network, err = NewNetwork(ctx, s.namer, NetworkArgs{
		CidrBlock:         s.cfg.VpcCidr,
		AvailabilityZones: s.cfg.AvailabilityZones,
		NatStrategy:       s.cfg.NatStrategy,
	})
	if err != nil {
		return err
	}

	s.DataStore, err = NewDataStore(ctx, s.namer, dataStoreArgsFor(s.cfg))
	if err != nil {
		return err
	}

	s.Image, err = NewContainerImage(ctx, s.namer, ContainerImageArgs{
		SourcePaths: imageSourcePaths,
		RetainCount: s.cfg.ImageRetainCount,
		ForceDelete: !s.cfg.IsProd(),
	})
	if err != nil {
		return err
	}

	logGroup, err := cloudwatch.NewLogGroup(ctx, s.namer.Name("logs"), &cloudwatch.LogGroupArgs{
		Name:            pulumi.String(containerLogGroupName(s.namer)),
		RetentionInDays: pulumi.Int(s.cfg.LogRetentionDays()),
		Tags:            s.namer.Tags("logs", nil),
	})
	if err != nil {
		return fmt.Errorf("Error creating log group: %w", err)
	}

	s.LoadBalancer, err = NewLoadBalancer(ctx, s.namer, LoadBalancerArgs{
		network:           s.Network,
		targetPort:        s.cfg.ContainerPort,
		deletionProtected: s.cfg.IsProd(),
	})
	if err != nil {
		return err
	}

	env := map[string]pulumi.StringInput{
		"ENVIRONMENT":        pulumi.String(s.cfg.Environment),
		"PORT":               pulumi.String(strconv.Itoa(s.cfg.ContainerPort)),
		"AWS_DEFAULT_REGION": pulumi.String(s.cfg.Region),
		"DYNAMODB_TABLE":     s.DataStore.TableName,
	}
	if s.cfg.EnableCache {
		s.Cache, err = NewKeyValueStore(ctx, s.namer, KeyValueStoreArgs{
			Placement: s.Network.PrivatePlacement(),
		})
		if err != nil {
			return err
		}
		env["REDIS_URL"] = s.Cache.ConnectionURL
		s.Outputs["cacheEndpoint"] = s.Cache.Endpoint
	}

	cpu, memory := s.cfg.TaskSize()
	s.Service, err = NewEcsService(ctx, s.namer, EcsServiceArgs{
		image:        s.Image,
		network:      s.Network,
		loadBalancer: s.LoadBalancer,
		logGroup:     logGroup,
		region:       s.cfg.Region,
		port:         s.cfg.ContainerPort,
		cpu:          cpu,
		memory:       memory,
		scaling:      s.cfg.Scaling(),
		environment:  env,
		taskPolicy:   s.DataStore.AccessPolicy(),
	})
	if err != nil {
		return err
	}

	widgets := append(ecsWidgets(s.Service.ClusterName, s.Service.ServiceName), albWidgets(s.LoadBalancer.ArnSuffix)...)
	s.Dashboard, err = NewDashboard(ctx, s.namer, s.cfg.Region, widgets)
	if err != nil {
		return err
	}

	s.Outputs["vpcId"] = s.Network.VpcID
	s.Outputs["clusterName"] = s.Service.ClusterName
	s.Outputs["serviceName"] = s.Service.ServiceName
	s.Outputs["repositoryUrl"] = s.Image.RepositoryURL
	s.Outputs["applicationUrl"] = s.Service.Endpoint
	s.Outputs["serviceUrl"] = s.Service.Endpoint
	s.Outputs["albDnsName"] = s.LoadBalancer.DNSName
	s.Outputs["albZoneId"] = s.LoadBalancer.ZoneID
	s.Outputs["tableName"] = s.DataStore.TableName
	s.Outputs["logGroupName"] = logGroup.Name
	s.Outputs["logStreamUrl"] = logStreamURL(s.cfg.Region, logGroup.Name)
	s.Outputs["dashboardUrl"] = s.Dashboard.URL
	return nil
}
