package main

import (
	"fmt"
	"sort"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/appautoscaling"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/cloudwatch"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ecs"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/iam"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

const containerName = "app"

// ScalingPolicy bounds the replica count of the container service and sets the
// CPU utilisation it tracks.
type ScalingPolicy struct {
	Min       int
	Max       int
	Desired   int
	TargetCPU float64
	// Cooldown applies to both scale-in and scale-out, in seconds.
	Cooldown int
}

func (p ScalingPolicy) validate() error {
	if p.Min < 1 || p.Max < p.Min {
		return fmt.Errorf("scaling bounds %d..%d are invalid", p.Min, p.Max)
	}
	if p.Desired < p.Min || p.Desired > p.Max {
		return fmt.Errorf("desired count %d outside %d..%d", p.Desired, p.Min, p.Max)
	}
	if p.TargetCPU <= 0 || p.TargetCPU > 100 {
		return fmt.Errorf("cpu target %.0f is not a percentage", p.TargetCPU)
	}
	return nil
}

type EcsServiceArgs struct {
	image        *ContainerImage
	network      *Network
	loadBalancer *LoadBalancer
	logGroup     *cloudwatch.LogGroup
	region       string
	port         int
	cpu          string
	memory       string
	scaling      ScalingPolicy
	environment  map[string]pulumi.StringInput
	// taskPolicy is an inline policy document granted to the running task.
	taskPolicy pulumi.StringInput
}

// EcsService runs the application image on Fargate behind the load balancer.
type EcsService struct {
	cluster *ecs.Cluster
	service *ecs.Service
	sg      *ec2.SecurityGroup
	port    int

	ClusterName pulumi.StringOutput
	ServiceName pulumi.StringOutput
	Endpoint    pulumi.StringOutput
}

func NewEcsService(ctx *pulumi.Context, namer Namer, args EcsServiceArgs) (*EcsService, error) {
	ecsService := &EcsService{
		port: args.port,
	}
	if err := args.scaling.validate(); err != nil {
		return nil, err
	}

	var err error
	ecsService.cluster, err = ecs.NewCluster(ctx, namer.Name("cluster"), &ecs.ClusterArgs{
		Name: pulumi.String(namer.Name("cluster")),
		Settings: ecs.ClusterSettingArray{
			ecs.ClusterSettingArgs{
				Name:  pulumi.String("containerInsights"),
				Value: pulumi.String("enabled"),
			},
		},
		Tags: namer.Tags("cluster", nil),
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating cluster: %w", err)
	}

	containerDef := pulumi.JSONMarshal([]interface{}{
		map[string]interface{}{
			"name":      containerName,
			"image":     args.image.ImageRef,
			"essential": true,
			"portMappings": []map[string]interface{}{
				{
					"containerPort": args.port,
					"protocol":      "tcp",
				},
			},
			"environment": containerEnvironment(args.environment),
			"healthCheck": map[string]interface{}{
				"command":     []string{"CMD", "/app", "healthcheck"},
				"interval":    30,
				"timeout":     5,
				"retries":     3,
				"startPeriod": 60,
			},
			"logConfiguration": map[string]interface{}{
				"logDriver": "awslogs",
				"options": map[string]interface{}{
					"awslogs-group":         args.logGroup.Name,
					"awslogs-region":        args.region,
					"awslogs-stream-prefix": "ecs",
				},
			},
		},
	})

	execAssumeRolePolicy, err := ecsTasksAssumeRolePolicy(ctx)
	if err != nil {
		return nil, fmt.Errorf("Error creating execAssumeRolePolicy: %w", err)
	}
	executionRole, err := iam.NewRole(ctx, namer.Name("execution-role"), &iam.RoleArgs{
		Name:             pulumi.String(namer.Name("execution-role")),
		AssumeRolePolicy: pulumi.String(execAssumeRolePolicy),
		Tags:             namer.Tags("execution-role", nil),
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating execution role: %w", err)
	}
	if _, err := attachPolicies(ctx, namer, executionRole,
		managedPolicy{"execution-role-policy", iam.ManagedPolicyAmazonECSTaskExecutionRolePolicy},
		managedPolicy{"ecr-policy", iam.ManagedPolicyAmazonEC2ContainerRegistryReadOnly},
	); err != nil {
		return nil, err
	}

	taskRole, err := iam.NewRole(ctx, namer.Name("task-role"), &iam.RoleArgs{
		Name:             pulumi.String(namer.Name("task-role")),
		AssumeRolePolicy: pulumi.String(execAssumeRolePolicy),
		Tags:             namer.Tags("task-role", nil),
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating task role: %w", err)
	}
	if args.taskPolicy != nil {
		_, err = iam.NewRolePolicy(ctx, namer.Name("task-dynamodb-policy"), &iam.RolePolicyArgs{
			Role:   taskRole.ID(),
			Policy: args.taskPolicy,
		})
		if err != nil {
			return nil, fmt.Errorf("Error creating task policy: %w", err)
		}
	}

	taskdef, err := ecs.NewTaskDefinition(ctx, namer.Name("task"), &ecs.TaskDefinitionArgs{
		ContainerDefinitions:    containerDef,
		Family:                  pulumi.String(namer.Name("app")),
		Cpu:                     pulumi.String(args.cpu),
		Memory:                  pulumi.String(args.memory),
		ExecutionRoleArn:        executionRole.Arn,
		TaskRoleArn:             taskRole.Arn,
		RequiresCompatibilities: pulumi.ToStringArray([]string{"FARGATE"}),
		NetworkMode:             pulumi.String("awsvpc"),
		RuntimePlatform: ecs.TaskDefinitionRuntimePlatformArgs{
			CpuArchitecture:       pulumi.String("ARM64"),
			OperatingSystemFamily: pulumi.String("LINUX"),
		},
		Tags: namer.Tags("task", nil),
	}, pulumi.DependsOn([]pulumi.Resource{args.image.image}))
	if err != nil {
		return nil, fmt.Errorf("Error creating taskdef: %w", err)
	}

	ingress, err := buildIngress(ingressFromGroups(args.port, "Traffic from ALB", args.loadBalancer.sg))
	if err != nil {
		return nil, err
	}
	sg, err := ec2.NewSecurityGroup(ctx, namer.Name("app-sg"), &ec2.SecurityGroupArgs{
		Name:                pulumi.String(namer.Name("app-sg")),
		Description:         pulumi.String("Security group for ECS tasks"),
		Egress:              egressAll(),
		VpcId:               args.network.VpcID,
		Ingress:             ingress,
		RevokeRulesOnDelete: pulumi.Bool(true),
		Tags:                namer.Tags("app-sg", nil),
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating security group: %w", err)
	}
	ecsService.sg = sg

	// The listener must exist before the target group can take registrations.
	ecsService.service, err = ecs.NewService(ctx, namer.Name("service"), &ecs.ServiceArgs{
		Name:                            pulumi.String(namer.Name("service")),
		Cluster:                         ecsService.cluster.Arn,
		DesiredCount:                    pulumi.Int(args.scaling.Desired),
		DeploymentMaximumPercent:        pulumi.Int(200),
		DeploymentMinimumHealthyPercent: pulumi.Int(50),
		DeploymentCircuitBreaker: ecs.ServiceDeploymentCircuitBreakerArgs{
			Enable:   pulumi.Bool(true),
			Rollback: pulumi.Bool(true),
		},
		LaunchType:         pulumi.String("FARGATE"),
		WaitForSteadyState: pulumi.Bool(true),
		NetworkConfiguration: ecs.ServiceNetworkConfigurationArgs{
			AssignPublicIp: pulumi.Bool(false),
			SecurityGroups: pulumi.StringArray{ecsService.sg.ID()},
			Subnets:        args.network.PrivateSubnetIDs,
		},
		LoadBalancers: ecs.ServiceLoadBalancerArray{
			ecs.ServiceLoadBalancerArgs{
				TargetGroupArn: args.loadBalancer.targetGroup.Arn,
				ContainerName:  pulumi.String(containerName),
				ContainerPort:  pulumi.Int(args.port),
			},
		},
		TaskDefinition: taskdef.Arn,
		Tags:           namer.Tags("service", nil),
	}, pulumi.DependsOn([]pulumi.Resource{args.loadBalancer.listener}))
	if err != nil {
		return nil, fmt.Errorf("Error creating service: %w", err)
	}

	target, err := appautoscaling.NewTarget(ctx, namer.Name("scaling-target"), &appautoscaling.TargetArgs{
		MinCapacity:       pulumi.Int(args.scaling.Min),
		MaxCapacity:       pulumi.Int(args.scaling.Max),
		ResourceId:        pulumi.Sprintf("service/%s/%s", ecsService.cluster.Name, ecsService.service.Name),
		ScalableDimension: pulumi.String("ecs:service:DesiredCount"),
		ServiceNamespace:  pulumi.String("ecs"),
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating scaling target: %w", err)
	}
	_, err = appautoscaling.NewPolicy(ctx, namer.Name("cpu-scaling"), &appautoscaling.PolicyArgs{
		Name:              pulumi.String(namer.Name("cpu-scaling")),
		PolicyType:        pulumi.String("TargetTrackingScaling"),
		ResourceId:        target.ResourceId,
		ScalableDimension: target.ScalableDimension,
		ServiceNamespace:  target.ServiceNamespace,
		TargetTrackingScalingPolicyConfiguration: &appautoscaling.PolicyTargetTrackingScalingPolicyConfigurationArgs{
			PredefinedMetricSpecification: &appautoscaling.PolicyTargetTrackingScalingPolicyConfigurationPredefinedMetricSpecificationArgs{
				PredefinedMetricType: pulumi.String("ECSServiceAverageCPUUtilization"),
			},
			TargetValue:      pulumi.Float64(args.scaling.TargetCPU),
			ScaleInCooldown:  pulumi.Int(args.scaling.Cooldown),
			ScaleOutCooldown: pulumi.Int(args.scaling.Cooldown),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating scaling policy: %w", err)
	}

	ecsService.ClusterName = ecsService.cluster.Name
	ecsService.ServiceName = ecsService.service.Name
	ecsService.Endpoint = args.loadBalancer.URL

	return ecsService, nil
}

func ecsTasksAssumeRolePolicy(ctx *pulumi.Context) (string, error) {
	policy, err := iam.GetPolicyDocument(ctx, &iam.GetPolicyDocumentArgs{
		Statements: []iam.GetPolicyDocumentStatement{
			{
				Actions: []string{"sts:AssumeRole"},
				Principals: []iam.GetPolicyDocumentStatementPrincipal{
					{Type: "Service", Identifiers: []string{"ecs-tasks.amazonaws.com"}},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}
	return policy.Json, nil
}

// containerEnvironment renders the variable bag in the name/value list form
// ECS expects, sorted by name so the task definition is stable across runs.
func containerEnvironment(vars map[string]pulumi.StringInput) []interface{} {
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)
	env := make([]interface{}, 0, len(names))
	for _, k := range names {
		env = append(env, map[string]interface{}{
			"name":  k,
			"value": vars[k],
		})
	}
	return env
}
