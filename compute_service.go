package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/cloudwatch"
	ec2_classic "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/iam"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/lambda"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

const (
	defaultHandler          = "bootstrap"
	defaultRuntime          = "provided.al2023"
	defaultArchitecture     = "arm64"
	defaultTimeout          = 30
	defaultMemorySize       = 512
	defaultLogRetentionDays = 7

	// deploymentMarker is set on every function so the runtime can tell it is
	// running behind a Function URL.
	deploymentMarker = "LAMBDA_DEPLOYMENT"
)

var functionURLMethods = []string{"GET", "POST"}

type ComputeServiceArgs struct {
	// CodePath is a directory or archive holding the deployable bundle.
	CodePath         string
	Handler          string
	Runtime          string
	Architecture     string
	Timeout          int
	MemorySize       int
	Environment      map[string]pulumi.StringInput
	LogRetentionDays int
	// Placement puts the function inside a VPC; nil keeps it outside.
	Placement *Placement
}

func (a ComputeServiceArgs) withDefaults() ComputeServiceArgs {
	if a.Handler == "" {
		a.Handler = defaultHandler
	}
	if a.Runtime == "" {
		a.Runtime = defaultRuntime
	}
	if a.Architecture == "" {
		a.Architecture = defaultArchitecture
	}
	if a.Timeout == 0 {
		a.Timeout = defaultTimeout
	}
	if a.MemorySize == 0 {
		a.MemorySize = defaultMemorySize
	}
	if a.LogRetentionDays == 0 {
		a.LogRetentionDays = defaultLogRetentionDays
	}
	return a
}

// ComputeService is a Lambda function with its role, log group and public
// Function URL.
type ComputeService struct {
	role     *iam.Role
	sg       *ec2_classic.SecurityGroup
	logGroup *cloudwatch.LogGroup
	function *lambda.Function
	url      *lambda.FunctionUrl

	FunctionURL  pulumi.StringOutput
	FunctionName pulumi.StringOutput
	FunctionArn  pulumi.StringOutput
	LogGroupName pulumi.StringOutput
}

func NewComputeService(ctx *pulumi.Context, namer Namer, args ComputeServiceArgs) (*ComputeService, error) {
	var err error
	cs := &ComputeService{}
	args = args.withDefaults()

	sourceHash, err := checkCodePath(args.CodePath)
	if err != nil {
		return nil, err
	}

	assumeRolePolicy, err := iam.GetPolicyDocument(ctx, &iam.GetPolicyDocumentArgs{
		Statements: []iam.GetPolicyDocumentStatement{
			{
				Actions: []string{"sts:AssumeRole"},
				Principals: []iam.GetPolicyDocumentStatementPrincipal{
					{Type: "Service", Identifiers: []string{"lambda.amazonaws.com"}},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating AssumeRolePolicy: %w", err)
	}
	computeTags := map[string]string{
		"compute:component": "true",
		"compute:type":      "serverless",
	}
	cs.role, err = iam.NewRole(ctx, namer.Name("lambda-role"), &iam.RoleArgs{
		AssumeRolePolicy: pulumi.String(assumeRolePolicy.Json),
		Tags:             namer.Tags("lambda-role", computeTags),
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating execution role: %w", err)
	}

	policies := []managedPolicy{
		{"lambda-basic", iam.ManagedPolicyAWSLambdaBasicExecutionRole},
	}
	if args.Placement != nil {
		policies = append(policies, managedPolicy{"lambda-vpc", iam.ManagedPolicyAWSLambdaVPCAccessExecutionRole})
	}
	attachments, err := attachPolicies(ctx, namer, cs.role, policies...)
	if err != nil {
		return nil, err
	}

	functionName := namer.Name("function")
	cs.logGroup, err = cloudwatch.NewLogGroup(ctx, namer.Name("logs"), &cloudwatch.LogGroupArgs{
		Name:            pulumi.String(lambdaLogGroupName(functionName)),
		RetentionInDays: pulumi.Int(args.LogRetentionDays),
		Tags:            namer.Tags("logs", nil),
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating log group: %w", err)
	}

	fnArgs := &lambda.FunctionArgs{
		Name:          pulumi.String(functionName),
		Architectures: pulumi.ToStringArray([]string{args.Architecture}),
		Role:          cs.role.Arn,
		Code:          pulumi.NewFileArchive(args.CodePath),
		Handler:       pulumi.String(args.Handler),
		Runtime:       pulumi.String(args.Runtime),
		Timeout:       pulumi.Int(args.Timeout),
		MemorySize:    pulumi.Int(args.MemorySize),
		Environment: &lambda.FunctionEnvironmentArgs{
			Variables: functionEnvironment(args.Environment),
		},
		Tags: namer.Tags("function", map[string]string{
			"compute:component":   "true",
			"compute:type":        "serverless",
			"compute:memory":      fmt.Sprint(args.MemorySize),
			"compute:source-hash": sourceHash,
		}),
	}

	if args.Placement != nil {
		cs.sg, err = ec2_classic.NewSecurityGroup(ctx, namer.Name("lambda-sg"), &ec2_classic.SecurityGroupArgs{
			Description:         pulumi.String("Security group for the function"),
			VpcId:               args.Placement.VpcID,
			Egress:              egressAll(),
			RevokeRulesOnDelete: pulumi.Bool(true),
			Tags:                namer.Tags("lambda-sg", nil),
		})
		if err != nil {
			return nil, fmt.Errorf("Error creating function security group: %w", err)
		}
		fnArgs.VpcConfig = &lambda.FunctionVpcConfigArgs{
			SubnetIds:        subnetsOf(args.Placement),
			SecurityGroupIds: pulumi.StringArray{cs.sg.ID()},
		}
	}

	deps := append([]pulumi.Resource{cs.logGroup}, attachments...)
	cs.function, err = lambda.NewFunction(ctx, functionName, fnArgs, pulumi.DependsOn(deps))
	if err != nil {
		return nil, fmt.Errorf("Error creating lambda function: %w", err)
	}

	cs.url, err = lambda.NewFunctionUrl(ctx, namer.Name("function-url"), &lambda.FunctionUrlArgs{
		FunctionName:      cs.function.Name,
		AuthorizationType: pulumi.String("NONE"),
		Cors: &lambda.FunctionUrlCorsArgs{
			AllowCredentials: pulumi.Bool(false),
			AllowOrigins:     pulumi.ToStringArray([]string{"*"}),
			AllowMethods:     pulumi.ToStringArray(functionURLMethods),
			AllowHeaders:     pulumi.ToStringArray([]string{"*"}),
			MaxAge:           pulumi.Int(86400),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating function url: %w", err)
	}

	cs.FunctionURL = cs.url.FunctionUrl
	cs.FunctionName = cs.function.Name
	cs.FunctionArn = cs.function.Arn
	cs.LogGroupName = cs.logGroup.Name

	return cs, nil
}

// functionEnvironment merges the caller's variables with the deployment marker.
// The marker cannot be overridden.
func functionEnvironment(vars map[string]pulumi.StringInput) pulumi.StringMap {
	env := pulumi.StringMap{}
	for k, v := range vars {
		env[k] = v
	}
	env[deploymentMarker] = pulumi.String("true")
	return env
}

type managedPolicy struct {
	kind string
	arn  iam.ManagedPolicy
}

func attachPolicies(ctx *pulumi.Context, namer Namer, role *iam.Role, policies ...managedPolicy) ([]pulumi.Resource, error) {
	attachments := []pulumi.Resource{}
	for _, p := range policies {
		attachment, err := iam.NewRolePolicyAttachment(ctx, namer.Name(p.kind), &iam.RolePolicyAttachmentArgs{
			Role:      role.Name,
			PolicyArn: pulumi.String(string(p.arn)),
		})
		if err != nil {
			return nil, fmt.Errorf("Error attaching %s policy: %w", p.kind, err)
		}
		attachments = append(attachments, attachment)
	}
	return attachments, nil
}

func lambdaLogGroupName(functionName string) string {
	return "/aws/lambda/" + functionName
}

// checkCodePath fails when the bundle is missing or any file in it cannot be
// read, and returns a content hash of it.
func checkCodePath(path string) (string, error) {
	if path == "" {
		return "", errors.New("code path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("code artifact: %w", err)
	}
	if info.IsDir() {
		hash, err := hashDirectory(path)
		if err != nil {
			return "", fmt.Errorf("code artifact %s: %w", path, err)
		}
		return hash, nil
	}
	hash, err := hashFile(path)
	if err != nil {
		return "", fmt.Errorf("code artifact %s: %w", path, err)
	}
	return hash, nil
}
