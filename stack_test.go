package main

import (
	"strings"
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func declare(t *testing.T, values map[string]string) (*mocks, *Stack) {
	t.Helper()
	setConfig(t, values)
	m := newMocks()
	var stack *Stack
	err := run(t, m, func(ctx *pulumi.Context) error {
		cfg, err := LoadConfig(ctx)
		if err != nil {
			return err
		}
		stack, err = NewStack(ctx, cfg)
		if err != nil {
			return err
		}
		stack.Export(ctx)
		return nil
	})
	require.NoError(t, err)
	return m, stack
}

func outputKeys(s *Stack) []string {
	keys := make([]string, 0, len(s.Outputs))
	for k := range s.Outputs {
		keys = append(keys, k)
	}
	return keys
}

func assertPrefixed(t *testing.T, m *mocks, prefix string) {
	t.Helper()
	seen := map[string]bool{}
	for _, n := range m.names() {
		assert.False(t, seen[n], "duplicate resource %s", n)
		seen[n] = true
		name := n[strings.Index(n, "::")+2:]
		assert.True(t, strings.HasPrefix(name, prefix+"-"), "resource %s is not prefixed", n)
	}
}

func TestContainerStack(t *testing.T) {
	m, stack := declare(t, nil)

	assert.ElementsMatch(t, []string{
		"vpcId", "clusterName", "serviceName", "repositoryUrl", "applicationUrl", "serviceUrl",
		"albDnsName", "albZoneId", "tableName", "logGroupName", "logStreamUrl", "dashboardUrl",
	}, outputKeys(stack))
	assert.Nil(t, stack.Cache)
	assert.Nil(t, stack.Function)
	assertPrefixed(t, m, "qr-tool-dev")

	service := m.one(t, "aws:ecs/service:Service")
	assert.Equal(t, "qr-tool-dev-service", str(service.Inputs["name"]))
	assert.Equal(t, float64(1), num(service.Inputs["desiredCount"]))
	assert.True(t, service.Inputs["waitForSteadyState"].BoolValue())
	assert.Equal(t, []string{"subnet-priv-a", "subnet-priv-b"},
		strs(obj(service.Inputs["networkConfiguration"])["subnets"]))

	task := m.one(t, "aws:ecs/taskDefinition:TaskDefinition")
	assert.Equal(t, "256", str(task.Inputs["cpu"]))
	assert.Equal(t, "512", str(task.Inputs["memory"]))
	containers := str(task.Inputs["containerDefinitions"])
	assert.Contains(t, containers, `"DYNAMODB_TABLE"`)
	assert.Contains(t, containers, `"/ecs/qr-tool-dev-app"`)
	assert.NotContains(t, containers, "REDIS_URL")

	policy := m.one(t, "aws:appautoscaling/policy:Policy")
	tracking := obj(policy.Inputs["targetTrackingScalingPolicyConfiguration"])
	assert.Equal(t, float64(70), num(tracking["targetValue"]))
	assert.Equal(t, float64(300), num(tracking["scaleInCooldown"]))

	target := m.one(t, "aws:appautoscaling/target:Target")
	assert.Equal(t, float64(1), num(target.Inputs["minCapacity"]))
	assert.Equal(t, float64(3), num(target.Inputs["maxCapacity"]))

	alb := m.one(t, "aws:lb/loadBalancer:LoadBalancer")
	assert.False(t, alb.Inputs["enableDeletionProtection"].BoolValue())

	tg := m.one(t, "aws:lb/targetGroup:TargetGroup")
	assert.Equal(t, "/healthz", str(obj(tg.Inputs["healthCheck"])["path"]))
	assert.Equal(t, float64(8080), num(tg.Inputs["port"]))

	sum, err := hashPaths(imageSourcePaths...)
	require.NoError(t, err)
	image := m.one(t, "docker:index/image:Image")
	assert.True(t, strings.HasSuffix(str(image.Inputs["imageName"]), ":"+sum[:12]))

	logs := m.one(t, "aws:cloudwatch/logGroup:LogGroup")
	assert.Equal(t, "/ecs/qr-tool-dev-app", str(logs.Inputs["name"]))
	assert.Equal(t, float64(7), num(logs.Inputs["retentionInDays"]))

	assert.Empty(t, m.byType("aws:elasticache/serverlessCache:ServerlessCache"))
	assert.Empty(t, m.byType("aws:lambda/function:Function"))
}

func TestContainerStackProdWithCache(t *testing.T) {
	m, stack := declare(t, map[string]string{
		"environment": "prod",
		"tier":        "enterprise",
		"cache":       "true",
	})

	assert.Contains(t, stack.Outputs, "cacheEndpoint")
	assertPrefixed(t, m, "qr-tool-prod")

	cache := m.one(t, "aws:elasticache/serverlessCache:ServerlessCache")
	assert.Equal(t, []string{"subnet-priv-a", "subnet-priv-b"}, strs(cache.Inputs["subnetIds"]))
	assert.NotContains(t, m.invokes, "aws:ec2/getVpc:getVpc")

	task := m.one(t, "aws:ecs/taskDefinition:TaskDefinition")
	assert.Equal(t, "512", str(task.Inputs["cpu"]))
	assert.Equal(t, "1024", str(task.Inputs["memory"]))
	assert.Contains(t, str(task.Inputs["containerDefinitions"]), "rediss://"+cacheAddress+":6379")

	table := m.one(t, "aws:dynamodb/table:Table")
	assert.Equal(t, "PAY_PER_REQUEST", str(table.Inputs["billingMode"]))
	assert.True(t, obj(table.Inputs["pointInTimeRecovery"])["enabled"].BoolValue())

	vpc := m.one(t, "awsx:ec2:Vpc")
	assert.Equal(t, "OnePerAz", str(obj(vpc.Inputs["natGateways"])["strategy"]))

	alb := m.one(t, "aws:lb/loadBalancer:LoadBalancer")
	assert.True(t, alb.Inputs["enableDeletionProtection"].BoolValue())

	repo := m.one(t, "aws:ecr/repository:Repository")
	assert.False(t, repo.Inputs["forceDelete"].BoolValue())

	target := m.one(t, "aws:appautoscaling/target:Target")
	assert.Equal(t, float64(2), num(target.Inputs["minCapacity"]))
	assert.Equal(t, float64(10), num(target.Inputs["maxCapacity"]))
	assert.Equal(t, float64(30), num(m.one(t, "aws:cloudwatch/logGroup:LogGroup").Inputs["retentionInDays"]))
}

func TestServerlessStack(t *testing.T) {
	code := bundleDir(t)
	m, stack := declare(t, map[string]string{
		"variant":  "serverless",
		"codePath": code,
	})

	assert.ElementsMatch(t, []string{
		"functionName", "functionArn", "functionUrl", "serviceUrl", "cacheEndpoint",
		"logGroupName", "logStreamUrl", "dashboardUrl",
	}, outputKeys(stack))
	assertPrefixed(t, m, "qr-tool-dev")
	assert.Contains(t, m.invokes, "command:local:run")
	assert.Contains(t, m.invokes, "aws:ec2/getVpc:getVpc")

	fn := m.one(t, "aws:lambda/function:Function")
	vars := obj(obj(fn.Inputs["environment"])["variables"])
	assert.Equal(t, "true", str(vars["LAMBDA_DEPLOYMENT"]))
	assert.Equal(t, "dev", str(vars["ENVIRONMENT"]))
	assert.Equal(t, "us-east-1", str(vars["REGION"]))
	assert.Equal(t, "rediss://"+cacheAddress+":6379", str(vars["REDIS_URL"]))
	assert.Equal(t, []string{"subnet-a", "subnet-b"}, strs(obj(fn.Inputs["vpcConfig"])["subnetIds"]))

	assert.Empty(t, m.byType("aws:ecs/cluster:Cluster"))
	assert.Empty(t, m.byType("aws:dynamodb/table:Table"))
	assert.Empty(t, m.byType("awsx:ec2:Vpc"))
}

func TestServerlessStackWithoutCache(t *testing.T) {
	code := bundleDir(t)
	m, stack := declare(t, map[string]string{
		"variant":  "serverless",
		"cache":    "false",
		"codePath": code,
	})

	assert.NotContains(t, stack.Outputs, "cacheEndpoint")
	assert.NotContains(t, m.invokes, "aws:ec2/getVpc:getVpc")
	fn := m.one(t, "aws:lambda/function:Function")
	assert.True(t, fn.Inputs["vpcConfig"].IsNull())
	assert.True(t, obj(obj(fn.Inputs["environment"])["variables"])["REDIS_URL"].IsNull())
}

func TestStackIsDeterministic(t *testing.T) {
	first, _ := declare(t, map[string]string{"cache": "true"})
	second, _ := declare(t, map[string]string{"cache": "true"})
	assert.Equal(t, first.names(), second.names())

	task1 := str(first.one(t, "aws:ecs/taskDefinition:TaskDefinition").Inputs["containerDefinitions"])
	task2 := str(second.one(t, "aws:ecs/taskDefinition:TaskDefinition").Inputs["containerDefinitions"])
	assert.Equal(t, task1, task2)
}

func TestStacksOfDifferentEnvironmentsDoNotCollide(t *testing.T) {
	dev, _ := declare(t, map[string]string{"environment": "dev"})
	staging, _ := declare(t, map[string]string{"environment": "staging"})

	devNames := map[string]bool{}
	for _, n := range dev.names() {
		devNames[n] = true
	}
	for _, n := range staging.names() {
		assert.False(t, devNames[n], "%s exists in both environments", n)
	}
}

func TestNewStackRejectsInvalidConfig(t *testing.T) {
	m := newMocks()
	err := run(t, m, func(ctx *pulumi.Context) error {
		_, err := NewStack(ctx, AppConfig{AppName: "Bad Name"})
		assert.ErrorContains(t, err, "invalid configuration")
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, m.names())
}
