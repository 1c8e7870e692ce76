package main

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pulumi/pulumi/sdk/v3/go/common/resource"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/require"
)

const (
	mockVpcCidr   = "172.31.0.0/16"
	cacheAddress  = "qr-tool-dev-cache.serverless.use1.cache.amazonaws.com"
	albDNSName    = "qr-tool-dev-alb-123.us-east-1.elb.amazonaws.com"
	functionURL   = "https://abc123.lambda-url.us-east-1.on.aws/"
	repositoryURL = "123456789012.dkr.ecr.us-east-1.amazonaws.com/qr-tool-dev-app"
)

type registered struct {
	Type   string
	Name   string
	Inputs resource.PropertyMap
}

// mocks records every registered resource and answers the invokes the
// program makes.
type mocks struct {
	mu        sync.Mutex
	resources []registered
	invokes   []string

	defaultSubnets []string
}

func newMocks() *mocks {
	return &mocks{defaultSubnets: []string{"subnet-a", "subnet-b"}}
}

func (m *mocks) NewResource(args pulumi.MockResourceArgs) (string, resource.PropertyMap, error) {
	if !strings.HasPrefix(args.TypeToken, "pulumi:") {
		m.mu.Lock()
		m.resources = append(m.resources, registered{Type: args.TypeToken, Name: args.Name, Inputs: args.Inputs})
		m.mu.Unlock()
	}

	outs := args.Inputs.Copy()
	if _, ok := outs["arn"]; !ok {
		outs["arn"] = resource.NewStringProperty("arn:aws:mock:::" + args.Name)
	}
	if _, ok := outs["name"]; !ok {
		outs["name"] = resource.NewStringProperty(args.Name)
	}

	switch args.TypeToken {
	case "awsx:ec2:Vpc":
		outs["vpcId"] = resource.NewStringProperty("vpc-123")
		outs["publicSubnetIds"] = stringArray("subnet-pub-a", "subnet-pub-b")
		outs["privateSubnetIds"] = stringArray("subnet-priv-a", "subnet-priv-b")
	case "aws:elasticache/serverlessCache:ServerlessCache":
		outs["endpoints"] = resource.NewArrayProperty([]resource.PropertyValue{
			resource.NewObjectProperty(resource.PropertyMap{
				"address": resource.NewStringProperty(cacheAddress),
				"port":    resource.NewNumberProperty(6379),
			}),
		})
	case "aws:lambda/functionUrl:FunctionUrl":
		outs["functionUrl"] = resource.NewStringProperty(functionURL)
	case "aws:lb/loadBalancer:LoadBalancer":
		outs["dnsName"] = resource.NewStringProperty(albDNSName)
		outs["zoneId"] = resource.NewStringProperty("Z35SXDOTRQ7X7K")
		outs["arnSuffix"] = resource.NewStringProperty("app/qr-tool-dev-alb/50dc6c495c0c9188")
	case "aws:ecr/repository:Repository":
		outs["repositoryUrl"] = resource.NewStringProperty(repositoryURL)
		outs["registryId"] = resource.NewStringProperty("123456789012")
	case "docker:index/image:Image":
		outs["repoDigest"] = resource.NewStringProperty(repositoryURL + "@sha256:0123")
	}
	return args.Name + "_id", outs, nil
}

func (m *mocks) Call(args pulumi.MockCallArgs) (resource.PropertyMap, error) {
	m.mu.Lock()
	m.invokes = append(m.invokes, args.Token)
	m.mu.Unlock()

	switch args.Token {
	case "aws:iam/getPolicyDocument:getPolicyDocument":
		return resource.PropertyMap{
			"json": resource.NewStringProperty(`{"Version":"2012-10-17","Statement":[]}`),
		}, nil
	case "aws:ec2/getVpc:getVpc":
		return resource.PropertyMap{
			"id":        resource.NewStringProperty("vpc-default"),
			"cidrBlock": resource.NewStringProperty(mockVpcCidr),
		}, nil
	case "aws:ec2/getSubnets:getSubnets":
		return resource.PropertyMap{
			"ids": stringArray(m.defaultSubnets...),
		}, nil
	case "aws:ecr/getAuthorizationToken:getAuthorizationToken":
		return resource.PropertyMap{
			"userName": resource.NewStringProperty("AWS"),
			"password": resource.NewStringProperty("token"),
		}, nil
	}
	return resource.PropertyMap{}, nil
}

func (m *mocks) byType(token string) []registered {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []registered
	for _, r := range m.resources {
		if r.Type == token {
			out = append(out, r)
		}
	}
	return out
}

func (m *mocks) one(t *testing.T, token string) registered {
	t.Helper()
	rs := m.byType(token)
	require.Len(t, rs, 1, "resources of type %s", token)
	return rs[0]
}

func (m *mocks) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.resources))
	for _, r := range m.resources {
		out = append(out, r.Type+"::"+r.Name)
	}
	sort.Strings(out)
	return out
}

func stringArray(vs ...string) resource.PropertyValue {
	arr := make([]resource.PropertyValue, 0, len(vs))
	for _, v := range vs {
		arr = append(arr, resource.NewStringProperty(v))
	}
	return resource.NewArrayProperty(arr)
}

// str unwraps secrets and resolved outputs down to the plain string.
func str(v resource.PropertyValue) string {
	for {
		switch {
		case v.IsSecret():
			v = v.SecretValue().Element
		case v.IsOutput():
			v = v.OutputValue().Element
		case v.IsString():
			return v.StringValue()
		default:
			return ""
		}
	}
}

func num(v resource.PropertyValue) float64 {
	for {
		switch {
		case v.IsSecret():
			v = v.SecretValue().Element
		case v.IsOutput():
			v = v.OutputValue().Element
		case v.IsNumber():
			return v.NumberValue()
		default:
			return 0
		}
	}
}

func obj(v resource.PropertyValue) resource.PropertyMap {
	for v.IsOutput() || v.IsSecret() {
		if v.IsOutput() {
			v = v.OutputValue().Element
		} else {
			v = v.SecretValue().Element
		}
	}
	if v.IsObject() {
		return v.ObjectValue()
	}
	return resource.PropertyMap{}
}

func strs(v resource.PropertyValue) []string {
	for v.IsOutput() || v.IsSecret() {
		if v.IsOutput() {
			v = v.OutputValue().Element
		} else {
			v = v.SecretValue().Element
		}
	}
	if !v.IsArray() {
		return nil
	}
	out := []string{}
	for _, e := range v.ArrayValue() {
		out = append(out, str(e))
	}
	return out
}

// setConfig installs stack configuration for the mocked "project".
func setConfig(t *testing.T, values map[string]string) {
	t.Helper()
	cfg := map[string]string{}
	for k, v := range values {
		if !strings.Contains(k, ":") {
			k = "project:" + k
		}
		cfg[k] = v
	}
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	t.Setenv("PULUMI_CONFIG", string(raw))
}

func run(t *testing.T, m *mocks, program pulumi.RunFunc) error {
	t.Helper()
	return pulumi.RunErr(program, pulumi.WithMocks("project", "stack", m))
}

// await blocks until out resolves. It must be called from inside the program.
func await(t *testing.T, out pulumi.Output) interface{} {
	t.Helper()
	ch := make(chan interface{}, 1)
	pulumi.All(out).ApplyT(func(vs []interface{}) error {
		ch <- vs[0]
		return nil
	})
	select {
	case v := <-ch:
		return v
	case <-time.After(10 * time.Second):
		t.Fatal("output never resolved")
		return nil
	}
}
