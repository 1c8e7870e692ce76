package main

import (
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadConfig(t *testing.T, values map[string]string) (AppConfig, error) {
	t.Helper()
	setConfig(t, values)
	var cfg AppConfig
	var loadErr error
	err := run(t, newMocks(), func(ctx *pulumi.Context) error {
		cfg, loadErr = LoadConfig(ctx)
		return nil
	})
	require.NoError(t, err)
	return cfg, loadErr
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(t, nil)
	require.NoError(t, err)

	assert.Equal(t, AppConfig{
		AppName:           "qr-tool",
		Environment:       "dev",
		Region:            "us-east-1",
		Variant:           VariantContainer,
		Tier:              TierStandard,
		ContainerPort:     8080,
		VpcCidr:           "10.0.0.0/16",
		AvailabilityZones: 2,
		NatStrategy:       NatSingle,
		EnableCache:       false,
		CodePath:          "asset",
		ImageRetainCount:  10,
	}, cfg)
}

func TestLoadConfigProdAndServerless(t *testing.T) {
	cfg, err := loadConfig(t, map[string]string{"environment": "prod", "aws:region": "eu-west-1"})
	require.NoError(t, err)
	assert.Equal(t, NatOnePerAz, cfg.NatStrategy)
	assert.Equal(t, "eu-west-1", cfg.Region)

	cfg, err = loadConfig(t, map[string]string{"variant": "serverless"})
	require.NoError(t, err)
	assert.True(t, cfg.EnableCache)

	cfg, err = loadConfig(t, map[string]string{"variant": "serverless", "cache": "false"})
	require.NoError(t, err)
	assert.False(t, cfg.EnableCache)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	_, err := loadConfig(t, map[string]string{"cache": "sometimes"})
	assert.ErrorContains(t, err, "invalid cache setting")

	_, err = loadConfig(t, map[string]string{"variant": "vm", "natStrategy": "Many"})
	assert.ErrorContains(t, err, `unknown variant "vm"`)
	assert.ErrorContains(t, err, `unknown natStrategy "Many"`)

	_, err = loadConfig(t, map[string]string{
		"containerPort":    "eighty",
		"imageRetainCount": "-x",
	})
	assert.ErrorContains(t, err, `invalid containerPort "eighty"`)
	assert.ErrorContains(t, err, `invalid imageRetainCount "-x"`)

	_, err = loadConfig(t, map[string]string{"availabilityZones": "0"})
	assert.ErrorContains(t, err, "availabilityZones 0 out of range")

	cfg, err := loadConfig(t, map[string]string{"containerPort": " 3000 ", "availabilityZones": "3"})
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.ContainerPort)
	assert.Equal(t, 3, cfg.AvailabilityZones)
}

func TestValidate(t *testing.T) {
	valid := AppConfig{
		AppName: "qr-tool", Environment: "dev", Variant: VariantContainer, Tier: TierStandard,
		ContainerPort: 8080, VpcCidr: "10.0.0.0/16", AvailabilityZones: 2, NatStrategy: NatSingle,
		ImageRetainCount: 10,
	}
	require.NoError(t, valid.Validate())

	tests := map[string]func(c *AppConfig){
		"app name": func(c *AppConfig) { c.AppName = "QR Tool" },
		"env":      func(c *AppConfig) { c.Environment = "" },
		"tier":     func(c *AppConfig) { c.Tier = "gold" },
		"port":     func(c *AppConfig) { c.ContainerPort = 70000 },
		"azs":      func(c *AppConfig) { c.AvailabilityZones = 0 },
		"cidr":     func(c *AppConfig) { c.VpcCidr = "10.0.0.0" },
		"retain":   func(c *AppConfig) { c.ImageRetainCount = 0 },
		"nat":      func(c *AppConfig) { c.NatStrategy = "" },
		"variant":  func(c *AppConfig) { c.Variant = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	long := valid
	long.AppName, long.Environment = "quick-response-code-creator", "staging"
	assert.ErrorContains(t, long.Validate(), "at most 28 fit")
	long.AppName = "quick-response-code"
	assert.NoError(t, long.Validate())
}

func TestSizingByEnvironment(t *testing.T) {
	dev := AppConfig{Environment: "dev", Tier: TierStandard}
	prod := AppConfig{Environment: "prod", Tier: TierStandard}
	enterprise := AppConfig{Environment: "dev", Tier: TierEnterprise}

	assert.Equal(t, ScalingPolicy{Min: 1, Max: 3, Desired: 1, TargetCPU: 70, Cooldown: 300}, dev.Scaling())
	assert.Equal(t, ScalingPolicy{Min: 2, Max: 10, Desired: 2, TargetCPU: 70, Cooldown: 300}, prod.Scaling())

	cpu, mem := dev.TaskSize()
	assert.Equal(t, []string{"256", "512"}, []string{cpu, mem})
	cpu, mem = prod.TaskSize()
	assert.Equal(t, []string{"512", "1024"}, []string{cpu, mem})

	assert.False(t, dev.Hardened())
	assert.True(t, prod.Hardened())
	assert.True(t, enterprise.Hardened())
	assert.Equal(t, 7, dev.LogRetentionDays())
	assert.Equal(t, 30, prod.LogRetentionDays())
}
