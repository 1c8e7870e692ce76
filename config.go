package main

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi/config"
)

const (
	VariantContainer  = "container"
	VariantServerless = "serverless"

	TierStandard   = "standard"
	TierEnterprise = "enterprise"

	NatNone     = "None"
	NatSingle   = "Single"
	NatOnePerAz = "OnePerAz"
)

// AppConfig is read once per stack and handed to every component constructor.
type AppConfig struct {
	AppName           string
	Environment       string
	Region            string
	Variant           string
	Tier              string
	ContainerPort     int
	VpcCidr           string
	AvailabilityZones int
	NatStrategy       string
	EnableCache       bool
	CodePath          string
	ImageRetainCount  int
}

var appNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// LoadConfig reads the stack configuration, filling in defaults for absent keys.
func LoadConfig(ctx *pulumi.Context) (AppConfig, error) {
	c := config.New(ctx, "")
	awsCfg := config.New(ctx, "aws")

	cfg := AppConfig{
		AppName:     stringOr(c.Get("appName"), "qr-tool"),
		Environment: stringOr(c.Get("environment"), "dev"),
		Region:      stringOr(awsCfg.Get("region"), "us-east-1"),
		Variant:     stringOr(c.Get("variant"), VariantContainer),
		Tier:        stringOr(c.Get("tier"), TierStandard),
		VpcCidr:     stringOr(c.Get("vpcCidr"), "10.0.0.0/16"),
		NatStrategy: c.Get("natStrategy"),
		CodePath:    stringOr(c.Get("codePath"), "asset"),
	}
	var errs []error
	for _, s := range []struct {
		key string
		dst *int
		def int
	}{
		{"containerPort", &cfg.ContainerPort, 8080},
		{"availabilityZones", &cfg.AvailabilityZones, 2},
		{"imageRetainCount", &cfg.ImageRetainCount, 10},
	} {
		v, err := intSetting(c, s.key, s.def)
		if err != nil {
			errs = append(errs, err)
		}
		*s.dst = v
	}
	if err := errors.Join(errs...); err != nil {
		return AppConfig{}, err
	}

	if cfg.NatStrategy == "" {
		cfg.NatStrategy = NatSingle
		if cfg.IsProd() {
			cfg.NatStrategy = NatOnePerAz
		}
	}

	cfg.EnableCache = cfg.Variant == VariantServerless
	if raw := c.Get("cache"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return AppConfig{}, fmt.Errorf("invalid cache setting %q: %w", raw, err)
		}
		cfg.EnableCache = enabled
	}

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that would fail at the provider anyway.
func (c AppConfig) Validate() error {
	var errs []error
	if !appNamePattern.MatchString(c.AppName) {
		errs = append(errs, fmt.Errorf("appName %q must be lowercase alphanumerics and dashes", c.AppName))
	}
	if c.Environment == "" {
		errs = append(errs, errors.New("environment is required"))
	}
	if p := NewNamer(c).Prefix(); len(p) > maxPrefixLen {
		errs = append(errs, fmt.Errorf("name prefix %q is %d characters, at most %d fit every resource name", p, len(p), maxPrefixLen))
	}
	switch c.Variant {
	case VariantContainer, VariantServerless:
	default:
		errs = append(errs, fmt.Errorf("unknown variant %q", c.Variant))
	}
	switch c.Tier {
	case TierStandard, TierEnterprise:
	default:
		errs = append(errs, fmt.Errorf("unknown tier %q", c.Tier))
	}
	switch c.NatStrategy {
	case NatNone, NatSingle, NatOnePerAz:
	default:
		errs = append(errs, fmt.Errorf("unknown natStrategy %q", c.NatStrategy))
	}
	if c.ContainerPort < 1 || c.ContainerPort > 65535 {
		errs = append(errs, fmt.Errorf("containerPort %d out of range", c.ContainerPort))
	}
	if c.AvailabilityZones < 1 || c.AvailabilityZones > 6 {
		errs = append(errs, fmt.Errorf("availabilityZones %d out of range", c.AvailabilityZones))
	}
	if _, _, err := net.ParseCIDR(c.VpcCidr); err != nil {
		errs = append(errs, fmt.Errorf("vpcCidr: %w", err))
	}
	if c.ImageRetainCount < 1 {
		errs = append(errs, fmt.Errorf("imageRetainCount must be positive, got %d", c.ImageRetainCount))
	}
	return errors.Join(errs...)
}

func (c AppConfig) IsProd() bool {
	return c.Environment == "prod"
}

// Hardened stacks get point-in-time recovery and encryption at rest.
func (c AppConfig) Hardened() bool {
	return c.IsProd() || c.Tier == TierEnterprise
}

func (c AppConfig) LogRetentionDays() int {
	return LogRetentionDays(c.Environment)
}

func (c AppConfig) Scaling() ScalingPolicy {
	if c.IsProd() {
		return ScalingPolicy{Min: 2, Max: 10, Desired: 2, TargetCPU: 70, Cooldown: 300}
	}
	return ScalingPolicy{Min: 1, Max: 3, Desired: 1, TargetCPU: 70, Cooldown: 300}
}

// TaskSize returns the Fargate cpu and memory shares.
func (c AppConfig) TaskSize() (cpu, memory string) {
	if c.IsProd() {
		return "512", "1024"
	}
	return "256", "512"
}

func stringOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// intSetting reads an integer key. Absent keys take def; anything present
// must parse, so a typo never silently becomes the default.
func intSetting(c *config.Config, key string, def int) (int, error) {
	raw := strings.TrimSpace(c.Get(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: not an integer", key, raw)
	}
	return v, nil
}
