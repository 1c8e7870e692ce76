package main

import (
	"fmt"
	"regexp"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// ResourceName returns the identifier used for a resource of the given kind.
func ResourceName(app, env, kind string) string {
	return fmt.Sprintf("%s-%s-%s", app, env, kind)
}

// maxPrefixLen bounds "<app>-<env>". Load balancer names are capped at 32
// characters and "-alb" is the longest suffix such a name carries.
const maxPrefixLen = 28

// Namer derives every resource name of a stack from its application name and
// environment, so two environments of the same app never collide.
type Namer struct {
	App string
	Env string
}

func NewNamer(cfg AppConfig) Namer {
	return Namer{App: cfg.AppName, Env: cfg.Environment}
}

func (n Namer) Prefix() string {
	return fmt.Sprintf("%s-%s", n.App, n.Env)
}

func (n Namer) Name(kind string) string {
	return ResourceName(n.App, n.Env, kind)
}

// Tags returns the standard tag set for a resource of the given kind merged
// with extra. Extra keys win.
func (n Namer) Tags(kind string, extra map[string]string) pulumi.StringMap {
	tags := pulumi.StringMap{
		"Name":        pulumi.String(n.Name(kind)),
		"Environment": pulumi.String(n.Env),
		"Application": pulumi.String(n.App),
		"ManagedBy":   pulumi.String("Pulumi"),
	}
	for k, v := range extra {
		tags[k] = pulumi.String(v)
	}
	return tags
}

var cacheNameDisallowed = regexp.MustCompile(`[^a-zA-Z0-9-]`)

// sanitizeCacheName maps a free-form label onto the character set ElastiCache
// accepts for cache names.
func sanitizeCacheName(name string) string {
	return cacheNameDisallowed.ReplaceAllString(name, "-")
}
