package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pulumi/pulumi-command/sdk/go/command/local"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

type BundleArgs struct {
	// OutDir receives the compiled bootstrap binary.
	OutDir string
	// Package is the main package to compile.
	Package string
	Arch    string
}

// BuildFunctionBundle compiles the Lambda bootstrap into OutDir. It runs as an
// invoke so the bundle exists during preview as well as update.
func BuildFunctionBundle(ctx *pulumi.Context, args BundleArgs) (string, error) {
	if args.Package == "" {
		args.Package = "./cmd/app"
	}
	if args.Arch == "" {
		args.Arch = defaultArchitecture
	}
	if args.OutDir == "" {
		return "", fmt.Errorf("bundle output directory is required")
	}
	bootstrap := filepath.ToSlash(filepath.Join(args.OutDir, defaultHandler))

	_, err := local.Run(ctx, &local.RunArgs{
		Dir:        pulumi.StringRef("."),
		Command:    bundleCommand(args.OutDir, args.Package, args.Arch),
		AssetPaths: []string{bootstrap},
	})
	if err != nil {
		return "", fmt.Errorf("Error running local command: %w", err)
	}
	return args.OutDir, nil
}

func bundleCommand(outDir, pkg, arch string) string {
	bootstrap := filepath.ToSlash(filepath.Join(outDir, defaultHandler))
	return strings.Join([]string{
		fmt.Sprintf("rm -rf %s && mkdir -p %s", outDir, outDir),
		fmt.Sprintf("GOOS=linux GOARCH=%s CGO_ENABLED=0 go build -mod=readonly -tags lambda.norpc -o %s %s", arch, bootstrap, pkg),
		fmt.Sprintf("chmod +x %s", bootstrap),
	}, " && ")
}
